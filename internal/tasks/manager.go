package tasks

import "sync"

// Task is a snapshot of one tracked operation. ProgressMax of zero means
// the total amount of work is not yet known.
type Task struct {
	ID          int
	Name        string
	Progress    int64
	ProgressMax int64
}

// Manager tracks in-flight tasks and notifies subscribers on every change.
// All methods are safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	nextID int
	tasks  map[int]Task
	subs   []func()
}

// NewManager creates an empty task manager.
func NewManager() *Manager {
	return &Manager{tasks: make(map[int]Task)}
}

// OnChange registers a callback invoked after every task mutation. The
// callback runs outside the manager's lock and may call back in.
func (m *Manager) OnChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// StartTask registers a new task and returns its id.
func (m *Manager) StartTask(name string) int {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.tasks[id] = Task{ID: id, Name: name}
	m.mu.Unlock()

	m.notify()
	return id
}

// SetProgress updates a task's progress counter. Unknown ids are ignored;
// the task may have been finished concurrently.
func (m *Manager) SetProgress(id int, progress, progressMax int64) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if ok {
		t.Progress = progress
		if progressMax > 0 {
			t.ProgressMax = progressMax
		}
		m.tasks[id] = t
	}
	m.mu.Unlock()

	if ok {
		m.notify()
	}
}

// IncreaseProgress adds delta to a task's progress counter.
func (m *Manager) IncreaseProgress(id int, delta int64) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if ok {
		t.Progress += delta
		m.tasks[id] = t
	}
	m.mu.Unlock()

	if ok {
		m.notify()
	}
}

// Finish removes a task from the registry. Finishing an unknown id is a
// no-op.
func (m *Manager) Finish(id int) {
	m.mu.Lock()
	_, ok := m.tasks[id]
	delete(m.tasks, id)
	m.mu.Unlock()

	if ok {
		m.notify()
	}
}

// Tasks returns a snapshot of all in-flight tasks in id order.
func (m *Manager) Tasks() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Task, 0, len(m.tasks))
	for id := 1; id <= m.nextID; id++ {
		if t, ok := m.tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// notify invokes every subscriber. Callers must not hold m.mu.
func (m *Manager) notify() {
	m.mu.Lock()
	subs := append(([]func())(nil), m.subs...)
	m.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}
