package device

import "sync"

// Task is one long-running operation reported by a task source.
// ProgressMax of zero means the total is not yet known.
type Task struct {
	ID          int
	Progress    int64
	ProgressMax int64
}

// TaskSource exposes a snapshot of the operations currently in flight.
type TaskSource interface {
	Tasks() []Task
}

// assoc ties a task id to the device and session it belongs to. The
// session pointer pins the association to one connection lifetime.
type assoc struct {
	key     string
	session Session
}

// Overlay projects task progress from a TaskSource onto registry records.
//
// Sessions announce the tasks they start through their TaskStarted event;
// the overlay remembers the association and, on every Refresh, recomputes
// each device's percentage from the source's current task list. A task
// that has disappeared from the source clears its device back to idle.
//
// Associations are checked against the record's current session on every
// update, so progress from a previous connection never bleeds into a new
// one.
type Overlay struct {
	mgr    *Manager
	source TaskSource

	mu     sync.Mutex
	active map[int]assoc
}

// NewOverlay attaches a progress overlay to the registry. Only one overlay
// may be attached to a Manager at a time.
func NewOverlay(mgr *Manager, source TaskSource) *Overlay {
	o := &Overlay{
		mgr:    mgr,
		source: source,
		active: make(map[int]assoc),
	}
	mgr.setTaskObserver(o.taskStarted)
	return o
}

// taskStarted records that the session on the record identified by key has
// begun the task. Runs from session callbacks.
func (o *Overlay) taskStarted(key string, s Session, taskID int) {
	o.mu.Lock()
	o.active[taskID] = assoc{key: key, session: s}
	o.mu.Unlock()

	o.Refresh()
}

// Refresh recomputes progress for every associated device from the task
// source's current snapshot. Call it whenever the source's task list
// changes.
func (o *Overlay) Refresh() {
	tasks := o.source.Tasks()

	byID := make(map[int]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for id, a := range o.active {
		t, running := byID[id]

		if !running {
			// Task finished or was cancelled: clear the device to idle.
			o.mgr.applyTaskProgress(a.key, a.session, idleTaskPercentage)
			delete(o.active, id)
			continue
		}

		pct := 0
		if t.ProgressMax > 0 {
			pct = int(t.Progress * 100 / t.ProgressMax)
		}
		if !o.mgr.applyTaskProgress(a.key, a.session, pct) {
			// The record is gone or reconnected; the association is stale.
			delete(o.active, id)
		}
	}
}
