package device

import (
	"context"
	"sync"
	"testing"
)

// fakeTaskSource is a mutable in-memory TaskSource.
type fakeTaskSource struct {
	mu    sync.Mutex
	tasks []Task
}

func (s *fakeTaskSource) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Task(nil), s.tasks...)
}

func (s *fakeTaskSource) set(tasks ...Task) {
	s.mu.Lock()
	s.tasks = tasks
	s.mu.Unlock()
}

// connectWithEvents connects row 0 and returns the SessionEvents the
// constructor received, so tests can fire session callbacks.
func connectWithEvents(t *testing.T, mgr *Manager, factory *Factory) SessionEvents {
	t.Helper()

	var events SessionEvents
	factory.Register("file", func(opts ConnectOptions) (Session, error) {
		events = opts.Events
		return &fakeSession{url: opts.URL}, nil
	})

	if _, err := mgr.Connect(context.Background(), 0); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return events
}

func percentage(t *testing.T, mgr *Manager, row int) *int {
	t.Helper()
	info, err := mgr.Info(row)
	if err != nil {
		t.Fatalf("Info(%d) failed: %v", row, err)
	}
	return info.UpdatingPercentage
}

func TestOverlayProgressLifecycle(t *testing.T) {
	repo := newMockRepository()
	factory := NewFactory()
	mgr := NewManager(repo, factory)
	source := &fakeTaskSource{}
	overlay := NewOverlay(mgr, source)

	mgr.deviceAdded(usbLister(1), "usb-1")
	events := connectWithEvents(t, mgr, factory)

	source.set(Task{ID: 7, Progress: 0, ProgressMax: 10})
	events.TaskStarted(7)

	if pct := percentage(t, mgr, 0); pct == nil || *pct != 0 {
		t.Fatalf("percentage = %v, want 0 at task start", pct)
	}

	source.set(Task{ID: 7, Progress: 5, ProgressMax: 10})
	overlay.Refresh()
	if pct := percentage(t, mgr, 0); pct == nil || *pct != 50 {
		t.Fatalf("percentage = %v, want 50 at halfway", pct)
	}

	source.set(Task{ID: 7, Progress: 10, ProgressMax: 10})
	overlay.Refresh()
	if pct := percentage(t, mgr, 0); pct == nil || *pct != 100 {
		t.Fatalf("percentage = %v, want 100 at completion", pct)
	}

	// Task gone from the source: device returns to idle.
	source.set()
	overlay.Refresh()
	if pct := percentage(t, mgr, 0); pct != nil {
		t.Fatalf("percentage = %v after task finished, want idle", *pct)
	}
}

func TestOverlayUnknownTotalReportsZero(t *testing.T) {
	repo := newMockRepository()
	factory := NewFactory()
	mgr := NewManager(repo, factory)
	source := &fakeTaskSource{}
	NewOverlay(mgr, source)

	mgr.deviceAdded(usbLister(1), "usb-1")
	events := connectWithEvents(t, mgr, factory)

	source.set(Task{ID: 3, Progress: 42, ProgressMax: 0})
	events.TaskStarted(3)

	if pct := percentage(t, mgr, 0); pct == nil || *pct != 0 {
		t.Fatalf("percentage = %v, want 0 while total unknown", pct)
	}
}

func TestOverlayDropsStaleAssociationAfterReconnect(t *testing.T) {
	repo := newMockRepository()
	factory := NewFactory()
	mgr := NewManager(repo, factory)
	source := &fakeTaskSource{}
	overlay := NewOverlay(mgr, source)

	mgr.deviceAdded(usbLister(1), "usb-1")
	events := connectWithEvents(t, mgr, factory)

	source.set(Task{ID: 9, Progress: 2, ProgressMax: 10})
	events.TaskStarted(9)

	if pct := percentage(t, mgr, 0); pct == nil || *pct != 20 {
		t.Fatalf("percentage = %v, want 20", pct)
	}

	// Disconnect and reconnect: the old association points at the dead
	// session and must not bleed into the new one.
	if err := mgr.Disconnect(0); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if _, err := mgr.Connect(context.Background(), 0); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}

	source.set(Task{ID: 9, Progress: 8, ProgressMax: 10})
	overlay.Refresh()

	if pct := percentage(t, mgr, 0); pct != nil {
		t.Fatalf("percentage = %v after reconnect, stale task must not apply", *pct)
	}
}

func TestOverlayMultipleDevices(t *testing.T) {
	repo := newMockRepository()
	factory := NewFactory()
	mgr := NewManager(repo, factory)
	source := &fakeTaskSource{}
	overlay := NewOverlay(mgr, source)

	var captured []SessionEvents
	factory.Register("file", func(opts ConnectOptions) (Session, error) {
		captured = append(captured, opts.Events)
		return &fakeSession{url: opts.URL}, nil
	})

	a := usbLister(1)
	b := &fakeLister{
		priority: 1,
		urls:     map[string][]string{"usb-2": {"file:///media/other"}},
	}
	mgr.deviceAdded(a, "usb-1")
	mgr.deviceAdded(b, "usb-2")

	ctx := context.Background()
	if _, err := mgr.Connect(ctx, 0); err != nil {
		t.Fatalf("Connect row 0 failed: %v", err)
	}
	if _, err := mgr.Connect(ctx, 1); err != nil {
		t.Fatalf("Connect row 1 failed: %v", err)
	}

	source.set(
		Task{ID: 1, Progress: 1, ProgressMax: 4},
		Task{ID: 2, Progress: 3, ProgressMax: 4},
	)
	captured[0].TaskStarted(1)
	captured[1].TaskStarted(2)
	overlay.Refresh()

	if pct := percentage(t, mgr, 0); pct == nil || *pct != 25 {
		t.Errorf("device 0 percentage = %v, want 25", pct)
	}
	if pct := percentage(t, mgr, 1); pct == nil || *pct != 75 {
		t.Errorf("device 1 percentage = %v, want 75", pct)
	}
}
