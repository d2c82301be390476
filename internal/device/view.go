package device

// ChangeKind identifies the kind of structural or data change the registry
// reports to observers.
type ChangeKind string

// Change kinds.
const (
	// ChangeInserted reports a new record appended at Row.
	ChangeInserted ChangeKind = "inserted"

	// ChangeRemoved reports the record at Row was removed. Observers must
	// invalidate references to Row and shift references above it down by one.
	ChangeRemoved ChangeKind = "removed"

	// ChangeUpdated reports data at Row changed (name, icon, progress,
	// binding reachability).
	ChangeUpdated ChangeKind = "updated"

	// ChangeConnected reports a session was opened for the record at Row.
	ChangeConnected ChangeKind = "connected"

	// ChangeDisconnected reports the record at Row no longer has a session.
	ChangeDisconnected ChangeKind = "disconnected"
)

// Change is a single registry notification. Row is valid at the moment the
// observer runs; for ChangeRemoved it is the index the record occupied.
type Change struct {
	Kind ChangeKind `json:"kind"`
	Row  int        `json:"row"`
	Key  string     `json:"key"`
}

// SubscribeChanges registers an observer for registry change notifications.
//
// Observers run synchronously inside the registry's critical section, in
// registration order, so the row index they see is never stale. They must
// return quickly and must not call back into the Manager.
func (m *Manager) SubscribeChanges(fn func(Change)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// emitLocked delivers a change to all observers. Caller holds m.mu.
func (m *Manager) emitLocked(c Change) {
	for _, fn := range m.subs {
		fn(c)
	}
}

// ConnectedView is a read-only projection of the registry filtered to
// devices with an open session. It recomputes lazily from the full
// collection on every read, so it reflects every structural or data change
// without bookkeeping of its own.
type ConnectedView struct {
	mgr *Manager
}

// ConnectedView returns the connected-only projection of this registry.
func (m *Manager) ConnectedView() *ConnectedView {
	return &ConnectedView{mgr: m}
}

// List returns the connected devices in registry order.
func (v *ConnectedView) List() []Info {
	v.mgr.mu.Lock()
	defer v.mgr.mu.Unlock()

	var infos []Info
	for i, rec := range v.mgr.devices {
		if rec.state() != StateConnected {
			continue
		}
		infos = append(infos, v.mgr.infoLocked(i))
	}
	return infos
}

// Len returns the number of connected devices.
func (v *ConnectedView) Len() int {
	v.mgr.mu.Lock()
	defer v.mgr.mu.Unlock()

	n := 0
	for _, rec := range v.mgr.devices {
		if rec.state() == StateConnected {
			n++
		}
	}
	return n
}
