package device

import "strings"

// State is the externally visible connection state of a device record.
type State string

// Connection states.
const (
	// StateConnected means an open session exists for the device.
	StateConnected State = "connected"

	// StateNotConnected means the device is physically present (a live
	// primary binding exists) but no session is open.
	StateNotConnected State = "not_connected"

	// StateRemembered means the device is persisted but currently absent:
	// no binding has a live backend.
	StateRemembered State = "remembered"
)

// idleTaskPercentage is the sentinel for "no operation in flight".
const idleTaskPercentage = -1

// unsavedID is the database id sentinel for records not yet persisted.
// SQLite rowids start at 1, so 0 is never a valid persisted id.
const unsavedID int64 = 0

// binding associates one discovery backend with the native id it uses for
// this device. lister is nil when the backend that reported the id has
// been torn down; the binding is retained as history for persisted records.
type binding struct {
	lister   Lister
	nativeID string
}

// record is one logical physical device as known to the registry.
// All access is guarded by the owning Manager's mutex.
type record struct {
	key            string // immutable UUID, stable across structural changes
	databaseID     int64  // unsavedID until first persisted
	friendlyName   string
	capacityBytes  int64
	iconName       string
	bindings       []binding
	session        Session
	sessionLister  Lister // backend the session was built from
	taskPercentage int    // idleTaskPercentage when no operation in flight
}

// bestBinding returns the primary binding: the live backend with the
// highest priority, earliest binding winning ties. Falls back to the first
// binding when none are live. Returns nil only for an empty binding set.
func (r *record) bestBinding() *binding {
	best := -1
	var ret *binding

	for i := range r.bindings {
		b := &r.bindings[i]
		if b.lister != nil && b.lister.Priority() > best {
			best = b.lister.Priority()
			ret = b
		}
	}

	if ret == nil && len(r.bindings) > 0 {
		return &r.bindings[0]
	}
	return ret
}

// state derives the three-way connection state.
func (r *record) state() State {
	if r.session != nil {
		return StateConnected
	}
	if b := r.bestBinding(); b != nil && b.lister != nil {
		return StateNotConnected
	}
	return StateRemembered
}

// nativeIDs returns the native ids of all bindings in order.
func (r *record) nativeIDs() []string {
	ids := make([]string, len(r.bindings))
	for i, b := range r.bindings {
		ids[i] = b.nativeID
	}
	return ids
}

// snapshot flattens the record for persistence: native ids collapse into a
// comma-joined list, re-expanded on load as unreachable bindings.
func (r *record) snapshot() Snapshot {
	return Snapshot{
		ID:           r.databaseID,
		FriendlyName: r.friendlyName,
		Size:         r.capacityBytes,
		IconName:     r.iconName,
		UniqueID:     strings.Join(r.nativeIDs(), ","),
	}
}

// Info is a read-only view of one device record, safe to retain after the
// registry lock is released.
type Info struct {
	Key                string   `json:"key"`
	Row                int      `json:"row"`
	DatabaseID         int64    `json:"database_id,omitempty"`
	FriendlyName       string   `json:"friendly_name"`
	DisplayText        string   `json:"display_text"`
	IconName           string   `json:"icon_name"`
	CapacityBytes      int64    `json:"capacity_bytes"`
	FreeBytes          int64    `json:"free_bytes"`
	State              State    `json:"state"`
	NativeIDs          []string `json:"native_ids"`
	MountPath          string   `json:"mount_path,omitempty"`
	UpdatingPercentage *int     `json:"updating_percentage,omitempty"`
}
