package device

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the device package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager is the device registry: an insertion-ordered collection of
// device records fed by discovery listers, persisted through a Repository,
// and connected on demand through a Factory.
//
// All public methods are thread-safe. Mutation is serialised by a single
// mutex so concurrent lister events never interleave on the same record;
// change notifications are emitted inside the critical section.
type Manager struct {
	mu      sync.Mutex
	repo    Repository
	factory *Factory

	devices []*record
	listers []Lister

	subs         []func(Change)
	onError      func(error)
	taskObserver func(key string, s Session, taskID int)

	iconLookup IconLookup
	logger     Logger
}

// NewManager creates a device registry backed by the given repository and
// connection factory.
func NewManager(repo Repository, factory *Factory) *Manager {
	return &Manager{
		repo:       repo,
		factory:    factory,
		iconLookup: acceptAllIcons,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (m *Manager) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// SetIconLookup sets the icon-name lookup used when resolving backend
// icon hints. The default accepts every hint.
func (m *Manager) SetIconLookup(lookup IconLookup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.iconLookup = lookup
}

// SetOnError registers a callback for user-visible failures (connect
// errors, storage errors, late session teardown errors). The registry
// remains usable after any of them. The callback may run from registry
// goroutines and must not call back into the Manager.
func (m *Manager) SetOnError(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = fn
}

// setTaskObserver wires the progress overlay. Internal to the package.
func (m *Manager) setTaskObserver(fn func(key string, s Session, taskID int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taskObserver = fn
}

// reportError delivers a failure to the error callback, if set.
func (m *Manager) reportError(err error) {
	m.mu.Lock()
	fn := m.onError
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// reportErrorLocked is reportError for call sites already holding m.mu.
func (m *Manager) reportErrorLocked(err error) {
	if m.onError != nil {
		m.onError(err)
	}
}

// Load populates the registry with persisted devices. It should be called
// once at startup, before any listers are added. Loaded records start with
// every binding unreachable (state Remembered) until a lister re-reports
// their native ids.
func (m *Manager) Load(ctx context.Context) error {
	snaps, err := m.repo.GetAllDevices(ctx)
	if err != nil {
		return fmt.Errorf("loading persisted devices: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, snap := range snaps {
		rec := m.recordFromSnapshot(snap)
		m.devices = append(m.devices, rec)
		m.emitLocked(Change{Kind: ChangeInserted, Row: len(m.devices) - 1, Key: rec.key})
	}

	m.logger.Info("persisted devices loaded", "count", len(snaps))
	return nil
}

// recordFromSnapshot re-expands a flattened snapshot: one unreachable
// binding per stored native id.
func (m *Manager) recordFromSnapshot(snap Snapshot) *record {
	rec := &record{
		key:            uuid.NewString(),
		databaseID:     snap.ID,
		friendlyName:   snap.FriendlyName,
		capacityBytes:  snap.Size,
		iconName:       resolveIconName(m.iconLookup, splitList(snap.IconName), snap.FriendlyName),
		taskPercentage: idleTaskPercentage,
	}
	for _, id := range splitList(snap.UniqueID) {
		rec.bindings = append(rec.bindings, binding{nativeID: id})
	}
	return rec
}

// AddLister registers a discovery backend and starts routing its events
// into the registry. Registration order breaks primary-binding priority
// ties. Events are consumed until ctx is cancelled.
func (m *Manager) AddLister(ctx context.Context, l Lister) error {
	events, err := l.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting lister: %w", err)
	}

	m.mu.Lock()
	m.listers = append(m.listers, l)
	m.mu.Unlock()

	go m.consumeEvents(l, events)
	return nil
}

// consumeEvents funnels one lister's event stream into the registry.
func (m *Manager) consumeEvents(l Lister, events <-chan Event) {
	for ev := range events {
		switch ev.Type {
		case EventAdded:
			m.deviceAdded(l, ev.NativeID)
		case EventRemoved:
			m.deviceRemoved(l, ev.NativeID)
		case EventChanged:
			m.deviceChanged(l, ev.NativeID)
		}
	}
}

// deviceAdded handles a lister's "device added" event.
//
// Identity resolution, in order:
//  1. A record already holding this native id (any lister) is the same
//     device: re-attach the binding's lister.
//  2. A record whose live bindings resolve to a URL intersecting this
//     device's URLs is the same physical device: append a new binding.
//  3. Otherwise a brand-new record is appended at the tail.
func (m *Manager) deviceAdded(l Lister, nativeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Debug("device added", "native_id", nativeID)

	if i := m.findByNativeIDLocked(nativeID); i != -1 {
		rec := m.devices[i]
		for bi := range rec.bindings {
			if rec.bindings[bi].nativeID == nativeID {
				rec.bindings[bi].lister = l
				break
			}
		}
		m.emitLocked(Change{Kind: ChangeUpdated, Row: i, Key: rec.key})
		return
	}

	if i := m.findByURLsLocked(l.MakeDeviceURLs(nativeID)); i != -1 {
		rec := m.devices[i]
		rec.bindings = append(rec.bindings, binding{lister: l, nativeID: nativeID})

		// If the user hasn't saved the device yet then the new primary
		// backend overrides the provisional name, size and icon.
		if rec.databaseID == unsavedID {
			if b := rec.bestBinding(); b != nil && b.lister == l {
				rec.friendlyName = l.MakeFriendlyName(nativeID)
				rec.capacityBytes = l.DeviceCapacity(nativeID)
				rec.iconName = resolveIconName(m.iconLookup, l.DeviceIcons(nativeID), rec.friendlyName)
			}
		}

		m.emitLocked(Change{Kind: ChangeUpdated, Row: i, Key: rec.key})
		return
	}

	name := l.MakeFriendlyName(nativeID)
	rec := &record{
		key:            uuid.NewString(),
		databaseID:     unsavedID,
		friendlyName:   name,
		capacityBytes:  l.DeviceCapacity(nativeID),
		iconName:       resolveIconName(m.iconLookup, l.DeviceIcons(nativeID), name),
		bindings:       []binding{{lister: l, nativeID: nativeID}},
		taskPercentage: idleTaskPercentage,
	}
	m.devices = append(m.devices, rec)
	m.emitLocked(Change{Kind: ChangeInserted, Row: len(m.devices) - 1, Key: rec.key})
}

// deviceRemoved handles a lister's "device removed" event.
//
// Persisted records keep their binding as unreachable history; unpersisted
// records drop the binding and disappear entirely once no bindings remain.
func (m *Manager) deviceRemoved(l Lister, nativeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Debug("device removed", "native_id", nativeID)

	i := m.findByNativeIDLocked(nativeID)
	if i == -1 {
		// Benign race: the record may already be gone.
		m.logger.Debug("remove event for unknown device", "native_id", nativeID)
		return
	}

	rec := m.devices[i]

	if rec.databaseID != unsavedID {
		// Keep the structure around, but mark the binding unreachable.
		for bi := range rec.bindings {
			if rec.bindings[bi].nativeID == nativeID {
				rec.bindings[bi].lister = nil
				break
			}
		}

		if rec.session != nil && m.sessionListerLocked(rec) == l {
			m.teardownSessionLocked(rec)
		}

		m.emitLocked(Change{Kind: ChangeUpdated, Row: i, Key: rec.key})
		if rec.session == nil {
			m.emitLocked(Change{Kind: ChangeDisconnected, Row: i, Key: rec.key})
		}
		return
	}

	for bi := range rec.bindings {
		if rec.bindings[bi].nativeID == nativeID {
			rec.bindings = append(rec.bindings[:bi], rec.bindings[bi+1:]...)
			break
		}
	}

	if len(rec.bindings) == 0 {
		m.removeRecordLocked(i)
	}
}

// deviceChanged is reserved for future metadata refresh. It is a logged
// no-op today.
func (m *Manager) deviceChanged(_ Lister, nativeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findByNativeIDLocked(nativeID) == -1 {
		m.logger.Debug("change event for unknown device", "native_id", nativeID)
	}
}

// sessionListerLocked returns the lister the current session was built
// from. The session is always produced from the primary binding at the
// moment of connection, tracked in sessionLister.
func (m *Manager) sessionListerLocked(rec *record) Lister {
	return rec.sessionLister
}

// teardownSessionLocked clears the record's session immediately and closes
// the underlying handle in the background; late errors surface through the
// error callback.
func (m *Manager) teardownSessionLocked(rec *record) {
	s := rec.session
	rec.session = nil
	rec.sessionLister = nil
	rec.taskPercentage = idleTaskPercentage
	if s == nil {
		return
	}
	go func() {
		if err := s.Close(); err != nil {
			m.reportError(fmt.Errorf("closing session: %w", err))
		}
	}()
}

// removeRecordLocked removes the record at row i and notifies observers so
// they can renumber outstanding row references.
func (m *Manager) removeRecordLocked(i int) {
	rec := m.devices[i]
	m.devices = append(m.devices[:i], m.devices[i+1:]...)
	m.emitLocked(Change{Kind: ChangeRemoved, Row: i, Key: rec.key})
}

// Len returns the number of device rows.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.devices)
}

// Info returns a read-only view of the record at row.
func (m *Manager) Info(row int) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if row < 0 || row >= len(m.devices) {
		return Info{}, fmt.Errorf("%w: row %d", ErrNotFound, row)
	}
	return m.infoLocked(row), nil
}

// List returns read-only views of every record in registry order.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]Info, len(m.devices))
	for i := range m.devices {
		infos[i] = m.infoLocked(i)
	}
	return infos
}

// infoLocked assembles the Info for row i. Free space is queried live from
// the primary binding's backend, never cached. Caller holds m.mu.
func (m *Manager) infoLocked(i int) Info {
	rec := m.devices[i]

	info := Info{
		Key:           rec.key,
		Row:           i,
		DatabaseID:    rec.databaseID,
		FriendlyName:  rec.friendlyName,
		IconName:      rec.iconName,
		CapacityBytes: rec.capacityBytes,
		State:         rec.state(),
		NativeIDs:     rec.nativeIDs(),
	}

	b := rec.bestBinding()

	text := rec.friendlyName
	if text == "" && b != nil {
		text = b.nativeID
	}
	if rec.capacityBytes > 0 {
		text = fmt.Sprintf("%s (%s)", text, prettySize(rec.capacityBytes))
	}
	info.DisplayText = text

	if b != nil && b.lister != nil {
		info.FreeBytes = b.lister.DeviceFreeSpace(b.nativeID)
	}

	if rec.session != nil {
		if u := rec.session.URL(); u != nil {
			info.MountPath = u.Path
		}
	}

	if rec.taskPercentage != idleTaskPercentage {
		pct := rec.taskPercentage
		info.UpdatingPercentage = &pct
	}

	return info
}

// FindByNativeID returns the row owning a binding with the given native id,
// or -1 when no record knows it.
func (m *Manager) FindByNativeID(nativeID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findByNativeIDLocked(nativeID)
}

func (m *Manager) findByNativeIDLocked(nativeID string) int {
	for i, rec := range m.devices {
		for _, b := range rec.bindings {
			if b.nativeID == nativeID {
				return i
			}
		}
	}
	return -1
}

// FindByURLs returns the row of the first record whose live bindings
// resolve to a URL contained in urls, or -1.
func (m *Manager) FindByURLs(urls []*url.URL) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findByURLsLocked(urls)
}

func (m *Manager) findByURLsLocked(urls []*url.URL) int {
	if len(urls) == 0 {
		return -1
	}

	want := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		want[u.String()] = struct{}{}
	}

	for i, rec := range m.devices {
		for _, b := range rec.bindings {
			if b.lister == nil {
				continue
			}
			for _, u := range b.lister.MakeDeviceURLs(b.nativeID) {
				if _, ok := want[u.String()]; ok {
					return i
				}
			}
		}
	}
	return -1
}

// RowForKey translates a stable device key to its current row, or -1.
func (m *Manager) RowForKey(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rowForKeyLocked(key)
}

func (m *Manager) rowForKeyLocked(key string) int {
	for i, rec := range m.devices {
		if rec.key == key {
			return i
		}
	}
	return -1
}

// Connect establishes a live session for the record at row.
//
// Connecting an already-connected record returns the existing session.
// The first successful connection persists the record. Construction runs
// under the registry lock, so a concurrent connect on the same row
// coalesces onto the completed attempt rather than launching a duplicate.
func (m *Manager) Connect(ctx context.Context, row int) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if row < 0 || row >= len(m.devices) {
		return nil, fmt.Errorf("%w: row %d", ErrNotFound, row)
	}
	rec := m.devices[row]

	if rec.session != nil {
		return rec.session, nil
	}

	b := rec.bestBinding()
	if b == nil || b.lister == nil {
		err := fmt.Errorf("%w: %s", ErrNotPresent, rec.friendlyName)
		m.reportErrorLocked(err)
		return nil, err
	}

	firstTime := rec.databaseID == unsavedID
	if firstTime {
		// First connection always promotes the device to persisted status.
		id, err := m.repo.AddDevice(ctx, rec.snapshot())
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrStorage, err)
			m.reportErrorLocked(err)
			return nil, err
		}
		rec.databaseID = id
	}

	urls := b.lister.MakeDeviceURLs(b.nativeID)
	var deviceURL *url.URL
	var ctor Constructor
	for _, u := range urls {
		if c, ok := m.factory.Lookup(u.Scheme); ok {
			deviceURL = u
			ctor = c
			break
		}
	}

	if deviceURL == nil {
		strs := make([]string, len(urls))
		for i, u := range urls {
			strs[i] = u.String()
		}
		err := &UnsupportedDeviceError{URLs: strs}
		m.reportErrorLocked(err)
		return nil, err
	}

	m.logger.Debug("connecting device", "url", deviceURL.String())

	key := rec.key
	session, err := ctor(ConnectOptions{
		URL:        deviceURL,
		Lister:     b.lister,
		NativeID:   b.nativeID,
		DatabaseID: rec.databaseID,
		FirstTime:  firstTime,
		Events: SessionEvents{
			TaskStarted: func(taskID int) { m.sessionTaskStarted(key, taskID) },
			Error:       func(msg string) { m.reportError(fmt.Errorf("device %q: %s", key, msg)) },
		},
	})
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrConnectionFailed, deviceURL.String(), err)
		m.reportErrorLocked(err)
		return nil, err
	}

	rec.session = session
	rec.sessionLister = b.lister
	m.emitLocked(Change{Kind: ChangeUpdated, Row: row, Key: rec.key})
	m.emitLocked(Change{Kind: ChangeConnected, Row: row, Key: rec.key})

	return session, nil
}

// sessionTaskStarted routes a session's task-started signal to the
// progress overlay, if one is attached.
func (m *Manager) sessionTaskStarted(key string, taskID int) {
	m.mu.Lock()
	observer := m.taskObserver
	var s Session
	if i := m.rowForKeyLocked(key); i != -1 {
		s = m.devices[i].session
	}
	m.mu.Unlock()

	if observer != nil && s != nil {
		observer(key, s, taskID)
	}
}

// applyTaskProgress sets (or clears, with idleTaskPercentage) the task
// percentage of the record identified by key, provided its session is
// still the one the task was associated with. Returns false when the
// association has gone stale.
func (m *Manager) applyTaskProgress(key string, s Session, pct int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.rowForKeyLocked(key)
	if i == -1 {
		return false
	}
	rec := m.devices[i]
	if rec.session == nil || rec.session != s {
		return false
	}

	rec.taskPercentage = pct
	m.emitLocked(Change{Kind: ChangeUpdated, Row: i, Key: rec.key})
	return true
}

// Disconnect tears down the session at row. Disconnecting a row without a
// session is a no-op.
func (m *Manager) Disconnect(row int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if row < 0 || row >= len(m.devices) {
		return fmt.Errorf("%w: row %d", ErrNotFound, row)
	}
	m.disconnectLocked(row)
	return nil
}

func (m *Manager) disconnectLocked(row int) {
	rec := m.devices[row]
	if rec.session == nil {
		return
	}

	m.teardownSessionLocked(rec)
	m.emitLocked(Change{Kind: ChangeDisconnected, Row: row, Key: rec.key})
	m.emitLocked(Change{Kind: ChangeUpdated, Row: row, Key: rec.key})
}

// Forget deletes the persisted record at row and clears its database id.
// A physically absent device is removed from the registry entirely; a
// still-present device reverts to the backend-supplied name and icon,
// since customisation without persistence has no meaning. Forgetting an
// unpersisted record is a no-op.
func (m *Manager) Forget(ctx context.Context, row int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if row < 0 || row >= len(m.devices) {
		return fmt.Errorf("%w: row %d", ErrNotFound, row)
	}
	rec := m.devices[row]

	if rec.databaseID == unsavedID {
		return nil
	}

	m.disconnectLocked(row)

	if err := m.repo.RemoveDevice(ctx, rec.databaseID); err != nil {
		// Storage failure does not block the in-memory state change.
		m.reportErrorLocked(fmt.Errorf("%w: %w", ErrStorage, err))
	}
	rec.databaseID = unsavedID

	b := rec.bestBinding()
	if b == nil || b.lister == nil {
		m.removeRecordLocked(row)
		return nil
	}

	rec.friendlyName = b.lister.MakeFriendlyName(b.nativeID)
	rec.iconName = resolveIconName(m.iconLookup, b.lister.DeviceIcons(b.nativeID), rec.friendlyName)
	m.emitLocked(Change{Kind: ChangeUpdated, Row: row, Key: rec.key})
	return nil
}

// SetIdentity overwrites the friendly name and icon hint of the record at
// row. The change is visible immediately; persisted records also push it
// to storage synchronously.
func (m *Manager) SetIdentity(ctx context.Context, row int, name, iconHint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if row < 0 || row >= len(m.devices) {
		return fmt.Errorf("%w: row %d", ErrNotFound, row)
	}
	rec := m.devices[row]

	rec.friendlyName = name
	rec.iconName = resolveIconName(m.iconLookup, []string{iconHint}, name)
	m.emitLocked(Change{Kind: ChangeUpdated, Row: row, Key: rec.key})

	if rec.databaseID != unsavedID {
		if err := m.repo.SetIdentity(ctx, rec.databaseID, name, iconHint); err != nil {
			err = fmt.Errorf("%w: %w", ErrStorage, err)
			m.reportErrorLocked(err)
			return err
		}
	}
	return nil
}

// Unmount disconnects the record at row if connected, then delegates the
// physical unmount to the primary binding's backend. Unmounting an absent
// device is a silent no-op.
func (m *Manager) Unmount(row int) error {
	m.mu.Lock()

	if row < 0 || row >= len(m.devices) {
		m.mu.Unlock()
		return fmt.Errorf("%w: row %d", ErrNotFound, row)
	}
	rec := m.devices[row]

	m.disconnectLocked(row)

	b := rec.bestBinding()
	var l Lister
	var nativeID string
	if b != nil && b.lister != nil {
		l = b.lister
		nativeID = b.nativeID
	}
	m.mu.Unlock()

	if l == nil {
		return nil
	}

	// The backend may block on the platform; treat the request as
	// fire-and-forget and surface late failures via the error callback.
	go func() {
		if err := l.UnmountDevice(nativeID); err != nil {
			m.reportError(fmt.Errorf("unmounting %q: %w", nativeID, err))
		}
	}()
	return nil
}

// FreeSpace returns the live free-space reading from the primary binding's
// backend. The second result is false for absent devices.
func (m *Manager) FreeSpace(row int) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if row < 0 || row >= len(m.devices) {
		return 0, false
	}
	b := m.devices[row].bestBinding()
	if b == nil || b.lister == nil {
		return 0, false
	}
	return b.lister.DeviceFreeSpace(b.nativeID), true
}

// splitList splits a comma-joined persistence list, dropping empties.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
