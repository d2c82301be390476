package device

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"
)

// fakeLister is a scriptable discovery backend for tests. Events are
// injected by calling the Manager's handlers directly, which keeps the
// tests synchronous; Start exists for the AddLister path only.
type fakeLister struct {
	priority int
	names    map[string]string
	caps     map[string]int64
	icons    map[string][]string
	urls     map[string][]string
	free     map[string]int64

	mu        sync.Mutex
	events    chan Event
	unmounted []string
}

func (l *fakeLister) Start(_ context.Context) (<-chan Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.events == nil {
		l.events = make(chan Event, 16)
	}
	return l.events, nil
}

func (l *fakeLister) Priority() int { return l.priority }

func (l *fakeLister) MakeFriendlyName(nativeID string) string {
	if name, ok := l.names[nativeID]; ok {
		return name
	}
	return nativeID
}

func (l *fakeLister) DeviceCapacity(nativeID string) int64 { return l.caps[nativeID] }

func (l *fakeLister) DeviceIcons(nativeID string) []string { return l.icons[nativeID] }

func (l *fakeLister) MakeDeviceURLs(nativeID string) []*url.URL {
	var urls []*url.URL
	for _, raw := range l.urls[nativeID] {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		urls = append(urls, u)
	}
	return urls
}

func (l *fakeLister) DeviceFreeSpace(nativeID string) int64 { return l.free[nativeID] }

func (l *fakeLister) UnmountDevice(nativeID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unmounted = append(l.unmounted, nativeID)
	return nil
}

func (l *fakeLister) unmountedIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.unmounted...)
}

// mockRepository is an in-memory Repository with injectable failures.
type mockRepository struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]Snapshot

	addErr    error
	removeErr error
	setErr    error
}

func newMockRepository() *mockRepository {
	return &mockRepository{rows: make(map[int64]Snapshot)}
}

func (r *mockRepository) GetAllDevices(_ context.Context) ([]Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var snaps []Snapshot
	for id := int64(1); id <= r.nextID; id++ {
		if s, ok := r.rows[id]; ok {
			snaps = append(snaps, s)
		}
	}
	return snaps, nil
}

func (r *mockRepository) AddDevice(_ context.Context, snap Snapshot) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addErr != nil {
		return 0, r.addErr
	}
	r.nextID++
	snap.ID = r.nextID
	r.rows[snap.ID] = snap
	return snap.ID, nil
}

func (r *mockRepository) RemoveDevice(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removeErr != nil {
		return r.removeErr
	}
	delete(r.rows, id)
	return nil
}

func (r *mockRepository) SetIdentity(_ context.Context, id int64, name, iconName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setErr != nil {
		return r.setErr
	}
	s, ok := r.rows[id]
	if !ok {
		return errors.New("no such device")
	}
	s.FriendlyName = name
	s.IconName = iconName
	r.rows[id] = s
	return nil
}

func (r *mockRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// fakeSession is a Session whose Close can fail on demand.
type fakeSession struct {
	url *url.URL

	mu       sync.Mutex
	closed   bool
	closeErr error
}

func (s *fakeSession) URL() *url.URL { return s.url }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeErr
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// changeRecorder captures registry notifications.
type changeRecorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *changeRecorder) record(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *changeRecorder) all() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

func (r *changeRecorder) kinds() []ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]ChangeKind, len(r.changes))
	for i, c := range r.changes {
		kinds[i] = c.Kind
	}
	return kinds
}

// waitFor polls cond until it returns true or the deadline expires.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// newTestManager builds a Manager with a file:// constructor registered.
func newTestManager(t *testing.T) (*Manager, *mockRepository, *Factory) {
	t.Helper()
	repo := newMockRepository()
	factory := NewFactory()
	factory.Register("file", func(opts ConnectOptions) (Session, error) {
		return &fakeSession{url: opts.URL}, nil
	})
	return NewManager(repo, factory), repo, factory
}

func usbLister(priority int) *fakeLister {
	return &fakeLister{
		priority: priority,
		names:    map[string]string{"usb-1": "SanDisk 8GB"},
		caps:     map[string]int64{"usb-1": 8_000_000_000},
		icons:    map[string][]string{"usb-1": {"drive-removable-media"}},
		urls:     map[string][]string{"usb-1": {"file:///media/sandisk"}},
		free:     map[string]int64{"usb-1": 4_200_000_000},
	}
}

func TestDeviceAddedCreatesRecord(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	rec := &changeRecorder{}
	mgr.SubscribeChanges(rec.record)

	l := usbLister(1)
	mgr.deviceAdded(l, "usb-1")

	if mgr.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", mgr.Len())
	}

	info, err := mgr.Info(0)
	if err != nil {
		t.Fatalf("Info(0) failed: %v", err)
	}
	if info.FriendlyName != "SanDisk 8GB" {
		t.Errorf("FriendlyName = %q, want %q", info.FriendlyName, "SanDisk 8GB")
	}
	if info.DisplayText != "SanDisk 8GB (8.0 GB)" {
		t.Errorf("DisplayText = %q, want %q", info.DisplayText, "SanDisk 8GB (8.0 GB)")
	}
	if info.State != StateNotConnected {
		t.Errorf("State = %q, want %q", info.State, StateNotConnected)
	}
	if info.FreeBytes != 4_200_000_000 {
		t.Errorf("FreeBytes = %d, want live lister reading", info.FreeBytes)
	}
	if info.DatabaseID != unsavedID {
		t.Errorf("DatabaseID = %d, want unsaved", info.DatabaseID)
	}
	if info.UpdatingPercentage != nil {
		t.Errorf("UpdatingPercentage = %v, want nil when idle", *info.UpdatingPercentage)
	}

	changes := rec.all()
	if len(changes) != 1 || changes[0].Kind != ChangeInserted || changes[0].Row != 0 {
		t.Errorf("changes = %+v, want single inserted at row 0", changes)
	}
}

func TestDeviceAddedSameNativeIDIsIdempotent(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	l := usbLister(1)
	mgr.deviceAdded(l, "usb-1")
	mgr.deviceAdded(l, "usb-1")

	if mgr.Len() != 1 {
		t.Fatalf("Len() = %d after duplicate add, want 1", mgr.Len())
	}
}

func TestDeviceAddedMergesByURL(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	low := usbLister(1)
	high := &fakeLister{
		priority: 5,
		names:    map[string]string{"disk-A": "SanDisk Cruzer"},
		caps:     map[string]int64{"disk-A": 8_100_000_000},
		icons:    map[string][]string{"disk-A": {"drive-harddisk-usb"}},
		urls:     map[string][]string{"disk-A": {"file:///media/sandisk"}},
	}

	mgr.deviceAdded(low, "usb-1")
	mgr.deviceAdded(high, "disk-A")

	if mgr.Len() != 1 {
		t.Fatalf("Len() = %d after URL merge, want 1", mgr.Len())
	}

	info, err := mgr.Info(0)
	if err != nil {
		t.Fatalf("Info(0) failed: %v", err)
	}
	if len(info.NativeIDs) != 2 {
		t.Fatalf("NativeIDs = %v, want both bindings", info.NativeIDs)
	}
	// Unpersisted record with a new higher-priority primary binding takes
	// the new backend's identity.
	if info.FriendlyName != "SanDisk Cruzer" {
		t.Errorf("FriendlyName = %q, want refreshed %q", info.FriendlyName, "SanDisk Cruzer")
	}
	if info.CapacityBytes != 8_100_000_000 {
		t.Errorf("CapacityBytes = %d, want refreshed capacity", info.CapacityBytes)
	}
}

func TestDeviceAddedDoesNotRefreshPersistedIdentity(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	low := usbLister(1)
	mgr.deviceAdded(low, "usb-1")

	if err := mgr.SetIdentity(ctx, 0, "Holiday Photos", ""); err != nil {
		t.Fatalf("SetIdentity failed: %v", err)
	}
	if _, err := mgr.Connect(ctx, 0); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	high := &fakeLister{
		priority: 5,
		names:    map[string]string{"disk-A": "SanDisk Cruzer"},
		urls:     map[string][]string{"disk-A": {"file:///media/sandisk"}},
	}
	mgr.deviceAdded(high, "disk-A")

	info, err := mgr.Info(0)
	if err != nil {
		t.Fatalf("Info(0) failed: %v", err)
	}
	if info.FriendlyName != "Holiday Photos" {
		t.Errorf("FriendlyName = %q, persisted identity must survive merge", info.FriendlyName)
	}
}

func TestConnectPersistsFirstTime(t *testing.T) {
	mgr, repo, _ := newTestManager(t)
	rec := &changeRecorder{}
	mgr.SubscribeChanges(rec.record)
	ctx := context.Background()

	mgr.deviceAdded(usbLister(1), "usb-1")

	s, err := mgr.Connect(ctx, 0)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if s == nil {
		t.Fatal("Connect returned nil session")
	}
	if repo.count() != 1 {
		t.Errorf("repository rows = %d, want device persisted on first connect", repo.count())
	}

	info, _ := mgr.Info(0)
	if info.State != StateConnected {
		t.Errorf("State = %q, want %q", info.State, StateConnected)
	}
	if info.MountPath != "/media/sandisk" {
		t.Errorf("MountPath = %q, want session URL path", info.MountPath)
	}

	again, err := mgr.Connect(ctx, 0)
	if err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	if again != s {
		t.Error("second Connect created a new session, want existing one returned")
	}
	if repo.count() != 1 {
		t.Errorf("repository rows = %d after reconnect, want no duplicate insert", repo.count())
	}

	kinds := rec.kinds()
	var connected int
	for _, k := range kinds {
		if k == ChangeConnected {
			connected++
		}
	}
	if connected != 1 {
		t.Errorf("connected notifications = %d, want exactly 1 (kinds %v)", connected, kinds)
	}
}

func TestConnectAbsentDevice(t *testing.T) {
	mgr, repo, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := repo.AddDevice(ctx, Snapshot{
		FriendlyName: "Old Stick", UniqueID: "usb-gone",
	}); err != nil {
		t.Fatalf("seeding repository: %v", err)
	}
	if err := mgr.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var reported error
	mgr.SetOnError(func(err error) { reported = err })

	s, err := mgr.Connect(ctx, 0)
	if !errors.Is(err, ErrNotPresent) {
		t.Fatalf("Connect error = %v, want ErrNotPresent", err)
	}
	if s != nil {
		t.Error("Connect returned a session for an absent device")
	}
	if !errors.Is(reported, ErrNotPresent) {
		t.Errorf("error callback got %v, want ErrNotPresent", reported)
	}
}

func TestConnectUnsupportedScheme(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	l := &fakeLister{
		priority: 1,
		urls:     map[string][]string{"mtp-1": {"mtp://usb-1-4/"}},
	}
	mgr.deviceAdded(l, "mtp-1")

	_, err := mgr.Connect(ctx, 0)
	var unsupported *UnsupportedDeviceError
	if !errors.As(err, &unsupported) {
		t.Fatalf("Connect error = %v, want UnsupportedDeviceError", err)
	}
	if len(unsupported.URLs) != 1 || unsupported.URLs[0] != "mtp://usb-1-4/" {
		t.Errorf("URLs = %v, want the rejected candidate list", unsupported.URLs)
	}

	info, _ := mgr.Info(0)
	if info.State != StateNotConnected {
		t.Errorf("State = %q after failed connect, want %q", info.State, StateNotConnected)
	}
}

func TestConnectConstructorFailure(t *testing.T) {
	repo := newMockRepository()
	factory := NewFactory()
	factory.Register("file", func(ConnectOptions) (Session, error) {
		return nil, fmt.Errorf("mount point vanished")
	})
	mgr := NewManager(repo, factory)
	ctx := context.Background()

	var reported error
	mgr.SetOnError(func(err error) { reported = err })

	mgr.deviceAdded(usbLister(1), "usb-1")

	_, err := mgr.Connect(ctx, 0)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect error = %v, want ErrConnectionFailed", err)
	}
	if !errors.Is(reported, ErrConnectionFailed) {
		t.Errorf("error callback got %v, want ErrConnectionFailed", reported)
	}

	// The device is persisted even though the connection failed; only the
	// session is missing.
	if repo.count() != 1 {
		t.Errorf("repository rows = %d, want first-connect persistence to stick", repo.count())
	}
	info, _ := mgr.Info(0)
	if info.State != StateNotConnected {
		t.Errorf("State = %q, want %q", info.State, StateNotConnected)
	}
}

func TestDisconnectClosesSession(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	rec := &changeRecorder{}
	mgr.SubscribeChanges(rec.record)
	ctx := context.Background()

	mgr.deviceAdded(usbLister(1), "usb-1")
	s, err := mgr.Connect(ctx, 0)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	fs := s.(*fakeSession)

	if err := mgr.Disconnect(0); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	info, _ := mgr.Info(0)
	if info.State != StateNotConnected {
		t.Errorf("State = %q after disconnect, want %q", info.State, StateNotConnected)
	}
	waitFor(t, fs.isClosed, "session close")

	var sawDisconnected bool
	for _, k := range rec.kinds() {
		if k == ChangeDisconnected {
			sawDisconnected = true
		}
	}
	if !sawDisconnected {
		t.Error("no disconnected notification emitted")
	}

	// Disconnecting again is a no-op.
	if err := mgr.Disconnect(0); err != nil {
		t.Errorf("second Disconnect failed: %v", err)
	}
}

func TestDisconnectReportsLateCloseError(t *testing.T) {
	repo := newMockRepository()
	factory := NewFactory()
	closeErr := errors.New("device busy")
	factory.Register("file", func(opts ConnectOptions) (Session, error) {
		return &fakeSession{url: opts.URL, closeErr: closeErr}, nil
	})
	mgr := NewManager(repo, factory)
	ctx := context.Background()

	var mu sync.Mutex
	var reported error
	mgr.SetOnError(func(err error) {
		mu.Lock()
		reported = err
		mu.Unlock()
	})

	mgr.deviceAdded(usbLister(1), "usb-1")
	if _, err := mgr.Connect(ctx, 0); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := mgr.Disconnect(0); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return errors.Is(reported, closeErr)
	}, "late close error delivery")
}

func TestDeviceRemovedUnpersistedDropsRecord(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	rec := &changeRecorder{}
	mgr.SubscribeChanges(rec.record)

	l := usbLister(1)
	other := &fakeLister{
		priority: 1,
		urls:     map[string][]string{"usb-2": {"file:///media/other"}},
	}
	mgr.deviceAdded(l, "usb-1")
	mgr.deviceAdded(other, "usb-2")

	mgr.deviceRemoved(l, "usb-1")

	if mgr.Len() != 1 {
		t.Fatalf("Len() = %d after removal, want 1", mgr.Len())
	}

	// The surviving record shifted down to row 0.
	info, err := mgr.Info(0)
	if err != nil {
		t.Fatalf("Info(0) failed: %v", err)
	}
	if info.NativeIDs[0] != "usb-2" {
		t.Errorf("row 0 = %v, want the surviving device", info.NativeIDs)
	}

	changes := rec.all()
	last := changes[len(changes)-1]
	if last.Kind != ChangeRemoved || last.Row != 0 {
		t.Errorf("last change = %+v, want removed at row 0", last)
	}
}

func TestDeviceRemovedPersistedKeepsRecord(t *testing.T) {
	mgr, repo, _ := newTestManager(t)
	ctx := context.Background()

	l := usbLister(1)
	mgr.deviceAdded(l, "usb-1")
	s, err := mgr.Connect(ctx, 0)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	fs := s.(*fakeSession)

	mgr.deviceRemoved(l, "usb-1")

	if mgr.Len() != 1 {
		t.Fatalf("Len() = %d, persisted device must survive removal", mgr.Len())
	}
	info, _ := mgr.Info(0)
	if info.State != StateRemembered {
		t.Errorf("State = %q, want %q", info.State, StateRemembered)
	}
	if info.FriendlyName != "SanDisk 8GB" {
		t.Errorf("FriendlyName = %q, identity must survive removal", info.FriendlyName)
	}
	waitFor(t, fs.isClosed, "session teardown on physical removal")

	if repo.count() != 1 {
		t.Errorf("repository rows = %d, persistence must survive removal", repo.count())
	}
}

func TestDeviceRemovedUnknownIDIsIgnored(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	mgr.deviceRemoved(usbLister(1), "never-seen")
	if mgr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", mgr.Len())
	}
}

func TestForget(t *testing.T) {
	t.Run("present device reverts to backend identity", func(t *testing.T) {
		mgr, repo, _ := newTestManager(t)
		ctx := context.Background()

		l := usbLister(1)
		mgr.deviceAdded(l, "usb-1")
		if _, err := mgr.Connect(ctx, 0); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		if err := mgr.SetIdentity(ctx, 0, "My Stick", "folder-music"); err != nil {
			t.Fatalf("SetIdentity failed: %v", err)
		}

		if err := mgr.Forget(ctx, 0); err != nil {
			t.Fatalf("Forget failed: %v", err)
		}

		if repo.count() != 0 {
			t.Errorf("repository rows = %d after forget, want 0", repo.count())
		}
		info, _ := mgr.Info(0)
		if info.DatabaseID != unsavedID {
			t.Errorf("DatabaseID = %d after forget, want unsaved", info.DatabaseID)
		}
		if info.FriendlyName != "SanDisk 8GB" {
			t.Errorf("FriendlyName = %q, want backend name restored", info.FriendlyName)
		}
	})

	t.Run("absent device is removed entirely", func(t *testing.T) {
		mgr, repo, _ := newTestManager(t)
		ctx := context.Background()

		if _, err := repo.AddDevice(ctx, Snapshot{FriendlyName: "Old Stick", UniqueID: "usb-gone"}); err != nil {
			t.Fatalf("seeding repository: %v", err)
		}
		if err := mgr.Load(ctx); err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		if err := mgr.Forget(ctx, 0); err != nil {
			t.Fatalf("Forget failed: %v", err)
		}
		if mgr.Len() != 0 {
			t.Errorf("Len() = %d after forgetting absent device, want 0", mgr.Len())
		}
		if repo.count() != 0 {
			t.Errorf("repository rows = %d, want 0", repo.count())
		}
	})

	t.Run("unpersisted device is a no-op", func(t *testing.T) {
		mgr, _, _ := newTestManager(t)
		mgr.deviceAdded(usbLister(1), "usb-1")

		if err := mgr.Forget(context.Background(), 0); err != nil {
			t.Fatalf("Forget failed: %v", err)
		}
		if mgr.Len() != 1 {
			t.Errorf("Len() = %d, forgetting an unpersisted device must not remove it", mgr.Len())
		}
	})

	t.Run("storage failure still clears in-memory state", func(t *testing.T) {
		mgr, repo, _ := newTestManager(t)
		ctx := context.Background()

		mgr.deviceAdded(usbLister(1), "usb-1")
		if _, err := mgr.Connect(ctx, 0); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}

		var reported error
		mgr.SetOnError(func(err error) { reported = err })
		repo.removeErr = errors.New("disk full")

		if err := mgr.Forget(ctx, 0); err != nil {
			t.Fatalf("Forget failed: %v", err)
		}
		info, _ := mgr.Info(0)
		if info.DatabaseID != unsavedID {
			t.Errorf("DatabaseID = %d, want cleared despite storage failure", info.DatabaseID)
		}
		if !errors.Is(reported, ErrStorage) {
			t.Errorf("error callback got %v, want ErrStorage", reported)
		}
	})
}

func TestSetIdentity(t *testing.T) {
	t.Run("unpersisted applies in memory only", func(t *testing.T) {
		mgr, repo, _ := newTestManager(t)
		mgr.deviceAdded(usbLister(1), "usb-1")

		if err := mgr.SetIdentity(context.Background(), 0, "Backup Drive", "drive-harddisk"); err != nil {
			t.Fatalf("SetIdentity failed: %v", err)
		}

		info, _ := mgr.Info(0)
		if info.FriendlyName != "Backup Drive" {
			t.Errorf("FriendlyName = %q, want %q", info.FriendlyName, "Backup Drive")
		}
		if repo.count() != 0 {
			t.Errorf("repository rows = %d, unpersisted identity must not be written", repo.count())
		}
	})

	t.Run("persisted writes through", func(t *testing.T) {
		mgr, repo, _ := newTestManager(t)
		ctx := context.Background()

		mgr.deviceAdded(usbLister(1), "usb-1")
		if _, err := mgr.Connect(ctx, 0); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		if err := mgr.SetIdentity(ctx, 0, "Backup Drive", ""); err != nil {
			t.Fatalf("SetIdentity failed: %v", err)
		}

		snaps, _ := repo.GetAllDevices(ctx)
		if len(snaps) != 1 || snaps[0].FriendlyName != "Backup Drive" {
			t.Errorf("persisted snapshots = %+v, want updated name", snaps)
		}
	})

	t.Run("storage failure keeps memory change and reports", func(t *testing.T) {
		mgr, repo, _ := newTestManager(t)
		ctx := context.Background()

		mgr.deviceAdded(usbLister(1), "usb-1")
		if _, err := mgr.Connect(ctx, 0); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}

		var reported error
		mgr.SetOnError(func(err error) { reported = err })
		repo.setErr = errors.New("database locked")

		err := mgr.SetIdentity(ctx, 0, "Backup Drive", "")
		if !errors.Is(err, ErrStorage) {
			t.Fatalf("SetIdentity error = %v, want ErrStorage", err)
		}
		if !errors.Is(reported, ErrStorage) {
			t.Errorf("error callback got %v, want ErrStorage", reported)
		}
		info, _ := mgr.Info(0)
		if info.FriendlyName != "Backup Drive" {
			t.Errorf("FriendlyName = %q, in-memory change must stick", info.FriendlyName)
		}
	})
}

func TestUnmount(t *testing.T) {
	t.Run("connected device disconnects then unmounts", func(t *testing.T) {
		mgr, _, _ := newTestManager(t)
		ctx := context.Background()

		l := usbLister(1)
		mgr.deviceAdded(l, "usb-1")
		s, err := mgr.Connect(ctx, 0)
		if err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		fs := s.(*fakeSession)

		if err := mgr.Unmount(0); err != nil {
			t.Fatalf("Unmount failed: %v", err)
		}
		waitFor(t, fs.isClosed, "session teardown before unmount")
		waitFor(t, func() bool { return len(l.unmountedIDs()) == 1 }, "unmount delegation")

		if got := l.unmountedIDs()[0]; got != "usb-1" {
			t.Errorf("unmounted %q, want usb-1", got)
		}
	})

	t.Run("unpersisted device unmounts too", func(t *testing.T) {
		mgr, _, _ := newTestManager(t)

		l := usbLister(1)
		mgr.deviceAdded(l, "usb-1")

		if err := mgr.Unmount(0); err != nil {
			t.Fatalf("Unmount failed: %v", err)
		}
		waitFor(t, func() bool { return len(l.unmountedIDs()) == 1 }, "unmount delegation")
	})

	t.Run("absent device is a silent no-op", func(t *testing.T) {
		mgr, repo, _ := newTestManager(t)
		ctx := context.Background()

		if _, err := repo.AddDevice(ctx, Snapshot{UniqueID: "usb-gone"}); err != nil {
			t.Fatalf("seeding repository: %v", err)
		}
		if err := mgr.Load(ctx); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if err := mgr.Unmount(0); err != nil {
			t.Errorf("Unmount of absent device failed: %v", err)
		}
	})
}

func TestLoadRestoresRememberedDevices(t *testing.T) {
	repo := newMockRepository()
	ctx := context.Background()

	if _, err := repo.AddDevice(ctx, Snapshot{
		FriendlyName: "Holiday Photos",
		Size:         8_000_000_000,
		IconName:     "drive-removable-media",
		UniqueID:     "usb-1,disk-A",
	}); err != nil {
		t.Fatalf("seeding repository: %v", err)
	}

	factory := NewFactory()
	factory.Register("file", func(opts ConnectOptions) (Session, error) {
		return &fakeSession{url: opts.URL}, nil
	})
	mgr := NewManager(repo, factory)
	if err := mgr.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if mgr.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", mgr.Len())
	}
	info, _ := mgr.Info(0)
	if info.State != StateRemembered {
		t.Errorf("State = %q, want %q", info.State, StateRemembered)
	}
	if len(info.NativeIDs) != 2 {
		t.Errorf("NativeIDs = %v, want both persisted ids re-expanded", info.NativeIDs)
	}

	// The device reappears under one of its known ids: same record, now
	// reachable and connectable again.
	l := usbLister(1)
	mgr.deviceAdded(l, "usb-1")

	if mgr.Len() != 1 {
		t.Fatalf("Len() = %d after reattach, want 1", mgr.Len())
	}
	info, _ = mgr.Info(0)
	if info.State != StateNotConnected {
		t.Errorf("State = %q after reattach, want %q", info.State, StateNotConnected)
	}
	if info.FriendlyName != "Holiday Photos" {
		t.Errorf("FriendlyName = %q, persisted identity must win over backend name", info.FriendlyName)
	}

	if _, err := mgr.Connect(ctx, 0); err != nil {
		t.Fatalf("Connect after reattach failed: %v", err)
	}
	if repo.count() != 1 {
		t.Errorf("repository rows = %d, reconnect must not duplicate", repo.count())
	}
}

func TestFullLifecycle(t *testing.T) {
	mgr, repo, _ := newTestManager(t)
	ctx := context.Background()

	l := usbLister(1)
	mgr.deviceAdded(l, "usb-1")

	s, err := mgr.Connect(ctx, 0)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	fs := s.(*fakeSession)

	if err := mgr.SetIdentity(ctx, 0, "Holiday Photos", ""); err != nil {
		t.Fatalf("SetIdentity failed: %v", err)
	}
	if err := mgr.Disconnect(0); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	waitFor(t, fs.isClosed, "session close")

	mgr.deviceRemoved(l, "usb-1")

	if mgr.Len() != 1 {
		t.Fatalf("Len() = %d at end of lifecycle, want 1", mgr.Len())
	}
	info, _ := mgr.Info(0)
	if info.State != StateRemembered {
		t.Errorf("State = %q, want %q", info.State, StateRemembered)
	}
	if info.FriendlyName != "Holiday Photos" {
		t.Errorf("FriendlyName = %q, want user identity retained", info.FriendlyName)
	}

	snaps, _ := repo.GetAllDevices(ctx)
	if len(snaps) != 1 || snaps[0].FriendlyName != "Holiday Photos" {
		t.Errorf("persisted snapshots = %+v, want surviving identity", snaps)
	}
}

func TestAddListerRoutesEvents(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := usbLister(1)
	if err := mgr.AddLister(ctx, l); err != nil {
		t.Fatalf("AddLister failed: %v", err)
	}

	l.events <- Event{Type: EventAdded, NativeID: "usb-1"}
	waitFor(t, func() bool { return mgr.Len() == 1 }, "added event routing")

	l.events <- Event{Type: EventRemoved, NativeID: "usb-1"}
	waitFor(t, func() bool { return mgr.Len() == 0 }, "removed event routing")

	close(l.events)
}

func TestFindByNativeIDAndKey(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	mgr.deviceAdded(usbLister(1), "usb-1")

	if row := mgr.FindByNativeID("usb-1"); row != 0 {
		t.Errorf("FindByNativeID = %d, want 0", row)
	}
	if row := mgr.FindByNativeID("nope"); row != -1 {
		t.Errorf("FindByNativeID(unknown) = %d, want -1", row)
	}

	info, _ := mgr.Info(0)
	if row := mgr.RowForKey(info.Key); row != 0 {
		t.Errorf("RowForKey = %d, want 0", row)
	}
	if row := mgr.RowForKey("missing"); row != -1 {
		t.Errorf("RowForKey(unknown) = %d, want -1", row)
	}
}

func TestRowBoundsChecks(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.Info(0); !errors.Is(err, ErrNotFound) {
		t.Errorf("Info out of range = %v, want ErrNotFound", err)
	}
	if _, err := mgr.Connect(ctx, 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("Connect out of range = %v, want ErrNotFound", err)
	}
	if err := mgr.Disconnect(-1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Disconnect out of range = %v, want ErrNotFound", err)
	}
	if err := mgr.Forget(ctx, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("Forget out of range = %v, want ErrNotFound", err)
	}
	if err := mgr.SetIdentity(ctx, 0, "x", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetIdentity out of range = %v, want ErrNotFound", err)
	}
	if err := mgr.Unmount(0); !errors.Is(err, ErrNotFound) {
		t.Errorf("Unmount out of range = %v, want ErrNotFound", err)
	}
}
