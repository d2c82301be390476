package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/guker/portdock/internal/device"
)

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("discovery: lister already started")

// removablePriority ranks this lister in primary-binding selection.
// A mounted filesystem is directly usable, so it outranks raw-transport
// listers a build might add later.
const removablePriority = 10

// unmountTimeout bounds the external unmount command.
const unmountTimeout = 30 * time.Second

// defaultMountPrefixes are the directories scanned for removable mounts
// when the config does not override them.
var defaultMountPrefixes = []string{"/media", "/run/media", "/mnt", "/Volumes"}

// Config controls the removable lister.
type Config struct {
	// PollInterval is how often the partition table is re-read.
	PollInterval time.Duration

	// MountPrefixes limits discovery to filesystems mounted under one of
	// these directories. Empty means the defaults.
	MountPrefixes []string
}

// mountInfo caches what the lister knows about one mounted device.
type mountInfo struct {
	device string
	fstype string
}

// RemovableLister discovers filesystems mounted under removable-media
// prefixes and reports them to the registry. It implements device.Lister.
type RemovableLister struct {
	interval time.Duration
	prefixes []string
	logger   device.Logger

	// partitions is swappable for tests.
	partitions func() ([]disk.PartitionStat, error)
	usage      func(path string) (*disk.UsageStat, error)

	mu      sync.Mutex
	started bool
	known   map[string]mountInfo
}

// NewRemovableLister creates a removable-media lister. A nil logger
// silences diagnostics.
func NewRemovableLister(cfg Config, logger device.Logger) *RemovableLister {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if len(cfg.MountPrefixes) == 0 {
		cfg.MountPrefixes = defaultMountPrefixes
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &RemovableLister{
		interval:   cfg.PollInterval,
		prefixes:   cfg.MountPrefixes,
		logger:     logger,
		partitions: func() ([]disk.PartitionStat, error) { return disk.Partitions(false) },
		usage:      disk.Usage,
		known:      make(map[string]mountInfo),
	}
}

// Start begins polling. Devices already mounted are reported as added on
// the first poll. The returned channel closes when ctx is cancelled.
func (l *RemovableLister) Start(ctx context.Context) (<-chan device.Event, error) {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	l.started = true
	l.mu.Unlock()

	events := make(chan device.Event, 16)
	go l.poll(ctx, events)
	return events, nil
}

func (l *RemovableLister) poll(ctx context.Context, events chan<- device.Event) {
	defer close(events)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.scan(ctx, events)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.scan(ctx, events)
		}
	}
}

// scan re-reads the partition table and emits the diff against the last
// known state.
func (l *RemovableLister) scan(ctx context.Context, events chan<- device.Event) {
	parts, err := l.partitions()
	if err != nil {
		l.logger.Warn("reading partition table", "error", err)
		return
	}

	current := make(map[string]mountInfo)
	for _, p := range parts {
		if !underAnyPrefix(p.Mountpoint, l.prefixes) {
			continue
		}
		current[p.Mountpoint] = mountInfo{device: p.Device, fstype: p.Fstype}
	}

	l.mu.Lock()
	added, removed := diffMounts(l.known, current)
	l.known = current
	l.mu.Unlock()

	for _, mount := range added {
		l.logger.Info("removable device mounted", "mount", mount)
		select {
		case events <- device.Event{Type: device.EventAdded, NativeID: mount}:
		case <-ctx.Done():
			return
		}
	}
	for _, mount := range removed {
		l.logger.Info("removable device unmounted", "mount", mount)
		select {
		case events <- device.Event{Type: device.EventRemoved, NativeID: mount}:
		case <-ctx.Done():
			return
		}
	}
}

// Priority ranks this lister for primary-binding selection.
func (l *RemovableLister) Priority() int { return removablePriority }

// MakeFriendlyName derives a display name from the mount point.
func (l *RemovableLister) MakeFriendlyName(nativeID string) string {
	name := filepath.Base(nativeID)
	if name == "/" || name == "." {
		return nativeID
	}
	return name
}

// DeviceCapacity returns the filesystem's total size in bytes.
func (l *RemovableLister) DeviceCapacity(nativeID string) int64 {
	u, err := l.usage(nativeID)
	if err != nil {
		return 0
	}
	return int64(u.Total)
}

// DeviceFreeSpace returns the filesystem's free bytes.
func (l *RemovableLister) DeviceFreeSpace(nativeID string) int64 {
	u, err := l.usage(nativeID)
	if err != nil {
		return 0
	}
	return int64(u.Free)
}

// DeviceIcons returns icon hints derived from the filesystem type.
func (l *RemovableLister) DeviceIcons(nativeID string) []string {
	l.mu.Lock()
	info, ok := l.known[nativeID]
	l.mu.Unlock()

	if !ok {
		return []string{"drive-removable-media"}
	}
	switch strings.ToLower(info.fstype) {
	case "vfat", "fat32", "exfat", "msdos":
		return []string{"drive-removable-media-usb", "drive-removable-media"}
	case "iso9660", "udf":
		return []string{"media-optical", "drive-removable-media"}
	default:
		return []string{"drive-removable-media"}
	}
}

// MakeDeviceURLs resolves the mount point to a file:// URL.
func (l *RemovableLister) MakeDeviceURLs(nativeID string) []*url.URL {
	return []*url.URL{{Scheme: "file", Path: nativeID}}
}

// UnmountDevice shells out to the platform unmount command.
func (l *RemovableLister) UnmountDevice(nativeID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), unmountTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "umount", nativeID).CombinedOutput()
	if err != nil {
		return fmt.Errorf("unmounting %s: %w: %s", nativeID, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// diffMounts computes the added and removed mount points between two
// snapshots, each sorted for deterministic event order.
func diffMounts(old, current map[string]mountInfo) (added, removed []string) {
	for mount := range current {
		if _, ok := old[mount]; !ok {
			added = append(added, mount)
		}
	}
	for mount := range old {
		if _, ok := current[mount]; !ok {
			removed = append(removed, mount)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// underAnyPrefix reports whether mount sits under one of the prefix
// directories. The prefix itself does not count as a device.
func underAnyPrefix(mount string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if mount == prefix {
			continue
		}
		if strings.HasPrefix(mount, prefix+"/") {
			return true
		}
	}
	return false
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
