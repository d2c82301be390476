package connection

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/guker/portdock/internal/device"
	"github.com/guker/portdock/internal/tasks"
)

// ErrNotMounted is returned when a file:// URL does not resolve to an
// accessible directory.
var ErrNotMounted = errors.New("connection: mount point not accessible")

// progressEvery controls how often the initial scan reports progress.
const progressEvery = 50

// FilesystemSession is an open handle to a mounted filesystem device.
type FilesystemSession struct {
	url *url.URL

	mu     sync.Mutex
	closed bool
	cancel chan struct{}
}

// URL returns the connection URL the session was built from.
func (s *FilesystemSession) URL() *url.URL { return s.url }

// Close tears down the session. Idempotent.
func (s *FilesystemSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.cancel)
	return nil
}

// MountPath returns the local directory the device is mounted at.
func (s *FilesystemSession) MountPath() string { return s.url.Path }

// RegisterFilesystem registers the file:// session constructor with the
// factory. First-time connections kick off a background inventory scan of
// the mount, tracked through tm so progress surfaces on the device row.
func RegisterFilesystem(factory *device.Factory, tm *tasks.Manager, logger device.Logger) {
	factory.Register("file", func(opts device.ConnectOptions) (device.Session, error) {
		return newFilesystemSession(opts, tm, logger)
	})
}

func newFilesystemSession(opts device.ConnectOptions, tm *tasks.Manager, logger device.Logger) (*FilesystemSession, error) {
	path := opts.URL.Path
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotMounted, path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotMounted, path)
	}

	s := &FilesystemSession{
		url:    opts.URL,
		cancel: make(chan struct{}),
	}

	if opts.FirstTime && tm != nil {
		go s.scan(tm, opts.Events, logger)
	}

	return s, nil
}

// scan walks the mount once, counting entries so the first connection
// shows the user something is happening. Progress total is the running
// count from a fast pre-pass; a failed walk is logged, never fatal.
func (s *FilesystemSession) scan(tm *tasks.Manager, events device.SessionEvents, logger device.Logger) {
	if logger == nil {
		logger = noopLogger{}
	}

	taskID := tm.StartTask("scanning " + s.url.Path)
	defer tm.Finish(taskID)

	if events.TaskStarted != nil {
		events.TaskStarted(taskID)
	}

	total := s.countEntries()
	tm.SetProgress(taskID, 0, total)

	var seen int64
	err := filepath.WalkDir(s.url.Path, func(_ string, _ fs.DirEntry, err error) error {
		select {
		case <-s.cancel:
			return filepath.SkipAll
		default:
		}
		if err != nil {
			// Unreadable subtrees are expected on removable media.
			return nil
		}
		seen++
		if seen%progressEvery == 0 {
			tm.SetProgress(taskID, seen, total)
		}
		return nil
	})
	if err != nil {
		logger.Warn("device scan aborted", "path", s.url.Path, "error", err)
		return
	}

	tm.SetProgress(taskID, seen, total)
	logger.Debug("device scan complete", "path", s.url.Path, "entries", seen)
}

// countEntries does a cheap pre-pass so the scan has a denominator.
func (s *FilesystemSession) countEntries() int64 {
	var n int64
	_ = filepath.WalkDir(s.url.Path, func(_ string, _ fs.DirEntry, err error) error {
		select {
		case <-s.cancel:
			return filepath.SkipAll
		default:
		}
		if err != nil {
			return nil
		}
		n++
		return nil
	})
	return n
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
