package device

import (
	"net/url"
	"sort"
	"sync"
)

// Session is an open protocol-level handle to a connected device.
//
// Sessions are produced by a Constructor registered in the Factory and are
// owned exclusively by the record they belong to while connected. Close is
// treated as a cooperative teardown request; the registry clears its own
// state immediately and does not wait for it.
type Session interface {
	// URL returns the connection URL the session was built from.
	URL() *url.URL

	// Close tears down the session. Implementations should be idempotent.
	Close() error
}

// SessionEvents carries the callbacks a session uses to report back into
// the registry. Either callback may be nil.
type SessionEvents struct {
	// TaskStarted reports that a long-running operation with the given
	// task id has begun on this session.
	TaskStarted func(taskID int)

	// Error reports a user-visible failure on the session.
	Error func(msg string)
}

// ConnectOptions is passed to a Constructor when the registry connects a
// device.
type ConnectOptions struct {
	URL        *url.URL
	Lister     Lister
	NativeID   string
	DatabaseID int64
	FirstTime  bool
	Events     SessionEvents
}

// Constructor builds a connected session for one URL scheme.
type Constructor func(opts ConnectOptions) (Session, error)

// Factory maps URL schemes to session constructors.
//
// Registration happens once at startup per supported device class. A
// duplicate registration is a configuration error: it is logged and the
// last registration wins.
type Factory struct {
	mu     sync.RWMutex
	ctors  map[string]Constructor
	logger Logger
}

// NewFactory creates an empty connection factory.
func NewFactory() *Factory {
	return &Factory{
		ctors:  make(map[string]Constructor),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger used for configuration diagnostics.
func (f *Factory) SetLogger(logger Logger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logger = logger
}

// Register adds a constructor for the given URL scheme.
func (f *Factory) Register(scheme string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.ctors[scheme]; exists {
		f.logger.Error("duplicate session constructor registration", "scheme", scheme)
	}
	f.ctors[scheme] = ctor
}

// Lookup returns the constructor for a scheme, if registered.
func (f *Factory) Lookup(scheme string) (Constructor, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ctor, ok := f.ctors[scheme]
	return ctor, ok
}

// Schemes returns the registered schemes in sorted order.
func (f *Factory) Schemes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	schemes := make([]string, 0, len(f.ctors))
	for s := range f.ctors {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}
