package device

import (
	"errors"
	"net/url"
	"sync"
	"testing"
)

// captureLogger records error messages for assertions.
type captureLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *captureLogger) Debug(string, ...any) {}
func (l *captureLogger) Info(string, ...any)  {}
func (l *captureLogger) Warn(string, ...any)  {}

func (l *captureLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func TestFactoryRegisterAndLookup(t *testing.T) {
	f := NewFactory()

	ctor := func(ConnectOptions) (Session, error) { return nil, errors.New("unused") }
	f.Register("file", ctor)
	f.Register("mtp", ctor)

	if _, ok := f.Lookup("file"); !ok {
		t.Error("Lookup(file) = false, want registered")
	}
	if _, ok := f.Lookup("afc"); ok {
		t.Error("Lookup(afc) = true, want unregistered")
	}

	schemes := f.Schemes()
	if len(schemes) != 2 || schemes[0] != "file" || schemes[1] != "mtp" {
		t.Errorf("Schemes() = %v, want sorted [file mtp]", schemes)
	}
}

func TestFactoryDuplicateRegistration(t *testing.T) {
	f := NewFactory()
	logger := &captureLogger{}
	f.SetLogger(logger)

	u, _ := url.Parse("file:///media/x")

	f.Register("file", func(ConnectOptions) (Session, error) {
		return &fakeSession{url: u}, nil
	})
	f.Register("file", func(ConnectOptions) (Session, error) {
		return nil, errors.New("replacement")
	})

	if len(logger.errors) != 1 {
		t.Fatalf("logged errors = %v, want one duplicate-registration report", logger.errors)
	}

	// Last registration wins.
	ctor, ok := f.Lookup("file")
	if !ok {
		t.Fatal("Lookup(file) = false after re-registration")
	}
	if _, err := ctor(ConnectOptions{}); err == nil {
		t.Error("constructor = original, want replacement to win")
	}
}
