// Package device provides the portable-device registry for portdock.
//
// The registry is the central catalogue of removable storage devices known
// to the system. Devices are discovered by independent backends ("listers"),
// reconciled into single logical records when several backends report the
// same physical hardware, remembered across disconnect/reconnect cycles via
// SQLite persistence, and connected on demand through a scheme-keyed
// session factory.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                         Device Registry                          │
//	│                                                                  │
//	│  ┌──────────────┐   ┌──────────────┐   ┌──────────────────────┐  │
//	│  │   Manager    │   │  Repository  │   │       Factory        │  │
//	│  │ (manager.go) │──▶│(repository.go)│  │     (factory.go)     │  │
//	│  │              │   │              │   │                      │  │
//	│  │ • identity   │   │ • SQLite     │   │ • scheme → session   │  │
//	│  │   merging    │   │   snapshots  │   │   constructor        │  │
//	│  │ • row model  │   └──────────────┘   └──────────────────────┘  │
//	│  │ • sessions   │                                                │
//	│  └──────┬───────┘   ┌──────────────┐   ┌──────────────────────┐  │
//	│         │           │   Overlay    │   │    ConnectedView     │  │
//	│         └──────────▶│ (overlay.go) │   │      (view.go)       │  │
//	│                     │ • task %     │   │ • connected-only     │  │
//	│                     └──────────────┘   └──────────────────────┘  │
//	└──────────────────────────────────────────────────────────────────┘
//
// # Identity model
//
// A physical device may be reachable through several discovery backends at
// once, each using its own native identifier. The Manager keeps one record
// per physical device with an ordered set of bindings (backend, native id).
// Merging happens two ways: a native id already known to any record is
// treated as the same device, and a new native id whose resolved URLs
// intersect an existing record's URLs is appended as an additional binding.
//
// The primary binding is the live backend with the highest priority. It
// serves all capability queries (capacity, free space, URLs, unmount).
//
// # Rows and keys
//
// Consumers address devices by row index into an insertion-ordered list.
// Rows are stable except across removals, which renumber higher rows down
// by one; change notifications carry the affected row so observers can
// follow. Each record also carries an immutable UUID key for callers that
// outlive structural changes (the HTTP API addresses devices by key).
//
// # Concurrency
//
// All mutation is serialised by a single mutex; discovery backends deliver
// events from their own goroutines and the Manager funnels them through
// that lock. Change notifications run synchronously inside the critical
// section so observers never see a stale row index. Notification and error
// handlers must not call back into the Manager.
package device
