// Package tasks tracks long-running operations (copies, scans, syncs) so
// other components can display their progress.
//
// The manager is a flat registry of numbered tasks. Producers create a
// task, push progress updates, and finish it; consumers read snapshots or
// subscribe to change notifications. Task ids are never reused within a
// process lifetime.
//
// Change callbacks fire after every mutation, outside the manager's lock,
// so subscribers may call back into the manager.
package tasks
