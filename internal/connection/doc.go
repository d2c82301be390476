// Package connection implements device session types for the registry's
// connection factory.
//
// A session is the protocol-level handle behind a connected device. The
// only built-in class is the filesystem session for file:// URLs, which
// covers mounted removable media. Other classes (mtp, afc) register their
// own constructors against the factory in the same way.
package connection
