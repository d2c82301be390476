// Package discovery implements device listers: backends that enumerate
// attached storage and feed add/remove events into the device registry.
//
// The removable lister polls the OS partition table (via gopsutil) and
// treats any filesystem mounted under a configured prefix (/media,
// /run/media, /mnt, /Volumes) as a removable device. Its native id is the
// mount point, which is unique for the lifetime of the mount.
package discovery
