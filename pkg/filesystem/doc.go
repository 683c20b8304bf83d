// Package filesystem provides low-level filesystem primitives shared by the
// object store and the watcher daemon.
package filesystem
