// Package history owns the in-memory list of reading sessions and keeps the
// metadata store, blob store and volatile handle cache coherent with it.
//
// The in-memory list is the source of truth while the process runs. Metadata
// is flushed on a trailing debounce; audio blobs are written and deleted
// synchronously with the operation that causes them.
package history
