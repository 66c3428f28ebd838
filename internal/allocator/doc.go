// Package allocator implements the metadata controller for nodedb: a
// doubly-linked chain of byte-range nodes covering a values file, a
// size-ordered index of reclaimable nodes for best-fit reuse, and the
// dispatch logic (in-place update / reuse / append) that ties them
// together.
//
// The package knows nothing about the values file's actual bytes, JSON
// encoding, or file locking. It only tracks byte ranges: callers read and
// write the values file themselves using the offsets this package
// returns.
package allocator
