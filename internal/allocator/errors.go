package allocator

import "errors"

// Errors returned by the allocator. Callers should compare with
// [errors.Is].
var (
	// ErrUnknownKey is returned by [Controller.Remove] when the key is not
	// present in the key map. [Controller.Get] never returns this; it
	// reports absence via its second return value instead.
	ErrUnknownKey = errors.New("allocator: unknown key")

	// ErrNotInIndex is returned by [ReclaimableIndex.Remove] when the node
	// passed in is not present in the index. Seeing this surface out of
	// the controller indicates a programmer error (the node graph and the
	// index have fallen out of sync) and should not be swallowed.
	ErrNotInIndex = errors.New("allocator: node not in reclaimable index")

	// ErrMetadataCorrupt is returned by [Decode] when a non-empty metadata
	// stream fails to decode, or decodes to a state that violates a chain
	// or index invariant.
	ErrMetadataCorrupt = errors.New("allocator: metadata corrupt")
)
