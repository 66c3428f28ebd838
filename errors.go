package nodedb

import "errors"

var (
	// ErrClosed is returned by any Store method called after Close.
	ErrClosed = errors.New("nodedb: store is closed")

	// ErrShortWrite is returned by Set when writing the value to the values
	// stream fails, whether it wrote fewer bytes than requested or the
	// underlying write reported an error; the stream's error is wrapped.
	ErrShortWrite = errors.New("nodedb: short write")

	// ErrDecode is returned by Get when the bytes at a key's recorded
	// range do not decode as valid JSON.
	ErrDecode = errors.New("nodedb: value failed to decode")

	errConfigInvalid = errors.New("nodedb: invalid config file")
)
