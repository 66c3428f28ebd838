// Package bytestream adapts the teacher repository's pkg/fs filesystem
// abstraction into the values/metadata byte-stream contract of
// SPEC_FULL.md §6: seek, bounded read, write-all-or-error, truncate,
// flush, and a closed check. nodedb's allocator (internal/allocator)
// never sees this package; only the root Store does.
package bytestream

import (
	"errors"
	"fmt"
	"io"
	"syscall"

	"github.com/nodedb/nodedb/pkg/fs"
)

// ErrShortWrite is returned when the underlying stream's Write call
// wrote fewer bytes than requested, per SPEC_FULL.md §7.
var ErrShortWrite = errors.New("bytestream: short write")

// ErrClosed is returned by any operation on a stream that has already
// been closed.
var ErrClosed = errors.New("bytestream: handle closed")

// Stream is the external byte-stream collaborator described in
// SPEC_FULL.md §6. It is satisfied by [FileStream].
type Stream interface {
	// Seek positions the stream. offset may equal the stream's current
	// length (the append position).
	Seek(offset int64) error

	// Read reads up to n bytes from the current position.
	Read(n int) ([]byte, error)

	// Write writes all of p. It returns [ErrShortWrite] if the underlying
	// write reports fewer bytes with no error, and the underlying error
	// (wrapped) if it reports one.
	Write(p []byte) error

	// Truncate sets the stream's length.
	Truncate(length int64) error

	// Flush commits buffered writes to stable storage.
	Flush() error

	// Closed reports whether [FileStream.Close] has already been called.
	Closed() bool

	// Close closes the underlying file.
	Close() error
}

// FileStream implements [Stream] over a [fs.File], opened through an
// [fs.FS] (normally [fs.NewReal], but [fs.Chaos] drops in unchanged for
// fault-injection testing — see SPEC_FULL.md §11).
type FileStream struct {
	file   fs.File
	closed bool
}

// Open opens path for reading and writing, creating it if it does not
// exist, and returns a [FileStream] over it.
func Open(fsys fs.FS, path string) (*FileStream, error) {
	file, err := fsys.OpenFile(path, syscall.O_RDWR|syscall.O_CREAT, 0o644)
	if err != nil {
		return nil, fmt.Errorf("bytestream: opening %s: %w", path, err)
	}

	return &FileStream{file: file}, nil
}

func (s *FileStream) Seek(offset int64) error {
	if s.closed {
		return ErrClosed
	}

	_, err := s.file.Seek(offset, io.SeekStart)
	if err != nil {
		return fmt.Errorf("bytestream: seek: %w", err)
	}

	return nil
}

func (s *FileStream) Read(n int) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}

	buf := make([]byte, n)

	read, err := io.ReadFull(s.file, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("bytestream: read: %w", err)
	}

	return buf[:read], nil
}

func (s *FileStream) Write(p []byte) error {
	if s.closed {
		return ErrClosed
	}

	n, err := s.file.Write(p)
	if err != nil {
		return fmt.Errorf("bytestream: write: %w", err)
	}

	if n != len(p) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(p))
	}

	return nil
}

// Truncate sets the stream's length via ftruncate on the file's
// descriptor, the same mechanism the teacher's WAL uses to reset itself
// after a successful replay (pkg/mddb/wal.go's truncateWal).
func (s *FileStream) Truncate(length int64) error {
	if s.closed {
		return ErrClosed
	}

	err := syscall.Ftruncate(int(s.file.Fd()), length)
	if err != nil {
		return fmt.Errorf("bytestream: truncate: %w", err)
	}

	return nil
}

func (s *FileStream) Flush() error {
	if s.closed {
		return ErrClosed
	}

	err := s.file.Sync()
	if err != nil {
		return fmt.Errorf("bytestream: flush: %w", err)
	}

	return nil
}

func (s *FileStream) Closed() bool {
	return s.closed
}

func (s *FileStream) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true

	err := s.file.Close()
	if err != nil {
		return fmt.Errorf("bytestream: close: %w", err)
	}

	return nil
}

// Size returns the stream's current length.
func (s *FileStream) Size() (int64, error) {
	if s.closed {
		return 0, ErrClosed
	}

	info, err := s.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("bytestream: stat: %w", err)
	}

	return info.Size(), nil
}

var _ Stream = (*FileStream)(nil)
