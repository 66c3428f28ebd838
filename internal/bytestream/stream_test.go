package bytestream

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nodedb/nodedb/pkg/fs"
	"github.com/stretchr/testify/require"
)

// shortWriteFS is a minimal [fs.FS] whose files silently write only the
// first byte of any Write call, with no error, modeling the one partial-
// write shape real fault injection cannot produce: n < len(p), err ==
// nil. Only OpenFile is ever called by [Open]; the rest of the [fs.FS]
// surface is unused here and panics if exercised.
type shortWriteFS struct{}

func (s *shortWriteFS) OpenFile(path string, flag int, perm os.FileMode) (fs.File, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &shortWriteFile{File: f}, nil
}

func (s *shortWriteFS) Open(path string) (fs.File, error)   { panic("not implemented") }
func (s *shortWriteFS) Create(path string) (fs.File, error) { panic("not implemented") }
func (s *shortWriteFS) ReadFile(path string) ([]byte, error) {
	panic("not implemented")
}
func (s *shortWriteFS) WriteFile(path string, data []byte, perm os.FileMode) error {
	panic("not implemented")
}
func (s *shortWriteFS) ReadDir(path string) ([]os.DirEntry, error) {
	panic("not implemented")
}
func (s *shortWriteFS) MkdirAll(path string, perm os.FileMode) error { panic("not implemented") }
func (s *shortWriteFS) Stat(path string) (os.FileInfo, error)        { panic("not implemented") }
func (s *shortWriteFS) Exists(path string) (bool, error)             { panic("not implemented") }
func (s *shortWriteFS) Remove(path string) error                     { panic("not implemented") }
func (s *shortWriteFS) RemoveAll(path string) error                  { panic("not implemented") }
func (s *shortWriteFS) Rename(oldpath, newpath string) error         { panic("not implemented") }

type shortWriteFile struct {
	*os.File
}

func (f *shortWriteFile) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	return f.File.Write(p[:1])
}

var _ fs.FS = (*shortWriteFS)(nil)
var _ fs.File = (*shortWriteFile)(nil)

func TestFileStream_WriteSeekReadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "values.db")
	stream, err := Open(fs.NewReal(), path)
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, stream.Seek(0))
	require.NoError(t, stream.Write([]byte("hello")))
	require.NoError(t, stream.Flush())

	require.NoError(t, stream.Seek(0))
	got, err := stream.Read(5)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	size, err := stream.Size()
	require.NoError(t, err)
	require.Equal(t, int64(5), size)
}

func TestFileStream_ReadPastEOFReturnsShortSlice(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "values.db")
	stream, err := Open(fs.NewReal(), path)
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, stream.Write([]byte("ab")))
	require.NoError(t, stream.Seek(0))

	got, err := stream.Read(10)
	require.NoError(t, err)
	require.Equal(t, []byte("ab"), got)
}

func TestFileStream_Truncate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "values.db")
	stream, err := Open(fs.NewReal(), path)
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, stream.Write([]byte("0123456789")))
	require.NoError(t, stream.Truncate(4))

	size, err := stream.Size()
	require.NoError(t, err)
	require.Equal(t, int64(4), size)
}

func TestFileStream_OperationsAfterCloseReturnErrClosed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "values.db")
	stream, err := Open(fs.NewReal(), path)
	require.NoError(t, err)

	require.NoError(t, stream.Close())
	require.True(t, stream.Closed())

	require.ErrorIs(t, stream.Seek(0), ErrClosed)
	_, err = stream.Read(1)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, stream.Write([]byte("x")), ErrClosed)
	require.ErrorIs(t, stream.Truncate(0), ErrClosed)
	require.ErrorIs(t, stream.Flush(), ErrClosed)

	// Close is idempotent.
	require.NoError(t, stream.Close())
}

// TestFileStream_ChaosWriteFailSurfaces drives a full write failure
// through a real FileStream by wrapping NewReal in the teacher's Chaos
// harness (pkg/fs/chaos.go) with WriteFailRate set to 1.
func TestFileStream_ChaosWriteFailSurfaces(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "values.db")

	chaos := fs.NewChaos(fs.NewReal(), 1, &fs.ChaosConfig{
		WriteFailRate: 1,
	})

	stream, err := Open(chaos, path)
	require.NoError(t, err)
	defer stream.Close()

	err = stream.Write([]byte("payload"))
	require.Error(t, err)
}

// TestFileStream_ChaosPartialWriteSurfacesAsError drives a chaos partial
// write (which Chaos always reports via a non-nil error, wrapping either
// io.ErrShortWrite or a syscall errno) and checks FileStream.Write
// surfaces it rather than silently returning success.
func TestFileStream_ChaosPartialWriteSurfacesAsError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "values.db")

	chaos := fs.NewChaos(fs.NewReal(), 1, &fs.ChaosConfig{
		PartialWriteRate: 1,
		ShortWriteRate:   1,
	})

	stream, err := Open(chaos, path)
	require.NoError(t, err)
	defer stream.Close()

	err = stream.Write([]byte("a long enough payload to get truncated by chaos"))
	require.Error(t, err)
}

// TestFileStream_ShortWriteWithoutError exercises the case Chaos itself
// cannot produce: an underlying Write that returns n < len(p) with a nil
// error, which [FileStream.Write] must still reject as [ErrShortWrite].
func TestFileStream_ShortWriteWithoutError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "values.db")
	stream, err := Open(&shortWriteFS{}, path)
	require.NoError(t, err)
	defer stream.Close()

	err = stream.Write([]byte("payload"))
	require.ErrorIs(t, err, ErrShortWrite)
}
