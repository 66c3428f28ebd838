// Package nodedb is an embedded, single-process, persistent key-value
// store. Values are arbitrary JSON-serializable data; keys are strings.
// A Store owns two byte streams — a values file and a metadata file —
// and a metadata controller (internal/allocator) that tracks which byte
// ranges of the values file are live and which are free for reuse.
//
// Store is not safe for concurrent use beyond the read/write pattern its
// own RWMutex enforces: any number of concurrent Get calls, or a single
// exclusive Set/Remove/Close at a time.
package nodedb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/natefinch/atomic"
	"github.com/nodedb/nodedb/internal/allocator"
	"github.com/nodedb/nodedb/internal/bytestream"
	"github.com/nodedb/nodedb/pkg/fs"
)

// Store is a handle to an open key-value database. The zero value is not
// usable; obtain one via [Open].
type Store struct {
	// mu guards closed and serializes access to values/meta/ctrl: any
	// number of concurrent readers (Get, Stats) or one exclusive writer
	// (Set, Remove, Close) at a time. RWMutex because closed is read on
	// every call but written only once, by Close — the same tradeoff
	// the teacher's slotcache.Cache makes for its isClosed field.
	mu     sync.RWMutex
	closed bool

	// ioMu serializes Get's Seek+Read pair: concurrent readers share the
	// values stream's single file position.
	ioMu sync.Mutex

	cfg    Config
	values *bytestream.FileStream
	ctrl   *allocator.Controller
}

// Open opens (creating if necessary) the values file and loads the
// metadata file named in cfg, and returns a ready-to-use Store. A missing metadata file is
// treated identically to an empty one (SPEC_FULL.md §14): the store
// starts with no keys rather than failing.
func Open(fsys fs.FS, cfg Config) (*Store, error) {
	values, err := bytestream.Open(fsys, cfg.ValuesPath)
	if err != nil {
		return nil, fmt.Errorf("nodedb: opening values file: %w", err)
	}

	ctrl, err := loadMetadata(fsys, cfg.MetadataPath)
	if err != nil {
		_ = values.Close()

		return nil, err
	}

	return &Store{
		cfg:    cfg,
		values: values,
		ctrl:   ctrl,
	}, nil
}

func loadMetadata(fsys fs.FS, path string) (*allocator.Controller, error) {
	exists, err := fsys.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("nodedb: checking metadata file: %w", err)
	}

	if !exists {
		return allocator.NewController(), nil
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nodedb: reading metadata file: %w", err)
	}

	ctrl, err := allocator.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("nodedb: loading metadata: %w", err)
	}

	return ctrl, nil
}

// Get looks up key and returns its decoded value. ok is false if key is
// not present; no error is returned in that case.
func (s *Store) Get(key string) (value any, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, ErrClosed
	}

	start, end, found := s.ctrl.Get(key)
	if !found {
		return nil, false, nil
	}

	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	if err := s.values.Seek(int64(start)); err != nil {
		return nil, false, fmt.Errorf("nodedb: seeking to value: %w", err)
	}

	raw, err := s.values.Read(int(end - start))
	if err != nil {
		return nil, false, fmt.Errorf("nodedb: reading value: %w", err)
	}

	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, fmt.Errorf("%w: key %q: %w", ErrDecode, key, err)
	}

	return value, true, nil
}

// Set encodes value as JSON (Go's encoding/json already emits object
// keys in sorted order, satisfying the stable-key-ordering requirement
// of SPEC_FULL.md §6) and binds it to key, allocating or reusing a node
// via the metadata controller. If cfg.AutoFlushMetadata is set, the
// metadata document is persisted before Set returns.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("nodedb: encoding value for key %q: %w", key, err)
	}

	start, _ := s.ctrl.Set(key, uint64(len(encoded)))

	if err := s.values.Seek(int64(start)); err != nil {
		return fmt.Errorf("nodedb: seeking to value: %w", err)
	}

	if err := s.values.Write(encoded); err != nil {
		return fmt.Errorf("%w: %w", ErrShortWrite, err)
	}

	if err := s.values.Flush(); err != nil {
		return fmt.Errorf("nodedb: flushing values file: %w", err)
	}

	if s.cfg.AutoFlushMetadata {
		if err := s.persistMetadata(); err != nil {
			return err
		}
	}

	return nil
}

// Remove deletes key, marking its node reclaimable. Returns
// [allocator.ErrUnknownKey] if key is not present.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if err := s.ctrl.Remove(key); err != nil {
		return err
	}

	if s.cfg.AutoFlushMetadata {
		if err := s.persistMetadata(); err != nil {
			return err
		}
	}

	return nil
}

// Stats reports aggregate size accounting over the current chain, per
// SPEC_FULL.md §14. It is computed on demand, not persisted, so it
// cannot drift from the chain it describes.
type Stats struct {
	FileSize         uint64
	LiveBytes        uint64
	ReclaimableBytes uint64
	LiveNodes        int
	ReclaimableNodes int
}

// Stats walks the chain and returns aggregate size accounting.
func (s *Store) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Stats{}, ErrClosed
	}

	stats := Stats{FileSize: s.ctrl.FileSize()}

	for n := s.ctrl.Chain().Head(); n != nil; n = n.Next {
		if n.Live {
			stats.LiveBytes += n.ValueSize
			stats.LiveNodes++
		} else {
			stats.ReclaimableBytes += n.Capacity()
			stats.ReclaimableNodes++
		}
	}

	return stats, nil
}

// MarshalMetadataYAML renders the current chain/index/key-map as YAML,
// for `nodedb inspect`. It does not write to disk.
func (s *Store) MarshalMetadataYAML() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	snapshot, err := allocator.MarshalYAML(s.ctrl)
	if err != nil {
		return nil, fmt.Errorf("nodedb: marshaling metadata snapshot: %w", err)
	}

	return snapshot, nil
}

// persistMetadata encodes the controller's state and writes it to the
// metadata file via a temp-file-plus-rename, the same durability pattern
// the teacher's WithTicketLock uses for ticket writes, so a crash never
// leaves a half-written metadata file. When cfg.MetadataFormat is
// MetadataFormatYAML, a human-readable snapshot is additionally written
// alongside it as "<MetadataPath>.yaml". Caller must hold s.mu for writing.
func (s *Store) persistMetadata() error {
	encoded := allocator.Encode(s.ctrl)

	if err := atomic.WriteFile(s.cfg.MetadataPath, bytes.NewReader(encoded)); err != nil {
		return fmt.Errorf("nodedb: writing metadata file: %w", err)
	}

	if s.cfg.MetadataFormat == MetadataFormatYAML {
		snapshot, err := allocator.MarshalYAML(s.ctrl)
		if err != nil {
			return fmt.Errorf("nodedb: marshaling metadata snapshot: %w", err)
		}

		if err := atomic.WriteFile(s.cfg.MetadataPath+".yaml", bytes.NewReader(snapshot)); err != nil {
			return fmt.Errorf("nodedb: writing metadata snapshot: %w", err)
		}
	}

	return nil
}

// Close persists the metadata document and closes the values stream.
// Subsequent calls to any Store method return [ErrClosed]. Close is
// idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	if err := s.persistMetadata(); err != nil {
		return err
	}

	if err := s.values.Close(); err != nil {
		return fmt.Errorf("nodedb: closing values file: %w", err)
	}

	return nil
}
