package store

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/NicolasHaas/gostep/pkg/model"
)

// ErrCorrupt reports a user file that ended early or holds impossible sizes.
var ErrCorrupt = errors.New("store: corrupt user file")

// maxStoredUsername bounds username lengths read from disk.
const maxStoredUsername = 1 << 16

// Backend loads and saves the full user table. Load on a store that was
// never saved returns an empty slice and no error.
type Backend interface {
	Load() ([]model.User, error)
	Save(users []model.User) error
	Close() error
}

// Compile-time check: *FileBackend implements Backend.
var _ Backend = (*FileBackend)(nil)

// FileBackend persists users in the flat binary format:
//
//	uint32 userCount
//	userCount x { uint32 nameLen | name bytes | int32 wins }
//
// All integers are little-endian.
type FileBackend struct {
	path string
}

// NewFileBackend creates a backend for path. The file need not exist.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path returns the backing file path.
func (f *FileBackend) Path() string { return f.path }

// Load reads the file. A missing file yields no users. A truncated file
// yields the users decoded before the damage together with ErrCorrupt.
func (f *FileBackend) Load() ([]model.User, error) {
	fd, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return []model.User{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", f.path, err)
	}
	defer func() { _ = fd.Close() }()
	return DecodeUsers(bufio.NewReader(fd))
}

// Save writes all users to a temp file next to the target and renames it
// into place.
func (f *FileBackend) Save(users []model.User) error {
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	w := bufio.NewWriter(tmp)
	if err := EncodeUsers(w, users); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("store: flush: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("store: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("store: rename: %w", err)
	}
	return nil
}

// Close is a no-op for FileBackend.
func (f *FileBackend) Close() error {
	return nil
}

// EncodeUsers writes users in the binary user-file format.
func EncodeUsers(w io.Writer, users []model.User) error {
	buf := binary.LittleEndian.AppendUint32(nil, uint32(len(users))) //nolint:gosec // user count fits in uint32
	for _, u := range users {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(u.Username))) //nolint:gosec // usernames are at most 32 bytes
		buf = append(buf, u.Username...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(u.Wins)) //nolint:gosec // int32 stored as its two's complement bits
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("store: write users: %w", err)
	}
	return nil
}

// DecodeUsers reads the binary user-file format. An empty reader is an empty
// table.
func DecodeUsers(r io.Reader) ([]model.User, error) {
	var b4 [4]byte
	if _, err := io.ReadFull(r, b4[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return []model.User{}, nil
		}
		return []model.User{}, fmt.Errorf("%w: user count: %v", ErrCorrupt, err)
	}
	count := binary.LittleEndian.Uint32(b4[:])

	users := make([]model.User, 0, min(count, 1024))
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, b4[:]); err != nil {
			return users, fmt.Errorf("%w: user %d name length: %v", ErrCorrupt, i, err)
		}
		n := binary.LittleEndian.Uint32(b4[:])
		if n > maxStoredUsername {
			return users, fmt.Errorf("%w: user %d name length %d", ErrCorrupt, i, n)
		}
		name := make([]byte, n)
		if _, err := io.ReadFull(r, name); err != nil {
			return users, fmt.Errorf("%w: user %d name: %v", ErrCorrupt, i, err)
		}
		if _, err := io.ReadFull(r, b4[:]); err != nil {
			return users, fmt.Errorf("%w: user %d wins: %v", ErrCorrupt, i, err)
		}
		users = append(users, model.User{
			Username: string(name),
			Wins:     int32(binary.LittleEndian.Uint32(b4[:])), //nolint:gosec // stored as int32 bits
		})
	}
	return users, nil
}
