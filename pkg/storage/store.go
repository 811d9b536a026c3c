// Package storage splits files into pieces, keeps piece payloads and
// reassembles them.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"tarun-kavipurapu/p2p-swarm/pkg/integrity"
)

var ErrMissingPiece = errors.New("missing piece")

// Piece is a payload together with its 1-based index and digest.
type Piece struct {
	Index int
	Hash  string
	Data  []byte
}

// Split reads r to the end in chunkSize pieces numbered from 1.
func Split(r io.Reader, chunkSize int) ([]Piece, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	var pieces []Piece
	for index := 1; ; index++ {
		buf := make([]byte, chunkSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			data := buf[:n]
			pieces = append(pieces, Piece{Index: index, Hash: integrity.Digest(data), Data: data})
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return pieces, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read piece %d: %w", index, err)
		}
	}
}

// Store keeps piece payloads by index.
type Store interface {
	Put(index int, data []byte) error
	Get(index int) ([]byte, error)
	Has(index int) bool
	Indices() []int
}

// MemoryStore keeps payloads in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	pieces map[int][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pieces: make(map[int][]byte)}
}

func (m *MemoryStore) Put(index int, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	m.pieces[index] = cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(index int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.pieces[index]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrMissingPiece, index)
	}
	return data, nil
}

func (m *MemoryStore) Has(index int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pieces[index]
	return ok
}

func (m *MemoryStore) Indices() []int {
	m.mu.RLock()
	out := make([]int, 0, len(m.pieces))
	for i := range m.pieces {
		out = append(out, i)
	}
	m.mu.RUnlock()
	sort.Ints(out)
	return out
}

// DiskStore keeps one chunk_<n>.chunk file per piece under dir.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create chunk directory: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

func (d *DiskStore) Dir() string {
	return d.dir
}

func chunkName(index int) string {
	return fmt.Sprintf("chunk_%d.chunk", index)
}

// Put writes through a temporary file so a reader never sees a partial chunk.
func (d *DiskStore) Put(index int, data []byte) error {
	final := filepath.Join(d.dir, chunkName(index))
	tmp, err := os.CreateTemp(d.dir, chunkName(index)+".*")
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write chunk %d: %w", index, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to store chunk %d: %w", index, err)
	}
	return nil
}

func (d *DiskStore) Get(index int) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.dir, chunkName(index)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %d", ErrMissingPiece, index)
	}
	return data, err
}

func (d *DiskStore) Has(index int) bool {
	_, err := os.Stat(filepath.Join(d.dir, chunkName(index)))
	return err == nil
}

func (d *DiskStore) Indices() []int {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil
	}
	var out []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "chunk_") || !strings.HasSuffix(name, ".chunk") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "chunk_"), ".chunk"))
		if err == nil && n > 0 {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}

// Reassemble writes pieces 1..total of s to w in order.
func Reassemble(s Store, total int, w io.Writer) error {
	for i := 1; i <= total; i++ {
		data, err := s.Get(i)
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("failed to write piece %d: %w", i, err)
		}
	}
	return nil
}

// ReassembleFile writes the reassembled payload to path, replacing it only
// once every piece was written.
func ReassembleFile(s Store, total int, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := Reassemble(s, total, tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
