package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"tarun-kavipurapu/p2p-swarm/pkg/integrity"
)

func TestSplit(t *testing.T) {
	data := []byte("abcdefghij")
	pieces, err := Split(bytes.NewReader(data), 4)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	want := []string{"abcd", "efgh", "ij"}
	if len(pieces) != len(want) {
		t.Fatalf("got %d pieces, want %d", len(pieces), len(want))
	}
	for i, p := range pieces {
		if p.Index != i+1 {
			t.Errorf("piece %d has index %d", i, p.Index)
		}
		if string(p.Data) != want[i] {
			t.Errorf("piece %d = %q, want %q", p.Index, p.Data, want[i])
		}
		if !integrity.Verify(p.Data, p.Hash) {
			t.Errorf("piece %d digest mismatch", p.Index)
		}
	}
}

func TestSplitExactMultipleAndEmpty(t *testing.T) {
	pieces, err := Split(bytes.NewReader([]byte("abcdefgh")), 4)
	if err != nil || len(pieces) != 2 {
		t.Fatalf("Split exact = %d pieces, %v", len(pieces), err)
	}
	pieces, err = Split(bytes.NewReader(nil), 4)
	if err != nil || len(pieces) != 0 {
		t.Fatalf("Split empty = %d pieces, %v", len(pieces), err)
	}
	if _, err := Split(bytes.NewReader(nil), 0); err == nil {
		t.Error("expected error for zero chunk size")
	}
}

func testStore(t *testing.T, s Store) {
	t.Helper()
	if s.Has(1) {
		t.Fatal("empty store has piece 1")
	}
	if _, err := s.Get(1); !errors.Is(err, ErrMissingPiece) {
		t.Fatalf("Get missing = %v, want ErrMissingPiece", err)
	}
	for i, d := range []string{"one", "two", "three"} {
		if err := s.Put(i+1, []byte(d)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	got, err := s.Get(2)
	if err != nil || string(got) != "two" {
		t.Errorf("Get(2) = %q, %v", got, err)
	}
	if !reflect.DeepEqual(s.Indices(), []int{1, 2, 3}) {
		t.Errorf("Indices = %v", s.Indices())
	}

	var buf bytes.Buffer
	if err := Reassemble(s, 3, &buf); err != nil {
		t.Fatalf("Reassemble: %v", err)
	}
	if buf.String() != "onetwothree" {
		t.Errorf("Reassemble = %q", buf.String())
	}
	if err := Reassemble(s, 4, &bytes.Buffer{}); !errors.Is(err, ErrMissingPiece) {
		t.Errorf("Reassemble with gap = %v, want ErrMissingPiece", err)
	}
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestMemoryStoreCopiesInput(t *testing.T) {
	s := NewMemoryStore()
	buf := []byte("data")
	_ = s.Put(1, buf)
	buf[0] = 'X'
	got, _ := s.Get(1)
	if string(got) != "data" {
		t.Errorf("store aliased caller buffer: %q", got)
	}
}

func TestDiskStore(t *testing.T) {
	s, err := NewDiskStore(filepath.Join(t.TempDir(), "chunks"))
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	testStore(t, s)
	if _, err := os.Stat(filepath.Join(s.Dir(), "chunk_1.chunk")); err != nil {
		t.Errorf("chunk file not written: %v", err)
	}
}

func TestReassembleFile(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Put(1, []byte("hello "))
	_ = s.Put(2, []byte("swarm"))
	out := filepath.Join(t.TempDir(), "out", "file.txt")
	if err := ReassembleFile(s, 2, out); err != nil {
		t.Fatalf("ReassembleFile: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil || string(got) != "hello swarm" {
		t.Errorf("output = %q, %v", got, err)
	}

	missing := filepath.Join(t.TempDir(), "missing.txt")
	if err := ReassembleFile(s, 3, missing); !errors.Is(err, ErrMissingPiece) {
		t.Errorf("expected ErrMissingPiece, got %v", err)
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Error("partial output left behind")
	}
}
