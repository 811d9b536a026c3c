package metainfo

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"tarun-kavipurapu/p2p-swarm/pkg/integrity"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "movie.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCreate(t *testing.T) {
	path := writeFile(t, "0123456789")
	d, pieces, err := Create(path, "127.0.0.1:9090", 4)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if d.FileName != "movie.txt" || d.TotalSize != 10 || d.ChunkSize != 4 {
		t.Errorf("unexpected description %+v", d)
	}
	if d.TotalPieces() != 3 || len(pieces) != 3 {
		t.Fatalf("TotalPieces = %d, pieces = %d", d.TotalPieces(), len(pieces))
	}
	h, ok := d.ExpectedHash(3)
	if !ok || h != integrity.Digest([]byte("89")) {
		t.Errorf("ExpectedHash(3) = %q, %v", h, ok)
	}
	if _, ok := d.ExpectedHash(0); ok {
		t.Error("index 0 must not resolve")
	}
	if _, ok := d.ExpectedHash(4); ok {
		t.Error("index past the end must not resolve")
	}
	if err := d.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestSaveLoad(t *testing.T) {
	d, _, err := Create(writeFile(t, "some shared payload"), "127.0.0.1:9090", 8)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"desc.json", "desc.torrent"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := d.Save(path); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if !reflect.DeepEqual(got, d) {
				t.Errorf("got %+v, want %+v", got, d)
			}
		})
	}
}

func TestLoadJSONFieldNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "desc.json")
	raw := `{"file_name":"a.bin","tracker_url":"http://127.0.0.1:9090/announce","chunk_size":4,"total_size":5,"piece_hashes":["aa","bb"]}`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}
	d, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.Tracker() != "127.0.0.1:9090" {
		t.Errorf("Tracker = %q", d.Tracker())
	}
	if d.TotalPieces() != 2 {
		t.Errorf("TotalPieces = %d", d.TotalPieces())
	}
}

func TestValidateRejectsHashCountMismatch(t *testing.T) {
	d := &Description{ChunkSize: 4, TotalSize: 9, PieceHashes: []string{"a", "b"}}
	if err := d.Validate(); err == nil {
		t.Error("expected mismatch error")
	}
	d.ChunkSize = 0
	if err := d.Validate(); err == nil {
		t.Error("expected chunk size error")
	}
}
