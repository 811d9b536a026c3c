// Package metainfo creates, loads and saves swarm descriptions.
package metainfo

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/bencode"

	"tarun-kavipurapu/p2p-swarm/pkg/storage"
)

// Description names the shared file and the expected digest of each piece,
// in index order. Its PieceHashes define the number of pieces in the swarm.
type Description struct {
	FileName    string   `json:"file_name" bencode:"file_name"`
	TrackerAddr string   `json:"tracker_url" bencode:"tracker_url"`
	ChunkSize   int64    `json:"chunk_size" bencode:"chunk_size"`
	TotalSize   int64    `json:"total_size" bencode:"total_size"`
	PieceHashes []string `json:"piece_hashes" bencode:"piece_hashes"`
}

// FromPieces builds a description for pieces produced by storage.Split.
func FromPieces(fileName, tracker string, chunkSize int, pieces []storage.Piece) *Description {
	d := &Description{
		FileName:    fileName,
		TrackerAddr: tracker,
		ChunkSize:   int64(chunkSize),
		PieceHashes: make([]string, len(pieces)),
	}
	for i, p := range pieces {
		d.PieceHashes[i] = p.Hash
		d.TotalSize += int64(len(p.Data))
	}
	return d
}

// Create splits the file at path and returns its description along with
// the pieces.
func Create(path, tracker string, chunkSize int) (*Description, []storage.Piece, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	pieces, err := storage.Split(f, chunkSize)
	if err != nil {
		return nil, nil, err
	}
	return FromPieces(filepath.Base(path), tracker, chunkSize, pieces), pieces, nil
}

// TotalPieces is the number of pieces in the swarm.
func (d *Description) TotalPieces() int {
	return len(d.PieceHashes)
}

// ExpectedHash returns the digest for the 1-based index.
func (d *Description) ExpectedHash(index int) (string, bool) {
	if index < 1 || index > len(d.PieceHashes) {
		return "", false
	}
	return d.PieceHashes[index-1], true
}

// Tracker returns the tracker host:port. Descriptions written with an
// announce URL such as http://host:9090/announce are accepted too.
func (d *Description) Tracker() string {
	addr := d.TrackerAddr
	if strings.Contains(addr, "://") {
		if u, err := url.Parse(addr); err == nil {
			return u.Host
		}
	}
	return addr
}

func (d *Description) Validate() error {
	if d.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk size %d", d.ChunkSize)
	}
	want := (d.TotalSize + d.ChunkSize - 1) / d.ChunkSize
	if int64(len(d.PieceHashes)) != want {
		return fmt.Errorf("description has %d piece hashes, size %d needs %d", len(d.PieceHashes), d.TotalSize, want)
	}
	if t := d.Tracker(); t != "" {
		if _, _, err := net.SplitHostPort(t); err != nil {
			return fmt.Errorf("invalid tracker address %q: %w", d.TrackerAddr, err)
		}
	}
	return nil
}

func isBencode(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".torrent", ".bencode":
		return true
	}
	return false
}

// Marshal encodes d as bencode for .torrent and .bencode paths, JSON otherwise.
func (d *Description) Marshal(path string) ([]byte, error) {
	if isBencode(path) {
		return bencode.EncodeBytes(d)
	}
	return json.MarshalIndent(d, "", "    ")
}

func Unmarshal(path string, data []byte) (*Description, error) {
	d := &Description{}
	var err error
	if isBencode(path) {
		err = bencode.DecodeBytes(data, d)
	} else {
		err = json.Unmarshal(data, d)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode description %s: %w", path, err)
	}
	return d, nil
}

func (d *Description) Save(path string) error {
	data, err := d.Marshal(path)
	if err != nil {
		return fmt.Errorf("failed to encode description: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Load reads and validates the description at path.
func Load(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := Unmarshal(path, data)
	if err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid description %s: %w", path, err)
	}
	return d, nil
}
