package protocol

import (
	"errors"
	"reflect"
	"testing"
)

func TestFormatDirectoryEmptySentinel(t *testing.T) {
	if got := FormatDirectory(nil); got != NoPeers {
		t.Errorf("FormatDirectory(nil) = %q, want %q", got, NoPeers)
	}

	// One peer without pieces must not look like an empty table.
	got := FormatDirectory([]PeerEntry{{Addr: "127.0.0.1:8000"}})
	if got == NoPeers || got == "" {
		t.Errorf("single empty peer rendered as %q", got)
	}
}

func TestDirectoryRoundTrip(t *testing.T) {
	in := []PeerEntry{
		{Addr: "127.0.0.1:8000", Pieces: []int{1, 2, 3}},
		{Addr: "10.0.0.2:8001", Pieces: []int{}},
		{Addr: "[::1]:8002", Pieces: []int{7}},
	}
	s := FormatDirectory(in)
	want := "127.0.0.1:8000: 1,2,3\n10.0.0.2:8001: \n[::1]:8002: 7"
	if s != want {
		t.Fatalf("FormatDirectory = %q, want %q", s, want)
	}
	out, err := ParseDirectory(s)
	if err != nil {
		t.Fatalf("ParseDirectory: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestParseDirectoryNoPeers(t *testing.T) {
	entries, err := ParseDirectory(NoPeers)
	if err != nil || len(entries) != 0 {
		t.Errorf("ParseDirectory(NO_PEERS) = %v, %v", entries, err)
	}
}

func TestParseDirectorySkipsMalformed(t *testing.T) {
	s := "127.0.0.1:8000: 1,2\ngarbage\n127.0.0.1:8001: x,2\n127.0.0.1:8002:"
	entries, err := ParseDirectory(s)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
	}
	if entries[0].Addr != "127.0.0.1:8000" || entries[1].Addr != "127.0.0.1:8002" {
		t.Errorf("unexpected entries %+v", entries)
	}
}

func TestAddPeer(t *testing.T) {
	msg := FormatAddPeer("127.0.0.1:8000", []int{3, 1})
	if msg != "ADD_PEER 127.0.0.1:8000 3 1" {
		t.Fatalf("FormatAddPeer = %q", msg)
	}
	addr, pieces, err := ParseAddPeer(msg)
	if err != nil {
		t.Fatalf("ParseAddPeer: %v", err)
	}
	if addr != "127.0.0.1:8000" || !reflect.DeepEqual(pieces, []int{3, 1}) {
		t.Errorf("ParseAddPeer = %s %v", addr, pieces)
	}

	addr, pieces, err = ParseAddPeer("ADD_PEER 127.0.0.1:8000")
	if err != nil || addr != "127.0.0.1:8000" || len(pieces) != 0 {
		t.Errorf("leecher registration = %s %v %v", addr, pieces, err)
	}

	for _, bad := range []string{"ADD_PEER", "ADD_PEER nohost", "ADD_PEER 127.0.0.1:8000 a", "ADD_PEER 127.0.0.1:8000 0"} {
		if _, _, err := ParseAddPeer(bad); !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseAddPeer(%q) err = %v", bad, err)
		}
	}
}

func TestRemovePeer(t *testing.T) {
	addr, err := ParseRemovePeer(RemovePeer)
	if err != nil || addr != "" {
		t.Errorf("bare REMOVE_PEER = %q %v", addr, err)
	}
	addr, err = ParseRemovePeer(FormatRemovePeer("127.0.0.1:9000"))
	if err != nil || addr != "127.0.0.1:9000" {
		t.Errorf("REMOVE_PEER with addr = %q %v", addr, err)
	}
	if _, err := ParseRemovePeer("REMOVE_PEER a b"); err == nil {
		t.Error("expected error for extra fields")
	}
}

func TestPieceRequest(t *testing.T) {
	index, from, err := ParsePieceRequest("12")
	if err != nil || index != 12 || from != "" {
		t.Errorf("bare request = %d %q %v", index, from, err)
	}
	index, from, err = ParsePieceRequest(FormatPieceRequest(4, "127.0.0.1:8003"))
	if err != nil || index != 4 || from != "127.0.0.1:8003" {
		t.Errorf("request with origin = %d %q %v", index, from, err)
	}
	if _, _, err := ParsePieceRequest("four"); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}
