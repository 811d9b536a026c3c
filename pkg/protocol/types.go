package protocol

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

// Frame Types
const (
	FrameTypeControl   = 0x01 // text message
	FrameTypeStream    = 0x02 // raw piece payload
	FrameTypeBroadcast = 0x03 // unsolicited directory listing from the tracker
)

// Tracker vocabulary
const (
	RequestPeers = "REQUEST_PEERS"
	AddPeer      = "ADD_PEER"
	RemovePeer   = "REMOVE_PEER"

	PeerAdded    = "PEER_ADDED"
	PeerUpdated  = "PEER_UPDATED"
	PeerRemoved  = "PEER_REMOVED"
	PeerNotFound = "PEER_NOT_FOUND"
	Error        = "ERROR"
	NoPeers      = "NO_PEERS"
)

// ChunkNotFound answers a piece request the responder cannot serve.
const ChunkNotFound = "CHUNK_NOT_FOUND"

var ErrMalformed = errors.New("malformed message")

// Frame is one message on the wire.
type Frame struct {
	Type    uint8
	Payload []byte
}

func Control(msg string) Frame {
	return Frame{Type: FrameTypeControl, Payload: []byte(msg)}
}

func (f Frame) Text() string {
	return string(f.Payload)
}

// PeerEntry is one row of the tracker directory.
type PeerEntry struct {
	Addr   string
	Pieces []int
}

// FormatDirectory renders "addr: 1,2,3" lines, or NoPeers for an empty table.
func FormatDirectory(entries []PeerEntry) string {
	if len(entries) == 0 {
		return NoPeers
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.Addr+": "+joinInts(e.Pieces, ","))
	}
	return strings.Join(lines, "\n")
}

// ParseDirectory decodes a listing. Malformed lines are skipped and reported
// in the returned error; well-formed entries are always returned.
func ParseDirectory(s string) ([]PeerEntry, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == NoPeers {
		return nil, nil
	}

	var (
		entries []PeerEntry
		errs    error
	)
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		e, err := parseEntry(line)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, errs
}

func parseEntry(line string) (PeerEntry, error) {
	addr, list, found := strings.Cut(line, ": ")
	if !found {
		if !strings.HasSuffix(line, ":") {
			return PeerEntry{}, fmt.Errorf("%w: directory entry %q", ErrMalformed, line)
		}
		addr = strings.TrimSuffix(line, ":")
	}
	if err := ValidateAddr(addr); err != nil {
		return PeerEntry{}, err
	}
	pieces, err := splitInts(list, ",")
	if err != nil {
		return PeerEntry{}, fmt.Errorf("%w: directory entry %q: %v", ErrMalformed, line, err)
	}
	return PeerEntry{Addr: addr, Pieces: pieces}, nil
}

// FormatAddPeer renders "ADD_PEER <addr> [i j ...]".
func FormatAddPeer(addr string, pieces []int) string {
	if len(pieces) == 0 {
		return AddPeer + " " + addr
	}
	return AddPeer + " " + addr + " " + joinInts(pieces, " ")
}

func ParseAddPeer(msg string) (string, []int, error) {
	fields := strings.Fields(msg)
	if len(fields) < 2 || fields[0] != AddPeer {
		return "", nil, fmt.Errorf("%w: %q", ErrMalformed, msg)
	}
	if err := ValidateAddr(fields[1]); err != nil {
		return "", nil, err
	}
	pieces := make([]int, 0, len(fields)-2)
	for _, f := range fields[2:] {
		i, err := strconv.Atoi(f)
		if err != nil || i < 1 {
			return "", nil, fmt.Errorf("%w: piece index %q", ErrMalformed, f)
		}
		pieces = append(pieces, i)
	}
	return fields[1], pieces, nil
}

// FormatRemovePeer renders "REMOVE_PEER [addr]".
func FormatRemovePeer(addr string) string {
	if addr == "" {
		return RemovePeer
	}
	return RemovePeer + " " + addr
}

// ParseRemovePeer returns the named address, or "" when the message names none.
func ParseRemovePeer(msg string) (string, error) {
	fields := strings.Fields(msg)
	if len(fields) == 0 || fields[0] != RemovePeer || len(fields) > 2 {
		return "", fmt.Errorf("%w: %q", ErrMalformed, msg)
	}
	if len(fields) == 1 {
		return "", nil
	}
	if err := ValidateAddr(fields[1]); err != nil {
		return "", err
	}
	return fields[1], nil
}

// FormatPieceRequest renders "<index> [from]". from is the requester's
// listening address, used by the responder for upload accounting.
func FormatPieceRequest(index int, from string) string {
	if from == "" {
		return strconv.Itoa(index)
	}
	return strconv.Itoa(index) + " " + from
}

func ParsePieceRequest(msg string) (int, string, error) {
	fields := strings.Fields(msg)
	if len(fields) == 0 || len(fields) > 2 {
		return 0, "", fmt.Errorf("%w: piece request %q", ErrMalformed, msg)
	}
	index, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, "", fmt.Errorf("%w: piece request %q", ErrMalformed, msg)
	}
	if len(fields) == 1 {
		return index, "", nil
	}
	if err := ValidateAddr(fields[1]); err != nil {
		return 0, "", err
	}
	return index, fields[1], nil
}

// ValidateAddr checks a host:port string.
func ValidateAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return fmt.Errorf("%w: address %q", ErrMalformed, addr)
	}
	if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("%w: port in %q", ErrMalformed, addr)
	}
	return nil
}

func joinInts(v []int, sep string) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, sep)
}

func splitInts(s, sep string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []int{}, nil
	}
	parts := strings.Split(s, sep)
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("bad piece index %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}
