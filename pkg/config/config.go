// Package config holds the explicit configuration values handed to the
// tracker and to peer nodes at construction time.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
)

const (
	DefaultTrackerPort = 9090
	DefaultPeerPort    = 8000

	// DefaultChunkSize is the piece size used when describing a file.
	DefaultChunkSize = 256 * datasize.KB

	// MaxFrameSize bounds a single wire frame. A piece payload must fit.
	MaxFrameSize = 64 * datasize.MB
)

// Tracker configures the tracker service.
type Tracker struct {
	ListenAddr string

	// Advertise announces the tracker over mDNS.
	Advertise bool

	// IdleTimeout closes connections that stay silent for longer. Zero disables the sweep.
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	WriteTimeout  time.Duration
}

func DefaultTracker() Tracker {
	return Tracker{
		ListenAddr:    net.JoinHostPort("0.0.0.0", strconv.Itoa(DefaultTrackerPort)),
		IdleTimeout:   3 * time.Minute,
		SweepInterval: 10 * time.Second,
		WriteTimeout:  5 * time.Second,
	}
}

// Node configures a peer node.
type Node struct {
	// Host is the address other peers use to reach this node.
	Host string
	// ListenPort is the first port tried; 0 picks any free port.
	ListenPort      int
	MaxBindAttempts int

	// TrackerAddr overrides the tracker address of the swarm description.
	TrackerAddr string
	// LookupTracker resolves the tracker over mDNS when no address is known.
	LookupTracker bool

	MinPeers         int
	RegisterInterval time.Duration
	RefreshInterval  time.Duration
	FetchBackoff     time.Duration
	ChokeInterval    time.Duration
	MetricsInterval  time.Duration
	TopPeers         int

	DialTimeout time.Duration
	IOTimeout   time.Duration

	// UploadRate throttles served payload bytes per second. Zero is unlimited.
	UploadRate   datasize.ByteSize
	MaxInbound   int64
	DataDir      string
	OutputPath   string
	ShowProgress bool
}

func DefaultNode() Node {
	return Node{
		Host:             "127.0.0.1",
		ListenPort:       DefaultPeerPort,
		MaxBindAttempts:  20,
		MinPeers:         2,
		RegisterInterval: 5 * time.Second,
		RefreshInterval:  30 * time.Second,
		FetchBackoff:     5 * time.Second,
		ChokeInterval:    30 * time.Second,
		MetricsInterval:  time.Minute,
		TopPeers:         4,
		DialTimeout:      5 * time.Second,
		IOTimeout:        30 * time.Second,
		MaxInbound:       64,
	}
}

// Validate rejects values the node cannot run with.
func (n Node) Validate() error {
	if n.Host == "" {
		return fmt.Errorf("node host is required")
	}
	if n.ListenPort < 0 || n.ListenPort > 65535 {
		return fmt.Errorf("listen port %d out of range", n.ListenPort)
	}
	if n.MaxBindAttempts < 1 {
		return fmt.Errorf("max bind attempts must be positive")
	}
	if n.MinPeers < 0 {
		return fmt.Errorf("min peers must not be negative")
	}
	if n.TopPeers < 1 {
		return fmt.Errorf("top peers must be positive")
	}
	if n.MaxInbound < 1 {
		return fmt.Errorf("max inbound must be positive")
	}
	for name, d := range map[string]time.Duration{
		"register interval": n.RegisterInterval,
		"refresh interval":  n.RefreshInterval,
		"fetch backoff":     n.FetchBackoff,
		"choke interval":    n.ChokeInterval,
		"dial timeout":      n.DialTimeout,
		"io timeout":        n.IOTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// ParseSize accepts human sizes such as "256KB" or "1MB".
func ParseSize(s string) (datasize.ByteSize, error) {
	var v datasize.ByteSize
	if err := v.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return v, nil
}
