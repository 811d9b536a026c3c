package transport

import (
	"context"

	"tarun-kavipurapu/p2p-swarm/pkg/protocol"
)

// Node represents a remote peer that we can exchange frames with
type Node interface {
	Send(f protocol.Frame) error
	Recv() (protocol.Frame, error)
	Close() error
	Addr() string
}

// Transport handles the network layer
type Transport interface {
	ListenAndAccept(ctx context.Context) error
	Dial(ctx context.Context, addr string) (Node, error)
	Close() error
	Addr() string

	// SetOnPeer runs when an inbound connection is accepted. A non-nil
	// error drops the connection.
	SetOnPeer(func(Node) error)
	// SetOnFrame runs for every frame read from an inbound connection.
	SetOnFrame(func(Node, protocol.Frame) error)
	// SetOnPeerGone runs once when an inbound connection ends.
	SetOnPeerGone(func(Node, error))
}
