package peer

import (
	"context"
	"errors"
	"fmt"

	"tarun-kavipurapu/p2p-swarm/pkg/protocol"
	"tarun-kavipurapu/p2p-swarm/pkg/transport/tcp"
)

var (
	ErrPieceNotFound   = errors.New("piece not found")
	ErrDigestMismatch  = errors.New("piece digest mismatch")
	ErrUnexpectedReply = errors.New("unexpected reply")
)

// FetchPiece asks the peer at addr for one piece over a fresh connection.
// from is our listening address, sent so the peer can credit the upload.
func FetchPiece(ctx context.Context, addr string, index int, from string, opts tcp.Options) ([]byte, error) {
	node, err := tcp.Dial(ctx, addr, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to dial peer %s: %w", addr, err)
	}
	defer node.Close()
	stop := context.AfterFunc(ctx, func() { node.Close() })
	defer stop()

	if err := node.Send(protocol.Control(protocol.FormatPieceRequest(index, from))); err != nil {
		return nil, fmt.Errorf("failed to send request for piece %d: %w", index, err)
	}
	reply, err := node.Recv()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read piece %d from %s: %w", index, addr, err)
	}

	switch reply.Type {
	case protocol.FrameTypeStream:
		return reply.Payload, nil
	case protocol.FrameTypeControl:
		if reply.Text() == protocol.ChunkNotFound {
			return nil, fmt.Errorf("%w: %d at %s", ErrPieceNotFound, index, addr)
		}
	}
	return nil, fmt.Errorf("%w: type %d from %s", ErrUnexpectedReply, reply.Type, addr)
}
