package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tarun-kavipurapu/p2p-swarm/pkg/logger"
	"tarun-kavipurapu/p2p-swarm/pkg/protocol"
	"tarun-kavipurapu/p2p-swarm/pkg/transport/tcp"
)

var (
	ErrTrackerRejected = errors.New("tracker rejected request")
	ErrSessionClosed   = errors.New("tracker session closed")
)

// TrackerClient is a persistent session with the tracker. Replies are
// matched to requests one at a time; broadcast listings are handed to the
// onDirectory callback from the read goroutine.
type TrackerClient struct {
	node        *tcp.TCPNode
	timeout     time.Duration
	onDirectory func([]protocol.PeerEntry)

	reqMu   sync.Mutex
	replies chan protocol.Frame

	done    chan struct{}
	errMu   sync.Mutex
	readErr error
}

// DialTracker opens a session. timeout bounds the wait for each reply.
func DialTracker(ctx context.Context, addr string, opts tcp.Options, timeout time.Duration, onDirectory func([]protocol.PeerEntry)) (*TrackerClient, error) {
	// broadcasts arrive at any time, so the session read never times out
	opts.ReadTimeout = 0
	node, err := tcp.Dial(ctx, addr, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to dial tracker %s: %w", addr, err)
	}
	c := &TrackerClient{
		node:        node,
		timeout:     timeout,
		onDirectory: onDirectory,
		replies:     make(chan protocol.Frame, 4),
		done:        make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *TrackerClient) readLoop() {
	defer close(c.done)
	for {
		f, err := c.node.Recv()
		if err != nil {
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()
			return
		}
		switch f.Type {
		case protocol.FrameTypeBroadcast:
			entries, perr := protocol.ParseDirectory(f.Text())
			if perr != nil {
				logger.Sugar.Warnf("[TrackerClient] skipped malformed directory entries: %v", perr)
			}
			if c.onDirectory != nil {
				c.onDirectory(entries)
			}
		case protocol.FrameTypeControl:
			select {
			case c.replies <- f:
			default:
				logger.Sugar.Warnf("[TrackerClient] dropped unexpected reply: %q", f.Text())
			}
		default:
			logger.Sugar.Warnf("[TrackerClient] unexpected frame type %d", f.Type)
		}
	}
}

func (c *TrackerClient) roundTrip(ctx context.Context, msg string) (string, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	// a reply that arrived after an earlier timeout belongs to nobody
	for len(c.replies) > 0 {
		<-c.replies
	}

	if err := c.node.Send(protocol.Control(msg)); err != nil {
		return "", fmt.Errorf("send %q: %w", msg, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case f := <-c.replies:
		return f.Text(), nil
	case <-c.done:
		return "", fmt.Errorf("%w: %v", ErrSessionClosed, c.Err())
	case <-timer.C:
		return "", fmt.Errorf("timeout waiting for reply to %q", msg)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Announce registers addr with the held pieces and returns the ack.
func (c *TrackerClient) Announce(ctx context.Context, addr string, pieces []int) (string, error) {
	reply, err := c.roundTrip(ctx, protocol.FormatAddPeer(addr, pieces))
	if err != nil {
		return "", err
	}
	switch reply {
	case protocol.PeerAdded, protocol.PeerUpdated:
		return reply, nil
	}
	return reply, fmt.Errorf("%w: %q", ErrTrackerRejected, reply)
}

// RequestPeers fetches the directory. Malformed entries are skipped and
// reported through the logger.
func (c *TrackerClient) RequestPeers(ctx context.Context) ([]protocol.PeerEntry, error) {
	reply, err := c.roundTrip(ctx, protocol.RequestPeers)
	if err != nil {
		return nil, err
	}
	if reply == protocol.Error {
		return nil, fmt.Errorf("%w: %q", ErrTrackerRejected, reply)
	}
	entries, perr := protocol.ParseDirectory(reply)
	if perr != nil {
		logger.Sugar.Warnf("[TrackerClient] skipped malformed directory entries: %v", perr)
	}
	return entries, nil
}

// Remove unregisters addr, or the session's address when addr is empty.
// It reports whether the tracker knew the address.
func (c *TrackerClient) Remove(ctx context.Context, addr string) (bool, error) {
	reply, err := c.roundTrip(ctx, protocol.FormatRemovePeer(addr))
	if err != nil {
		return false, err
	}
	switch reply {
	case protocol.PeerRemoved:
		return true, nil
	case protocol.PeerNotFound:
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrTrackerRejected, reply)
}

// Done is closed when the session ends.
func (c *TrackerClient) Done() <-chan struct{} {
	return c.done
}

func (c *TrackerClient) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

func (c *TrackerClient) Close() error {
	return c.node.Close()
}
