package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"tarun-kavipurapu/p2p-swarm/pkg/logger"
	"tarun-kavipurapu/p2p-swarm/pkg/protocol"
	"tarun-kavipurapu/p2p-swarm/pkg/transport"
)

// ErrNoFreePort is returned when every port in the fallback range is taken.
var ErrNoFreePort = errors.New("no free port")

// Options tunes connections made or accepted by a TCPTransport.
type Options struct {
	// MaxBindAttempts is how many successive ports ListenAndAccept tries.
	MaxBindAttempts int
	DialTimeout     time.Duration
	// ReadTimeout bounds the wait for each inbound frame. Zero waits forever.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxFrameSize uint32
}

// TCPNode implements transport.Node
type TCPNode struct {
	conn net.Conn
	lock sync.Mutex
	// outbound is true for connections we dialed
	outbound bool
	opts     Options
}

func NewTCPNode(conn net.Conn, outbound bool, opts Options) *TCPNode {
	return &TCPNode{
		conn:     conn,
		outbound: outbound,
		opts:     opts,
	}
}

func (n *TCPNode) Send(f protocol.Frame) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	if n.opts.WriteTimeout > 0 {
		if err := n.conn.SetWriteDeadline(time.Now().Add(n.opts.WriteTimeout)); err != nil {
			return err
		}
	}
	return WriteFrame(n.conn, f)
}

// Recv is only safe from one goroutine at a time.
func (n *TCPNode) Recv() (protocol.Frame, error) {
	if n.opts.ReadTimeout > 0 {
		if err := n.conn.SetReadDeadline(time.Now().Add(n.opts.ReadTimeout)); err != nil {
			return protocol.Frame{}, err
		}
	}
	return ReadFrame(n.conn, n.opts.MaxFrameSize)
}

func (n *TCPNode) Close() error {
	return n.conn.Close()
}

func (n *TCPNode) Addr() string {
	return n.conn.RemoteAddr().String()
}

// Dial connects to addr with the dial timeout from opts and the context.
func Dial(ctx context.Context, addr string, opts Options) (*TCPNode, error) {
	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewTCPNode(conn, true, opts), nil
}

// TCPTransport implements transport.Transport
type TCPTransport struct {
	listenAddr string
	opts       Options
	listener   net.Listener

	onPeer     func(transport.Node) error
	onFrame    func(transport.Node, protocol.Frame) error
	onPeerGone func(transport.Node, error)

	mu     sync.Mutex
	conns  map[*TCPNode]struct{}
	closed bool
	quitCh chan struct{}
	wg     sync.WaitGroup
}

func NewTCPTransport(addr string, opts Options) *TCPTransport {
	if opts.MaxBindAttempts < 1 {
		opts.MaxBindAttempts = 1
	}
	return &TCPTransport{
		listenAddr: addr,
		opts:       opts,
		conns:      make(map[*TCPNode]struct{}),
		quitCh:     make(chan struct{}),
	}
}

func (t *TCPTransport) SetOnPeer(f func(transport.Node) error) {
	t.onPeer = f
}

func (t *TCPTransport) SetOnFrame(f func(transport.Node, protocol.Frame) error) {
	t.onFrame = f
}

func (t *TCPTransport) SetOnPeerGone(f func(transport.Node, error)) {
	t.onPeerGone = f
}

// ListenAndAccept binds the listener, moving to the next port while the
// current one is in use, and starts accepting. The transport closes itself
// when ctx is done.
func (t *TCPTransport) ListenAndAccept(ctx context.Context) error {
	ln, err := listenWithFallback(t.listenAddr, t.opts.MaxBindAttempts)
	if err != nil {
		return err
	}
	t.listener = ln
	t.listenAddr = ln.Addr().String()

	t.wg.Add(1)
	go t.acceptLoop()

	go func() {
		select {
		case <-ctx.Done():
			_ = t.Close()
		case <-t.quitCh:
		}
	}()
	return nil
}

func listenWithFallback(addr string, attempts int) (net.Listener, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid listen port %q: %w", portStr, err)
	}
	if port == 0 {
		return net.Listen("tcp", addr)
	}

	for i := 0; i < attempts && port+i <= 65535; i++ {
		candidate := net.JoinHostPort(host, strconv.Itoa(port+i))
		ln, err := net.Listen("tcp", candidate)
		if err == nil {
			return ln, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, err
		}
		logger.Sugar.Warnf("[TCPTransport] port in use, trying next: addr=%s", candidate)
	}
	return nil, fmt.Errorf("%w: %d attempts from %s", ErrNoFreePort, attempts, addr)
}

func (t *TCPTransport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Sugar.Errorf("[TCPTransport] accept error: listen=%s err=%v", t.listenAddr, err)
			select {
			case <-t.quitCh:
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		node := NewTCPNode(conn, false, t.opts)
		if !t.track(node) {
			_ = conn.Close()
			return
		}
		t.wg.Add(1)
		go t.handleConn(node)
	}
}

func (t *TCPTransport) track(node *TCPNode) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.conns[node] = struct{}{}
	return true
}

func (t *TCPTransport) untrack(node *TCPNode) {
	t.mu.Lock()
	delete(t.conns, node)
	t.mu.Unlock()
}

func (t *TCPTransport) handleConn(node *TCPNode) {
	defer t.wg.Done()
	defer t.untrack(node)
	defer node.Close()

	if t.onPeer != nil {
		if err := t.onPeer(node); err != nil {
			logger.Sugar.Warnf("[TCPTransport] peer rejected: remote=%s err=%v", node.Addr(), err)
			return
		}
	}

	var cause error
	for {
		frame, err := node.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Sugar.Debugf("[TCPTransport] read error: remote=%s err=%v", node.Addr(), err)
				cause = err
			}
			break
		}
		if t.onFrame == nil {
			continue
		}
		if err := t.onFrame(node, frame); err != nil {
			logger.Sugar.Errorf("[TCPTransport] handle frame failed: remote=%s type=%d err=%v", node.Addr(), frame.Type, err)
		}
	}

	if t.onPeerGone != nil {
		t.onPeerGone(node, cause)
	}
}

func (t *TCPTransport) Dial(ctx context.Context, addr string) (transport.Node, error) {
	return Dial(ctx, addr, t.opts)
}

// Close stops accepting, closes live inbound connections and waits for
// their handlers to return.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.quitCh)

	var err error
	if t.listener != nil {
		if cerr := t.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	for node := range t.conns {
		if cerr := node.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	t.mu.Unlock()

	t.wg.Wait()
	return err
}

// Addr returns the bound address once listening, the configured one before.
func (t *TCPTransport) Addr() string {
	return t.listenAddr
}

var _ transport.Transport = (*TCPTransport)(nil)
