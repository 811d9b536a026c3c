// Package peer implements a swarm node: it serves the pieces it holds,
// fetches missing pieces rarest-first from other peers and ranks requesters
// by how much it uploaded to them.
package peer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"tarun-kavipurapu/p2p-swarm/pkg/config"
	"tarun-kavipurapu/p2p-swarm/pkg/discovery"
	"tarun-kavipurapu/p2p-swarm/pkg/logger"
	"tarun-kavipurapu/p2p-swarm/pkg/metainfo"
	"tarun-kavipurapu/p2p-swarm/pkg/monitor"
	"tarun-kavipurapu/p2p-swarm/pkg/piece"
	"tarun-kavipurapu/p2p-swarm/pkg/protocol"
	"tarun-kavipurapu/p2p-swarm/pkg/storage"
	"tarun-kavipurapu/p2p-swarm/pkg/transport"
	"tarun-kavipurapu/p2p-swarm/pkg/transport/tcp"
)

var ErrNoTracker = errors.New("no tracker address")

// Node is one swarm participant. It is created with New, optionally given
// the whole file with ShareFile, and driven by Run.
type Node struct {
	id        uuid.UUID
	cfg       config.Node
	desc      *metainfo.Description
	store     storage.Store
	source    []storage.Piece
	Transport *tcp.TCPTransport

	metrics *monitor.Metrics
	ledger  *Ledger
	choker  *Choker
	limiter *rate.Limiter
	inbound *semaphore.Weighted
	rng     *rand.Rand

	// ctx scopes inbound handlers to the node's lifetime
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards everything below
	mu        sync.Mutex
	addr      string
	held      *roaring.Bitmap
	pieces    *piece.Directory // nil until the piece count is known
	progress  *Progress
	peers     map[string][]int // other peers' advertised pieces
	peerOrder []string
	known     int
	dirCh     chan struct{} // closed and replaced on every directory update

	trackerMu   sync.Mutex
	trackerAddr string
	tracker     *TrackerClient

	ready    chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a node for the swarm described by desc. desc may be nil for a
// pure consumer; the piece count is then taken from peer advertisements and
// payloads cannot be checked against expected digests. store defaults to
// memory.
func New(cfg config.Node, desc *metainfo.Description, store storage.Store) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid node config: %w", err)
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	id := uuid.New()
	seed := uint64(time.Now().UnixNano())
	ledger := NewLedger()
	ctx, cancel := context.WithCancel(context.Background())

	listenAddr := net.JoinHostPort("", strconv.Itoa(cfg.ListenPort))
	trans := tcp.NewTCPTransport(listenAddr, tcp.Options{
		MaxBindAttempts: cfg.MaxBindAttempts,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.IOTimeout,
		WriteTimeout:    cfg.IOTimeout,
		MaxFrameSize:    uint32(config.MaxFrameSize.Bytes()),
	})

	n := &Node{
		id:        id,
		cfg:       cfg,
		desc:      desc,
		store:     store,
		Transport: trans,
		metrics:   monitor.New(),
		ledger:    ledger,
		choker:    NewChoker(ledger, cfg.TopPeers, rand.New(rand.NewPCG(seed, uint64(id.ID())))),
		inbound:   semaphore.NewWeighted(cfg.MaxInbound),
		rng:       rand.New(rand.NewPCG(seed^0x9e3779b97f4a7c15, uint64(id.ID()))),
		ctx:       ctx,
		cancel:    cancel,
		held:      roaring.New(),
		peers:     make(map[string][]int),
		dirCh:     make(chan struct{}),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}

	if cfg.UploadRate > 0 {
		burst := config.MaxFrameSize.Bytes()
		if desc != nil && desc.ChunkSize > 0 {
			burst = uint64(desc.ChunkSize)
		}
		burst = max(burst, cfg.UploadRate.Bytes())
		n.limiter = rate.NewLimiter(rate.Limit(cfg.UploadRate.Bytes()), int(burst))
	}
	if desc != nil {
		n.initPiecesLocked(desc.TotalPieces())
	}

	trans.SetOnFrame(n.OnFrame)
	logger.Sugar.Infof("[Node] initialized: id=%s listen=%s", id, listenAddr)
	return n, nil
}

// ShareFile hands the node the whole file. Run then picks the pieces it
// advertises and serves.
func (n *Node) ShareFile(pieces []storage.Piece) error {
	if n.desc == nil {
		return errors.New("sharing a file needs its description")
	}
	if len(pieces) != n.desc.TotalPieces() {
		return fmt.Errorf("got %d pieces, description lists %d", len(pieces), n.desc.TotalPieces())
	}
	n.source = pieces
	return nil
}

func (n *Node) initPiecesLocked(total int) {
	n.pieces = piece.NewDirectory(total)
	it := n.held.Iterator()
	for it.HasNext() {
		n.pieces.MarkComplete(int(it.Next()))
	}

	var sizes []uint64
	var fileSize uint64
	name := "download"
	if n.desc != nil {
		name = n.desc.FileName
		fileSize = uint64(n.desc.TotalSize)
		sizes = PieceSizes(fileSize, uint64(n.desc.ChunkSize), total)
	}
	n.progress = NewProgress(name, fileSize, total, sizes)
}

// Run starts the listener, joins the swarm and keeps fetching, serving and
// ranking peers until ctx is done. It returns nil on cancellation and an
// error for fatal failures: no free port, unreachable tracker at join time,
// or a failed reassembly.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer n.cancel()
	stop := context.AfterFunc(ctx, n.cancel)
	defer stop()

	if err := n.Transport.ListenAndAccept(ctx); err != nil {
		return fmt.Errorf("failed to start listening: %w", err)
	}
	defer n.Transport.Close()

	_, port, err := net.SplitHostPort(n.Transport.Addr())
	if err != nil {
		return fmt.Errorf("bad listen address %q: %w", n.Transport.Addr(), err)
	}
	n.mu.Lock()
	n.addr = net.JoinHostPort(n.cfg.Host, port)
	n.mu.Unlock()
	logger.Sugar.Infof("[Node] listening: id=%s addr=%s", n.id, n.Addr())

	trackerAddr, err := n.resolveTracker(ctx)
	if err != nil {
		return err
	}
	n.trackerMu.Lock()
	n.trackerAddr = trackerAddr
	n.trackerMu.Unlock()
	defer n.leave(ctx)

	if n.source != nil {
		if err := n.prepareSeeding(ctx); err != nil {
			return canceledOr(ctx, err)
		}
	}
	if err := n.joinSwarm(ctx); err != nil {
		return canceledOr(ctx, err)
	}
	close(n.ready)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.fetchLoop(gctx) })
	g.Go(func() error {
		n.chokeLoop(gctx)
		return nil
	})
	g.Go(func() error {
		n.refreshLoop(gctx)
		return nil
	})
	if n.cfg.MetricsInterval > 0 {
		g.Go(func() error {
			n.metrics.LogPeriodic(gctx, n.cfg.MetricsInterval)
			return nil
		})
	}
	return canceledOr(ctx, g.Wait())
}

func canceledOr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (n *Node) resolveTracker(ctx context.Context) (string, error) {
	if n.cfg.TrackerAddr != "" {
		return n.cfg.TrackerAddr, nil
	}
	if n.desc != nil && n.desc.Tracker() != "" {
		return n.desc.Tracker(), nil
	}
	if !n.cfg.LookupTracker {
		return "", ErrNoTracker
	}

	resolver, err := discovery.NewResolver()
	if err != nil {
		return "", err
	}
	lookupCtx, cancel := context.WithTimeout(ctx, n.cfg.DialTimeout)
	defer cancel()
	addr, err := resolver.LookupTracker(lookupCtx)
	if err != nil {
		return "", fmt.Errorf("%w: mDNS lookup: %v", ErrNoTracker, err)
	}
	logger.Sugar.Infof("[Node] found tracker over mDNS: addr=%s", addr)
	return addr, nil
}

func (n *Node) dialOpts() tcp.Options {
	return tcp.Options{
		DialTimeout:  n.cfg.DialTimeout,
		ReadTimeout:  n.cfg.IOTimeout,
		WriteTimeout: n.cfg.IOTimeout,
		MaxFrameSize: uint32(config.MaxFrameSize.Bytes()),
	}
}

// session returns the tracker session, dialing a new one when there is none
// or the last one ended. fresh reports a new session, which the tracker
// does not yet associate with our address.
func (n *Node) session(ctx context.Context) (c *TrackerClient, fresh bool, err error) {
	n.trackerMu.Lock()
	defer n.trackerMu.Unlock()

	if n.tracker != nil {
		select {
		case <-n.tracker.Done():
			logger.Sugar.Warnf("[Node] tracker session ended, redialing: err=%v", n.tracker.Err())
			_ = n.tracker.Close()
			n.tracker = nil
		default:
			return n.tracker, false, nil
		}
	}
	c, err = DialTracker(ctx, n.trackerAddr, n.dialOpts(), n.cfg.IOTimeout, func(entries []protocol.PeerEntry) {
		n.applyDirectory(entries)
	})
	if err != nil {
		return nil, false, err
	}
	n.tracker = c
	return c, true, nil
}

// leave unregisters from the tracker and closes the session.
func (n *Node) leave(ctx context.Context) {
	n.trackerMu.Lock()
	c := n.tracker
	n.tracker = nil
	n.trackerMu.Unlock()
	if c == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	_, err := c.Remove(ctx, "")
	err = multierr.Append(err, c.Close())
	if err != nil {
		logger.Sugar.Debugf("[Node] leave: %v", err)
	}
	logger.Sugar.Infof("[Node] left swarm: addr=%s", n.Addr())
}

// OnFrame serves one piece request. Requests for pieces the node does not
// hold are answered with CHUNK_NOT_FOUND, never with payload bytes.
func (n *Node) OnFrame(node transport.Node, f protocol.Frame) error {
	notFound := protocol.Control(protocol.ChunkNotFound)
	if f.Type != protocol.FrameTypeControl {
		return multierr.Append(fmt.Errorf("%w: frame type %d", protocol.ErrMalformed, f.Type), node.Send(notFound))
	}
	index, from, err := protocol.ParsePieceRequest(f.Text())
	if err != nil {
		return multierr.Append(err, node.Send(notFound))
	}

	if err := n.inbound.Acquire(n.ctx, 1); err != nil {
		return err
	}
	defer n.inbound.Release(1)

	data, ok := n.servable(index)
	if !ok {
		logger.Sugar.Debugf("[Node] piece not held: index=%d remote=%s", index, node.Addr())
		return node.Send(notFound)
	}
	if n.limiter != nil {
		if err := n.limiter.WaitN(n.ctx, len(data)); err != nil {
			return fmt.Errorf("upload throttle: %w", err)
		}
	}
	if err := node.Send(protocol.Frame{Type: protocol.FrameTypeStream, Payload: data}); err != nil {
		return fmt.Errorf("failed to send piece %d: %w", index, err)
	}

	if from == "" {
		from = node.Addr()
	}
	n.ledger.Record(from)
	n.metrics.RecordUpload(len(data))
	logger.Sugar.Infof("[Node] served piece: index=%d to=%s bytes=%d", index, from, len(data))
	return nil
}

func (n *Node) servable(index int) ([]byte, bool) {
	if index < 1 {
		return nil, false
	}
	n.mu.Lock()
	held := n.held.Contains(uint32(index))
	n.mu.Unlock()
	if !held {
		return nil, false
	}
	data, err := n.store.Get(index)
	if err != nil {
		logger.Sugar.Errorf("[Node] held piece unreadable: index=%d err=%v", index, err)
		return nil, false
	}
	return data, true
}

// Addr is the address advertised to the tracker, empty before Run binds.
func (n *Node) Addr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.addr
}

func (n *Node) ID() uuid.UUID {
	return n.id
}

// Ready is closed once the node has registered and knows enough peers.
func (n *Node) Ready() <-chan struct{} {
	return n.ready
}

// Done is closed once every piece is held.
func (n *Node) Done() <-chan struct{} {
	return n.done
}

// Held lists the pieces the node advertises, ascending.
func (n *Node) Held() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]int, 0, n.held.GetCardinality())
	it := n.held.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// Peers returns the other peers in the last directory seen.
func (n *Node) Peers() []protocol.PeerEntry {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]protocol.PeerEntry, 0, len(n.peerOrder))
	for _, addr := range n.peerOrder {
		out = append(out, protocol.PeerEntry{Addr: addr, Pieces: append([]int(nil), n.peers[addr]...)})
	}
	return out
}

func (n *Node) KnownPeers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.peerOrder...)
}

func (n *Node) Ledger() *Ledger {
	return n.ledger
}

func (n *Node) ChokeState() ChokeState {
	return n.choker.State()
}

func (n *Node) Metrics() monitor.Snapshot {
	return n.metrics.Snapshot()
}

// Progress is nil until the piece count is known.
func (n *Node) Progress() *Progress {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.progress
}

func (n *Node) Status() string {
	n.mu.Lock()
	addr, held, known := n.addr, n.held.GetCardinality(), len(n.peerOrder)
	total := 0
	if n.pieces != nil {
		total = n.pieces.Total()
	}
	n.mu.Unlock()

	choke := n.choker.State()
	s := n.metrics.Snapshot()
	down, up := s.Throughput()

	var b strings.Builder
	fmt.Fprintf(&b, "Node %s listening on: %s\n", n.id, addr)
	fmt.Fprintf(&b, "Pieces held: %d/%d\n", held, total)
	fmt.Fprintf(&b, "Known peers: %d\n", known)
	fmt.Fprintf(&b, "Top peers: %v\n", choke.TopPeers)
	if choke.Optimistic != "" {
		fmt.Fprintf(&b, "Optimistic unchoke: %s\n", choke.Optimistic)
	}
	fmt.Fprintf(&b, "Downloaded: %d pieces (%.2f MB/s)\n", s.DownloadedPieces, down)
	fmt.Fprintf(&b, "Uploaded: %d pieces (%.2f MB/s)\n", s.UploadedPieces, up)
	fmt.Fprintf(&b, "Failures: fetch=%d verify=%d\n", s.FetchFailures, s.VerifyFailures)
	return b.String()
}
