// Package tracker keeps the swarm directory of peer addresses and the pieces
// each one holds, and pushes the directory to every registered peer when it
// changes.
package tracker

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"tarun-kavipurapu/p2p-swarm/pkg/config"
	"tarun-kavipurapu/p2p-swarm/pkg/discovery"
	"tarun-kavipurapu/p2p-swarm/pkg/logger"
	"tarun-kavipurapu/p2p-swarm/pkg/protocol"
	"tarun-kavipurapu/p2p-swarm/pkg/transport"
	"tarun-kavipurapu/p2p-swarm/pkg/transport/tcp"
)

type Server struct {
	cfg        config.Tracker
	Transport  transport.Transport
	advertiser *discovery.Advertiser

	// mu guards every table below. Upsert, ack and broadcast happen under
	// one critical section so a broadcast always includes the registration
	// that caused it.
	mu       sync.Mutex
	records  map[string][]int          // listen addr -> pieces
	order    []string                  // listen addrs in registration order
	conns    map[string]transport.Node // listen addr -> live connection
	sessions map[string]*session       // remote addr -> session

	started time.Time
	quitCh  chan struct{}
	stopped sync.Once
}

type session struct {
	node       transport.Node
	listenAddr string
	lastSeen   time.Time
}

func New(cfg config.Tracker) *Server {
	trans := tcp.NewTCPTransport(cfg.ListenAddr, tcp.Options{
		MaxBindAttempts: 1,
		WriteTimeout:    cfg.WriteTimeout,
		MaxFrameSize:    uint32(config.MaxFrameSize.Bytes()),
	})

	s := &Server{
		cfg:        cfg,
		Transport:  trans,
		advertiser: discovery.NewAdvertiser(),
		records:    make(map[string][]int),
		conns:      make(map[string]transport.Node),
		sessions:   make(map[string]*session),
		quitCh:     make(chan struct{}),
	}
	trans.SetOnPeer(s.OnPeer)
	trans.SetOnFrame(s.OnFrame)
	trans.SetOnPeerGone(s.OnPeerGone)
	return s
}

// Start binds the listener and returns. The server stops when ctx is done
// or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	logger.Sugar.Infof("[Tracker] [%s] starting tracker...", s.cfg.ListenAddr)

	if err := s.Transport.ListenAndAccept(ctx); err != nil {
		return fmt.Errorf("tracker listen: %w", err)
	}
	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()
	logger.Sugar.Infof("[Tracker] listening: addr=%s", s.Transport.Addr())

	if s.cfg.Advertise {
		s.startAdvertising()
	}
	if s.cfg.IdleTimeout > 0 && s.cfg.SweepInterval > 0 {
		go s.monitorPeers()
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.quitCh:
		}
	}()
	return nil
}

// Run starts the server and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Server) startAdvertising() {
	_, portStr, err := net.SplitHostPort(s.Transport.Addr())
	if err != nil {
		logger.Sugar.Errorf("[Tracker] failed to parse address: %v", err)
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return
	}
	meta := map[string]string{"version": "1", "type": "tracker"}
	if err := s.advertiser.Start("", port, meta); err != nil {
		logger.Sugar.Errorf("[Tracker] failed to start mDNS advertisement: %v", err)
	}
}

func (s *Server) Addr() string {
	return s.Transport.Addr()
}

func (s *Server) Stop() {
	s.stopped.Do(func() {
		s.advertiser.Stop()
		close(s.quitCh)
		if err := s.Transport.Close(); err != nil {
			logger.Sugar.Warnf("[Tracker] close transport: %v", err)
		}
		logger.Sugar.Info("[Tracker] stopped")
	})
}

func (s *Server) OnPeer(node transport.Node) error {
	s.mu.Lock()
	s.sessions[node.Addr()] = &session{node: node, lastSeen: time.Now()}
	s.mu.Unlock()
	logger.Sugar.Infof("[Tracker] peer connected: remote=%s", node.Addr())
	return nil
}

// OnPeerGone drops the record registered over the closed connection.
func (s *Server) OnPeerGone(node transport.Node, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[node.Addr()]
	delete(s.sessions, node.Addr())
	if !ok || sess.listenAddr == "" || s.conns[sess.listenAddr] != node {
		logger.Sugar.Infof("[Tracker] peer disconnected: remote=%s", node.Addr())
		return
	}
	s.removeLocked(sess.listenAddr)
	logger.Sugar.Infof("[Tracker] peer disconnected: remote=%s listen=%s err=%v", node.Addr(), sess.listenAddr, cause)
	if err := s.broadcastLocked(); err != nil {
		logger.Sugar.Warnf("[Tracker] broadcast after disconnect: %v", err)
	}
}

func (s *Server) OnFrame(node transport.Node, f protocol.Frame) error {
	s.touch(node)
	if f.Type != protocol.FrameTypeControl {
		return node.Send(protocol.Control(protocol.Error))
	}

	msg := strings.TrimSpace(f.Text())
	cmd, _, _ := strings.Cut(msg, " ")
	switch cmd {
	case protocol.RequestPeers:
		return node.Send(protocol.Control(protocol.FormatDirectory(s.ListPeers())))

	case protocol.AddPeer:
		addr, pieces, err := protocol.ParseAddPeer(msg)
		if err != nil {
			return multierr.Append(err, node.Send(protocol.Control(protocol.Error)))
		}
		_, err = s.Register(node, addr, pieces)
		return err

	case protocol.RemovePeer:
		addr, err := protocol.ParseRemovePeer(msg)
		if err != nil {
			return multierr.Append(err, node.Send(protocol.Control(protocol.Error)))
		}
		_, err = s.Unregister(node, addr)
		return err

	default:
		logger.Sugar.Warnf("[Tracker] unknown message: remote=%s msg=%q", node.Addr(), msg)
		return node.Send(protocol.Control(protocol.Error))
	}
}

func (s *Server) touch(node transport.Node) {
	s.mu.Lock()
	if sess, ok := s.sessions[node.Addr()]; ok {
		sess.lastSeen = time.Now()
	}
	s.mu.Unlock()
}

// ListPeers returns every record in registration order.
func (s *Server) ListPeers() []protocol.PeerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *Server) listLocked() []protocol.PeerEntry {
	entries := make([]protocol.PeerEntry, 0, len(s.order))
	for _, addr := range s.order {
		pieces := make([]int, len(s.records[addr]))
		copy(pieces, s.records[addr])
		entries = append(entries, protocol.PeerEntry{Addr: addr, Pieces: pieces})
	}
	return entries
}

// Register inserts or replaces the record for addr, acknowledges on node
// and broadcasts the directory to every registered peer. It reports whether
// the record is new. The returned error aggregates delivery failures; none
// of them stops delivery to the others. node may be nil.
func (s *Server) Register(node transport.Node, addr string, pieces []int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]int, len(pieces))
	copy(list, pieces)

	_, exists := s.records[addr]
	if !exists {
		s.order = append(s.order, addr)
	}
	s.records[addr] = list

	if node != nil {
		s.bindLocked(node, addr)
	}

	ack := protocol.PeerAdded
	if exists {
		ack = protocol.PeerUpdated
	}
	logger.Sugar.Infof("[Tracker] peer registered: listen=%s pieces=%d ack=%s", addr, len(list), ack)

	var err error
	if node != nil {
		if serr := node.Send(protocol.Control(ack)); serr != nil {
			err = multierr.Append(err, fmt.Errorf("ack %s: %w", addr, serr))
		}
	}
	return !exists, multierr.Append(err, s.broadcastLocked())
}

// bindLocked points addr at node. A session that registered under another
// address before gives up its old record.
func (s *Server) bindLocked(node transport.Node, addr string) {
	sess, ok := s.sessions[node.Addr()]
	if !ok {
		sess = &session{node: node, lastSeen: time.Now()}
		s.sessions[node.Addr()] = sess
	}
	if old := sess.listenAddr; old != "" && old != addr && s.conns[old] == node {
		s.removeLocked(old)
	}
	sess.listenAddr = addr
	s.conns[addr] = node
}

// Unregister removes addr, or the address registered over node when addr
// is empty, and answers PEER_REMOVED or PEER_NOT_FOUND on node.
func (s *Server) Unregister(node transport.Node, addr string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if addr == "" && node != nil {
		if sess, ok := s.sessions[node.Addr()]; ok {
			addr = sess.listenAddr
		}
	}

	_, removed := s.records[addr]
	reply := protocol.PeerNotFound
	if removed {
		s.removeLocked(addr)
		reply = protocol.PeerRemoved
		if node != nil {
			if sess, ok := s.sessions[node.Addr()]; ok && sess.listenAddr == addr {
				sess.listenAddr = ""
			}
		}
		logger.Sugar.Infof("[Tracker] peer removed: listen=%s", addr)
	}

	var err error
	if node != nil {
		err = node.Send(protocol.Control(reply))
	}
	if removed {
		err = multierr.Append(err, s.broadcastLocked())
	}
	return removed, err
}

func (s *Server) removeLocked(addr string) {
	if _, ok := s.records[addr]; !ok {
		return
	}
	delete(s.records, addr)
	delete(s.conns, addr)
	for i, a := range s.order {
		if a == addr {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// broadcastLocked pushes the full directory to every registered connection.
func (s *Server) broadcastLocked() error {
	frame := protocol.Frame{
		Type:    protocol.FrameTypeBroadcast,
		Payload: []byte(protocol.FormatDirectory(s.listLocked())),
	}
	var errs error
	for _, addr := range s.order {
		node, ok := s.conns[addr]
		if !ok {
			continue
		}
		if err := node.Send(frame); err != nil {
			logger.Sugar.Warnf("[Tracker] broadcast failed: to=%s err=%v", addr, err)
			errs = multierr.Append(errs, fmt.Errorf("broadcast to %s: %w", addr, err))
		}
	}
	return errs
}

// monitorPeers closes connections that stayed silent past the idle timeout;
// OnPeerGone then drops their records.
func (s *Server) monitorPeers() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quitCh:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *Server) sweep(now time.Time) {
	s.mu.Lock()
	var idle []transport.Node
	for remote, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > s.cfg.IdleTimeout {
			logger.Sugar.Warnf("[Tracker] peer timed out: remote=%s listen=%s", remote, sess.listenAddr)
			idle = append(idle, sess.node)
		}
	}
	s.mu.Unlock()

	for _, node := range idle {
		_ = node.Close()
	}
}

func (s *Server) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Tracker running on: %s\n", s.Transport.Addr())
	if !s.started.IsZero() {
		fmt.Fprintf(&b, "Uptime: %s\n", time.Since(s.started).Round(time.Second))
	}
	fmt.Fprintf(&b, "Connected sessions: %d\n", len(s.sessions))
	fmt.Fprintf(&b, "Registered peers: %d\n", len(s.order))
	for _, addr := range s.order {
		fmt.Fprintf(&b, " - %s holds %d pieces\n", addr, len(s.records[addr]))
	}
	return b.String()
}

// Peers returns the registered addresses in registration order.
func (s *Server) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}
