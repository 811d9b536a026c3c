package peer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"tarun-kavipurapu/p2p-swarm/pkg/integrity"
	"tarun-kavipurapu/p2p-swarm/pkg/logger"
	"tarun-kavipurapu/p2p-swarm/pkg/protocol"
	"tarun-kavipurapu/p2p-swarm/pkg/storage"
)

var (
	ErrOversizedPiece = errors.New("piece larger than chunk size")
	ErrNoDigest       = errors.New("no expected digest")
)

// prepareSeeding decides which pieces of the shared file this node serves.
// It asks the tracker for the directory first: the first node to bring data
// into the swarm serves everything, later full copies a random half.
func (n *Node) prepareSeeding(ctx context.Context) error {
	c, _, err := n.session(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach tracker: %w", err)
	}
	entries, err := c.RequestPeers(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch directory: %w", err)
	}

	set := SeedingSet(entries, len(n.source), n.rng)
	for _, index := range set {
		p := n.source[index-1]
		if err := n.store.Put(index, p.Data); err != nil {
			return fmt.Errorf("failed to store piece %d: %w", index, err)
		}
	}

	n.mu.Lock()
	for _, index := range set {
		n.held.Add(uint32(index))
	}
	// the whole file is local, so nothing is missing even when only part
	// of it is served
	for i := 1; i <= len(n.source); i++ {
		n.pieces.MarkComplete(i)
		n.progress.CompletePiece(i, uint64(len(n.source[i-1].Data)))
	}
	n.mu.Unlock()

	logger.Sugar.Infof("[Node] seeding: serving=%d/%d first=%t", len(set), len(n.source), len(set) == len(n.source))
	return nil
}

// register announces our address and held pieces, then pulls the directory.
// It returns the number of peers listed, ourselves included.
func (n *Node) register(ctx context.Context) (int, error) {
	c, _, err := n.session(ctx)
	if err != nil {
		return 0, err
	}
	ack, err := c.Announce(ctx, n.Addr(), n.Held())
	if err != nil {
		return 0, err
	}
	logger.Sugar.Infof("[Node] registered with tracker: ack=%s", ack)

	entries, err := c.RequestPeers(ctx)
	if err != nil {
		return 0, err
	}
	return n.applyDirectory(entries), nil
}

// joinSwarm registers and waits until the directory lists at least MinPeers
// peers. A broadcast that brings the count up ends the wait early.
func (n *Node) joinSwarm(ctx context.Context) error {
	known, err := n.register(ctx)
	if err != nil {
		return fmt.Errorf("failed to register with tracker: %w", err)
	}
	if known >= n.cfg.MinPeers {
		return nil
	}

	logger.Sugar.Infof("[Node] waiting for peers: known=%d min=%d", known, n.cfg.MinPeers)
	ticker := time.NewTicker(n.cfg.RegisterInterval)
	defer ticker.Stop()

	for {
		changed := n.directoryChanged()
		if n.knownCount() >= n.cfg.MinPeers {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
			continue
		case <-ticker.C:
		}
		if known, err = n.register(ctx); err != nil {
			return fmt.Errorf("failed to register with tracker: %w", err)
		}
	}
	logger.Sugar.Infof("[Node] minimum peer count reached: known=%d", n.knownCount())
	return nil
}

// applyDirectory replaces the known directory with a full listing and
// recomputes availability from it.
func (n *Node) applyDirectory(entries []protocol.PeerEntry) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	peers := make(map[string][]int, len(entries))
	order := make([]string, 0, len(entries))
	lists := make([][]int, 0, len(entries))
	highest := 0
	for _, e := range entries {
		for _, i := range e.Pieces {
			highest = max(highest, i)
		}
		if e.Addr == n.addr {
			continue
		}
		if _, dup := peers[e.Addr]; dup {
			continue
		}
		peers[e.Addr] = e.Pieces
		order = append(order, e.Addr)
		lists = append(lists, e.Pieces)
	}
	n.peers, n.peerOrder, n.known = peers, order, len(entries)

	if n.pieces == nil && highest > 0 && n.held.IsEmpty() {
		// no description: the highest advertised index stands in for the
		// piece count
		logger.Sugar.Warnf("[Node] piece count taken from advertisements: total=%d", highest)
		n.initPiecesLocked(highest)
	}
	if n.pieces != nil {
		n.pieces.Rebuild(lists)
	}

	close(n.dirCh)
	n.dirCh = make(chan struct{})
	return len(entries)
}

func (n *Node) directoryChanged() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dirCh
}

func (n *Node) knownCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.known
}

// nextRequest picks the rarest missing piece and the first known peer that
// advertises it. When nobody advertises the rarest one, the rarest piece
// that has a holder is taken instead.
func (n *Node) nextRequest() (int, string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pieces == nil {
		return 0, "", false
	}
	index, ok := n.pieces.RarestMissing()
	if !ok {
		return 0, "", false
	}
	if holder := n.holderLocked(index); holder != "" {
		return index, holder, true
	}
	if index, ok = n.pieces.RarestAvailable(); !ok {
		return 0, "", false
	}
	if holder := n.holderLocked(index); holder != "" {
		return index, holder, true
	}
	return 0, "", false
}

func (n *Node) holderLocked(index int) string {
	for _, addr := range n.peerOrder {
		if slices.Contains(n.peers[addr], index) {
			return addr
		}
	}
	return ""
}

func (n *Node) complete() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pieces != nil && n.pieces.IsComplete()
}

// fetchLoop requests missing pieces until the node holds all of them, then
// finalizes the download. Failed attempts wait out the fetch backoff or the
// next directory update, whichever comes first.
func (n *Node) fetchLoop(ctx context.Context) error {
	var renderer *ProgressRenderer
	defer func() {
		if renderer != nil {
			renderer.StopAndWait()
		}
	}()

	for {
		if n.complete() {
			return n.finish()
		}
		if renderer == nil && n.cfg.ShowProgress {
			if p := n.Progress(); p != nil {
				renderer = NewProgressRenderer(p, os.Stderr, true)
				go renderer.Start()
			}
		}

		changed := n.directoryChanged()
		if index, holder, ok := n.nextRequest(); ok {
			err := n.fetch(ctx, index, holder)
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			logger.Sugar.Warnf("[Node] fetch failed: %v", err)
		}

		timer := time.NewTimer(n.cfg.FetchBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-changed:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// fetch requests one piece from holder and accepts it only if it matches
// its expected digest.
func (n *Node) fetch(ctx context.Context, index int, holder string) error {
	progress := n.Progress()
	progress.StartPiece(index, holder)

	data, err := FetchPiece(ctx, holder, index, n.Addr(), n.dialOpts())
	if err != nil {
		n.metrics.RecordFetchFailure()
		progress.FailPiece(index)
		return err
	}
	if err := n.verify(index, data); err != nil {
		n.metrics.RecordVerifyFailure()
		progress.FailPiece(index)
		return fmt.Errorf("rejected piece %d from %s: %w", index, holder, err)
	}
	if err := n.accept(index, data); err != nil {
		progress.FailPiece(index)
		return err
	}
	logger.Sugar.Infof("[Node] piece accepted: index=%d from=%s bytes=%d", index, holder, len(data))

	n.announce(ctx)
	return nil
}

func (n *Node) verify(index int, data []byte) error {
	if n.desc == nil {
		logger.Sugar.Debugf("[Node] no description, piece %d accepted unverified", index)
		return nil
	}
	if n.desc.ChunkSize > 0 && int64(len(data)) > n.desc.ChunkSize {
		return fmt.Errorf("%w: %d bytes, chunk size %d", ErrOversizedPiece, len(data), n.desc.ChunkSize)
	}
	expected, ok := n.desc.ExpectedHash(index)
	if !ok {
		return fmt.Errorf("%w: piece %d", ErrNoDigest, index)
	}
	if !integrity.Verify(data, expected) {
		return fmt.Errorf("%w: got %s want %s", ErrDigestMismatch, integrity.Digest(data), expected)
	}
	return nil
}

// accept persists a verified payload and only then marks the piece held.
func (n *Node) accept(index int, data []byte) error {
	if err := n.store.Put(index, data); err != nil {
		return fmt.Errorf("failed to store piece %d: %w", index, err)
	}

	n.mu.Lock()
	n.held.Add(uint32(index))
	n.pieces.MarkComplete(index)
	progress := n.progress
	n.mu.Unlock()

	n.metrics.RecordDownload(len(data))
	progress.CompletePiece(index, uint64(len(data)))
	return nil
}

// announce re-registers with the current held set so other peers learn
// about new pieces through the tracker broadcast.
func (n *Node) announce(ctx context.Context) {
	c, _, err := n.session(ctx)
	if err == nil {
		_, err = c.Announce(ctx, n.Addr(), n.Held())
	}
	if err != nil && ctx.Err() == nil {
		logger.Sugar.Warnf("[Node] re-announce failed: %v", err)
	}
}

// finish runs once every piece is held. A node that downloaded the file
// writes it out; either way it keeps seeding.
func (n *Node) finish() error {
	defer n.doneOnce.Do(func() { close(n.done) })
	if n.source != nil {
		return nil
	}

	n.mu.Lock()
	total := n.pieces.Total()
	n.mu.Unlock()
	logger.Sugar.Infof("[Node] download complete, now seeding: pieces=%d", total)

	if n.cfg.OutputPath == "" {
		return nil
	}
	if err := storage.ReassembleFile(n.store, total, n.cfg.OutputPath); err != nil {
		return fmt.Errorf("failed to reassemble %s: %w", n.cfg.OutputPath, err)
	}
	logger.Sugar.Infof("[Node] file reassembled: path=%s", n.cfg.OutputPath)
	return nil
}

// chokeLoop recomputes the favored peers on every tick. The result is
// advisory: the listener serves every requester.
func (n *Node) chokeLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.ChokeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		state := n.choker.Refresh(n.KnownPeers())
		logger.Sugar.Infof("[Choke] refreshed: top=%v optimistic=%q", state.TopPeers, state.Optimistic)
	}
}

// refreshLoop pulls the directory on every tick, re-registering first when
// the tracker session had to be redialed.
func (n *Node) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := n.refresh(ctx); err != nil && ctx.Err() == nil {
			logger.Sugar.Warnf("[Node] directory refresh failed: %v", err)
		}
	}
}

func (n *Node) refresh(ctx context.Context) error {
	c, fresh, err := n.session(ctx)
	if err != nil {
		return err
	}
	if fresh {
		if _, err := c.Announce(ctx, n.Addr(), n.Held()); err != nil {
			return err
		}
	}
	entries, err := c.RequestPeers(ctx)
	if err != nil {
		return err
	}
	n.applyDirectory(entries)
	return nil
}
