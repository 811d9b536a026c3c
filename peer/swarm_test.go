package peer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"tarun-kavipurapu/p2p-swarm/pkg/config"
	"tarun-kavipurapu/p2p-swarm/pkg/metainfo"
	"tarun-kavipurapu/p2p-swarm/tracker"
)

func startTracker(t *testing.T) string {
	t.Helper()
	cfg := config.DefaultTracker()
	cfg.ListenAddr = "127.0.0.1:0"
	s := tracker.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("tracker Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		s.Stop()
	})
	return s.Addr()
}

type running struct {
	node *Node
	errc chan error
}

func runNode(t *testing.T, ctx context.Context, n *Node) *running {
	t.Helper()
	r := &running{node: n, errc: make(chan error, 1)}
	go func() { r.errc <- n.Run(ctx) }()
	select {
	case <-n.Ready():
	case err := <-r.errc:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("node never became ready")
	}
	return r
}

func (r *running) wait(t *testing.T) {
	t.Helper()
	select {
	case err := <-r.errc:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Run did not return after cancel")
	}
}

func TestSwarmRoundTrip(t *testing.T) {
	trackerAddr := startTracker(t)
	data, pieces := testFile(10*1000+123, 1000)
	desc := metainfo.FromPieces("blob.bin", trackerAddr, 1000, pieces)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seeder, err := New(testConfig(), desc, nil)
	if err != nil {
		t.Fatalf("New seeder: %v", err)
	}
	if err := seeder.ShareFile(pieces); err != nil {
		t.Fatalf("ShareFile: %v", err)
	}
	s := runNode(t, ctx, seeder)
	if got := len(seeder.Held()); got != len(pieces) {
		t.Fatalf("first seeder serves %d pieces, want all %d", got, len(pieces))
	}

	out := filepath.Join(t.TempDir(), "out", "blob.bin")
	cfg := testConfig()
	cfg.MinPeers = 2
	cfg.OutputPath = out
	leecher, err := New(cfg, desc, nil)
	if err != nil {
		t.Fatalf("New leecher: %v", err)
	}
	l := runNode(t, ctx, leecher)

	select {
	case <-leecher.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("download incomplete: held=%v", leecher.Held())
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("reassembled %d bytes differ from the original %d", len(got), len(data))
	}
	if n := seeder.Ledger().Count(leecher.Addr()); n != len(pieces) {
		t.Errorf("seeder credited leecher with %d pieces, want %d", n, len(pieces))
	}
	if s := leecher.Metrics(); s.DownloadedPieces != int64(len(pieces)) || s.VerifyFailures != 0 {
		t.Errorf("leecher metrics = %+v", s)
	}

	// the leecher's re-announcements reach the seeder through broadcasts
	deadline := time.Now().Add(3 * time.Second)
	for {
		entries := seeder.Peers()
		if len(entries) == 1 && len(entries[0].Pieces) == len(pieces) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("seeder directory = %+v", entries)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	s.wait(t)
	l.wait(t)
}

func TestSecondSeederServesHalf(t *testing.T) {
	trackerAddr := startTracker(t)
	_, pieces := testFile(8*500, 500)
	desc := metainfo.FromPieces("blob.bin", trackerAddr, 500, pieces)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, _ := New(testConfig(), desc, nil)
	_ = first.ShareFile(pieces)
	a := runNode(t, ctx, first)

	second, _ := New(testConfig(), desc, nil)
	_ = second.ShareFile(pieces)
	b := runNode(t, ctx, second)

	if got := len(second.Held()); got != 4 {
		t.Errorf("second seeder serves %d pieces, want 4", got)
	}
	select {
	case <-second.Done():
	case <-time.After(time.Second):
		t.Error("a full-file owner should not need to fetch")
	}

	cancel()
	a.wait(t)
	b.wait(t)
}

func TestLeecherWithoutDescription(t *testing.T) {
	trackerAddr := startTracker(t)
	_, pieces := testFile(5*400, 400)
	desc := metainfo.FromPieces("blob.bin", trackerAddr, 400, pieces)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seeder, _ := New(testConfig(), desc, nil)
	_ = seeder.ShareFile(pieces)
	s := runNode(t, ctx, seeder)

	cfg := testConfig()
	cfg.TrackerAddr = trackerAddr
	leecher, _ := New(cfg, nil, nil)
	l := runNode(t, ctx, leecher)

	select {
	case <-leecher.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("download incomplete: held=%v", leecher.Held())
	}
	if got := leecher.Held(); !reflect.DeepEqual(got, []int{1, 2, 3, 4, 5}) {
		t.Errorf("Held = %v", got)
	}

	cancel()
	s.wait(t)
	l.wait(t)
}

func TestLeecherWaitsForMinPeers(t *testing.T) {
	trackerAddr := startTracker(t)
	_, pieces := testFile(2000, 1000)
	desc := metainfo.FromPieces("blob.bin", trackerAddr, 1000, pieces)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.MinPeers = 2
	leecher, _ := New(cfg, desc, nil)
	errc := make(chan error, 1)
	go func() { errc <- leecher.Run(ctx) }()

	select {
	case <-leecher.Ready():
		t.Fatal("ready with only itself registered")
	case <-time.After(200 * time.Millisecond):
	}

	seeder, _ := New(testConfig(), desc, nil)
	_ = seeder.ShareFile(pieces)
	s := runNode(t, ctx, seeder)

	select {
	case <-leecher.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("leecher did not notice the second peer")
	}
	select {
	case <-leecher.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("download incomplete")
	}

	cancel()
	s.wait(t)
	if err := <-errc; err != nil {
		t.Errorf("leecher Run: %v", err)
	}
}
