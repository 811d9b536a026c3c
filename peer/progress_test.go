package peer

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestPieceSizes(t *testing.T) {
	if got, want := PieceSizes(2500, 1000, 3), []uint64{1000, 1000, 500}; !reflect.DeepEqual(got, want) {
		t.Errorf("PieceSizes = %v, want %v", got, want)
	}
	if got, want := PieceSizes(2000, 1000, 2), []uint64{1000, 1000}; !reflect.DeepEqual(got, want) {
		t.Errorf("PieceSizes = %v, want %v", got, want)
	}
}

func TestProgressLifecycle(t *testing.T) {
	p := NewProgress("blob.bin", 2500, 3, PieceSizes(2500, 1000, 3))

	p.StartPiece(1, "10.0.0.1:8000")
	if _, _, _, peers, _ := p.GetProgress(); peers != 1 {
		t.Errorf("active peers = %d, want 1", peers)
	}
	p.FailPiece(1)
	if st, _ := p.PieceStatus(1); st != PieceFailed {
		t.Errorf("state = %v, want failed", st)
	}

	p.StartPiece(1, "10.0.0.2:8000")
	p.CompletePiece(1, 1000)
	p.StartPiece(2, "10.0.0.2:8000")
	p.CompletePiece(2, 1000)
	p.StartPiece(3, "10.0.0.1:8000")
	p.CompletePiece(3, 500)

	completed, total, _, peers, failed := p.GetProgress()
	if completed != 3 || total != 3 || peers != 0 || failed != 1 {
		t.Errorf("GetProgress = %d/%d peers=%d failed=%d", completed, total, peers, failed)
	}
	if !p.IsComplete() || p.BytesDone() != 2500 || p.Percent() != 100 {
		t.Errorf("complete=%v bytes=%d percent=%.1f", p.IsComplete(), p.BytesDone(), p.Percent())
	}
	if p.Pieces[1].Attempts != 2 {
		t.Errorf("attempts = %d, want 2", p.Pieces[1].Attempts)
	}

	// completing twice does not count bytes twice
	p.CompletePiece(3, 500)
	if p.BytesDone() != 2500 {
		t.Errorf("BytesDone = %d after repeat", p.BytesDone())
	}
}

func TestProgressUnknownSizesUsesPieceCount(t *testing.T) {
	p := NewProgress("download", 0, 4, nil)
	p.CompletePiece(2, 10)
	if got := p.Percent(); got != 25 {
		t.Errorf("Percent = %.1f, want 25", got)
	}
}

func TestRendererFinalLine(t *testing.T) {
	p := NewProgress("blob.bin", 10, 1, []uint64{10})
	var out bytes.Buffer
	r := NewProgressRenderer(p, &out, false)
	r.SetRefreshRate(5 * time.Millisecond)
	go r.Start()

	p.CompletePiece(1, 10)
	time.Sleep(20 * time.Millisecond)
	r.StopAndWait()

	if !strings.Contains(out.String(), "100% (1/1 pieces) | Completed in") {
		t.Errorf("output = %q", out.String())
	}
}
