package peer

import (
	"sync"
	"time"
)

// PieceState is where one piece stands in the local download
type PieceState int

const (
	PiecePending PieceState = iota
	PieceDownloading
	PieceCompleted
	PieceFailed
)

func (s PieceState) String() string {
	switch s {
	case PiecePending:
		return "pending"
	case PieceDownloading:
		return "downloading"
	case PieceCompleted:
		return "completed"
	case PieceFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Icon returns an icon representation of the piece state
func (s PieceState) Icon() string {
	switch s {
	case PiecePending:
		return "⏳"
	case PieceDownloading:
		return "↓"
	case PieceCompleted:
		return "✓"
	case PieceFailed:
		return "✗"
	default:
		return "?"
	}
}

// PieceProgress tracks one piece
type PieceProgress struct {
	Index     int
	State     PieceState
	PeerAddr  string
	Size      uint64
	Attempts  int
	StartTime time.Time
	EndTime   time.Time
}

// Progress follows a whole download. Pieces are fetched whole, so progress
// moves one piece at a time.
type Progress struct {
	mu          sync.RWMutex
	FileName    string
	FileSize    uint64
	TotalPieces int
	Pieces      map[int]*PieceProgress
	ActivePeers map[string]int // peer addr -> pieces in flight
	StartTime   time.Time
	EndTime     time.Time

	bytesDone uint64
	failures  int

	// speed sampling
	lastBytes    uint64
	lastTime     time.Time
	currentSpeed float64 // bytes/sec
}

// NewProgress creates a tracker for total pieces. sizes[i] is the size of
// piece i+1; a short or nil slice leaves the remaining sizes unknown.
func NewProgress(fileName string, fileSize uint64, total int, sizes []uint64) *Progress {
	p := &Progress{
		FileName:    fileName,
		FileSize:    fileSize,
		TotalPieces: total,
		Pieces:      make(map[int]*PieceProgress, total),
		ActivePeers: make(map[string]int),
		StartTime:   time.Now(),
		lastTime:    time.Now(),
	}
	for i := 1; i <= total; i++ {
		pp := &PieceProgress{Index: i, State: PiecePending}
		if i-1 < len(sizes) {
			pp.Size = sizes[i-1]
		}
		p.Pieces[i] = pp
	}
	return p
}

// PieceSizes returns the size of every piece of a file of fileSize bytes
// split into chunkSize pieces.
func PieceSizes(fileSize, chunkSize uint64, total int) []uint64 {
	sizes := make([]uint64, total)
	if chunkSize == 0 {
		return sizes
	}
	for i := range sizes {
		sizes[i] = chunkSize
	}
	if total > 0 {
		if rem := fileSize % chunkSize; rem > 0 {
			sizes[total-1] = rem
		}
	}
	return sizes
}

func (p *Progress) release(pp *PieceProgress) {
	if pp.State != PieceDownloading {
		return
	}
	p.ActivePeers[pp.PeerAddr]--
	if p.ActivePeers[pp.PeerAddr] <= 0 {
		delete(p.ActivePeers, pp.PeerAddr)
	}
}

// StartPiece marks index as requested from peerAddr
func (p *Progress) StartPiece(index int, peerAddr string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pp, ok := p.Pieces[index]
	if !ok || pp.State == PieceCompleted {
		return
	}
	p.release(pp)
	pp.State = PieceDownloading
	pp.PeerAddr = peerAddr
	pp.Attempts++
	pp.StartTime = time.Now()
	pp.EndTime = time.Time{}
	p.ActivePeers[peerAddr]++
}

// CompletePiece marks index as verified and stored. size replaces the
// expected size when that was unknown.
func (p *Progress) CompletePiece(index int, size uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pp, ok := p.Pieces[index]
	if !ok || pp.State == PieceCompleted {
		return
	}
	p.release(pp)
	if pp.Size == 0 {
		pp.Size = size
	}
	pp.State = PieceCompleted
	pp.EndTime = time.Now()
	p.bytesDone += size
	if p.completedLocked() == p.TotalPieces {
		p.EndTime = pp.EndTime
	}
}

// FailPiece marks an attempt as failed. The piece stays eligible.
func (p *Progress) FailPiece(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pp, ok := p.Pieces[index]
	if !ok || pp.State == PieceCompleted {
		return
	}
	p.release(pp)
	pp.State = PieceFailed
	pp.EndTime = time.Now()
	p.failures++
}

// UpdateSpeed samples the download speed
func (p *Progress) UpdateSpeed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(p.lastTime).Seconds()
	if elapsed >= 0.5 {
		p.currentSpeed = float64(p.bytesDone-p.lastBytes) / elapsed
		p.lastBytes = p.bytesDone
		p.lastTime = now
	}
	return p.currentSpeed
}

func (p *Progress) completedLocked() int {
	n := 0
	for _, pp := range p.Pieces {
		if pp.State == PieceCompleted {
			n++
		}
	}
	return n
}

// GetProgress returns completed count, total count, speed (bytes/s), active
// peer count and failed attempts
func (p *Progress) GetProgress() (completed, total int, speed float64, peerCount, failed int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.completedLocked(), p.TotalPieces, p.currentSpeed, len(p.ActivePeers), p.failures
}

// GetETA returns the estimated time remaining
func (p *Progress) GetETA() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.currentSpeed <= 0 || p.bytesDone >= p.FileSize {
		return 0
	}
	remaining := float64(p.FileSize - p.bytesDone)
	return time.Duration(remaining/p.currentSpeed) * time.Second
}

func (p *Progress) BytesDone() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bytesDone
}

func (p *Progress) IsComplete() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.TotalPieces > 0 && p.completedLocked() == p.TotalPieces
}

// Elapsed returns the download time so far, or the total once complete
func (p *Progress) Elapsed() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.EndTime.IsZero() {
		return p.EndTime.Sub(p.StartTime)
	}
	return time.Since(p.StartTime)
}

func (p *Progress) PieceStatus(index int) (PieceState, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if pp, ok := p.Pieces[index]; ok {
		return pp.State, true
	}
	return PiecePending, false
}

// Percent is the completed share, by bytes when sizes are known and by
// piece count otherwise.
func (p *Progress) Percent() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.FileSize > 0 {
		return min(100, float64(p.bytesDone)/float64(p.FileSize)*100)
	}
	if p.TotalPieces == 0 {
		return 0
	}
	return float64(p.completedLocked()) / float64(p.TotalPieces) * 100
}
