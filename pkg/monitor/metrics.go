package monitor

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"tarun-kavipurapu/p2p-swarm/pkg/logger"
)

// Metrics counts the traffic of one node
type Metrics struct {
	uploadedBytes    atomic.Int64
	uploadedPieces   atomic.Int64
	downloadedBytes  atomic.Int64
	downloadedPieces atomic.Int64
	verifyFailures   atomic.Int64
	fetchFailures    atomic.Int64

	start time.Time
}

// Snapshot is a point-in-time copy of Metrics
type Snapshot struct {
	UploadedBytes    int64
	UploadedPieces   int64
	DownloadedBytes  int64
	DownloadedPieces int64
	VerifyFailures   int64
	FetchFailures    int64
	Uptime           time.Duration
}

func New() *Metrics {
	return &Metrics{start: time.Now()}
}

func (m *Metrics) RecordUpload(bytes int) {
	m.uploadedBytes.Add(int64(bytes))
	m.uploadedPieces.Add(1)
}

func (m *Metrics) RecordDownload(bytes int) {
	m.downloadedBytes.Add(int64(bytes))
	m.downloadedPieces.Add(1)
}

func (m *Metrics) RecordVerifyFailure() {
	m.verifyFailures.Add(1)
}

func (m *Metrics) RecordFetchFailure() {
	m.fetchFailures.Add(1)
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		UploadedBytes:    m.uploadedBytes.Load(),
		UploadedPieces:   m.uploadedPieces.Load(),
		DownloadedBytes:  m.downloadedBytes.Load(),
		DownloadedPieces: m.downloadedPieces.Load(),
		VerifyFailures:   m.verifyFailures.Load(),
		FetchFailures:    m.fetchFailures.Load(),
		Uptime:           time.Since(m.start),
	}
}

// Throughput returns the mean download and upload rates in MB/s.
func (s Snapshot) Throughput() (down, up float64) {
	elapsed := s.Uptime.Seconds()
	if elapsed <= 0 {
		return 0, 0
	}
	return float64(s.DownloadedBytes) / elapsed / 1024 / 1024,
		float64(s.UploadedBytes) / elapsed / 1024 / 1024
}

// LogPeriodic logs runtime and transfer metrics at the specified interval
// until ctx is done.
func (m *Metrics) LogPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		s := m.Snapshot()
		down, up := s.Throughput()

		logger.Sugar.Infof("[Metrics] Goroutines=%d | HeapAlloc=%dMB | Down=%.2fMB/s | Up=%.2fMB/s | Pieces=%d/%d | VerifyFail=%d | FetchFail=%d",
			runtime.NumGoroutine(),
			ms.HeapAlloc/1024/1024,
			down,
			up,
			s.DownloadedPieces,
			s.UploadedPieces,
			s.VerifyFailures,
			s.FetchFailures,
		)
	}
}
