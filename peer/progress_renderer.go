package peer

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ANSI color codes for terminal output
const (
	Reset  = "\033[0m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"
	Bold   = "\033[1m"
)

// ProgressRenderer redraws a single status line for a download
type ProgressRenderer struct {
	progress    *Progress
	out         io.Writer
	stopChan    chan struct{}
	stopOnce    sync.Once
	done        chan struct{}
	refreshRate time.Duration
	useColors   bool
	width       int
}

func NewProgressRenderer(progress *Progress, out io.Writer, useColors bool) *ProgressRenderer {
	return &ProgressRenderer{
		progress:    progress,
		out:         out,
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
		refreshRate: 200 * time.Millisecond,
		useColors:   useColors,
		width:       40, // Progress bar width
	}
}

func (pr *ProgressRenderer) SetRefreshRate(rate time.Duration) {
	pr.refreshRate = rate
}

// Start runs the render loop until Stop
func (pr *ProgressRenderer) Start() {
	defer close(pr.done)
	pr.Render()

	ticker := time.NewTicker(pr.refreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pr.progress.UpdateSpeed()
			pr.Render()
		case <-pr.stopChan:
			return
		}
	}
}

func (pr *ProgressRenderer) Stop() {
	pr.stopOnce.Do(func() { close(pr.stopChan) })
}

// StopAndWait stops the loop and draws the final line
func (pr *ProgressRenderer) StopAndWait() {
	pr.Stop()
	<-pr.done
	if pr.progress.IsComplete() {
		pr.RenderFinal()
	} else {
		pr.RenderError()
	}
}

func (pr *ProgressRenderer) bar(percent float64) string {
	filled := int(float64(pr.width) * percent / 100)
	filled = max(0, min(filled, pr.width))
	return strings.Repeat("█", filled) + strings.Repeat("░", pr.width-filled)
}

// Render draws the current progress line
func (pr *ProgressRenderer) Render() {
	completed, total, speed, peerCount, failed := pr.progress.GetProgress()
	percent := pr.progress.Percent()
	bar := pr.bar(percent)
	speedStr := formatBytes(speed)
	etaStr := formatETA(pr.progress.GetETA())

	var line string
	if pr.useColors {
		line = fmt.Sprintf("\r%s[%s]%s [%s]%s %.1f%% (%d/%d pieces) | %s/s | %d peers | ETA: %s",
			Cyan, pr.progress.FileName, Reset,
			Green+bar+Reset,
			Yellow, percent, completed, total,
			Blue+speedStr+Reset, peerCount, etaStr,
		)
	} else {
		line = fmt.Sprintf("\r[%s] [%s] %.1f%% (%d/%d pieces) | %s/s | %d peers | ETA: %s",
			pr.progress.FileName, bar, percent, completed, total,
			speedStr, peerCount, etaStr,
		)
	}

	if failed > 0 {
		if pr.useColors {
			line += Red + fmt.Sprintf(" | %d failed", failed) + Reset
		} else {
			line += fmt.Sprintf(" | %d failed", failed)
		}
	}
	fmt.Fprint(pr.out, line)
}

// RenderFinal draws the completed state
func (pr *ProgressRenderer) RenderFinal() {
	_, total, _, _, _ := pr.progress.GetProgress()
	elapsed := pr.progress.Elapsed()

	fmt.Fprint(pr.out, "\r\033[K")
	if pr.useColors {
		fmt.Fprintf(pr.out, "%s[%s]%s [%s]%s 100%% (%d/%d pieces)%s | Completed in %s\n",
			Cyan, pr.progress.FileName, Reset,
			Green+pr.bar(100)+Reset,
			Green, total, total, Reset,
			formatDuration(elapsed),
		)
		return
	}
	fmt.Fprintf(pr.out, "[%s] [%s] 100%% (%d/%d pieces) | Completed in %s\n",
		pr.progress.FileName, pr.bar(100), total, total, formatDuration(elapsed))
}

// RenderError draws an interrupted download
func (pr *ProgressRenderer) RenderError() {
	completed, total, _, _, failed := pr.progress.GetProgress()
	percent := pr.progress.Percent()

	fmt.Fprint(pr.out, "\r\033[K")
	if pr.useColors {
		fmt.Fprintf(pr.out, "%s[%s]%s [%s] %.1f%% | %sDownload stopped%s: %d/%d completed, %d failed\n",
			Cyan, pr.progress.FileName, Reset,
			Red+"✗"+Reset, percent,
			Red+Bold, Reset, completed, total, failed,
		)
		return
	}
	fmt.Fprintf(pr.out, "[%s] [✗] %.1f%% | Download stopped: %d/%d completed, %d failed\n",
		pr.progress.FileName, percent, completed, total, failed)
}

// formatBytes formats a byte count into a human-readable string
func formatBytes(bytes float64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%.1f B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", bytes/float64(div), "KMGTPE"[exp])
}

func formatETA(eta time.Duration) string {
	if eta <= 0 {
		return "∞"
	}
	if eta < time.Second {
		return "<1s"
	}
	return formatDuration(eta)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", d/time.Second)
	}
	if d < time.Hour {
		mins := d / time.Minute
		secs := (d % time.Minute) / time.Second
		return fmt.Sprintf("%dm%ds", mins, secs)
	}
	hours := d / time.Hour
	mins := (d % time.Hour) / time.Minute
	return fmt.Sprintf("%dh%dm", hours, mins)
}
