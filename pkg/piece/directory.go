// Package piece tracks which pieces a node still misses and how many known
// peers advertise each one.
package piece

import (
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// Directory is safe for concurrent use. Piece indices are 1-based.
type Directory struct {
	mu           sync.Mutex
	total        int
	availability map[int]int
	missing      *roaring.Bitmap
}

func NewDirectory(total int) *Directory {
	missing := roaring.New()
	if total > 0 {
		missing.AddRange(1, uint64(total)+1)
	}
	return &Directory{
		total:        total,
		availability: make(map[int]int),
		missing:      missing,
	}
}

func (d *Directory) Total() int {
	return d.total
}

// RecordAvailability counts one more holder for every index. Repeated
// observations of the same peer are not deduplicated.
func (d *Directory) RecordAvailability(indices []int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(indices)
}

func (d *Directory) record(indices []int) {
	for _, i := range indices {
		if i < 1 || i > d.total {
			continue
		}
		d.availability[i]++
	}
}

// Rebuild drops every count and records each list once. Feeding it the full
// live directory keeps counts in step with peers that left or changed.
func (d *Directory) Rebuild(lists [][]int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	clear(d.availability)
	for _, l := range lists {
		d.record(l)
	}
}

// RarestMissing returns the missing piece with the lowest count. Unseen
// pieces count as zero. Ties go to the lowest index.
func (d *Directory) RarestMissing() (int, bool) {
	return d.rarest(false)
}

// RarestAvailable is RarestMissing restricted to pieces at least one known
// peer advertises.
func (d *Directory) RarestAvailable() (int, bool) {
	return d.rarest(true)
}

func (d *Directory) rarest(requireHolder bool) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	best, bestCount := 0, -1
	it := d.missing.Iterator()
	for it.HasNext() {
		i := int(it.Next())
		count := d.availability[i]
		if requireHolder && count == 0 {
			continue
		}
		if bestCount < 0 || count < bestCount {
			best, bestCount = i, count
			if count == 0 {
				break
			}
		}
	}
	return best, bestCount >= 0
}

// MarkComplete removes index from the missing set. It reports whether the
// call changed anything.
func (d *Directory) MarkComplete(index int) bool {
	if index < 1 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.missing.CheckedRemove(uint32(index))
}

func (d *Directory) IsComplete() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.missing.IsEmpty()
}

func (d *Directory) IsMissing(index int) bool {
	if index < 1 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.missing.Contains(uint32(index))
}

// Availability returns the recorded holder count of index.
func (d *Directory) Availability(index int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.availability[index]
}

// Missing lists the missing indices in ascending order.
func (d *Directory) Missing() []int {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]int, 0, d.missing.GetCardinality())
	it := d.missing.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

func (d *Directory) Remaining() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int(d.missing.GetCardinality())
}
