package peer

import (
	"fmt"
	"math/rand/v2"
	"reflect"
	"sync"
	"testing"
)

func ledgerWith(counts []LedgerEntry) *Ledger {
	l := NewLedger()
	for _, e := range counts {
		for i := 0; i < e.Count; i++ {
			l.Record(e.Addr)
		}
	}
	return l
}

func TestRankByUploadCount(t *testing.T) {
	l := ledgerWith([]LedgerEntry{{"A", 5}, {"B", 3}, {"C", 8}, {"D", 2}, {"E", 10}})

	top := Rank(l.Entries(), 4)
	if want := []string{"E", "C", "A", "B"}; !reflect.DeepEqual(top, want) {
		t.Fatalf("Rank = %v, want %v", top, want)
	}

	c := NewChoker(l, 4, rand.New(rand.NewPCG(1, 2)))
	for i := 0; i < 20; i++ {
		state := c.Refresh(nil)
		if !reflect.DeepEqual(state.TopPeers, []string{"E", "C", "A", "B"}) {
			t.Fatalf("TopPeers = %v", state.TopPeers)
		}
		if state.Optimistic != "D" {
			t.Fatalf("Optimistic = %q, want D", state.Optimistic)
		}
	}
}

func TestRankTiesKeepLedgerOrder(t *testing.T) {
	l := ledgerWith([]LedgerEntry{{"x", 1}, {"y", 2}, {"z", 1}, {"w", 2}})
	if got, want := Rank(l.Entries(), 3), []string{"y", "w", "x"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Rank = %v, want %v", got, want)
	}
}

func TestOptimisticEmptyWhenAllTop(t *testing.T) {
	l := ledgerWith([]LedgerEntry{{"A", 1}, {"B", 2}})
	c := NewChoker(l, 4, rand.New(rand.NewPCG(1, 2)))
	state := c.Refresh([]string{"A"})
	if state.Optimistic != "" {
		t.Errorf("Optimistic = %q, want none", state.Optimistic)
	}
	if len(state.TopPeers) != 2 {
		t.Errorf("TopPeers = %v", state.TopPeers)
	}
}

func TestOptimisticDrawsFromKnownPeers(t *testing.T) {
	l := ledgerWith([]LedgerEntry{{"A", 3}})
	c := NewChoker(l, 1, rand.New(rand.NewPCG(7, 7)))

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		seen[c.Refresh([]string{"A", "B", "C"}).Optimistic] = true
	}
	if !seen["B"] || !seen["C"] || seen["A"] || seen[""] {
		t.Errorf("optimistic picks = %v, want B and C only", seen)
	}
}

func TestLedgerConcurrentRecords(t *testing.T) {
	l := NewLedger()
	c := NewChoker(l, 4, rand.New(rand.NewPCG(3, 4)))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.Record(fmt.Sprintf("10.0.0.%d:8000", i%5))
				if i%10 == 0 {
					c.Refresh(nil)
				}
			}
		}(w)
	}
	wg.Wait()

	total := 0
	for _, e := range l.Entries() {
		total += e.Count
	}
	if total != 800 {
		t.Errorf("ledger total = %d, want 800", total)
	}
	if got := l.Count("10.0.0.0:8000"); got != 160 {
		t.Errorf("Count = %d, want 160", got)
	}
}
