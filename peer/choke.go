package peer

import (
	"math/rand/v2"
	"sort"
	"sync"
)

// Ledger counts pieces served to each requester for the whole session.
// Addresses keep the order in which they were first recorded.
type Ledger struct {
	mu     sync.Mutex
	counts map[string]int
	order  []string
}

// LedgerEntry is one row of the upload ledger.
type LedgerEntry struct {
	Addr  string
	Count int
}

func NewLedger() *Ledger {
	return &Ledger{counts: make(map[string]int)}
}

// Record credits addr with one served piece.
func (l *Ledger) Record(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.counts[addr]; !ok {
		l.order = append(l.order, addr)
	}
	l.counts[addr]++
}

func (l *Ledger) Count(addr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[addr]
}

// Entries returns the ledger in first-recorded order.
func (l *Ledger) Entries() []LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LedgerEntry, len(l.order))
	for i, addr := range l.order {
		out[i] = LedgerEntry{Addr: addr, Count: l.counts[addr]}
	}
	return out
}

// ChokeState is the current favored set. Optimistic is empty when every
// known peer is already in TopPeers.
type ChokeState struct {
	TopPeers   []string
	Optimistic string
}

// Rank returns at most n addresses by descending count. Equal counts keep
// their order in entries.
func Rank(entries []LedgerEntry, n int) []string {
	sorted := append([]LedgerEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Count > sorted[j].Count
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	top := make([]string, len(sorted))
	for i, e := range sorted {
		top[i] = e.Addr
	}
	return top
}

// ChooseOptimistic draws uniformly from known peers outside top.
func ChooseOptimistic(known, top []string, rng *rand.Rand) string {
	inTop := make(map[string]bool, len(top))
	for _, a := range top {
		inTop[a] = true
	}
	var candidates []string
	seen := make(map[string]bool, len(known))
	for _, a := range known {
		if inTop[a] || seen[a] {
			continue
		}
		seen[a] = true
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return ""
	}
	return candidates[rng.IntN(len(candidates))]
}

// Choker recomputes the choke state from a ledger. The state is advisory;
// the listener serves every requester regardless.
type Choker struct {
	ledger *Ledger
	top    int

	mu    sync.Mutex
	rng   *rand.Rand
	state ChokeState
}

func NewChoker(ledger *Ledger, top int, rng *rand.Rand) *Choker {
	return &Choker{ledger: ledger, top: top, rng: rng}
}

// Refresh ranks the ledger and picks a new optimistic peer among known
// peers and ledger entries.
func (c *Choker) Refresh(known []string) ChokeState {
	entries := c.ledger.Entries()
	top := Rank(entries, c.top)

	all := append([]string(nil), known...)
	for _, e := range entries {
		all = append(all, e.Addr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ChokeState{TopPeers: top, Optimistic: ChooseOptimistic(all, top, c.rng)}
	return c.state
}

func (c *Choker) State() ChokeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChokeState{TopPeers: append([]string(nil), c.state.TopPeers...), Optimistic: c.state.Optimistic}
}
