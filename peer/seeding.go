package peer

import (
	"math/rand/v2"
	"sort"

	"tarun-kavipurapu/p2p-swarm/pkg/protocol"
)

// SeedingSet picks the pieces a node holding the whole file advertises.
// The first node to bring data into the swarm advertises everything; later
// full copies advertise a random half (at least one piece).
func SeedingSet(entries []protocol.PeerEntry, total int, rng *rand.Rand) []int {
	if total <= 0 {
		return nil
	}
	first := true
	for _, e := range entries {
		if len(e.Pieces) > 0 {
			first = false
			break
		}
	}

	if first {
		all := make([]int, total)
		for i := range all {
			all[i] = i + 1
		}
		return all
	}

	n := max(1, total/2)
	perm := rng.Perm(total)[:n]
	set := make([]int, n)
	for i, p := range perm {
		set[i] = p + 1
	}
	sort.Ints(set)
	return set
}
