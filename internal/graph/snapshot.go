package graph

import (
	"errors"
	"math/rand"
	"sync/atomic"
	"time"
)

// ErrNotReady is returned while no snapshot has been published yet.
var ErrNotReady = errors.New("graph not loaded")

// Snapshot is an immutable view of the graph plus the illicit seed set
// derived from it. Readers capture the pointer once at call entry and keep
// using it even if a rebuild publishes a newer snapshot mid-flight.
type Snapshot struct {
	Graph    *Graph
	Illicit  map[string]struct{}
	TxSource string
	TxCount  int64
	BuiltAt  time.Time
}

func (s *Snapshot) IsIllicit(wallet string) bool {
	_, ok := s.Illicit[wallet]
	return ok
}

// PickIllicit draws a deterministic sample of pct*N nodes (at least one)
// from the sorted node list. Same graph, seed and pct always yield the
// same set, which keeps scoring runs reproducible.
func PickIllicit(g *Graph, pct float64, seed int64) map[string]struct{} {
	nodes := g.Nodes()
	picked := make(map[string]struct{})
	if len(nodes) == 0 {
		return picked
	}

	k := int(float64(len(nodes)) * pct)
	if k < 1 {
		k = 1
	}
	if k > len(nodes) {
		k = len(nodes)
	}

	rng := rand.New(rand.NewSource(seed))
	for _, idx := range rng.Perm(len(nodes))[:k] {
		picked[nodes[idx]] = struct{}{}
	}
	return picked
}

// NewSnapshot bundles a freshly built graph with its derived illicit set.
func NewSnapshot(g *Graph, txSource string, txCount int64, pct float64, seed int64) *Snapshot {
	return &Snapshot{
		Graph:    g,
		Illicit:  PickIllicit(g, pct, seed),
		TxSource: txSource,
		TxCount:  txCount,
		BuiltAt:  time.Now().UTC(),
	}
}

// Holder is the atomically swappable handle to the current snapshot.
// Publish replaces the snapshot wholesale; there is no incremental
// mutation. The last build error is tracked alongside for the health
// model.
type Holder struct {
	cur    atomic.Pointer[Snapshot]
	errMsg atomic.Pointer[string]
}

func NewHolder() *Holder {
	return &Holder{}
}

// Current returns the latest snapshot, or ErrNotReady before first load.
func (h *Holder) Current() (*Snapshot, error) {
	s := h.cur.Load()
	if s == nil {
		return nil, ErrNotReady
	}
	return s, nil
}

// Loaded reports whether any snapshot has been published.
func (h *Holder) Loaded() bool {
	return h.cur.Load() != nil
}

// Publish swaps in a new snapshot and clears any recorded build error.
func (h *Holder) Publish(s *Snapshot) {
	h.cur.Store(s)
	h.errMsg.Store(nil)
}

// SetError records a failed build without touching the current snapshot.
func (h *Holder) SetError(msg string) {
	h.errMsg.Store(&msg)
}

// Err returns the last recorded build error, empty when none.
func (h *Holder) Err() string {
	if m := h.errMsg.Load(); m != nil {
		return *m
	}
	return ""
}
