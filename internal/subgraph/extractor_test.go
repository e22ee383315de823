package subgraph

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/rawblock/aml-risk-engine/internal/graph"
)

func snapshotOf(g *graph.Graph, illicit ...string) *graph.Snapshot {
	set := make(map[string]struct{}, len(illicit))
	for _, w := range illicit {
		set[w] = struct{}{}
	}
	return &graph.Snapshot{Graph: g, Illicit: set, TxSource: "test", TxCount: g.TxRows()}
}

// fanOut builds C -> A00..A14 with A00 -> B00..B14, so the center has a
// 15-node hop-1 ring and a 15-node hop-2 ring behind A00.
func fanOut() *graph.Graph {
	g := graph.New()
	for i := 0; i < 15; i++ {
		g.AddTx("C", fmt.Sprintf("A%02d", i), float64(10+i))
	}
	for j := 0; j < 15; j++ {
		g.AddTx("A00", fmt.Sprintf("B%02d", j), float64(j+1))
	}
	return g
}

func TestExtract_EqualBudgetAcrossHops(t *testing.T) {
	s := snapshotOf(fanOut())

	view, err := Extract(s, "C", nil, Params{Hops: 2, NodeLimit: 21, EdgeLimit: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(view.Nodes) != 21 {
		t.Fatalf("expected node_limit honored exactly (21 nodes), got %d", len(view.Nodes))
	}

	byHop := make(map[int]int)
	for _, n := range view.Nodes {
		byHop[n.Hop]++
	}
	// Budget of 20 splits equally across the two populated rings.
	if byHop[0] != 1 || byHop[1] != 10 || byHop[2] != 10 {
		t.Fatalf("expected hop distribution 1/10/10, got %v", byHop)
	}
}

func TestExtract_CenterFirstWithCenterTag(t *testing.T) {
	s := snapshotOf(fanOut())

	view, err := Extract(s, "C", nil, Params{Hops: 2, NodeLimit: 21, EdgeLimit: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := view.Nodes[0]
	if first.ID != "C" || first.Hop != 0 {
		t.Fatalf("expected center first at hop 0, got %+v", first)
	}
	if len(first.Tags) != 1 || first.Tags[0] != "center" {
		t.Fatalf("expected center tag, got %v", first.Tags)
	}
}

func TestExtract_EdgesOnlyBetweenChosenNodes(t *testing.T) {
	s := snapshotOf(fanOut())

	view, err := Extract(s, "C", nil, Params{Hops: 2, NodeLimit: 15, EdgeLimit: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	chosen := make(map[string]struct{}, len(view.Nodes))
	for _, n := range view.Nodes {
		chosen[n.ID] = struct{}{}
	}
	for _, e := range view.Edges {
		if _, ok := chosen[e.Source]; !ok {
			t.Fatalf("edge source %s not among chosen nodes", e.Source)
		}
		if _, ok := chosen[e.Target]; !ok {
			t.Fatalf("edge target %s not among chosen nodes", e.Target)
		}
	}
}

func TestExtract_EdgesSortedByAmountDesc(t *testing.T) {
	s := snapshotOf(fanOut())

	view, err := Extract(s, "C", nil, Params{Hops: 2, NodeLimit: 30, EdgeLimit: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sort.SliceIsSorted(view.Edges, func(i, j int) bool {
		return view.Edges[i].TotalAmount > view.Edges[j].TotalAmount
	}) {
		t.Fatalf("edges not sorted by amount descending: %+v", view.Edges)
	}
}

func TestExtract_MinAmountFiltersEdges(t *testing.T) {
	g := graph.New()
	g.AddTx("C", "A", 5)
	g.AddTx("C", "B", 50)
	for i := 0; i < 8; i++ {
		g.AddTx("C", fmt.Sprintf("X%d", i), 100)
	}
	s := snapshotOf(g)

	view, err := Extract(s, "C", nil, Params{Hops: 1, NodeLimit: 20, EdgeLimit: 50, MinAmount: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, e := range view.Edges {
		if e.TotalAmount < 10 {
			t.Fatalf("edge below min_amount survived: %+v", e)
		}
	}
}

func TestExtract_OnlyConnectedPrunesIsolatedNodesButKeepsCenter(t *testing.T) {
	g := graph.New()
	g.AddTx("C", "A", 5) // filtered by min_amount, leaves A edge-less
	g.AddTx("C", "B", 50)
	for i := 0; i < 8; i++ {
		g.AddTx("C", fmt.Sprintf("X%d", i), 100)
	}
	s := snapshotOf(g)

	view, err := Extract(s, "C", nil, Params{Hops: 1, NodeLimit: 20, EdgeLimit: 50, MinAmount: 10, OnlyConnected: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := make(map[string]bool)
	for _, n := range view.Nodes {
		seen[n.ID] = true
	}
	if seen["A"] {
		t.Fatalf("expected edge-less node A pruned under only_connected")
	}
	if !seen["C"] {
		t.Fatalf("center must survive only_connected even if edge-less")
	}
}

func TestExtract_IllicitNodesTagged(t *testing.T) {
	g := graph.New()
	g.AddTx("C", "BAD", 10)
	for i := 0; i < 9; i++ {
		g.AddTx("C", fmt.Sprintf("X%d", i), 1)
	}
	s := snapshotOf(g, "BAD")

	view, err := Extract(s, "C", nil, Params{Hops: 1, NodeLimit: 20, EdgeLimit: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, n := range view.Nodes {
		if n.ID == "BAD" {
			if len(n.Tags) != 1 || n.Tags[0] != "illicit" {
				t.Fatalf("expected illicit tag on BAD, got %v", n.Tags)
			}
			return
		}
	}
	t.Fatalf("illicit neighbor BAD missing from view")
}

func TestExtract_ScoresCarriedOntoNodes(t *testing.T) {
	g := graph.New()
	g.AddTx("C", "A", 10)
	s := snapshotOf(g)
	scores := map[string]float64{"C": 0.5, "A": 0.25}

	view, err := Extract(s, "C", scores, Params{Hops: 1, NodeLimit: 10, EdgeLimit: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, n := range view.Nodes {
		if n.RiskScore != scores[n.ID] {
			t.Fatalf("node %s: expected score %v, got %v", n.ID, scores[n.ID], n.RiskScore)
		}
	}
}

func TestExtract_ParamValidation(t *testing.T) {
	s := snapshotOf(fanOut())

	bad := []Params{
		{Hops: 0, NodeLimit: 100, EdgeLimit: 500},
		{Hops: 5, NodeLimit: 100, EdgeLimit: 500},
		{Hops: 2, NodeLimit: 5, EdgeLimit: 500},
		{Hops: 2, NodeLimit: 100, EdgeLimit: 10},
		{Hops: 2, NodeLimit: 100, EdgeLimit: 500, MinAmount: -1},
	}
	for i, p := range bad {
		if _, err := Extract(s, "C", nil, p); !errors.Is(err, graph.ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput for %+v, got %v", i, p, err)
		}
	}
}

func TestExtract_UnknownCenter(t *testing.T) {
	s := snapshotOf(fanOut())

	_, err := Extract(s, "NOPE", nil, Params{Hops: 2, NodeLimit: 100, EdgeLimit: 500})
	if !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestCandidateWallets_CoversAllHops(t *testing.T) {
	g := graph.New()
	g.AddTx("W1", "W2", 1)
	g.AddTx("W2", "W3", 1)
	s := snapshotOf(g)

	got := CandidateWallets(s, "W2", 1)
	sort.Strings(got)
	want := []string{"W1", "W2", "W3"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	if got := CandidateWallets(s, "NOPE", 2); got != nil {
		t.Fatalf("expected nil for unknown center, got %v", got)
	}
}
