package graph

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
)

// ErrInvalidInput marks inputs the builder rejects outright (missing
// src/dst columns, malformed files). Not retryable.
var ErrInvalidInput = errors.New("invalid input")

// Edge carries the aggregated attributes for one ordered wallet pair.
// Parallel transfers collapse into a single edge here.
type Edge struct {
	TxCount int
	Amount  float64
}

// TxRow is the minimal projection of a transaction the builder consumes.
type TxRow struct {
	Src    string
	Dst    string
	Amount float64
}

// Graph is a directed multigraph over wallet identifiers with per-pair
// edge aggregation. It is built once and never mutated afterwards; readers
// share it freely without locking.
type Graph struct {
	out    map[string]map[string]*Edge
	in     map[string]map[string]*Edge
	nodes  map[string]struct{}
	edges  int
	txRows int64
}

func New() *Graph {
	return &Graph{
		out:   make(map[string]map[string]*Edge),
		in:    make(map[string]map[string]*Edge),
		nodes: make(map[string]struct{}),
	}
}

// AddTx folds one transfer into the aggregate edge src->dst.
func (g *Graph) AddTx(src, dst string, amount float64) {
	g.nodes[src] = struct{}{}
	g.nodes[dst] = struct{}{}

	succ, ok := g.out[src]
	if !ok {
		succ = make(map[string]*Edge)
		g.out[src] = succ
	}
	e, ok := succ[dst]
	if !ok {
		e = &Edge{}
		succ[dst] = e
		pred, ok := g.in[dst]
		if !ok {
			pred = make(map[string]*Edge)
			g.in[dst] = pred
		}
		pred[src] = e
		g.edges++
	}
	e.TxCount++
	e.Amount += amount
	g.txRows++
}

func (g *Graph) HasNode(node string) bool {
	_, ok := g.nodes[node]
	return ok
}

func (g *Graph) NumNodes() int { return len(g.nodes) }
func (g *Graph) NumEdges() int { return g.edges }

// TxRows is the number of transactions folded into the graph.
func (g *Graph) TxRows() int64 { return g.txRows }

// InDegree is the number of distinct predecessors (aggregated-edge degree).
func (g *Graph) InDegree(node string) int { return len(g.in[node]) }

// OutDegree is the number of distinct successors.
func (g *Graph) OutDegree(node string) int { return len(g.out[node]) }

// EdgeBetween returns the aggregate edge u->v if present.
func (g *Graph) EdgeBetween(u, v string) (*Edge, bool) {
	e, ok := g.out[u][v]
	return e, ok
}

// Successors returns the out-adjacency of node. Callers must not mutate it.
func (g *Graph) Successors(node string) map[string]*Edge { return g.out[node] }

// Predecessors returns the in-adjacency of node. Callers must not mutate it.
func (g *Graph) Predecessors(node string) map[string]*Edge { return g.in[node] }

// Nodes returns every wallet identifier in sorted order. The stable order
// is what makes illicit sampling and scoring-run output reproducible.
func (g *Graph) Nodes() []string {
	out := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// NeighborsUndirected visits predecessors then successors of node, each
// distinct neighbor exactly once.
func (g *Graph) NeighborsUndirected(node string, visit func(neighbor string)) {
	seen := make(map[string]struct{})
	for p := range g.in[node] {
		seen[p] = struct{}{}
		visit(p)
	}
	for s := range g.out[node] {
		if _, dup := seen[s]; dup {
			continue
		}
		visit(s)
	}
}

// BuildFromRows aggregates a transaction snapshot into a fresh graph.
func BuildFromRows(rows []TxRow) *Graph {
	g := New()
	for _, r := range rows {
		g.AddTx(r.Src, r.Dst, r.Amount)
	}
	return g
}

// BuildFromCSV reads a delimited file with a header row containing at
// least src and dst columns (amount optional) and aggregates it into a
// graph. Files without those columns are rejected as invalid input.
func BuildFromCSV(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tx file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read csv header: %v", ErrInvalidInput, err)
	}

	srcIdx, dstIdx, amtIdx := -1, -1, -1
	for i, col := range header {
		switch col {
		case "src":
			srcIdx = i
		case "dst":
			dstIdx = i
		case "amount":
			amtIdx = i
		}
	}
	if srcIdx < 0 || dstIdx < 0 {
		return nil, fmt.Errorf("%w: missing columns src/dst in %s", ErrInvalidInput, path)
	}

	g := New()
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: malformed csv row: %v", ErrInvalidInput, err)
		}
		if srcIdx >= len(rec) || dstIdx >= len(rec) {
			continue
		}
		amount := 0.0
		if amtIdx >= 0 && amtIdx < len(rec) {
			if v, err := strconv.ParseFloat(rec[amtIdx], 64); err == nil {
				amount = v
			}
		}
		g.AddTx(rec[srcIdx], rec[dstIdx], amount)
	}
	return g, nil
}
