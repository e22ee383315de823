package subgraph

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rawblock/aml-risk-engine/internal/graph"
	"github.com/rawblock/aml-risk-engine/internal/risk"
	"github.com/rawblock/aml-risk-engine/pkg/models"
)

// ErrWalletNotFound is returned when the requested center wallet has
// never appeared in a transaction.
var ErrWalletNotFound = errors.New("wallet not found in graph")

// Params bounds the extraction. Limits match what the dashboard renderer
// can actually draw.
type Params struct {
	Hops          int
	NodeLimit     int
	EdgeLimit     int
	MinAmount     float64
	OnlyConnected bool
}

func (p Params) validate() error {
	if p.Hops < 1 || p.Hops > 4 {
		return fmt.Errorf("%w: hops must be in [1,4]", graph.ErrInvalidInput)
	}
	if p.NodeLimit < 10 || p.NodeLimit > 500 {
		return fmt.Errorf("%w: node_limit must be in [10,500]", graph.ErrInvalidInput)
	}
	if p.EdgeLimit < 50 || p.EdgeLimit > 3000 {
		return fmt.Errorf("%w: edge_limit must be in [50,3000]", graph.ErrInvalidInput)
	}
	if p.MinAmount < 0 {
		return fmt.Errorf("%w: min_amount must be >= 0", graph.ErrInvalidInput)
	}
	return nil
}

// CandidateWallets returns the center plus every node within hops
// undirected hops, for pre-fetching risk scores in one indexed lookup.
// Empty when the center is unknown to the graph.
func CandidateWallets(s *graph.Snapshot, center string, hops int) []string {
	if !s.Graph.HasNode(center) {
		return nil
	}
	out := []string{center}
	for _, layer := range risk.Layers(s.Graph, center, hops)[1:] {
		for w := range layer {
			out = append(out, w)
		}
	}
	return out
}

type candidate struct {
	wallet     string
	hop        int
	importance float64
}

// Extract builds the analyst view around center: hop-stratified BFS with
// importance-weighted node selection, then every aggregated edge between
// the chosen nodes. scores maps wallet -> latest-run risk score and may be
// sparse; missing wallets rank as zero-risk.
func Extract(s *graph.Snapshot, center string, scores map[string]float64, p Params) (models.SubgraphView, error) {
	if err := p.validate(); err != nil {
		return models.SubgraphView{}, err
	}
	g := s.Graph
	if !g.HasNode(center) {
		return models.SubgraphView{}, fmt.Errorf("%w: %s", ErrWalletNotFound, center)
	}

	layers := risk.Layers(g, center, p.Hops)
	alloc := allocateBudget(layers, p.NodeLimit-1)

	chosen := map[string]int{center: 0}
	ordered := []string{center}

	for hop := 1; hop <= p.Hops; hop++ {
		if alloc[hop] == 0 {
			continue
		}
		ranked := rankLayer(g, s, center, scores, layers[hop], hop)
		for _, w := range stratifiedPick(ranked, alloc[hop]) {
			if _, dup := chosen[w]; dup {
				continue
			}
			chosen[w] = hop
			ordered = append(ordered, w)
		}
	}

	edges := collectEdges(g, chosen, p.MinAmount, p.EdgeLimit)

	if p.OnlyConnected {
		touched := map[string]struct{}{center: {}}
		for _, e := range edges {
			touched[e.Source] = struct{}{}
			touched[e.Target] = struct{}{}
		}
		kept := ordered[:0]
		for _, w := range ordered {
			if _, ok := touched[w]; ok {
				kept = append(kept, w)
			} else {
				delete(chosen, w)
			}
		}
		ordered = kept
	}

	view := models.SubgraphView{
		Center: center,
		Nodes:  make([]models.SubgraphNode, 0, len(ordered)),
		Edges:  edges,
	}
	for _, w := range ordered {
		tags := []string{"neighbor"}
		if w == center {
			tags = []string{"center"}
		} else if s.IsIllicit(w) {
			tags = []string{"illicit"}
		}
		view.Nodes = append(view.Nodes, models.SubgraphNode{
			ID:        w,
			Hop:       chosen[w],
			RiskScore: scores[w],
			InDegree:  g.InDegree(w),
			OutDegree: g.OutDegree(w),
			Tags:      tags,
		})
	}
	return view, nil
}

// allocateBudget splits the node budget equally across non-empty hop
// layers, caps each share at the layer size, and hands leftover capacity
// back out in one redistribution pass.
func allocateBudget(layers []map[string]struct{}, budget int) []int {
	alloc := make([]int, len(layers))
	var nonEmpty []int
	for hop := 1; hop < len(layers); hop++ {
		if len(layers[hop]) > 0 {
			nonEmpty = append(nonEmpty, hop)
		}
	}
	if len(nonEmpty) == 0 || budget <= 0 {
		return alloc
	}

	share := budget / len(nonEmpty)
	used := 0
	for _, hop := range nonEmpty {
		alloc[hop] = share
		if alloc[hop] > len(layers[hop]) {
			alloc[hop] = len(layers[hop])
		}
		used += alloc[hop]
	}

	leftover := budget - used
	for _, hop := range nonEmpty {
		if leftover <= 0 {
			break
		}
		capacity := len(layers[hop]) - alloc[hop]
		if capacity <= 0 {
			continue
		}
		add := capacity
		if add > leftover {
			add = leftover
		}
		alloc[hop] += add
		leftover -= add
	}
	return alloc
}

// rankLayer orders one hop layer by importance, ties broken by wallet id
// for deterministic output.
func rankLayer(g *graph.Graph, s *graph.Snapshot, center string, scores map[string]float64, layer map[string]struct{}, hop int) []candidate {
	ranked := make([]candidate, 0, len(layer))
	for w := range layer {
		deg := float64(g.InDegree(w) + g.OutDegree(w))

		connected := 0.0
		if _, ok := g.EdgeBetween(center, w); ok {
			connected += 2
		}
		if _, ok := g.EdgeBetween(w, center); ok {
			connected += 2
		}

		illicit := 0.0
		if s.IsIllicit(w) {
			illicit = 1
		}

		imp := 4*math.Min(5, deg/10) + 2*scores[w] + connected + 0.2*illicit
		ranked = append(ranked, candidate{wallet: w, hop: hop, importance: imp})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].importance != ranked[j].importance {
			return ranked[i].importance > ranked[j].importance
		}
		return ranked[i].wallet < ranked[j].wallet
	})
	return ranked
}

// stratifiedPick samples alloc nodes from an importance-ranked layer:
// the head, a slice from the middle third, and the tail, so the view keeps
// both hubs and periphery instead of only the top of the ranking.
func stratifiedPick(ranked []candidate, alloc int) []string {
	if len(ranked) <= alloc {
		out := make([]string, len(ranked))
		for i, c := range ranked {
			out[i] = c.wallet
		}
		return out
	}

	top := int(0.4 * float64(alloc))
	mid := int(0.4 * float64(alloc))
	bottom := alloc - top - mid

	seen := make(map[string]struct{}, alloc)
	out := make([]string, 0, alloc)
	take := func(c candidate) {
		if _, dup := seen[c.wallet]; dup {
			return
		}
		seen[c.wallet] = struct{}{}
		out = append(out, c.wallet)
	}

	for i := 0; i < top; i++ {
		take(ranked[i])
	}
	midStart := len(ranked) / 3
	for i := midStart; i < midStart+mid && i < len(ranked); i++ {
		take(ranked[i])
	}
	for i := len(ranked) - bottom; i < len(ranked); i++ {
		take(ranked[i])
	}
	return out
}

// collectEdges emits every aggregated edge with both endpoints chosen,
// filtered by amount, largest flows first, capped at edgeLimit.
func collectEdges(g *graph.Graph, chosen map[string]int, minAmount float64, edgeLimit int) []models.SubgraphEdge {
	edges := make([]models.SubgraphEdge, 0)
	for u := range chosen {
		for v, e := range g.Successors(u) {
			if _, ok := chosen[v]; !ok {
				continue
			}
			if e.Amount < minAmount {
				continue
			}
			edges = append(edges, models.SubgraphEdge{
				Source:      u,
				Target:      v,
				TxCount:     e.TxCount,
				TotalAmount: e.Amount,
			})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].TotalAmount != edges[j].TotalAmount {
			return edges[i].TotalAmount > edges[j].TotalAmount
		}
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
	if len(edges) > edgeLimit {
		edges = edges[:edgeLimit]
	}
	return edges
}
