package risk

import (
	"math"

	"github.com/rawblock/aml-risk-engine/internal/graph"
	"github.com/rawblock/aml-risk-engine/pkg/models"
)

// ReasonNotInGraph is attached to results for wallets the graph has never
// seen. They score 0 rather than erroring so bulk callers stay simple.
const ReasonNotInGraph = "wallet_not_in_graph"

// Exposure counts illicit wallets within k undirected hops of node,
// cumulative: the node itself at hop 0, then BFS over the union of
// predecessors and successors.
func Exposure(g *graph.Graph, illicit map[string]struct{}, node string, k int) int {
	if k == 0 {
		if _, ok := illicit[node]; ok {
			return 1
		}
		return 0
	}

	visited := map[string]struct{}{node: {}}
	frontier := []string{node}

	for hop := 0; hop < k && len(frontier) > 0; hop++ {
		var next []string
		for _, n := range frontier {
			g.NeighborsUndirected(n, func(nb string) {
				if _, seen := visited[nb]; seen {
					return
				}
				visited[nb] = struct{}{}
				next = append(next, nb)
			})
		}
		frontier = next
	}

	count := 0
	for n := range visited {
		if _, ok := illicit[n]; ok {
			count++
		}
	}
	return count
}

// Layers returns exact-hop shells around node: element h holds the nodes
// at precisely h undirected hops, with Layers(node, H)[0] == {node}. The
// slice always has H+1 elements; trailing shells are empty once the BFS
// frontier dies out.
func Layers(g *graph.Graph, node string, maxHops int) []map[string]struct{} {
	layers := make([]map[string]struct{}, maxHops+1)
	for i := range layers {
		layers[i] = make(map[string]struct{})
	}
	layers[0][node] = struct{}{}

	visited := map[string]struct{}{node: {}}
	frontier := []string{node}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, n := range frontier {
			g.NeighborsUndirected(n, func(nb string) {
				if _, seen := visited[nb]; seen {
					return
				}
				visited[nb] = struct{}{}
				layers[hop][nb] = struct{}{}
				next = append(next, nb)
			})
		}
		frontier = next
	}
	return layers
}

// ScoreWallet computes the weighted cumulative-exposure score for one
// wallet. Wallets absent from the graph score 0.0 with a reason instead
// of an error.
func ScoreWallet(s *graph.Snapshot, wallet string, cfg models.RiskConfig) models.RiskResult {
	g := s.Graph
	if !g.HasNode(wallet) {
		return models.RiskResult{Wallet: wallet, RiskScore: 0.0, Reason: ReasonNotInGraph}
	}

	exposures := make([]models.HopExposure, 0, len(cfg.HopWeights))
	raw := 0.0
	for hop, w := range cfg.HopWeights {
		cnt := Exposure(g, s.Illicit, wallet, hop)
		exposures = append(exposures, models.HopExposure{Hop: hop, Weight: w, IllicitCount: cnt})
		raw += w * float64(cnt)
	}

	inDeg := g.InDegree(wallet)
	outDeg := g.OutDegree(wallet)
	if cfg.DegreeNormalize {
		raw /= math.Sqrt(math.Max(1, float64(inDeg+outDeg)))
	}

	return models.RiskResult{
		Wallet:    wallet,
		RiskScore: Round6(raw),
		Exposures: exposures,
		InDegree:  inDeg,
		OutDegree: outDeg,
	}
}

// Round6 rounds to six decimals. Applied at result boundaries only;
// intermediate sums stay unrounded.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
