package risk

import (
	"math"
	"sort"

	"github.com/rawblock/aml-risk-engine/internal/graph"
	"github.com/rawblock/aml-risk-engine/pkg/models"
)

// explainNotes is sent verbatim in every explain response. The stored
// risk_score weights cumulative exposure (everything within <= h hops),
// while the breakdown below attributes each illicit wallet to its exact
// hop once, so the two totals legitimately differ.
const explainNotes = "explain_score sums exact-hop contributions; the stored risk_score " +
	"uses cumulative exposure per hop and is therefore greater or equal"

// Explain decomposes a wallet's proximity to the illicit set by exact hop.
// perHopLimit bounds the sample of illicit wallets listed per hop;
// totalLimit bounds the flattened contributor list.
func Explain(s *graph.Snapshot, wallet string, cfg models.RiskConfig, maxHops, perHopLimit, totalLimit int) (models.Explanation, bool) {
	g := s.Graph
	if !g.HasNode(wallet) {
		return models.Explanation{}, false
	}

	weight := func(hop int) float64 {
		if hop < len(cfg.HopWeights) {
			return cfg.HopWeights[hop]
		}
		return 0.0
	}

	norm := 1.0
	if cfg.DegreeNormalize {
		deg := g.InDegree(wallet) + g.OutDegree(wallet)
		norm = math.Sqrt(math.Max(1, float64(deg)))
	}

	layers := Layers(g, wallet, maxHops)

	exp := models.Explanation{
		Wallet:          wallet,
		MaxHops:         maxHops,
		DegreeNormalize: cfg.DegreeNormalize,
		Norm:            Round6(norm),
		HopBreakdown:    make([]models.ExplainHop, 0, maxHops+1),
		TopContributors: make([]models.ExplainContributor, 0),
		Notes:           explainNotes,
	}

	total := 0.0
	for hop := 0; hop <= maxHops; hop++ {
		illicitHere := make([]string, 0)
		for n := range layers[hop] {
			if _, ok := s.Illicit[n]; ok {
				illicitHere = append(illicitHere, n)
			}
		}
		sort.Strings(illicitHere)

		w := weight(hop)
		contribution := w * float64(len(illicitHere)) / norm
		total += contribution

		sample := illicitHere
		truncated := false
		if len(sample) > perHopLimit {
			sample = sample[:perHopLimit]
			truncated = true
		}

		exp.HopBreakdown = append(exp.HopBreakdown, models.ExplainHop{
			Hop:             hop,
			Weight:          w,
			IllicitCount:    len(illicitHere),
			Contribution:    Round6(contribution),
			Sample:          sample,
			SampleTruncated: truncated,
		})

		perWallet := w / norm
		for _, n := range illicitHere {
			exp.TopContributors = append(exp.TopContributors, models.ExplainContributor{
				Wallet:       n,
				Hop:          hop,
				Weight:       w,
				Contribution: Round6(perWallet),
			})
		}
	}

	sort.Slice(exp.TopContributors, func(i, j int) bool {
		a, b := exp.TopContributors[i], exp.TopContributors[j]
		if a.Contribution != b.Contribution {
			return a.Contribution > b.Contribution
		}
		if a.Hop != b.Hop {
			return a.Hop < b.Hop
		}
		return a.Wallet < b.Wallet
	})
	if len(exp.TopContributors) > totalLimit {
		exp.TopContributors = exp.TopContributors[:totalLimit]
		exp.Truncated = true
	}

	exp.ExplainScore = Round6(total)
	return exp, true
}
