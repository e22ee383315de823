package models

import "time"

// RawBusRecord is the wire shape of a transaction event on the bus.
// Producers in the wild disagree on field names, so the aliased columns
// (src/from, dst/to, time) are all accepted and resolved during
// normalization.
type RawBusRecord struct {
	TxID      string `json:"tx_id"`
	Sender    string `json:"sender"`
	Src       string `json:"src"`
	From      string `json:"from"`
	Receiver  string `json:"receiver"`
	Dst       string `json:"dst"`
	To        string `json:"to"`
	Amount    any    `json:"amount"`
	Timestamp string `json:"timestamp"`
	Time      string `json:"time"`
}

// ValidTx is a normalized transaction ready for the bulk upsert path.
type ValidTx struct {
	TxID      string     `json:"tx_id"`
	Sender    string     `json:"sender"`
	Receiver  string     `json:"receiver"`
	Amount    float64    `json:"amount"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// IngestionState mirrors one row of the ingestion_state table. One row per
// consumer name; total_inserted only ever grows.
type IngestionState struct {
	Name            string    `json:"name"`
	LastTxID        *string   `json:"lastTxId"`
	LastProcessedAt time.Time `json:"lastProcessedAt"`
	TotalInserted   int64     `json:"totalInserted"`
	LastError       *string   `json:"lastError"`
}

// ScoringRun is an immutable batch of risk scores plus the configuration
// that produced them.
type ScoringRun struct {
	ID        int64      `json:"id"`
	CreatedAt time.Time  `json:"createdAt"`
	TxSource  string     `json:"txSource"`
	Config    RiskConfig `json:"config"`
}

// RiskConfig captures everything needed to reproduce a scoring run.
// Serialized into scoring_runs.config_json.
type RiskConfig struct {
	HopWeights      []float64 `json:"hop_weights"`
	DegreeNormalize bool      `json:"degree_normalize"`
	IllicitSeedPct  float64   `json:"illicit_seed_pct"`
}

// DefaultRiskConfig returns the stock weighting: full weight for being
// illicit yourself, decaying for 1- and 2-hop proximity.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		HopWeights:      []float64{1.0, 0.6, 0.3},
		DegreeNormalize: true,
		IllicitSeedPct:  0.05,
	}
}

// HopExposure is one entry of exposures_json: the cumulative number of
// illicit wallets within <= Hop undirected hops.
type HopExposure struct {
	Hop          int     `json:"hop"`
	Weight       float64 `json:"weight"`
	IllicitCount int     `json:"illicit_count"`
}

// RiskResult is the scored view of a single wallet.
type RiskResult struct {
	Wallet    string        `json:"wallet"`
	RiskScore float64       `json:"risk_score"`
	Exposures []HopExposure `json:"exposures,omitempty"`
	InDegree  int           `json:"in_degree"`
	OutDegree int           `json:"out_degree"`
	Reason    string        `json:"reason,omitempty"`
}

// RiskScoreRow mirrors one row of the risk_scores table.
type RiskScoreRow struct {
	RunID     int64         `json:"runId"`
	Wallet    string        `json:"wallet"`
	RiskScore float64       `json:"riskScore"`
	Exposures []HopExposure `json:"exposures"`
	InDegree  int           `json:"inDegree"`
	OutDegree int           `json:"outDegree"`
	CreatedAt time.Time     `json:"createdAt"`
}

// ExplainHop is one row of the per-hop breakdown. Illicit wallets at
// exactly Hop undirected hops, with a bounded sample of them.
type ExplainHop struct {
	Hop             int      `json:"hop"`
	Weight          float64  `json:"weight"`
	IllicitCount    int      `json:"illicitCount"`
	Contribution    float64  `json:"contribution"`
	Sample          []string `json:"sample"`
	SampleTruncated bool     `json:"sampleTruncated"`
}

// ExplainContributor is a single illicit wallet's share of the score.
type ExplainContributor struct {
	Wallet       string  `json:"wallet"`
	Hop          int     `json:"hop"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Explanation decomposes a wallet's score by exact hop. ExplainScore sums
// exact-hop contributions and is therefore <= the stored cumulative score;
// Notes spells that out for API consumers.
type Explanation struct {
	Wallet          string               `json:"wallet"`
	MaxHops         int                  `json:"maxHops"`
	DegreeNormalize bool                 `json:"degreeNormalize"`
	Norm            float64              `json:"norm"`
	ExplainScore    float64              `json:"explainScore"`
	HopBreakdown    []ExplainHop         `json:"hopBreakdown"`
	TopContributors []ExplainContributor `json:"topContributors"`
	Truncated       bool                 `json:"truncated"`
	Notes           string               `json:"notes"`
}

// SubgraphNode is one node of the analyst-facing subgraph view.
type SubgraphNode struct {
	ID        string   `json:"id"`
	Hop       int      `json:"hop"`
	RiskScore float64  `json:"riskScore"`
	InDegree  int      `json:"inDegree"`
	OutDegree int      `json:"outDegree"`
	Tags      []string `json:"tags"`
}

// SubgraphEdge is an aggregated directed edge between two selected nodes.
type SubgraphEdge struct {
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	TxCount     int     `json:"txCount"`
	TotalAmount float64 `json:"totalAmount"`
}

// SubgraphView is the full extraction result for one center wallet.
type SubgraphView struct {
	Center string         `json:"center"`
	Nodes  []SubgraphNode `json:"nodes"`
	Edges  []SubgraphEdge `json:"edges"`
}
