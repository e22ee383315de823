package health

import (
	"context"
	"strings"
	"time"

	"github.com/rawblock/aml-risk-engine/internal/graph"
	"github.com/rawblock/aml-risk-engine/pkg/models"
)

// Store is the read-only telemetry slice of the transaction store.
type Store interface {
	CountTransactions(ctx context.Context) (int64, error)
	CountIngestedSince(ctx context.Context, window time.Duration) (int64, error)
	GetIngestionState(ctx context.Context, name string) (*models.IngestionState, error)
	GetLatestRun(ctx context.Context) (*models.ScoringRun, error)
	CountScoresForRun(ctx context.Context, runID int64) (int64, error)
}

// RunSummary is the latest-run digest included in the status payload.
type RunSummary struct {
	RunID         int64     `json:"runId"`
	CreatedAt     time.Time `json:"createdAt"`
	TxSource      string    `json:"txSource"`
	WalletsScored int64     `json:"walletsScored"`
}

// Status is the full ingestion/readiness report.
type Status struct {
	Status                    string      `json:"status"` // ok | starting | degraded
	GraphReady                bool        `json:"graphReady"`
	GraphError                string      `json:"graphError,omitempty"`
	TxSource                  string      `json:"txSource"`
	TxCount                   int64       `json:"txCount"`
	TotalInserted             int64       `json:"totalInserted"`
	LastError                 string      `json:"lastError,omitempty"`
	SecondsSinceLastProcessed *float64    `json:"secondsSinceLastProcessed"`
	IngestedLast5m            int64       `json:"ingestedLast5m"`
	TxPerMin5m                float64     `json:"txPerMin5m"`
	GraphNodes                int         `json:"graphNodes,omitempty"`
	GraphEdges                int         `json:"graphEdges,omitempty"`
	LatestRun                 *RunSummary `json:"latestRun,omitempty"`
}

// Derive computes the tri-state status with precedence
// degraded > starting > ok. store may be nil in csv mode without a
// database; DB-backed telemetry is then simply absent.
func Derive(ctx context.Context, store Store, holder *graph.Holder, consumerName, txSource string) (Status, error) {
	st := Status{TxSource: txSource}

	var (
		state *models.IngestionState
		err   error
	)
	if store != nil {
		if st.TxCount, err = store.CountTransactions(ctx); err != nil {
			return st, err
		}
		if state, err = store.GetIngestionState(ctx, consumerName); err != nil {
			return st, err
		}
		if st.IngestedLast5m, err = store.CountIngestedSince(ctx, 5*time.Minute); err != nil {
			return st, err
		}
		st.TxPerMin5m = float64(st.IngestedLast5m) / 5.0

		if state != nil {
			st.TotalInserted = state.TotalInserted
			secs := time.Since(state.LastProcessedAt.UTC()).Seconds()
			st.SecondsSinceLastProcessed = &secs
			if state.LastError != nil {
				st.LastError = *state.LastError
			}
		}

		run, err := store.GetLatestRun(ctx)
		if err != nil {
			return st, err
		}
		if run != nil {
			scored, err := store.CountScoresForRun(ctx, run.ID)
			if err != nil {
				return st, err
			}
			st.LatestRun = &RunSummary{
				RunID:         run.ID,
				CreatedAt:     run.CreatedAt,
				TxSource:      run.TxSource,
				WalletsScored: scored,
			}
		}
	}

	st.GraphReady = holder.Loaded()
	if snap, err := holder.Current(); err == nil {
		st.GraphNodes = snap.Graph.NumNodes()
		st.GraphEdges = snap.Graph.NumEdges()
	}

	graphErr := holder.Err()
	// An empty source is the normal pre-ingestion state, not a fault: the
	// error stays informational while the table is empty and is stale once
	// transactions exist.
	noTxErr := strings.Contains(graphErr, graph.ErrNoTransactions.Error())
	if noTxErr && st.TxCount > 0 {
		graphErr = ""
		noTxErr = false
	}
	st.GraphError = graphErr

	switch {
	case st.LastError != "" || (graphErr != "" && !noTxErr):
		st.Status = "degraded"
	case !st.GraphReady:
		st.Status = "starting"
	case txSource == "db" && (st.TxCount == 0 || state == nil):
		st.Status = "starting"
	default:
		st.Status = "ok"
	}
	return st, nil
}
