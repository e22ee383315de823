package scoring

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/rawblock/aml-risk-engine/internal/graph"
	"github.com/rawblock/aml-risk-engine/internal/risk"
	"github.com/rawblock/aml-risk-engine/pkg/models"
)

// ErrBusy rejects a second scoring run while one is in flight. Scoring is
// single-writer; callers retry once the current run commits.
var ErrBusy = errors.New("scoring run already in progress")

// Store is the slice of the transaction store the runner needs.
type Store interface {
	SaveScoringRun(ctx context.Context, txSource string, cfg models.RiskConfig, scores []models.RiskScoreRow) (int64, error)
}

// Result reports one committed scoring run.
type Result struct {
	RunID         int64 `json:"run_id"`
	WalletsScored int   `json:"wallets_scored"`
}

// Runner scores every wallet of the current snapshot and persists the run
// atomically. The run keeps its captured snapshot even if a graph reload
// publishes a newer one mid-run.
type Runner struct {
	store   Store
	holder  *graph.Holder
	running atomic.Bool
}

func NewRunner(store Store, holder *graph.Holder) *Runner {
	return &Runner{store: store, holder: holder}
}

// Running reports whether a run is currently in flight.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Run scores all wallets under cfg and bulk-inserts the result set in one
// transaction. Nodes are walked in sorted order so identical inputs yield
// identical runs.
func (r *Runner) Run(ctx context.Context, cfg models.RiskConfig) (Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Result{}, ErrBusy
	}
	defer r.running.Store(false)

	snap, err := r.holder.Current()
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	nodes := snap.Graph.Nodes()
	rows := make([]models.RiskScoreRow, 0, len(nodes))
	for _, wallet := range nodes {
		res := risk.ScoreWallet(snap, wallet, cfg)
		rows = append(rows, models.RiskScoreRow{
			Wallet:    res.Wallet,
			RiskScore: res.RiskScore,
			Exposures: res.Exposures,
			InDegree:  res.InDegree,
			OutDegree: res.OutDegree,
		})
	}

	runID, err := r.store.SaveScoringRun(ctx, snap.TxSource, cfg, rows)
	if err != nil {
		return Result{}, err
	}

	log.Printf("[Scoring] Run %d committed: %d wallets in %s (illicit seeds: %d)",
		runID, len(rows), time.Since(start).Round(time.Millisecond), len(snap.Illicit))
	return Result{RunID: runID, WalletsScored: len(rows)}, nil
}
