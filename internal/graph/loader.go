package graph

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoTransactions is returned when a rebuild finds an empty source.
// The health model treats it as stale once transactions start landing.
var ErrNoTransactions = errors.New("no transactions found")

// RowSource abstracts the transaction store for rebuilds so this package
// stays independent of the database layer.
type RowSource interface {
	LoadGraphRows(ctx context.Context) ([]TxRow, error)
}

// LoadConfig selects the transaction source and the illicit sampling
// parameters applied to the rebuilt graph.
type LoadConfig struct {
	TxSource    string // "db" or "csv"
	TxPath      string // csv mode only
	IllicitPct  float64
	IllicitSeed int64
}

// Rebuild constructs a fresh snapshot from the configured source. The
// caller publishes it on success; a failure leaves the previous snapshot
// in place, which is what makes the swap atomic for readers.
func Rebuild(ctx context.Context, src RowSource, cfg LoadConfig) (*Snapshot, error) {
	var (
		g          *Graph
		descriptor string
	)

	switch cfg.TxSource {
	case "csv":
		built, err := BuildFromCSV(cfg.TxPath)
		if err != nil {
			return nil, err
		}
		g = built
		descriptor = "csv:" + cfg.TxPath
	case "db", "":
		if src == nil {
			return nil, fmt.Errorf("%w: db source requires a connected store", ErrInvalidInput)
		}
		rows, err := src.LoadGraphRows(ctx)
		if err != nil {
			return nil, fmt.Errorf("load transactions: %w", err)
		}
		g = BuildFromRows(rows)
		descriptor = "db:transactions"
	default:
		return nil, fmt.Errorf("%w: unknown tx source %q", ErrInvalidInput, cfg.TxSource)
	}

	if g.NumNodes() == 0 {
		return nil, ErrNoTransactions
	}
	return NewSnapshot(g, descriptor, g.TxRows(), cfg.IllicitPct, cfg.IllicitSeed), nil
}
