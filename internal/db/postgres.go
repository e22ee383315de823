package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rawblock/aml-risk-engine/internal/graph"
	"github.com/rawblock/aml-risk-engine/pkg/models"
)

// schemaSQL is compiled into the binary at build time.
// This ensures schema init works inside the Docker runtime image which
// does not copy internal/db/schema.sql into the final stage.
//
//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for AML Risk Engine")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("AML Risk Schema initialized")
	return nil
}

// BulkUpsertTransactions inserts a batch in a single statement with
// tx_id-based dedupe. The returned count is the number of genuinely new
// rows (RETURNING, not rowcount), which keeps total_inserted honest when
// the bus re-delivers a batch.
func (s *PostgresStore) BulkUpsertTransactions(ctx context.Context, txs []models.ValidTx) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	ids := make([]string, len(txs))
	senders := make([]string, len(txs))
	receivers := make([]string, len(txs))
	amounts := make([]float64, len(txs))
	timestamps := make([]*time.Time, len(txs))
	for i, tx := range txs {
		ids[i] = tx.TxID
		senders[i] = tx.Sender
		receivers[i] = tx.Receiver
		amounts[i] = tx.Amount
		timestamps[i] = tx.Timestamp
	}

	sql := `
		INSERT INTO transactions (tx_id, sender, receiver, amount, timestamp)
		SELECT t.tx_id, t.sender, t.receiver, t.amount, COALESCE(t.ts, NOW())
		FROM unnest($1::text[], $2::text[], $3::text[], $4::float8[], $5::timestamptz[])
			AS t(tx_id, sender, receiver, amount, ts)
		ON CONFLICT (tx_id) DO NOTHING
		RETURNING tx_id;
	`
	rows, err := s.pool.Query(ctx, sql, ids, senders, receivers, amounts, timestamps)
	if err != nil {
		return 0, fmt.Errorf("bulk upsert failed: %v", err)
	}
	defer rows.Close()

	inserted := 0
	for rows.Next() {
		inserted++
	}
	if rows.Err() != nil {
		return 0, rows.Err()
	}
	return inserted, nil
}

// UpsertIngestionState records the outcome of one flush for the named
// consumer. total_inserted accumulates; a nil lastTxID keeps the previous
// checkpoint (failed flushes do not advance it); last_error overwrites
// (pass nil to clear it after a successful flush).
func (s *PostgresStore) UpsertIngestionState(ctx context.Context, name string, lastTxID *string, inserted int, lastErr *string) error {
	sql := `
		INSERT INTO ingestion_state (name, last_tx_id, last_processed_at, total_inserted, last_error)
		VALUES ($1, $2, NOW(), $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			last_tx_id        = COALESCE(EXCLUDED.last_tx_id, ingestion_state.last_tx_id),
			last_processed_at = NOW(),
			total_inserted    = ingestion_state.total_inserted + EXCLUDED.total_inserted,
			last_error        = EXCLUDED.last_error;
	`
	_, err := s.pool.Exec(ctx, sql, name, lastTxID, inserted, lastErr)
	return err
}

// GetIngestionState returns the telemetry row for one consumer name, or
// nil when the consumer has never flushed.
func (s *PostgresStore) GetIngestionState(ctx context.Context, name string) (*models.IngestionState, error) {
	sql := `
		SELECT name, last_tx_id, last_processed_at, total_inserted, last_error
		FROM ingestion_state
		WHERE name = $1;
	`
	var st models.IngestionState
	err := s.pool.QueryRow(ctx, sql, name).Scan(
		&st.Name, &st.LastTxID, &st.LastProcessedAt, &st.TotalInserted, &st.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// CountTransactions returns the size of the durable transaction log.
func (s *PostgresStore) CountTransactions(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions;`).Scan(&n)
	return n, err
}

// CountIngestedSince counts rows persisted within the trailing window,
// by ingested_at rather than event timestamp.
func (s *PostgresStore) CountIngestedSince(ctx context.Context, window time.Duration) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE ingested_at >= NOW() - $1::interval;`,
		window).Scan(&n)
	return n, err
}

// LoadGraphRows fetches the full transaction snapshot for graph building.
func (s *PostgresStore) LoadGraphRows(ctx context.Context) ([]graph.TxRow, error) {
	rows, err := s.pool.Query(ctx, `SELECT sender, receiver, amount FROM transactions;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]graph.TxRow, 0, 1024)
	for rows.Next() {
		var r graph.TxRow
		if err := rows.Scan(&r.Src, &r.Dst, &r.Amount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// SaveScoringRun persists the run row and every risk score in one
// transaction. A failure anywhere rolls the run row back too, so readers
// never observe a partial run.
func (s *PostgresStore) SaveScoringRun(ctx context.Context, txSource string, cfg models.RiskConfig, scores []models.RiskScoreRow) (int64, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return 0, fmt.Errorf("marshal config: %v", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var runID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO scoring_runs (tx_source, config_json) VALUES ($1, $2) RETURNING id;`,
		txSource, cfgJSON).Scan(&runID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert scoring run: %v", err)
	}

	wallets := make([]string, len(scores))
	riskScores := make([]float64, len(scores))
	exposures := make([]string, len(scores))
	inDegrees := make([]int32, len(scores))
	outDegrees := make([]int32, len(scores))
	for i, row := range scores {
		expJSON, err := json.Marshal(row.Exposures)
		if err != nil {
			return 0, fmt.Errorf("marshal exposures for %s: %v", row.Wallet, err)
		}
		wallets[i] = row.Wallet
		riskScores[i] = row.RiskScore
		exposures[i] = string(expJSON)
		inDegrees[i] = int32(row.InDegree)
		outDegrees[i] = int32(row.OutDegree)
	}

	insertScoresSQL := `
		INSERT INTO risk_scores (run_id, wallet, risk_score, exposures_json, in_degree, out_degree)
		SELECT $1, t.wallet, t.risk_score, t.exposures::jsonb, t.in_degree, t.out_degree
		FROM unnest($2::text[], $3::float8[], $4::text[], $5::int4[], $6::int4[])
			AS t(wallet, risk_score, exposures, in_degree, out_degree);
	`
	if len(scores) > 0 {
		if _, err := tx.Exec(ctx, insertScoresSQL, runID, wallets, riskScores, exposures, inDegrees, outDegrees); err != nil {
			return 0, fmt.Errorf("failed to insert risk scores: %v", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return runID, nil
}

// GetLatestRun returns the most recent scoring run, or nil when no run
// has ever completed.
func (s *PostgresStore) GetLatestRun(ctx context.Context) (*models.ScoringRun, error) {
	sql := `
		SELECT id, created_at, tx_source, config_json
		FROM scoring_runs
		ORDER BY created_at DESC, id DESC
		LIMIT 1;
	`
	var run models.ScoringRun
	var cfgJSON []byte
	err := s.pool.QueryRow(ctx, sql).Scan(&run.ID, &run.CreatedAt, &run.TxSource, &cfgJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cfgJSON, &run.Config); err != nil {
		return nil, fmt.Errorf("corrupt config_json for run %d: %v", run.ID, err)
	}
	return &run, nil
}

// CountScoresForRun returns the number of wallets scored in one run.
func (s *PostgresStore) CountScoresForRun(ctx context.Context, runID int64) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM risk_scores WHERE run_id = $1;`, runID).Scan(&n)
	return n, err
}

func scanScoreRow(row pgx.Row, out *models.RiskScoreRow) error {
	var expJSON []byte
	if err := row.Scan(&out.RunID, &out.Wallet, &out.RiskScore, &expJSON,
		&out.InDegree, &out.OutDegree, &out.CreatedAt); err != nil {
		return err
	}
	return json.Unmarshal(expJSON, &out.Exposures)
}

// TopScores returns the highest-risk wallets from the latest run, empty
// when no run exists yet.
func (s *PostgresStore) TopScores(ctx context.Context, limit int) ([]models.RiskScoreRow, error) {
	run, err := s.GetLatestRun(ctx)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return []models.RiskScoreRow{}, nil
	}

	sql := `
		SELECT run_id, wallet, risk_score, exposures_json, in_degree, out_degree, created_at
		FROM risk_scores
		WHERE run_id = $1
		ORDER BY risk_score DESC, wallet ASC
		LIMIT $2;
	`
	rows, err := s.pool.Query(ctx, sql, run.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.RiskScoreRow, 0, limit)
	for rows.Next() {
		var row models.RiskScoreRow
		if err := scanScoreRow(rows, &row); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// LatestScoreForWallet returns the most recently created score row for a
// wallet across all runs, or nil when the wallet was never scored.
func (s *PostgresStore) LatestScoreForWallet(ctx context.Context, wallet string) (*models.RiskScoreRow, error) {
	sql := `
		SELECT run_id, wallet, risk_score, exposures_json, in_degree, out_degree, created_at
		FROM risk_scores
		WHERE wallet = $1
		ORDER BY created_at DESC, run_id DESC
		LIMIT 1;
	`
	var row models.RiskScoreRow
	err := scanScoreRow(s.pool.QueryRow(ctx, sql, wallet), &row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ScoresForWallets fetches risk scores for a wallet set within one run in
// a single indexed lookup. Wallets without a row are simply absent.
func (s *PostgresStore) ScoresForWallets(ctx context.Context, runID int64, wallets []string) (map[string]float64, error) {
	out := make(map[string]float64, len(wallets))
	if len(wallets) == 0 {
		return out, nil
	}

	sql := `
		SELECT wallet, risk_score
		FROM risk_scores
		WHERE run_id = $1 AND wallet = ANY($2);
	`
	rows, err := s.pool.Query(ctx, sql, runID, wallets)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var wallet string
		var score float64
		if err := rows.Scan(&wallet, &score); err != nil {
			return nil, err
		}
		out[wallet] = score
	}
	return out, rows.Err()
}
