package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Shopify/sarama"
	"github.com/google/uuid"
	"github.com/rawblock/aml-risk-engine/pkg/models"
)

// Store is the slice of the transaction store the consumer needs.
type Store interface {
	BulkUpsertTransactions(ctx context.Context, txs []models.ValidTx) (int, error)
	UpsertIngestionState(ctx context.Context, name string, lastTxID *string, inserted int, lastErr *string) error
}

// Config holds the bus and batching parameters, all env-driven.
type Config struct {
	Brokers            []string
	Topic              string
	GroupID            string
	ConsumerName       string
	BatchSize          int
	PollInterval       time.Duration
	FlushInterval      time.Duration
	ConnectRetry       time.Duration
	ConnectMaxAttempts int
}

// FlushEvent summarizes one successful flush for telemetry consumers
// (the websocket hub streams these to the dashboard).
type FlushEvent struct {
	Flushed  int    `json:"flushed"`
	Inserted int    `json:"inserted"`
	Skipped  int    `json:"skipped"`
	LastTxID string `json:"lastTxId,omitempty"`
}

// Consumer pulls transaction records from Kafka in batches and lands them
// in the store. Offsets are committed only after the batch is durable, so
// delivery is at-least-once from the bus and exactly-once into the table
// via the tx_id unique key. Poison records never block progress.
type Consumer struct {
	cfg     Config
	store   Store
	onFlush func(FlushEvent)
}

func NewConsumer(cfg Config, store Store, onFlush func(FlushEvent)) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.ConnectRetry <= 0 {
		cfg.ConnectRetry = 5 * time.Second
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "transactions_consumer"
	}
	return &Consumer{cfg: cfg, store: store, onFlush: onFlush}
}

// Run blocks until ctx is cancelled or the broker connection can no
// longer be established within the configured attempt budget.
func (c *Consumer) Run(ctx context.Context) error {
	group, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer group.Close()

	log.Printf("[Consumer] Connected: brokers=%v topic=%q group=%q", c.cfg.Brokers, c.cfg.Topic, c.cfg.GroupID)

	handler := &groupHandler{consumer: c}
	for {
		// Consume re-joins the group after each rebalance; a flush failure
		// surfaces here, leaving the offsets uncommitted so the same
		// records are re-delivered on the next session.
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
			log.Printf("[Consumer] Session ended with error: %v", err)
		}
		if ctx.Err() != nil {
			log.Println("[Consumer] Stopping")
			return nil
		}
		time.Sleep(c.cfg.ConnectRetry)
	}
}

// connect retries broker connection every ConnectRetry; zero max attempts
// means retry forever.
func (c *Consumer) connect(ctx context.Context) (sarama.ConsumerGroup, error) {
	config := sarama.NewConfig()
	config.Version = sarama.MaxVersion
	config.ClientID = fmt.Sprintf("%s-%s", c.cfg.GroupID, uuid.NewString())
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Offsets.AutoCommit.Enable = false

	attempts := 0
	for {
		group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, config)
		if err == nil {
			return group, nil
		}

		attempts++
		if c.cfg.ConnectMaxAttempts > 0 && attempts >= c.cfg.ConnectMaxAttempts {
			return nil, fmt.Errorf("bus connect failed after %d attempts: %w", attempts, err)
		}
		log.Printf("[Consumer] Bus connect attempt %d failed: %v (retrying in %s)", attempts, err, c.cfg.ConnectRetry)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.ConnectRetry):
		}
	}
}

type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	log.Printf("[Consumer] Group session started as %s", sess.MemberID())
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	log.Printf("[Consumer] Group session cleaned up: %s", sess.MemberID())
	return nil
}

// ConsumeClaim owns the batching loop for one partition claim: buffer up
// to BatchSize records, flush on size or on FlushInterval elapsing, and
// mark+commit offsets only once the flush has committed to the database.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	c := h.consumer

	var buffer []*sarama.ConsumerMessage
	lastFlush := time.Now()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		if err := c.flush(sess, buffer); err != nil {
			return err
		}
		buffer = buffer[:0]
		lastFlush = time.Now()
		return nil
	}

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return flush()
			}
			buffer = append(buffer, msg)
			if len(buffer) >= c.cfg.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if len(buffer) > 0 && time.Since(lastFlush) >= c.cfg.FlushInterval {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-sess.Context().Done():
			// In-flight batch completes (or rolls back) before shutdown.
			return flush()
		}
	}
}

// flush lands one buffer: normalize, bulk upsert, commit offsets, record
// telemetry. On a storage failure the offsets stay put, last_error is
// written best-effort, and the error propagates so the claim is retried.
func (c *Consumer) flush(sess sarama.ConsumerGroupSession, msgs []*sarama.ConsumerMessage) error {
	ctx := sess.Context()

	payloads := make([][]byte, len(msgs))
	for i, m := range msgs {
		payloads[i] = m.Value
	}
	valid, skipped, lastTxID := NormalizeBatch(payloads)

	inserted, err := c.store.BulkUpsertTransactions(ctx, valid)
	if err != nil {
		// Record the error only: last_tx_id must keep pointing at the last
		// successful flush, since these offsets stay uncommitted.
		msg := err.Error()
		if stateErr := c.store.UpsertIngestionState(context.Background(), c.cfg.ConsumerName, nil, 0, &msg); stateErr != nil {
			log.Printf("[Consumer] Failed to record last_error: %v", stateErr)
		}
		return fmt.Errorf("flush of %d records failed: %w", len(msgs), err)
	}

	for _, m := range msgs {
		sess.MarkMessage(m, "")
	}
	sess.Commit()

	if err := c.store.UpsertIngestionState(ctx, c.cfg.ConsumerName, lastTxID, inserted, nil); err != nil {
		log.Printf("[Consumer] Ingestion-state upsert failed (flush already durable): %v", err)
	}

	log.Printf("[Consumer] Flushed=%d inserted=%d skipped=%d", len(msgs), inserted, skipped)
	if c.onFlush != nil {
		ev := FlushEvent{Flushed: len(msgs), Inserted: inserted, Skipped: skipped}
		if lastTxID != nil {
			ev.LastTxID = *lastTxID
		}
		c.onFlush(ev)
	}
	return nil
}
