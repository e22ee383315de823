package ingest

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/rawblock/aml-risk-engine/pkg/models"
)

// Normalize maps one raw bus record to a ValidTx, resolving the field
// aliases producers use (sender|src|from, receiver|dst|to, timestamp|time).
// Records missing tx_id, sender or receiver are poison: ok=false, dropped
// and counted by the caller. A missing or unparsable amount becomes 0.0
// rather than poisoning the record.
func Normalize(raw models.RawBusRecord) (models.ValidTx, bool) {
	sender := firstNonEmpty(raw.Sender, raw.Src, raw.From)
	receiver := firstNonEmpty(raw.Receiver, raw.Dst, raw.To)
	if raw.TxID == "" || sender == "" || receiver == "" {
		return models.ValidTx{}, false
	}

	return models.ValidTx{
		TxID:      raw.TxID,
		Sender:    sender,
		Receiver:  receiver,
		Amount:    coerceAmount(raw.Amount),
		Timestamp: parseTimestamp(firstNonEmpty(raw.Timestamp, raw.Time)),
	}, true
}

// NormalizeBatch decodes and normalizes a buffer of raw message payloads.
// lastTxID is the last non-empty tx_id observed anywhere in the buffer,
// including records that were skipped or turn out to be duplicates.
func NormalizeBatch(payloads [][]byte) (valid []models.ValidTx, skipped int, lastTxID *string) {
	valid = make([]models.ValidTx, 0, len(payloads))
	for _, p := range payloads {
		var raw models.RawBusRecord
		if err := json.Unmarshal(p, &raw); err != nil {
			skipped++
			continue
		}
		if raw.TxID != "" {
			id := raw.TxID
			lastTxID = &id
		}
		tx, ok := Normalize(raw)
		if !ok {
			skipped++
			continue
		}
		valid = append(valid, tx)
	}
	return valid, skipped, lastTxID
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// coerceAmount tolerates JSON numbers, numeric strings and absent values.
func coerceAmount(v any) float64 {
	switch a := v.(type) {
	case float64:
		return a
	case string:
		if f, err := strconv.ParseFloat(a, 64); err == nil {
			return f
		}
	case json.Number:
		if f, err := a.Float64(); err == nil {
			return f
		}
	}
	return 0.0
}

// parseTimestamp returns nil for absent or unparsable timestamps; the
// store substitutes NOW() on insert.
func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
