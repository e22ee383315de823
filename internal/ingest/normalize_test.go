package ingest

import (
	"testing"
	"time"

	"github.com/rawblock/aml-risk-engine/pkg/models"
)

func TestNormalize_ResolvesFieldAliases(t *testing.T) {
	cases := []struct {
		name string
		raw  models.RawBusRecord
	}{
		{"canonical", models.RawBusRecord{TxID: "T1", Sender: "A", Receiver: "B"}},
		{"src_dst", models.RawBusRecord{TxID: "T1", Src: "A", Dst: "B"}},
		{"from_to", models.RawBusRecord{TxID: "T1", From: "A", To: "B"}},
	}
	for _, c := range cases {
		tx, ok := Normalize(c.raw)
		if !ok {
			t.Fatalf("%s: expected record accepted", c.name)
		}
		if tx.Sender != "A" || tx.Receiver != "B" {
			t.Fatalf("%s: expected A->B, got %s->%s", c.name, tx.Sender, tx.Receiver)
		}
	}
}

func TestNormalize_CanonicalFieldWinsOverAlias(t *testing.T) {
	tx, ok := Normalize(models.RawBusRecord{TxID: "T1", Sender: "A", Src: "X", Receiver: "B", To: "Y"})
	if !ok || tx.Sender != "A" || tx.Receiver != "B" {
		t.Fatalf("expected canonical fields to win, got %+v (ok=%v)", tx, ok)
	}
}

func TestNormalize_PoisonRecordsRejected(t *testing.T) {
	poison := []models.RawBusRecord{
		{Sender: "A", Receiver: "B"}, // no tx_id
		{TxID: "T1", Receiver: "B"},  // no sender under any alias
		{TxID: "T1", Sender: "A"},    // no receiver under any alias
	}
	for i, raw := range poison {
		if _, ok := Normalize(raw); ok {
			t.Fatalf("case %d: expected poison record rejected: %+v", i, raw)
		}
	}
}

func TestNormalize_AmountCoercion(t *testing.T) {
	base := models.RawBusRecord{TxID: "T1", Sender: "A", Receiver: "B"}

	cases := []struct {
		name   string
		amount any
		want   float64
	}{
		{"float", 12.5, 12.5},
		{"numeric_string", "7.25", 7.25},
		{"garbage_string", "lots", 0.0},
		{"absent", nil, 0.0},
	}
	for _, c := range cases {
		raw := base
		raw.Amount = c.amount
		tx, ok := Normalize(raw)
		if !ok {
			t.Fatalf("%s: amount problems must not poison the record", c.name)
		}
		if tx.Amount != c.want {
			t.Fatalf("%s: expected amount %v, got %v", c.name, c.want, tx.Amount)
		}
	}
}

func TestNormalize_TimestampParsing(t *testing.T) {
	tx, ok := Normalize(models.RawBusRecord{TxID: "T1", Sender: "A", Receiver: "B", Timestamp: "2026-08-01T10:00:00Z"})
	if !ok || tx.Timestamp == nil {
		t.Fatalf("expected parsed timestamp, got %+v", tx)
	}
	want := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	if !tx.Timestamp.Equal(want) {
		t.Fatalf("expected %v, got %v", want, tx.Timestamp)
	}

	// time alias, bare layout
	tx, ok = Normalize(models.RawBusRecord{TxID: "T1", Sender: "A", Receiver: "B", Time: "2026-08-01 10:00:00"})
	if !ok || tx.Timestamp == nil {
		t.Fatalf("expected bare layout accepted via time alias, got %+v", tx)
	}

	// unparsable timestamps become nil, the store substitutes NOW()
	tx, ok = Normalize(models.RawBusRecord{TxID: "T1", Sender: "A", Receiver: "B", Timestamp: "yesterday"})
	if !ok || tx.Timestamp != nil {
		t.Fatalf("expected nil timestamp for unparsable input, got %+v", tx)
	}
}

func TestNormalizeBatch_CountsSkippedAndTracksLastTxID(t *testing.T) {
	payloads := [][]byte{
		[]byte(`{"tx_id":"T1","sender":"A","receiver":"B","amount":1}`),
		[]byte(`not json at all`),
		[]byte(`{"tx_id":"T2","sender":"A"}`), // poison: no receiver
		[]byte(`{"tx_id":"T3","src":"C","dst":"D","amount":"2"}`),
	}

	valid, skipped, lastTxID := NormalizeBatch(payloads)

	if len(valid) != 2 {
		t.Fatalf("expected 2 valid records, got %d", len(valid))
	}
	if skipped != 2 {
		t.Fatalf("expected 2 skipped records, got %d", skipped)
	}
	if lastTxID == nil || *lastTxID != "T3" {
		t.Fatalf("expected lastTxID T3, got %v", lastTxID)
	}
	if valid[1].Amount != 2.0 {
		t.Fatalf("expected string amount coerced, got %v", valid[1].Amount)
	}
}

func TestNormalizeBatch_LastTxIDIncludesPoisonRecords(t *testing.T) {
	payloads := [][]byte{
		[]byte(`{"tx_id":"T1","sender":"A","receiver":"B"}`),
		[]byte(`{"tx_id":"T9","sender":"A"}`), // poison but carries an id
	}

	_, skipped, lastTxID := NormalizeBatch(payloads)
	if skipped != 1 {
		t.Fatalf("expected 1 skipped, got %d", skipped)
	}
	if lastTxID == nil || *lastTxID != "T9" {
		t.Fatalf("checkpoint must advance past poison records, got %v", lastTxID)
	}
}

func TestNormalizeBatch_EmptyBuffer(t *testing.T) {
	valid, skipped, lastTxID := NormalizeBatch(nil)
	if len(valid) != 0 || skipped != 0 || lastTxID != nil {
		t.Fatalf("expected empty result for empty buffer, got %d/%d/%v", len(valid), skipped, lastTxID)
	}
}
