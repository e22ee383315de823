package graph

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestAddTx_AggregatesParallelTransfers(t *testing.T) {
	g := New()
	g.AddTx("A", "B", 10)
	g.AddTx("A", "B", 5)
	g.AddTx("B", "A", 2)

	if g.NumNodes() != 2 {
		t.Fatalf("expected 2 nodes, got %d", g.NumNodes())
	}
	if g.NumEdges() != 2 {
		t.Fatalf("expected 2 aggregated edges (A->B and B->A), got %d", g.NumEdges())
	}
	if g.TxRows() != 3 {
		t.Fatalf("expected 3 tx rows, got %d", g.TxRows())
	}

	e, ok := g.EdgeBetween("A", "B")
	if !ok {
		t.Fatalf("expected edge A->B")
	}
	if e.TxCount != 2 || e.Amount != 15 {
		t.Fatalf("expected A->B aggregated to txCount=2 amount=15, got %d/%v", e.TxCount, e.Amount)
	}
}

func TestDegrees_CountDistinctNeighbors(t *testing.T) {
	g := New()
	g.AddTx("A", "B", 1)
	g.AddTx("A", "B", 1)
	g.AddTx("A", "C", 1)
	g.AddTx("C", "A", 1)

	if got := g.OutDegree("A"); got != 2 {
		t.Fatalf("expected out-degree 2 for A (parallel transfers collapse), got %d", got)
	}
	if got := g.InDegree("A"); got != 1 {
		t.Fatalf("expected in-degree 1 for A, got %d", got)
	}
	if got := g.InDegree("B"); got != 1 {
		t.Fatalf("expected in-degree 1 for B, got %d", got)
	}
}

func TestNodes_ReturnsSortedOrder(t *testing.T) {
	g := New()
	g.AddTx("Z", "A", 1)
	g.AddTx("M", "Z", 1)

	want := []string{"A", "M", "Z"}
	if got := g.Nodes(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected sorted nodes %v, got %v", want, got)
	}
}

func TestNeighborsUndirected_VisitsEachNeighborOnce(t *testing.T) {
	g := New()
	g.AddTx("A", "B", 1)
	g.AddTx("B", "A", 1) // B is both predecessor and successor
	g.AddTx("C", "A", 1)

	seen := make(map[string]int)
	g.NeighborsUndirected("A", func(nb string) { seen[nb]++ })

	if len(seen) != 2 {
		t.Fatalf("expected 2 distinct neighbors, got %v", seen)
	}
	for nb, n := range seen {
		if n != 1 {
			t.Fatalf("neighbor %s visited %d times, expected once", nb, n)
		}
	}
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "txs.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestBuildFromCSV_AggregatesRows(t *testing.T) {
	path := writeCSV(t, "tx_id,src,dst,amount\nT1,A,B,10.5\nT2,A,B,4.5\nT3,B,C,1\n")

	g, err := BuildFromCSV(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.NumNodes() != 3 || g.NumEdges() != 2 || g.TxRows() != 3 {
		t.Fatalf("unexpected shape: nodes=%d edges=%d rows=%d", g.NumNodes(), g.NumEdges(), g.TxRows())
	}
	e, _ := g.EdgeBetween("A", "B")
	if e.Amount != 15.0 {
		t.Fatalf("expected aggregated amount 15.0, got %v", e.Amount)
	}
}

func TestBuildFromCSV_MissingColumnsIsInvalidInput(t *testing.T) {
	path := writeCSV(t, "tx_id,amount\nT1,10\n")

	_, err := BuildFromCSV(path)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing src/dst, got %v", err)
	}
}

func TestBuildFromCSV_AmountColumnOptional(t *testing.T) {
	path := writeCSV(t, "src,dst\nA,B\n")

	g, err := BuildFromCSV(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e, ok := g.EdgeBetween("A", "B")
	if !ok || e.Amount != 0.0 {
		t.Fatalf("expected zero-amount edge A->B, got ok=%v edge=%+v", ok, e)
	}
}

func TestPickIllicit_DeterministicUnderSameSeed(t *testing.T) {
	g := New()
	for _, pair := range [][2]string{{"A", "B"}, {"B", "C"}, {"C", "D"}, {"D", "E"}, {"E", "F"}} {
		g.AddTx(pair[0], pair[1], 1)
	}

	first := PickIllicit(g, 0.5, 42)
	second := PickIllicit(g, 0.5, 42)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same seed produced different sets: %v vs %v", first, second)
	}
	if len(first) != 3 {
		t.Fatalf("expected 3 picks from 6 nodes at pct=0.5, got %d", len(first))
	}
}

func TestPickIllicit_AtLeastOneForTinyGraphs(t *testing.T) {
	g := New()
	g.AddTx("A", "B", 1)

	picked := PickIllicit(g, 0.01, 1)
	if len(picked) != 1 {
		t.Fatalf("expected floor of one illicit seed, got %d", len(picked))
	}
}

func TestHolder_NotReadyBeforeFirstPublish(t *testing.T) {
	h := NewHolder()
	if _, err := h.Current(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady before first publish, got %v", err)
	}
	if h.Loaded() {
		t.Fatalf("expected Loaded()=false before first publish")
	}
}

func TestHolder_PublishClearsError(t *testing.T) {
	h := NewHolder()
	h.SetError("boom")
	if h.Err() != "boom" {
		t.Fatalf("expected recorded error, got %q", h.Err())
	}

	g := New()
	g.AddTx("A", "B", 1)
	h.Publish(NewSnapshot(g, "csv:test", 1, 0.05, 42))

	if h.Err() != "" {
		t.Fatalf("expected error cleared after publish, got %q", h.Err())
	}
	snap, err := h.Current()
	if err != nil || snap.Graph.NumNodes() != 2 {
		t.Fatalf("expected published snapshot, got snap=%v err=%v", snap, err)
	}
}

func TestHolder_SetErrorKeepsPreviousSnapshot(t *testing.T) {
	h := NewHolder()
	g := New()
	g.AddTx("A", "B", 1)
	h.Publish(NewSnapshot(g, "csv:test", 1, 0.05, 42))

	h.SetError("reload failed")

	snap, err := h.Current()
	if err != nil {
		t.Fatalf("expected previous snapshot to survive a failed reload, got %v", err)
	}
	if snap.Graph.NumNodes() != 2 || h.Err() != "reload failed" {
		t.Fatalf("expected old snapshot + recorded error, got nodes=%d err=%q", snap.Graph.NumNodes(), h.Err())
	}
}

type stubRows struct {
	rows []TxRow
	err  error
}

func (s stubRows) LoadGraphRows(ctx context.Context) ([]TxRow, error) { return s.rows, s.err }

func TestRebuild_EmptySourceIsNoTransactions(t *testing.T) {
	_, err := Rebuild(context.Background(), stubRows{}, LoadConfig{TxSource: "db", IllicitPct: 0.05, IllicitSeed: 42})
	if !errors.Is(err, ErrNoTransactions) {
		t.Fatalf("expected ErrNoTransactions for empty source, got %v", err)
	}
}

func TestRebuild_UnknownSourceIsInvalidInput(t *testing.T) {
	_, err := Rebuild(context.Background(), nil, LoadConfig{TxSource: "ftp"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown source, got %v", err)
	}
}

func TestRebuild_DBSourceBuildsSnapshot(t *testing.T) {
	src := stubRows{rows: []TxRow{{Src: "A", Dst: "B", Amount: 3}, {Src: "B", Dst: "C", Amount: 1}}}

	snap, err := Rebuild(context.Background(), src, LoadConfig{TxSource: "db", IllicitPct: 0.05, IllicitSeed: 42})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.TxSource != "db:transactions" {
		t.Fatalf("expected db descriptor, got %q", snap.TxSource)
	}
	if snap.TxCount != 2 || snap.Graph.NumNodes() != 3 {
		t.Fatalf("unexpected snapshot shape: txCount=%d nodes=%d", snap.TxCount, snap.Graph.NumNodes())
	}
	if len(snap.Illicit) != 1 {
		t.Fatalf("expected one illicit seed for a 3-node graph, got %d", len(snap.Illicit))
	}
}
