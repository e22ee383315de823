package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/aml-risk-engine/internal/graph"
	"github.com/rawblock/aml-risk-engine/internal/health"
	"github.com/rawblock/aml-risk-engine/internal/risk"
	"github.com/rawblock/aml-risk-engine/internal/scoring"
	"github.com/rawblock/aml-risk-engine/internal/subgraph"
)

// intQuery parses a bounded integer query parameter. A missing parameter
// yields def; a malformed or out-of-range one yields an error the caller
// reports as 400.
func intQuery(c *gin.Context, name string, def, min, max int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%s must be in [%d,%d]", name, min, max)
	}
	return v, nil
}

func floatQuery(c *gin.Context, name string, def float64) (float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	return v, nil
}

// handleHealth reports liveness plus graph state. It never fails: storage
// trouble shows up as a degraded status, not an error response.
func (h *APIHandler) handleHealth(c *gin.Context) {
	st, err := health.Derive(c.Request.Context(), h.healthStore(), h.holder, h.consumerName, h.loadCfg.TxSource)
	status := st.Status
	graphErr := st.GraphError
	if err != nil {
		status = "degraded"
		graphErr = h.holder.Err()
		log.Printf("[API] Health telemetry unavailable: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      status,
		"graph_ready": h.holder.Loaded(),
		"graph_error": graphErr,
		"tx_source":   h.loadCfg.TxSource,
	})
}

// handleReady gates load balancers: 200 only when the status model says ok.
func (h *APIHandler) handleReady(c *gin.Context) {
	st, err := health.Derive(c.Request.Context(), h.healthStore(), h.holder, h.consumerName, h.loadCfg.TxSource)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Status unavailable", "details": err.Error()})
		return
	}
	if st.Status != "ok" {
		c.JSON(http.StatusServiceUnavailable, st)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// handleIngestionStatus returns the full telemetry payload.
func (h *APIHandler) handleIngestionStatus(c *gin.Context) {
	st, err := health.Derive(c.Request.Context(), h.healthStore(), h.holder, h.consumerName, h.loadCfg.TxSource)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to read ingestion telemetry", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

// handleReloadGraph rebuilds the graph from the configured source and
// atomically publishes the new snapshot.
func (h *APIHandler) handleReloadGraph(c *gin.Context) {
	var src graph.RowSource
	if h.dbStore != nil {
		src = h.dbStore
	}

	snap, err := graph.Rebuild(c.Request.Context(), src, h.loadCfg)
	if err != nil {
		h.holder.SetError(err.Error())
		switch {
		case errors.Is(err, graph.ErrNoTransactions):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, graph.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Graph rebuild failed", "details": err.Error()})
		}
		return
	}

	h.holder.Publish(snap)
	log.Printf("[API] Graph reloaded: %d txs, %d nodes, %d edges (source %s)",
		snap.TxCount, snap.Graph.NumNodes(), snap.Graph.NumEdges(), snap.TxSource)

	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"tx_count": snap.TxCount,
		"nodes":    snap.Graph.NumNodes(),
		"edges":    snap.Graph.NumEdges(),
	})
}

// handleRunScore launches a full scoring run. Only one run may be in
// flight; a concurrent request fails fast with 409.
func (h *APIHandler) handleRunScore(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}

	result, err := h.runner.Run(c.Request.Context(), h.riskCfg)
	if err != nil {
		switch {
		case errors.Is(err, scoring.ErrBusy):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, graph.ErrNotReady):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Scoring run failed", "details": err.Error()})
		}
		return
	}

	if h.wsHub != nil {
		h.wsHub.BroadcastEvent("scoring_run", result)
	}
	c.JSON(http.StatusOK, result)
}

// handleTopScores returns the highest-risk wallets from the latest run.
func (h *APIHandler) handleTopScores(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}
	limit, err := intQuery(c, "limit", 20, 1, 500)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scores, err := h.dbStore.TopScores(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to fetch top scores", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scores": scores, "count": len(scores)})
}

// handleWalletScore returns the most recent stored score for one wallet.
func (h *APIHandler) handleWalletScore(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}
	wallet := c.Param("wallet")

	row, err := h.dbStore.LatestScoreForWallet(c.Request.Context(), wallet)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to fetch score", "details": err.Error()})
		return
	}
	if row == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("No score stored for wallet %s", wallet)})
		return
	}
	c.JSON(http.StatusOK, row)
}

// handleExplainScore returns the stored score (when one exists) plus the
// exact-hop explainability decomposition computed against the current
// snapshot. The explanation carries a notes field because its exact-hop
// total differs from the stored cumulative score.
func (h *APIHandler) handleExplainScore(c *gin.Context) {
	wallet := c.Param("wallet")

	maxHops, err := intQuery(c, "max_hops", len(h.riskCfg.HopWeights)-1, 0, 6)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	perHopLimit, err := intQuery(c, "per_hop_limit", 10, 1, 100)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	totalLimit, err := intQuery(c, "total_limit", 50, 1, 200)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.holder.Current()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "graph_error": h.holder.Err()})
		return
	}

	explanation, ok := risk.Explain(snap, wallet, h.riskCfg, maxHops, perHopLimit, totalLimit)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Wallet %s not in graph", wallet)})
		return
	}

	payload := gin.H{"explanation": explanation}
	if h.dbStore != nil {
		if row, err := h.dbStore.LatestScoreForWallet(c.Request.Context(), wallet); err == nil && row != nil {
			payload["stored"] = row
		}
	}
	c.JSON(http.StatusOK, payload)
}

// handleSubgraph extracts the hop-stratified neighborhood view around a
// center wallet for the dashboard graph renderer.
func (h *APIHandler) handleSubgraph(c *gin.Context) {
	wallet := c.Param("wallet")

	hops, err := intQuery(c, "hops", 2, 1, 4)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	nodeLimit, err := intQuery(c, "node_limit", 100, 10, 500)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	edgeLimit, err := intQuery(c, "edge_limit", 500, 50, 3000)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	minAmount, err := floatQuery(c, "min_amount", 0)
	if err != nil || minAmount < 0 {
		if err == nil {
			err = fmt.Errorf("min_amount must be >= 0")
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	onlyConnected := c.DefaultQuery("only_connected", "false") == "true"

	snap, err := h.holder.Current()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "graph_error": h.holder.Err()})
		return
	}

	// Risk scores for candidates come from the latest run in one indexed
	// lookup; wallets never scored simply render as zero risk.
	scores := map[string]float64{}
	if h.dbStore != nil {
		if run, err := h.dbStore.GetLatestRun(c.Request.Context()); err == nil && run != nil {
			candidates := subgraph.CandidateWallets(snap, wallet, hops)
			if fetched, err := h.dbStore.ScoresForWallets(c.Request.Context(), run.ID, candidates); err == nil {
				scores = fetched
			} else {
				log.Printf("[API] Subgraph score lookup failed, rendering without scores: %v", err)
			}
		}
	}

	view, err := subgraph.Extract(snap, wallet, scores, subgraph.Params{
		Hops:          hops,
		NodeLimit:     nodeLimit,
		EdgeLimit:     edgeLimit,
		MinAmount:     minAmount,
		OnlyConnected: onlyConnected,
	})
	if err != nil {
		switch {
		case errors.Is(err, subgraph.ErrWalletNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, graph.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Subgraph extraction failed", "details": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, view)
}

// healthStore adapts the optional dbStore to the health interface.
// A typed-nil *PostgresStore must become an untyped nil interface.
func (h *APIHandler) healthStore() health.Store {
	if h.dbStore == nil {
		return nil
	}
	return h.dbStore
}
