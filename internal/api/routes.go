package api

import (
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/aml-risk-engine/internal/db"
	"github.com/rawblock/aml-risk-engine/internal/graph"
	"github.com/rawblock/aml-risk-engine/internal/scoring"
	"github.com/rawblock/aml-risk-engine/pkg/models"
)

// APIHandler bundles everything the read API needs. dbStore may be nil
// when running in csv mode without a database; handlers that need it
// answer 503.
type APIHandler struct {
	dbStore      *db.PostgresStore
	holder       *graph.Holder
	runner       *scoring.Runner
	wsHub        *Hub
	loadCfg      graph.LoadConfig
	riskCfg      models.RiskConfig
	consumerName string
}

func SetupRouter(dbStore *db.PostgresStore, holder *graph.Holder, runner *scoring.Runner, wsHub *Hub,
	loadCfg graph.LoadConfig, riskCfg models.RiskConfig, consumerName string) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://dashboard.example.com
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			// Check if the request origin is in the allowed list
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		dbStore:      dbStore,
		holder:       holder,
		runner:       runner,
		wsHub:        wsHub,
		loadCfg:      loadCfg,
		riskCfg:      riskCfg,
		consumerName: consumerName,
	}

	limiter := NewRateLimiter(120, 30)

	r.GET("/readyz", handler.handleReady)

	api := r.Group("/api/v1")
	api.Use(limiter.Middleware())
	{
		api.GET("/health", handler.handleHealth)
		api.POST("/graph/reload", handler.handleReloadGraph)
		api.POST("/score/run", handler.handleRunScore)
		api.GET("/scores/top", handler.handleTopScores)
		api.GET("/scores/:wallet", handler.handleWalletScore)
		api.GET("/scores/:wallet/explain", handler.handleExplainScore)
		api.GET("/ingestion/status", handler.handleIngestionStatus)
		api.GET("/subgraph/:wallet", handler.handleSubgraph)
		api.GET("/stream", wsHub.Subscribe)
	}

	// Serve Static Dashboard
	r.Static("/dashboard", "./public")

	return r
}
