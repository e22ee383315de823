package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rawblock/aml-risk-engine/internal/api"
	"github.com/rawblock/aml-risk-engine/internal/db"
	"github.com/rawblock/aml-risk-engine/internal/graph"
	"github.com/rawblock/aml-risk-engine/internal/ingest"
	"github.com/rawblock/aml-risk-engine/internal/scoring"
	"github.com/rawblock/aml-risk-engine/pkg/models"
)

func main() {
	log.Println("Starting AML Wallet Risk Engine...")

	// Local development reads a .env file; production injects real env
	// vars, so a missing file is fine.
	_ = godotenv.Load()

	txSource := getEnvOrDefault("TX_SOURCE", "db")
	loadCfg := graph.LoadConfig{
		TxSource:    txSource,
		TxPath:      os.Getenv("TX_PATH"),
		IllicitPct:  getEnvFloat("ILLICIT_PCT", 0.05),
		IllicitSeed: getEnvInt64("ILLICIT_SEED", 42),
	}
	riskCfg := models.DefaultRiskConfig()
	riskCfg.IllicitSeedPct = loadCfg.IllicitPct

	var dbConn *db.PostgresStore
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		conn, err := db.Connect(dbURL)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without persistence. Error: %v", err)
		} else {
			dbConn = conn
			defer dbConn.Close()
			if err := dbConn.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	} else if txSource == "db" {
		log.Println("Warning: TX_SOURCE=db but DATABASE_URL is not set; service will report starting until configured")
	}

	holder := graph.NewHolder()
	loadInitialGraph(dbConn, holder, loadCfg)

	runner := scoring.NewRunner(dbConn, holder)

	// Setup WebSocket Hub
	wsHub := api.NewHub()
	go wsHub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumerName := getEnvOrDefault("CONSUMER_NAME", "transactions_consumer")
	if brokers := os.Getenv("KAFKA_BOOTSTRAP_SERVERS"); brokers != "" && dbConn != nil {
		consumer := ingest.NewConsumer(ingest.Config{
			Brokers:            strings.Split(brokers, ","),
			Topic:              getEnvOrDefault("KAFKA_TOPIC_TRANSACTIONS", "transactions"),
			GroupID:            getEnvOrDefault("KAFKA_GROUP_ID", "tx-consumer"),
			ConsumerName:       consumerName,
			BatchSize:          int(getEnvInt64("CONSUMER_BATCH_SIZE", 500)),
			PollInterval:       time.Duration(getEnvInt64("CONSUMER_POLL_MS", 1000)) * time.Millisecond,
			FlushInterval:      time.Duration(getEnvInt64("CONSUMER_FLUSH_SECONDS", 2)) * time.Second,
			ConnectRetry:       time.Duration(getEnvInt64("CONSUMER_CONNECT_RETRY_SECONDS", 5)) * time.Second,
			ConnectMaxAttempts: int(getEnvInt64("CONSUMER_CONNECT_MAX_ATTEMPTS", 0)),
		}, dbConn, func(ev ingest.FlushEvent) {
			wsHub.BroadcastEvent("ingest_flush", ev)
		})
		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.Printf("Consumer terminated: %v", err)
			}
		}()
	} else {
		log.Println("KAFKA_BOOTSTRAP_SERVERS not set (or no DB); stream consumer disabled")
	}

	// Setup the Gin Router
	r := api.SetupRouter(dbConn, holder, runner, wsHub, loadCfg, riskCfg, consumerName)

	port := getEnvOrDefault("PORT", "8099")

	log.Printf("Engine running on :%s (tx source: %s)\n", port, txSource)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// loadInitialGraph builds the first snapshot at boot. Failure is not
// fatal: the error lands in the holder and readiness reports it until a
// reload succeeds.
func loadInitialGraph(dbConn *db.PostgresStore, holder *graph.Holder, cfg graph.LoadConfig) {
	var src graph.RowSource
	if dbConn != nil {
		src = dbConn
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	snap, err := graph.Rebuild(ctx, src, cfg)
	if err != nil {
		holder.SetError(err.Error())
		log.Printf("Warning: initial graph load failed: %v", err)
		return
	}
	holder.Publish(snap)
	log.Printf("Graph loaded: %d txs, %d nodes, %d edges, %d illicit seeds",
		snap.TxCount, snap.Graph.NumNodes(), snap.Graph.NumEdges(), len(snap.Illicit))
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if v, err := strconv.ParseInt(val, 10, 64); err == nil {
			return v
		}
		log.Printf("Warning: %s=%q is not an integer, using %d", key, os.Getenv(key), fallback)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			return v
		}
		log.Printf("Warning: %s=%q is not a number, using %g", key, os.Getenv(key), fallback)
	}
	return fallback
}
