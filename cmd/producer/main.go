// Command producer replays a transactions CSV onto the Kafka bus, or
// generates a synthetic wallet network first with -simulate. It exists so
// the pipeline can be exercised end to end without a live chain fetcher.
package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/Shopify/sarama"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	csvPath := flag.String("csv", "data/transactions.csv", "transactions CSV to replay")
	simulate := flag.Int("simulate", 0, "generate N synthetic transactions into the CSV before replaying")
	wallets := flag.Int("wallets", 200, "wallet population for -simulate")
	seed := flag.Int64("seed", 42, "RNG seed for -simulate")
	flag.Parse()

	_ = godotenv.Load()

	bootstrap := getEnvOrDefault("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092")
	topic := getEnvOrDefault("KAFKA_TOPIC_TRANSACTIONS", "transactions")

	if *simulate > 0 {
		if err := writeSimulatedCSV(*csvPath, *wallets, *simulate, *seed); err != nil {
			log.Fatalf("Failed to simulate transactions: %v", err)
		}
		log.Printf("Wrote %d synthetic transactions to %s", *simulate, *csvPath)
	}

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(strings.Split(bootstrap, ","), config)
	if err != nil {
		log.Fatalf("Failed to start Kafka producer: %v", err)
	}
	defer producer.Close()

	sent, err := replayCSV(producer, topic, *csvPath)
	if err != nil {
		log.Fatalf("Replay failed after %d records: %v", sent, err)
	}
	log.Printf("Published %d transactions to topic %q via %s", sent, topic, bootstrap)
}

// replayCSV publishes every row keyed by tx_id. Column aliases match the
// consumer's normalization, so any of src/sender/from etc. work.
func replayCSV(producer sarama.SyncProducer, topic, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("cannot read csv header: %v", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	field := func(rec []string, names ...string) string {
		for _, n := range names {
			if idx, ok := col[n]; ok && idx < len(rec) && rec[idx] != "" {
				return rec[idx]
			}
		}
		return ""
	}

	sent := 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sent, err
		}

		// Keep a stable tx_id when the CSV carries one so replays dedupe.
		txID := field(rec, "tx_id")
		if txID == "" {
			txID = uuid.NewString()
		}

		msg := map[string]any{
			"tx_id":     txID,
			"sender":    field(rec, "sender", "src", "from"),
			"receiver":  field(rec, "receiver", "dst", "to"),
			"amount":    field(rec, "amount"),
			"timestamp": field(rec, "timestamp", "time"),
		}
		value, err := json.Marshal(msg)
		if err != nil {
			return sent, err
		}

		_, _, err = producer.SendMessage(&sarama.ProducerMessage{
			Topic: topic,
			Key:   sarama.StringEncoder(txID),
			Value: sarama.ByteEncoder(value),
		})
		if err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// writeSimulatedCSV emits a toy wallet network with skewed amounts,
// deterministic under the given seed.
func writeSimulatedCSV(path string, nWallets, nTxs int, seed int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rng := rand.New(rand.NewSource(seed))
	runPrefix := time.Now().Unix()
	start := time.Now().UTC().AddDate(0, 0, -30)

	w := csv.NewWriter(f)
	defer w.Flush()
	if err := w.Write([]string{"tx_id", "timestamp", "src", "dst", "amount"}); err != nil {
		return err
	}

	for t := 0; t < nTxs; t++ {
		src := fmt.Sprintf("W%04d", rng.Intn(nWallets))
		dst := src
		for dst == src {
			dst = fmt.Sprintf("W%04d", rng.Intn(nWallets))
		}
		ts := start.Add(time.Duration(rng.Intn(30*24*3600)) * time.Second)
		amount := rng.Float64()
		amount = amount * amount * 10000
		if amount < 0.01 {
			amount = 0.01
		}

		row := []string{
			fmt.Sprintf("T%d_%06d", runPrefix, t),
			ts.Format(time.RFC3339),
			src,
			dst,
			fmt.Sprintf("%.2f", amount),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
