// tick-seeder generates synthetic market events and posts them to an
// ingestion endpoint. Intended for load testing and local development.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

var (
	ingestURL  = flag.String("url", "http://localhost:18001/ingest", "ingest endpoint URL")
	token      = flag.String("token", "", "shared secret sent as x-api-key")
	count      = flag.Int("count", 100, "number of events to generate")
	interval   = flag.Duration("interval", 100*time.Millisecond, "interval between batches")
	symbols    = flag.String("symbols", "", "comma-separated symbols (default: random)")
	symbolN    = flag.Int("symbol-count", 5, "number of random symbols when -symbols is empty")
	timeSpread = flag.Duration("time-spread", 24*time.Hour, "spread timestamps over this period (0 for now)")
	batchSize  = flag.Int("batch-size", 10, "events per batch")
	ticks      = flag.Bool("ticks", false, "generate raw ticks instead of minute bars")
)

type seedEvent struct {
	Symbol    string   `json:"symbol"`
	TS        int64    `json:"ts"`
	Timeframe string   `json:"timeframe,omitempty"`
	Open      *float64 `json:"open,omitempty"`
	High      *float64 `json:"high,omitempty"`
	Low       *float64 `json:"low,omitempty"`
	Close     float64  `json:"close"`
	Volume    float64  `json:"volume"`
	Kind      string   `json:"kind,omitempty"`
}

func main() {
	flag.Parse()

	gofakeit.Seed(time.Now().UnixNano())

	universe := parseSymbols(*symbols, *symbolN)
	prices := make(map[string]float64, len(universe))
	for _, s := range universe {
		prices[s] = gofakeit.Float64Range(10, 500)
	}

	log.Printf("Starting tick seeder:")
	log.Printf("  URL: %s", *ingestURL)
	log.Printf("  Events: %d (batch size %d)", *count, *batchSize)
	log.Printf("  Symbols: %v", universe)

	client := &http.Client{Timeout: 10 * time.Second}

	successCount := 0
	failCount := 0
	now := time.Now()

	batch := make([]seedEvent, 0, *batchSize)
	for i := 0; i < *count; i++ {
		symbol := universe[rand.Intn(len(universe))]
		batch = append(batch, generateEvent(symbol, prices, now, i))

		if len(batch) >= *batchSize || i == *count-1 {
			if err := sendBatch(client, *ingestURL, *token, batch); err != nil {
				log.Printf("Failed to send batch: %v", err)
				failCount += len(batch)
			} else {
				successCount += len(batch)
				if successCount%100 == 0 {
					log.Printf("Progress: %d/%d events sent", successCount, *count)
				}
			}
			batch = batch[:0]

			if *interval > 0 && i < *count-1 {
				time.Sleep(*interval)
			}
		}
	}

	log.Printf("Seeding complete: %d sent, %d failed", successCount, failCount)
}

func parseSymbols(list string, n int) []string {
	if list != "" {
		var out []string
		for _, s := range strings.Split(list, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, strings.ToUpper(s))
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	out := make([]string, 0, n)
	seen := map[string]bool{}
	for len(out) < n {
		s := strings.ToUpper(gofakeit.LetterN(4))
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func generateEvent(symbol string, prices map[string]float64, now time.Time, i int) seedEvent {
	// Random walk so consecutive events look like a real feed
	prices[symbol] *= 1 + gofakeit.Float64Range(-0.002, 0.002)
	price := prices[symbol]

	ts := now
	if *timeSpread > 0 {
		ts = now.Add(-time.Duration(rand.Int63n(int64(*timeSpread))))
	}

	if *ticks {
		return seedEvent{
			Symbol: symbol,
			TS:     ts.UnixMilli(),
			Close:  round(price),
			Volume: float64(gofakeit.Number(1, 500)),
			Kind:   "tick",
		}
	}

	open := price * (1 + gofakeit.Float64Range(-0.001, 0.001))
	high := maxFloat(open, price) * (1 + gofakeit.Float64Range(0, 0.001))
	low := minFloat(open, price) * (1 - gofakeit.Float64Range(0, 0.001))
	o, h, l := round(open), round(high), round(low)

	return seedEvent{
		Symbol:    symbol,
		TS:        ts.Truncate(time.Minute).UnixMilli(),
		Timeframe: "M1",
		Open:      &o,
		High:      &h,
		Low:       &l,
		Close:     round(price),
		Volume:    float64(gofakeit.Number(100, 50000)),
	}
}

func sendBatch(client *http.Client, url, token string, batch []seedEvent) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("x-api-key", token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func round(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
