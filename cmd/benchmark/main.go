// Benchmark tool for load testing the TrialRisk scoring endpoint.
//
// Usage:
//
//	go run ./cmd/benchmark -csv outputs/signals_site_level.csv -url http://localhost:8080
//
// This tool:
//  1. Reads a site-level signals CSV
//  2. Splits the sites into batches and posts each batch to POST /score
//  3. Reports latency percentiles, throughput and the tier distribution returned
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clinicalops/trialrisk/internal/api"
	"github.com/clinicalops/trialrisk/internal/domain"
	"github.com/clinicalops/trialrisk/internal/risk"
	"github.com/clinicalops/trialrisk/internal/tabular"
)

// Metrics tracks benchmark results
type Metrics struct {
	Requests    atomic.Int64
	Errors      atomic.Int64
	SitesScored atomic.Int64
	Flagged     atomic.Int64

	mu        sync.Mutex
	latencies []float64 // milliseconds
	tiers     risk.Distribution
}

func (m *Metrics) record(latency time.Duration, resp *api.ScoreResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, float64(latency.Microseconds())/1000)
	d := resp.Distribution.Sites
	m.tiers.Total += d.Total
	m.tiers.High += d.High
	m.tiers.Medium += d.Medium
	m.tiers.Low += d.Low
}

func main() {
	csvPath := flag.String("csv", "outputs/signals_site_level.csv", "Path to a site-level signals CSV")
	baseURL := flag.String("url", "http://localhost:8080", "TrialRisk base URL")
	batchSize := flag.Int("batch", 50, "Sites per request")
	rounds := flag.Int("rounds", 10, "Times to replay the whole file")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each request result")
	flag.Parse()

	if *batchSize < 1 || *rounds < 1 || *workers < 1 {
		fmt.Println("batch, rounds and workers must be positive")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║              TRIALRISK BENCHMARK - POST /score                ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("URL:         %s\n", *baseURL)
	fmt.Printf("Batch Size:  %d\n", *batchSize)
	fmt.Printf("Rounds:      %d\n", *rounds)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: TrialRisk not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure the service is running:")
		fmt.Println("  go run ./cmd/trialrisk")
		os.Exit(1)
	}
	fmt.Println("✓ TrialRisk is healthy")

	sites, err := tabular.ReadSignals(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(sites) == 0 {
		fmt.Println("ERROR: no sites in CSV")
		os.Exit(1)
	}
	batches := makeBatches(sites, *batchSize)
	fmt.Printf("✓ Loaded %d sites in %d batches\n", len(sites), len(batches))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	start := time.Now()
	metrics := runBenchmark(context.Background(), batches, *rounds, *baseURL, *workers, *verbose)
	printResults(metrics, time.Since(start))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func makeBatches(sites []domain.SignalRecord, size int) []api.ScoreRequest {
	var batches []api.ScoreRequest
	for start := 0; start < len(sites); start += size {
		var req api.ScoreRequest
		for _, s := range sites[start:min(start+size, len(sites))] {
			in := api.SignalInput{StudyID: s.StudyID, SiteID: s.SiteID, Signals: api.SignalMap{}}
			for _, sig := range domain.Signals {
				if v := s.Signals[sig]; !math.IsNaN(v) {
					in.Signals[sig.Key()] = &v
				} else {
					in.Signals[sig.Key()] = nil
				}
			}
			req.Sites = append(req.Sites, in)
		}
		batches = append(batches, req)
	}
	return batches
}

func runBenchmark(ctx context.Context, batches []api.ScoreRequest, rounds int, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}
	client := &http.Client{Timeout: 30 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)

	for round := range rounds {
		for i, batch := range batches {
			g.Go(func() error {
				start := time.Now()
				resp, err := score(ctx, client, baseURL, batch)
				elapsed := time.Since(start)
				metrics.Requests.Add(1)

				if err != nil {
					metrics.Errors.Add(1)
					if verbose {
						fmt.Printf("ERROR: round %d batch %d -> %v\n", round+1, i+1, err)
					}
					return nil
				}

				metrics.SitesScored.Add(int64(len(resp.Sites)))
				for _, a := range resp.Anomalies {
					if a.IsAnomalous {
						metrics.Flagged.Add(1)
					}
				}
				metrics.record(elapsed, resp)

				if verbose {
					d := resp.Distribution.Sites
					fmt.Printf("✓ round %-3d batch %-4d | %4d sites | High %3d Medium %3d Low %3d | %s | %v\n",
						round+1, i+1, d.Total, d.High, d.Medium, d.Low, resp.Detector, elapsed.Round(time.Millisecond))
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	return metrics
}

func score(ctx context.Context, client *http.Client, baseURL string, batch api.ScoreRequest) (*api.ScoreResponse, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result api.ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 REQUESTS\n")
	fmt.Printf("   Total Requests:   %d\n", m.Requests.Load())
	fmt.Printf("   Errors:           %d\n", m.Errors.Load())
	fmt.Printf("   Sites Scored:     %d\n", m.SitesScored.Load())
	fmt.Printf("   Sites Flagged:    %d\n", m.Flagged.Load())

	fmt.Printf("\n⏱️  LATENCY\n")
	if len(m.latencies) > 0 {
		for _, p := range []struct {
			label string
			q     float64
		}{{"p50", 0.50}, {"p90", 0.90}, {"p95", 0.95}, {"p99", 0.99}, {"max", 1}} {
			fmt.Printf("   %-4s %10.2f ms\n", p.label, risk.Quantile(m.latencies, p.q))
		}
	}
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if ok := m.Requests.Load() - m.Errors.Load(); ok > 0 {
		fmt.Printf("   Throughput:       %.2f req/sec, %.2f sites/sec\n",
			float64(ok)/duration.Seconds(), float64(m.SitesScored.Load())/duration.Seconds())
	}

	fmt.Printf("\n🎯 TIER DISTRIBUTION (per batch, summed)\n")
	d := m.tiers
	fmt.Printf("   High Risk:    %6d (%.1f%%)\n", d.High, d.Share(domain.RiskHigh))
	fmt.Printf("   Medium Risk:  %6d (%.1f%%)\n", d.Medium, d.Share(domain.RiskMedium))
	fmt.Printf("   Low Risk:     %6d (%.1f%%)\n", d.Low, d.Share(domain.RiskLow))

	fmt.Println()
}
