// Command loadtest drives a mixed read/write workload through the gateway:
// it registers a user, then workers search, list and create posts until
// the duration elapses, and prints latency and status-code statistics.
//
// Usage:
//
//	go run ./cmd/loadtest [-url http://localhost:3000] [-concurrency 10] [-rps 50] [-duration 30s]
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	RPS         float64
	WriteRatio  int
	Queries     []string
}

type opStats struct {
	latencies []time.Duration
	codes     map[int]int64
}

type Stats struct {
	total       atomic.Int64
	success     atomic.Int64
	errors      atomic.Int64
	rateLimited atomic.Int64
	mu          sync.Mutex
	ops         map[string]*opStats
}

func NewStats() *Stats {
	return &Stats{ops: make(map[string]*opStats)}
}

func (s *Stats) Record(op string, d time.Duration, status int, err error) {
	s.total.Add(1)
	switch {
	case err != nil:
		s.errors.Add(1)
		return
	case status == http.StatusTooManyRequests:
		s.rateLimited.Add(1)
	case status >= 200 && status < 300:
		s.success.Add(1)
	default:
		s.errors.Add(1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.ops[op]
	if !ok {
		o = &opStats{codes: make(map[int]int64)}
		s.ops[op] = o
	}
	o.latencies = append(o.latencies, d)
	o.codes[status]++
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "gateway base URL")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	rps := flag.Float64("rps", 50, "overall request rate (0 = unlimited)")
	writeRatio := flag.Int("write-ratio", 10, "percentage of requests that create posts")
	flag.Parse()

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		RPS:         *rps,
		WriteRatio:  *writeRatio,
		Queries: []string{
			"sunset beach",
			"golang concurrency",
			"coffee morning",
			"weekend hiking",
			"new recipe",
			"travel photos",
			"football match",
			"book recommendations",
		},
	}

	fmt.Println("=== Social Backend Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Rate:        %.0f req/s\n", cfg.RPS)
	fmt.Println()

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	tok, err := register(client, cfg.BaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup failed: %v\n", err)
		os.Exit(1)
	}

	stats := runLoadTest(cfg, client, tok)
	printReport(stats, cfg.Duration)
}

func register(client *http.Client, baseURL string) (string, error) {
	name := "load" + uuid.NewString()[:8]
	body, _ := json.Marshal(map[string]string{
		"username": name,
		"email":    name + "@example.test",
		"password": "load-test-password",
	})
	resp, err := client.Post(baseURL+"/v1/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("registering: %w", err)
	}
	defer resp.Body.Close()
	var out struct {
		AccessToken string `json:"accessToken"`
		Message     string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding register response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated || out.AccessToken == "" {
		return "", fmt.Errorf("register returned %d: %s", resp.StatusCode, out.Message)
	}
	return out.AccessToken, nil
}

func runLoadTest(cfg Config, client *http.Client, tok string) *Stats {
	stats := NewStats()
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	limiter := rate.NewLimiter(limit, cfg.Concurrency)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := workerID; ; i++ {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				var (
					op  string
					req *http.Request
				)
				switch {
				case i%100 < cfg.WriteRatio:
					op = "create"
					body, _ := json.Marshal(map[string]string{"content": cfg.Queries[i%len(cfg.Queries)] + " #" + fmt.Sprint(i)})
					req, _ = http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/v1/posts/create-post", bytes.NewReader(body))
					req.Header.Set("Content-Type", "application/json")
				case i%2 == 0:
					op = "search"
					req, _ = http.NewRequestWithContext(ctx, http.MethodGet,
						cfg.BaseURL+"/v1/search/posts?query="+url.QueryEscape(cfg.Queries[i%len(cfg.Queries)]), nil)
				default:
					op = "list"
					req, _ = http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/v1/posts/all-posts?page=1&limit=10", nil)
				}
				req.Header.Set("Authorization", "Bearer "+tok)

				start := time.Now()
				resp, err := client.Do(req)
				d := time.Since(start)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					stats.Record(op, d, 0, err)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats.Record(op, d, resp.StatusCode, nil)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.total.Load()
	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", stats.success.Load())
	fmt.Printf("Rate limited:    %d\n", stats.rateLimited.Load())
	fmt.Printf("Errors:          %d\n", stats.errors.Load())
	if total > 0 {
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	stats.mu.Lock()
	defer stats.mu.Unlock()
	ops := make([]string, 0, len(stats.ops))
	for op := range stats.ops {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		o := stats.ops[op]
		lat := append([]time.Duration(nil), o.latencies...)
		sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })

		fmt.Println()
		fmt.Printf("=== %s (%d) ===\n", op, len(lat))
		fmt.Printf("P50:    %s\n", percentile(lat, 50))
		fmt.Printf("P90:    %s\n", percentile(lat, 90))
		fmt.Printf("P99:    %s\n", percentile(lat, 99))
		if len(lat) > 0 {
			fmt.Printf("Max:    %s\n", lat[len(lat)-1])
		}
		codes := make([]int, 0, len(o.codes))
		for c := range o.codes {
			codes = append(codes, c)
		}
		sort.Ints(codes)
		for _, c := range codes {
			fmt.Printf("  %d: %d\n", c, o.codes[c])
		}
	}

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the gateway running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
