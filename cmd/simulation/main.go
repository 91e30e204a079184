package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ksred/goldfeed/internal/config"
	"github.com/ksred/goldfeed/internal/feed"
	"github.com/ksred/goldfeed/internal/ledger"
	"github.com/ksred/goldfeed/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	minInvestment = 50
	maxInvestment = 5000
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

func (rs *routeStats) addFailure() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failures++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the price feed API
type simulationClient struct {
	baseURL string
	client  *http.Client
	stream  *http.Client
	stats   map[string]*routeStats
	order   []string
}

func newSimulationClient(baseURL string) *simulationClient {
	return &simulationClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		// Streams stay open for the whole run
		stream: &http.Client{},
		stats: map[string]*routeStats{
			"stream":   {name: "Stream First Tick"},
			"price":    {name: "Get Price"},
			"purchase": {name: "Create Purchase"},
			"history":  {name: "List Purchases"},
		},
		order: []string{"stream", "price", "purchase", "history"},
	}
}

// envelope is the shared response shape of the API
type envelope struct {
	Success   bool                    `json:"success"`
	Error     string                  `json:"error"`
	Price     float64                 `json:"price"`
	Purchase  ledger.PurchaseRecord   `json:"purchase"`
	Purchases []ledger.PurchaseRecord `json:"purchases"`
}

func (sc *simulationClient) call(route, method, path string, body interface{}) (*envelope, error) {
	start := time.Now()
	stats := sc.stats[route]

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewBuffer(payload)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		stats.addFailure()
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	stats.addDuration(time.Since(start))
	if err != nil {
		stats.addFailure()
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("route", route).Str("response", string(respBody)).Msg("API response")

	var result envelope
	if err := json.Unmarshal(respBody, &result); err != nil {
		stats.addFailure()
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		stats.addFailure()
		return nil, fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, result.Error)
	}
	return &result, nil
}

// currentPrice returns the last broadcast price
func (sc *simulationClient) currentPrice() (float64, error) {
	result, err := sc.call("price", http.MethodGet, "/api/price", nil)
	if err != nil {
		return 0, err
	}
	return result.Price, nil
}

// purchase buys gold worth investment at price
func (sc *simulationClient) purchase(investment, price float64) (*ledger.PurchaseRecord, error) {
	ounces, _ := decimal.NewFromFloat(investment).
		DivRound(decimal.NewFromFloat(price), 6).
		Float64()

	result, err := sc.call("purchase", http.MethodPost, "/api/purchase", map[string]float64{
		"investmentAmount": investment,
		"goldOunces":       ounces,
		"priceAtPurchase":  price,
	})
	if err != nil {
		return nil, err
	}
	return &result.Purchase, nil
}

// listPurchases returns the full purchase history
func (sc *simulationClient) listPurchases() ([]ledger.PurchaseRecord, error) {
	result, err := sc.call("history", http.MethodGet, "/api/purchases", nil)
	if err != nil {
		return nil, err
	}
	return result.Purchases, nil
}

// subscribe reads the SSE stream until ctx is done, counting ticks
func (sc *simulationClient) subscribe(ctx context.Context, subscriberID int, ticks *atomic.Int64) {
	logger := log.With().Int("subscriber_id", subscriberID).Logger()
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sc.baseURL+"/api/price-stream", nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build stream request")
		return
	}
	resp, err := sc.stream.Do(req)
	if err != nil {
		sc.stats["stream"].addFailure()
		logger.Error().Err(err).Msg("Failed to open stream")
		return
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		var tick feed.Tick
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &tick); err != nil {
			logger.Warn().Err(err).Str("line", line).Msg("Malformed stream event")
			continue
		}
		if first {
			sc.stats["stream"].addDuration(time.Since(start))
			first = false
		}
		ticks.Add(1)
		logger.Debug().Float64("price", tick.Price).Msg("Tick received")
	}
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n📊 API Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, key := range sc.order {
		stats := sc.stats[key]
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the load simulation
// It optionally starts a local server, opens stream subscribers and runs
// concurrent purchase workers against the API
func main() {
	addr := flag.String("addr", "http://localhost:8080", "base URL of the price feed server")
	local := flag.Bool("local", false, "start an in-process server on -port with a throwaway ledger")
	port := flag.String("port", "8080", "port for the -local server")
	workers := flag.Int("workers", 5, "number of concurrent purchase workers")
	purchases := flag.Int("purchases", 20, "purchases per worker")
	subscribers := flag.Int("subscribers", 10, "number of concurrent stream subscribers")
	flag.Parse()

	if *local {
		stop, err := startLocalServer(*port)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
		defer stop()
		*addr = "http://localhost:" + *port
	}

	simClient := newSimulationClient(*addr)
	startTime := time.Now()

	// Stream subscribers run until the purchase workers finish
	streamCtx, stopStreams := context.WithCancel(context.Background())
	var streamWG sync.WaitGroup
	var ticks atomic.Int64
	for i := 0; i < *subscribers; i++ {
		streamWG.Add(1)
		go func(subscriberID int) {
			defer streamWG.Done()
			simClient.subscribe(streamCtx, subscriberID, &ticks)
		}(i)
	}

	log.Info().
		Int("workers", *workers).
		Int("purchases_per_worker", *purchases).
		Int("subscribers", *subscribers).
		Str("addr", *addr).
		Msg("Starting simulation")

	var created atomic.Int64
	var invested struct {
		sync.Mutex
		total decimal.Decimal
	}
	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for _, record := range runPurchases(workerID, *purchases, simClient) {
				created.Add(1)
				invested.Lock()
				invested.total = invested.total.Add(decimal.NewFromFloat(record.InvestmentAmount))
				invested.Unlock()
			}
		}(i)
	}
	wg.Wait()

	stopStreams()
	streamWG.Wait()

	history, err := simClient.listPurchases()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list purchases")
	}

	duration := time.Since(startTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🪙 GOLD FEED SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
📊 Purchase Statistics
---------------------
Attempted:        %d
Recorded:         %d
In Ledger:        %d
Total Invested:   $%s
Ticks Received:   %d
Duration:         %v
`, (*workers)*(*purchases), created.Load(), len(history),
		invested.total.StringFixed(2), ticks.Load(), duration.Round(time.Millisecond))
	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int64("recorded", created.Load()).
		Int("ledger_size", len(history)).
		Int64("ticks", ticks.Load()).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// runPurchases buys gold at the latest price numPurchases times
// Runs as a worker goroutine and returns the records that were stored
func runPurchases(workerID, numPurchases int, simClient *simulationClient) []ledger.PurchaseRecord {
	logger := log.With().Int("worker_id", workerID).Logger()
	var records []ledger.PurchaseRecord

	for i := 0; i < numPurchases; i++ {
		price, err := simClient.currentPrice()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to get price")
			time.Sleep(100 * time.Millisecond)
			continue
		}

		investment := float64(rand.Intn(maxInvestment-minInvestment) + minInvestment)
		record, err := simClient.purchase(investment, price)
		if err != nil {
			logger.Error().Err(err).Float64("investment", investment).Msg("Failed to create purchase")
			continue
		}

		records = append(records, *record)
		logger.Info().
			Str("purchase_id", record.ID).
			Float64("investment", record.InvestmentAmount).
			Float64("ounces", record.GoldOunces).
			Float64("price", record.PriceAtPurchase).
			Msg("Purchase recorded")

		// Random sleep between purchases
		time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
	}
	return records
}

// startLocalServer runs the full server in-process with a temporary ledger
// and no purchase rate limit. The returned func shuts it down.
func startLocalServer(port string) (func(), error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}

	dataDir, err := os.MkdirTemp("", "goldfeed-sim-")
	if err != nil {
		return nil, err
	}
	cfg.Server.Port = port
	cfg.Ledger.Driver = config.DriverFile
	cfg.Ledger.Path = filepath.Join(dataDir, "purchases.json")
	cfg.RateLimit.PurchasesPerMinute = 0
	cfg.Report.Schedule = ""

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := server.New(ctx, cfg)
	if err != nil {
		cancel()
		return nil, err
	}
	srv.Start(ctx)

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for server to start
	time.Sleep(500 * time.Millisecond)

	return func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown failed")
		}
		cancel()
		os.RemoveAll(dataDir)
	}, nil
}
