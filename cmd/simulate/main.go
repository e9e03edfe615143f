package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/boring-ventures/vivir-feliz/internal/config"
	"github.com/boring-ventures/vivir-feliz/internal/db"
	"github.com/boring-ventures/vivir-feliz/internal/logging"
)

// SimConfig drives a booking race: every target slot is attacked by
// Contenders concurrent submissions, each with its own intake request.
type SimConfig struct {
	APIBaseURL  string
	Category    string
	Slots       int
	Contenders  int
	Timeout     time.Duration
	PostgresDSN string
}

type targetSlot struct {
	Date         string
	Time         string
	ProviderID   uuid.UUID
	ProviderName string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status == http.StatusCreated:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]
	return avg, min, max, p50, p95
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type Simulator struct {
	config   SimConfig
	client   *http.Client
	logger   *zap.Logger
	requests []uuid.UUID
	next     atomic.Int64

	race     OperationMetrics
	resubmit OperationMetrics

	mu        sync.Mutex
	winners   map[targetSlot][]uuid.UUID
	resubmits map[string]int
}

func main() {
	cfg := loadConfig()

	logger := logging.New(false, getEnv("LOG_LEVEL", "info")).Named("simulate")
	defer func() { _ = logger.Sync() }()

	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.String("api", cfg.APIBaseURL),
		zap.String("category", cfg.Category),
		zap.Int("slots", cfg.Slots),
		zap.Int("contenders", cfg.Contenders),
	)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	requests, err := loadPendingRequests(ctx, pgPool, cfg.Slots*cfg.Contenders)
	if err != nil {
		logger.Fatal("load intake requests", zap.Error(err))
	}

	sim := &Simulator{
		config:    cfg,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
		requests:  requests,
		winners:   make(map[targetSlot][]uuid.UUID),
		resubmits: make(map[string]int),
	}

	slots, err := sim.fetchSlots(ctx)
	if err != nil {
		logger.Fatal("fetch availability", zap.Error(err))
	}
	logger.Info("loaded", zap.Int("pending_requests", len(requests)), zap.Int("target_slots", len(slots)))

	sim.Run(ctx, slots)
	sim.Resubmit(ctx)

	duplicates, err := countDoubleBookings(ctx, pgPool)
	if err != nil {
		logger.Error("verify double bookings", zap.Error(err))
	}

	if !sim.PrintReport(duplicates) {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load base config: %v\n", err)
		os.Exit(1)
	}

	return SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Category:    getEnv("SIM_CATEGORY", "CONSULTATION"),
		Slots:       getInt("SIM_SLOTS", 20),
		Contenders:  getInt("SIM_CONTENDERS", 5),
		Timeout:     getDuration("SIM_TIMEOUT", 2*time.Minute),
		PostgresDSN: baseCfg.PostgresDSN,
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return errors.New("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Slots <= 0 {
		return errors.New("SIM_SLOTS must be > 0")
	}
	if cfg.Contenders < 2 {
		return errors.New("SIM_CONTENDERS must be >= 2 to produce a race")
	}
	return nil
}

func loadPendingRequests(ctx context.Context, pool *pgxpool.Pool, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, `
		SELECT id FROM consultation_requests
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query consultation requests: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) < limit {
		return nil, fmt.Errorf("need %d pending consultation requests, found %d (run cmd/seed)", limit, len(ids))
	}
	return ids, nil
}

func countDoubleBookings(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT provider_id, date, start_time
			FROM appointments
			WHERE status <> 'cancelled'
			GROUP BY provider_id, date, start_time
			HAVING count(*) > 1
		) d
	`).Scan(&n)
	return n, err
}

func (s *Simulator) fetchSlots(ctx context.Context) ([]targetSlot, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/availability?category=%s", s.config.APIBaseURL, s.config.Category), nil)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("availability returned %d: %s", resp.StatusCode, body)
	}

	var avail struct {
		Days map[string][]struct {
			Time         string    `json:"time"`
			ProviderID   uuid.UUID `json:"provider_id"`
			ProviderName string    `json:"provider_name"`
		} `json:"days"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&avail); err != nil {
		return nil, fmt.Errorf("decode availability: %w", err)
	}

	dates := make([]string, 0, len(avail.Days))
	for d := range avail.Days {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	var out []targetSlot
	for _, d := range dates {
		for _, sl := range avail.Days[d] {
			out = append(out, targetSlot{Date: d, Time: sl.Time, ProviderID: sl.ProviderID, ProviderName: sl.ProviderName})
			if len(out) == s.config.Slots {
				return out, nil
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no open slots to race for")
	}
	return out, nil
}

func (s *Simulator) takeRequest() uuid.UUID {
	return s.requests[s.next.Add(1)-1]
}

// Run fires every contender for a slot at the same moment.
func (s *Simulator) Run(ctx context.Context, slots []targetSlot) {
	var wg sync.WaitGroup
	for _, slot := range slots {
		start := make(chan struct{})
		for i := 0; i < s.config.Contenders; i++ {
			wg.Add(1)
			go func(slot targetSlot, requestID uuid.UUID) {
				defer wg.Done()
				<-start
				status, _ := s.book(ctx, slot, requestID, &s.race)
				if status == http.StatusCreated {
					s.mu.Lock()
					s.winners[slot] = append(s.winners[slot], requestID)
					s.mu.Unlock()
				}
			}(slot, s.takeRequest())
		}
		close(start)
	}
	wg.Wait()
	s.logger.Info("race complete")
}

// Resubmit books every winning request again, on the same slot, which must be
// refused as already scheduled.
func (s *Simulator) Resubmit(ctx context.Context) {
	for slot, ids := range s.winners {
		for _, id := range ids {
			_, code := s.book(ctx, slot, id, &s.resubmit)
			s.resubmits[code]++
		}
	}
}

func (s *Simulator) book(ctx context.Context, slot targetSlot, requestID uuid.UUID, om *OperationMetrics) (int, string) {
	body, _ := json.Marshal(map[string]string{
		"category":     s.config.Category,
		"date":         slot.Date,
		"start_time":   slot.Time,
		"provider_id":  slot.ProviderID.String(),
		"request_kind": "consultation",
		"request_id":   requestID.String(),
	})

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.logger.Warn("booking request failed", zap.Error(err))
		om.Record(latency, 0)
		return 0, "transport_error"
	}
	defer resp.Body.Close()

	var errResp struct {
		Error string `json:"error"`
	}
	if resp.StatusCode != http.StatusCreated {
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
	}
	om.Record(latency, resp.StatusCode)
	return resp.StatusCode, errResp.Error
}

// PrintReport reports false when any slot ended up with more than one
// booking.
func (s *Simulator) PrintReport(duplicates int) bool {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("BOOKING RACE REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Category: %s\n", s.config.Category)
	fmt.Printf("Contenders per slot: %d\n", s.config.Contenders)
	fmt.Println()

	printOperationReport("Race", &s.race)
	printOperationReport("Resubmit", &s.resubmit)

	ok := true
	multi := 0
	for _, ids := range s.winners {
		if len(ids) > 1 {
			multi++
		}
	}
	fmt.Printf("Slots won: %d\n", len(s.winners))
	fmt.Printf("Slots with more than one winner: %d\n", multi)
	fmt.Printf("Double bookings in database: %d\n", duplicates)
	for code, n := range s.resubmits {
		fmt.Printf("Resubmit outcome %q: %d\n", code, n)
		if code != "request_already_scheduled" {
			ok = false
		}
	}
	if multi > 0 || duplicates > 0 {
		ok = false
	}

	if ok {
		fmt.Println("RESULT: PASS")
	} else {
		fmt.Println("RESULT: FAIL")
	}
	return ok
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
