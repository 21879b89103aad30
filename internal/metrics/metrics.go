package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trader.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SignalsTotal    *prometheus.CounterVec // labels: signal
	OrdersTotal     *prometheus.CounterVec // labels: side, result
	LedgerErrors    *prometheus.CounterVec // labels: op
	EvaluateDur     prometheus.Histogram
	BarsAppended    prometheus.Counter
	DataReadRetries prometheus.Counter
	OpenPositions   prometheus.Gauge
	ActiveSessions  prometheus.Gauge
	SessionsEnded   *prometheus.CounterVec // labels: result

	// Market session state
	MarketState prometheus.Gauge // 0=closed, 1=open

	// Circuit breaker around the Redis price source
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// Live price stream
	StreamReconnects prometheus.Counter
	StreamTicks      prometheus.Counter

	// Trade event sinks
	EventQueueDepth *prometheus.GaugeVec   // labels: sink
	EventsDropped   *prometheus.CounterVec // labels: sink
}

// NewMetrics creates the metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on /metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_signals_total",
			Help: "Signals emitted by the engine (by kind)",
		}, []string{"signal"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_orders_total",
			Help: "Orders placed (by side and result)",
		}, []string{"side", "result"}),
		LedgerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_ledger_errors_total",
			Help: "Failed ledger writes (by operation)",
		}, []string{"op"}),
		EvaluateDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_evaluate_duration_seconds",
			Help:    "Indicator append + signal evaluation latency per bar",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		BarsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_bars_appended_total",
			Help: "Bars appended to indicator series",
		}),
		DataReadRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_data_read_retries_total",
			Help: "Market data reads retried after no-data or stale-data errors",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_open_positions",
			Help: "Sessions currently holding a position",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_active_sessions",
			Help: "Trade sessions currently running",
		}),
		SessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_sessions_ended_total",
			Help: "Trade sessions that returned (by result)",
		}, []string{"result"}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_stream_reconnects_total",
			Help: "Price stream reconnection attempts",
		}),
		StreamTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_stream_ticks_total",
			Help: "LTP packets received from the price stream",
		}),

		EventQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trader_event_queue_depth",
			Help: "Trade events waiting in each sink queue",
		}, []string{"sink"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_events_dropped_total",
			Help: "Trade events dropped because a sink queue was full",
		}, []string{"sink"}),
	}

	reg.MustRegister(
		m.SignalsTotal,
		m.OrdersTotal,
		m.LedgerErrors,
		m.EvaluateDur,
		m.BarsAppended,
		m.DataReadRetries,
		m.OpenPositions,
		m.ActiveSessions,
		m.SessionsEnded,
		m.MarketState,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.StreamReconnects,
		m.StreamTicks,
		m.EventQueueDepth,
		m.EventsDropped,
	)

	return m
}

func (m *Metrics) Signal(name string) {
	if m != nil {
		m.SignalsTotal.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) Order(side, result string) {
	if m != nil {
		m.OrdersTotal.WithLabelValues(side, result).Inc()
	}
}

func (m *Metrics) LedgerError(op string) {
	if m != nil {
		m.LedgerErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Evaluated(d time.Duration) {
	if m != nil {
		m.EvaluateDur.Observe(d.Seconds())
		m.BarsAppended.Inc()
	}
}

func (m *Metrics) ReadRetry() {
	if m != nil {
		m.DataReadRetries.Inc()
	}
}

func (m *Metrics) PositionOpened() {
	if m != nil {
		m.OpenPositions.Inc()
	}
}

func (m *Metrics) PositionClosed() {
	if m != nil {
		m.OpenPositions.Dec()
	}
}

func (m *Metrics) SessionStarted() {
	if m != nil {
		m.ActiveSessions.Inc()
	}
}

func (m *Metrics) SessionEnded(result string) {
	if m != nil {
		m.ActiveSessions.Dec()
		m.SessionsEnded.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SetMarketOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.MarketState.Set(1)
	} else {
		m.MarketState.Set(0)
	}
}

func (m *Metrics) EventQueue(sink string, depth int) {
	if m != nil {
		m.EventQueueDepth.WithLabelValues(sink).Set(float64(depth))
	}
}

func (m *Metrics) EventDropped(sink string) {
	if m != nil {
		m.EventsDropped.WithLabelValues(sink).Inc()
	}
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	BrokerLoggedIn  bool      `json:"broker_logged_in"`
	StreamConnected bool      `json:"stream_connected"`
	LastPriceTime   time.Time `json:"last_price_time"`
	LastBarTime     time.Time `json:"last_bar_time"`
	RedisConnected  bool      `json:"redis_connected"`
	SQLiteOK        bool      `json:"sqlite_ok"`
	ActiveSessions  int       `json:"active_sessions"`

	// Which dependencies count toward overall status
	RedisRequired  bool `json:"-"`
	SQLiteRequired bool `json:"-"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetBrokerLoggedIn(v bool) {
	h.mu.Lock()
	h.BrokerLoggedIn = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetStreamConnected(v bool) {
	h.mu.Lock()
	h.StreamConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastPriceTime(t time.Time) {
	h.mu.Lock()
	h.LastPriceTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	if t.After(h.LastBarTime) {
		h.LastBarTime = t
	}
	h.mu.Unlock()
}

func (h *HealthStatus) AddActiveSessions(delta int) {
	h.mu.Lock()
	h.ActiveSessions += delta
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil clients are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	h.mu.Lock()
	h.RedisRequired = rdb != nil
	h.SQLiteRequired = sqlDB != nil
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.RedisRequired && !h.RedisConnected
	sqliteDown := h.SQLiteRequired && !h.SQLiteOK
	if !h.BrokerLoggedIn || redisDown || sqliteDown {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.BrokerLoggedIn && (redisDown || sqliteDown) {
		overallStatus = "unhealthy"
	}

	priceAge := ""
	if !h.LastPriceTime.IsZero() {
		priceAge = time.Since(h.LastPriceTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		BrokerLoggedIn  bool    `json:"broker_logged_in"`
		StreamConnected bool    `json:"stream_connected"`
		LastPriceTime   string  `json:"last_price_time"`
		PriceAge        string  `json:"price_age"`
		LastBarTime     string  `json:"last_bar_time"`
		ActiveSessions  int     `json:"active_sessions"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		BrokerLoggedIn:  h.BrokerLoggedIn,
		StreamConnected: h.StreamConnected,
		LastPriceTime:   h.LastPriceTime.Format(time.RFC3339),
		PriceAge:        priceAge,
		LastBarTime:     h.LastBarTime.Format(time.RFC3339),
		ActiveSessions:  h.ActiveSessions,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
