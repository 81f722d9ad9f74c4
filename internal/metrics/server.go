package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/yohan-kwon/kquant-core/internal/types"
)

// ServerConfig holds configuration for the metrics server.
type ServerConfig struct {
	Port        int
	MetricsPath string
	HealthPath  string
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:        9090,
		MetricsPath: "/metrics",
		HealthPath:  "/health",
	}
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Checks    map[string]Check `json:"checks"`
}

// Check represents a single health check.
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthChecker is a function that performs a health check.
type HealthChecker func() Check

// QueryProvider is the Order Engine's read-only surface exposed over HTTP
// (spec §3: "others read via ... a read-only query interface"). The Order
// Engine remains the sole writer of this state; the server only reads it.
type QueryProvider interface {
	Order(id string) (types.Order, bool)
	Positions() map[string]types.Position
	RiskContext(ctx context.Context) types.RiskContext
	EmergencyStopActive() bool
}

// Server handles metrics, health, and read-only position/order/risk query
// endpoints.
type Server struct {
	cfg        ServerConfig
	httpServer *http.Server
	router     chi.Router
	startTime  time.Time
	logger     *slog.Logger

	mu       sync.RWMutex
	checkers map[string]HealthChecker
	query    QueryProvider
}

// NewServer creates a new metrics server.
func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		startTime: time.Now(),
		logger:    logger,
		checkers:  make(map[string]HealthChecker),
		router:    chi.NewRouter(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// SetQueryProvider wires the Order/Risk Engine read-only view queried by
// the /api/positions, /api/orders, and /api/risk endpoints.
func (s *Server) SetQueryProvider(q QueryProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = q
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Timeout(10 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Handle(s.cfg.MetricsPath, promhttp.Handler())
	s.router.Get(s.cfg.HealthPath, s.healthHandler)
	s.router.Get("/ready", s.readyHandler)
	s.router.Get("/live", s.liveHandler)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/positions", s.handlePositions)
		r.Get("/orders/{id}", s.handleOrder)
		r.Get("/risk", s.handleRiskSnapshot)
	})
}

// RegisterHealthCheck registers a health checker.
func (s *Server) RegisterHealthCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = checker
}

// Start starts the metrics server.
func (s *Server) Start() error {
	s.logger.Info("starting metrics server",
		"port", s.cfg.Port,
		"metrics_path", s.cfg.MetricsPath,
		"health_path", s.cfg.HealthPath,
	)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server error", "err", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down metrics server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checkers := make(map[string]HealthChecker, len(s.checkers))
	for k, v := range s.checkers {
		checkers[k] = v
	}
	s.mu.RUnlock()

	checks := make(map[string]Check)
	overallStatus := "healthy"

	for name, checker := range checkers {
		check := checker()
		checks[name] = check
		if check.Status != "healthy" {
			overallStatus = "unhealthy"
		}
	}

	status := HealthStatus{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime).String(),
		Checks:    checks,
	}

	w.Header().Set("Content-Type", "application/json")
	if overallStatus != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checkers := s.checkers
	s.mu.RUnlock()

	for _, checker := range checkers {
		check := checker()
		if check.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}

func (s *Server) queryProvider() QueryProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	q := s.queryProvider()
	if q == nil {
		http.Error(w, "query provider not wired", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(q.Positions())
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	q := s.queryProvider()
	if q == nil {
		http.Error(w, "query provider not wired", http.StatusServiceUnavailable)
		return
	}
	id := chi.URLParam(r, "id")
	order, ok := q.Order(id)
	if !ok {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(order)
}

// riskSnapshotResponse flattens types.RiskContext's decimal fields to
// strings so the JSON wire format never implies float precision.
type riskSnapshotResponse struct {
	PortfolioValue      string `json:"portfolio_value"`
	Cash                string `json:"cash"`
	RealizedPnLToday    string `json:"realized_pnl_today"`
	RealizedPnLMonth    string `json:"realized_pnl_month"`
	TotalNotional       string `json:"total_notional"`
	OrdersToday         int    `json:"orders_today"`
	ConsecutiveLosses   int    `json:"consecutive_losses"`
	EmergencyStopActive bool   `json:"emergency_stop_active"`
}

func (s *Server) handleRiskSnapshot(w http.ResponseWriter, r *http.Request) {
	q := s.queryProvider()
	if q == nil {
		http.Error(w, "query provider not wired", http.StatusServiceUnavailable)
		return
	}
	rc := q.RiskContext(r.Context())
	resp := riskSnapshotResponse{
		PortfolioValue:      decimalOrZero(rc.PortfolioValue).String(),
		Cash:                decimalOrZero(rc.Cash).String(),
		RealizedPnLToday:    decimalOrZero(rc.RealizedPnLToday).String(),
		RealizedPnLMonth:    decimalOrZero(rc.RealizedPnLMonth).String(),
		TotalNotional:       decimalOrZero(rc.TotalNotional).String(),
		OrdersToday:         rc.OrdersToday,
		ConsecutiveLosses:   rc.ConsecutiveLosses,
		EmergencyStopActive: q.EmergencyStopActive(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func decimalOrZero(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		return decimal.Zero
	}
	return d
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}
