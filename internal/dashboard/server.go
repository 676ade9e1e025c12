// Package dashboard serves the wheel tracker's JSON API.
package dashboard

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/eddiefleurent/wheel_tracker/internal/storage"
	"github.com/eddiefleurent/wheel_tracker/internal/wheel"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Service is the trade engine surface the API exposes.
type Service interface {
	Open(ctx context.Context, req wheel.OpenRequest) (*models.Trade, error)
	Close(ctx context.Context, id string, req wheel.CloseRequest) (*models.Trade, error)
	Expire(ctx context.Context, id string) (*models.Trade, error)
	Assign(ctx context.Context, id string) (*models.Trade, error)
	Roll(ctx context.Context, id string, req wheel.RollRequest) (*models.Trade, error)
	SellStock(ctx context.Context, req wheel.StockSaleRequest) (*models.StockSale, error)
	Trade(ctx context.Context, id string) (*models.Trade, error)
	Trades(ctx context.Context, opts wheel.ListOptions) ([]*models.Trade, error)
	CostBasis(ctx context.Context, ticker string) (*wheel.CostBasis, error)
	CumulativePnL(ctx context.Context, ticker string) (*wheel.CumulativePnL, error)
	DashboardSummary(ctx context.Context) (*wheel.Summary, error)
}

var _ Service = (*wheel.Engine)(nil)

// Server is the HTTP front end of the tracker.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	service   Service
	logger    *logrus.Logger
	port      int
	authToken string
}

// Config holds the listen port and optional shared token.
type Config struct {
	Port      int
	AuthToken string
}

// defaultListLimit caps GET /api/trades/ when no limit is given. An explicit
// limit of 0 lists everything.
const defaultListLimit = 100

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// NewServer creates a server exposing service.
func NewServer(cfg Config, service Service, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		router:    chi.NewRouter(),
		service:   service,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/trades", func(r chi.Router) {
			r.Post("/", s.handleCreateTrade)
			r.Get("/", s.handleListTrades)
			r.Get("/{id}", s.handleGetTrade)
			r.Put("/{id}/close", s.handleCloseTrade)
			r.Put("/{id}/expire", s.handleExpireTrade)
			r.Put("/{id}/assign", s.handleAssignTrade)
			r.Post("/{id}/roll", s.handleRollTrade)
		})
		r.Post("/sell_stock", s.handleSellStock)
		r.Get("/cost_basis/{ticker}", s.handleCostBasis)
		r.Get("/cumulative_pnl/{ticker}", s.handleCumulativePnL)
		r.Get("/dashboard/", s.handleDashboard)
	})
}

// Handler returns the server's router
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("Handled request")
	})
}

// Start listens on the configured port until Shutdown. It returns
// http.ErrServerClosed at once if Shutdown already ran.
func (s *Server) Start() error {
	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server. It is safe to call before Start.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleCreateTrade(w http.ResponseWriter, r *http.Request) {
	var req wheel.OpenRequest
	if !s.decode(w, r, &req) {
		return
	}
	trade, err := s.service.Open(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, trade)
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := wheel.ListOptions{
		Ticker: strings.ToUpper(q.Get("ticker")),
		Status: models.TradeStatus(q.Get("status")),
	}
	if opts.Status != "" && !opts.Status.Valid() {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown status %q", opts.Status))
		return
	}
	var err error
	if opts.Skip, err = queryInt(q.Get("skip")); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("skip: %w", err))
		return
	}
	opts.Limit = defaultListLimit
	if raw := q.Get("limit"); raw != "" {
		if opts.Limit, err = queryInt(raw); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("limit: %w", err))
			return
		}
	}

	trades, err := s.service.Trades(r.Context(), opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	trade, err := s.service.Trade(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trade)
}

func (s *Server) handleCloseTrade(w http.ResponseWriter, r *http.Request) {
	var req wheel.CloseRequest
	if !s.decode(w, r, &req) {
		return
	}
	trade, err := s.service.Close(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trade)
}

func (s *Server) handleExpireTrade(w http.ResponseWriter, r *http.Request) {
	trade, err := s.service.Expire(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trade)
}

func (s *Server) handleAssignTrade(w http.ResponseWriter, r *http.Request) {
	trade, err := s.service.Assign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trade)
}

func (s *Server) handleRollTrade(w http.ResponseWriter, r *http.Request) {
	var req wheel.RollRequest
	if !s.decode(w, r, &req) {
		return
	}
	successor, err := s.service.Roll(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, successor)
}

func (s *Server) handleSellStock(w http.ResponseWriter, r *http.Request) {
	var req wheel.StockSaleRequest
	if !s.decode(w, r, &req) {
		return
	}
	sale, err := s.service.SellStock(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sale)
}

func (s *Server) handleCostBasis(w http.ResponseWriter, r *http.Request) {
	basis, err := s.service.CostBasis(r.Context(), chi.URLParam(r, "ticker"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, basis)
}

func (s *Server) handleCumulativePnL(w http.ResponseWriter, r *http.Request) {
	pnl, err := s.service.CumulativePnL(r.Context(), chi.URLParam(r, "ticker"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pnl)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.DashboardSummary(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

// decode reads a JSON body into dst, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrTradeNotFound), errors.Is(err, wheel.ErrMissingAnchor):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, storage.ErrImmutableField),
		errors.Is(err, storage.ErrRollChain),
		errors.Is(err, storage.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, wheel.ErrInvalidRequest), errors.Is(err, models.ErrInvalidTrade):
		return http.StatusBadRequest
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	entry := s.logger.WithError(err).WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
		s.writeError(w, status, errors.New(http.StatusText(status)))
		return
	}
	entry.Info("Request rejected")
	s.writeError(w, status, err)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return n, nil
}
