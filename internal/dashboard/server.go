// Package dashboard serves the scanner, scan history, paper trading and
// watchlist over a JSON HTTP API.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/forward_factor/internal/models"
	"github.com/eddiefleurent/forward_factor/internal/papertrade"
	"github.com/eddiefleurent/forward_factor/internal/storage"
)

const (
	maxBodyBytes     = 1 << 20
	defaultScanLimit = 20
)

// Scanner runs one scan.
type Scanner interface {
	Scan(ctx context.Context, req models.ScanRequest) (models.ScanResponse, error)
}

type Server struct {
	router    *chi.Mux
	server    *http.Server
	scanner   Scanner
	trades    *papertrade.Service
	storage   storage.Interface
	logger    *logrus.Logger
	port      int
	authToken string
	now       func() time.Time
}

type Config struct {
	Port      int
	AuthToken string
	// RequestTimeout bounds every request, including scans.
	RequestTimeout time.Duration
}

func NewServer(cfg Config, scanner Scanner, trades *papertrade.Service, store storage.Interface, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:    chi.NewRouter(),
		scanner:   scanner,
		trades:    trades,
		storage:   store,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
		now:       time.Now,
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	s.setupRoutes(timeout)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes(timeout time.Duration) {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(timeout))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/scan", s.handleScan)
		r.Post("/query", s.handleParseQuery)
		r.Post("/payoff", s.handlePayoff)

		r.Get("/scans", s.handleListScans)
		r.Get("/scans/{id}", s.handleGetScan)
		r.Get("/scans/{id}/search", s.handleSearchScan)
		r.Get("/scans/{id}/opportunities.csv", s.handleScanCSV)
		r.Get("/scans/{id}/opportunities/{oppID}/payoff", s.handleOpportunityPayoff)

		r.Get("/paper-trades", s.handleListTrades)
		r.Post("/paper-trades", s.handleCreateTrade)
		r.Post("/paper-trades/refresh", s.handleRefreshTrades)
		r.Get("/paper-trades/{id}", s.handleGetTrade)
		r.Post("/paper-trades/{id}/close", s.handleCloseTrade)
		r.Get("/paper-trades/{id}/payoff", s.handleTradePayoff)
		r.Get("/portfolio", s.handlePortfolio)

		r.Get("/watchlist", s.handleListWatchlist)
		r.Post("/watchlist", s.handleAddWatchlist)
		r.Delete("/watchlist/{id}", s.handleRemoveWatchlist)
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
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
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

		if token != s.authToken {
			s.writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type errorBody struct {
	Error  string              `json:"error"`
	Fields []models.FieldError `json:"fields,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

// writeError maps domain errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: verr.Error(), Fields: verr.Fields})
	case errors.Is(err, models.ErrNotFound), errors.Is(err, storage.ErrNoIVReadings):
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, storage.ErrDuplicate), errors.Is(err, models.ErrInvalidTransition):
		s.writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		s.writeJSON(w, http.StatusGatewayTimeout, errorBody{Error: err.Error()})
	default:
		s.logger.WithError(err).Error("Request failed")
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body: " + err.Error()})
		return false
	}
	return true
}

// queryFloat reads an optional float query parameter.
func queryFloat(r *http.Request, name string) (*float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		verr := &models.ValidationError{}
		verr.Add(name, "must be a positive number")
		return nil, verr
	}
	return &v, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	marketStatus := "closed"
	if isMarketOpen(s.now()) {
		marketStatus = "open"
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"timestamp":     s.now().Unix(),
		"market_status": marketStatus,
	})
}

func (s *Server) handleListWatchlist(w http.ResponseWriter, r *http.Request) {
	items, err := s.storage.ListWatchlist(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, items)
}

type watchlistRequest struct {
	Ticker string `json:"ticker"`
	Notes  string `json:"notes,omitempty"`
}

func (s *Server) handleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	var req watchlistRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Ticker == "" {
		verr := &models.ValidationError{}
		verr.Add("ticker", "required")
		s.writeError(w, verr)
		return
	}
	item := models.WatchlistItem{
		ID:      uuid.NewString(),
		Ticker:  req.Ticker,
		Notes:   req.Notes,
		AddedAt: s.now().UTC(),
	}
	if err := s.storage.AddWatchlistItem(r.Context(), item); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleRemoveWatchlist(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.RemoveWatchlistItem(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// isMarketOpen reports regular NYSE hours, ignoring holidays.
func isMarketOpen(now time.Time) bool {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return false
	}
	nyTime := now.In(loc)

	if nyTime.Weekday() == time.Saturday || nyTime.Weekday() == time.Sunday {
		return false
	}

	totalMinutes := nyTime.Hour()*60 + nyTime.Minute()
	marketOpen := 9*60 + 30
	marketClose := 16 * 60

	return totalMinutes >= marketOpen && totalMinutes < marketClose
}
