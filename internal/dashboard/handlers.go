package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eddiefleurent/forward_factor/internal/models"
	"github.com/eddiefleurent/forward_factor/internal/papertrade"
	"github.com/eddiefleurent/forward_factor/internal/payoff"
	"github.com/eddiefleurent/forward_factor/internal/query"
	"github.com/eddiefleurent/forward_factor/internal/ranker"
)

// scanBody is a ScanRequest plus an optional free-text query that narrows
// the returned opportunities.
type scanBody struct {
	models.ScanRequest
	Query string `json:"query,omitempty"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var body scanBody
	if !s.decode(w, r, &body) {
		return
	}
	req := body.ScanRequest
	var filters models.SearchFilters
	if body.Query != "" {
		filters = query.Parse(body.Query)
		if len(req.Tickers) == 0 {
			req.Tickers = filters.Tickers
		}
	}

	resp, err := s.scanner.Scan(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if body.Query != "" {
		resp.Opportunities = ranker.Filter(resp.Opportunities, filters)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type queryRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleParseQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.writeJSON(w, http.StatusOK, query.Parse(req.Text))
}

// scanSummary is a history row without the opportunity payload.
type scanSummary struct {
	ID                 string             `json:"id"`
	Timestamp          time.Time          `json:"timestamp"`
	Request            models.ScanRequest `json:"request"`
	TickersScanned     int                `json:"tickers_scanned"`
	TotalOpportunities int                `json:"total_opportunities"`
	Returned           int                `json:"returned"`
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	limit := defaultScanLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			verr := &models.ValidationError{}
			verr.Add("limit", "must be a positive integer")
			s.writeError(w, verr)
			return
		}
		limit = n
	}

	scans, err := s.storage.ListScans(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]scanSummary, 0, len(scans))
	for _, sc := range scans {
		out = append(out, scanSummary{
			ID:                 sc.ID,
			Timestamp:          sc.Timestamp,
			Request:            sc.Request,
			TickersScanned:     sc.TickersScanned,
			TotalOpportunities: sc.TotalOpportunities,
			Returned:           len(sc.Opportunities),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) loadScan(w http.ResponseWriter, r *http.Request) (models.Scan, bool) {
	scan, err := s.storage.GetScan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return models.Scan{}, false
	}
	return scan, true
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	if scan, ok := s.loadScan(w, r); ok {
		s.writeJSON(w, http.StatusOK, scan)
	}
}

// handleSearchScan re-filters a stored scan with a natural-language query.
func (s *Server) handleSearchScan(w http.ResponseWriter, r *http.Request) {
	scan, ok := s.loadScan(w, r)
	if !ok {
		return
	}
	filters := query.Parse(r.URL.Query().Get("q"))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"filters":       filters,
		"opportunities": ranker.Rank(scan.Opportunities, filters),
	})
}

func (s *Server) handleScanCSV(w http.ResponseWriter, r *http.Request) {
	scan, ok := s.loadScan(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "scan-"+scan.ID+".csv"))
	if err := ranker.WriteCSV(w, scan.Opportunities); err != nil {
		s.logger.WithError(err).WithField("scan_id", scan.ID).Error("Failed to write CSV")
	}
}

func (s *Server) handleOpportunityPayoff(w http.ResponseWriter, r *http.Request) {
	scan, ok := s.loadScan(w, r)
	if !ok {
		return
	}
	oppID := chi.URLParam(r, "oppID")
	for _, o := range scan.Opportunities {
		if o.ID != oppID {
			continue
		}
		spot, err := queryFloat(r, "spot")
		if err != nil {
			s.writeError(w, err)
			return
		}
		price := o.StockPrice
		if spot != nil {
			price = *spot
		}
		s.writeJSON(w, http.StatusOK, payoff.Analyze(payoff.FromOpportunity(o), price, s.now().UTC()))
		return
	}
	s.writeError(w, fmt.Errorf("opportunity %s in scan %s: %w", oppID, scan.ID, models.ErrNotFound))
}

// payoffBody carries the opportunity itself; no stored scan is needed.
type payoffBody struct {
	Opportunity       models.Opportunity `json:"opportunity"`
	CurrentStockPrice *float64           `json:"current_stock_price,omitempty"`
}

func (s *Server) handlePayoff(w http.ResponseWriter, r *http.Request) {
	var body payoffBody
	if !s.decode(w, r, &body) {
		return
	}
	verr := &models.ValidationError{}
	if body.Opportunity.Ticker == "" {
		verr.Add("opportunity.ticker", "is required")
	}
	if !body.Opportunity.Signal.Valid() {
		verr.Add("opportunity.signal", "must be BUY or SELL")
	}
	if body.CurrentStockPrice != nil && *body.CurrentStockPrice <= 0 {
		verr.Add("current_stock_price", "must be a positive number")
	}
	if err := verr.OrNil(); err != nil {
		s.writeError(w, err)
		return
	}

	price := body.Opportunity.StockPrice
	if body.CurrentStockPrice != nil {
		price = *body.CurrentStockPrice
	}
	s.writeJSON(w, http.StatusOK, payoff.Analyze(payoff.FromOpportunity(body.Opportunity), price, s.now().UTC()))
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.storage.ListPaperTrades(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := models.TradeStatus(r.URL.Query().Get("status"))
	out := make([]*models.PaperTrade, 0, len(trades))
	for _, t := range trades {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateTrade(w http.ResponseWriter, r *http.Request) {
	var req papertrade.CreateRequest
	if !s.decode(w, r, &req) {
		return
	}
	trade, err := s.trades.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, trade)
}

func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	trade, err := s.storage.GetPaperTrade(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trade)
}

func (s *Server) handleRefreshTrades(w http.ResponseWriter, r *http.Request) {
	result, err := s.trades.Refresh(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCloseTrade(w http.ResponseWriter, r *http.Request) {
	var req papertrade.CloseRequest
	if r.ContentLength != 0 {
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body: " + err.Error()})
			return
		}
	}
	trade, err := s.trades.Close(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trade)
}

func (s *Server) handleTradePayoff(w http.ResponseWriter, r *http.Request) {
	spot, err := queryFloat(r, "spot")
	if err != nil {
		s.writeError(w, err)
		return
	}
	metrics, err := s.trades.Payoff(r.Context(), chi.URLParam(r, "id"), spot)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	summary, err := s.trades.Summary(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}
