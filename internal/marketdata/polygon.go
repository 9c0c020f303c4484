package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

const (
	polygonPageLimit = 250
	polygonMaxPages  = 20
)

// PolygonClient fetches option chain snapshots and previous-close quotes.
type PolygonClient struct {
	http   *resty.Client
	logger logrus.FieldLogger
}

// Ensure PolygonClient implements ChainSource at compile time.
var _ ChainSource = (*PolygonClient)(nil)

// NewPolygonClient creates a Polygon REST client. Retries are handled by the
// caller, so resty's own retry is disabled.
func NewPolygonClient(apiKey, baseURL string, timeout time.Duration, logger logrus.FieldLogger) *PolygonClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.polygon.io"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetQueryParam("apiKey", apiKey).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "forward-factor/1.0 (+polygon)")

	return &PolygonClient{http: httpClient, logger: logger}
}

type polygonSnapshotResponse struct {
	Status  string                  `json:"status"`
	Results []polygonOptionSnapshot `json:"results"`
	NextURL string                  `json:"next_url"`
}

type polygonOptionSnapshot struct {
	Details struct {
		ContractType   string  `json:"contract_type"`
		ExpirationDate string  `json:"expiration_date"`
		StrikePrice    float64 `json:"strike_price"`
	} `json:"details"`
	Greeks *struct {
		Delta *float64 `json:"delta"`
	} `json:"greeks"`
	ImpliedVolatility float64 `json:"implied_volatility"`
	OpenInterest      int64   `json:"open_interest"`
	Day               struct {
		Volume float64 `json:"volume"`
		Close  float64 `json:"close"`
	} `json:"day"`
	LastQuote struct {
		Bid float64 `json:"bid"`
		Ask float64 `json:"ask"`
	} `json:"last_quote"`
}

type polygonPrevResponse struct {
	Results []struct {
		Close float64 `json:"c"`
	} `json:"results"`
}

// FetchOptionChain returns every contract expiring within r, following pagination.
func (p *PolygonClient) FetchOptionChain(ctx context.Context, ticker string, r DateRange) ([]models.OptionChainEntry, error) {
	ticker = strings.ToUpper(ticker)
	endpoint := "/v3/snapshot/options/" + ticker
	params := map[string]string{
		"limit":               fmt.Sprint(polygonPageLimit),
		"expiration_date.gte": r.From.Format(models.DateLayout),
		"expiration_date.lte": r.To.Format(models.DateLayout),
	}

	var entries []models.OptionChainEntry
	for page := 0; page < polygonMaxPages && endpoint != ""; page++ {
		var body polygonSnapshotResponse
		req := p.http.R().SetContext(ctx).SetResult(&body)
		if page == 0 {
			req.SetQueryParams(params)
		}
		resp, err := req.Get(endpoint)
		if err != nil {
			return nil, fmt.Errorf("polygon: option chain %s: %w", ticker, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("polygon: option chain %s: %w", ticker, apiErrorFrom(resp))
		}

		for _, s := range body.Results {
			if e, ok := s.toEntry(); ok {
				entries = append(entries, e)
			}
		}
		endpoint = body.NextURL
	}

	p.logger.WithFields(logrus.Fields{"ticker": ticker, "contracts": len(entries)}).Debug("Fetched option chain")
	return entries, nil
}

func (s polygonOptionSnapshot) toEntry() (models.OptionChainEntry, bool) {
	exp, err := time.Parse(models.DateLayout, s.Details.ExpirationDate)
	if err != nil {
		return models.OptionChainEntry{}, false
	}
	typ := models.OptionType(strings.ToLower(s.Details.ContractType))
	if !typ.Valid() {
		return models.OptionChainEntry{}, false
	}
	e := models.OptionChainEntry{
		Expiration:   exp,
		Type:         typ,
		Strike:       s.Details.StrikePrice,
		Bid:          s.LastQuote.Bid,
		Ask:          s.LastQuote.Ask,
		ImpliedVol:   s.ImpliedVolatility,
		OpenInterest: s.OpenInterest,
		Volume:       int64(s.Day.Volume),
	}
	if e.Bid == 0 && e.Ask == 0 && s.Day.Close > 0 {
		e.Bid, e.Ask = s.Day.Close, s.Day.Close
	}
	if s.Greeks != nil && s.Greeks.Delta != nil {
		d := *s.Greeks.Delta
		e.Delta = &d
	}
	return e, true
}

// FetchSpotPrice returns the previous session close.
func (p *PolygonClient) FetchSpotPrice(ctx context.Context, ticker string) (float64, error) {
	ticker = strings.ToUpper(ticker)
	var body polygonPrevResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetResult(&body).
		SetQueryParam("adjusted", "true").
		Get("/v2/aggs/ticker/" + ticker + "/prev")
	if err != nil {
		return 0, fmt.Errorf("polygon: spot %s: %w", ticker, err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("polygon: spot %s: %w", ticker, apiErrorFrom(resp))
	}
	if len(body.Results) == 0 || body.Results[0].Close <= 0 {
		return 0, models.NewDataGap(ticker, "no previous close", nil)
	}
	return body.Results[0].Close, nil
}

// requestPath returns the request path without the query string, which
// carries the API key.
func requestPath(resp *resty.Response) string {
	if resp.Request != nil && resp.Request.RawRequest != nil {
		return resp.Request.RawRequest.URL.Path
	}
	return "?"
}

// apiErrorFrom builds an APIError, keeping at most 64KB of body.
func apiErrorFrom(resp *resty.Response) *APIError {
	body := resp.String()
	if len(body) > 64<<10 {
		body = body[:64<<10]
	}
	msg := fmt.Sprintf("%s %s -> %s", resp.Request.Method, requestPath(resp), body)
	if ra := resp.Header().Get("Retry-After"); ra != "" {
		msg = fmt.Sprintf("%s (retry-after: %s)", msg, ra)
	}
	return &APIError{Status: resp.StatusCode(), Body: msg}
}
