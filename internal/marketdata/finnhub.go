package marketdata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

// earningsLookahead bounds the earnings calendar query.
const earningsLookahead = 120 * 24 * time.Hour

// FinnhubClient looks up upcoming earnings dates.
type FinnhubClient struct {
	http *resty.Client
	now  func() time.Time
}

// Ensure FinnhubClient implements EarningsSource at compile time.
var _ EarningsSource = (*FinnhubClient)(nil)

// NewFinnhubClient creates a Finnhub REST client. now may be nil.
func NewFinnhubClient(apiKey, baseURL string, timeout time.Duration, now func() time.Time) *FinnhubClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://finnhub.io/api/v1"
	}
	if now == nil {
		now = time.Now
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetQueryParam("token", apiKey).
		SetHeader("Accept", "application/json")
	return &FinnhubClient{http: httpClient, now: now}
}

type finnhubEarningsResponse struct {
	EarningsCalendar []struct {
		Date   string `json:"date"`
		Symbol string `json:"symbol"`
	} `json:"earningsCalendar"`
}

// FetchEarningsDate returns the earliest earnings date on or after today.
func (f *FinnhubClient) FetchEarningsDate(ctx context.Context, ticker string) (*time.Time, error) {
	ticker = strings.ToUpper(ticker)
	today := f.now().UTC()
	var body finnhubEarningsResponse
	resp, err := f.http.R().
		SetContext(ctx).
		SetResult(&body).
		SetQueryParams(map[string]string{
			"symbol": ticker,
			"from":   today.Format(models.DateLayout),
			"to":     today.Add(earningsLookahead).Format(models.DateLayout),
		}).
		Get("/calendar/earnings")
	if err != nil {
		return nil, fmt.Errorf("finnhub: earnings %s: %w", ticker, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("finnhub: earnings %s: %w", ticker, apiErrorFrom(resp))
	}

	var dates []time.Time
	for _, e := range body.EarningsCalendar {
		if e.Symbol != "" && !strings.EqualFold(e.Symbol, ticker) {
			continue
		}
		d, err := time.Parse(models.DateLayout, e.Date)
		if err != nil || models.DaysBetween(today, d) < 0 {
			continue
		}
		dates = append(dates, d)
	}
	if len(dates) == 0 {
		return nil, nil
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return &dates[0], nil
}
