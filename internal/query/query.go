// Package query turns free-text requests such as "top 5 sell signals with
// ff above 30 and no earnings" into ranking filters.
package query

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

const number = `(-?\d+(?:\.\d+)?)`

// rule applies one pattern's submatches to the filters.
type rule struct {
	name    string
	pattern *regexp.Regexp
	apply   func(f *models.SearchFilters, m []string)
}

func floatPtr(s string) *float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func intPtr(s string) *int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

var sortKeys = map[string]models.SortKey{
	"ff":          models.SortFFMagnitude,
	"magnitude":   models.SortFFMagnitude,
	"quality":     models.SortQuality,
	"liquidity":   models.SortLiquidity,
	"dte":         models.SortDTE,
	"expiry":      models.SortDTE,
	"probability": models.SortProbability,
}

// rules are applied in order over the lower-cased text. A matched span is
// blanked out before the next rule runs, so specific rules come first.
var rules = []rule{
	{"top n", regexp.MustCompile(`\b(?:top|best|first)\s+(\d+)\b`), func(f *models.SearchFilters, m []string) {
		if n := intPtr(m[1]); n != nil {
			f.TopN = *n
		}
	}},
	{"sell signal", regexp.MustCompile(`\b(?:sell|short|rich)\b`), func(f *models.SearchFilters, _ []string) {
		f.Signal = models.SignalSell
	}},
	{"buy signal", regexp.MustCompile(`\b(?:buy|long|cheap)\b`), func(f *models.SearchFilters, _ []string) {
		f.Signal = models.SignalBuy
	}},
	{"min abs ff", regexp.MustCompile(`(?:\|ff\||abs(?:olute)?\s+ff|ff\s+magnitude)\s*(?:above|over|>=?|at least)\s*` + number), func(f *models.SearchFilters, m []string) {
		f.MinAbsFF = floatPtr(m[1])
	}},
	{"strong", regexp.MustCompile(`\bstrong(?:est)?\b`), func(f *models.SearchFilters, _ []string) {
		if f.MinAbsFF == nil {
			f.MinAbsFF = floatPtr("30")
		}
	}},
	{"min ff", regexp.MustCompile(`\b(?:ff|forward factor)\s*(?:above|over|>=?|at least)\s*` + number), func(f *models.SearchFilters, m []string) {
		f.MinFF = floatPtr(m[1])
	}},
	{"max ff", regexp.MustCompile(`\b(?:ff|forward factor)\s*(?:below|under|<=?|at most)\s*` + number), func(f *models.SearchFilters, m []string) {
		f.MaxFF = floatPtr(m[1])
	}},
	{"min quality", regexp.MustCompile(`quality\s*(?:score\s*)?(?:above|over|>=?|at least)\s*` + number), func(f *models.SearchFilters, m []string) {
		f.MinQuality = floatPtr(m[1])
	}},
	{"min liquidity", regexp.MustCompile(`liquidity\s*(?:score\s*)?(?:above|over|>=?|at least)\s*` + number), func(f *models.SearchFilters, m []string) {
		f.MinLiquidity = floatPtr(m[1])
	}},
	{"liquid", regexp.MustCompile(`\b(?:highly liquid|high liquidity|very liquid)\b`), func(f *models.SearchFilters, _ []string) {
		if f.MinLiquidity == nil {
			f.MinLiquidity = floatPtr("8")
		}
	}},
	{"exclude earnings", regexp.MustCompile(`\b(?:no|without|exclude|excluding|avoid|skip)\s+earnings\b`), func(f *models.SearchFilters, _ []string) {
		f.ExcludeEarnings = true
	}},
	{"dte range", regexp.MustCompile(`\bdte\s*(?:between|from)?\s*(\d+)\s*(?:-|to|and)\s*(\d+)\b`), func(f *models.SearchFilters, m []string) {
		f.MinFrontDTE = intPtr(m[1])
		f.MaxFrontDTE = intPtr(m[2])
	}},
	{"max dte", regexp.MustCompile(`\bdte\s*(?:below|under|<=?|at most)\s*(\d+)\b`), func(f *models.SearchFilters, m []string) {
		f.MaxFrontDTE = intPtr(m[1])
	}},
	{"min dte", regexp.MustCompile(`\bdte\s*(?:above|over|>=?|at least)\s*(\d+)\b`), func(f *models.SearchFilters, m []string) {
		f.MinFrontDTE = intPtr(m[1])
	}},
	{"sort by", regexp.MustCompile(`\b(?:sort(?:ed)?|order(?:ed)?|rank(?:ed)?)\s+by\s+([a-z]+)\b`), func(f *models.SearchFilters, m []string) {
		if key, ok := sortKeys[m[1]]; ok {
			f.SortBy = key
		}
	}},
	{"ascending", regexp.MustCompile(`\b(?:asc|ascending|lowest)\b`), func(f *models.SearchFilters, _ []string) {
		f.Order = models.OrderAsc
	}},
}

var (
	cashtag     = regexp.MustCompile(`\$([A-Za-z]{1,5}(?:[.-][A-Za-z])?)\b`)
	tickerList  = regexp.MustCompile(`(?i:\btickers?)\s*:?\s*([A-Z]{1,5}(?:[.-][A-Z])?(?:\s*,\s*[A-Z]{1,5}(?:[.-][A-Z])?)*)\b`)
	tickerSplit = regexp.MustCompile(`\s*,\s*`)
)

// Parse extracts filters from text. Unrecognised words are ignored, so an
// empty or unrelated query yields zero-value filters.
func Parse(text string) models.SearchFilters {
	var f models.SearchFilters
	lower := strings.ToLower(text)
	for _, r := range rules {
		loc := r.pattern.FindStringSubmatchIndex(lower)
		if loc == nil {
			continue
		}
		m := make([]string, len(loc)/2)
		for i := range m {
			if loc[2*i] >= 0 {
				m[i] = lower[loc[2*i]:loc[2*i+1]]
			}
		}
		r.apply(&f, m)
		lower = lower[:loc[0]] + strings.Repeat(" ", loc[1]-loc[0]) + lower[loc[1]:]
	}
	f.Tickers = tickers(text)
	return f
}

func tickers(text string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(t string) {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, m := range cashtag.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	if m := tickerList.FindStringSubmatch(text); m != nil {
		for _, t := range tickerSplit.Split(m[1], -1) {
			add(t)
		}
	}
	return out
}
