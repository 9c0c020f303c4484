// Package ranker filters, orders and truncates opportunities.
package ranker

import (
	"sort"
	"strings"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

// DefaultTopN is used when the filters do not set TopN.
const DefaultTopN = 20

// Rank applies f and returns a new, sorted and truncated slice. The input is
// not modified. Output order depends only on the opportunities' contents.
func Rank(opps []models.Opportunity, f models.SearchFilters) []models.Opportunity {
	out := Filter(opps, f)
	Sort(out, f.SortBy, f.Order)
	topN := f.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

// Filter returns the opportunities that satisfy every constraint in f.
func Filter(opps []models.Opportunity, f models.SearchFilters) []models.Opportunity {
	out := make([]models.Opportunity, 0, len(opps))
	for _, o := range opps {
		if Matches(o, f) {
			out = append(out, o)
		}
	}
	return out
}

// Matches reports whether o satisfies f. Sorting fields are ignored.
func Matches(o models.Opportunity, f models.SearchFilters) bool {
	if !f.HasTicker(o.Ticker) {
		return false
	}
	if f.Signal != "" && o.Signal != f.Signal {
		return false
	}
	if f.MinFF != nil && o.ForwardFactor < *f.MinFF {
		return false
	}
	if f.MaxFF != nil && o.ForwardFactor > *f.MaxFF {
		return false
	}
	if f.MinAbsFF != nil && o.Magnitude() < *f.MinAbsFF {
		return false
	}
	if f.MinQuality != nil && o.QualityScore() < *f.MinQuality {
		return false
	}
	if f.MinLiquidity != nil && o.LiquidityScore() < *f.MinLiquidity {
		return false
	}
	if f.ExcludeEarnings && o.HasEarningsSoon() {
		return false
	}
	if f.MinFrontDTE != nil && o.FrontDTE < *f.MinFrontDTE {
		return false
	}
	if f.MaxFrontDTE != nil && o.FrontDTE > *f.MaxFrontDTE {
		return false
	}
	return true
}

func keyValue(o models.Opportunity, key models.SortKey) float64 {
	switch key {
	case models.SortQuality:
		return o.QualityScore()
	case models.SortLiquidity:
		return o.LiquidityScore()
	case models.SortDTE:
		return float64(o.FrontDTE)
	case models.SortProbability:
		return o.Probability()
	default:
		return o.Magnitude()
	}
}

// Sort orders opps in place by key, descending unless order is asc. Ties
// fall back to liquidity (desc), ticker, front expiration and back expiration.
func Sort(opps []models.Opportunity, key models.SortKey, order models.SortOrder) {
	asc := order == models.OrderAsc
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if va, vb := keyValue(a, key), keyValue(b, key); va != vb {
			if asc {
				return va < vb
			}
			return va > vb
		}
		if la, lb := a.LiquidityScore(), b.LiquidityScore(); la != lb {
			return la > lb
		}
		if c := strings.Compare(a.Ticker, b.Ticker); c != 0 {
			return c < 0
		}
		if !a.FrontExpiration.Equal(b.FrontExpiration) {
			return a.FrontExpiration.Before(b.FrontExpiration)
		}
		return a.BackExpiration.Before(b.BackExpiration)
	})
}
