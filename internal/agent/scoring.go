package agent

import (
	"math"
	"strings"
)

const (
	costBaselineUSD   = 500.0
	costSpanUSD       = 2500.0
	internetFloorMbps = 10.0
	internetCeilMbps  = 100.0
)

// PPPTable maps a lowercased country name to a factor that converts nominal
// USD into US-equivalent purchasing power.
type PPPTable map[string]float64

var defaultPPP = PPPTable{
	"united states":        1.00,
	"canada":               1.12,
	"mexico":               2.05,
	"colombia":             2.70,
	"brazil":               2.15,
	"argentina":            2.90,
	"united kingdom":       1.08,
	"ireland":              0.95,
	"portugal":             1.62,
	"spain":                1.45,
	"france":               1.18,
	"germany":              1.15,
	"netherlands":          1.05,
	"italy":                1.35,
	"greece":               1.70,
	"poland":               2.05,
	"czech republic":       1.75,
	"hungary":              2.10,
	"romania":              2.45,
	"bulgaria":             2.50,
	"croatia":              1.85,
	"estonia":              1.55,
	"georgia":              3.00,
	"turkey":               3.20,
	"switzerland":          0.82,
	"thailand":             2.85,
	"vietnam":              3.10,
	"indonesia":            3.05,
	"malaysia":             2.60,
	"philippines":          2.75,
	"japan":                1.40,
	"south korea":          1.45,
	"taiwan":               2.05,
	"india":                3.60,
	"united arab emirates": 1.25,
	"south africa":         2.35,
	"australia":            1.02,
	"new zealand":          1.05,
}

// DefaultPPPTable returns a copy of the built-in PPP factors.
func DefaultPPPTable() PPPTable {
	out := make(PPPTable, len(defaultPPP))
	for country, factor := range defaultPPP {
		out[country] = factor
	}
	return out
}

// Factor looks up a country, defaulting to 1.0.
func (t PPPTable) Factor(country string) float64 {
	if factor, ok := t[strings.ToLower(strings.TrimSpace(country))]; ok && factor > 0 {
		return factor
	}
	return 1.0
}

type RemoteWorkWeights struct {
	Cost     float64 `json:"cost"`
	Internet float64 `json:"internet"`
}

func DefaultRemoteWorkWeights() RemoteWorkWeights {
	return RemoteWorkWeights{Cost: 0.6, Internet: 0.4}
}

// CostSubScore maps monthly rent+groceries+utilities (USD) onto 0..100, where
// the baseline scores 100 and baseline+span scores 0.
func CostSubScore(monthlyUSD float64) float64 {
	return clamp(100-(monthlyUSD-costBaselineUSD)/costSpanUSD*100, 0, 100)
}

// InternetSubScore maps download speed logarithmically between floor and ceiling.
func InternetSubScore(speedMbps float64) float64 {
	if speedMbps <= internetFloorMbps {
		return 0
	}
	if speedMbps >= internetCeilMbps {
		return 100
	}
	return clamp(100*math.Log(speedMbps/internetFloorMbps)/math.Log(internetCeilMbps/internetFloorMbps), 0, 100)
}

// RemoteWorkScore blends the sub-scores that have data. A missing sub-score is
// left out and the remaining weights are renormalized. ok is false when no
// sub-score could be computed.
func RemoteWorkScore(results map[string]CostCategoryResult, weights RemoteWorkWeights) (score float64, ok bool) {
	var total, weightSum float64

	if weights.Cost > 0 {
		sum := 0.0
		complete := true
		for _, name := range []string{CategoryRent, CategoryGroceries, CategoryUtilities} {
			result, found := results[name]
			if !found {
				complete = false
				break
			}
			sum += result.USDAmount
		}
		if complete {
			total += weights.Cost * CostSubScore(sum)
			weightSum += weights.Cost
		}
	}

	if weights.Internet > 0 {
		if result, found := results[CategoryInternet]; found && result.Internet != nil && result.Internet.SpeedMbps > 0 {
			total += weights.Internet * InternetSubScore(result.Internet.SpeedMbps)
			weightSum += weights.Internet
		}
	}

	if weightSum == 0 {
		return 0, false
	}
	return round1(total / weightSum), true
}

// ScaleConfidence applies a strategy weighting to an extracted confidence.
func ScaleConfidence(confidence int, modifier float64) int {
	if modifier <= 0 {
		modifier = 1
	}
	return int(clamp(math.Round(float64(confidence)*modifier), 0, 100))
}

// aggregate fills the derived fields of an analysis from its category results.
func aggregate(analysis *CityAnalysis, bundle PerceptionBundle, ppp PPPTable, weights RemoteWorkWeights, budget float64) {
	analysis.PPPFactor = ppp.Factor(analysis.Country)
	analysis.PPPAdjusted = make(map[string]float64, len(analysis.Categories))
	analysis.MonthlyTotalUSD = 0
	analysis.PPPAdjustedTotal = 0

	confidenceSum := 0
	for name, result := range analysis.Categories {
		confidenceSum += result.Confidence
		adjusted := round2(result.USDAmount * analysis.PPPFactor)
		analysis.PPPAdjusted[name] = adjusted
		analysis.MonthlyTotalUSD += result.USDAmount
		analysis.PPPAdjustedTotal += adjusted
	}
	analysis.MonthlyTotalUSD = round2(analysis.MonthlyTotalUSD)
	analysis.PPPAdjustedTotal = round2(analysis.PPPAdjustedTotal)

	analysis.Confidence = 0
	if len(analysis.Categories) > 0 {
		analysis.Confidence = round1(float64(confidenceSum) / float64(len(analysis.Categories)))
	}

	analysis.DataQuality = 0
	if len(bundle.Categories) > 0 {
		qualitySum := 0
		for _, evidence := range bundle.Categories {
			qualitySum += evidence.Quality
		}
		analysis.DataQuality = round1(float64(qualitySum) / float64(len(bundle.Categories)))
	}

	analysis.RemoteWorkScore = nil
	if score, ok := RemoteWorkScore(analysis.Categories, weights); ok {
		analysis.RemoteWorkScore = &score
	}

	analysis.BudgetHeadroom = nil
	if budget > 0 && len(analysis.Categories) > 0 {
		headroom := round2(budget - analysis.MonthlyTotalUSD)
		analysis.BudgetHeadroom = &headroom
	}
}

func clamp(value, low, high float64) float64 {
	return math.Max(low, math.Min(high, value))
}

func round1(value float64) float64 {
	return math.Round(value*10) / 10
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
