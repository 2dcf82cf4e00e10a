// Package regime classifies the market regime for one snapshot from
// the swing-band indicators alone, so the classification stays
// deterministic per snapshot and needs no shared state.
package regime

import (
	"math"

	"github.com/sawpanic/evengine/internal/domain"
)

// Regime is the market regime bucket feeding the sizer's regime
// multiplier and the exit engine's continuation/reversal adjustments.
type Regime int

const (
	Ranging Regime = iota
	Trending
	Volatile
)

func (r Regime) String() string {
	switch r {
	case Trending:
		return "trending"
	case Volatile:
		return "volatile"
	default:
		return "ranging"
	}
}

// Indicator is one weighted vote in the classification.
type Indicator struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Vote   Regime  `json:"vote"`
	Weight float64 `json:"weight"`
}

// Detection is the classification result with its supporting votes.
type Detection struct {
	Regime     Regime      `json:"regime"`
	Confidence float64     `json:"confidence"` // winning vote share, 0..1
	Indicators []Indicator `json:"indicators"`
}

// Vote thresholds. Trend values are on the normalized indicator scale;
// the volatility ratio is price-relative.
const (
	strongTrend      = 0.25 // mean |trend-0.5| above this votes trending
	weakTrend        = 0.10 // below this votes ranging
	volatileVolRatio = 0.02 // volatility/price above this votes volatile
	alignedBand      = 0.05 // dead zone for the alignment count
)

// Detect classifies the snapshot's regime by weighted majority of
// three votes: swing trend strength, swing alignment, and the
// snapshot's volatility ratio.
func Detect(tc *domain.TradingContext) Detection {
	band := domain.SwingBand()

	// Indicator 1: mean distance of swing trends from neutral.
	strength := 0.0
	for _, tf := range band {
		strength += math.Abs(tc.Bundle(tf).Trend - domain.NeutralValue)
	}
	strength /= float64(len(band))

	// Volatility ratio feeds every vote: each indicator classifies the
	// full regime set so no class depends on a single vote's weight.
	volRatio := 0.0
	if tc.Price > 0 {
		volRatio = tc.Volatility / tc.Price
	}
	elevated := volRatio >= volatileVolRatio

	strengthVote := Ranging
	switch {
	case strength >= strongTrend:
		strengthVote = Trending
	case elevated:
		strengthVote = Volatile
	}

	// Indicator 2: how many swing timeframes agree on one side of
	// neutral, outside the alignment dead zone.
	bullish, bearish := 0, 0
	for _, tf := range band {
		t := tc.Bundle(tf).Trend
		if t > domain.NeutralValue+alignedBand {
			bullish++
		} else if t < domain.NeutralValue-alignedBand {
			bearish++
		}
	}
	aligned := bullish
	if bearish > aligned {
		aligned = bearish
	}
	alignVote := Ranging
	switch {
	case aligned == len(band):
		alignVote = Trending
	case elevated:
		alignVote = Volatile
	}

	// Indicator 3: price-relative volatility.
	volVote := Ranging
	if elevated {
		volVote = Volatile
	} else if strength >= weakTrend {
		volVote = Trending
	}

	indicators := []Indicator{
		{Name: "swing_trend_strength", Value: strength, Vote: strengthVote, Weight: 0.40},
		{Name: "swing_alignment", Value: float64(aligned), Vote: alignVote, Weight: 0.35},
		{Name: "volatility_ratio", Value: volRatio, Vote: volVote, Weight: 0.25},
	}

	return tally(indicators)
}

func tally(indicators []Indicator) Detection {
	votes := map[Regime]float64{}
	total := 0.0
	for _, ind := range indicators {
		votes[ind.Vote] += ind.Weight
		total += ind.Weight
	}

	winner, best := Ranging, 0.0
	for _, r := range []Regime{Volatile, Trending, Ranging} {
		if votes[r] > best {
			winner, best = r, votes[r]
		}
	}

	confidence := 0.0
	if total > 0 {
		confidence = best / total
	}
	return Detection{Regime: winner, Confidence: confidence, Indicators: indicators}
}
