package compare

import (
	"math"

	"github.com/aluiziolira/bookwise/models"
)

// Trend directions reported by Summarize.
const (
	TrendDown = "down"
	TrendUp   = "up"
	TrendFlat = "flat"
)

// TrendSummary condenses a price history.
type TrendSummary struct {
	Points        int
	First         float64
	Current       float64
	Lowest        float64
	LowestOn      models.Date
	Highest       float64
	ChangePercent float64
	Direction     string
}

// Summarize reports the first, current, lowest and highest prices of history,
// which must be ordered oldest first. An empty history yields the zero value.
func Summarize(history models.PriceHistory) TrendSummary {
	if len(history) == 0 {
		return TrendSummary{}
	}

	summary := TrendSummary{
		Points:   len(history),
		First:    history[0].Price,
		Current:  history[len(history)-1].Price,
		Lowest:   history[0].Price,
		LowestOn: history[0].Date,
		Highest:  history[0].Price,
	}
	for _, point := range history[1:] {
		if point.Price < summary.Lowest {
			summary.Lowest = point.Price
			summary.LowestOn = point.Date
		}
		if point.Price > summary.Highest {
			summary.Highest = point.Price
		}
	}

	switch {
	case summary.Current < summary.First:
		summary.Direction = TrendDown
	case summary.Current > summary.First:
		summary.Direction = TrendUp
	default:
		summary.Direction = TrendFlat
	}
	if summary.First > 0 {
		change := 100 * (summary.Current - summary.First) / summary.First
		summary.ChangePercent = math.Round(change*10) / 10
	}
	return summary
}

// AtLowest reports whether the current price equals the lowest recorded one.
func (s TrendSummary) AtLowest() bool {
	return s.Points > 0 && s.Current == s.Lowest
}
