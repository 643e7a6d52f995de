// Package cheapest finds the lowest average priced run of contiguous slots
// that completes before a deadline.
package cheapest

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
)

var (
	ErrNoFeasibleSchedule = errors.New("no feasible charging schedule")
	// ErrNotEnoughSlots is an ErrNoFeasibleSchedule raised before any window is scanned.
	ErrNotEnoughSlots     = fmt.Errorf("%w: not enough price data", ErrNoFeasibleSchedule)
)

// Find scans every window of exactly requiredSlots adjacent slots whose end is
// at or before readyBy. A window spanning a gap in the series is not a
// candidate. The lowest average wins and ties go to the earliest start.
// series must be ordered by start, as a MergedPriceSeries is.
func Find(series model.MergedPriceSeries, requiredSlots int, readyBy time.Time) (model.ChargingSchedule, error) {
	if requiredSlots <= 0 {
		return model.ChargingSchedule{}, fmt.Errorf("%w: required slot count %d is not positive", ErrNoFeasibleSchedule, requiredSlots)
	}
	if len(series) < requiredSlots {
		return model.ChargingSchedule{}, fmt.Errorf("%w: %d slots available, %d required", ErrNotEnoughSlots, len(series), requiredSlots)
	}

	// prefix[i] is the sum of the first i prices, run[i] the length of the gap free run ending at i.
	prefix := make([]decimal.Decimal, len(series)+1)
	run := make([]int, len(series))
	for i, slot := range series {
		prefix[i+1] = prefix[i].Add(slot.Price)
		run[i] = 1
		if i > 0 && series[i-1].End().Equal(slot.Start) {
			run[i] = run[i-1] + 1
		}
	}

	best := -1
	bestSum := decimal.Zero
	for last := requiredSlots - 1; last < len(series); last++ {
		if series[last].End().After(readyBy) {
			break
		}
		if run[last] < requiredSlots {
			continue
		}
		first := last - requiredSlots + 1
		sum := prefix[last+1].Sub(prefix[first])
		if best == -1 || sum.LessThan(bestSum) {
			best = first
			bestSum = sum
		}
	}
	if best == -1 {
		return model.ChargingSchedule{}, fmt.Errorf("%w: no %d slot window ends by %s", ErrNoFeasibleSchedule, requiredSlots, readyBy.Format(time.RFC3339))
	}

	return model.ChargingSchedule{
		Start:        series[best].Start,
		End:          series[best+requiredSlots-1].End(),
		AveragePrice: bestSum.Div(decimal.NewFromInt(int64(requiredSlots))),
		TotalPrice:   bestSum,
		SlotCount:    requiredSlots,
		ReadyBy:      readyBy,
	}, nil
}
