package forecast

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
	"github.com/anicoll/agile-charge-planner/internal/pkg/prices"
	"github.com/anicoll/agile-charge-planner/internal/pkg/timeblock"
)

// HorizonPeriods is the number of day long periods published after the first
// upcoming peak.
const HorizonPeriods = 5

var ErrNoHorizon = errors.New("no future forecast period available")

type dayBlock struct {
	day   string
	block model.TimeBlock
}

// periodBlocks are the blocks of a period starting at the peak, in order.
// The first three belong to the start date and the last two to the next date.
var periodBlocks = []model.TimeBlock{
	model.Peak,
	model.Evening,
	model.Nighttime,
	model.Morning,
	model.Afternoon,
}

// Horizon groups predicted prices (pence) into the periods 24-48h through
// 120-144h after the first peak start that is not in the past. Each period
// runs from a peak start to the next day's peak start and only gets an
// overall average when all five of its blocks have data.
func (a *Aggregator) Horizon(predicted model.RawPrices, at time.Time) ([]model.PeriodForecast, error) {
	loc := at.Location()
	slots, errs := prices.ParseAll(predicted, model.SourcePredicted, loc)
	for _, err := range errs {
		a.logger.Warn("skipping predicted entry", zap.Error(err))
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("%w: no predicted prices", ErrNoHorizon)
	}

	grouped := lo.GroupBy(slots, func(s model.PriceSlot) dayBlock {
		return dayBlock{
			day:   dateKey(timeblock.EffectiveDate(s.Start)),
			block: timeblock.Classify(s.Start),
		}
	})
	averages := lo.MapValues(grouped, func(group []model.PriceSlot, _ dayBlock) decimal.Decimal {
		return prices.PenceToPounds(mean(lo.Map(group, func(s model.PriceSlot, _ int) decimal.Decimal {
			return s.Price
		})))
	})

	days := lo.UniqBy(lo.Map(slots, func(s model.PriceSlot, _ int) time.Time {
		return timeblock.EffectiveDate(s.Start)
	}), dateKey)
	slices.SortFunc(days, func(x, y time.Time) int {
		return x.Compare(y)
	})

	first, ok := lo.Find(days, func(d time.Time) bool {
		_, hasPeak := averages[dayBlock{day: dateKey(d), block: model.Peak}]
		return hasPeak && !peakStart(d).Before(at)
	})
	if !ok {
		return nil, fmt.Errorf("%w: no upcoming peak with predictions", ErrNoHorizon)
	}

	periods := make([]model.PeriodForecast, 0, HorizonPeriods)
	for i := range HorizonPeriods {
		startDay := first.AddDate(0, 0, i+1)
		endDay := startDay.AddDate(0, 0, 1)

		pf := model.PeriodForecast{
			Label:         fmt.Sprintf("%d_%dh", 24*(i+1), 24*(i+2)),
			Start:         peakStart(startDay),
			End:           peakStart(endDay),
			BlockAverages: make(map[model.TimeBlock]decimal.Decimal, len(periodBlocks)),
		}
		for j, block := range periodBlocks {
			day := startDay
			if j >= 3 {
				day = endDay
			}
			if avg, ok := averages[dayBlock{day: dateKey(day), block: block}]; ok {
				pf.BlockAverages[block] = avg
			}
		}
		if len(pf.BlockAverages) == len(periodBlocks) {
			overall := mean(lo.Values(pf.BlockAverages))
			pf.OverallAverage = &overall
		} else {
			a.logger.Debug("incomplete forecast period",
				zap.String("period", pf.Label),
				zap.Int("blocks", len(pf.BlockAverages)),
			)
		}
		periods = append(periods, pf)
	}
	return periods, nil
}

func dateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

func peakStart(day time.Time) time.Time {
	r, _ := timeblock.RangeOf(model.Peak)
	return time.Date(day.Year(), day.Month(), day.Day(), r.Start/60, r.Start%60, 0, 0, day.Location())
}
