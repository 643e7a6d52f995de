// Package forecast summarises half hour prices into time of day blocks.
package forecast

import (
	"time"

	"github.com/jinzhu/now"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
	"github.com/anicoll/agile-charge-planner/internal/pkg/prices"
	"github.com/anicoll/agile-charge-planner/internal/pkg/timeblock"
)

// DefaultCutoff is when the supplier publishes the next day's actual prices.
const DefaultCutoff = 16 * time.Hour

type Aggregator struct {
	logger *zap.Logger
	cutoff time.Duration
}

type Option func(*Aggregator)

// WithCutoff overrides the publication cutoff, given as an offset from midnight.
func WithCutoff(cutoff time.Duration) Option {
	return func(a *Aggregator) {
		a.cutoff = cutoff
	}
}

func NewAggregator(logger *zap.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		logger: logger,
		cutoff: DefaultCutoff,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate averages the slots of each block. From the cutoff onwards a block
// is taken from today when today has at least one slot in it, otherwise the
// block comes from yesterday. A block never mixes slots from both days.
func (a *Aggregator) Aggregate(today, yesterday model.RawPrices, at time.Time) model.BlockForecasts {
	todayStart := now.With(at).BeginningOfDay()
	yesterdayStart := todayStart.AddDate(0, 0, -1)

	todayBlocks := a.collect(today, todayStart, model.Today)
	yesterdayBlocks := a.collect(yesterday, yesterdayStart, model.Yesterday)
	afterCutoff := !at.Before(a.cutoffOn(todayStart))

	forecasts := make(model.BlockForecasts, len(model.TimeBlocks))
	for _, block := range model.TimeBlocks {
		day, values := model.Yesterday, yesterdayBlocks[block]
		if afterCutoff && len(todayBlocks[block]) > 0 {
			day, values = model.Today, todayBlocks[block]
		}
		forecasts[block] = blockForecast(block, day, values)
	}

	a.logger.Debug("aggregated block forecasts",
		zap.Bool("after_cutoff", afterCutoff),
		zap.Int("today_blocks", len(todayBlocks)),
		zap.Int("yesterday_blocks", len(yesterdayBlocks)),
	)
	return forecasts
}

func (a *Aggregator) cutoffOn(day time.Time) time.Time {
	hours := int(a.cutoff / time.Hour)
	minutes := int((a.cutoff % time.Hour) / time.Minute)
	return time.Date(day.Year(), day.Month(), day.Day(), hours, minutes, 0, 0, day.Location())
}

// collect returns the prices of dayStart's calendar day grouped by block, one
// value per distinct start. Repeated starts are averaged first.
func (a *Aggregator) collect(raws model.RawPrices, dayStart time.Time, day model.SourceDay) map[model.TimeBlock][]decimal.Decimal {
	dayEnd := dayStart.AddDate(0, 0, 1)
	slots, errs := prices.ParseAll(raws, model.SourceActual, dayStart.Location())
	for _, err := range errs {
		a.logger.Warn("skipping price entry", zap.String("day", day.String()), zap.Error(err))
	}

	inDay := lo.Filter(slots, func(s model.PriceSlot, _ int) bool {
		return !s.Start.Before(dayStart) && s.Start.Before(dayEnd)
	})
	if ignored := len(slots) - len(inDay); ignored > 0 {
		a.logger.Debug("ignoring slots outside the day", zap.String("day", day.String()), zap.Int("count", ignored))
	}

	byStart := lo.GroupBy(inDay, func(s model.PriceSlot) int64 {
		return s.Start.Unix()
	})
	out := make(map[model.TimeBlock][]decimal.Decimal)
	for _, group := range byStart {
		block := timeblock.Classify(group[0].Start)
		out[block] = append(out[block], mean(lo.Map(group, func(s model.PriceSlot, _ int) decimal.Decimal {
			return s.Price
		})))
	}
	return out
}

func blockForecast(block model.TimeBlock, day model.SourceDay, values []decimal.Decimal) model.BlockForecast {
	bf := model.BlockForecast{
		Block:     block,
		SourceDay: day,
		SlotCount: len(values),
	}
	if len(values) > 0 {
		avg := mean(values)
		bf.AveragePrice = &avg
	}
	return bf
}

func mean(values []decimal.Decimal) decimal.Decimal {
	return decimal.Avg(values[0], values[1:]...)
}
