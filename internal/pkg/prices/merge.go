// Package prices turns host price attributes into a single chronological
// series of half hour slots.
package prices

import (
	"slices"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
)

type Merger struct {
	logger *zap.Logger
}

func NewMerger(logger *zap.Logger) *Merger {
	return &Merger{logger: logger}
}

// Merge combines actual prices (pounds) with predicted prices (pence).
// Actual slots always win a shared start time. Predicted slots that started
// before now are dropped; past actual slots are kept.
func (m *Merger) Merge(actual, predicted model.RawPrices, now time.Time) model.MergedPriceSeries {
	loc := now.Location()

	actualSlots, errs := ParseAll(actual, model.SourceActual, loc)
	m.logSkipped(model.SourceActual, errs)

	predictedSlots, errs := ParseAll(predicted, model.SourcePredicted, loc)
	m.logSkipped(model.SourcePredicted, errs)

	predictedSlots = lo.Filter(predictedSlots, func(p model.PriceSlot, _ int) bool {
		return !p.Start.Before(now)
	})
	predictedSlots = lo.Map(predictedSlots, func(p model.PriceSlot, _ int) model.PriceSlot {
		p.Price = PenceToPounds(p.Price)
		return p
	})

	byStart := make(map[int64]model.PriceSlot, len(actualSlots)+len(predictedSlots))
	for _, slot := range actualSlots {
		key := slot.Start.Unix()
		if _, exists := byStart[key]; exists {
			continue
		}
		byStart[key] = slot
	}
	for _, slot := range predictedSlots {
		key := slot.Start.Unix()
		if _, exists := byStart[key]; exists {
			continue
		}
		byStart[key] = slot
	}

	series := make(model.MergedPriceSeries, 0, len(byStart))
	for _, slot := range byStart {
		series = append(series, slot)
	}
	slices.SortFunc(series, func(a, b model.PriceSlot) int {
		return a.Start.Compare(b.Start)
	})

	m.logger.Debug("merged price series",
		zap.Int("actual", len(actualSlots)),
		zap.Int("predicted", len(predictedSlots)),
		zap.Int("merged", len(series)),
	)
	return series
}

func (m *Merger) logSkipped(source model.Source, errs []error) {
	for _, err := range errs {
		m.logger.Warn("skipping price entry", zap.String("source", source.String()), zap.Error(err))
	}
}
