// Package schedule picks the cheapest charging window for a car that has to
// be ready by a deadline.
package schedule

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/anicoll/agile-charge-planner/internal/pkg/cheapest"
	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
	"github.com/anicoll/agile-charge-planner/internal/pkg/prices"
)

var ErrNoChargingNeeded = errors.New("no charging needed")

// RequiredSlots rounds hours up to whole slots.
func RequiredSlots(hours float64) (int, error) {
	if math.IsNaN(hours) || math.IsInf(hours, 0) {
		return 0, fmt.Errorf("invalid charging hours %v", hours)
	}
	if hours <= 0 {
		return 0, fmt.Errorf("%w: %v hours requested", ErrNoChargingNeeded, hours)
	}
	return int(math.Ceil(hours / model.SlotDuration.Hours())), nil
}

type Merger interface {
	Merge(actual, predicted model.RawPrices, now time.Time) model.MergedPriceSeries
}

type Planner struct {
	merger Merger
	logger *zap.Logger
}

func NewPlanner(merger Merger, logger *zap.Logger) *Planner {
	return &Planner{
		merger: merger,
		logger: logger,
	}
}

// NewDefaultPlanner plans over a prices.Merger.
func NewDefaultPlanner(logger *zap.Logger) *Planner {
	return NewPlanner(prices.NewMerger(logger), logger)
}

// Plan returns the cheapest window of req.RequiredHours that finishes by
// req.ReadyBy. While a session is running the previous schedule is returned
// as is, so the plan does not move under a charging car.
func (p *Planner) Plan(req model.PlanRequest) (model.ChargingSchedule, error) {
	if req.CurrentlyActive && req.Previous != nil {
		p.logger.Debug("charging session in progress, keeping schedule",
			zap.Time("start", req.Previous.Start),
			zap.Time("end", req.Previous.End),
		)
		return *req.Previous, nil
	}

	slots, err := RequiredSlots(req.RequiredHours)
	if err != nil {
		return model.ChargingSchedule{}, err
	}

	series := p.merger.Merge(req.Actual, req.Predicted, req.Now)
	upcoming := lo.Filter(series, func(s model.PriceSlot, _ int) bool {
		return s.End().After(req.Now)
	})

	sched, err := cheapest.Find(upcoming, slots, req.ReadyBy)
	if err != nil {
		p.logger.Info("no charging window found",
			zap.Int("slots", slots),
			zap.Int("upcoming", len(upcoming)),
			zap.Time("ready_by", req.ReadyBy),
			zap.Error(err),
		)
		return model.ChargingSchedule{}, err
	}
	sched.IsActive = sched.Contains(req.Now)
	sched.CalculatedAt = req.Now

	p.logger.Info("cheapest charging window",
		zap.Time("start", sched.Start),
		zap.Time("end", sched.End),
		zap.String("average", sched.AveragePrice.String()),
		zap.Bool("active", sched.IsActive),
	)
	return sched, nil
}
