// Package logic runs the forecast and charging schedule pipelines against the
// host: read entity states, compute, publish sensors.
package logic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/agile-charge-planner/internal/pkg/cheapest"
	"github.com/anicoll/agile-charge-planner/internal/pkg/config"
	"github.com/anicoll/agile-charge-planner/internal/pkg/forecast"
	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
	"github.com/anicoll/agile-charge-planner/internal/pkg/schedule"
	"github.com/anicoll/agile-charge-planner/internal/pkg/sensors"
)

type stateReader interface {
	States(ctx context.Context) (model.EntityStates, error)
}

type sensorWriter interface {
	Publish(ctx context.Context, states []model.SensorState) error
}

type Service struct {
	mu           sync.Mutex // one pipeline run at a time
	reader       stateReader
	writer       sensorWriter
	entities     config.EntityConfig
	changeWindow time.Duration
	loc          *time.Location
	aggregator   *forecast.Aggregator
	planner      *schedule.Planner
	clock        func() time.Time
	logger       *zap.Logger
}

type Option func(*Service)

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

func New(cfg *config.Config, loc *time.Location, reader stateReader, writer sensorWriter, opts ...Option) *Service {
	logger := zap.L()
	s := &Service{
		reader:       reader,
		writer:       writer,
		entities:     cfg.Entities,
		changeWindow: cfg.Schedule.ChangeWindow,
		loc:          loc,
		aggregator:   forecast.NewAggregator(logger.Named("forecast"), forecast.WithCutoff(cfg.Schedule.Cutoff)),
		planner:      schedule.NewDefaultPlanner(logger.Named("planner")),
		clock:        time.Now,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) now() time.Time {
	return s.clock().In(s.loc)
}

// UpdateForecasts publishes the block forecast for today and the multi day
// horizon. Missing inputs turn into unavailable sensors, only read and
// publish failures are returned.
func (s *Service) UpdateForecasts(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.logger.Info("starting forecast update", zap.Time("now", now))

	states, err := s.reader.States(ctx)
	if err != nil {
		s.logger.Error("failed to read entity states", zap.Error(err))
		out := append(
			sensors.BlocksUnavailable(ReasonHostUnavailable, s.entities.CurrentRates),
			sensors.HorizonUnavailable(ReasonHostUnavailable, s.entities.Predicted)...,
		)
		return errors.Join(fmt.Errorf("read states: %w", err), s.writer.Publish(ctx, out))
	}

	out := append(s.blockSensors(states, now), s.horizonSensors(states, now)...)
	if err := s.writer.Publish(ctx, out); err != nil {
		return fmt.Errorf("publish forecasts: %w", err)
	}
	s.logger.Info("forecast update completed")
	return nil
}

// blockSensors needs both rate entities. A day with no usable entries is
// fine, a missing entity marks every block unavailable.
func (s *Service) blockSensors(states model.EntityStates, now time.Time) []model.SensorState {
	today, err := s.rates(states, s.entities.CurrentRates)
	if err != nil {
		s.logger.Warn("setting block forecasts unavailable", zap.Error(err))
		return sensors.BlocksUnavailable(err.Error(), s.entities.CurrentRates)
	}
	yesterday, err := s.rates(states, s.entities.PreviousRates)
	if err != nil {
		s.logger.Warn("setting block forecasts unavailable", zap.Error(err))
		return sensors.BlocksUnavailable(err.Error(), s.entities.PreviousRates)
	}
	return sensors.BlockForecasts(s.aggregator.Aggregate(today, yesterday, now), s.entities.CurrentRates)
}

func (s *Service) horizonSensors(states model.EntityStates, now time.Time) []model.SensorState {
	state, err := lookup(states, s.entities.Predicted)
	if err != nil {
		s.logger.Warn("setting horizon forecasts unavailable", zap.Error(err))
		return sensors.HorizonUnavailable("source entity not found", s.entities.Predicted)
	}
	predicted, err := rawPrices(state, predictedAttr, predictedStart, predictedValue)
	if err != nil {
		s.logger.Warn("setting horizon forecasts unavailable", zap.Error(err))
		return sensors.HorizonUnavailable("invalid price data", s.entities.Predicted)
	}
	periods, err := s.aggregator.Horizon(predicted, now)
	if err != nil {
		s.logger.Warn("setting horizon forecasts unavailable", zap.Error(err))
		return sensors.HorizonUnavailable(err.Error(), s.entities.Predicted)
	}
	return sensors.Horizon(periods, s.entities.Predicted)
}

func (s *Service) rates(states model.EntityStates, entityID string) (model.RawPrices, error) {
	state, err := lookup(states, entityID)
	if err != nil {
		return nil, err
	}
	return rawPrices(state, ratesAttr, rateStartKey, rateValueKey)
}

// UpdateChargingSchedule publishes the cheapest charging window before the
// ready by time. A window that is already charging is kept unless the inputs
// were just changed.
func (s *Service) UpdateChargingSchedule(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.logger.Info("starting charging schedule update", zap.Time("now", now))

	states, err := s.reader.States(ctx)
	if err != nil {
		s.logger.Error("failed to read entity states", zap.Error(err))
		return errors.Join(
			fmt.Errorf("read states: %w", err),
			s.writer.Publish(ctx, sensors.ScheduleUnavailable(ReasonHostUnavailable, now)),
		)
	}

	req, err := s.planRequest(states, now)
	if err != nil {
		return s.unavailable(ctx, err, now)
	}
	sched, err := s.planner.Plan(req)
	if err != nil {
		return s.unavailable(ctx, err, now)
	}
	if sched.CalculatedAt.IsZero() {
		sched.CalculatedAt = now
	}

	if err := s.writer.Publish(ctx, sensors.Schedule(sched, now)); err != nil {
		return fmt.Errorf("publish schedule: %w", err)
	}
	s.logger.Info("charging schedule update completed",
		zap.Time("start", sched.Start),
		zap.Time("end", sched.End),
		zap.Bool("charging", sched.Contains(now)),
	)
	return nil
}

func (s *Service) unavailable(ctx context.Context, cause error, now time.Time) error {
	reason := reasonFor(cause)
	s.logger.Warn("setting schedule sensors unavailable", zap.String("reason", reason), zap.Error(cause))
	if err := s.writer.Publish(ctx, sensors.ScheduleUnavailable(reason, now)); err != nil {
		return fmt.Errorf("publish unavailable schedule: %w", err)
	}
	return nil
}

func reasonFor(err error) string {
	var re *reasonError
	switch {
	case errors.As(err, &re):
		return re.reason
	case errors.Is(err, cheapest.ErrNotEnoughSlots):
		return ReasonNotEnoughPrices
	case errors.Is(err, cheapest.ErrNoFeasibleSchedule):
		return ReasonNoWindow
	case errors.Is(err, schedule.ErrNoChargingNeeded):
		return ReasonInvalidHours
	}
	return err.Error()
}

func (s *Service) planRequest(states model.EntityStates, now time.Time) (model.PlanRequest, error) {
	readyByAt, readyByState, err := readyBy(states, s.entities.ReadyBy, s.loc)
	if err != nil {
		return model.PlanRequest{}, withReason(ReasonInvalidReadyBy, err)
	}
	if !readyByAt.After(now) {
		return model.PlanRequest{}, withReason(ReasonReadyByPassed,
			fmt.Errorf("%w: ready by %s is before %s", ErrInvalidInput, readyByAt.Format(time.RFC3339), now.Format(time.RFC3339)))
	}
	hours, hoursState, err := chargingHours(states, s.entities.ChargingHours)
	if err != nil {
		return model.PlanRequest{}, withReason(ReasonInvalidHours, err)
	}
	if _, err := schedule.RequiredSlots(hours); err != nil {
		return model.PlanRequest{}, withReason(ReasonInvalidHours, err)
	}

	actual := append(
		optionalRates(states, s.entities.CurrentRates, ratesAttr, rateStartKey, rateValueKey),
		optionalRates(states, s.entities.NextRates, ratesAttr, rateStartKey, rateValueKey)...,
	)
	predicted := optionalRates(states, s.entities.Predicted, predictedAttr, predictedStart, predictedValue)
	if len(actual) == 0 && len(predicted) == 0 {
		return model.PlanRequest{}, withReason(ReasonNoPrices, fmt.Errorf("%w: no rates or predictions", ErrMissingInput))
	}

	req := model.PlanRequest{
		Actual:        actual,
		Predicted:     predicted,
		RequiredHours: hours,
		ReadyBy:       readyByAt,
		Now:           now,
	}
	req.Previous, req.CurrentlyActive = s.session(states, readyByState, hoursState, req)
	return req, nil
}

// session finds the published schedule and whether it is charging right now.
// A running session ends early only when ready by or hours were changed to a
// new value within the change window.
func (s *Service) session(states model.EntityStates, readyByState, hoursState model.EntityState, req model.PlanRequest) (*model.ChargingSchedule, bool) {
	state, ok := states[sensors.StartTimeEntityID()]
	if !ok {
		return nil, false
	}
	prev, err := sensors.ParseSchedule(state, s.loc)
	if err != nil {
		s.logger.Debug("no previous schedule", zap.Error(err))
		return nil, false
	}
	if !prev.Contains(req.Now) {
		return prev, false
	}

	readyByChanged := !prev.ReadyBy.Equal(req.ReadyBy)
	slots, err := schedule.RequiredSlots(req.RequiredHours)
	slotsChanged := err != nil || slots != prev.SlotCount

	since := req.Now.Add(-s.changeWindow)
	readyByRecent := readyByChanged && readyByState.LastChanged.After(since)
	hoursRecent := slotsChanged && hoursState.LastChanged.After(since)
	if readyByRecent || hoursRecent {
		s.logger.Info("inputs changed during charging session, recalculating",
			zap.Bool("ready_by_changed", readyByRecent),
			zap.Bool("hours_changed", hoursRecent),
		)
		return prev, false
	}
	s.logger.Info("charging session in progress, keeping schedule",
		zap.Time("start", prev.Start),
		zap.Time("end", prev.End),
	)
	return prev, true
}
