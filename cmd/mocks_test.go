package cmd

import (
	"context"
	"sync/atomic"
)

// MockHomeAssistant is a mock implementation of the HomeAssistant interface.
type MockHomeAssistant struct {
	ConnectFunc func(ctx context.Context) error
	closed      atomic.Bool
}

func (m *MockHomeAssistant) Connect(ctx context.Context) error {
	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx)
	}
	return nil
}

func (m *MockHomeAssistant) Close() error {
	m.closed.Store(true)
	return nil
}

// MockPipelines counts runs and returns the configured errors.
type MockPipelines struct {
	UpdateChargingScheduleFunc func(ctx context.Context) error
	UpdateForecastsFunc        func(ctx context.Context) error
	scheduleRuns               atomic.Int32
	forecastRuns               atomic.Int32
}

func (m *MockPipelines) UpdateChargingSchedule(ctx context.Context) error {
	m.scheduleRuns.Add(1)
	if m.UpdateChargingScheduleFunc != nil {
		return m.UpdateChargingScheduleFunc(ctx)
	}
	return nil
}

func (m *MockPipelines) UpdateForecasts(ctx context.Context) error {
	m.forecastRuns.Add(1)
	if m.UpdateForecastsFunc != nil {
		return m.UpdateForecastsFunc(ctx)
	}
	return nil
}
