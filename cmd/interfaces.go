package cmd

import (
	"context"
)

// HomeAssistant is the state reader connection that run keeps open.
type HomeAssistant interface {
	Connect(ctx context.Context) error
	Close() error
}

// Pipelines are the jobs run on a schedule and on service calls.
type Pipelines interface {
	UpdateChargingSchedule(ctx context.Context) error
	UpdateForecasts(ctx context.Context) error
}
