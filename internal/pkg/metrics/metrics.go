// Package metrics records pipeline runs in Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline labels.
const (
	ChargingSchedulePipeline = "charging_schedule"
	ForecastsPipeline        = "forecasts"
)

const (
	resultSuccess = "success"
	resultError   = "error"
)

type pipelines interface {
	UpdateChargingSchedule(ctx context.Context) error
	UpdateForecasts(ctx context.Context) error
}

// Instrumented wraps the pipelines and counts every run by result.
type Instrumented struct {
	next     pipelines
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	lastRun  *prometheus.GaugeVec
}

// New registers the pipeline metrics on reg. Collectors that are already
// registered are reused.
func New(next pipelines, reg prometheus.Registerer) (*Instrumented, error) {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_pipeline_runs_total",
		Help: "Total number of pipeline runs",
	}, []string{"pipeline", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "planner_pipeline_duration_seconds",
		Help:    "Time taken by one pipeline run",
		Buckets: prometheus.DefBuckets,
	}, []string{"pipeline"})
	lastRun := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "planner_pipeline_last_success_timestamp_seconds",
		Help: "Unix time of the last successful pipeline run",
	}, []string{"pipeline"})

	var err error
	if runs, err = register(reg, runs); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if lastRun, err = register(reg, lastRun); err != nil {
		return nil, err
	}
	return &Instrumented{next: next, runs: runs, duration: duration, lastRun: lastRun}, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (i *Instrumented) UpdateChargingSchedule(ctx context.Context) error {
	return i.observe(ChargingSchedulePipeline, func() error {
		return i.next.UpdateChargingSchedule(ctx)
	})
}

func (i *Instrumented) UpdateForecasts(ctx context.Context) error {
	return i.observe(ForecastsPipeline, func() error {
		return i.next.UpdateForecasts(ctx)
	})
}

func (i *Instrumented) observe(pipeline string, run func() error) error {
	started := time.Now()
	err := run()
	i.duration.WithLabelValues(pipeline).Observe(time.Since(started).Seconds())
	if err != nil {
		i.runs.WithLabelValues(pipeline, resultError).Inc()
		return err
	}
	i.runs.WithLabelValues(pipeline, resultSuccess).Inc()
	i.lastRun.WithLabelValues(pipeline).SetToCurrentTime()
	return nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
