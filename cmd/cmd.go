package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anicoll/agile-charge-planner/internal/pkg/config"
	"github.com/anicoll/agile-charge-planner/internal/pkg/homeassistant"
	"github.com/anicoll/agile-charge-planner/internal/pkg/logic"
	"github.com/anicoll/agile-charge-planner/internal/pkg/metrics"
	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
	"github.com/anicoll/agile-charge-planner/internal/pkg/mqtt"
	"github.com/anicoll/agile-charge-planner/internal/pkg/publisher"
	"github.com/anicoll/agile-charge-planner/internal/pkg/server"
)

var errFatal = errors.New("fatal pipeline error")

// jobTimeout bounds one scheduled pipeline run.
const jobTimeout = 2 * time.Minute

func ChargePlannerCommand(ctx *cli.Context) error {
	cfg := &config.Config{
		HomeAssistantCfg: &config.HomeAssistantConfig{
			URL:                ctx.String("ha-url"),
			Token:              ctx.String("ha-token"),
			InsecureSkipVerify: ctx.Bool("ha-insecure"),
			Timeout:            ctx.Duration("ha-timeout"),
		},
		MqttCfg: &config.MqttConfig{
			Host:     ctx.String("mqtt-host"),
			Username: ctx.String("mqtt-user"),
			Password: ctx.String("mqtt-pass"),
			ClientID: ctx.String("mqtt-client-id"),
		},
		ListenAddr: ctx.String("listen-addr"),
		LogLevel:   ctx.String("log-level"),
	}
	if err := cfg.LoadEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()
	zap.ReplaceGlobals(logger)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	mqttSvc := mqtt.New(
		mqtt.NewClient(cfg.MqttCfg, cfg.Schedule.DiscoveryTopic, cfg.Schedule.DeviceName),
		cfg.Schedule.DiscoveryTopic,
		cfg.Schedule.DeviceName,
	)
	if err := mqttSvc.Connect(); err != nil {
		return err
	}
	defer mqttSvc.Close()

	memory := publisher.NewMemory()
	registry := publisher.NewRegistry()
	if err := registry.RegisterPublisher("mqtt", mqttSvc); err != nil {
		return err
	}
	if err := registry.RegisterPublisher("memory", memory); err != nil {
		return err
	}

	ha := homeassistant.New(cfg.HomeAssistantCfg)
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	svc, err := metrics.New(logic.New(cfg, loc, ha, registry), promRegistry)
	if err != nil {
		return err
	}

	errorChan := make(chan error, 10)
	return run(ctx.Context, cfg, ha, svc, memory, errorChan, logger, server.WithMetrics(metrics.Handler(promRegistry)))
}

func newLogger(level string) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()
	var err error
	logCfg.Level, err = zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	return logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

type sensorStore interface {
	Get(entityID string) (model.SensorState, bool)
	Snapshot() []model.SensorState
}

func run(ctx context.Context, cfg *config.Config, ha HomeAssistant, svc Pipelines, sensors sensorStore, errorChan chan error, logger *zap.Logger, opts ...server.Option) error {
	eg, ctx := errgroup.WithContext(ctx)

	if err := ha.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		_ = ha.Close()
	}()

	eg.Go(func() error {
		return runSchedules(ctx, cfg, svc, errorChan, logger)
	})

	eg.Go(func() error {
		srv := &http.Server{
			Handler:      server.New(svc, sensors, opts...).Handler(),
			Addr:         cfg.ListenAddr,
			WriteTimeout: 30 * time.Second,
			ReadTimeout:  15 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		// handle any async errors from the jobs
		for {
			select {
			case err := <-errorChan:
				if errors.Is(err, errFatal) {
					logger.Error("stopping on fatal error", zap.Error(err))
					return err
				}
				logger.Warn("job error", zap.Error(err))
			case <-ctx.Done():
				logger.Info("context done")
				return ctx.Err()
			}
		}
	})

	return eg.Wait()
}

// runSchedules runs both pipelines once, then on their cron specs in the
// configured zone until ctx is done.
func runSchedules(ctx context.Context, cfg *config.Config, svc Pipelines, errorChan chan error, logger *zap.Logger) error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{name: server.UpdateForecastsService, spec: cfg.Schedule.ForecastCron, run: svc.UpdateForecasts},
		{name: server.UpdateChargingScheduleService, spec: cfg.Schedule.ChargingCron, run: svc.UpdateChargingSchedule},
	}

	c := cron.New(cron.WithChain(cron.Recover(cronLogger{logger.Sugar()}), cron.SkipIfStillRunning(cronLogger{logger.Sugar()})))
	for _, job := range jobs {
		runJob := func() {
			jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
			defer cancel()
			if err := job.run(jobCtx); err != nil {
				reportJobError(ctx, errorChan, job.name, err)
				return
			}
			logger.Debug("scheduled job completed", zap.String("job", job.name))
		}
		if _, err := c.AddFunc(fmt.Sprintf("CRON_TZ=%s %s", cfg.Schedule.TimeZone, job.spec), runJob); err != nil {
			return fmt.Errorf("schedule %s: %w", job.name, err)
		}
		runJob()
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// reportJobError marks errors a retry cannot fix as fatal.
func reportJobError(ctx context.Context, errorChan chan error, job string, err error) {
	if errors.Is(err, homeassistant.ErrAuthInvalid) || errors.Is(err, homeassistant.ErrTokenExpired) {
		err = errors.Join(errFatal, err)
	}
	select {
	case errorChan <- fmt.Errorf("%s: %w", job, err):
	case <-ctx.Done():
	}
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
