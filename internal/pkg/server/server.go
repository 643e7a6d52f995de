package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
)

type pipelines interface {
	UpdateChargingSchedule(ctx context.Context) error
	UpdateForecasts(ctx context.Context) error
}

type sensorStore interface {
	Get(entityID string) (model.SensorState, bool)
	Snapshot() []model.SensorState
}

type server struct {
	svc     pipelines
	sensors sensorStore
	metrics http.Handler
	logger  *zap.Logger
}

type Option func(*server)

// WithMetrics serves h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *server) {
		s.metrics = h
	}
}

func New(svc pipelines, sensors sensorStore, opts ...Option) *server {
	s := &server{svc: svc, sensors: sensors, logger: zap.L()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler routes the service calls and the sensor read API.
func (s *server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(LoggingMiddleware(), ErrorHandler())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}
	router.GET("/sensors", s.listSensors)
	router.GET("/sensors/:entity_id", s.getSensor)

	services := router.Group("/services")
	services.POST("/"+UpdateChargingScheduleService, s.call(UpdateChargingScheduleService, s.svc.UpdateChargingSchedule))
	services.POST("/"+UpdateForecastsService, s.call(UpdateForecastsService, s.svc.UpdateForecasts))

	return cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler(router)
}

func (s *server) call(service string, run func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		if err := run(c.Request.Context()); err != nil {
			s.logger.Error("service call failed", zap.String("service", service), zap.Error(err))
			handleError(c, http.StatusInternalServerError, err)
			return
		}
		s.logger.Info("service call completed", zap.String("service", service), zap.Duration("took", time.Since(started)))
		c.JSON(http.StatusOK, ServiceResponse{Service: service, Status: StatusSuccess})
	}
}

func (s *server) listSensors(c *gin.Context) {
	c.JSON(http.StatusOK, SensorsResponse{Sensors: toSensorResponses(s.sensors.Snapshot())})
}

func (s *server) getSensor(c *gin.Context) {
	state, ok := s.sensors.Get(c.Param("entity_id"))
	if !ok {
		handleError(c, http.StatusNotFound, errSensorNotFound)
		return
	}
	c.JSON(http.StatusOK, toSensorResponse(state))
}

func handleError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error()})
}
