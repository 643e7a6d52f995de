package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
)

var errAlreadyRegistered = errors.New("publisher already registered")

type publisher interface {
	// Write publishes the sensor states to the adapter.
	Write(ctx context.Context, states []model.SensorState) error
}

// Registry fans sensor states out to every registered publisher and drops
// states that have not changed since they were last published.
type Registry struct {
	mu         sync.RWMutex
	publishers map[string]publisher
	sensors    sync.Map
	logger     *zap.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		publishers: make(map[string]publisher),
		logger:     zap.L(),
	}
}

func (r *Registry) RegisterPublisher(name string, p publisher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.publishers[name]; ok {
		return fmt.Errorf("%w: %s", errAlreadyRegistered, name)
	}
	r.publishers[name] = p
	return nil
}

// Publish writes the changed states to every publisher. A failing publisher
// does not stop the others, and its states are retried on the next call.
func (r *Registry) Publish(ctx context.Context, states []model.SensorState) error {
	changed := lo.Filter(states, func(s model.SensorState, _ int) bool {
		return r.shouldUpdate(s)
	})
	if len(changed) == 0 {
		r.logger.Debug("no sensor changes")
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for name, p := range r.publishers {
		if err := p.Write(ctx, changed); err != nil {
			r.logger.Error("failed to publish data", zap.Error(err), zap.String("publisher", name))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		r.logger.Debug("updated sensors", zap.Int("count", len(changed)), zap.String("publisher", name))
	}
	if len(errs) > 0 {
		for _, s := range changed {
			r.sensors.Delete(s.EntityID())
		}
		return errors.Join(errs...)
	}
	return nil
}

func (r *Registry) shouldUpdate(s model.SensorState) bool {
	key := s.EntityID()
	newValue := fingerprint(s)
	oldValue, exists := r.sensors.Load(key)
	if exists && oldValue.(string) == newValue {
		return false
	}
	if !exists {
		r.logger.Info("configured sensor", zap.String("entity_id", key), zap.String("state", s.State))
	} else {
		r.logger.Info("sensor changed", zap.String("entity_id", key), zap.String("state", s.State))
	}
	r.sensors.Store(key, newValue)
	return true
}

func fingerprint(s model.SensorState) string {
	// encoding/json sorts map keys, so equal attributes give equal bytes.
	attrs, err := json.Marshal(s.Attributes)
	if err != nil {
		return s.State + "\x00" + err.Error()
	}
	return s.State + "\x00" + s.Icon + "\x00" + string(attrs)
}
