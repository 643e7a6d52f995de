package publisher

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
)

// Memory keeps the latest state of every sensor for the HTTP API.
type Memory struct {
	mu     sync.RWMutex
	states map[string]model.SensorState
}

func NewMemory() *Memory {
	return &Memory{states: make(map[string]model.SensorState)}
}

func (m *Memory) Write(_ context.Context, states []model.SensorState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range states {
		m.states[s.EntityID()] = s
	}
	return nil
}

func (m *Memory) Get(entityID string) (model.SensorState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[entityID]
	return s, ok
}

// Snapshot returns every sensor ordered by entity id.
func (m *Memory) Snapshot() []model.SensorState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := lo.Values(m.states)
	slices.SortFunc(out, func(a, b model.SensorState) int {
		return strings.Compare(a.EntityID(), b.EntityID())
	})
	return out
}
