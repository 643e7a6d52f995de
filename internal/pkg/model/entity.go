package model

import "time"

// EntityState is a snapshot of one host entity.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

type EntityStates map[string]EntityState

// HasValue is false for the placeholder states the host uses when an entity has no reading.
func (e EntityState) HasValue() bool {
	switch e.State {
	case "", "unknown", StateUnavailable, "None":
		return false
	}
	return true
}
