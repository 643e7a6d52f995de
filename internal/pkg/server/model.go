package server

import (
	"errors"

	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
)

// Service names, as the host calls them.
const (
	UpdateChargingScheduleService = "update_ev_charging_schedule"
	UpdateForecastsService        = "update_agile_forecasts"
)

const StatusSuccess = "success"

var errSensorNotFound = errors.New("sensor not found")

type ServiceResponse struct {
	Service string `json:"service"`
	Status  string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type SensorResponse struct {
	EntityID   string         `json:"entity_id"`
	Name       string         `json:"name"`
	State      string         `json:"state"`
	Unit       string         `json:"unit_of_measurement,omitempty"`
	Icon       string         `json:"icon,omitempty"`
	Attributes map[string]any `json:"attributes"`
}

type SensorsResponse struct {
	Sensors []SensorResponse `json:"sensors"`
}

func toSensorResponse(s model.SensorState) SensorResponse {
	return SensorResponse{
		EntityID:   s.EntityID(),
		Name:       s.Name,
		State:      s.State,
		Unit:       s.Unit,
		Icon:       s.Icon,
		Attributes: s.Attributes,
	}
}

func toSensorResponses(states []model.SensorState) []SensorResponse {
	out := make([]SensorResponse, 0, len(states))
	for _, s := range states {
		out = append(out, toSensorResponse(s))
	}
	return out
}
