// Package sensors renders forecasts and schedules as output sensor states and
// reads a published schedule back from the host.
package sensors

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
	"github.com/anicoll/agile-charge-planner/internal/pkg/timeblock"
)

const (
	StartTimeObjectID  = "ev_charging_cheapest_start_time"
	EndTimeObjectID    = "ev_charging_cheapest_end_time"
	CostObjectID       = "ev_charging_cheapest_cost"
	IsCheapestObjectID = "ev_charging_is_cheapest_period"

	PriceUnit = "£/kWh"

	iconCurrency = "mdi:currency-gbp"
	iconStart    = "mdi:clock-start"
	iconEnd      = "mdi:clock-end"
	iconCharging = "mdi:ev-station"
	iconOff      = "mdi:power-off"

	deviceClassTimestamp = "timestamp"

	pricePlaces = 4
)

// Attribute keys shared with the schedule sensors the host already knows.
const (
	AttrPeriodStart  = "cheapest_period_start"
	AttrPeriodEnd    = "cheapest_period_end"
	AttrAverageCost  = "cheapest_period_avg_cost"
	AttrTotalCost    = "cheapest_period_total_cost"
	AttrSlots        = "number_of_slots"
	AttrReadyBy      = "ready_by_time"
	AttrCalculatedAt = "calculated_at"
	AttrErrorReason  = "error_reason"
	AttrSourceDay    = "source_day"
	AttrSourceEntity = "source_entity"
)

// StartTimeEntityID is where the previous schedule is read back from.
func StartTimeEntityID() string {
	return string(model.SensorComponent) + "." + StartTimeObjectID
}

func formatPrice(d decimal.Decimal) string {
	return d.StringFixed(pricePlaces)
}

func priceAttr(d decimal.Decimal) float64 {
	return d.Round(pricePlaces).InexactFloat64()
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

// BlockObjectID is like agile_forecast_peak.
func BlockObjectID(block model.TimeBlock) string {
	return "agile_forecast_" + strings.ToLower(block.String())
}

func blockSensor(block model.TimeBlock) model.SensorState {
	return model.SensorState{
		ObjectID:   BlockObjectID(block),
		Component:  model.SensorComponent,
		Name:       "Agile Forecast " + block.String(),
		Icon:       iconCurrency,
		Unit:       PriceUnit,
		Attributes: map[string]any{"block": block.String(), "time_range": timeRange(block)},
	}
}

func timeRange(block model.TimeBlock) string {
	r, ok := timeblock.RangeOf(block)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%02d:%02d-%02d:%02d", r.Start/60, r.Start%60, r.End/60, r.End%60)
}

// BlockForecasts renders one sensor per block, in day order.
func BlockForecasts(forecasts model.BlockForecasts, sourceEntity string) []model.SensorState {
	out := make([]model.SensorState, 0, len(model.TimeBlocks))
	for _, block := range model.TimeBlocks {
		s := blockSensor(block)
		s.Attributes[AttrSourceEntity] = sourceEntity
		bf, ok := forecasts[block]
		if !ok || !bf.Available() {
			s.State = model.StateUnavailable
			s.Attributes[AttrErrorReason] = "no prices in block"
			if ok {
				s.Attributes[AttrSourceDay] = bf.SourceDay.String()
			}
			out = append(out, s)
			continue
		}
		s.State = formatPrice(*bf.AveragePrice)
		s.Attributes[AttrSourceDay] = bf.SourceDay.String()
		s.Attributes["slot_count"] = bf.SlotCount
		out = append(out, s)
	}
	return out
}

// BlocksUnavailable marks every block sensor unavailable.
func BlocksUnavailable(reason, sourceEntity string) []model.SensorState {
	out := make([]model.SensorState, 0, len(model.TimeBlocks))
	for _, block := range model.TimeBlocks {
		s := blockSensor(block)
		s.State = model.StateUnavailable
		s.Attributes[AttrErrorReason] = reason
		s.Attributes[AttrSourceEntity] = sourceEntity
		out = append(out, s)
	}
	return out
}
