package sensors

import (
	"errors"
	"fmt"
	"time"

	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
	"github.com/anicoll/agile-charge-planner/internal/pkg/prices"
)

var ErrNoSchedule = errors.New("no published schedule")

func scheduleSensors() []model.SensorState {
	return []model.SensorState{
		{
			ObjectID:    StartTimeObjectID,
			Component:   model.SensorComponent,
			Name:        "EV Charging Cheapest Start Time",
			Icon:        iconStart,
			DeviceClass: deviceClassTimestamp,
		},
		{
			ObjectID:    EndTimeObjectID,
			Component:   model.SensorComponent,
			Name:        "EV Charging Cheapest End Time",
			Icon:        iconEnd,
			DeviceClass: deviceClassTimestamp,
		},
		{
			ObjectID:  CostObjectID,
			Component: model.SensorComponent,
			Name:      "EV Charging Cheapest Block Avg Cost",
			Icon:      iconCurrency,
			Unit:      PriceUnit,
		},
		{
			ObjectID:  IsCheapestObjectID,
			Component: model.BinarySensorComponent,
			Name:      "EV Charging Is Cheapest Period",
			Icon:      iconOff,
		},
	}
}

// Schedule renders the start, end, cost and charging now sensors. Each one
// carries the whole schedule as attributes.
func Schedule(s model.ChargingSchedule, now time.Time) []model.SensorState {
	out := scheduleSensors()
	charging := s.Contains(now)
	for i := range out {
		out[i].Attributes = map[string]any{
			AttrPeriodStart:  formatTime(s.Start),
			AttrPeriodEnd:    formatTime(s.End),
			AttrAverageCost:  priceAttr(s.AveragePrice),
			AttrTotalCost:    priceAttr(s.TotalPrice),
			AttrSlots:        s.SlotCount,
			AttrReadyBy:      formatTime(s.ReadyBy),
			AttrCalculatedAt: formatTime(s.CalculatedAt),
		}
		switch out[i].ObjectID {
		case StartTimeObjectID:
			out[i].State = formatTime(s.Start)
		case EndTimeObjectID:
			out[i].State = formatTime(s.End)
		case CostObjectID:
			out[i].State = formatPrice(s.AveragePrice)
		case IsCheapestObjectID:
			out[i].State = model.StateOff
			if charging {
				out[i].State = model.StateOn
				out[i].Icon = iconCharging
			}
		}
	}
	return out
}

// ScheduleUnavailable marks every schedule sensor, the binary one included,
// unavailable with reason.
func ScheduleUnavailable(reason string, now time.Time) []model.SensorState {
	out := scheduleSensors()
	for i := range out {
		out[i].State = model.StateUnavailable
		out[i].Attributes = map[string]any{
			AttrErrorReason:  reason,
			AttrCalculatedAt: formatTime(now),
		}
	}
	return out
}

// ParseSchedule rebuilds a schedule from the attributes of a published start
// time sensor.
func ParseSchedule(state model.EntityState, loc *time.Location) (*model.ChargingSchedule, error) {
	if !state.HasValue() {
		return nil, fmt.Errorf("%w: %s is %q", ErrNoSchedule, state.EntityID, state.State)
	}
	attrs := state.Attributes
	start, err := prices.ParseTime(attrs[AttrPeriodStart], loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", AttrPeriodStart, err)
	}
	end, err := prices.ParseTime(attrs[AttrPeriodEnd], loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", AttrPeriodEnd, err)
	}
	readyBy, err := prices.ParseTime(attrs[AttrReadyBy], loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", AttrReadyBy, err)
	}
	slots, err := prices.ParseValue(attrs[AttrSlots])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", AttrSlots, err)
	}
	sched := &model.ChargingSchedule{
		Start:     start,
		End:       end,
		SlotCount: int(slots.IntPart()),
		ReadyBy:   readyBy,
	}
	// costs and calculation time are informational only.
	if avg, err := prices.ParseValue(attrs[AttrAverageCost]); err == nil {
		sched.AveragePrice = avg
	}
	if total, err := prices.ParseValue(attrs[AttrTotalCost]); err == nil {
		sched.TotalPrice = total
	}
	if at, err := prices.ParseTime(attrs[AttrCalculatedAt], loc); err == nil {
		sched.CalculatedAt = at
	}
	return sched, nil
}
