package logic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/anicoll/agile-charge-planner/internal/pkg/config"
	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
	"github.com/anicoll/agile-charge-planner/internal/pkg/sensors"
)

var london = mustLoad("Europe/London")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

const (
	readyByEntity   = "input_datetime.ev_charger_ready_by"
	hoursEntity     = "input_number.car_charging_hours_required"
	currentEntity   = "event.octopus_energy_current_day_rates"
	nextEntity      = "event.octopus_energy_next_day_rates"
	previousEntity  = "event.octopus_energy_previous_day_rates"
	predictedEntity = "sensor.agile_predict"
)

type fakeReader struct {
	states model.EntityStates
	err    error
}

func (f *fakeReader) States(context.Context) (model.EntityStates, error) {
	return f.states, f.err
}

type fakeWriter struct {
	calls [][]model.SensorState
	err   error
}

func (f *fakeWriter) Publish(_ context.Context, states []model.SensorState) error {
	f.calls = append(f.calls, states)
	return f.err
}

// last returns the most recent publish keyed by entity id.
func (f *fakeWriter) last(t *testing.T) map[string]model.SensorState {
	t.Helper()
	require.NotEmpty(t, f.calls)
	out := map[string]model.SensorState{}
	for _, s := range f.calls[len(f.calls)-1] {
		out[s.EntityID()] = s
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Entities: config.EntityConfig{
			ReadyBy:       readyByEntity,
			ChargingHours: hoursEntity,
			CurrentRates:  currentEntity,
			NextRates:     nextEntity,
			PreviousRates: previousEntity,
			Predicted:     predictedEntity,
		},
		Schedule: config.ScheduleConfig{
			Cutoff:       16 * time.Hour,
			ChangeWindow: time.Minute,
		},
	}
}

func newService(t *testing.T, now time.Time, states model.EntityStates) (*Service, *fakeReader, *fakeWriter) {
	t.Helper()
	zap.ReplaceGlobals(zaptest.NewLogger(t))
	reader := &fakeReader{states: states}
	writer := &fakeWriter{}
	svc := New(testConfig(), london, reader, writer, WithClock(func() time.Time { return now }))
	return svc, reader, writer
}

// dayRates builds a rates attribute for the 48 slots of day, priced by price(slot index).
func dayRates(day time.Time, price func(i int) float64) []any {
	out := make([]any, 0, 48)
	for i := range 48 {
		out = append(out, map[string]any{
			"start":         day.Add(time.Duration(i) * model.SlotDuration).Format(time.RFC3339),
			"end":           day.Add(time.Duration(i+1) * model.SlotDuration).Format(time.RFC3339),
			"value_inc_vat": price(i),
		})
	}
	return out
}

func flat(v float64) func(int) float64 {
	return func(int) float64 { return v }
}

func ratesState(id string, rates []any) model.EntityState {
	return model.EntityState{EntityID: id, State: "unknown", Attributes: map[string]any{"rates": rates}}
}

func inputState(id, state string, changed time.Time) model.EntityState {
	return model.EntityState{EntityID: id, State: state, LastChanged: changed, LastUpdated: changed}
}

var (
	jan15 = time.Date(2024, 1, 15, 0, 0, 0, 0, london)
	jan16 = jan15.AddDate(0, 0, 1)
)

// overnight is cheap 02:00-03:00 and cheaper 03:00-04:00 on the 16th.
func overnight(i int) float64 {
	switch {
	case i == 4 || i == 5:
		return 0.05
	case i == 6 || i == 7:
		return 0.01
	}
	return 0.30
}

func scheduleStates(now time.Time, readyBy, hours string) model.EntityStates {
	hourAgo := now.Add(-time.Hour)
	states := model.EntityStates{}
	for _, s := range []model.EntityState{
		inputState(readyByEntity, readyBy, hourAgo),
		inputState(hoursEntity, hours, hourAgo),
		ratesState(currentEntity, dayRates(jan15, flat(0.30))),
		ratesState(nextEntity, dayRates(jan16, overnight)),
	} {
		states[s.EntityID] = s
	}
	return states
}

// published stores the start sensor of sched the way the host would report it back.
func published(sched model.ChargingSchedule, now time.Time) model.EntityState {
	for _, s := range sensors.Schedule(sched, now) {
		if s.EntityID() == sensors.StartTimeEntityID() {
			return model.EntityState{EntityID: s.EntityID(), State: s.State, Attributes: s.Attributes}
		}
	}
	panic("no start time sensor")
}

func TestUpdateChargingSchedule_PublishesCheapestWindow(t *testing.T) {
	now := jan15.Add(18 * time.Hour)
	svc, _, writer := newService(t, now, scheduleStates(now, "2024-01-16 03:00:00", "1.0"))

	require.NoError(t, svc.UpdateChargingSchedule(context.Background()))

	out := writer.last(t)
	assert.Equal(t, "2024-01-16T02:00:00Z", out["sensor.ev_charging_cheapest_start_time"].State)
	assert.Equal(t, "2024-01-16T03:00:00Z", out["sensor.ev_charging_cheapest_end_time"].State)
	assert.Equal(t, "0.0500", out["sensor.ev_charging_cheapest_cost"].State)
	assert.Equal(t, model.StateOff, out["binary_sensor.ev_charging_is_cheapest_period"].State)

	attrs := out["sensor.ev_charging_cheapest_cost"].Attributes
	assert.Equal(t, 2, attrs[sensors.AttrSlots])
	assert.Equal(t, 0.1, attrs[sensors.AttrTotalCost])
	assert.Equal(t, "2024-01-16T03:00:00Z", attrs[sensors.AttrReadyBy])
	assert.Equal(t, now.Format(time.RFC3339), attrs[sensors.AttrCalculatedAt])
}

func TestUpdateChargingSchedule_UsesLaterWindowWhenAllowed(t *testing.T) {
	now := jan15.Add(18 * time.Hour)
	svc, _, writer := newService(t, now, scheduleStates(now, "2024-01-16 07:00:00", "1"))

	require.NoError(t, svc.UpdateChargingSchedule(context.Background()))

	out := writer.last(t)
	assert.Equal(t, "2024-01-16T03:00:00Z", out["sensor.ev_charging_cheapest_start_time"].State)
	assert.Equal(t, "0.0100", out["sensor.ev_charging_cheapest_cost"].State)
}

func TestUpdateChargingSchedule_Session(t *testing.T) {
	now := jan16.Add(2*time.Hour + 15*time.Minute)
	prev := model.ChargingSchedule{
		Start:        jan16.Add(2 * time.Hour),
		End:          jan16.Add(3 * time.Hour),
		AveragePrice: decimal.RequireFromString("0.05"),
		TotalPrice:   decimal.RequireFromString("0.10"),
		SlotCount:    2,
		ReadyBy:      jan16.Add(7 * time.Hour),
		CalculatedAt: jan15.Add(18 * time.Hour),
	}

	tests := map[string]struct {
		readyBy   string
		hours     string
		changedAt time.Time
		wantStart string
		wantOn    bool
	}{
		"unchanged inputs keep the running window": {
			readyBy:   "2024-01-16 07:00:00",
			hours:     "1",
			changedAt: now.Add(-time.Hour),
			wantStart: "2024-01-16T02:00:00Z",
			wantOn:    true,
		},
		"old change keeps the running window": {
			readyBy:   "2024-01-16 08:00:00",
			hours:     "1",
			changedAt: now.Add(-10 * time.Minute),
			wantStart: "2024-01-16T02:00:00Z",
			wantOn:    true,
		},
		"recent ready by change recalculates": {
			readyBy:   "2024-01-16 08:00:00",
			hours:     "1",
			changedAt: now.Add(-30 * time.Second),
			wantStart: "2024-01-16T03:00:00Z",
		},
		"recent hours change recalculates": {
			readyBy:   "2024-01-16 07:00:00",
			hours:     "0.5",
			changedAt: now.Add(-30 * time.Second),
			wantStart: "2024-01-16T03:00:00Z",
		},
		"recent touch without a new value keeps the running window": {
			readyBy:   "2024-01-16T07:00:00Z",
			hours:     "1.0",
			changedAt: now.Add(-30 * time.Second),
			wantStart: "2024-01-16T02:00:00Z",
			wantOn:    true,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			states := scheduleStates(now, tt.readyBy, tt.hours)
			states[readyByEntity] = inputState(readyByEntity, tt.readyBy, tt.changedAt)
			states[hoursEntity] = inputState(hoursEntity, tt.hours, tt.changedAt)
			states[sensors.StartTimeEntityID()] = published(prev, prev.CalculatedAt)
			svc, _, writer := newService(t, now, states)

			require.NoError(t, svc.UpdateChargingSchedule(context.Background()))

			out := writer.last(t)
			assert.Equal(t, tt.wantStart, out["sensor.ev_charging_cheapest_start_time"].State)
			want := model.StateOff
			if tt.wantOn {
				want = model.StateOn
			}
			assert.Equal(t, want, out["binary_sensor.ev_charging_is_cheapest_period"].State)
		})
	}
}

func TestUpdateChargingSchedule_FinishedSessionRecalculates(t *testing.T) {
	now := jan16.Add(3*time.Hour + 30*time.Minute)
	states := scheduleStates(now, "2024-01-16 07:00:00", "0.5")
	states[sensors.StartTimeEntityID()] = published(model.ChargingSchedule{
		Start:     jan16.Add(2 * time.Hour),
		End:       jan16.Add(3 * time.Hour),
		SlotCount: 2,
		ReadyBy:   jan16.Add(7 * time.Hour),
	}, jan15)
	svc, _, writer := newService(t, now, states)

	require.NoError(t, svc.UpdateChargingSchedule(context.Background()))

	out := writer.last(t)
	assert.Equal(t, "2024-01-16T03:30:00Z", out["sensor.ev_charging_cheapest_start_time"].State)
	assert.Equal(t, model.StateOn, out["binary_sensor.ev_charging_is_cheapest_period"].State)
}

func TestUpdateChargingSchedule_Unavailable(t *testing.T) {
	now := jan15.Add(18 * time.Hour)

	tests := map[string]struct {
		modify func(model.EntityStates)
		reason string
	}{
		"ready by missing": {
			modify: func(s model.EntityStates) { delete(s, readyByEntity) },
			reason: ReasonInvalidReadyBy,
		},
		"ready by unknown": {
			modify: func(s model.EntityStates) { s[readyByEntity] = inputState(readyByEntity, "unknown", now) },
			reason: ReasonInvalidReadyBy,
		},
		"ready by garbage": {
			modify: func(s model.EntityStates) { s[readyByEntity] = inputState(readyByEntity, "tomorrow", now) },
			reason: ReasonInvalidReadyBy,
		},
		"ready by in the past": {
			modify: func(s model.EntityStates) {
				s[readyByEntity] = inputState(readyByEntity, "2024-01-15 17:00:00", now)
			},
			reason: ReasonReadyByPassed,
		},
		"ready by now": {
			modify: func(s model.EntityStates) {
				s[readyByEntity] = inputState(readyByEntity, "2024-01-15 18:00:00", now)
			},
			reason: ReasonReadyByPassed,
		},
		"hours not a number": {
			modify: func(s model.EntityStates) { s[hoursEntity] = inputState(hoursEntity, "lots", now) },
			reason: ReasonInvalidHours,
		},
		"zero hours": {
			modify: func(s model.EntityStates) { s[hoursEntity] = inputState(hoursEntity, "0", now) },
			reason: ReasonInvalidHours,
		},
		"no prices": {
			modify: func(s model.EntityStates) {
				delete(s, currentEntity)
				delete(s, nextEntity)
			},
			reason: ReasonNoPrices,
		},
		"not enough prices": {
			modify: func(s model.EntityStates) {
				delete(s, nextEntity)
				s[hoursEntity] = inputState(hoursEntity, "10", now)
			},
			reason: ReasonNotEnoughPrices,
		},
		"deadline too close": {
			modify: func(s model.EntityStates) {
				s[readyByEntity] = inputState(readyByEntity, "2024-01-15 19:00:00", now)
				s[hoursEntity] = inputState(hoursEntity, "2", now)
			},
			reason: ReasonNoWindow,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			states := scheduleStates(now, "2024-01-16 07:00:00", "1")
			tt.modify(states)
			svc, _, writer := newService(t, now, states)

			require.NoError(t, svc.UpdateChargingSchedule(context.Background()))

			out := writer.last(t)
			require.Len(t, out, 4)
			for id, s := range out {
				assert.Equal(t, model.StateUnavailable, s.State, id)
				assert.Equal(t, tt.reason, s.Attributes[sensors.AttrErrorReason], id)
				assert.Equal(t, now.Format(time.RFC3339), s.Attributes[sensors.AttrCalculatedAt], id)
			}
		})
	}
}

func TestUpdateChargingSchedule_ReadError(t *testing.T) {
	now := jan15.Add(18 * time.Hour)
	svc, reader, writer := newService(t, now, nil)
	reader.err = errors.New("connection refused")

	err := svc.UpdateChargingSchedule(context.Background())
	require.ErrorContains(t, err, "connection refused")

	out := writer.last(t)
	assert.Equal(t, ReasonHostUnavailable, out["sensor.ev_charging_cheapest_cost"].Attributes[sensors.AttrErrorReason])
}

func TestUpdateChargingSchedule_PublishError(t *testing.T) {
	now := jan15.Add(18 * time.Hour)
	svc, _, writer := newService(t, now, scheduleStates(now, "2024-01-16 07:00:00", "1"))
	writer.err = errors.New("broker down")

	err := svc.UpdateChargingSchedule(context.Background())
	assert.ErrorContains(t, err, "broker down")
}

func forecastStates() model.EntityStates {
	predicted := make([]any, 0, 3*48)
	for i := range 3 * 48 {
		predicted = append(predicted, map[string]any{
			"date_time":  jan16.Add(time.Duration(i) * model.SlotDuration).Format(time.RFC3339),
			"agile_pred": 20.0,
		})
	}
	states := model.EntityStates{}
	for _, s := range []model.EntityState{
		ratesState(currentEntity, dayRates(jan15, flat(0.25))),
		ratesState(previousEntity, dayRates(jan15.AddDate(0, 0, -1), flat(0.15))),
		{EntityID: predictedEntity, State: "20.0", Attributes: map[string]any{"prices": predicted}},
	} {
		states[s.EntityID] = s
	}
	return states
}

func TestUpdateForecasts(t *testing.T) {
	tests := map[string]struct {
		now      time.Time
		wantPeak string
		wantDay  string
	}{
		"before the cutoff": {
			now:      jan15.Add(9 * time.Hour),
			wantPeak: "0.1500",
			wantDay:  "yesterday",
		},
		"after the cutoff": {
			now:      jan15.Add(18 * time.Hour),
			wantPeak: "0.2500",
			wantDay:  "today",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			svc, _, writer := newService(t, tt.now, forecastStates())

			require.NoError(t, svc.UpdateForecasts(context.Background()))

			out := writer.last(t)
			require.Len(t, out, len(model.TimeBlocks)+len(sensors.HorizonLabels))
			peak := out["sensor.agile_forecast_peak"]
			assert.Equal(t, tt.wantPeak, peak.State)
			assert.Equal(t, tt.wantDay, peak.Attributes[sensors.AttrSourceDay])
			assert.Equal(t, currentEntity, peak.Attributes[sensors.AttrSourceEntity])
		})
	}
}

func TestUpdateForecasts_Horizon(t *testing.T) {
	now := jan15.Add(18 * time.Hour)
	svc, _, writer := newService(t, now, forecastStates())

	require.NoError(t, svc.UpdateForecasts(context.Background()))

	out := writer.last(t)
	first := out["sensor.agile_forecast_24_48h"]
	assert.Equal(t, "0.2000", first.State)
	assert.Equal(t, "2024-01-17T16:00:00Z", first.Attributes["forecast_period_start"])
	assert.Equal(t, predictedEntity, first.Attributes[sensors.AttrSourceEntity])
	assert.Equal(t, model.StateUnavailable, out["sensor.agile_forecast_48_72h"].State)
}

func TestUpdateForecasts_MissingSources(t *testing.T) {
	now := jan15.Add(18 * time.Hour)
	states := forecastStates()
	delete(states, previousEntity)
	delete(states, predictedEntity)
	svc, _, writer := newService(t, now, states)

	require.NoError(t, svc.UpdateForecasts(context.Background()))

	out := writer.last(t)
	for _, block := range model.TimeBlocks {
		s := out["sensor."+sensors.BlockObjectID(block)]
		assert.Equal(t, model.StateUnavailable, s.State, block)
		assert.Contains(t, s.Attributes[sensors.AttrErrorReason], previousEntity, block)
	}
	for _, label := range sensors.HorizonLabels {
		s := out["sensor.agile_forecast_"+label]
		assert.Equal(t, model.StateUnavailable, s.State, label)
		assert.Equal(t, "source entity not found", s.Attributes[sensors.AttrErrorReason], label)
	}
}

func TestUpdateForecasts_EmptyRates(t *testing.T) {
	states := forecastStates()
	states[currentEntity] = ratesState(currentEntity, []any{})
	states[previousEntity] = ratesState(previousEntity, []any{"garbage"})
	svc, _, writer := newService(t, jan15.Add(18*time.Hour), states)

	require.NoError(t, svc.UpdateForecasts(context.Background()))

	out := writer.last(t)
	for _, block := range model.TimeBlocks {
		s := out["sensor."+sensors.BlockObjectID(block)]
		assert.Equal(t, model.StateUnavailable, s.State, block)
		assert.Equal(t, "no prices in block", s.Attributes[sensors.AttrErrorReason], block)
	}
	assert.Equal(t, "0.2000", out["sensor.agile_forecast_24_48h"].State)
}

func TestUpdateForecasts_ReadError(t *testing.T) {
	svc, reader, writer := newService(t, jan15, nil)
	reader.err = errors.New("auth failed")

	require.Error(t, svc.UpdateForecasts(context.Background()))
	out := writer.last(t)
	assert.Equal(t, ReasonHostUnavailable, out["sensor.agile_forecast_peak"].Attributes[sensors.AttrErrorReason])
}
