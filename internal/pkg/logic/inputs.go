package logic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
	"github.com/anicoll/agile-charge-planner/internal/pkg/prices"
)

var (
	ErrMissingInput = errors.New("missing input")
	ErrInvalidInput = errors.New("invalid input")
)

// Reasons published on unavailable schedule sensors.
const (
	ReasonHostUnavailable = "Home Assistant unavailable"
	ReasonInvalidReadyBy  = "Invalid 'Ready By' time"
	ReasonReadyByPassed   = "'Ready By' time is not in the future"
	ReasonInvalidHours    = "Invalid required charging hours"
	ReasonNoPrices        = "No price data available"
	ReasonNotEnoughPrices = "Not enough future price data"
	ReasonNoWindow        = "Could not find valid charging block"
)

// reasonError attaches the user facing reason to an input failure.
type reasonError struct {
	reason string
	err    error
}

func (e *reasonError) Error() string {
	return e.reason + ": " + e.err.Error()
}

func (e *reasonError) Unwrap() error {
	return e.err
}

func withReason(reason string, err error) error {
	return &reasonError{reason: reason, err: err}
}

// Attribute layouts of the price entities.
const (
	ratesAttr      = "rates"
	rateStartKey   = "start"
	rateValueKey   = "value_inc_vat"
	predictedAttr  = "prices"
	predictedStart = "date_time"
	predictedValue = "agile_pred"
)

func lookup(states model.EntityStates, entityID string) (model.EntityState, error) {
	state, ok := states[entityID]
	if !ok {
		return model.EntityState{}, fmt.Errorf("%w: entity %s not found", ErrMissingInput, entityID)
	}
	return state, nil
}

// rawPrices reads a list attribute of {startKey, valueKey} objects. Entries
// that are not objects are kept as empty pairs so they are reported as
// malformed further down.
func rawPrices(state model.EntityState, attr, startKey, valueKey string) (model.RawPrices, error) {
	list, ok := state.Attributes[attr].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %s list", ErrMissingInput, state.EntityID, attr)
	}
	out := make(model.RawPrices, 0, len(list))
	for _, item := range list {
		entry, _ := item.(map[string]any)
		out = append(out, model.RawPrice{Start: entry[startKey], Value: entry[valueKey]})
	}
	return out, nil
}

// optionalRates is rawPrices for sources that may not exist yet, such as the
// next day rates before they are published.
func optionalRates(states model.EntityStates, entityID, attr, startKey, valueKey string) model.RawPrices {
	state, ok := states[entityID]
	if !ok {
		return nil
	}
	raws, err := rawPrices(state, attr, startKey, valueKey)
	if err != nil {
		return nil
	}
	return raws
}

func readyBy(states model.EntityStates, entityID string, loc *time.Location) (time.Time, model.EntityState, error) {
	state, err := lookup(states, entityID)
	if err != nil {
		return time.Time{}, state, err
	}
	if !state.HasValue() {
		return time.Time{}, state, fmt.Errorf("%w: %s is %q", ErrMissingInput, entityID, state.State)
	}
	t, err := prices.ParseTime(state.State, loc)
	if err != nil {
		return time.Time{}, state, fmt.Errorf("%w: %s: %v", ErrInvalidInput, entityID, err)
	}
	return t, state, nil
}

func chargingHours(states model.EntityStates, entityID string) (float64, model.EntityState, error) {
	state, err := lookup(states, entityID)
	if err != nil {
		return 0, state, err
	}
	if !state.HasValue() {
		return 0, state, fmt.Errorf("%w: %s is %q", ErrMissingInput, entityID, state.State)
	}
	hours, err := strconv.ParseFloat(strings.TrimSpace(state.State), 64)
	if err != nil {
		return 0, state, fmt.Errorf("%w: %s: %v", ErrInvalidInput, entityID, err)
	}
	return hours, state, nil
}
