package prices

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
)

var ErrMalformedEntry = errors.New("malformed price entry")

var penceInPound = decimal.NewFromInt(100)

// layouts with an explicit offset.
var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04Z07:00",
}

// layouts without an offset are read as wall clock time in the host's zone.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseTime converts a host timestamp into loc.
func ParseTime(v any, loc *time.Location) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, errors.New("zero time")
		}
		return t.In(loc), nil
	case *time.Time:
		if t == nil {
			return time.Time{}, errors.New("nil time")
		}
		return ParseTime(*t, loc)
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range zonedLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.In(loc), nil
			}
		}
		for _, layout := range localLayouts {
			if parsed, err := time.ParseInLocation(layout, s, loc); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("could not parse datetime string %q", t)
	default:
		return time.Time{}, fmt.Errorf("invalid datetime value type %T", v)
	}
}

// ParseValue reads a price from the JSON-ish values hosts put into attributes.
func ParseValue(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero, fmt.Errorf("non finite price %v", n)
		}
		return decimal.NewFromFloat(n), nil
	case float32:
		return ParseValue(float64(n))
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(n))
	case nil:
		return decimal.Zero, errors.New("missing price")
	default:
		return decimal.Zero, fmt.Errorf("invalid price value type %T", v)
	}
}

// ParseSlot validates one raw entry. Failures wrap ErrMalformedEntry.
func ParseSlot(raw model.RawPrice, source model.Source, loc *time.Location) (model.PriceSlot, error) {
	start, err := ParseTime(raw.Start, loc)
	if err != nil {
		return model.PriceSlot{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	if !start.Truncate(model.SlotDuration).Equal(start) {
		return model.PriceSlot{}, fmt.Errorf("%w: %s is not aligned to a slot boundary", ErrMalformedEntry, start.Format(time.RFC3339))
	}
	price, err := ParseValue(raw.Value)
	if err != nil {
		return model.PriceSlot{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	return model.PriceSlot{
		Start:  start,
		Price:  price,
		Source: source,
	}, nil
}

// ParseAll parses every entry it can and returns the failures alongside.
func ParseAll(raws model.RawPrices, source model.Source, loc *time.Location) ([]model.PriceSlot, []error) {
	slots := make([]model.PriceSlot, 0, len(raws))
	var errs []error
	for _, raw := range raws {
		slot, err := ParseSlot(raw, source, loc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		slots = append(slots, slot)
	}
	return slots, errs
}

// PenceToPounds converts a minor unit price to the major unit.
func PenceToPounds(p decimal.Decimal) decimal.Decimal {
	return p.Div(penceInPound)
}
