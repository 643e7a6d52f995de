package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SlotDuration is the fixed length of every priced interval.
const SlotDuration = 30 * time.Minute

type Source string

func (s Source) String() string {
	return string(s)
}

const (
	SourceActual    Source = "actual"
	SourcePredicted Source = "predicted"
)

// RawPrice is a timestamp/value pair exactly as it was read from a host entity attribute.
type RawPrice struct {
	Start any `json:"start"`
	Value any `json:"value"`
}

type RawPrices []RawPrice

type PriceSlot struct {
	Start  time.Time       `json:"start"`
	Price  decimal.Decimal `json:"price"`
	Source Source          `json:"source"`
}

// End is the exclusive end of the slot.
func (p PriceSlot) End() time.Time {
	return p.Start.Add(SlotDuration)
}

// MergedPriceSeries is ordered by start with at most one slot per start.
type MergedPriceSeries []PriceSlot

type ChargingSchedule struct {
	Start        time.Time       `json:"start"`
	End          time.Time       `json:"end"`
	AveragePrice decimal.Decimal `json:"average_price"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	SlotCount    int             `json:"slot_count"`
	IsActive     bool            `json:"is_active"`
	ReadyBy      time.Time       `json:"ready_by"`
	CalculatedAt time.Time       `json:"calculated_at"`
}

// Contains reports whether t falls inside [Start, End).
func (c ChargingSchedule) Contains(t time.Time) bool {
	return !t.Before(c.Start) && t.Before(c.End)
}

type PlanRequest struct {
	Actual          RawPrices
	Predicted       RawPrices
	RequiredHours   float64
	ReadyBy         time.Time
	Now             time.Time
	CurrentlyActive bool
	Previous        *ChargingSchedule
}
