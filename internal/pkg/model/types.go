package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TimeBlock string

func (tb TimeBlock) String() string {
	return string(tb)
}

const (
	Nighttime TimeBlock = "Nighttime"
	Morning   TimeBlock = "Morning"
	Afternoon TimeBlock = "Afternoon"
	Peak      TimeBlock = "Peak"
	Evening   TimeBlock = "Evening"
)

// TimeBlocks is every block in day order, starting with the block that wraps midnight.
var TimeBlocks = []TimeBlock{
	Nighttime,
	Morning,
	Afternoon,
	Peak,
	Evening,
}

type SourceDay string

func (sd SourceDay) String() string {
	return string(sd)
}

const (
	Today     SourceDay = "today"
	Yesterday SourceDay = "yesterday"
)

type BlockForecast struct {
	Block        TimeBlock        `json:"block"`
	AveragePrice *decimal.Decimal `json:"average_price"` // nil when no slot fell in the block.
	SourceDay    SourceDay        `json:"source_day"`
	SlotCount    int              `json:"slot_count"`
}

// Available reports whether an average could be computed.
func (bf BlockForecast) Available() bool {
	return bf.AveragePrice != nil
}

type BlockForecasts map[TimeBlock]BlockForecast

// PeriodForecast summarises one 24 hour window that starts at 16:00.
type PeriodForecast struct {
	Label          string                        `json:"label"` // like 24_48h
	Start          time.Time                     `json:"start"`
	End            time.Time                     `json:"end"`
	BlockAverages  map[TimeBlock]decimal.Decimal `json:"block_averages"`
	OverallAverage *decimal.Decimal              `json:"overall_average"`
}

// Complete reports whether every block of the period had data.
func (pf PeriodForecast) Complete() bool {
	return pf.OverallAverage != nil
}
