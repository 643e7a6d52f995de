// Package timeblock maps clock times onto the named blocks of the day used for
// price summaries.
package timeblock

import (
	"time"

	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
)

const minutesPerDay = 24 * 60

// Range is a [Start, End) span in minutes after midnight. End is smaller than
// Start when the range wraps past midnight.
type Range struct {
	Block model.TimeBlock
	Start int
	End   int
}

var ranges = []Range{
	{Block: model.Nighttime, Start: 23 * 60, End: 6 * 60},
	{Block: model.Morning, Start: 6 * 60, End: 12 * 60},
	{Block: model.Afternoon, Start: 12 * 60, End: 16 * 60},
	{Block: model.Peak, Start: 16 * 60, End: 20 * 60},
	{Block: model.Evening, Start: 20 * 60, End: 23 * 60},
}

// Ranges returns a copy of the block table.
func Ranges() []Range {
	out := make([]Range, len(ranges))
	copy(out, ranges)
	return out
}

// RangeOf returns the range for block.
func RangeOf(block model.TimeBlock) (Range, bool) {
	for _, r := range ranges {
		if r.Block == block {
			return r, true
		}
	}
	return Range{}, false
}

// Contains checks whether minute is in [Start, End) on a 24h clock.
func (r Range) Contains(minute int) bool {
	if r.Start < r.End {
		return minute >= r.Start && minute < r.End
	}
	// wrap
	return minute >= r.Start || minute < r.End
}

// Duration is the length of the range.
func (r Range) Duration() time.Duration {
	mins := r.End - r.Start
	if mins <= 0 {
		mins += minutesPerDay
	}
	return time.Duration(mins) * time.Minute
}

// Classify returns the block the clock time of t falls in. The date part of t is ignored.
func Classify(t time.Time) model.TimeBlock {
	return ClassifyMinute(t.Hour()*60 + t.Minute())
}

// ClassifyMinute classifies a minute after midnight.
func ClassifyMinute(minute int) model.TimeBlock {
	minute = ((minute % minutesPerDay) + minutesPerDay) % minutesPerDay
	for _, r := range ranges {
		if r.Contains(minute) {
			return r.Block
		}
	}
	// unreachable while the table partitions the day.
	return model.Nighttime
}

// EffectiveDate is midnight of the day whose block t belongs to. Early morning
// slots belong to the night that started on the previous evening.
func EffectiveDate(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	if r, _ := RangeOf(model.Nighttime); t.Hour()*60+t.Minute() < r.End {
		return day.AddDate(0, 0, -1)
	}
	return day
}
