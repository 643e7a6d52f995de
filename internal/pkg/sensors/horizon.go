package sensors

import (
	"fmt"
	"strings"

	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
)

// HorizonLabels are the periods published by the horizon sensors.
var HorizonLabels = []string{"24_48h", "48_72h", "72_96h", "96_120h", "120_144h"}

func horizonSensor(label, sourceEntity string) model.SensorState {
	hours := strings.ReplaceAll(strings.TrimSuffix(label, "h"), "_", "-")
	return model.SensorState{
		ObjectID:  "agile_forecast_" + label,
		Component: model.SensorComponent,
		Name:      fmt.Sprintf("Agile Forecast %s Hours", hours),
		Icon:      iconCurrency,
		Unit:      PriceUnit,
		Attributes: map[string]any{
			AttrSourceEntity: sourceEntity,
		},
	}
}

// Horizon renders one sensor per period. Incomplete periods are unavailable
// but still carry the block prices that were found.
func Horizon(periods []model.PeriodForecast, sourceEntity string) []model.SensorState {
	out := make([]model.SensorState, 0, len(periods))
	for _, p := range periods {
		s := horizonSensor(p.Label, sourceEntity)
		for _, block := range model.TimeBlocks {
			key := strings.ToLower(block.String()) + "_price"
			if avg, ok := p.BlockAverages[block]; ok {
				s.Attributes[key] = priceAttr(avg)
			} else {
				s.Attributes[key] = nil
			}
		}
		s.Attributes["forecast_period_start"] = formatTime(p.Start)
		s.Attributes["forecast_period_end"] = formatTime(p.End)
		s.Attributes["all_blocks_present"] = p.Complete()
		if p.Complete() {
			s.State = formatPrice(*p.OverallAverage)
			s.Attributes["overall_average"] = priceAttr(*p.OverallAverage)
		} else {
			s.State = model.StateUnavailable
			s.Attributes["overall_average"] = "N/A"
		}
		out = append(out, s)
	}
	return out
}

func HorizonUnavailable(reason, sourceEntity string) []model.SensorState {
	out := make([]model.SensorState, 0, len(HorizonLabels))
	for _, label := range HorizonLabels {
		s := horizonSensor(label, sourceEntity)
		s.State = model.StateUnavailable
		s.Attributes[AttrErrorReason] = reason
		out = append(out, s)
	}
	return out
}
