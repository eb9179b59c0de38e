package jobs

import "math"

// Presets are the quality/cost tiers a generation runs under. Each maps to
// a fixed billing multiplier; billed tokens are what count against the
// organization budget, raw tokens are kept for audit.
const (
	PresetFast     = "fast"
	PresetBalanced = "balanced"
	PresetQuality  = "quality"
)

var multipliers = map[string]float64{
	PresetFast:     0.5,
	PresetBalanced: 1.0,
	PresetQuality:  2.0,
}

// Multiplier returns the billing multiplier for a preset. Unknown presets
// bill at the balanced rate.
func Multiplier(preset string) float64 {
	if m, ok := multipliers[preset]; ok {
		return m
	}
	return multipliers[PresetBalanced]
}

// BilledTokens scales raw consumption by the preset multiplier, rounded up.
func BilledTokens(rawTotal int64, preset string) int64 {
	return int64(math.Ceil(float64(rawTotal) * Multiplier(preset)))
}
