package scoring

import (
	"fmt"
	"math"
)

type Direction string

const (
	LowerIsBetter  Direction = "lower-is-better"
	HigherIsBetter Direction = "higher-is-better"
)

// Interval is a closed range. A nil Max is unbounded above.
type Interval struct {
	Min float64  `json:"min"`
	Max *float64 `json:"max"`
}

type Band struct {
	Good      Interval  `json:"good"`
	Warn      Interval  `json:"warn"`
	Bad       Interval  `json:"bad"`
	Direction Direction `json:"direction"`
	Unit      string    `json:"unit,omitempty"`
}

func bound(v float64) *float64 {
	return &v
}

// LowerBand builds [0,good] [good,warn] [warn,inf).
func LowerBand(good, warn float64, unit string) Band {
	return Band{
		Good:      Interval{Min: 0, Max: bound(good)},
		Warn:      Interval{Min: good, Max: bound(warn)},
		Bad:       Interval{Min: warn},
		Direction: LowerIsBetter,
		Unit:      unit,
	}
}

// HigherBand builds [good,inf) [warn,good] [0,warn].
func HigherBand(good, warn float64, unit string) Band {
	return Band{
		Good:      Interval{Min: good},
		Warn:      Interval{Min: warn, Max: bound(good)},
		Bad:       Interval{Min: 0, Max: bound(warn)},
		Direction: HigherIsBetter,
		Unit:      unit,
	}
}

func (b Band) Validate() error {
	switch b.Direction {
	case LowerIsBetter:
		if b.Good.Max == nil || b.Warn.Max == nil {
			return fmt.Errorf("lower-is-better band needs bounded good and warn tiers")
		}
		if b.Good.Min > *b.Good.Max || *b.Good.Max != b.Warn.Min || b.Warn.Min > *b.Warn.Max || *b.Warn.Max != b.Bad.Min {
			return fmt.Errorf("lower-is-better band tiers must be contiguous and ascending: good=%v warn=%v bad=%v", b.Good, b.Warn, b.Bad)
		}
	case HigherIsBetter:
		if b.Bad.Max == nil || b.Warn.Max == nil {
			return fmt.Errorf("higher-is-better band needs bounded bad and warn tiers")
		}
		if b.Bad.Min > *b.Bad.Max || *b.Bad.Max != b.Warn.Min || b.Warn.Min > *b.Warn.Max || *b.Warn.Max != b.Good.Min {
			return fmt.Errorf("higher-is-better band tiers must be contiguous and ascending: bad=%v warn=%v good=%v", b.Bad, b.Warn, b.Good)
		}
	default:
		return fmt.Errorf("unknown band direction %q", b.Direction)
	}
	return nil
}

// ScoreFromBands normalizes value into [0,1]. The second return is false when
// the value or band is missing, in which case the metric must be left out of
// any aggregate rather than counted as zero.
func ScoreFromBands(value *float64, band *Band) (float64, bool) {
	if value == nil || band == nil || math.IsNaN(*value) {
		return 0, false
	}
	v := *value

	switch band.Direction {
	case LowerIsBetter:
		if band.Good.Max == nil || band.Warn.Max == nil {
			return 0, false
		}
		good, warn := *band.Good.Max, *band.Warn.Max
		if v <= good {
			return 1, true
		}
		if v <= warn {
			return clamp01(1 - (v-good)/(warn-good)), true
		}
		return 0, true

	case HigherIsBetter:
		good, warn := band.Good.Min, band.Warn.Min
		if v >= good {
			return 1, true
		}
		if v >= warn {
			return clamp01((v - warn) / (good - warn)), true
		}
		return 0, true
	}

	return 0, false
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
