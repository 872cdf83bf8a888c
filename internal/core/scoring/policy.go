package scoring

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v2"
)

const (
	BaselineTargetFps    = "target_fps"
	BaselineMaxLatencyMs = "max_latency_ms"
)

// Metrics holds raw metric values by key. A nil or absent entry is missing.
type Metrics map[string]*float64

// Baseline is the throughput/latency target a task is scored against. It is
// snapshotted into each stored result so later policy edits do not rescore
// historical records.
type Baseline struct {
	TargetFps    float64
	MaxLatencyMs float64
}

func (b Baseline) get(name string) float64 {
	switch name {
	case BaselineTargetFps:
		return b.TargetFps
	case BaselineMaxLatencyMs:
		return b.MaxLatencyMs
	}
	return 0
}

type bandSpec struct {
	Direction Direction `yaml:"direction"`
	Good      float64   `yaml:"good"`
	Warn      float64   `yaml:"warn"`
}

func (s bandSpec) band(unit string, scale float64) Band {
	if s.Direction == HigherIsBetter {
		return HigherBand(s.Good*scale, s.Warn*scale, unit)
	}
	return LowerBand(s.Good*scale, s.Warn*scale, unit)
}

func (s bandSpec) validate(unit string) error {
	if s.Direction != LowerIsBetter && s.Direction != HigherIsBetter {
		return fmt.Errorf("unknown band direction %q", s.Direction)
	}
	return s.band(unit, 1).Validate()
}

type metricSpec struct {
	Key      string `yaml:"key"`
	Label    string `yaml:"label"`
	Unit     string `yaml:"unit"`
	Baseline string `yaml:"baseline"`

	bandSpec `yaml:",inline"`

	// Set only for outcome-dependent metrics.
	Flagged *bandSpec `yaml:"flagged"`
	Benign  *bandSpec `yaml:"benign"`
}

type Policy struct {
	DefaultBaseline Baseline

	stability []metricSpec
	speed     []metricSpec
}

type policyFile struct {
	DefaultBaseline struct {
		TargetFps    float64 `yaml:"target_fps"`
		MaxLatencyMs float64 `yaml:"max_latency_ms"`
	} `yaml:"default_baseline"`
	Stability []metricSpec `yaml:"stability"`
	Speed     []metricSpec `yaml:"speed"`
}

//go:embed policy.yaml
var defaultPolicyYAML []byte

func DefaultPolicy() (*Policy, error) {
	return LoadPolicy(defaultPolicyYAML)
}

func LoadPolicy(data []byte) (*Policy, error) {
	var raw policyFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("error parsing scoring policy: %w", err)
	}

	for _, m := range raw.Stability {
		if m.Flagged != nil || m.Benign != nil {
			if m.Flagged == nil || m.Benign == nil {
				return nil, fmt.Errorf("metric %s: outcome-dependent bands need both flagged and benign", m.Key)
			}
			if err := m.Flagged.validate(m.Unit); err != nil {
				return nil, fmt.Errorf("metric %s (flagged): %w", m.Key, err)
			}
			if err := m.Benign.validate(m.Unit); err != nil {
				return nil, fmt.Errorf("metric %s (benign): %w", m.Key, err)
			}
			continue
		}
		if err := m.validate(m.Unit); err != nil {
			return nil, fmt.Errorf("metric %s: %w", m.Key, err)
		}
	}

	for _, m := range raw.Speed {
		if m.Baseline != BaselineTargetFps && m.Baseline != BaselineMaxLatencyMs {
			return nil, fmt.Errorf("metric %s: unknown baseline %q", m.Key, m.Baseline)
		}
		if err := m.validate(m.Unit); err != nil {
			return nil, fmt.Errorf("metric %s: %w", m.Key, err)
		}
	}

	return &Policy{
		DefaultBaseline: Baseline{
			TargetFps:    raw.DefaultBaseline.TargetFps,
			MaxLatencyMs: raw.DefaultBaseline.MaxLatencyMs,
		},
		stability: raw.Stability,
		speed:     raw.Speed,
	}, nil
}

// StabilityBullets scores the stability group. Outcome-dependent metrics pick
// their band from whether the classification was flagged.
func (p *Policy) StabilityBullets(metrics Metrics, flagged bool) []Bullet {
	bullets := make([]Bullet, 0, len(p.stability))
	for _, m := range p.stability {
		spec := m.bandSpec
		if m.Flagged != nil && m.Benign != nil {
			if flagged {
				spec = *m.Flagged
			} else {
				spec = *m.Benign
			}
		}
		band := spec.band(m.Unit, 1)
		bullets = append(bullets, newBullet(m.Key, m.Label, metrics[m.Key], &band))
	}
	return bullets
}

// SpeedBullets scores the speed group with thresholds scaled by baseline. A
// missing (non-positive) baseline leaves the band undefined.
func (p *Policy) SpeedBullets(metrics Metrics, baseline Baseline) []Bullet {
	bullets := make([]Bullet, 0, len(p.speed))
	for _, m := range p.speed {
		var band *Band
		if scale := baseline.get(m.Baseline); scale > 0 {
			b := m.band(m.Unit, scale)
			band = &b
		}
		bullets = append(bullets, newBullet(m.Key, m.Label, metrics[m.Key], band))
	}
	return bullets
}

type Report struct {
	Stability      []Bullet
	Speed          []Bullet
	StabilityScore *float64
	SpeedScore     *float64
}

func (p *Policy) Evaluate(metrics Metrics, flagged bool, baseline Baseline) Report {
	stability := p.StabilityBullets(metrics, flagged)
	speed := p.SpeedBullets(metrics, baseline)
	return Report{
		Stability:      stability,
		Speed:          speed,
		StabilityScore: Aggregate(stability),
		SpeedScore:     Aggregate(speed),
	}
}
