package database

import (
	"time"

	"gorm.io/datatypes"
)

// AnalysisResult is the persisted outcome of one analysis task. Score bullets
// are not stored; they are rebuilt from these columns on demand.
type AnalysisResult struct {
	TaskId      string `gorm:"primaryKey;size:64"`
	OwnerId     string `gorm:"size:128;not null;index:idx_results_owner_created,priority:1"`
	Filename    string
	ContentType string `gorm:"size:128"`

	Verdict   string         `gorm:"size:8;not null"`
	Mode      string         `gorm:"size:16"`
	Detector  string         `gorm:"size:16"`
	Options   datatypes.JSON `gorm:"type:jsonb"` // {"key": "value"}
	ResultURL string

	ConfidenceMean     *float64
	ConfidenceMedian   *float64
	ConfidenceMax      *float64
	ConfidenceVariance *float64

	FramesTotal    *int
	FramesAnalyzed *int
	ProcessingMs   *float64

	MeasuredFps *float64
	MsPerSample *float64
	SpeedPassed *bool

	TemporalDeltaMean *float64
	TemporalDeltaStd  *float64
	TtaMean           *float64
	TtaStd            *float64

	Series datatypes.JSON `gorm:"type:jsonb"` // {"Values": [...], "Min": 0, "Max": 1}

	// Snapshot of the baseline the speed group was scored against.
	BaselineTargetFps    float64 `gorm:"not null;default:0"`
	BaselineMaxLatencyMs float64 `gorm:"not null;default:0"`

	StabilityScore *float64
	SpeedScore     *float64

	CreationTime time.Time `gorm:"not null;index:idx_results_owner_created,priority:2"`
}
