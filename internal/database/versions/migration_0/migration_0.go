package migration_0

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AnalysisResult is the first released shape of the results table: no speed
// pass flag and a single-column owner index.
type AnalysisResult struct {
	TaskId      string `gorm:"primaryKey;size:64"`
	OwnerId     string `gorm:"size:128;not null;index"`
	Filename    string
	ContentType string `gorm:"size:128"`

	Verdict   string         `gorm:"size:8;not null"`
	Mode      string         `gorm:"size:16"`
	Detector  string         `gorm:"size:16"`
	Options   datatypes.JSON `gorm:"type:jsonb"`
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

	TemporalDeltaMean *float64
	TemporalDeltaStd  *float64
	TtaMean           *float64
	TtaStd            *float64

	Series datatypes.JSON `gorm:"type:jsonb"`

	BaselineTargetFps    float64 `gorm:"not null;default:0"`
	BaselineMaxLatencyMs float64 `gorm:"not null;default:0"`

	StabilityScore *float64
	SpeedScore     *float64

	CreationTime time.Time `gorm:"not null"`
}

func Migration(db *gorm.DB) error {
	return db.AutoMigrate(&AnalysisResult{})
}
