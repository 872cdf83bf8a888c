package api

import (
	"time"
)

type TaskAccepted struct {
	TaskId string
}

type ActiveTask struct {
	TaskId string
}

type EventType string

const (
	EventProgress EventType = "PROGRESS"
	EventDone     EventType = "DONE"
	EventError    EventType = "ERROR"
)

// Event is the envelope streamed to the submitting client.
type Event struct {
	Type     EventType       `json:"type"`
	TaskId   string          `json:"task_id"`
	Progress *int            `json:"progress,omitempty"`
	Payload  *AnalysisReport `json:"payload,omitempty"`
	Code     string          `json:"code,omitempty"`
}

func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

type Interval struct {
	Min float64
	Max *float64 `json:"Max,omitempty"`
}

type Band struct {
	Good      Interval
	Warn      Interval
	Bad       Interval
	Direction string
	Unit      string `json:"Unit,omitempty"`
}

type ScoreBullet struct {
	Key       string
	Label     string
	Value     *float64
	Band      *Band
	Direction string
	Unit      string `json:"Unit,omitempty"`
	Score     *float64
}

type Baseline struct {
	TargetFps    float64
	MaxLatencyMs float64
}

type Series struct {
	Values []float64
	Min    *float64
	Max    *float64
}

type AnalysisResult struct {
	TaskId      string
	OwnerId     string
	Filename    string
	ContentType string

	Verdict   string
	Mode      string
	Detector  string
	Options   map[string]string
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

	Series *Series `json:"Series,omitempty"`

	Baseline       Baseline
	StabilityScore *float64
	SpeedScore     *float64

	CreationTime time.Time
}

// AnalysisReport is a stored result plus its score bullets. Live reports are
// scored against the current default baseline instead of the stored one.
type AnalysisReport struct {
	Result    AnalysisResult
	Stability []ScoreBullet
	Speed     []ScoreBullet

	StabilityScore *float64
	SpeedScore     *float64

	Baseline Baseline
	Live     bool
}

type ResultParams struct {
	Live bool `schema:"live"`
}
