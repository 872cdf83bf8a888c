package inference

import (
	"encoding/base64"
	"fmt"
	"media-analysis-backend/internal/taskerr"
	"strings"
)

const (
	VerdictFake = "FAKE"
	VerdictReal = "REAL"

	ModeImage = "image"
	ModeVideo = "video"
	ModeAuto  = "auto"

	DetectorCNN      = "cnn"
	DetectorViT      = "vit"
	DetectorEnsemble = "ensemble"
)

var (
	knownModes     = map[string]bool{ModeImage: true, ModeVideo: true, ModeAuto: true}
	knownDetectors = map[string]bool{DetectorCNN: true, DetectorViT: true, DetectorEnsemble: true}
)

type Confidence struct {
	Mean     *float64 `json:"mean"`
	Median   *float64 `json:"median"`
	Max      *float64 `json:"max"`
	Variance *float64 `json:"variance"`
}

type Frames struct {
	Total    *int `json:"total"`
	Analyzed *int `json:"analyzed"`
}

type Speed struct {
	MeasuredFps  *float64 `json:"measured_fps"`
	MsPerSample  *float64 `json:"ms_per_sample"`
	TargetFps    *float64 `json:"target_fps"`
	MaxLatencyMs *float64 `json:"max_latency_ms"`
	Passed       *bool    `json:"passed"`
}

type Stability struct {
	TemporalDeltaMean *float64 `json:"temporal_delta_mean"`
	TemporalDeltaStd  *float64 `json:"temporal_delta_std"`
	TtaMean           *float64 `json:"tta_mean"`
	TtaStd            *float64 `json:"tta_std"`
}

type Series struct {
	Values []float64 `json:"values"`
	Min    *float64  `json:"min"`
	Max    *float64  `json:"max"`
}

// Response is the document returned by the inference service.
type Response struct {
	TaskId       string     `json:"task_id"`
	Result       string     `json:"result"`
	Mode         string     `json:"mode"`
	Detector     string     `json:"detector"`
	ResultURL    string     `json:"result_url"`
	ResultImage  string     `json:"result_image"`
	Confidence   Confidence `json:"confidence"`
	Frames       Frames     `json:"frames"`
	ProcessingMs *float64   `json:"processing_ms"`
	Speed        Speed      `json:"speed"`
	Stability    Stability  `json:"stability"`
	Series       *Series    `json:"series"`
}

// Analysis is a validated Response.
type Analysis struct {
	TaskId   string
	Verdict  string
	Mode     string
	Detector string

	// Exactly one of ResultURL and ResultImage is set.
	ResultURL   string
	ResultImage []byte

	Confidence   Confidence
	Frames       Frames
	ProcessingMs *float64
	Speed        Speed
	Stability    Stability
	Series       *Series
}

func (a *Analysis) Flagged() bool {
	return a.Verdict == VerdictFake
}

// Metrics flattens the raw metrics by scoring key.
func (a *Analysis) Metrics() map[string]*float64 {
	return map[string]*float64{
		"confidence_mean":     a.Confidence.Mean,
		"confidence_median":   a.Confidence.Median,
		"confidence_max":      a.Confidence.Max,
		"confidence_variance": a.Confidence.Variance,
		"measured_fps":        a.Speed.MeasuredFps,
		"ms_per_sample":       a.Speed.MsPerSample,
		"temporal_delta_mean": a.Stability.TemporalDeltaMean,
		"temporal_delta_std":  a.Stability.TemporalDeltaStd,
		"tta_mean":            a.Stability.TtaMean,
		"tta_std":             a.Stability.TtaStd,
		"processing_ms":       a.ProcessingMs,
	}
}

func mappingError(format string, args ...any) error {
	return taskerr.Errorf(taskerr.Mapping, "map inference response", format, args...)
}

func resolveEnum(field, value, requested string, known map[string]bool) (string, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		value = strings.ToLower(strings.TrimSpace(requested))
	}
	if value == "" {
		return "", mappingError("missing %s", field)
	}
	if !known[value] {
		return "", mappingError("unrecognized %s %q", field, value)
	}
	return value, nil
}

// Validate maps a raw response to an Analysis. Required fields are the task
// correlation id, the verdict and a result locator. Mode and detector fall back
// to the values that were requested when the response omits them, but values
// outside the known set are rejected rather than defaulted.
func (r *Response) Validate(expectedTaskId string, requested map[string]string) (*Analysis, error) {
	if r.TaskId == "" {
		return nil, mappingError("missing task_id")
	}
	if expectedTaskId != "" && r.TaskId != expectedTaskId {
		return nil, mappingError("task_id %q does not match request %q", r.TaskId, expectedTaskId)
	}

	verdict := strings.ToUpper(strings.TrimSpace(r.Result))
	switch verdict {
	case VerdictFake, VerdictReal:
	case "":
		return nil, mappingError("missing result")
	default:
		return nil, mappingError("unrecognized result %q", r.Result)
	}

	mode, err := resolveEnum("mode", r.Mode, requested["mode"], knownModes)
	if err != nil {
		return nil, err
	}
	detector, err := resolveEnum("detector", r.Detector, requested["detector"], knownDetectors)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{
		TaskId:       r.TaskId,
		Verdict:      verdict,
		Mode:         mode,
		Detector:     detector,
		ResultURL:    r.ResultURL,
		Confidence:   r.Confidence,
		Frames:       r.Frames,
		ProcessingMs: r.ProcessingMs,
		Speed:        r.Speed,
		Stability:    r.Stability,
		Series:       r.Series,
	}

	if r.ResultURL == "" {
		if r.ResultImage == "" {
			return nil, mappingError("missing result_url and result_image")
		}
		image, err := decodeImage(r.ResultImage)
		if err != nil {
			return nil, mappingError("invalid result_image: %v", err)
		}
		analysis.ResultImage = image
	}

	if s := r.Series; s != nil && s.Min != nil && s.Max != nil && *s.Min > *s.Max {
		return nil, mappingError("series range min %v exceeds max %v", *s.Min, *s.Max)
	}

	return analysis, nil
}

// decodeImage accepts plain base64 or a data: URI.
func decodeImage(encoded string) ([]byte, error) {
	if strings.HasPrefix(encoded, "data:") {
		_, after, ok := strings.Cut(encoded, ",")
		if !ok {
			return nil, fmt.Errorf("malformed data uri")
		}
		encoded = after
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	return data, nil
}
