package core

import (
	"encoding/json"
	"fmt"
	"media-analysis-backend/internal/core/scoring"
	"media-analysis-backend/internal/database"
	"media-analysis-backend/internal/inference"
	"media-analysis-backend/internal/messaging"
	"media-analysis-backend/pkg/api"
	"time"

	"gorm.io/datatypes"
)

func convertInterval(i scoring.Interval) api.Interval {
	return api.Interval{Min: i.Min, Max: i.Max}
}

func convertBand(b *scoring.Band) *api.Band {
	if b == nil {
		return nil
	}
	return &api.Band{
		Good:      convertInterval(b.Good),
		Warn:      convertInterval(b.Warn),
		Bad:       convertInterval(b.Bad),
		Direction: string(b.Direction),
		Unit:      b.Unit,
	}
}

func convertBullets(bullets []scoring.Bullet) []api.ScoreBullet {
	out := make([]api.ScoreBullet, 0, len(bullets))
	for _, b := range bullets {
		out = append(out, api.ScoreBullet{
			Key:       b.Key,
			Label:     b.Label,
			Value:     b.Value,
			Band:      convertBand(b.Band),
			Direction: string(b.Direction),
			Unit:      b.Unit,
			Score:     b.Score,
		})
	}
	return out
}

// resolveBaseline takes the targets echoed by the inference service and fills
// any that are missing from fallback.
func resolveBaseline(speed inference.Speed, fallback scoring.Baseline) scoring.Baseline {
	baseline := fallback
	if speed.TargetFps != nil && *speed.TargetFps > 0 {
		baseline.TargetFps = *speed.TargetFps
	}
	if speed.MaxLatencyMs != nil && *speed.MaxLatencyMs > 0 {
		baseline.MaxLatencyMs = *speed.MaxLatencyMs
	}
	return baseline
}

func newResultRecord(payload messaging.AnalysisTaskPayload, analysis *inference.Analysis, baseline scoring.Baseline, report scoring.Report) (*database.AnalysisResult, error) {
	options, err := json.Marshal(payload.Options)
	if err != nil {
		return nil, fmt.Errorf("error encoding options: %w", err)
	}

	var series datatypes.JSON
	if analysis.Series != nil {
		data, err := json.Marshal(api.Series{
			Values: analysis.Series.Values,
			Min:    analysis.Series.Min,
			Max:    analysis.Series.Max,
		})
		if err != nil {
			return nil, fmt.Errorf("error encoding series: %w", err)
		}
		series = data
	}

	return &database.AnalysisResult{
		TaskId:      payload.TaskId,
		OwnerId:     payload.OwnerId,
		Filename:    payload.Filename,
		ContentType: payload.ContentType,

		Verdict:   analysis.Verdict,
		Mode:      analysis.Mode,
		Detector:  analysis.Detector,
		Options:   options,
		ResultURL: analysis.ResultURL,

		ConfidenceMean:     analysis.Confidence.Mean,
		ConfidenceMedian:   analysis.Confidence.Median,
		ConfidenceMax:      analysis.Confidence.Max,
		ConfidenceVariance: analysis.Confidence.Variance,

		FramesTotal:    analysis.Frames.Total,
		FramesAnalyzed: analysis.Frames.Analyzed,
		ProcessingMs:   analysis.ProcessingMs,

		MeasuredFps: analysis.Speed.MeasuredFps,
		MsPerSample: analysis.Speed.MsPerSample,
		SpeedPassed: analysis.Speed.Passed,

		TemporalDeltaMean: analysis.Stability.TemporalDeltaMean,
		TemporalDeltaStd:  analysis.Stability.TemporalDeltaStd,
		TtaMean:           analysis.Stability.TtaMean,
		TtaStd:            analysis.Stability.TtaStd,

		Series: series,

		BaselineTargetFps:    baseline.TargetFps,
		BaselineMaxLatencyMs: baseline.MaxLatencyMs,

		StabilityScore: report.StabilityScore,
		SpeedScore:     report.SpeedScore,

		CreationTime: time.Now().UTC(),
	}, nil
}

func recordMetrics(r *database.AnalysisResult) scoring.Metrics {
	return scoring.Metrics{
		"confidence_mean":     r.ConfidenceMean,
		"confidence_median":   r.ConfidenceMedian,
		"confidence_max":      r.ConfidenceMax,
		"confidence_variance": r.ConfidenceVariance,
		"measured_fps":        r.MeasuredFps,
		"ms_per_sample":       r.MsPerSample,
		"temporal_delta_mean": r.TemporalDeltaMean,
		"temporal_delta_std":  r.TemporalDeltaStd,
		"tta_mean":            r.TtaMean,
		"tta_std":             r.TtaStd,
		"processing_ms":       r.ProcessingMs,
	}
}

func ConvertResult(r *database.AnalysisResult) (api.AnalysisResult, error) {
	result := api.AnalysisResult{
		TaskId:      r.TaskId,
		OwnerId:     r.OwnerId,
		Filename:    r.Filename,
		ContentType: r.ContentType,

		Verdict:   r.Verdict,
		Mode:      r.Mode,
		Detector:  r.Detector,
		ResultURL: r.ResultURL,

		ConfidenceMean:     r.ConfidenceMean,
		ConfidenceMedian:   r.ConfidenceMedian,
		ConfidenceMax:      r.ConfidenceMax,
		ConfidenceVariance: r.ConfidenceVariance,

		FramesTotal:    r.FramesTotal,
		FramesAnalyzed: r.FramesAnalyzed,
		ProcessingMs:   r.ProcessingMs,

		MeasuredFps: r.MeasuredFps,
		MsPerSample: r.MsPerSample,
		SpeedPassed: r.SpeedPassed,

		TemporalDeltaMean: r.TemporalDeltaMean,
		TemporalDeltaStd:  r.TemporalDeltaStd,
		TtaMean:           r.TtaMean,
		TtaStd:            r.TtaStd,

		Baseline: api.Baseline{
			TargetFps:    r.BaselineTargetFps,
			MaxLatencyMs: r.BaselineMaxLatencyMs,
		},
		StabilityScore: r.StabilityScore,
		SpeedScore:     r.SpeedScore,

		CreationTime: r.CreationTime,
	}

	if len(r.Options) > 0 {
		if err := json.Unmarshal(r.Options, &result.Options); err != nil {
			return api.AnalysisResult{}, fmt.Errorf("error decoding stored options: %w", err)
		}
	}
	if len(r.Series) > 0 {
		var series api.Series
		if err := json.Unmarshal(r.Series, &series); err != nil {
			return api.AnalysisResult{}, fmt.Errorf("error decoding stored series: %w", err)
		}
		result.Series = &series
	}

	return result, nil
}

// BuildReport rebuilds the score bullets for a stored result. Historical
// reports score speed against the baseline snapshotted in the record and keep
// the stored aggregates; live reports rescore everything against the policy's
// current default baseline.
func BuildReport(r *database.AnalysisResult, policy *scoring.Policy, live bool) (*api.AnalysisReport, error) {
	result, err := ConvertResult(r)
	if err != nil {
		return nil, err
	}

	baseline := scoring.Baseline{TargetFps: r.BaselineTargetFps, MaxLatencyMs: r.BaselineMaxLatencyMs}
	if live {
		baseline = policy.DefaultBaseline
	}

	scored := policy.Evaluate(recordMetrics(r), r.Verdict == inference.VerdictFake, baseline)

	report := &api.AnalysisReport{
		Result:         result,
		Stability:      convertBullets(scored.Stability),
		Speed:          convertBullets(scored.Speed),
		StabilityScore: r.StabilityScore,
		SpeedScore:     r.SpeedScore,
		Baseline:       api.Baseline{TargetFps: baseline.TargetFps, MaxLatencyMs: baseline.MaxLatencyMs},
		Live:           live,
	}
	if live {
		report.StabilityScore = scored.StabilityScore
		report.SpeedScore = scored.SpeedScore
	}
	return report, nil
}
