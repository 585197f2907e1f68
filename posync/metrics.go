// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posync

import (
	"context"
	"time"
)

// Apply stages reported to StageMetricsRecorder
const (
	MetricsStageValidate = "validate" // request rejected before touching the database
	MetricsStageApply    = "apply_tx" // one transaction attempt
	MetricsStageTotal    = "total"    // the whole Apply call, retries included
)

// StageTiming is one observation of an Apply stage
type StageTiming struct {
	Stage    string
	Table    string
	Op       string
	Duration time.Duration
	Attempt  int
	Error    bool
	Replayed bool
}

// StageMetricsRecorder receives stage timings (Prometheus, OpenTelemetry, tests)
type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

// stageTimer measures one stage of one request. The zero value is disabled.
type stageTimer struct {
	s     *ApplyService
	req   *ApplyRequest
	stage string
	start time.Time
}

// startStage returns an enabled timer only when a sink is configured
func (s *ApplyService) startStage(stage string, req *ApplyRequest) stageTimer {
	if s.config.StageMetrics == nil && !s.config.LogStageTimings {
		return stageTimer{}
	}
	return stageTimer{s: s, req: req, stage: stage, start: time.Now()}
}

func (t stageTimer) enabled() bool { return t.s != nil }

// done reports the stage. resp may be nil.
func (t stageTimer) done(ctx context.Context, attempt int, resp *ApplyResponse, err error) {
	if !t.enabled() {
		return
	}
	timing := StageTiming{
		Stage:    t.stage,
		Table:    t.req.Table,
		Op:       t.req.Op,
		Duration: time.Since(t.start),
		Attempt:  attempt,
		Error:    err != nil || (resp != nil && resp.Status == StRejected),
		Replayed: resp != nil && resp.Replayed,
	}
	if sink := t.s.config.StageMetrics; sink != nil {
		sink.ObserveStage(ctx, timing)
	}
	if t.s.config.LogStageTimings {
		t.s.logger.Debug("Apply stage",
			"stage", timing.Stage,
			"table", timing.Table,
			"op", timing.Op,
			"duration", timing.Duration,
			"attempt", timing.Attempt,
			"error", timing.Error,
			"replayed", timing.Replayed)
	}
}
