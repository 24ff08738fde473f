// Package runtime wires the analyzer, optimizer, and coordinator into a
// single facade. One call takes a raw task through optimization,
// decomposition, scheduling, and execution, then feeds the measured
// latencies back into the learning loop.
package runtime

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"aevrt/pkg/api"
	"aevrt/pkg/config"
	"aevrt/pkg/latency"
	"aevrt/pkg/metrics"
	"aevrt/pkg/optimizer"
	"aevrt/pkg/task"
)

// Options collects the runtime collaborators.
type Options struct {
	Config    config.RuntimeConfig
	Analyzer  *latency.Analyzer
	Optimizer *optimizer.Optimizer
	Metrics   metrics.Store
	Scheduler api.Scheduler
	Executor  api.Executor
	Clock     clockwork.Clock
}

// Runtime is the top-level entry point for task execution.
type Runtime struct {
	cfg   config.RuntimeConfig
	an    *latency.Analyzer
	opt   *optimizer.Optimizer
	store metrics.Store
	sched api.Scheduler
	exec  api.Executor
	clock clockwork.Clock
}

// New validates the collaborators and returns a ready Runtime.
func New(opts Options) (*Runtime, error) {
	if opts.Analyzer == nil || opts.Optimizer == nil {
		return nil, fmt.Errorf("runtime: analyzer and optimizer are required")
	}
	if opts.Scheduler == nil || opts.Executor == nil {
		return nil, fmt.Errorf("runtime: scheduler and executor are required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Runtime{
		cfg:   opts.Config,
		an:    opts.Analyzer,
		opt:   opts.Optimizer,
		store: opts.Metrics,
		sched: opts.Scheduler,
		exec:  opts.Executor,
		clock: clk,
	}, nil
}

// Outcome is the result of one ExecuteTask call.
type Outcome struct {
	Task      task.Task
	Decision  optimizer.Decision
	Results   map[int]task.Result
	LatencyMS float64
}

// ExecuteTask runs the full pipeline for one task. A zero TargetLatencyMS in
// the constraints falls back to the configured max latency.
func (r *Runtime) ExecuteTask(ctx context.Context, t task.Task, c optimizer.Constraints) (Outcome, error) {
	if c.TargetLatencyMS <= 0 {
		c.TargetLatencyMS = r.cfg.MaxLatencyMS
	}

	optimized, decision := r.opt.Optimize(ctx, t, c)
	if !r.cfg.TileSizeOptimization {
		optimized.TileSizeHint = t.TileSizeHint
		decision.TileSize = t.TileSizeHint
	}
	// config default applies only when neither the caller nor the optimizer
	// chose a parallel plan
	if r.cfg.DefaultParallelization == "parallel" &&
		t.Parallel.Degree == 0 && optimized.Parallel.Strategy == task.StrategySequential {
		optimized.Parallel = task.ParallelPlan{Strategy: task.StrategyParallel, Degree: 2}
	}

	tiles, err := r.sched.DecomposeTask(ctx, optimized)
	if err != nil {
		return Outcome{}, fmt.Errorf("decompose task %s: %w", t.ID, err)
	}

	sched, err := r.sched.CreateSchedule(ctx, tiles, api.ScheduleOptions{
		TargetLatencyMS: c.TargetLatencyMS,
		EnablePrefetch:  r.cfg.EnablePrefetch,
		UseAevIP:        r.cfg.EnableAevIP,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("create schedule for task %s: %w", t.ID, err)
	}
	defer func() {
		if err := r.sched.RemoveSchedule(context.WithoutCancel(ctx), sched.ID); err != nil {
			zap.L().Warn("remove schedule",
				zap.String("schedule", sched.ID), zap.Error(err))
		}
		if f, ok := r.exec.(interface{ Forget(string) }); ok {
			f.Forget(sched.ID)
		}
	}()

	results, wallMS, err := r.exec.ExecuteSchedule(ctx, sched)
	if err != nil {
		return Outcome{}, fmt.Errorf("execute schedule %s: %w", sched.ID, err)
	}

	r.feedback(ctx, optimized, sched, tiles, results, wallMS)

	return Outcome{Task: optimized, Decision: decision, Results: results, LatencyMS: wallMS}, nil
}

// feedback records per-tile latencies into the analyzer and appends one
// aggregate metric record per task. Failures here never fail the task.
func (r *Runtime) feedback(ctx context.Context, t task.Task, sched api.Schedule, tiles []task.Tile, results map[int]task.Result, wallMS float64) {
	success := len(tiles) > 0
	for _, tile := range tiles {
		res, ok := results[tile.Index]
		if !ok {
			success = false
			continue
		}
		if !res.Success {
			success = false
		}
		actual := res.LatencyMS
		if actual <= 0 && len(tiles) > 0 {
			actual = wallMS / float64(len(tiles))
		}
		r.an.RecordMeasurement(tile, actual)
	}

	if r.store == nil {
		return
	}
	rec := metrics.Record{
		TaskType:         t.Type,
		Model:            t.Model,
		NumTiles:         len(tiles),
		TileSize:         t.TileSizeHint,
		EstimatedLatency: sched.EstimatedLatency,
		ActualLatency:    wallMS,
		Success:          success,
		Features:         latency.TaskFeatures(t),
		CreatedAt:        r.clock.Now(),
	}
	if err := r.store.Append(ctx, rec); err != nil {
		zap.L().Warn("append metric record",
			zap.String("task", t.ID), zap.Error(err))
	}
}

// Accuracy exposes the analyzer's rolling accuracy report.
func (r *Runtime) Accuracy() latency.AccuracyReport { return r.an.Accuracy() }
