// Package api declares the contracts between the runtime core and its
// external collaborators: the scheduler that decomposes tasks, the executor
// that drives schedules, and the per-modality adapters.
package api

import (
	"context"

	"aevrt/pkg/task"
)

// ScheduleOptions tunes schedule creation.
type ScheduleOptions struct {
	TargetLatencyMS float64
	EnablePrefetch  bool
	UseAevIP        bool
}

// Stage is one ordered execution step grouping tiles.
type Stage struct {
	Index  int
	Tiles  []task.Tile
	Remote bool // true when the stage targets remote AevIP execution
}

// Schedule is an ordered set of stages for one task.
type Schedule struct {
	ID               string
	TaskID           string
	Stages           []Stage
	EstimatedLatency float64
	UseAevIP         bool
}

// Scheduler turns an optimized task into tiles and a staged plan. Its
// decomposition heuristics are not part of this core.
type Scheduler interface {
	DecomposeTask(ctx context.Context, t task.Task) ([]task.Tile, error)
	CreateSchedule(ctx context.Context, tiles []task.Tile, opts ScheduleOptions) (Schedule, error)
	RemoveSchedule(ctx context.Context, scheduleID string) error
}

// ExecutionStatus reports progress of a running schedule.
type ExecutionStatus struct {
	ScheduleID string
	Stage      int
	Done       bool
}

// Executor drives a schedule stage by stage and aggregates results.
type Executor interface {
	// ExecuteSchedule runs all stages and returns results keyed by tile
	// index plus the measured wall latency in milliseconds.
	ExecuteSchedule(ctx context.Context, s Schedule) (map[int]task.Result, float64, error)
	// Status returns nil for unknown schedules.
	Status(scheduleID string) *ExecutionStatus
}

// ModalityAdapter translates one tile into a normalized result. Adapters are
// stateless request/response translators and must be safe for concurrent use.
type ModalityAdapter interface {
	Execute(ctx context.Context, t task.Tile) (task.Result, error)
}
