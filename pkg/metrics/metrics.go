// Package metrics keeps the append-only execution history used for latency
// prediction and optimization lookups.
package metrics

import (
	"context"
	"time"

	"aevrt/pkg/task"
)

// Record is one historical execution observation. Records are append-only;
// pruning is an external retention concern.
type Record struct {
	TaskType         task.Type          `json:"task_type"`
	Model            string             `json:"model,omitempty"`
	NumTiles         int                `json:"num_tiles"`
	TileSize         int                `json:"tile_size,omitempty"`
	EstimatedLatency float64            `json:"estimated_latency"`
	ActualLatency    float64            `json:"actual_latency"`
	Success          bool               `json:"success"`
	Quality          float64            `json:"quality,omitempty"`
	Features         map[string]float64 `json:"features,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

// Store is the persistence contract the runtime needs. Implementations must
// order reads by recency, newest first.
type Store interface {
	// Append adds one record.
	Append(ctx context.Context, rec Record) error
	// Since returns records for typ created within the window ending now.
	Since(ctx context.Context, typ task.Type, window time.Duration) ([]Record, error)
	// Recent returns up to n latest records; typ == task.TypeUnknown means
	// no type filter.
	Recent(ctx context.Context, typ task.Type, n int) ([]Record, error)
}
