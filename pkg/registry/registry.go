// Package registry tracks remote execution nodes: capability metadata,
// load hints and heartbeat liveness.
package registry

import (
	"context"
	"errors"
	"time"

	"aevrt/pkg/task"
)

// Status is the lifecycle state of a node.
type Status string

const (
	StatusActive Status = "active"
	StatusFailed Status = "failed"
)

// HeartbeatWindow is how recent a heartbeat must be for a node to count as
// available.
const HeartbeatWindow = time.Minute

// Node is a remote execution peer. CurrentLoad is a soft hint in [0,1], never
// a lock: two coordinators may both pick the same least-loaded node.
type Node struct {
	ID            string                `json:"id"`
	Address       string                `json:"address"`
	Status        Status                `json:"status"`
	Capabilities  map[task.Type]float64 `json:"capabilities,omitempty"`
	CurrentLoad   float64               `json:"current_load"`
	LastHeartbeat time.Time             `json:"last_heartbeat"`
}

// Supports reports whether the node declares a capability for typ.
func (n Node) Supports(typ task.Type) bool {
	_, ok := n.Capabilities[typ]
	return ok
}

// ErrNodeNotFound is returned by writes against an unknown node id.
var ErrNodeNotFound = errors.New("registry: node not found")

// Registry is the node registry contract the coordinator consumes.
type Registry interface {
	// Register creates or replaces a node record and stamps its heartbeat.
	Register(ctx context.Context, n Node) error
	// Active returns nodes with StatusActive and a heartbeat within
	// HeartbeatWindow, ordered by ascending load.
	Active(ctx context.Context) ([]Node, error)
	// Get returns a node by id.
	Get(ctx context.Context, id string) (Node, bool, error)
	// SetStatus updates the node status.
	SetStatus(ctx context.Context, id string, st Status) error
	// AddLoad shifts the load hint by delta, clamped to [0,1].
	AddLoad(ctx context.Context, id string, delta float64) error
	// Heartbeat refreshes the node's liveness stamp.
	Heartbeat(ctx context.Context, id string) error
}

func clampLoad(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
