package registry

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"aevrt/pkg/memkv"
)

const keyPrefix = "node:"

func keyNode(id string) string { return keyPrefix + id }

// MemoryRegistry stores node docs in the in-memory KV. Entries have no TTL;
// liveness is decided by the heartbeat stamp so a silent node stays visible
// for inspection but drops out of Active.
type MemoryRegistry struct {
	kv    *memkv.Store
	clock clockwork.Clock
}

// NewMemoryRegistry builds a registry over its own KV store.
func NewMemoryRegistry(clock clockwork.Clock) *MemoryRegistry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryRegistry{kv: memkv.New(memkv.Options{Clock: clock}), clock: clock}
}

func (r *MemoryRegistry) Register(_ context.Context, n Node) error {
	if n.Status == "" {
		n.Status = StatusActive
	}
	n.LastHeartbeat = r.clock.Now()
	n.CurrentLoad = clampLoad(n.CurrentLoad)
	b, _ := json.Marshal(n)
	r.kv.Set(keyNode(n.ID), b, 0)
	zap.L().Info("node registered", zap.String("node", n.ID), zap.String("addr", n.Address))
	return nil
}

func (r *MemoryRegistry) Active(_ context.Context) ([]Node, error) {
	cutoff := r.clock.Now().Add(-HeartbeatWindow)
	var out []Node
	for _, k := range r.kv.Keys(keyPrefix) {
		b, ok := r.kv.Get(k)
		if !ok {
			continue
		}
		var n Node
		if err := json.Unmarshal(b, &n); err != nil {
			continue
		}
		if n.Status != StatusActive || n.LastHeartbeat.Before(cutoff) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CurrentLoad != out[j].CurrentLoad {
			return out[i].CurrentLoad < out[j].CurrentLoad
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (Node, bool, error) {
	b, ok := r.kv.Get(keyNode(id))
	if !ok {
		return Node{}, false, nil
	}
	var n Node
	if err := json.Unmarshal(b, &n); err != nil {
		return Node{}, false, nil
	}
	return n, true, nil
}

func (r *MemoryRegistry) SetStatus(_ context.Context, id string, st Status) error {
	return r.update(id, func(n *Node) {
		n.Status = st
	})
}

func (r *MemoryRegistry) AddLoad(_ context.Context, id string, delta float64) error {
	return r.update(id, func(n *Node) {
		n.CurrentLoad = clampLoad(n.CurrentLoad + delta)
	})
}

func (r *MemoryRegistry) Heartbeat(_ context.Context, id string) error {
	return r.update(id, func(n *Node) {
		n.LastHeartbeat = r.clock.Now()
	})
}

func (r *MemoryRegistry) update(id string, fn func(*Node)) error {
	found := false
	r.kv.Update(keyNode(id), func(old []byte) []byte {
		if old == nil {
			return nil
		}
		var n Node
		if err := json.Unmarshal(old, &n); err != nil {
			return old
		}
		fn(&n)
		found = true
		b, _ := json.Marshal(n)
		return b
	})
	if !found {
		return ErrNodeNotFound
	}
	return nil
}
