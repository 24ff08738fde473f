package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisNodePrefix = "aevrt:node:"
	redisHBPrefix   = "aevrt:hb:"
)

// RedisRegistry shares one node pool across processes. Node docs are plain
// keys; liveness is a separate key with a TTL of HeartbeatWindow, so an
// expired heartbeat drops the node out of Active without deleting its record.
type RedisRegistry struct {
	rdb *redis.Client
}

// NewRedisRegistry wraps an existing client.
func NewRedisRegistry(rdb *redis.Client) *RedisRegistry {
	return &RedisRegistry{rdb: rdb}
}

func (r *RedisRegistry) Register(ctx context.Context, n Node) error {
	if n.Status == "" {
		n.Status = StatusActive
	}
	n.LastHeartbeat = time.Now()
	n.CurrentLoad = clampLoad(n.CurrentLoad)
	b, _ := json.Marshal(n)
	if err := r.rdb.Set(ctx, redisNodePrefix+n.ID, b, 0).Err(); err != nil {
		return fmt.Errorf("register node %s: %w", n.ID, err)
	}
	if err := r.rdb.Set(ctx, redisHBPrefix+n.ID, "1", HeartbeatWindow).Err(); err != nil {
		return fmt.Errorf("register heartbeat %s: %w", n.ID, err)
	}
	zap.L().Info("node registered", zap.String("node", n.ID), zap.String("addr", n.Address))
	return nil
}

func (r *RedisRegistry) Active(ctx context.Context) ([]Node, error) {
	var out []Node
	iter := r.rdb.Scan(ctx, 0, redisNodePrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		b, err := r.rdb.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var n Node
		if err := json.Unmarshal(b, &n); err != nil {
			continue
		}
		if n.Status != StatusActive {
			continue
		}
		alive, err := r.rdb.Exists(ctx, redisHBPrefix+n.ID).Result()
		if err != nil || alive == 0 {
			continue
		}
		out = append(out, n)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan nodes: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CurrentLoad != out[j].CurrentLoad {
			return out[i].CurrentLoad < out[j].CurrentLoad
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (Node, bool, error) {
	b, err := r.rdb.Get(ctx, redisNodePrefix+id).Bytes()
	if err == redis.Nil {
		return Node{}, false, nil
	}
	if err != nil {
		return Node{}, false, fmt.Errorf("get node %s: %w", id, err)
	}
	var n Node
	if err := json.Unmarshal(b, &n); err != nil {
		return Node{}, false, fmt.Errorf("decode node %s: %w", id, err)
	}
	return n, true, nil
}

func (r *RedisRegistry) SetStatus(ctx context.Context, id string, st Status) error {
	return r.update(ctx, id, func(n *Node) {
		n.Status = st
	})
}

func (r *RedisRegistry) AddLoad(ctx context.Context, id string, delta float64) error {
	return r.update(ctx, id, func(n *Node) {
		n.CurrentLoad = clampLoad(n.CurrentLoad + delta)
	})
}

func (r *RedisRegistry) Heartbeat(ctx context.Context, id string) error {
	n, ok, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNodeNotFound
	}
	n.LastHeartbeat = time.Now()
	b, _ := json.Marshal(n)
	if err := r.rdb.Set(ctx, redisNodePrefix+id, b, 0).Err(); err != nil {
		return fmt.Errorf("heartbeat node %s: %w", id, err)
	}
	return r.rdb.Set(ctx, redisHBPrefix+id, "1", HeartbeatWindow).Err()
}

// update is read-modify-write without a lock: load is a soft hint and status
// transitions are idempotent, so last-writer-wins is acceptable here.
func (r *RedisRegistry) update(ctx context.Context, id string, fn func(*Node)) error {
	n, ok, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNodeNotFound
	}
	fn(&n)
	b, _ := json.Marshal(n)
	if err := r.rdb.Set(ctx, redisNodePrefix+id, b, 0).Err(); err != nil {
		return fmt.Errorf("update node %s: %w", id, err)
	}
	return nil
}
