package aevip

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"aevrt/pkg/registry"
	"aevrt/pkg/task"
)

var (
	// ErrNoBackend means the coordinator was constructed without a dispatch
	// client; a hard configuration failure with no fallback.
	ErrNoBackend = errors.New("aevip: no dispatch backend configured")
	// ErrNoActiveNodes means no node is available before any network call.
	ErrNoActiveNodes = errors.New("aevip: no active nodes")
)

const (
	defaultPollInterval   = 100 * time.Millisecond
	defaultMaxTaskTimeout = 60 * time.Second
	defaultHealthInterval = 30 * time.Second
	slowPenalty           = 0.2
	assignLoadStep        = 0.1
)

// Options configures a Coordinator.
type Options struct {
	Secret              string
	Sender              string
	PollInterval        time.Duration
	MaxTaskTimeout      time.Duration
	HealthCheckInterval time.Duration
	Clock               clockwork.Clock
}

// DistributeOptions tunes one distribution call.
type DistributeOptions struct {
	Strategy Strategy
	Timeout  time.Duration // 0 = coordinator default
}

// Coordinator executes tile sets across the node pool with fault tolerance.
// The node cache is the only mutable shared structure: reads may be stale by
// up to the health-check interval, mark-failed invalidates it immediately.
type Coordinator struct {
	reg    registry.Registry
	client Client
	clock  clockwork.Clock
	opts   Options

	mu      sync.Mutex
	cache   []registry.Node
	cacheAt time.Time
	cacheOK bool
}

// NewCoordinator wires the coordinator. A nil client or registry is a hard
// configuration error.
func NewCoordinator(reg registry.Registry, client Client, opts Options) (*Coordinator, error) {
	if reg == nil || client == nil {
		return nil, ErrNoBackend
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxTaskTimeout <= 0 {
		opts.MaxTaskTimeout = defaultMaxTaskTimeout
	}
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = defaultHealthInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Sender == "" {
		opts.Sender = "aevrt-coordinator"
	}
	return &Coordinator{reg: reg, client: client, clock: opts.Clock, opts: opts}, nil
}

// activeNodes returns the cached pool, refreshing when stale or forced.
func (c *Coordinator) activeNodes(ctx context.Context, force bool) ([]registry.Node, error) {
	c.mu.Lock()
	fresh := c.cacheOK && c.clock.Now().Sub(c.cacheAt) < c.opts.HealthCheckInterval
	if fresh && !force {
		nodes := append([]registry.Node(nil), c.cache...)
		c.mu.Unlock()
		return nodes, nil
	}
	c.mu.Unlock()

	nodes, err := c.reg.Active(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cache = nodes
	c.cacheAt = c.clock.Now()
	c.cacheOK = true
	c.mu.Unlock()
	return append([]registry.Node(nil), nodes...), nil
}

func (c *Coordinator) invalidateCache() {
	c.mu.Lock()
	c.cacheOK = false
	c.mu.Unlock()
}

// markFailed evicts a node from the pool and invalidates the cache so the
// next read observes the eviction.
func (c *Coordinator) markFailed(ctx context.Context, nodeID string) {
	if err := c.reg.SetStatus(ctx, nodeID, registry.StatusFailed); err != nil {
		zap.L().Warn("mark failed", zap.String("node", nodeID), zap.Error(err))
	}
	c.invalidateCache()
	zap.L().Info("node marked failed", zap.String("node", nodeID))
}

// markSlow penalizes a slow node's load hint without evicting it.
func (c *Coordinator) markSlow(ctx context.Context, nodeID string) {
	if err := c.reg.AddLoad(ctx, nodeID, slowPenalty); err != nil {
		zap.L().Warn("mark slow", zap.String("node", nodeID), zap.Error(err))
	}
	c.invalidateCache()
	zap.L().Info("node marked slow", zap.String("node", nodeID), zap.Float64("penalty", slowPenalty))
}

// ExecuteTilesOnNode dispatches tiles to one node, polling for results under
// the default timeout. Send failure marks the node failed and retries the
// same tiles on another available node; poll timeout penalizes the node and
// yields timeout-error results. Always returns one result per tile.
func (c *Coordinator) ExecuteTilesOnNode(ctx context.Context, nodeID string, tiles []task.Tile) map[int]task.Result {
	if len(tiles) == 0 {
		return map[int]task.Result{}
	}
	return c.executeWithFailover(ctx, nodeID, tiles, c.opts.MaxTaskTimeout, map[string]bool{})
}

func (c *Coordinator) executeWithFailover(ctx context.Context, nodeID string, tiles []task.Tile, timeout time.Duration, tried map[string]bool) map[int]task.Result {
	tried[nodeID] = true
	node, ok, err := c.reg.Get(ctx, nodeID)
	if err != nil || !ok {
		return c.failover(ctx, tiles, timeout, tried, "node unavailable")
	}

	taskID := tiles[0].TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	pkt := Packet{
		PacketType: PacketTypeTask,
		TaskID:     taskID,
		Tiles:      tiles,
		Options:    WireOptions{TimeoutMS: timeout.Milliseconds()},
		Timestamp:  c.clock.Now().UnixMilli(),
		Sender:     c.opts.Sender,
	}
	body, sig, err := pkt.Encode(c.opts.Secret)
	if err != nil {
		return errorResults(tiles, "encode packet: "+err.Error())
	}

	if err := c.client.Send(ctx, node, body, sig); err != nil {
		zap.L().Warn("dispatch failed", zap.String("node", node.ID), zap.Error(err))
		c.markFailed(ctx, node.ID)
		return c.failover(ctx, tiles, timeout, tried, "send failed")
	}
	// soft assignment hint; decays externally
	if err := c.reg.AddLoad(ctx, node.ID, assignLoadStep); err != nil {
		zap.L().Debug("load hint", zap.String("node", node.ID), zap.Error(err))
	}
	zap.L().Debug("packet dispatched",
		zap.String("node", node.ID),
		zap.String("task", taskID),
		zap.Int("tiles", len(tiles)))

	return c.poll(ctx, node, taskID, tiles, timeout)
}

// failover retries the same tiles on the least-loaded untried node, or
// degrades to uniform timeout-error results when none remain.
func (c *Coordinator) failover(ctx context.Context, tiles []task.Tile, timeout time.Duration, tried map[string]bool, reason string) map[int]task.Result {
	nodes, err := c.activeNodes(ctx, true)
	if err == nil {
		for _, n := range nodes {
			if !tried[n.ID] {
				zap.L().Info("retrying on another node",
					zap.String("node", n.ID),
					zap.String("reason", reason))
				return c.executeWithFailover(ctx, n.ID, tiles, timeout, tried)
			}
		}
	}
	return errorResults(tiles, reason+": no nodes remain")
}

// poll waits for the node's results at the poll interval up to timeout.
func (c *Coordinator) poll(ctx context.Context, node registry.Node, taskID string, tiles []task.Tile, timeout time.Duration) map[int]task.Result {
	deadline := c.clock.Now().Add(timeout)
	for {
		env, done, err := c.client.CheckResult(ctx, node, taskID)
		if err != nil {
			zap.L().Debug("poll error", zap.String("node", node.ID), zap.Error(err))
		}
		if done {
			return mergeResults(tiles, env.Results)
		}
		remaining := deadline.Sub(c.clock.Now())
		if remaining <= 0 {
			break
		}
		wait := c.opts.PollInterval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return errorResults(tiles, "cancelled: "+ctx.Err().Error())
		case <-c.clock.After(wait):
		}
	}
	c.markSlow(ctx, node.ID)
	return errorResults(tiles, "timeout waiting for node "+node.ID)
}

// DistributeTasks partitions tiles across the active pool, dispatches one
// packet per node concurrently, and collects results under a shared timeout
// budget. The result map is keyed by tile index; partial failures never block
// delivery of the successful tiles.
func (c *Coordinator) DistributeTasks(ctx context.Context, tiles []task.Tile, opts DistributeOptions) (map[int]task.Result, error) {
	if len(tiles) == 0 {
		return map[int]task.Result{}, nil
	}
	nodes, err := c.activeNodes(ctx, false)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, ErrNoActiveNodes
	}

	budget := opts.Timeout
	if budget <= 0 {
		budget = c.opts.MaxTaskTimeout
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyRoundRobin
	}
	parts := Partition(tiles, nodes, strategy)
	zap.L().Info("distributing tiles",
		zap.Int("tiles", len(tiles)),
		zap.Int("nodes", len(parts)),
		zap.String("strategy", string(strategy)))

	type nodeResult struct {
		nodeID string
		res    map[int]task.Result
	}
	order := make([]string, 0, len(parts))
	chans := make(map[string]chan nodeResult, len(parts))
	// fire all dispatches before awaiting any, so wall time is bounded by
	// the slowest node rather than the sum
	for _, n := range nodes {
		part, ok := parts[n.ID]
		if !ok {
			continue
		}
		order = append(order, n.ID)
		ch := make(chan nodeResult, 1)
		chans[n.ID] = ch
		go func(id string, assigned []task.Tile) {
			ch <- nodeResult{nodeID: id, res: c.executeWithFailover(ctx, id, assigned, budget, map[string]bool{})}
		}(n.ID, part)
	}

	merged := make(map[int]task.Result, len(tiles))
	deadline := c.clock.Now().Add(budget)
	for _, id := range order {
		remaining := deadline.Sub(c.clock.Now())
		if remaining < 0 {
			remaining = 0
		}
		select {
		case r := <-chans[id]:
			for k, v := range r.res {
				merged[k] = v
			}
		case <-c.clock.After(remaining):
			for _, t := range parts[id] {
				merged[t.Index] = task.ErrorResult(t.Index, "timeout waiting for node "+id)
			}
		case <-ctx.Done():
			for _, t := range parts[id] {
				merged[t.Index] = task.ErrorResult(t.Index, "cancelled: "+ctx.Err().Error())
			}
		}
	}
	return merged, nil
}

func errorResults(tiles []task.Tile, reason string) map[int]task.Result {
	out := make(map[int]task.Result, len(tiles))
	for _, t := range tiles {
		out[t.Index] = task.ErrorResult(t.Index, reason)
	}
	return out
}

// mergeResults fills one slot per tile: reported results by index, error
// slots for anything the node failed to report.
func mergeResults(tiles []task.Tile, reported []task.Result) map[int]task.Result {
	byIdx := make(map[int]task.Result, len(reported))
	for _, r := range reported {
		byIdx[r.TileIndex] = r
	}
	out := make(map[int]task.Result, len(tiles))
	for _, t := range tiles {
		if r, ok := byIdx[t.Index]; ok {
			out[t.Index] = r
		} else {
			out[t.Index] = task.ErrorResult(t.Index, "missing result from node")
		}
	}
	return out
}
