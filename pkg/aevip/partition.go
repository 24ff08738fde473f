package aevip

import (
	"aevrt/pkg/registry"
	"aevrt/pkg/task"
)

// Strategy selects how tiles are dealt across nodes.
type Strategy string

const (
	StrategyRoundRobin   Strategy = "round_robin"
	StrategyCapability   Strategy = "capability_based"
	StrategyLoadBalanced Strategy = "load_balanced"
)

const (
	capPerfWeight = 0.7
	capLoadWeight = 0.3
	// local per-tile load increment used by the load-balanced planner; never
	// written back to the registry
	planLoadStep = 0.1
)

// Partition assigns tiles to nodes. The union of assigned tile indices always
// equals the input set exactly once; unknown strategies fall back to
// round-robin. Nodes must be non-empty.
func Partition(tiles []task.Tile, nodes []registry.Node, s Strategy) map[string][]task.Tile {
	switch s {
	case StrategyCapability:
		return partitionCapability(tiles, nodes)
	case StrategyLoadBalanced:
		return partitionLoadBalanced(tiles, nodes)
	default:
		return partitionRoundRobin(tiles, nodes)
	}
}

func partitionRoundRobin(tiles []task.Tile, nodes []registry.Node) map[string][]task.Tile {
	out := make(map[string][]task.Tile)
	for i, t := range tiles {
		id := nodes[i%len(nodes)].ID
		out[id] = append(out[id], t)
	}
	return out
}

// partitionCapability picks, per tile, the node declaring the tile's type
// that maximizes 0.7×performance + 0.3×(1−load). Tiles no node declares a
// capability for go to the least-loaded node.
func partitionCapability(tiles []task.Tile, nodes []registry.Node) map[string][]task.Tile {
	out := make(map[string][]task.Tile)
	for _, t := range tiles {
		bestIdx := -1
		bestScore := -1.0
		for i, n := range nodes {
			perf, ok := n.Capabilities[t.Type]
			if !ok {
				continue
			}
			score := capPerfWeight*perf + capLoadWeight*(1-n.CurrentLoad)
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			bestIdx = leastLoaded(nodes)
		}
		id := nodes[bestIdx].ID
		out[id] = append(out[id], t)
	}
	return out
}

// partitionLoadBalanced greedily assigns each tile to the currently
// least-loaded node, tracking load increments locally only. This simulation
// is a planning heuristic and is deliberately not reconciled with the real
// node load.
func partitionLoadBalanced(tiles []task.Tile, nodes []registry.Node) map[string][]task.Tile {
	loads := make([]float64, len(nodes))
	for i, n := range nodes {
		loads[i] = n.CurrentLoad
	}
	out := make(map[string][]task.Tile)
	for _, t := range tiles {
		idx := 0
		for i := 1; i < len(loads); i++ {
			if loads[i] < loads[idx] {
				idx = i
			}
		}
		loads[idx] += planLoadStep
		id := nodes[idx].ID
		out[id] = append(out[id], t)
	}
	return out
}

func leastLoaded(nodes []registry.Node) int {
	idx := 0
	for i := 1; i < len(nodes); i++ {
		if nodes[i].CurrentLoad < nodes[idx].CurrentLoad {
			idx = i
		}
	}
	return idx
}
