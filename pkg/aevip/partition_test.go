package aevip

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"aevrt/pkg/registry"
	"aevrt/pkg/task"
)

func makeTiles(n int, typ task.Type) []task.Tile {
	tiles := make([]task.Tile, n)
	for i := range tiles {
		tiles[i] = task.Tile{Index: i, TaskID: "t", Type: typ}
	}
	return tiles
}

func TestRoundRobinDealsInOrder(t *testing.T) {
	nodes := []registry.Node{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	parts := Partition(makeTiles(3, task.TypeImage), nodes, StrategyRoundRobin)
	for _, n := range nodes {
		if len(parts[n.ID]) != 1 {
			t.Fatalf("node %s got %d tiles, want 1", n.ID, len(parts[n.ID]))
		}
	}
	if parts["a"][0].Index != 0 || parts["b"][0].Index != 1 || parts["c"][0].Index != 2 {
		t.Fatal("round robin must deal tiles by index order")
	}
}

func TestCapabilityPicksBestScore(t *testing.T) {
	nodes := []registry.Node{
		{ID: "fast-busy", CurrentLoad: 0.9, Capabilities: map[task.Type]float64{task.TypeImage: 1.0}},
		{ID: "slow-idle", CurrentLoad: 0.0, Capabilities: map[task.Type]float64{task.TypeImage: 0.5}},
	}
	// fast-busy: 0.7*1.0 + 0.3*0.1 = 0.73; slow-idle: 0.7*0.5 + 0.3*1.0 = 0.65
	parts := Partition(makeTiles(2, task.TypeImage), nodes, StrategyCapability)
	if len(parts["fast-busy"]) != 2 {
		t.Fatalf("expected all tiles on fast-busy, got %v", parts)
	}
}

func TestCapabilityFallsBackToLeastLoaded(t *testing.T) {
	nodes := []registry.Node{
		{ID: "busy", CurrentLoad: 0.8},
		{ID: "idle", CurrentLoad: 0.1},
	}
	parts := Partition(makeTiles(1, task.TypeMusic), nodes, StrategyCapability)
	if len(parts["idle"]) != 1 {
		t.Fatalf("unclaimed tile must go to the least-loaded node, got %v", parts)
	}
}

func TestLoadBalancedTracksLocalLoad(t *testing.T) {
	nodes := []registry.Node{
		{ID: "a", CurrentLoad: 0.0},
		{ID: "b", CurrentLoad: 0.15},
	}
	parts := Partition(makeTiles(3, task.TypeLanguage), nodes, StrategyLoadBalanced)
	if len(parts["a"]) != 2 || len(parts["b"]) != 1 {
		t.Fatalf("greedy assignment wrong: a=%d b=%d", len(parts["a"]), len(parts["b"]))
	}
	// planning never writes back to the node structs
	if nodes[0].CurrentLoad != 0.0 || nodes[1].CurrentLoad != 0.15 {
		t.Fatal("partitioning must not mutate node loads")
	}
}

func TestUnknownStrategyFallsBackToRoundRobin(t *testing.T) {
	nodes := []registry.Node{{ID: "a"}, {ID: "b"}}
	parts := Partition(makeTiles(4, task.TypeImage), nodes, Strategy("bogus"))
	if len(parts["a"]) != 2 || len(parts["b"]) != 2 {
		t.Fatalf("fallback deal wrong: %v", parts)
	}
}

func TestPartitionCoversEveryTileExactlyOnce(t *testing.T) {
	strategies := []Strategy{StrategyRoundRobin, StrategyCapability, StrategyLoadBalanced, Strategy("bogus")}
	rapid.Check(t, func(t *rapid.T) {
		nNodes := rapid.IntRange(1, 8).Draw(t, "nodes")
		nTiles := rapid.IntRange(0, 64).Draw(t, "tiles")
		strategy := rapid.SampledFrom(strategies).Draw(t, "strategy")

		known := map[string]bool{}
		nodes := make([]registry.Node, nNodes)
		for i := range nodes {
			id := fmt.Sprintf("n%d", i)
			known[id] = true
			nodes[i] = registry.Node{ID: id, CurrentLoad: rapid.Float64Range(0, 1).Draw(t, "load")}
			if rapid.Bool().Draw(t, "capable") {
				nodes[i].Capabilities = map[task.Type]float64{
					task.TypeImage: rapid.Float64Range(0, 1).Draw(t, "perf"),
				}
			}
		}

		parts := Partition(makeTiles(nTiles, task.TypeImage), nodes, strategy)
		seen := map[int]int{}
		for id, part := range parts {
			if !known[id] {
				t.Fatalf("assignment to unknown node %q", id)
			}
			for _, tl := range part {
				seen[tl.Index]++
			}
		}
		if len(seen) != nTiles {
			t.Fatalf("covered %d of %d tiles", len(seen), nTiles)
		}
		for idx, n := range seen {
			if n != 1 {
				t.Fatalf("tile %d assigned %d times", idx, n)
			}
		}
	})
}
