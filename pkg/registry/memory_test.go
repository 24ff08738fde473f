package registry

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"aevrt/pkg/task"
)

func TestActiveFiltersAndOrders(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewMemoryRegistry(clock)
	ctx := context.Background()

	_ = r.Register(ctx, Node{ID: "a", Address: "http://a", CurrentLoad: 0.8})
	_ = r.Register(ctx, Node{ID: "b", Address: "http://b", CurrentLoad: 0.1})
	_ = r.Register(ctx, Node{ID: "c", Address: "http://c", CurrentLoad: 0.5})
	_ = r.Register(ctx, Node{ID: "d", Address: "http://d", Status: StatusFailed})

	nodes, err := r.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("expected 3 active nodes, got %d", len(nodes))
	}
	if nodes[0].ID != "b" || nodes[1].ID != "c" || nodes[2].ID != "a" {
		t.Fatalf("expected ascending load order, got %v %v %v", nodes[0].ID, nodes[1].ID, nodes[2].ID)
	}
}

func TestActiveDropsStaleHeartbeat(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewMemoryRegistry(clock)
	ctx := context.Background()

	_ = r.Register(ctx, Node{ID: "a", Address: "http://a"})
	_ = r.Register(ctx, Node{ID: "b", Address: "http://b"})

	clock.Advance(50 * time.Second)
	if err := r.Heartbeat(ctx, "b"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	clock.Advance(20 * time.Second) // a's heartbeat now 70s old, b's 20s

	nodes, err := r.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(nodes) != 1 || nodes[0].ID != "b" {
		t.Fatalf("expected only b alive, got %+v", nodes)
	}
}

func TestAddLoadClamps(t *testing.T) {
	r := NewMemoryRegistry(clockwork.NewFakeClock())
	ctx := context.Background()
	_ = r.Register(ctx, Node{ID: "a", CurrentLoad: 0.9})

	if err := r.AddLoad(ctx, "a", 0.5); err != nil {
		t.Fatalf("add load: %v", err)
	}
	n, ok, _ := r.Get(ctx, "a")
	if !ok || n.CurrentLoad != 1.0 {
		t.Fatalf("expected load clamped to 1.0, got %v", n.CurrentLoad)
	}
	if err := r.AddLoad(ctx, "a", -2); err != nil {
		t.Fatalf("add load: %v", err)
	}
	n, _, _ = r.Get(ctx, "a")
	if n.CurrentLoad != 0 {
		t.Fatalf("expected load clamped to 0, got %v", n.CurrentLoad)
	}
}

func TestSetStatusEvictsFromActive(t *testing.T) {
	r := NewMemoryRegistry(clockwork.NewFakeClock())
	ctx := context.Background()
	_ = r.Register(ctx, Node{ID: "a", Capabilities: map[task.Type]float64{task.TypeImage: 0.9}})

	if err := r.SetStatus(ctx, "a", StatusFailed); err != nil {
		t.Fatalf("set status: %v", err)
	}
	nodes, _ := r.Active(ctx)
	if len(nodes) != 0 {
		t.Fatalf("expected failed node evicted from Active, got %+v", nodes)
	}
	if err := r.SetStatus(ctx, "missing", StatusFailed); err != ErrNodeNotFound {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}
