package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"aevrt/pkg/api"
	"aevrt/pkg/codec"
	"aevrt/pkg/task"
)

// simAdapter is a stand-in modality executor. It sleeps for a duration
// derived from the tile parameters and returns a CBOR-encoded placeholder
// payload. Real deployments swap these for bindings to actual model
// backends.
type simAdapter struct {
	clock clockwork.Clock
	cdc   codec.Codec
	cost  func(tl task.Tile) time.Duration
}

func (a simAdapter) Execute(ctx context.Context, tl task.Tile) (task.Result, error) {
	d := a.cost(tl)
	select {
	case <-ctx.Done():
		return task.Result{}, ctx.Err()
	case <-a.clock.After(d):
	}

	payload, err := a.cdc.Marshal(map[string]any{
		"tile":    tl.Index,
		"task":    tl.TaskID,
		"type":    tl.Type.String(),
		"sim_ms":  d.Milliseconds(),
		"context": len(tl.DependencyCtx),
	})
	if err != nil {
		return task.Result{}, fmt.Errorf("encode payload: %w", err)
	}
	return task.Result{
		TileIndex: tl.Index,
		Success:   true,
		Payload:   payload,
		Encoding:  a.cdc.ContentType(),
		LatencyMS: float64(d.Milliseconds()),
	}, nil
}

// payloadEncoding is the preferred wire encoding for result payloads; the
// codec registry falls back to JSON when it is unavailable.
const payloadEncoding = "application/cbor"

// defaultAdapters wires a simulated executor per modality. Simulated cost
// scales with the tile's work size so the analyzer has something real to
// learn from.
func defaultAdapters(clk clockwork.Clock) map[task.Type]api.ModalityAdapter {
	reg := codec.NewRegistry()
	if c, err := codec.CBOR(); err == nil {
		reg.Register(c)
	}
	cdc := reg.Get(payloadEncoding)
	if cdc == nil {
		cdc = codec.JSON()
	}
	return map[task.Type]api.ModalityAdapter{
		task.TypeLanguage: simAdapter{clock: clk, cdc: cdc, cost: func(tl task.Tile) time.Duration {
			tokens := 0
			if p := tl.Params.Language; p != nil {
				tokens = p.Tokens
			}
			return 20*time.Millisecond + time.Duration(tokens/10)*time.Millisecond
		}},
		task.TypeImage: simAdapter{clock: clk, cdc: cdc, cost: func(tl task.Tile) time.Duration {
			px := 0
			if r := tl.Region; r != nil {
				px = r.W * r.H
			} else if p := tl.Params.Image; p != nil {
				px = p.Width * p.Height
			}
			return 50*time.Millisecond + time.Duration(px/10000)*time.Millisecond
		}},
		task.TypeMusic: simAdapter{clock: clk, cdc: cdc, cost: func(tl task.Tile) time.Duration {
			sec := 0.0
			if p := tl.Params.Music; p != nil {
				sec = p.DurationSec
			}
			return 100*time.Millisecond + time.Duration(sec*20)*time.Millisecond
		}},
	}
}
