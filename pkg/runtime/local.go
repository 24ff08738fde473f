package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"aevrt/pkg/aevip"
	"aevrt/pkg/api"
	"aevrt/pkg/latency"
	"aevrt/pkg/memkv"
	"aevrt/pkg/task"
)

const (
	scheduleTTL       = 10 * time.Minute
	musicSegmentSec   = 10
	defaultImageTile  = 512
	maxLanguageSplit  = 4
	minTokensPerSplit = 256
)

// LocalScheduler is a straightforward in-process Scheduler. Schedules are
// kept in a TTL store so abandoned ones age out on their own.
type LocalScheduler struct {
	an    *latency.Analyzer
	store *memkv.Store
}

// NewLocalScheduler returns a scheduler that estimates stage latency via the
// analyzer. The analyzer may be nil; estimates are then zero.
func NewLocalScheduler(an *latency.Analyzer) *LocalScheduler {
	return &LocalScheduler{
		an:    an,
		store: memkv.New(memkv.Options{JanitorInterval: time.Minute}),
	}
}

// Close releases the backing store.
func (s *LocalScheduler) Close() { s.store.Close() }

// DecomposeTask splits a task into tiles according to its type and the
// optimizer's hints.
func (s *LocalScheduler) DecomposeTask(_ context.Context, t task.Task) ([]task.Tile, error) {
	switch t.Type {
	case task.TypeImage:
		return decomposeImage(t), nil
	case task.TypeMusic:
		return decomposeMusic(t), nil
	case task.TypeLanguage:
		return decomposeLanguage(t), nil
	default:
		return nil, fmt.Errorf("decompose: unsupported task type %s", t.Type)
	}
}

func baseTile(t task.Task, index int) task.Tile {
	return task.Tile{
		Index:    index,
		TaskID:   t.ID,
		Type:     t.Type,
		Model:    t.Model,
		Priority: t.Priority,
		Params:   t.Params,
	}
}

// decomposeImage cuts the frame into a grid of TileSizeHint squares. Edge
// tiles shrink to fit.
func decomposeImage(t task.Task) []task.Tile {
	p := t.Params.Image
	if p == nil {
		return []task.Tile{baseTile(t, 0)}
	}
	size := t.TileSizeHint
	if size <= 0 {
		size = defaultImageTile
	}
	var tiles []task.Tile
	idx := 0
	for y := 0; y < p.Height; y += size {
		for x := 0; x < p.Width; x += size {
			tl := baseTile(t, idx)
			tl.Region = &task.Region{
				X: x, Y: y,
				W: min(size, p.Width-x),
				H: min(size, p.Height-y),
			}
			tiles = append(tiles, tl)
			idx++
		}
	}
	if len(tiles) == 0 {
		tiles = append(tiles, baseTile(t, 0))
	}
	return tiles
}

// decomposeMusic cuts the track into fixed-length segments. Every segment
// after the first depends on its predecessor for continuity.
func decomposeMusic(t task.Task) []task.Tile {
	p := t.Params.Music
	if p == nil || p.DurationSec <= musicSegmentSec {
		return []task.Tile{baseTile(t, 0)}
	}
	n := int(math.Ceil(p.DurationSec / musicSegmentSec))
	tiles := make([]task.Tile, 0, n)
	for i := 0; i < n; i++ {
		tl := baseTile(t, i)
		tl.SegmentIndex = i
		seg := *p
		seg.DurationSec = math.Min(musicSegmentSec, p.DurationSec-float64(i)*musicSegmentSec)
		seg.HasPrevSegment = i > 0
		tl.Params = task.Params{Music: &seg}
		tiles = append(tiles, tl)
	}
	return tiles
}

// decomposeLanguage splits the token budget across the parallel degree when
// the optimizer asked for parallel execution.
func decomposeLanguage(t task.Task) []task.Tile {
	p := t.Params.Language
	degree := t.Parallel.Degree
	if p == nil || t.Parallel.Strategy != task.StrategyParallel || degree < 2 {
		return []task.Tile{baseTile(t, 0)}
	}
	if degree > maxLanguageSplit {
		degree = maxLanguageSplit
	}
	if p.Tokens/degree < minTokensPerSplit {
		degree = max(1, p.Tokens/minTokensPerSplit)
	}
	if degree < 2 {
		return []task.Tile{baseTile(t, 0)}
	}
	tiles := make([]task.Tile, 0, degree)
	per := p.Tokens / degree
	for i := 0; i < degree; i++ {
		tl := baseTile(t, i)
		part := *p
		part.Tokens = per
		if i == degree-1 {
			part.Tokens = p.Tokens - per*(degree-1)
		}
		tl.Params = task.Params{Language: &part}
		tiles = append(tiles, tl)
	}
	return tiles
}

// CreateSchedule groups tiles into ordered stages. Music segments run one
// per stage because each needs its predecessor's output; everything else
// lands in a single stage.
func (s *LocalScheduler) CreateSchedule(_ context.Context, tiles []task.Tile, opts api.ScheduleOptions) (api.Schedule, error) {
	if len(tiles) == 0 {
		return api.Schedule{}, fmt.Errorf("create schedule: no tiles")
	}

	byStage := map[int][]task.Tile{}
	for _, tl := range tiles {
		stage := 0
		if tl.Type == task.TypeMusic {
			stage = tl.SegmentIndex
		}
		byStage[stage] = append(byStage[stage], tl)
	}
	order := make([]int, 0, len(byStage))
	for k := range byStage {
		order = append(order, k)
	}
	sort.Ints(order)

	sched := api.Schedule{
		ID:       uuid.NewString(),
		TaskID:   tiles[0].TaskID,
		UseAevIP: opts.UseAevIP,
	}
	for i, k := range order {
		st := api.Stage{Index: i, Tiles: byStage[k], Remote: opts.UseAevIP}
		sched.Stages = append(sched.Stages, st)
		sched.EstimatedLatency += s.stageEstimate(st)
	}

	raw, err := json.Marshal(sched)
	if err != nil {
		return api.Schedule{}, fmt.Errorf("encode schedule: %w", err)
	}
	s.store.Set("sched:"+sched.ID, raw, scheduleTTL)
	return sched, nil
}

// stageEstimate is the slowest tile in the stage, tiles being concurrent
// within a stage.
func (s *LocalScheduler) stageEstimate(st api.Stage) float64 {
	if s.an == nil {
		return 0
	}
	var worst float64
	for _, tl := range st.Tiles {
		if p := s.an.PredictLatency(tl); p > worst {
			worst = p
		}
	}
	return worst
}

// RemoveSchedule drops the stored schedule. Unknown ids are not an error.
func (s *LocalScheduler) RemoveSchedule(_ context.Context, scheduleID string) error {
	s.store.Delete("sched:" + scheduleID)
	return nil
}

// LocalExecutor runs schedules in-process via modality adapters, handing
// remote stages to the AevIP coordinator when one is configured.
type LocalExecutor struct {
	adapters map[task.Type]api.ModalityAdapter
	coord    *aevip.Coordinator
	strategy aevip.Strategy
	clock    clockwork.Clock

	mu     sync.Mutex
	status map[string]*api.ExecutionStatus
}

// NewLocalExecutor builds an executor. coord may be nil; remote stages then
// fall back to local adapters.
func NewLocalExecutor(adapters map[task.Type]api.ModalityAdapter, coord *aevip.Coordinator, strategy aevip.Strategy, clock clockwork.Clock) *LocalExecutor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if strategy == "" {
		strategy = aevip.StrategyRoundRobin
	}
	return &LocalExecutor{
		adapters: adapters,
		coord:    coord,
		strategy: strategy,
		clock:    clock,
		status:   make(map[string]*api.ExecutionStatus),
	}
}

// ExecuteSchedule runs stages in order and concurrently within a stage.
// Every tile gets a result slot; stage failures surface as error results
// rather than aborting the schedule.
func (e *LocalExecutor) ExecuteSchedule(ctx context.Context, s api.Schedule) (map[int]task.Result, float64, error) {
	start := e.clock.Now()
	e.setStatus(s.ID, 0, false)

	results := make(map[int]task.Result)
	for _, st := range s.Stages {
		e.setStatus(s.ID, st.Index, false)
		tiles := withDependencyCtx(st.Tiles, results)

		var stageRes map[int]task.Result
		if st.Remote && e.coord != nil {
			var err error
			stageRes, err = e.coord.DistributeTasks(ctx, tiles, aevip.DistributeOptions{Strategy: e.strategy})
			if err != nil {
				// no usable nodes; run the stage locally instead
				stageRes = e.runLocal(ctx, tiles)
			}
		} else {
			stageRes = e.runLocal(ctx, tiles)
		}
		for idx, res := range stageRes {
			results[idx] = res
		}
	}

	e.setStatus(s.ID, len(s.Stages), true)
	elapsed := e.clock.Since(start)
	return results, float64(elapsed) / float64(time.Millisecond), nil
}

// withDependencyCtx injects predecessor payloads into dependent tiles.
func withDependencyCtx(tiles []task.Tile, done map[int]task.Result) []task.Tile {
	out := make([]task.Tile, len(tiles))
	copy(out, tiles)
	for i, tl := range out {
		if tl.Type != task.TypeMusic || tl.SegmentIndex == 0 {
			continue
		}
		prev, ok := done[tl.SegmentIndex-1]
		if !ok || !prev.Success {
			continue
		}
		ctx := make(map[int][]byte, 1)
		ctx[tl.SegmentIndex-1] = prev.Payload
		out[i].DependencyCtx = ctx
	}
	return out
}

func (e *LocalExecutor) runLocal(ctx context.Context, tiles []task.Tile) map[int]task.Result {
	out := make(map[int]task.Result, len(tiles))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, tl := range tiles {
		wg.Add(1)
		go func(tl task.Tile) {
			defer wg.Done()
			res := e.runOne(ctx, tl)
			mu.Lock()
			out[tl.Index] = res
			mu.Unlock()
		}(tl)
	}
	wg.Wait()
	return out
}

func (e *LocalExecutor) runOne(ctx context.Context, tl task.Tile) task.Result {
	adapter, ok := e.adapters[tl.Type]
	if !ok {
		return task.ErrorResult(tl.Index, fmt.Sprintf("no adapter for type %s", tl.Type))
	}
	start := e.clock.Now()
	res, err := adapter.Execute(ctx, tl)
	if err != nil {
		return task.ErrorResult(tl.Index, err.Error())
	}
	res.TileIndex = tl.Index
	if res.LatencyMS <= 0 {
		res.LatencyMS = float64(e.clock.Since(start)) / float64(time.Millisecond)
	}
	return res
}

// Forget drops tracking state for a finished schedule.
func (e *LocalExecutor) Forget(scheduleID string) {
	e.mu.Lock()
	delete(e.status, scheduleID)
	e.mu.Unlock()
}

// Status returns nil for unknown schedules.
func (e *LocalExecutor) Status(scheduleID string) *api.ExecutionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.status[scheduleID]
	if !ok {
		return nil
	}
	cp := *st
	return &cp
}

func (e *LocalExecutor) setStatus(id string, stage int, done bool) {
	e.mu.Lock()
	e.status[id] = &api.ExecutionStatus{ScheduleID: id, Stage: stage, Done: done}
	e.mu.Unlock()
}
