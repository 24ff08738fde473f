// Package optimizer transforms a task plus constraints into an optimized
// copy: tile-size hint, model choice, parallelization plan and a cost-capped
// rewrite. All four steps run unconditionally; each degrades to a no-op when
// no applicable data exists, and nothing here raises an error.
package optimizer

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"aevrt/pkg/latency"
	"aevrt/pkg/metrics"
	"aevrt/pkg/task"
)

const (
	latencyHeadroom  = 1.2
	minModelSamples  = 5
	latencyWeight    = 0.6
	qualityWeight    = 0.4
	parallelFraction = 0.8
	maxParallelism   = 16
	historyCap       = 1000
	lookupWindow     = 30 * 24 * time.Hour

	maxTokensCap   = 500
	maxImageDimCap = 512
	maxDurationCap = 15
)

// Constraints is the latency/cost envelope a task must fit.
type Constraints struct {
	TargetLatencyMS  float64
	MaxCost          float64 // 0 = no ceiling
	QualityThreshold float64
	// ModelFilter optionally narrows the candidate model set.
	ModelFilter func(ModelInfo) bool
}

// Decision records which steps fired for one optimization, for observability.
type Decision struct {
	TaskID     string
	TileSize   int
	ModelFrom  string
	ModelTo    string
	ModelScore float64
	Parallel   task.ParallelPlan
	CostBefore float64
	CostAfter  float64
	CostAction string // "", "downgrade", "shrink"
	At         time.Time
}

// Optimizer runs the four-step pipeline. Never mutates the input task.
type Optimizer struct {
	analyzer *latency.Analyzer
	store    metrics.Store
	catalog  *Catalog

	mu      sync.Mutex
	history []Decision
}

// New builds an optimizer. A nil catalog uses the default placeholder set.
func New(analyzer *latency.Analyzer, store metrics.Store, catalog *Catalog) *Optimizer {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Optimizer{analyzer: analyzer, store: store, catalog: catalog}
}

// Optimize returns an optimized copy of t.
func (o *Optimizer) Optimize(ctx context.Context, t task.Task, c Constraints) (task.Task, Decision) {
	out := t.Clone()
	d := Decision{TaskID: t.ID, ModelFrom: t.Model, At: time.Now()}

	o.optimizeTileSize(ctx, &out, c, &d)
	o.selectModel(ctx, &out, c, &d)
	o.planParallelism(ctx, &out, c, &d)
	o.applyCostCap(&out, c, &d)

	o.mu.Lock()
	o.history = append(o.history, d)
	if len(o.history) > historyCap {
		o.history = o.history[len(o.history)-historyCap:]
	}
	o.mu.Unlock()

	zap.L().Debug("task optimized",
		zap.String("task", t.ID),
		zap.Int("tile_size", d.TileSize),
		zap.String("model", out.Model),
		zap.String("strategy", out.Parallel.Strategy.String()),
		zap.Int("degree", out.Parallel.Degree))
	return out, d
}

// History returns a snapshot of recent decisions, newest last.
func (o *Optimizer) History() []Decision {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Decision(nil), o.history...)
}

// optimizeTileSize picks the historical tile size whose recorded latency is
// closest to the target. No-op without history.
func (o *Optimizer) optimizeTileSize(ctx context.Context, t *task.Task, c Constraints, d *Decision) {
	if c.TargetLatencyMS <= 0 {
		return
	}
	recs, err := o.store.Since(ctx, t.Type, lookupWindow)
	if err != nil || len(recs) == 0 {
		return
	}
	best := 0
	bestDist := math.MaxFloat64
	for _, r := range recs {
		if r.TileSize <= 0 {
			continue
		}
		dist := math.Abs(r.ActualLatency - c.TargetLatencyMS)
		if dist < bestDist {
			bestDist = dist
			best = r.TileSize
		}
	}
	if best > 0 {
		t.TileSizeHint = best
		d.TileSize = best
	}
}

// selectModel scores candidate models on latency headroom and quality,
// replacing the task's model when a better-scoring candidate exists.
func (o *Optimizer) selectModel(ctx context.Context, t *task.Task, c Constraints, d *Decision) {
	if c.TargetLatencyMS <= 0 {
		return
	}
	bestName := ""
	bestScore := -1.0
	for _, cand := range o.catalog.ForType(t.Type, c.ModelFilter) {
		samples, quality := o.modelHistory(ctx, t.Type, cand)
		if samples < minModelSamples {
			continue
		}
		if quality < c.QualityThreshold {
			continue
		}
		est := o.analyzer.PredictModelLatency(ctx, cand.Name, *t)
		if est > c.TargetLatencyMS*latencyHeadroom {
			continue
		}
		score := latencyWeight*math.Max(0, 1-est/c.TargetLatencyMS) + qualityWeight*quality
		if score > bestScore {
			bestScore = score
			bestName = cand.Name
		}
	}
	if bestName != "" && bestName != t.Model {
		zap.L().Info("model switched",
			zap.String("task", t.ID),
			zap.String("from", t.Model),
			zap.String("to", bestName),
			zap.Float64("score", bestScore))
		t.Model = bestName
		d.ModelTo = bestName
		d.ModelScore = bestScore
	}
}

// modelHistory counts historical samples for a candidate and averages their
// quality, falling back to the catalog's static quality when samples carry
// none.
func (o *Optimizer) modelHistory(ctx context.Context, typ task.Type, cand ModelInfo) (int, float64) {
	recs, err := o.store.Recent(ctx, typ, historyCap)
	if err != nil {
		return 0, cand.Quality
	}
	n := 0
	qSum := 0.0
	qN := 0
	for _, r := range recs {
		if r.Model != cand.Name {
			continue
		}
		n++
		if r.Quality > 0 {
			qSum += r.Quality
			qN++
		}
	}
	if qN == 0 {
		return n, cand.Quality
	}
	return n, qSum / float64(qN)
}

// planParallelism derives the degree from the required speedup using an
// Amdahl's-law inversion with an assumed 80% parallelizable fraction.
func (o *Optimizer) planParallelism(ctx context.Context, t *task.Task, c Constraints, d *Decision) {
	plan := task.ParallelPlan{Strategy: task.StrategySequential, Degree: 1}
	defer func() {
		t.Parallel = plan
		d.Parallel = plan
	}()
	if c.TargetLatencyMS <= 0 {
		return
	}
	seq := o.analyzer.PredictModelLatency(ctx, t.Model, *t)
	if seq <= c.TargetLatencyMS {
		return
	}
	speedup := seq / c.TargetLatencyMS
	degree := int(math.Ceil(speedup / ((1 - parallelFraction) + parallelFraction/speedup)))
	if degree < 2 {
		degree = 2
	}
	if degree > maxParallelism {
		degree = maxParallelism
	}
	plan = task.ParallelPlan{Strategy: task.StrategyParallel, Degree: degree}
}

// applyCostCap rewrites the task when its estimate exceeds MaxCost: first the
// downgrade chain, then a type-specific size clamp. Best effort; never
// raises.
func (o *Optimizer) applyCostCap(t *task.Task, c Constraints, d *Decision) {
	if c.MaxCost <= 0 {
		return
	}
	cur, ok := o.catalog.Get(t.Model)
	if !ok {
		return
	}
	d.CostBefore = EstimateCost(*t, cur.CostRate)
	d.CostAfter = d.CostBefore
	if d.CostBefore <= c.MaxCost {
		return
	}

	for _, cheaper := range o.catalog.DowngradeChain(t.Model) {
		if cost := EstimateCost(*t, cheaper.CostRate); cost <= c.MaxCost {
			zap.L().Info("model downgraded for cost",
				zap.String("task", t.ID),
				zap.String("from", t.Model),
				zap.String("to", cheaper.Name),
				zap.Float64("cost", cost))
			t.Model = cheaper.Name
			d.CostAction = "downgrade"
			d.CostAfter = cost
			return
		}
	}

	shrinkTask(t)
	d.CostAction = "shrink"
	if m, ok := o.catalog.Get(t.Model); ok {
		d.CostAfter = EstimateCost(*t, m.CostRate)
	}
}

func shrinkTask(t *task.Task) {
	switch t.Type {
	case task.TypeLanguage:
		if t.Params.Language != nil && t.Params.Language.MaxTokens > maxTokensCap {
			t.Params.Language.MaxTokens = maxTokensCap
		}
	case task.TypeImage:
		if t.Params.Image != nil {
			if t.Params.Image.Width > maxImageDimCap {
				t.Params.Image.Width = maxImageDimCap
			}
			if t.Params.Image.Height > maxImageDimCap {
				t.Params.Image.Height = maxImageDimCap
			}
		}
	case task.TypeMusic:
		if t.Params.Music != nil && t.Params.Music.DurationSec > maxDurationCap {
			t.Params.Music.DurationSec = maxDurationCap
		}
	}
}
