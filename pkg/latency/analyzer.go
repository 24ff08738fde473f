// Package latency predicts per-tile and per-model execution latency from
// rolling execution history, retraining as measurements accumulate.
package latency

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"aevrt/pkg/metrics"
	"aevrt/pkg/task"
)

const (
	historyWindow     = 30 * 24 * time.Hour
	minTrainSamples   = 10
	retrainEvery      = 100
	measurementCap    = 1000
	similarityFloor   = 0.7
	similarityTopK    = 10
	trainFetchLimit   = 1000
	defaultBaselineMS = 1000
)

// Options tunes an Analyzer. Zero values select the defaults above.
type Options struct {
	// Baselines is the static per-model latency table used when no history
	// exists for a task type. Configuration data, not algorithm.
	Baselines map[string]float64
	Clock     clockwork.Clock
}

type measurement struct {
	Predicted float64
	Actual    float64
	AbsError  float64
	PctError  float64
	At        time.Time
}

// AccuracyReport summarizes the rolling measurement window.
type AccuracyReport struct {
	Samples      int
	MeanAbsError float64
	MeanPctError float64
	ActualP50    float64
	ActualP95    float64
	ActualP99    float64
}

// Analyzer trains per-type linear latency models from the metric store and
// answers point predictions. Every method has a deterministic fallback:
// absence of history is never an error.
type Analyzer struct {
	store     metrics.Store
	clock     clockwork.Clock
	baselines map[string]float64

	mu         sync.RWMutex
	models     map[task.Type]*linearModel
	window     []measurement
	hist       *hdrhistogram.Histogram
	sinceTrain int
}

// NewAnalyzer builds an analyzer and trains immediately from whatever history
// the store holds.
func NewAnalyzer(store metrics.Store, opts Options) *Analyzer {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	a := &Analyzer{
		store:     store,
		clock:     opts.Clock,
		baselines: opts.Baselines,
		models:    make(map[task.Type]*linearModel),
		// 1ms..1h at 3 significant digits covers every realistic tile.
		hist: hdrhistogram.New(1, int64(time.Hour/time.Millisecond), 3),
	}
	a.Retrain(context.Background())
	return a
}

// PredictLatency estimates latency in milliseconds for one tile. Uses the
// trained model for the tile's type when present, a fixed per-type heuristic
// otherwise. Pure with respect to identical input until a retrain occurs.
func (a *Analyzer) PredictLatency(tile task.Tile) float64 {
	feats := TileFeatures(tile)
	a.mu.RLock()
	m := a.models[tile.Type]
	a.mu.RUnlock()
	if m != nil {
		y := m.eval(feats)
		if y < 1 {
			y = 1
		}
		return y
	}
	return heuristicLatency(tile.Type, feats)
}

func heuristicLatency(typ task.Type, f map[string]float64) float64 {
	switch typ {
	case task.TypeLanguage:
		return 200 + f[featTokens]*0.5 + f[featMaxTokens]*0.1
	case task.TypeImage:
		megapixels := f[featPixels] / 1e6
		return 500 + megapixels*1000
	case task.TypeMusic:
		return 2000 + f[featDuration]*100
	default:
		return defaultBaselineMS
	}
}

// PredictModelLatency estimates latency of running t under the named model,
// using similarity-weighted history for t's type; falls back to the static
// baseline table when no history exists.
func (a *Analyzer) PredictModelLatency(ctx context.Context, model string, t task.Task) float64 {
	recs, err := a.store.Since(ctx, t.Type, historyWindow)
	if err != nil || len(recs) == 0 {
		return a.baseline(model)
	}

	target := TaskFeatures(t)
	type scored struct {
		sim float64
		lat float64
	}
	var candidates []scored
	for _, r := range recs {
		sim := similarity(target, r.Features)
		if sim > similarityFloor {
			candidates = append(candidates, scored{sim: sim, lat: r.ActualLatency})
		}
	}
	if len(candidates) == 0 {
		// no close-enough sample: plain mean over the type's history
		sum := 0.0
		for _, r := range recs {
			sum += r.ActualLatency
		}
		return sum / float64(len(recs))
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].sim > candidates[j].sim })
	if len(candidates) > similarityTopK {
		candidates = candidates[:similarityTopK]
	}
	num, den := 0.0, 0.0
	for _, c := range candidates {
		num += c.sim * c.lat
		den += c.sim
	}
	return num / den
}

func (a *Analyzer) baseline(model string) float64 {
	if v, ok := a.baselines[model]; ok {
		return v
	}
	return defaultBaselineMS
}

// similarity is a normalized inverse Euclidean distance over the feature keys
// both maps share, clipped to [0,1]. No shared keys means no similarity.
func similarity(a, b map[string]float64) float64 {
	shared := 0
	sum := 0.0
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			continue
		}
		shared++
		scale := math.Max(math.Max(math.Abs(av), math.Abs(bv)), 1)
		d := (av - bv) / scale
		sum += d * d
	}
	if shared == 0 {
		return 0
	}
	dist := math.Sqrt(sum / float64(shared))
	sim := 1 / (1 + dist)
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// RecordMeasurement stores one predicted/actual pair in the bounded window
// and triggers a retrain every retrainEvery measurements.
func (a *Analyzer) RecordMeasurement(tile task.Tile, actualMS float64) {
	predicted := a.PredictLatency(tile)
	m := measurement{
		Predicted: predicted,
		Actual:    actualMS,
		AbsError:  math.Abs(predicted - actualMS),
		At:        a.clock.Now(),
	}
	if actualMS > 0 {
		m.PctError = m.AbsError / actualMS * 100
	}

	retrain := false
	a.mu.Lock()
	a.window = append(a.window, m)
	if len(a.window) > measurementCap {
		a.window = a.window[len(a.window)-measurementCap:]
	}
	_ = a.hist.RecordValue(int64(actualMS))
	a.sinceTrain++
	if a.sinceTrain >= retrainEvery {
		a.sinceTrain = 0
		retrain = true
	}
	a.mu.Unlock()

	if retrain {
		a.Retrain(context.Background())
	}
}

// Retrain refits the per-type models from stored history. Types with fewer
// than minTrainSamples usable samples keep no model and fall back to the
// heuristics.
func (a *Analyzer) Retrain(ctx context.Context) {
	for _, typ := range []task.Type{task.TypeLanguage, task.TypeImage, task.TypeMusic} {
		recs, err := a.store.Recent(ctx, typ, trainFetchLimit)
		if err != nil {
			zap.L().Warn("retrain fetch failed", zap.String("type", typ.String()), zap.Error(err))
			continue
		}
		names := featureNames(typ)
		var xs [][]float64
		var ys []float64
		for _, r := range recs {
			if len(r.Features) == 0 || r.ActualLatency <= 0 {
				continue
			}
			xs = append(xs, vectorize(names, r.Features))
			ys = append(ys, r.ActualLatency)
		}
		if len(ys) < minTrainSamples {
			a.mu.Lock()
			delete(a.models, typ)
			a.mu.Unlock()
			continue
		}
		m := fitOLS(names, xs, ys)
		a.mu.Lock()
		a.models[typ] = m
		a.mu.Unlock()
		zap.L().Info("latency model trained",
			zap.String("type", typ.String()),
			zap.Int("samples", len(ys)),
			zap.Float64("intercept", m.intercept))
	}
}

// Accuracy reports prediction accuracy over the rolling window.
func (a *Analyzer) Accuracy() AccuracyReport {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rep := AccuracyReport{Samples: len(a.window)}
	if rep.Samples == 0 {
		return rep
	}
	for _, m := range a.window {
		rep.MeanAbsError += m.AbsError
		rep.MeanPctError += m.PctError
	}
	rep.MeanAbsError /= float64(rep.Samples)
	rep.MeanPctError /= float64(rep.Samples)
	rep.ActualP50 = float64(a.hist.ValueAtQuantile(50))
	rep.ActualP95 = float64(a.hist.ValueAtQuantile(95))
	rep.ActualP99 = float64(a.hist.ValueAtQuantile(99))
	return rep
}
