package latency

import (
	"context"
	"math"
	"testing"

	"github.com/jonboulle/clockwork"

	"aevrt/pkg/metrics"
	"aevrt/pkg/task"
)

func imageTile(w, h int) task.Tile {
	return task.Tile{
		Type:   task.TypeImage,
		Params: task.Params{Image: &task.ImageSpec{Width: w, Height: h, Steps: 20}},
	}
}

func seedImageHistory(t *testing.T, store metrics.Store, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		size := 256 + (i%4)*256
		tile := imageTile(size, size)
		feats := TileFeatures(tile)
		// synthetic ground truth: 100 + pixels/1000
		lat := 100 + feats[featPixels]/1000
		err := store.Append(ctx, metrics.Record{
			TaskType:      task.TypeImage,
			ActualLatency: lat,
			Success:       true,
			Features:      feats,
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func TestPredictLatencyHeuristicFallback(t *testing.T) {
	store := metrics.NewMemoryStore(0, nil)
	a := NewAnalyzer(store, Options{Clock: clockwork.NewFakeClock()})

	got := a.PredictLatency(imageTile(1000, 1000))
	want := 500.0 + 1.0*1000 // 500 + megapixels*1000
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("heuristic predict = %v, want %v", got, want)
	}
}

func TestPredictLatencyIdempotentUntilRetrain(t *testing.T) {
	store := metrics.NewMemoryStore(0, nil)
	seedImageHistory(t, store, 40)
	a := NewAnalyzer(store, Options{Clock: clockwork.NewFakeClock()})

	tile := imageTile(512, 512)
	first := a.PredictLatency(tile)
	for i := 0; i < 5; i++ {
		if got := a.PredictLatency(tile); got != first {
			t.Fatalf("prediction changed without retrain: %v != %v", got, first)
		}
	}
}

func TestTrainedModelRecoversRelationship(t *testing.T) {
	store := metrics.NewMemoryStore(0, nil)
	seedImageHistory(t, store, 60)
	a := NewAnalyzer(store, Options{Clock: clockwork.NewFakeClock()})

	tile := imageTile(512, 512)
	feats := TileFeatures(tile)
	want := 100 + feats[featPixels]/1000
	got := a.PredictLatency(tile)
	// the per-feature OLS includes correlated width/height/pixels terms, so
	// allow a generous band around the synthetic ground truth
	if got < want*0.3 || got > want*2.5 {
		t.Fatalf("trained predict = %v, want near %v", got, want)
	}
}

func TestFitOLSClosedFormIdentity(t *testing.T) {
	names := []string{"a", "b"}
	xs := [][]float64{{1, 10}, {2, 20}, {3, 15}, {4, 40}, {5, 35}}
	ys := []float64{12, 25, 31, 44, 52}
	m := fitOLS(names, xs, ys)
	if m == nil {
		t.Fatalf("expected model")
	}
	// intercept + Σ(coef_f × mean_x_f) == mean_y
	meanA := (1 + 2 + 3 + 4 + 5) / 5.0
	meanB := (10 + 20 + 15 + 40 + 35) / 5.0
	meanY := (12 + 25 + 31 + 44 + 52) / 5.0
	got := m.intercept + m.coefs[0]*meanA + m.coefs[1]*meanB
	if math.Abs(got-meanY) > 1e-9 {
		t.Fatalf("closed-form identity violated: %v != %v", got, meanY)
	}
}

func TestFitOLSZeroVarianceFeature(t *testing.T) {
	names := []string{"const", "x"}
	xs := [][]float64{{7, 1}, {7, 2}, {7, 3}}
	ys := []float64{10, 20, 30}
	m := fitOLS(names, xs, ys)
	if m.coefs[0] != 0 {
		t.Fatalf("zero-variance feature must get zero coefficient, got %v", m.coefs[0])
	}
	if math.Abs(m.coefs[1]-10) > 1e-9 {
		t.Fatalf("slope = %v, want 10", m.coefs[1])
	}
}

func TestPredictModelLatencyBaselineFallback(t *testing.T) {
	store := metrics.NewMemoryStore(0, nil)
	a := NewAnalyzer(store, Options{
		Clock:     clockwork.NewFakeClock(),
		Baselines: map[string]float64{"sd-turbo": 350},
	})

	tk := task.New(task.TypeImage)
	if got := a.PredictModelLatency(context.Background(), "sd-turbo", tk); got != 350 {
		t.Fatalf("baseline = %v, want 350", got)
	}
	if got := a.PredictModelLatency(context.Background(), "unlisted", tk); got != defaultBaselineMS {
		t.Fatalf("default baseline = %v, want %v", got, float64(defaultBaselineMS))
	}
}

func TestPredictModelLatencySimilarityWeighted(t *testing.T) {
	store := metrics.NewMemoryStore(0, nil)
	ctx := context.Background()

	near := task.New(task.TypeImage)
	near.Params.Image = &task.ImageSpec{Width: 512, Height: 512, Steps: 20}
	far := task.New(task.TypeImage)
	far.Params.Image = &task.ImageSpec{Width: 4096, Height: 4096, Steps: 80}

	for i := 0; i < 5; i++ {
		_ = store.Append(ctx, metrics.Record{
			TaskType: task.TypeImage, ActualLatency: 100, Success: true,
			Features: TaskFeatures(near),
		})
		_ = store.Append(ctx, metrics.Record{
			TaskType: task.TypeImage, ActualLatency: 9000, Success: true,
			Features: TaskFeatures(far),
		})
	}
	a := NewAnalyzer(store, Options{Clock: clockwork.NewFakeClock()})

	got := a.PredictModelLatency(ctx, "any", near)
	if got > 1000 {
		t.Fatalf("expected similar samples to dominate, got %v", got)
	}
}

func TestRecordMeasurementWindowAndAccuracy(t *testing.T) {
	store := metrics.NewMemoryStore(0, nil)
	a := NewAnalyzer(store, Options{Clock: clockwork.NewFakeClock()})

	tile := imageTile(256, 256)
	for i := 0; i < 1100; i++ {
		a.RecordMeasurement(tile, 600)
	}
	rep := a.Accuracy()
	if rep.Samples != measurementCap {
		t.Fatalf("window not bounded: %d", rep.Samples)
	}
	if rep.ActualP50 < 590 || rep.ActualP50 > 610 {
		t.Fatalf("p50 = %v, want ~600", rep.ActualP50)
	}
}
