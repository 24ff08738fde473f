package latency

import (
	"aevrt/pkg/task"
)

// Feature names are fixed per modality so model coefficients line up across
// retrains and across processes reading the same metric store.
const (
	featPriority = "priority"
	featHasDeps  = "has_deps"

	featTokens      = "tokens"
	featMaxTokens   = "max_tokens"
	featTemperature = "temperature"
	featStreaming   = "streaming"

	featWidth     = "width"
	featHeight    = "height"
	featPixels    = "pixels"
	featSteps     = "steps"
	featHasRegion = "has_region"

	featDuration   = "duration_sec"
	featSampleRate = "sample_rate"
	featHasPrev    = "has_prev_segment"
)

// featureNames returns the ordered feature vector layout for a modality.
func featureNames(typ task.Type) []string {
	base := []string{featPriority, featHasDeps}
	switch typ {
	case task.TypeLanguage:
		return append(base, featTokens, featMaxTokens, featTemperature, featStreaming)
	case task.TypeImage:
		return append(base, featWidth, featHeight, featPixels, featSteps, featHasRegion)
	case task.TypeMusic:
		return append(base, featDuration, featSampleRate, featHasPrev)
	default:
		return base
	}
}

func boolFeat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// TileFeatures extracts the engineered feature map for one tile.
func TileFeatures(t task.Tile) map[string]float64 {
	f := map[string]float64{
		featPriority: float64(t.Priority),
		featHasDeps:  boolFeat(t.HasDependencies()),
	}
	switch t.Type {
	case task.TypeLanguage:
		var l task.LanguageSpec
		if t.Params.Language != nil {
			l = *t.Params.Language
		}
		f[featTokens] = float64(l.Tokens)
		f[featMaxTokens] = float64(l.MaxTokens)
		f[featTemperature] = l.Temperature
		f[featStreaming] = boolFeat(l.Streaming)
	case task.TypeImage:
		var im task.ImageSpec
		if t.Params.Image != nil {
			im = *t.Params.Image
		}
		f[featWidth] = float64(im.Width)
		f[featHeight] = float64(im.Height)
		f[featPixels] = float64(im.Width * im.Height)
		f[featSteps] = float64(im.Steps)
		f[featHasRegion] = boolFeat(t.Region != nil)
	case task.TypeMusic:
		var m task.MusicSpec
		if t.Params.Music != nil {
			m = *t.Params.Music
		}
		f[featDuration] = m.DurationSec
		f[featSampleRate] = float64(m.SampleRate)
		f[featHasPrev] = boolFeat(m.HasPrevSegment || t.SegmentIndex > 0)
	}
	return f
}

// TaskFeatures extracts the feature map for a whole task, used for similarity
// lookups against historical samples.
func TaskFeatures(t task.Task) map[string]float64 {
	tile := task.Tile{
		Type:     t.Type,
		Model:    t.Model,
		Priority: t.Priority,
		Params:   t.Params,
	}
	f := TileFeatures(tile)
	f[featHasDeps] = boolFeat(len(t.DependsOn) > 0)
	return f
}

func vectorize(names []string, f map[string]float64) []float64 {
	out := make([]float64, len(names))
	for i, n := range names {
		out[i] = f[n]
	}
	return out
}
