package optimizer

import (
	"aevrt/pkg/task"
)

// ModelInfo describes one execution model candidate: its modality, a quality
// score in [0,1], the per-unit cost rate (unit depends on the modality:
// token, pixel or second) and the next cheaper model to try when over budget.
type ModelInfo struct {
	Name      string
	Type      task.Type
	Quality   float64
	CostRate  float64
	Downgrade string // empty = nothing cheaper
}

// Catalog is the registered model set, externally filterable.
type Catalog struct {
	models map[string]ModelInfo
}

// NewCatalog builds a catalog from the given entries.
func NewCatalog(entries ...ModelInfo) *Catalog {
	c := &Catalog{models: make(map[string]ModelInfo, len(entries))}
	for _, m := range entries {
		c.models[m.Name] = m
	}
	return c
}

// DefaultCatalog ships a small placeholder model set; deployments replace it
// from configuration.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		ModelInfo{Name: "lm-large", Type: task.TypeLanguage, Quality: 0.92, CostRate: 0.00006, Downgrade: "lm-medium"},
		ModelInfo{Name: "lm-medium", Type: task.TypeLanguage, Quality: 0.85, CostRate: 0.00002, Downgrade: "lm-small"},
		ModelInfo{Name: "lm-small", Type: task.TypeLanguage, Quality: 0.72, CostRate: 0.000004},
		ModelInfo{Name: "img-hd", Type: task.TypeImage, Quality: 0.9, CostRate: 0.00000008, Downgrade: "img-base"},
		ModelInfo{Name: "img-base", Type: task.TypeImage, Quality: 0.8, CostRate: 0.00000002, Downgrade: "img-lite"},
		ModelInfo{Name: "img-lite", Type: task.TypeImage, Quality: 0.65, CostRate: 0.000000005},
		ModelInfo{Name: "music-full", Type: task.TypeMusic, Quality: 0.88, CostRate: 0.002, Downgrade: "music-lite"},
		ModelInfo{Name: "music-lite", Type: task.TypeMusic, Quality: 0.7, CostRate: 0.0005},
	)
}

// Get returns a model by name.
func (c *Catalog) Get(name string) (ModelInfo, bool) {
	m, ok := c.models[name]
	return m, ok
}

// ForType returns candidates for a modality, optionally filtered. A nil
// filter keeps everything.
func (c *Catalog) ForType(typ task.Type, filter func(ModelInfo) bool) []ModelInfo {
	var out []ModelInfo
	for _, m := range c.models {
		if m.Type != typ {
			continue
		}
		if filter != nil && !filter(m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// DowngradeChain returns the cheaper models reachable from name, in order.
func (c *Catalog) DowngradeChain(name string) []ModelInfo {
	var out []ModelInfo
	seen := map[string]bool{name: true}
	cur, ok := c.models[name]
	for ok && cur.Downgrade != "" && !seen[cur.Downgrade] {
		seen[cur.Downgrade] = true
		cur, ok = c.models[cur.Downgrade]
		if ok {
			out = append(out, cur)
		}
	}
	return out
}

// EstimateCost computes the type-specific cost of running t under the given
// rate: tokens×rate for language, pixels×rate for image, seconds×rate for
// music.
func EstimateCost(t task.Task, rate float64) float64 {
	switch t.Type {
	case task.TypeLanguage:
		if t.Params.Language == nil {
			return 0
		}
		tokens := t.Params.Language.MaxTokens
		if tokens == 0 {
			tokens = t.Params.Language.Tokens
		}
		return float64(tokens) * rate
	case task.TypeImage:
		if t.Params.Image == nil {
			return 0
		}
		return float64(t.Params.Image.Width*t.Params.Image.Height) * rate
	case task.TypeMusic:
		if t.Params.Music == nil {
			return 0
		}
		return t.Params.Music.DurationSec * rate
	default:
		return 0
	}
}
