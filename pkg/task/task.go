// Package task defines the typed task/tile envelope shared by the runtime,
// the optimizer and the AevIP coordinator.
package task

import (
	"github.com/google/uuid"
)

// Type identifies the modality of a task or tile.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeLanguage
	TypeImage
	TypeMusic
)

func (t Type) String() string {
	switch t {
	case TypeLanguage:
		return "language"
	case TypeImage:
		return "image"
	case TypeMusic:
		return "music"
	default:
		return "unknown"
	}
}

// ParseType maps a wire/type string back to a Type. Unrecognized strings map
// to TypeUnknown rather than an error; callers treat unknown as "no modality
// specific handling".
func ParseType(s string) Type {
	switch s {
	case "language":
		return TypeLanguage
	case "image":
		return TypeImage
	case "music":
		return TypeMusic
	default:
		return TypeUnknown
	}
}

// MarshalText/UnmarshalText keep the JSON wire form human readable
// ("language", not 1).
func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(b []byte) error {
	*t = ParseType(string(b))
	return nil
}

// LanguageSpec carries the language-modality parameters.
type LanguageSpec struct {
	Prompt      string  `json:"prompt,omitempty"`
	Tokens      int     `json:"tokens,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Streaming   bool    `json:"streaming,omitempty"`
}

// ImageSpec carries the image-modality parameters.
type ImageSpec struct {
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
	Steps  int `json:"steps,omitempty"`
}

// MusicSpec carries the music-modality parameters.
type MusicSpec struct {
	DurationSec    float64 `json:"duration_sec,omitempty"`
	SampleRate     int     `json:"sample_rate,omitempty"`
	HasPrevSegment bool    `json:"has_prev_segment,omitempty"`
}

// Params is the modality payload union: exactly one member is non-nil for a
// well-formed task/tile of a known type.
type Params struct {
	Language *LanguageSpec `json:"language,omitempty"`
	Image    *ImageSpec    `json:"image,omitempty"`
	Music    *MusicSpec    `json:"music,omitempty"`
}

func (p Params) clone() Params {
	var out Params
	if p.Language != nil {
		l := *p.Language
		out.Language = &l
	}
	if p.Image != nil {
		i := *p.Image
		out.Image = &i
	}
	if p.Music != nil {
		m := *p.Music
		out.Music = &m
	}
	return out
}

// ParallelStrategy is the execution strategy chosen by the optimizer.
type ParallelStrategy uint8

const (
	StrategySequential ParallelStrategy = iota
	StrategyParallel
)

func (s ParallelStrategy) String() string {
	if s == StrategyParallel {
		return "parallel"
	}
	return "sequential"
}

// ParallelPlan holds the strategy plus its computed degree. Degree is 1 for
// sequential plans.
type ParallelPlan struct {
	Strategy ParallelStrategy `json:"strategy"`
	Degree   int              `json:"degree"`
}

// Task is one requested unit of work. Tasks are immutable once handed to the
// runtime; the optimizer produces a new copy via Clone rather than editing in
// place.
type Task struct {
	ID        string   `json:"id"`
	Type      Type     `json:"type"`
	Model     string   `json:"model,omitempty"`
	Priority  int      `json:"priority,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
	Params    Params   `json:"params"`

	// Optimizer-attached hints.
	TileSizeHint int          `json:"tile_size_hint,omitempty"`
	Parallel     ParallelPlan `json:"parallel,omitempty"`
}

// New returns a task with a fresh id.
func New(typ Type) Task {
	return Task{ID: uuid.NewString(), Type: typ, Parallel: ParallelPlan{Strategy: StrategySequential, Degree: 1}}
}

// Clone returns a deep copy safe to mutate independently of the original.
func (t Task) Clone() Task {
	out := t
	out.Params = t.Params.clone()
	if t.DependsOn != nil {
		out.DependsOn = append([]string(nil), t.DependsOn...)
	}
	return out
}
