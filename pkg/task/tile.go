package task

// Region is a rectangular image fragment assigned to one tile.
type Region struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Tile is an atomic executable fragment of a task. Index is unique within one
// decomposition and is the only key used to merge distributed results.
type Tile struct {
	Index    int    `json:"index"`
	TaskID   string `json:"task_id,omitempty"`
	Type     Type   `json:"type"`
	Model    string `json:"model,omitempty"`
	Priority int    `json:"priority,omitempty"`
	Params   Params `json:"params"`

	// Spatial/temporal placement for image and music tiles.
	Region       *Region `json:"region,omitempty"`
	SegmentIndex int     `json:"segment_index,omitempty"`

	// Outputs of tiles this tile depends on, keyed by tile index.
	DependencyCtx map[int][]byte `json:"dependency_ctx,omitempty"`
}

// HasDependencies reports whether the tile carries upstream outputs.
func (t Tile) HasDependencies() bool { return len(t.DependencyCtx) > 0 }

// Result is the outcome of executing one tile. A batch of N tiles always
// yields N results; failures are captured in the tile's own slot.
type Result struct {
	TileIndex int     `json:"tile_index"`
	Success   bool    `json:"success"`
	Error     string  `json:"error,omitempty"`
	Payload   []byte  `json:"payload,omitempty"`
	Encoding  string  `json:"encoding,omitempty"`
	LatencyMS float64 `json:"latency_ms,omitempty"`
}

// ErrorResult builds a failed result slot for a tile.
func ErrorResult(index int, reason string) Result {
	return Result{TileIndex: index, Success: false, Error: reason}
}
