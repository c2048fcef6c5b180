package ir

// KernelRecord is a generated k-loop kernel as persisted in the cache.
type KernelRecord struct {
	ID               string `json:"id"`
	StrategyName     string `json:"strategy_name"`
	StrategyHash     string `json:"strategy_hash"`
	StrategyJSON     string `json:"strategy_json"`
	GeneratorVersion string `json:"generator_version"`
	BlockLength      int    `json:"block_length"`
	WarmupLength     int    `json:"warmup_length"`
	Threshold        int    `json:"threshold"`
	Instructions     int    `json:"instructions"`
	Listing          string `json:"listing"`
	ListingHash      string `json:"listing_hash"`
	// ShortLoopExtent is the forced short-loop extent the kernel was
	// generated with; 0 if none.
	ShortLoopExtent int    `json:"short_loop_extent,omitempty"`
	RunID           string `json:"run_id"`
	Seq             int64  `json:"seq"`
}

// GenerationRun groups the kernels produced by one CLI invocation.
type GenerationRun struct {
	ID      string `json:"id"`
	Seq     int64  `json:"seq"`
	Command string `json:"command"`
	Kernels int    `json:"kernels"`
}

// Verdict is the outcome of executing a generated kernel for one trip count.
type Verdict struct {
	K          int      `json:"k"`
	Path       string   `json:"path"`
	MaxError   float64  `json:"max_error"`
	Hazards    []string `json:"hazards,omitempty"`
	Violations []string `json:"violations,omitempty"`
	Passed     bool     `json:"passed"`

	// BackEdges counts executions of the loop back-edge branch; Taken
	// counts those that branched.
	BackEdges int `json:"back_edges"`
	Taken     int `json:"taken"`

	// Executed is the number of instructions thread 0 executed.
	Executed int `json:"executed"`
}

// Path names for Verdict.Path.
const (
	PathMain  = "main"
	PathShort = "short"
)
