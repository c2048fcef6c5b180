package ir

// Version constants for the strategy schema and the generator.
const (
	// SchemaVersion is the strategy/kernel record schema version.
	SchemaVersion = "1"

	// GeneratorVersion is the kloop generator version. It is folded into
	// kernel IDs so that cached kernels are invalidated by generator changes.
	GeneratorVersion = "0.3.0"
)
