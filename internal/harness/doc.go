// Package harness runs k-loop scenarios: it compiles a strategy, generates
// its kernel, executes the kernel in the interpreter over a set of trip
// counts and checks assertions on the schedule, the program and the
// verdicts.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: basic_trip_counts
//	description: "Single-element tiles run every trip-count class"
//	specs:
//	  - ../strategies/basic.cue
//	strategy: basic
//	trip_counts: [0, 1, 3]
//	assertions:
//	  - type: all_pass
//	  - type: back_edges
//	    k: 3
//	    executed: 3
//	    taken: 2
//
// When neither trip_counts nor max_k is given, every trip count from 0
// through the short-loop limit plus two blocks is run.
//
// # Assertion Types
//
//   - all_pass: every verdict passed
//   - schedule: block_length, warmup_length and threshold of the schedule
//   - back_edges: back-edge executions and taken branches at trip count k
//   - path: the path (main or short) taken at trip count k
//   - op_count: static count of an opcode in the program
//   - error: generation fails with the given code
//
// # Deterministic Testing
//
// Each scenario runs against a fresh in-memory kernel cache with a
// deterministic clock and a fixed run ID, so the snapshot compared by
// RunWithGolden is byte-identical across runs.
package harness
