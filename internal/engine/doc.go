// Package engine implements the kloop scheduler: the event catalog, the
// timeline analyzer and the phase materializer.
//
// The scheduler decides when, in program order, each configured unit of
// work of a k-loop is emitted, and inserts the control flow that keeps the
// ordering correct for every runtime trip count.
//
// ARCHITECTURE:
//
// Catalog -> Analyze -> Schedule -> Materialize -> Hooks/Actions
//
//  1. Callers register periodic events (Every, Duration, Lookahead,
//     Variants, Phase, Delay) and their alternatives in a Catalog.
//  2. Analyze computes the block length (lcm of periods), the warmup
//     window, and the main-loop threshold R by simulating every event's
//     cursor for concrete trip counts.
//  3. Materialize walks the Schedule once per phase: Warmup, MainLoop,
//     MainPathEnd, Cooldown, Remainder, ShortLoop, ShortLoopEnd. Control
//     flow goes through caller-supplied Hooks; work goes through actions.
//
// CRITICAL PATTERNS:
//
// Determinism:
// Occurrences at the same block position are issued in registration order.
// Analysis is a pure function of the catalog; analysing twice yields the
// same Schedule byte for byte.
//
// Explicit build state:
// Actions receive the build context by pointer. The materializer snapshots
// it by value before emission and restores it for the short loop.
//
// Fail before emitting:
// Every ConfigurationError is raised before the first hook or action call.
package engine
