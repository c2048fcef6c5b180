// Package compiler turns CUE strategy definitions into ir.Strategy values
// and validates them.
//
// A strategy file declares one or more named strategies:
//
//	strategy: wide: {
//		tile_m:      8
//		tile_n:      8
//		wg_m:        2
//		wg_n:        2
//		slm_a:       true
//		slm_buffers: 2
//	}
//
// Every strategy is unified with the closed #Strategy schema before it is
// read, so unknown fields, wrong kinds and out-of-range values are reported
// with their CUE source positions.
package compiler
