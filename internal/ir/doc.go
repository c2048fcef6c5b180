// Package ir provides the shared configuration and record types for kloop.
//
// This package contains type definitions and canonical encodings only. All
// other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types in hashed records - strategy knobs are integers and flags
//   - All JSON tags use snake_case
//   - Logical sequence numbers only, never wall-clock timestamps
//   - Enumerations are typed and every switch over them is exhaustive
package ir
