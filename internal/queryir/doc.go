// Package queryir is a small query representation over the kernel cache.
//
// Queries name a cache table, a filter and the columns to return. They are
// validated against the cache schema here and compiled to parameterized
// SQL by querysql, so CLI filters never reach the database as text.
//
// QUERY SHAPES:
//
//   - Select(from, filter, columns, limit): one table
//   - Join(left, right, on): inner equi-join of two Selects
//
// PREDICATES:
//
//   - Equals: column = value
//   - Compare: integer column <, <=, >, >= value
//   - Prefix: text column starts with value
//   - And: conjunction, empty means true
//
// There is no OR and no NULL: every cache column is NOT NULL.
//
// Query and Predicate are sealed: only types in this package implement
// them, so compilers can switch over them exhaustively.
package queryir
