// Package model is the join model of the materialized views: source tables,
// handlers, their targets and each target's join graph.
//
// Definitions come in raw (Definition values, usually produced by the
// CUE loader) and Build validates them into an immutable Metadata. A
// condition side is a sealed Operand, either a LiteralOperand or a
// ColumnRef, so invalid combinations are rejected once at build time and
// never reach SQL generation.
//
// Issue codes:
//
//	E201  condition side is both a literal and a column reference
//	E202  condition side is neither
//	E203  alias unknown or declared after its use
//	E204  column not present in the referenced table
//	E205  unknown or invalid source table
//	E206  duplicate name
//	E207  invalid key (target key must map onto the main source key)
//	E208  empty or reserved identifier
//	E209  join source with no condition on its own columns
//	E210  structural error: no sources, no columns, bad join mode
//	W211  NULL literal in a condition
package model
