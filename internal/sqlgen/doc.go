// Package sqlgen compiles a target's join graph into parameterized
// statements.
//
// Every statement binds at most one parameter: a list-of-struct value
// (data.StructList) shipped as a JSON array and expanded by the dialect into
// a relation. One statement therefore answers a whole batch of keys in a
// single round trip, however many keys it carries. The parameter names are
// fixed:
//
//	sys_keys   key lists for refresh reads, key transforms and deletes
//	sys_rows   row lists for upserts
//	sys_after  the last key of the previous page of a scan
//
// Schema constants from join conditions are rendered inline as escaped
// literals. Row data is always bound.
package sqlgen
