// Package store runs generated statements against SQLite or PostgreSQL and
// keeps the system tables the change sources need.
//
// # System Tables
//
//   - mv_changes: the change log, one row per source-row change, ordered by seq
//   - mv_offsets: last acknowledged change-log seq per (handler, table)
//   - mv_scans: keyset position of a scan per (handler, target)
//
// # Parameters
//
// Every generated statement binds at most one list parameter. It is shipped
// as JSON text under its bind-variable name (@sys_keys, @sys_rows,
// @sys_after) and expanded into a relation by the statement itself. Named
// binding is native in go-sqlite3 and rewritten by pgx.NamedArgs.
//
// # Database Configuration (SQLite)
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - One open connection: SQLite allows a single writer
package store
