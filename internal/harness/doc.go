// Package harness runs materialized-view scenarios end to end.
//
// A scenario loads CUE view definitions, creates the source and target
// tables in a scratch SQLite store, then replays a list of steps against
// one handler: raw SQL on the source tables, change-log entries, feeder
// polls and full scans. The resulting target tables are snapshotted and
// checked against the scenario's assertions and, in tests, a golden file.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	definitions: ../views        # CUE file or directory, relative to the scenario
//	handler: sales
//	settings:                    # optional handler settings
//	  select_batch_size: 2
//	scan:                        # optional scan settings
//	  page_size: 2
//	steps:
//	  - sql: INSERT INTO orders (id, status) VALUES (1, 'open')
//	  - change: { table: orders, op: upsert, key: [1] }
//	  - poll: orders
//	  - scan: order_view
//	assertions:
//	  - type: row_count
//	    table: order_view
//	    count: 1
//	  - type: row
//	    table: order_view
//	    where: { id: 1 }
//	    expect: { status: open }
//	  - type: absent
//	    table: open_orders
//	    where: { id: 2 }
//	  - type: offset
//	    table: orders
//	    seq: 1
//
// A poll step runs one feeder poll of a table and waits for every task of
// the batch to be acknowledged, so steps observe each other's effects in
// order.
//
// # Golden Files
//
// RunWithGolden compares the rendered snapshot with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
