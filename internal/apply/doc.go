// Package apply turns batches of changed keys into materialized writes.
//
// A Task carries one changed key and the CommitHandler that will
// acknowledge it. Actions consume task lists:
//
//	Sync           reads the current target rows of main-table keys and
//	               writes upserts for found rows, deletes for missing ones
//	Delete         deletes target rows by main key, no read; not routed
//	               by the dispatcher
//	KeysTransform  maps keys of a joined table onto the main-table keys
//	               whose target rows read them, then hands those to Sync
//
// Every action deduplicates keys before reading, reads in chunks of the
// read batch size (one statement per chunk, through the context's retry
// policy) and partitions its tasks by commit handler so each handler gets
// one Write per batch.
//
// A Dispatcher owns the actions of one handler, routes tasks to them and
// runs their workers. Upserts and deletes of a main table both go to its
// Sync. Each worker owns a Diagnostics value; nothing
// mutable is shared between workers besides the queues.
package apply
