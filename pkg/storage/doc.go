/*
Package storage provides BoltDB-backed persistence for coordinator
state.

The storage package implements the Store interface on bbolt, giving
the coordinator ACID durability for the state that must survive a
restart: the active job queue, job history, user requests, the shop
catalogue, the sales ledger, quarantined refunds and monotonic ID
counters. Values serialize as JSON, one bucket per record type.

# Bucket Structure

	jobs             active jobs, big-endian int64 key
	job_history      terminal jobs, append-only
	requests         user requests by UUID
	agents           last-known agent records
	products         shop catalogue by product name
	sales            sales ledger, bucket sequence key
	pending_refunds  quarantined transactions by ID
	counters         named monotonic counters
	stock_cache      one fixed key, informational snapshot

Int64 keys encode big-endian so a bucket cursor walks records in ID
order without sorting.

# What Is Not Stored

The inventory index is deliberately absent. Containers are the source
of truth for stock; the index rebuilds from a scan at startup and the
stock_cache bucket is only a snapshot for operators inspecting the
database offline. Writing it back never substitutes for a scan.

Reads run in db.View, writes in db.Update; bbolt serializes writers
and allows concurrent readers. BoltStore is safe for concurrent use.
*/
package storage
