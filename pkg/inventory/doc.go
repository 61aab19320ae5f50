/*
Package inventory maintains the cached index over every tracked
container.

The index is the coordinator's read model: container slot maps plus
the derived stock, item-location and base-id tables that the transfer
engine, planner and export policy query. Containers are the source of
truth; the index converges on them through periodic scans and stays
approximately right between scans through optimistic transfer
recording.

# Scan

Scan lists every container concurrently. A container whose List fails
keeps its stale entry for one miss and is dropped on the second, so a
flaky peripheral does not flap the stock tables. A forced scan (on
start, and after a tick panic) rebuilds everything from scratch.

# Stock Scope

Stock, locations and the base-id table count storage-role containers
only. Items pushed into export buffers, furnaces or agent inboxes
leave stock; items pulled back in re-enter it. The raw slot maps still
track every container, which is what the export and furnace loops
read.

# Transfer Recording

RecordTransfer applies a completed move to the cache without waiting
for the next scan: source slots shrink or clear, the destination slot
is placed optimistically and marked Dirty so the next scan verifies
it. BeginBatch/EndBatch suspend the per-move location bookkeeping
during a policy tick and settle it once at the end.
*/
package inventory
