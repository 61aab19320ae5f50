/*
Package queue is the persistent ordered queue of crafting jobs.

Job IDs are monotonic integers from a persisted counter, so they never
repeat across restarts. The status machine is pending → assigned →
crafting → completed/failed/cancelled; terminal jobs leave the active
bbolt bucket for an append-only history bucket and a bounded in-memory
ring per outcome. Adding a job reserves its exact input multiset
against a stock snapshot and fails with a structured shortfall list
when inputs are short.
*/
package queue
