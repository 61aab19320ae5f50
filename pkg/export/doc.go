/*
Package export enforces declarative container targets each tick.

A target names a container, a mode and a set of slot specs. Stock mode
tops slots up to their quantity from storage; empty mode drains
anything above it back. Vacuum specs sweep unmatched items out of the
container, protecting slots a sibling spec has claimed. A tick runs
inside an index batch so one pass of bookkeeping settles all moves.
*/
package export
