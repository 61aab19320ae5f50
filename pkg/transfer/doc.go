/*
Package transfer moves items between containers through the peripheral
driver.

The engine plans a withdrawal against the inventory index (largest
stacks first, ties broken by container then slot), executes the moves
in bounded parallel batches, and records every completed move back
into the index. The driver's returned count is authoritative: a move
that lands short is recorded short, never assumed.

Pushes into export-buffer containers are refused unless the engine has
been told the buffer is a registered export target; that guard keeps
ad-hoc withdrawals from burying a buffer the export policy is
managing.
*/
package transfer
