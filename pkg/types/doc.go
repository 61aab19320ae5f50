/*
Package types defines the core data structures shared across the
coordinator.

This package contains the domain model every other package builds on:
item keys, containers and slots, transfer tasks, jobs and requests,
agents, export targets, and the shop's products, sales and
transactions. Keeping them here breaks import cycles between the
inventory, planning and agent layers.

# Core Types

ItemKey identifies an item as (BaseID, NBTHash). Two stacks with the
same base id but different NBT hashes never merge, so the pair is the
unit of stock accounting. The string form is "base_id" or
"base_id:nbt_hash"; ParseItemKey and ItemKey.String round-trip it.

Container describes one tracked peripheral: name, size, role and the
occupied slots. Roles partition the world:

  - storage: counts toward stock, source and sink for transfers
  - export-buffer: policy-managed destination, not stock
  - furnace: smelting peripheral, not stock
  - agent-inbox: delivery point for a remote agent, not stock
  - manipulator: special-purpose, left alone

Job is one crafting work item with a status machine (pending →
assigned → crafting → completed/failed/cancelled). Request is a user
goal that fans out into jobs. Agent is a remote peer known from bus
heartbeats, with kind, capabilities and derived health.

All types serialize as JSON for persistence and the HTTP API; the
status enums double as API vocabulary.
*/
package types
