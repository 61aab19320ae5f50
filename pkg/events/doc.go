/*
Package events provides the in-memory event broker for coordinator
pub/sub messaging.

The events package implements a lightweight event bus for broadcasting
coordinator events to interested subscribers. Everything is broadcast;
subscribers filter by Event.Type. Delivery is asynchronous and
non-blocking, so a slow subscriber drops events rather than stalling a
publisher.

# Event Flow

	Publisher → Event Channel (buffer: 100)
	     ↓
	Broadcast Loop
	     ↓
	Subscriber Channels (buffer: 50 each)

# Event Types

Shop events:
  - purchase, transaction
  - product_create, product_update, product_delete
  - history_undo

Agent events:
  - agent_status_change, aisle_status_change
  - crafter_idle, worker_idle

Crafting events:
  - craft_complete, craft_failed

# Usage

Subscribing:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for event := range sub {
		if event.Type != events.EventCraftComplete {
			continue
		}
		// React to the completion...
	}

Publishing:

	broker.Publish(events.New(events.EventCraftFailed, "out of materials",
		map[string]any{"jobId": job.ID}))

Publish fills in the ID and timestamp when the caller leaves them
zero. Events are fire-and-forget: nothing is persisted, and a
subscriber that joins late never sees history. Durable records (sales,
jobs, requests) live in pkg/storage instead.
*/
package events
