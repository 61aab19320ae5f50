/*
Package bus is the broadcast message channel between the coordinator
and its remote agents.

Envelopes are msgpack-encoded records sent over broadcast UDP, the
closest wired analogue to the in-world wireless modem: every peer
hears every datagram, delivery is best effort, and there is no
ordering across senders. Receivers drop their own loopback traffic and
anything addressed to a different TargetID.

Inbound envelopes dispatch synchronously to handlers registered with
On, in registration order; an envelope no handler consumes is queued
for Receive. Handlers run on the receive pump and must not block.

The envelope vocabulary (PING/PONG heartbeats, STATUS, CRAFT_* and
WORK_* job traffic, COMMAND/ACK/COMPLETE/ERROR for the turtle fleet,
AISLE-* and SHOPSYNC for the shop) is shared by every process in the
fabric; agents written in other languages speak the same msgpack
schema.
*/
package bus
