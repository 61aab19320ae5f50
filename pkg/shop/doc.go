/*
Package shop implements the point of sale over the payment stream.

A transaction arrives on the websocket stream with a value and
metadata. The engine resolves the product from the first bare metadata
field, computes quantity as value over price, caps it by live stock,
dispenses through an aisle agent, and refunds change or the
undelivered remainder. Partial dispenses charge only what was
delivered.

Transactions whose metadata carries operator message=/error= pairs are
quarantined to the pending-refund queue instead of being refunded
inline, so a gateway echoing our own refund messages cannot start a
loop. ProcessPendingRefunds drains that queue under operator control.

Every sale is appended to the bbolt ledger with quantity, value and
refunded amount.
*/
package shop
