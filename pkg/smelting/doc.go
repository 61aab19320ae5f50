/*
Package smelting tends the furnace bank.

Each tick drains finished output back to storage, refuels furnaces
below the low-fuel mark from a priority-ordered fuel list without ever
mixing fuel types in one furnace, and feeds inputs toward the
configured smelt targets plus any backlog of planner demand. Input
feeding partitions across idle furnaces up to the slot cap.
*/
package smelting
