/*
Package driver abstracts the container peripherals.

Driver is the narrow interface the rest of the coordinator sees:
discover containers, list and inspect slots, push and pull stacks.
Every call takes a context and reports moved counts truthfully, short
moves included.

SimDriver implements the interface in memory with the peripheral
semantics the real fabric exhibits (stack merging, blocked slots,
unavailable containers) and loads fixture worlds from YAML; it backs
both the test suites and --world runs on hosts with no peripherals.
*/
package driver
