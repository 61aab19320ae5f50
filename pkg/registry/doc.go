/*
Package registry tracks remote agents and derives their health.

Agents register implicitly on first heartbeat. Health is a pure
function of heartbeat age — online under 30s, degraded under 120s,
offline past that — and Sweep publishes a status-change event for
every transition it observes. GetIdle answers the dispatcher's
question: the lowest-ID idle, non-offline agent claiming a capability.
*/
package registry
