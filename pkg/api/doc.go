/*
Package api serves the coordinator's HTTP surface.

A chi router exposes the JSON API under /api (stock, agents, jobs and
their history, requests, products), a /healthz probe and the
Prometheus /metrics endpoint. Handlers delegate to the Backend
interface implemented by the controller; ErrNotFound and
ErrInvalidRequest map to 404 and 400, everything else to 500.
*/
package api
