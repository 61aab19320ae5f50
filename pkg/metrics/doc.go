/*
Package metrics defines the Prometheus metrics for the coordinator.

All metrics register on the Prometheus default registry at package
init and are exposed by the API server under /metrics. Names carry the
fabric_ prefix.

# Metrics Catalog

Inventory:

	fabric_containers_total{role}        gauge      tracked containers by role
	fabric_stock_items_total             gauge      total items across tracked containers
	fabric_stock_keys_total              gauge      distinct item keys with positive stock
	fabric_scan_duration_seconds         histogram  full inventory scan duration

Transfers:

	fabric_transfers_total{outcome}      counter    transfer tasks by outcome
	fabric_items_moved_total             counter    items moved by the transfer engine
	fabric_export_tick_duration_seconds  histogram  export policy tick duration

Agents and jobs:

	fabric_agents_total{kind,health}     gauge      registered agents
	fabric_jobs_total{status}            gauge      live jobs by status
	fabric_jobs_completed_total          counter
	fabric_jobs_failed_total             counter

Scheduler:

	fabric_tick_duration_seconds{task}   histogram  periodic task tick duration
	fabric_tick_panics_total{task}       counter    recovered tick panics

Shop:

	fabric_shop_purchases_total          counter    completed purchases
	fabric_shop_refunds_total{kind}      counter    refunds issued by kind

# Usage

	metrics.ItemsMoved.Add(float64(moved))
	metrics.TransfersTotal.WithLabelValues("ok").Inc()

Timing an operation:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ScanDuration)

Keep label cardinality bounded: roles, statuses and task names, never
item keys or container names.
*/
package metrics
