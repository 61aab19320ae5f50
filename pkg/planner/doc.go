/*
Package planner turns a user request into crafting jobs.

Plan walks the recipe tree for the requested item, queueing a job per
craftable node and recursing into inputs the projected stock cannot
cover. Missing materials defer the parent rather than failing it;
items that are smeltable but not craftable are noted as smelt demand
for the furnace loop. Cycle and depth guards fail a plan outright.
Planning is idempotent per request: jobs already queued for it are
counted before new ones are added.
*/
package planner
