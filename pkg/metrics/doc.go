/*
Package metrics defines and registers the ledger's Prometheus metrics:
store mutation/lock timing, heartbeat tick outcomes, cleanup-rule reclaim
counts, and call durations. Handler exposes them over HTTP for scraping;
Collector periodically republishes operation-count gauges from anything
satisfying StatsProvider (pkg/ledger.Ledger in practice). The health
sub-file additionally exposes /health, /ready, and /live handlers backed
by a small in-process component registry.
*/
package metrics
