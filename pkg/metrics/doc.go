/*
Package metrics exposes Prometheus counters, gauges, and histograms for
the store, the filter resolver, ACP evaluation, the plugin pipeline, and
purge cycles, plus a small health-check registry used by liveness and
readiness probes.

Collector polls pkg/backend.Stats on a 15-second tick and republishes
entry and cache counts as gauges. The observed histograms
(OperationDuration, AccessEvalDuration, PurgeCycleDuration,
RaftCommitDuration) are fed inline at the call site via Timer, not
polled. PluginDuration and ResolveDuration are registered but nothing
observes them.

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.OperationDuration, "create")
*/
package metrics
