/*
Package observability turns session lifecycle hooks into logs and metrics.

LogHooks writes structured slog records for every phase change, echo and
surfaced error. Metrics exposes Prometheus counters and a histogram of the
time spent in the "thinking" indicator. Both return domain.Hooks that can be
merged and registered on a session.Manager:

	m, _ := observability.NewMetrics(prometheus.DefaultRegisterer)
	hooks := observability.LogHooks(logger).Merge(m.Hooks())
	mgr := session.NewManager(store, backend, cfg, session.WithSessionHooks(hooks))
*/
package observability
