// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to trigger a run, POST /v1/runs/{run_id}/abort to stop one.
//   - GET /v1/runs/{run_id} for the run status surface.
//   - GET /v1/sources for supported sources and an owner's enabled settings.
package api
