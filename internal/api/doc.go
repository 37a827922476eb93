// Package api hosts the read-only status server. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/checkpoint for the completed segments of the namespace.
//   - GET /v1/warehouse for row counts per layer, plus dimension and fact
//     lookups below it.
package api
