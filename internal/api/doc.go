// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/batch/run to trigger a batch outside the schedule.
//   - GET /v1/batch/last and /v1/batch/status for run inspection.
//   - /v1/publications and /v1/recipients for directory administration.
package api
