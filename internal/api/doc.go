// Package api hosts the local HTTP server, middleware, and REST handlers for
// the job tracker. Notable routes:
//   - GET /healthz / readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET/POST/DELETE /v1/jobs/... for submission and the tracked collection.
//   - GET /v1/services/health, /v1/analytics/{area} and /v1/notifications
//     for backend status, per-area analytics and recent job notifications.
package api
