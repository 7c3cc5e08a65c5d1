// Package api hosts the operator-facing admin HTTP server and middleware.
// Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/jobs, /api/jobs/{job_id}, and /api/jobs/{job_id}/sites for
//     progress reporting via the ProgressRepository interface.
package api
