// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scout and /v1/scout/missions/{name} to run an ingestion.
//   - /v1/leads, /v1/webhook, /v1/sync and /v1/workflow for the lead
//     collection and CRM delivery.
//   - GET /v1/runs and /v1/deliveries for run history via the
//     store.RunRepository interface.
package api
