// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/projects/... for project onboarding, phase control, and crawl history.
//   - /v1/pages/... for crawled-page inspection, label edits, and content.
package api
