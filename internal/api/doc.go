// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - GET /healthz and /readyz for probes; readyz pings the datastore.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/fetchAndSave, GET /api/refresh and POST /api/scheduler/test
//     run a refresh cycle synchronously.
//   - GET /api/getPosts lists, searches and paginates stored articles.
//   - /api/scheduler-status, /api/scheduler/health and the start, stop and
//     restart routes operate the twice-daily timer.
package api
