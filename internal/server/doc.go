// Package server implements the HTTP surface of the deployhook webhook
// receiver.
//
// This package provides:
//   - one webhook route per deploy target, all served by a single handler
//     parameterized by the target
//   - GitHub (HMAC-SHA256) and Gitee (token) authentication via internal/webhook
//   - health, per-target status and Prometheus metrics endpoints
//   - per-IP rate limiting and structured request logging
//
// The server integrates with other packages:
//   - internal/target: configuration and the target registry
//   - internal/environment: host to test/production profile resolution
//   - internal/deployment: deploy decisions, per-target locks and the supervisor
//   - internal/metrics: Prometheus collectors
//
// Request checks, in order:
//   - payload size limit (1MB max)
//   - provider identification from X-GitHub-Event / X-Gitee-Event
//   - Content-Type must be application/json
//   - authentication against the target's secret
//   - JSON validity
//
// Deploys run asynchronously; the handler answers 200 as soon as the job is
// dispatched and a second deploy for a busy target is rejected with 429.
package server
