// Package webhook authenticates inbound source-control webhooks and decides
// whether they warrant a deploy.
//
// Two providers are supported:
//   - GitHub: HMAC-SHA256 over the raw body in X-Hub-Signature-256, compared
//     in constant time
//   - Gitee: a shared token in X-Gitee-Token, compared with plain equality
//
// Decide is a pure function of the event and the branch of the resolved
// environment; replaying an event yields the same decision.
package webhook
