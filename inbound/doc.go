// Package inbound routes platform-originated notifications to surface
// handlers.
//
// Provider-originated inbound paths use claim/complete/fail idempotency
// semantics so transient handler failures remain retryable.
package inbound
