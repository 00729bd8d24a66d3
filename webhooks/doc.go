// Package webhooks verifies and processes platform push notifications,
// including the deauthorization events that revoke a connection.
//
// Delivery processing is driven by a claim lifecycle:
// pending/retry_ready -> processing -> processed|dead.
// This makes retries and crash-recovery explicit and prevents transient
// failures from being deduped as permanently processed.
package webhooks
