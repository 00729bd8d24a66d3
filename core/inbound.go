package core

import (
	"context"
	"time"
)

// InboundRequest is a notification a platform pushed at us, a webhook body,
// a deauthorization event or a verification challenge.
type InboundRequest struct {
	ProviderID string
	Surface    string
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type InboundResult struct {
	Accepted   bool
	StatusCode int
	Metadata   map[string]any
}

type InboundHandler interface {
	Surface() string
	Handle(ctx context.Context, req InboundRequest) (InboundResult, error)
}

// IdempotencyClaimStore serializes processing of duplicate deliveries. Claim
// returns a claim id and whether the caller owns the key; owners settle the
// claim with Complete or Fail.
type IdempotencyClaimStore interface {
	Claim(ctx context.Context, key string, lease time.Duration) (string, bool, error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, retryAt time.Time) error
}
