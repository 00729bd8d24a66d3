package inbound

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-connections/core"
)

type stubHandler struct {
	surface  string
	handleFn func(ctx context.Context, req core.InboundRequest) (core.InboundResult, error)
	calls    int
}

func (h *stubHandler) Surface() string { return h.surface }

func (h *stubHandler) Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	h.calls++
	if h.handleFn != nil {
		return h.handleFn(ctx, req)
	}
	return core.InboundResult{Accepted: true, StatusCode: http.StatusOK}, nil
}

type stubVerifier struct {
	err error
}

func (v stubVerifier) Verify(context.Context, core.InboundRequest) error { return v.err }

func deauthRequest(deliveryID string) core.InboundRequest {
	return core.InboundRequest{
		ProviderID: "tiktok",
		Surface:    SurfaceDeauthorization,
		Headers:    map[string]string{"X-Message-Id": deliveryID},
		Body:       []byte(`{"event":"authorization.removed","open_id":"acct_9"}`),
	}
}

func TestDispatcher_RoutesToRegisteredSurfaceHandler(t *testing.T) {
	handler := &stubHandler{surface: SurfaceDeauthorization}
	dispatcher := NewDispatcher(stubVerifier{}, NewInMemoryClaimStore())
	if err := dispatcher.Register(handler); err != nil {
		t.Fatalf("register handler: %v", err)
	}

	result, err := dispatcher.Dispatch(context.Background(), deauthRequest("msg_1"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !result.Accepted || result.StatusCode != http.StatusOK {
		t.Fatalf("expected accepted result, got %#v", result)
	}
	if result.Metadata["provider_id"] != "tiktok" || result.Metadata["surface"] != SurfaceDeauthorization {
		t.Fatalf("expected routing metadata, got %#v", result.Metadata)
	}
	if handler.calls != 1 {
		t.Fatalf("expected one handler call, got %d", handler.calls)
	}
}

func TestDispatcher_DuplicateDeliveriesAreAcknowledgedOnce(t *testing.T) {
	handler := &stubHandler{surface: SurfaceDeauthorization}
	dispatcher := NewDispatcher(nil, NewInMemoryClaimStore())
	if err := dispatcher.Register(handler); err != nil {
		t.Fatalf("register handler: %v", err)
	}

	if _, err := dispatcher.Dispatch(context.Background(), deauthRequest("msg_1")); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	result, err := dispatcher.Dispatch(context.Background(), deauthRequest("msg_1"))
	if err != nil {
		t.Fatalf("duplicate dispatch: %v", err)
	}
	if result.Metadata["deduped"] != true {
		t.Fatalf("expected duplicate to be deduped, got %#v", result.Metadata)
	}
	if handler.calls != 1 {
		t.Fatalf("expected one handler call for duplicate delivery, got %d", handler.calls)
	}
}

func TestDispatcher_FailedHandlerReleasesClaimForRetry(t *testing.T) {
	attempts := 0
	handler := &stubHandler{
		surface: SurfaceDeauthorization,
		handleFn: func(context.Context, core.InboundRequest) (core.InboundResult, error) {
			attempts++
			if attempts == 1 {
				return core.InboundResult{}, errors.New("downstream outage")
			}
			return core.InboundResult{Accepted: true, StatusCode: http.StatusOK}, nil
		},
	}
	store := NewInMemoryClaimStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return now }
	dispatcher := NewDispatcher(nil, store)
	if err := dispatcher.Register(handler); err != nil {
		t.Fatalf("register handler: %v", err)
	}

	if _, err := dispatcher.Dispatch(context.Background(), deauthRequest("msg_1")); err == nil {
		t.Fatalf("expected first dispatch to fail")
	}
	result, err := dispatcher.Dispatch(context.Background(), deauthRequest("msg_1"))
	if err != nil {
		t.Fatalf("retry dispatch: %v", err)
	}
	if result.Metadata["deduped"] == true {
		t.Fatalf("expected retry to reprocess, not dedupe")
	}
	if attempts != 2 {
		t.Fatalf("expected two handler attempts, got %d", attempts)
	}
}

func TestDispatcher_VerificationFailureRejectsDelivery(t *testing.T) {
	handler := &stubHandler{surface: SurfaceWebhook}
	dispatcher := NewDispatcher(stubVerifier{err: errors.New("bad signature")}, NewInMemoryClaimStore())
	if err := dispatcher.Register(handler); err != nil {
		t.Fatalf("register handler: %v", err)
	}

	req := core.InboundRequest{
		ProviderID: "linkedin",
		Surface:    SurfaceWebhook,
		Headers:    map[string]string{"X-Message-Id": "msg_5"},
	}
	result, err := dispatcher.Dispatch(context.Background(), req)
	if err == nil {
		t.Fatalf("expected verification error")
	}
	if result.Accepted || result.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized result, got %#v", result)
	}
	if handler.calls != 0 {
		t.Fatalf("expected rejected delivery to skip the handler")
	}
}

func TestDispatcher_RegisterValidation(t *testing.T) {
	dispatcher := NewDispatcher(nil, nil)
	if err := dispatcher.Register(nil); err == nil {
		t.Fatalf("expected nil handler rejection")
	}
	if err := dispatcher.Register(&stubHandler{surface: "carrier_pigeon"}); err == nil {
		t.Fatalf("expected unsupported surface rejection")
	}
	if err := dispatcher.Register(&stubHandler{surface: SurfaceVerification}); err != nil {
		t.Fatalf("register verification handler: %v", err)
	}
	if err := dispatcher.Register(&stubHandler{surface: SurfaceVerification}); err == nil {
		t.Fatalf("expected duplicate surface rejection")
	}
}

func TestDispatcher_RequiresProviderAndKnownSurface(t *testing.T) {
	dispatcher := NewDispatcher(nil, nil)
	if _, err := dispatcher.Dispatch(context.Background(), core.InboundRequest{Surface: SurfaceWebhook}); err == nil {
		t.Fatalf("expected missing provider id rejection")
	}
	if _, err := dispatcher.Dispatch(context.Background(), core.InboundRequest{ProviderID: "tiktok", Surface: "smoke_signal"}); err == nil {
		t.Fatalf("expected unsupported surface rejection")
	}
}

func TestInMemoryClaimStore_CompletedKeysExpireAfterLease(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewInMemoryClaimStore()
	store.Now = func() time.Time { return now }

	claimID, accepted, err := store.Claim(context.Background(), "tiktok:deauthorization:msg_1", time.Minute)
	if err != nil || !accepted {
		t.Fatalf("expected initial claim, got accepted=%v err=%v", accepted, err)
	}
	if err := store.Complete(context.Background(), claimID); err != nil {
		t.Fatalf("complete claim: %v", err)
	}

	if _, accepted, _ = store.Claim(context.Background(), "tiktok:deauthorization:msg_1", time.Minute); accepted {
		t.Fatalf("expected completed key to dedupe inside the lease window")
	}

	now = now.Add(2 * time.Minute)
	if _, accepted, _ = store.Claim(context.Background(), "tiktok:deauthorization:msg_1", time.Minute); !accepted {
		t.Fatalf("expected key to be claimable after the lease expires")
	}
}
