package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-connections/core"
)

type fakeDoer struct {
	responses []*http.Response
	err       error
	requests  []*http.Request
	forms     []url.Values
}

func (d *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	d.requests = append(d.requests, req)
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		values, _ := url.ParseQuery(string(raw))
		d.forms = append(d.forms, values)
	} else {
		d.forms = append(d.forms, url.Values{})
	}
	if d.err != nil {
		return nil, d.err
	}
	if len(d.responses) == 0 {
		return jsonResponse(http.StatusOK, `{"access_token":"tok"}`), nil
	}
	response := d.responses[0]
	d.responses = d.responses[1:]
	return response, nil
}

func jsonResponse(status int, payload string) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(payload)),
	}
}

func formResponse(status int, payload string) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(payload)),
	}
}

func newTestProvider(t *testing.T, doer HTTPDoer, mutate func(*CodeGrantConfig)) *CodeGrantProvider {
	t.Helper()
	cfg := CodeGrantConfig{
		ID:            "acme",
		AuthURL:       "https://auth.acme.example/authorize",
		TokenURL:      "https://auth.acme.example/token",
		RevokeURL:     "https://auth.acme.example/revoke",
		ClientID:      "client-123",
		ClientSecret:  "secret-456",
		DefaultScopes: []string{"profile.read", "media.read"},
		TokenTTL:      time.Hour,
		HTTPClient:    doer,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	provider, err := NewCodeGrantProvider(cfg)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func TestNewCodeGrantProvider_RequiresIDURLsAndClientID(t *testing.T) {
	_, err := NewCodeGrantProvider(CodeGrantConfig{})
	if err == nil {
		t.Fatalf("expected validation error")
	}

	_, err = NewCodeGrantProvider(CodeGrantConfig{
		ID:      "acme",
		AuthURL: "https://auth.acme.example/authorize",
	})
	if err == nil {
		t.Fatalf("expected missing token url validation error")
	}

	_, err = NewCodeGrantProvider(CodeGrantConfig{
		ID:       "acme",
		AuthURL:  "https://auth.acme.example/authorize",
		TokenURL: "https://auth.acme.example/token",
	})
	if err == nil {
		t.Fatalf("expected missing client id validation error")
	}
}

func TestCodeGrantProvider_BuildAuthorizationURL(t *testing.T) {
	provider := newTestProvider(t, &fakeDoer{}, nil)

	redirect, err := provider.BuildAuthorizationURL(context.Background(), core.AuthorizationRequest{
		UserID:      "usr_1",
		ProviderID:  "acme",
		RedirectURI: "https://app.example/callback",
		State:       "state_1",
		Scopes:      []string{"media.read"},
	})
	if err != nil {
		t.Fatalf("build authorization url: %v", err)
	}
	if redirect.State != "state_1" {
		t.Fatalf("expected state_1, got %q", redirect.State)
	}

	parsed, err := url.Parse(redirect.URL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	query := parsed.Query()
	if query.Get("response_type") != "code" {
		t.Fatalf("expected response_type=code, got %q", query.Get("response_type"))
	}
	if query.Get("client_id") != "client-123" {
		t.Fatalf("expected client_id query value")
	}
	if query.Get("redirect_uri") != "https://app.example/callback" {
		t.Fatalf("expected redirect_uri query value")
	}
	if query.Get("scope") != "media.read" {
		t.Fatalf("expected requested scope, got %q", query.Get("scope"))
	}
	if query.Get("state") != "state_1" {
		t.Fatalf("expected state query value")
	}
}

func TestCodeGrantProvider_BuildAuthorizationURL_DefaultsAndExistingQuery(t *testing.T) {
	provider := newTestProvider(t, &fakeDoer{}, func(cfg *CodeGrantConfig) {
		cfg.AuthURL = "https://auth.acme.example/authorize?tenant=main"
	})

	redirect, err := provider.BuildAuthorizationURL(context.Background(), core.AuthorizationRequest{
		UserID:     "usr_1",
		ProviderID: "acme",
	})
	if err != nil {
		t.Fatalf("build authorization url: %v", err)
	}
	if redirect.State == "" {
		t.Fatalf("expected generated state")
	}
	if strings.Count(redirect.URL, "?") != 1 {
		t.Fatalf("expected query appended with &, got %q", redirect.URL)
	}

	parsed, err := url.Parse(redirect.URL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	query := parsed.Query()
	if query.Get("tenant") != "main" {
		t.Fatalf("expected existing query preserved")
	}
	if query.Get("scope") != "media.read profile.read" {
		t.Fatalf("expected default scopes, got %q", query.Get("scope"))
	}
}

func TestCodeGrantProvider_ExchangeCode(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{
			"access_token": "at-1",
			"refresh_token": "rt-1",
			"token_type": "Bearer",
			"scope": "profile.read media.read",
			"expires_in": 3600,
			"open_id": "acct-42"
		}`),
	}}
	provider := newTestProvider(t, doer, nil)

	grant, err := provider.ExchangeCode(context.Background(), core.ExchangeRequest{
		Code:        "code_123",
		RedirectURI: "https://app.example/callback",
	})
	if err != nil {
		t.Fatalf("exchange code: %v", err)
	}
	if grant.AccessToken != "at-1" {
		t.Fatalf("expected access token at-1, got %q", grant.AccessToken)
	}
	if grant.RefreshToken != "rt-1" {
		t.Fatalf("expected refresh token rt-1, got %q", grant.RefreshToken)
	}
	if grant.TokenType != "bearer" {
		t.Fatalf("expected bearer token type, got %q", grant.TokenType)
	}
	if grant.AccountID != "acct-42" {
		t.Fatalf("expected account id acct-42, got %q", grant.AccountID)
	}
	if grant.ExpiresAt == nil {
		t.Fatalf("expected expires at")
	}
	if len(grant.GrantedScopes) != 2 {
		t.Fatalf("expected two granted scopes, got %v", grant.GrantedScopes)
	}

	if len(doer.requests) != 1 {
		t.Fatalf("expected one token request, got %d", len(doer.requests))
	}
	request := doer.requests[0]
	if request.Method != http.MethodPost {
		t.Fatalf("expected POST, got %s", request.Method)
	}
	if user, pass, ok := request.BasicAuth(); !ok || user != "client-123" || pass != "secret-456" {
		t.Fatalf("expected basic auth credentials")
	}
	form := doer.forms[0]
	if form.Get("grant_type") != "authorization_code" {
		t.Fatalf("expected authorization_code grant, got %q", form.Get("grant_type"))
	}
	if form.Get("code") != "code_123" {
		t.Fatalf("expected code form value")
	}
	if form.Get("redirect_uri") != "https://app.example/callback" {
		t.Fatalf("expected redirect_uri form value")
	}
	if form.Get("client_secret") != "" {
		t.Fatalf("expected client secret to stay out of the body")
	}
}

func TestCodeGrantProvider_ExchangeCode_FormEncodedResponse(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		formResponse(http.StatusOK, "access_token=at-2&token_type=bearer&expires_in=1800"),
	}}
	provider := newTestProvider(t, doer, nil)

	grant, err := provider.ExchangeCode(context.Background(), core.ExchangeRequest{Code: "code_123"})
	if err != nil {
		t.Fatalf("exchange code: %v", err)
	}
	if grant.AccessToken != "at-2" {
		t.Fatalf("expected access token at-2, got %q", grant.AccessToken)
	}
	if grant.RefreshToken != "" {
		t.Fatalf("expected no refresh token, got %q", grant.RefreshToken)
	}
}

func TestCodeGrantProvider_ExchangeCode_DenialIsRejected(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusBadRequest, `{"error":"invalid_grant","error_description":"code expired"}`),
	}}
	provider := newTestProvider(t, doer, nil)

	_, err := provider.ExchangeCode(context.Background(), core.ExchangeRequest{Code: "code_123"})
	if err == nil {
		t.Fatalf("expected exchange error")
	}
	if !core.IsProviderRejected(err) {
		t.Fatalf("expected rejected classification, got %v", err)
	}
	if core.IsProviderUnavailable(err) {
		t.Fatalf("did not expect unavailable classification")
	}
}

func TestCodeGrantProvider_ExchangeCode_OutageIsUnavailable(t *testing.T) {
	cases := map[string]*fakeDoer{
		"server error": {responses: []*http.Response{
			jsonResponse(http.StatusServiceUnavailable, `{"error":"server_error"}`),
		}},
		"rate limited": {responses: []*http.Response{
			jsonResponse(http.StatusTooManyRequests, `{"error":"slow_down"}`),
		}},
		"network failure": {err: errors.New("dial tcp: connection refused")},
		"missing access token": {responses: []*http.Response{
			jsonResponse(http.StatusOK, `{"token_type":"bearer"}`),
		}},
		"transient oauth error": {responses: []*http.Response{
			jsonResponse(http.StatusOK, `{"error":"temporarily_unavailable"}`),
		}},
	}

	for name, doer := range cases {
		provider := newTestProvider(t, doer, nil)
		_, err := provider.ExchangeCode(context.Background(), core.ExchangeRequest{Code: "code_123"})
		if err == nil {
			t.Fatalf("%s: expected exchange error", name)
		}
		if !core.IsProviderUnavailable(err) {
			t.Fatalf("%s: expected unavailable classification, got %v", name, err)
		}
		if core.IsProviderRejected(err) {
			t.Fatalf("%s: did not expect rejected classification", name)
		}
	}
}

func TestCodeGrantProvider_ExchangeCode_SuccessWithErrorPayloadIsRejected(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{"error":"access_denied"}`),
	}}
	provider := newTestProvider(t, doer, nil)

	_, err := provider.ExchangeCode(context.Background(), core.ExchangeRequest{Code: "code_123"})
	if err == nil {
		t.Fatalf("expected exchange error")
	}
	if !core.IsProviderRejected(err) {
		t.Fatalf("expected rejected classification, got %v", err)
	}
}

func TestCodeGrantProvider_SecretInBody(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{"access_token":"at-1"}`),
	}}
	provider := newTestProvider(t, doer, func(cfg *CodeGrantConfig) {
		cfg.ClientSecretInBody = true
	})

	if _, err := provider.ExchangeCode(context.Background(), core.ExchangeRequest{Code: "code_123"}); err != nil {
		t.Fatalf("exchange code: %v", err)
	}
	if _, _, ok := doer.requests[0].BasicAuth(); ok {
		t.Fatalf("did not expect basic auth")
	}
	if doer.forms[0].Get("client_secret") != "secret-456" {
		t.Fatalf("expected client secret in form body")
	}
}

func TestCodeGrantProvider_RevokeGrant(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{}`),
	}}
	provider := newTestProvider(t, doer, nil)

	err := provider.RevokeGrant(context.Background(), core.RevokeRequest{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
	})
	if err != nil {
		t.Fatalf("revoke grant: %v", err)
	}
	if len(doer.requests) != 1 {
		t.Fatalf("expected one revocation request, got %d", len(doer.requests))
	}
	if doer.forms[0].Get("token") != "rt-1" {
		t.Fatalf("expected refresh token preferred for revocation, got %q", doer.forms[0].Get("token"))
	}
}

func TestCodeGrantProvider_RevokeGrant_Classification(t *testing.T) {
	outage := newTestProvider(t, &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusBadGateway, `{}`),
	}}, nil)
	err := outage.RevokeGrant(context.Background(), core.RevokeRequest{AccessToken: "at-1"})
	if !core.IsProviderUnavailable(err) {
		t.Fatalf("expected unavailable classification, got %v", err)
	}

	denied := newTestProvider(t, &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusBadRequest, `{}`),
	}}, nil)
	err = denied.RevokeGrant(context.Background(), core.RevokeRequest{AccessToken: "at-1"})
	if !core.IsProviderRejected(err) {
		t.Fatalf("expected rejected classification, got %v", err)
	}
}

func TestCodeGrantProvider_RevokeGrant_NoEndpointOrTokenIsNoop(t *testing.T) {
	doer := &fakeDoer{}
	provider := newTestProvider(t, doer, func(cfg *CodeGrantConfig) {
		cfg.RevokeURL = ""
	})
	if err := provider.RevokeGrant(context.Background(), core.RevokeRequest{AccessToken: "at-1"}); err != nil {
		t.Fatalf("revoke without endpoint: %v", err)
	}

	withEndpoint := newTestProvider(t, doer, nil)
	if err := withEndpoint.RevokeGrant(context.Background(), core.RevokeRequest{}); err != nil {
		t.Fatalf("revoke without tokens: %v", err)
	}
	if len(doer.requests) != 0 {
		t.Fatalf("expected no revocation requests, got %d", len(doer.requests))
	}
}

func TestRenewableProvider_RefreshGrant(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{
			"access_token": "at-next",
			"refresh_token": "rt-next",
			"expires_in": 3600
		}`),
	}}
	provider, err := NewRenewableProvider(CodeGrantConfig{
		ID:           "acme",
		AuthURL:      "https://auth.acme.example/authorize",
		TokenURL:     "https://auth.acme.example/token",
		ClientID:     "client-123",
		ClientSecret: "secret-456",
		HTTPClient:   doer,
	})
	if err != nil {
		t.Fatalf("new renewable provider: %v", err)
	}

	if !provider.Capabilities().SupportsRefresh {
		t.Fatalf("expected renewable provider to support refresh")
	}

	grant, err := provider.RefreshGrant(context.Background(), core.RefreshGrantRequest{
		RefreshToken: "rt-old",
	})
	if err != nil {
		t.Fatalf("refresh grant: %v", err)
	}
	if grant.AccessToken != "at-next" {
		t.Fatalf("expected rotated access token, got %q", grant.AccessToken)
	}
	if grant.RefreshToken != "rt-next" {
		t.Fatalf("expected rotated refresh token, got %q", grant.RefreshToken)
	}

	form := doer.forms[0]
	if form.Get("grant_type") != "refresh_token" {
		t.Fatalf("expected refresh_token grant, got %q", form.Get("grant_type"))
	}
	if form.Get("refresh_token") != "rt-old" {
		t.Fatalf("expected refresh token form value")
	}
}

func TestRenewableProvider_RefreshGrant_DenialIsRejected(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusBadRequest, `{"error":"invalid_grant"}`),
	}}
	provider, err := NewRenewableProvider(CodeGrantConfig{
		ID:         "acme",
		AuthURL:    "https://auth.acme.example/authorize",
		TokenURL:   "https://auth.acme.example/token",
		ClientID:   "client-123",
		HTTPClient: doer,
	})
	if err != nil {
		t.Fatalf("new renewable provider: %v", err)
	}

	_, err = provider.RefreshGrant(context.Background(), core.RefreshGrantRequest{RefreshToken: "rt-old"})
	if !core.IsProviderRejected(err) {
		t.Fatalf("expected rejected classification, got %v", err)
	}
}

func TestCodeGrantProvider_CapabilitiesDoNotRefresh(t *testing.T) {
	provider := newTestProvider(t, &fakeDoer{}, nil)
	caps := provider.Capabilities()
	if caps.SupportsRefresh {
		t.Fatalf("expected plain code grant provider to not support refresh")
	}
	if caps.ProviderID != "acme" {
		t.Fatalf("expected provider id acme, got %q", caps.ProviderID)
	}
	if caps.RevocationURL == "" {
		t.Fatalf("expected revocation url")
	}
}

type recordingThrottle struct {
	beforeErr   error
	beforeCalls []string
	afterMeta   []core.ThrottleResponseMeta
}

func (th *recordingThrottle) BeforeCall(_ context.Context, providerID string, bucket string) error {
	th.beforeCalls = append(th.beforeCalls, providerID+":"+bucket)
	return th.beforeErr
}

func (th *recordingThrottle) AfterCall(_ context.Context, _ string, _ string, meta core.ThrottleResponseMeta) error {
	th.afterMeta = append(th.afterMeta, meta)
	return nil
}

func TestCodeGrantProvider_ThrottleGatesTokenEndpoint(t *testing.T) {
	throttle := &recordingThrottle{}
	doer := &fakeDoer{responses: []*http.Response{jsonResponse(http.StatusOK, `{"access_token":"tok"}`)}}
	provider := newTestProvider(t, doer, func(cfg *CodeGrantConfig) {
		cfg.Throttle = throttle
	})

	_, err := provider.ExchangeCode(context.Background(), core.ExchangeRequest{Code: "abc"})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if len(throttle.beforeCalls) != 1 || throttle.beforeCalls[0] != "acme:token" {
		t.Fatalf("expected one token bucket check, got %#v", throttle.beforeCalls)
	}
	if len(throttle.afterMeta) != 1 || throttle.afterMeta[0].StatusCode != http.StatusOK {
		t.Fatalf("expected recorded response meta, got %#v", throttle.afterMeta)
	}

	throttle.beforeErr = errors.New("bucket closed")
	_, err = provider.ExchangeCode(context.Background(), core.ExchangeRequest{Code: "abc"})
	if !core.IsProviderUnavailable(err) {
		t.Fatalf("expected throttled exchange to classify unavailable, got %v", err)
	}
	if len(doer.requests) != 1 {
		t.Fatalf("expected throttled exchange to skip the network, got %d requests", len(doer.requests))
	}
}

var _ core.TokenEndpointThrottle = (*recordingThrottle)(nil)
