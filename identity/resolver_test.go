package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/goliatone/go-connections/core"
)

type fakeUserInfoDoer struct {
	status   int
	body     string
	err      error
	requests []*http.Request
}

func (d *fakeUserInfoDoer) Do(req *http.Request) (*http.Response, error) {
	d.requests = append(d.requests, req)
	if d.err != nil {
		return nil, d.err
	}
	return &http.Response{
		StatusCode: d.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(d.body)),
	}, nil
}

func encodeIDToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + "."
}

func TestResolver_ResolvePrefersIDTokenClaims(t *testing.T) {
	doer := &fakeUserInfoDoer{status: http.StatusOK, body: `{}`}
	resolver := NewResolver(Config{HTTPClient: doer})

	idToken := encodeIDToken(t, map[string]any{
		"iss":            "https://accounts.google.com",
		"sub":            "108123456789",
		"email":          "creator@example.com",
		"email_verified": true,
		"name":           "Creator Example",
		"picture":        "https://lh3.googleusercontent.com/photo.jpg",
	})

	profile, err := resolver.Resolve(context.Background(), "youtube", core.AccessToken{Token: "tok_abc"}, map[string]any{
		"id_token": idToken,
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	if profile.Subject != "108123456789" {
		t.Fatalf("expected subject from id_token, got %q", profile.Subject)
	}
	if profile.Issuer != "https://accounts.google.com" {
		t.Fatalf("unexpected issuer: %q", profile.Issuer)
	}
	if !profile.EmailVerified || profile.Email != "creator@example.com" {
		t.Fatalf("unexpected email claims: %q verified=%v", profile.Email, profile.EmailVerified)
	}
	if got := profile.ExternalAccountID(); got != "https://accounts.google.com|108123456789" {
		t.Fatalf("unexpected external account id: %q", got)
	}
	if len(doer.requests) != 0 {
		t.Fatalf("expected no userinfo request when id_token is present, got %d", len(doer.requests))
	}
}

func TestResolver_ResolveFallsBackToUserInfoEndpoint(t *testing.T) {
	doer := &fakeUserInfoDoer{
		status: http.StatusOK,
		body: `{
			"sub": "li_member_42",
			"email": "member@example.com",
			"email_verified": true,
			"given_name": "Ada",
			"family_name": "Lovelace",
			"locale": "en-US"
		}`,
	}
	resolver := NewResolver(Config{HTTPClient: doer})

	profile, err := resolver.Resolve(context.Background(), "linkedin", core.AccessToken{Token: "tok_li"}, nil)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	if len(doer.requests) != 1 {
		t.Fatalf("expected one userinfo request, got %d", len(doer.requests))
	}
	request := doer.requests[0]
	if request.URL.String() != "https://api.linkedin.com/v2/userinfo" {
		t.Fatalf("unexpected userinfo URL: %s", request.URL)
	}
	if got := request.Header.Get("Authorization"); got != "Bearer tok_li" {
		t.Fatalf("unexpected authorization header: %q", got)
	}
	if profile.Subject != "li_member_42" {
		t.Fatalf("unexpected subject: %q", profile.Subject)
	}
	if profile.DisplayName != "Ada Lovelace" {
		t.Fatalf("expected name composed from given and family names, got %q", profile.DisplayName)
	}
	if profile.Issuer != "https://www.linkedin.com/oauth" {
		t.Fatalf("unexpected issuer: %q", profile.Issuer)
	}
}

func TestResolver_ResolveNormalizesTikTokEnvelope(t *testing.T) {
	doer := &fakeUserInfoDoer{
		status: http.StatusOK,
		body: `{
			"data": {
				"user": {
					"open_id": "tt_open_1",
					"union_id": "tt_union_1",
					"display_name": "dancer",
					"avatar_url": "https://p16.tiktokcdn.com/avatar.jpeg"
				}
			},
			"error": {"code": "ok"}
		}`,
	}
	resolver := NewResolver(Config{HTTPClient: doer})

	profile, err := resolver.Resolve(context.Background(), "tiktok", core.AccessToken{Token: "tok_tt"}, nil)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	if profile.Subject != "tt_open_1" {
		t.Fatalf("expected open_id subject, got %q", profile.Subject)
	}
	if profile.DisplayName != "dancer" {
		t.Fatalf("unexpected display name: %q", profile.DisplayName)
	}
	if profile.PictureURL != "https://p16.tiktokcdn.com/avatar.jpeg" {
		t.Fatalf("unexpected picture url: %q", profile.PictureURL)
	}
	if _, ok := profile.Raw["data"]; !ok {
		t.Fatalf("expected raw payload to keep the platform envelope")
	}
}

func TestResolver_ResolveUsesConfiguredVerifier(t *testing.T) {
	verified := false
	resolver := NewResolver(Config{
		HTTPClient: &fakeUserInfoDoer{status: http.StatusOK, body: `{}`},
		IDTokenVerifier: func(ctx context.Context, providerID string, idToken string, metadata map[string]any) (map[string]any, error) {
			verified = true
			if providerID != "youtube" {
				return nil, fmt.Errorf("unexpected provider %q", providerID)
			}
			return map[string]any{
				"iss": "https://accounts.google.com",
				"sub": "verified_sub",
			}, nil
		},
	})

	profile, err := resolver.Resolve(context.Background(), "YouTube", core.AccessToken{Token: "tok"}, map[string]any{
		"id_token": "opaque.token.value",
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !verified {
		t.Fatalf("expected configured verifier to run")
	}
	if profile.Subject != "verified_sub" {
		t.Fatalf("unexpected subject: %q", profile.Subject)
	}
}

func TestResolver_ResolveReportsProfileNotFound(t *testing.T) {
	t.Run("endpoint error", func(t *testing.T) {
		resolver := NewResolver(Config{HTTPClient: &fakeUserInfoDoer{status: http.StatusUnauthorized, body: `{}`}})
		_, err := resolver.Resolve(context.Background(), "linkedin", core.AccessToken{Token: "tok"}, nil)
		if !errors.Is(err, ErrProfileNotFound) {
			t.Fatalf("expected ErrProfileNotFound, got %v", err)
		}
	})

	t.Run("missing subject", func(t *testing.T) {
		resolver := NewResolver(Config{HTTPClient: &fakeUserInfoDoer{status: http.StatusOK, body: `{"email":"x@example.com"}`}})
		_, err := resolver.Resolve(context.Background(), "linkedin", core.AccessToken{Token: "tok"}, nil)
		if !errors.Is(err, ErrProfileNotFound) {
			t.Fatalf("expected ErrProfileNotFound, got %v", err)
		}
	})

	t.Run("unknown provider without endpoint", func(t *testing.T) {
		resolver := NewResolver(Config{HTTPClient: &fakeUserInfoDoer{status: http.StatusOK, body: `{}`}})
		_, err := resolver.Resolve(context.Background(), "unknown_provider", core.AccessToken{Token: "tok"}, nil)
		if !errors.Is(err, ErrProfileNotFound) {
			t.Fatalf("expected ErrProfileNotFound, got %v", err)
		}
	})
}

func TestResolver_ResolveHonorsMetadataEndpointOverride(t *testing.T) {
	doer := &fakeUserInfoDoer{status: http.StatusOK, body: `{"sub":"custom_sub"}`}
	resolver := NewResolver(Config{HTTPClient: doer})

	profile, err := resolver.Resolve(context.Background(), "linkedin", core.AccessToken{Token: "tok"}, map[string]any{
		"userinfo_endpoint": "https://sandbox.example.com/userinfo",
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(doer.requests) != 1 || doer.requests[0].URL.String() != "https://sandbox.example.com/userinfo" {
		t.Fatalf("expected override endpoint to be used, got %v", doer.requests)
	}
	if profile.Subject != "custom_sub" {
		t.Fatalf("unexpected subject: %q", profile.Subject)
	}
}
