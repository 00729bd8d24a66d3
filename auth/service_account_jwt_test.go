package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"strings"
	"testing"
	"time"
)

func generateTestSigningKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal rsa key: %v", err)
	}
	encoded := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return key, string(encoded)
}

func decodeAssertion(t *testing.T, assertion string) (map[string]any, map[string]any, string) {
	t.Helper()
	parts := strings.Split(assertion, ".")
	if len(parts) != 3 {
		t.Fatalf("expected compact jwt, got %q", assertion)
	}
	headerRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	claimsRaw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode claims: %v", err)
	}
	var header, claims map[string]any
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if err := json.Unmarshal(claimsRaw, &claims); err != nil {
		t.Fatalf("unmarshal claims: %v", err)
	}
	return header, claims, parts[0] + "." + parts[1]
}

func TestServiceAccountJWTSource_ExchangesSignedAssertion(t *testing.T) {
	key, signingKey := generateTestSigningKey(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	doer := &fakeTokenDoer{responses: []*http.Response{
		tokenJSONResponse(http.StatusOK, `{"access_token":"sa_tok_1","token_type":"Bearer","expires_in":3599}`),
	}}

	source, err := NewServiceAccountJWTSource(ServiceAccountJWTConfig{
		ProviderID: "youtube",
		TokenURL:   "https://oauth2.googleapis.com/token",
		Issuer:     "uploader@project.iam.gserviceaccount.com",
		Scopes:     []string{"https://www.googleapis.com/auth/youtube.readonly"},
		SigningKey: signingKey,
		KeyID:      "key_1",
		Now:        func() time.Time { return now },
		HTTPClient: doer,
	})
	if err != nil {
		t.Fatalf("NewServiceAccountJWTSource returned error: %v", err)
	}

	token, err := source.Token(context.Background())
	if err != nil {
		t.Fatalf("Token returned error: %v", err)
	}
	if token.Token != "sa_tok_1" {
		t.Fatalf("unexpected token: %q", token.Token)
	}
	if token.Metadata["auth_kind"] != KindServiceAccountJWT {
		t.Fatalf("unexpected metadata: %v", token.Metadata)
	}

	form := doer.requests[0]
	if form.Get("grant_type") != jwtBearerGrantType {
		t.Fatalf("unexpected grant_type: %q", form.Get("grant_type"))
	}
	header, claims, signingInput := decodeAssertion(t, form.Get("assertion"))
	if header["alg"] != "RS256" || header["kid"] != "key_1" {
		t.Fatalf("unexpected assertion header: %v", header)
	}
	if claims["iss"] != "uploader@project.iam.gserviceaccount.com" {
		t.Fatalf("unexpected issuer claim: %v", claims["iss"])
	}
	if claims["aud"] != "https://oauth2.googleapis.com/token" {
		t.Fatalf("expected audience to default to the token endpoint, got %v", claims["aud"])
	}
	if claims["scope"] != "https://www.googleapis.com/auth/youtube.readonly" {
		t.Fatalf("unexpected scope claim: %v", claims["scope"])
	}
	if int64(claims["exp"].(float64))-int64(claims["iat"].(float64)) != int64(defaultAssertionTTL/time.Second) {
		t.Fatalf("unexpected assertion lifetime: iat=%v exp=%v", claims["iat"], claims["exp"])
	}

	signature, err := base64.RawURLEncoding.DecodeString(strings.Split(form.Get("assertion"), ".")[2])
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	digest := sha256.Sum256([]byte(signingInput))
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], signature); err != nil {
		t.Fatalf("assertion signature does not verify: %v", err)
	}
}

func TestServiceAccountJWTSource_SupportsHS256(t *testing.T) {
	doer := &fakeTokenDoer{responses: []*http.Response{
		tokenJSONResponse(http.StatusOK, `{"access_token":"sa_tok_hs","expires_in":600}`),
	}}
	source, err := NewServiceAccountJWTSource(ServiceAccountJWTConfig{
		ProviderID:       "tiktok",
		TokenURL:         "https://open.tiktokapis.com/v2/oauth/token/",
		Issuer:           "app_123",
		SigningKey:       "shared-secret",
		SigningAlgorithm: "hs256",
		HTTPClient:       doer,
	})
	if err != nil {
		t.Fatalf("NewServiceAccountJWTSource returned error: %v", err)
	}

	if _, err := source.Token(context.Background()); err != nil {
		t.Fatalf("Token returned error: %v", err)
	}

	header, _, _ := decodeAssertion(t, doer.requests[0].Get("assertion"))
	if header["alg"] != "HS256" {
		t.Fatalf("unexpected algorithm: %v", header["alg"])
	}
}

func TestServiceAccountJWTSource_ValidatesConfig(t *testing.T) {
	_, signingKey := generateTestSigningKey(t)
	cases := []struct {
		name string
		cfg  ServiceAccountJWTConfig
	}{
		{"missing provider", ServiceAccountJWTConfig{TokenURL: "https://x", Issuer: "i", SigningKey: signingKey}},
		{"missing token url", ServiceAccountJWTConfig{ProviderID: "youtube", Issuer: "i", SigningKey: signingKey}},
		{"missing issuer", ServiceAccountJWTConfig{ProviderID: "youtube", TokenURL: "https://x", SigningKey: signingKey}},
		{"missing signing key", ServiceAccountJWTConfig{ProviderID: "youtube", TokenURL: "https://x", Issuer: "i"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewServiceAccountJWTSource(tc.cfg); err == nil {
				t.Fatalf("expected config error")
			}
		})
	}
}

func TestSignJWT_RejectsUnsupportedAlgorithm(t *testing.T) {
	if _, err := signJWT("", "ES256", "key", map[string]any{"iss": "x"}); err == nil {
		t.Fatalf("expected unsupported algorithm error")
	}
	if _, err := signJWT("", "RS256", "not pem", map[string]any{"iss": "x"}); err == nil {
		t.Fatalf("expected pem parse error")
	}
}
