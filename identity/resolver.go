// Package identity resolves the platform account behind a connection, the
// YouTube channel owner, TikTok user or LinkedIn member a grant belongs to.
package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-connections/core"
	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultRequestTimeout   = 10 * time.Second
	maxProfileResponseBytes = 1 << 20 // 1 MiB
	googleIssuer            = "https://accounts.google.com"
	linkedinIssuer          = "https://www.linkedin.com/oauth"
	tiktokIssuer            = "https://www.tiktok.com"
	googleUserInfoURL       = "https://openidconnect.googleapis.com/v1/userinfo"
	linkedinUserInfoURL     = "https://api.linkedin.com/v2/userinfo"
	tiktokUserInfoURL       = "https://open.tiktokapis.com/v2/user/info/"
)

var ErrProfileNotFound = errors.New("identity: profile not found")

type ProfileNotFoundError struct {
	Cause error
}

func (e *ProfileNotFoundError) Error() string {
	if e == nil || e.Cause == nil {
		return ErrProfileNotFound.Error()
	}
	return ErrProfileNotFound.Error() + ": " + e.Cause.Error()
}

func (e *ProfileNotFoundError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.Cause == nil {
		return ErrProfileNotFound
	}
	return errors.Join(ErrProfileNotFound, e.Cause)
}

func (e *ProfileNotFoundError) ToConnectionError() *goerrors.Error {
	message := ErrProfileNotFound.Error()
	if e != nil && e.Cause != nil {
		message = e.Error()
	}
	return goerrors.New(message, goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(core.ConnectionErrorProfileNotFound)
}

func profileNotFound(cause error) error {
	return &ProfileNotFoundError{Cause: cause}
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// AccountProfile is the normalized view of whoever authorized the connection.
type AccountProfile struct {
	ProviderID    string
	Issuer        string
	Subject       string
	Email         string
	EmailVerified bool
	DisplayName   string
	GivenName     string
	FamilyName    string
	PictureURL    string
	Locale        string
	Raw           map[string]any
}

// ExternalAccountID is the stable identity key for a profile. Subjects are
// only unique per issuer.
func (p AccountProfile) ExternalAccountID() string {
	subject := strings.TrimSpace(p.Subject)
	if subject == "" {
		return ""
	}
	issuer := strings.TrimSpace(p.Issuer)
	if issuer == "" {
		return subject
	}
	return issuer + "|" + subject
}

func (p AccountProfile) Map() map[string]any {
	metadata := map[string]any{
		"provider_id":    strings.TrimSpace(p.ProviderID),
		"issuer":         strings.TrimSpace(p.Issuer),
		"subject":        strings.TrimSpace(p.Subject),
		"external_id":    strings.TrimSpace(p.ExternalAccountID()),
		"email":          strings.TrimSpace(p.Email),
		"email_verified": p.EmailVerified,
		"display_name":   strings.TrimSpace(p.DisplayName),
		"given_name":     strings.TrimSpace(p.GivenName),
		"family_name":    strings.TrimSpace(p.FamilyName),
		"picture_url":    strings.TrimSpace(p.PictureURL),
		"locale":         strings.TrimSpace(p.Locale),
	}
	if len(p.Raw) > 0 {
		metadata["raw"] = copyMap(p.Raw)
	}
	return metadata
}

type ProfileResolver interface {
	Resolve(ctx context.Context, providerID string, token core.AccessToken, metadata map[string]any) (AccountProfile, error)
}

type ProfileNormalizer func(providerID string, issuer string, payload map[string]any) AccountProfile

type IDTokenVerifier func(
	ctx context.Context,
	providerID string,
	idToken string,
	metadata map[string]any,
) (map[string]any, error)

type ProviderUserInfoConfig struct {
	URL        string
	Issuer     string
	Normalizer ProfileNormalizer
}

type Config struct {
	HTTPClient       HTTPDoer
	RequestTimeout   time.Duration
	IDTokenVerifier  IDTokenVerifier
	ProviderUserInfo map[string]ProviderUserInfoConfig
}

// Resolver fetches the connected account's profile. It prefers an id_token
// from the callback metadata, Google and LinkedIn issue one, and falls back
// to the platform's userinfo endpoint with the access token.
type Resolver struct {
	httpClient       HTTPDoer
	requestTimeout   time.Duration
	idTokenVerifier  IDTokenVerifier
	providerUserInfo map[string]ProviderUserInfoConfig
}

func NewResolver(cfg Config) *Resolver {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	providerUserInfo := defaultProviderUserInfoConfigs()
	for key, value := range cfg.ProviderUserInfo {
		normalizedID := normalizeProviderID(key)
		if normalizedID == "" {
			continue
		}
		providerUserInfo[normalizedID] = ProviderUserInfoConfig{
			URL:        strings.TrimSpace(value.URL),
			Issuer:     strings.TrimSpace(value.Issuer),
			Normalizer: value.Normalizer,
		}
	}

	return &Resolver{
		httpClient:       httpClient,
		requestTimeout:   requestTimeout,
		idTokenVerifier:  cfg.IDTokenVerifier,
		providerUserInfo: providerUserInfo,
	}
}

func DefaultResolver() *Resolver {
	return NewResolver(Config{})
}

func (r *Resolver) Resolve(ctx context.Context, providerID string, token core.AccessToken, metadata map[string]any) (AccountProfile, error) {
	if r == nil {
		return AccountProfile{}, profileNotFound(nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	normalizedProviderID := normalizeProviderID(providerID)
	mergedMetadata := mergeMetadata(nil, metadata)

	profile, tokenErr := r.profileFromIDToken(ctx, normalizedProviderID, mergedMetadata)
	if tokenErr == nil && strings.TrimSpace(profile.Subject) != "" {
		return profile, nil
	}

	endpointConfig, hasProviderEndpoint := r.providerUserInfo[normalizedProviderID]
	userInfoURL := strings.TrimSpace(readString(mergedMetadata["userinfo_endpoint"]))
	if userInfoURL == "" && hasProviderEndpoint {
		userInfoURL = strings.TrimSpace(endpointConfig.URL)
	}
	if userInfoURL == "" {
		if tokenErr != nil {
			return AccountProfile{}, profileNotFound(tokenErr)
		}
		return AccountProfile{}, profileNotFound(nil)
	}

	payload, fetchErr := r.fetchUserInfo(ctx, userInfoURL, strings.TrimSpace(token.Token))
	if fetchErr != nil {
		return AccountProfile{}, profileNotFound(fetchErr)
	}

	issuer := strings.TrimSpace(readString(payload["iss"]))
	if issuer == "" {
		issuer = strings.TrimSpace(endpointConfig.Issuer)
	}
	if issuer == "" {
		issuer = defaultIssuerForProvider(normalizedProviderID)
	}
	normalizer := endpointConfig.Normalizer
	if normalizer == nil {
		normalizer = normalizeOIDCProfile
	}
	profile = normalizer(normalizedProviderID, issuer, payload)
	if strings.TrimSpace(profile.Subject) == "" {
		return AccountProfile{}, profileNotFound(nil)
	}
	return profile, nil
}

func defaultProviderUserInfoConfigs() map[string]ProviderUserInfoConfig {
	return map[string]ProviderUserInfoConfig{
		"youtube": {
			URL:    googleUserInfoURL,
			Issuer: googleIssuer,
		},
		"linkedin": {
			URL:    linkedinUserInfoURL,
			Issuer: linkedinIssuer,
		},
		"tiktok": {
			URL:        tiktokUserInfoURL,
			Issuer:     tiktokIssuer,
			Normalizer: normalizeTikTokProfile,
		},
	}
}

func (r *Resolver) fetchUserInfo(ctx context.Context, endpoint string, accessToken string) (map[string]any, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, fmt.Errorf("identity: access token is required")
	}
	requestCtx := ctx
	cancel := func() {}
	if r.requestTimeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, r.requestTimeout)
	}
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	res, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, readErr := io.ReadAll(io.LimitReader(res.Body, maxProfileResponseBytes+1))
	if readErr != nil {
		return nil, fmt.Errorf("identity: read profile response: %w", readErr)
	}
	if int64(len(body)) > maxProfileResponseBytes {
		return nil, fmt.Errorf("identity: profile response exceeds %d bytes", maxProfileResponseBytes)
	}
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("identity: profile endpoint returned status %d", res.StatusCode)
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("identity: decode profile response: %w", err)
	}
	return payload, nil
}

func (r *Resolver) profileFromIDToken(ctx context.Context, providerID string, metadata map[string]any) (AccountProfile, error) {
	idToken := strings.TrimSpace(readString(metadata["id_token"]))
	if idToken == "" {
		return AccountProfile{}, fmt.Errorf("identity: id_token is required")
	}
	payload, err := r.decodeVerifiedOrRawIDToken(ctx, providerID, idToken, metadata)
	if err != nil {
		return AccountProfile{}, err
	}
	issuer := strings.TrimSpace(readString(payload["iss"]))
	if issuer == "" {
		issuer = defaultIssuerForProvider(providerID)
	}
	profile := normalizeOIDCProfile(providerID, issuer, payload)
	if strings.TrimSpace(profile.Subject) == "" {
		return AccountProfile{}, fmt.Errorf("identity: id_token is missing subject")
	}
	return profile, nil
}

func (r *Resolver) decodeVerifiedOrRawIDToken(
	ctx context.Context,
	providerID string,
	idToken string,
	metadata map[string]any,
) (map[string]any, error) {
	if r != nil && r.idTokenVerifier != nil {
		claims, err := r.idTokenVerifier(ctx, providerID, idToken, copyMap(metadata))
		if err != nil {
			return nil, fmt.Errorf("identity: verify id_token: %w", err)
		}
		return copyMap(claims), nil
	}
	return decodeJWTPayload(idToken)
}

func decodeJWTPayload(token string) (map[string]any, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("identity: invalid id_token format")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("identity: decode id_token payload: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, fmt.Errorf("identity: decode id_token claims: %w", err)
	}
	return payload, nil
}

func normalizeOIDCProfile(providerID string, issuer string, payload map[string]any) AccountProfile {
	profile := AccountProfile{
		ProviderID:    normalizeProviderID(providerID),
		Issuer:        strings.TrimSpace(issuer),
		Subject:       strings.TrimSpace(readString(payload["sub"])),
		Email:         strings.TrimSpace(readString(payload["email"])),
		EmailVerified: readBool(payload["email_verified"]),
		DisplayName:   strings.TrimSpace(readString(payload["name"])),
		GivenName:     strings.TrimSpace(readString(payload["given_name"])),
		FamilyName:    strings.TrimSpace(readString(payload["family_name"])),
		PictureURL:    strings.TrimSpace(readString(payload["picture"])),
		Locale:        strings.TrimSpace(readString(payload["locale"])),
		Raw:           copyMap(payload),
	}
	if strings.TrimSpace(profile.DisplayName) == "" {
		profile.DisplayName = strings.TrimSpace(strings.Join(
			[]string{profile.GivenName, profile.FamilyName},
			" ",
		))
	}
	return profile
}

// normalizeTikTokProfile unwraps the data.user envelope TikTok's user info
// endpoint returns. The open_id is the subject, the union_id stays in Raw.
func normalizeTikTokProfile(providerID string, issuer string, payload map[string]any) AccountProfile {
	user := payload
	if data, ok := payload["data"].(map[string]any); ok {
		if nested, ok := data["user"].(map[string]any); ok {
			user = nested
		}
	}
	subject := strings.TrimSpace(readString(user["open_id"]))
	if subject == "" {
		subject = strings.TrimSpace(readString(user["union_id"]))
	}
	return AccountProfile{
		ProviderID:  normalizeProviderID(providerID),
		Issuer:      strings.TrimSpace(issuer),
		Subject:     subject,
		DisplayName: strings.TrimSpace(readString(user["display_name"])),
		PictureURL:  strings.TrimSpace(readString(user["avatar_url"])),
		Raw:         copyMap(payload),
	}
}

func defaultIssuerForProvider(providerID string) string {
	switch normalizeProviderID(providerID) {
	case "youtube":
		return googleIssuer
	case "linkedin":
		return linkedinIssuer
	case "tiktok":
		return tiktokIssuer
	default:
		return ""
	}
}

func normalizeProviderID(value string) string {
	return strings.TrimSpace(strings.ToLower(value))
}

func mergeMetadata(base map[string]any, override map[string]any) map[string]any {
	merged := map[string]any{}
	for key, value := range base {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" {
			continue
		}
		merged[trimmed] = value
	}
	for key, value := range override {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" {
			continue
		}
		merged[trimmed] = value
	}
	return merged
}

func copyMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return map[string]any{}
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

func readString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	case json.Number:
		return strings.TrimSpace(typed.String())
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return strconv.FormatInt(int64(typed), 10)
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func readBool(value any) bool {
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(typed))
		return err == nil && parsed
	case json.Number:
		parsed, err := typed.Int64()
		return err == nil && parsed != 0
	case int:
		return typed != 0
	case int64:
		return typed != 0
	case float64:
		return typed != 0
	default:
		return false
	}
}

var _ ProfileResolver = (*Resolver)(nil)
