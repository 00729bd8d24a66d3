package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	TokenPayloadFormatJSON  = "token_payload_json"
	TokenPayloadVersionJSON = 1
)

// JSONTokenCodec is the default wire form for token payloads before they are
// handed to the secret provider for encryption.
type JSONTokenCodec struct{}

func NewJSONTokenCodec() JSONTokenCodec {
	return JSONTokenCodec{}
}

func (JSONTokenCodec) Format() string {
	return TokenPayloadFormatJSON
}

func (JSONTokenCodec) Version() int {
	return TokenPayloadVersionJSON
}

func (JSONTokenCodec) Encode(payload TokenPayload) ([]byte, error) {
	if strings.TrimSpace(payload.AccessToken) == "" {
		return nil, fmt.Errorf("core: access token is required")
	}
	payload.GrantedScopes = normalizeScopes(payload.GrantedScopes)
	payload.ExpiresAt = cloneTimePointer(payload.ExpiresAt)
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("core: encode token payload: %w", err)
	}
	return data, nil
}

func (JSONTokenCodec) Decode(data []byte) (TokenPayload, error) {
	if len(data) == 0 {
		return TokenPayload{}, fmt.Errorf("core: token payload data is required")
	}
	var payload TokenPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return TokenPayload{}, fmt.Errorf("core: decode token payload: %w", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return TokenPayload{}, fmt.Errorf("core: token payload has no access token")
	}
	payload.GrantedScopes = normalizeScopes(payload.GrantedScopes)
	return payload, nil
}

func cloneTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	out := value.UTC()
	return &out
}

var _ TokenCodec = JSONTokenCodec{}
