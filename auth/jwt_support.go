package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"
)

const (
	jwtAlgRS256 = "RS256"
	jwtAlgHS256 = "HS256"
)

// signJWT builds a compact JWT for the bearer assertion grant. RS256 takes a
// PEM-encoded RSA private key, HS256 takes a shared secret.
func signJWT(keyID string, algorithm string, signingKey string, claims map[string]any) (string, error) {
	algorithm = strings.ToUpper(strings.TrimSpace(algorithm))
	if algorithm == "" {
		algorithm = jwtAlgRS256
	}
	signingKey = strings.TrimSpace(signingKey)
	if signingKey == "" {
		return "", fmt.Errorf("auth: jwt signing key is required")
	}

	header := map[string]any{
		"alg": algorithm,
		"typ": "JWT",
	}
	if trimmed := strings.TrimSpace(keyID); trimmed != "" {
		header["kid"] = trimmed
	}

	headerRaw, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("auth: marshal jwt header: %w", err)
	}
	claimsRaw, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("auth: marshal jwt claims: %w", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerRaw) +
		"." +
		base64.RawURLEncoding.EncodeToString(claimsRaw)

	var signature []byte
	switch algorithm {
	case jwtAlgHS256:
		mac := hmac.New(sha256.New, []byte(signingKey))
		mac.Write([]byte(signingInput))
		signature = mac.Sum(nil)
	case jwtAlgRS256:
		privateKey, keyErr := parseRSAPrivateKey(signingKey)
		if keyErr != nil {
			return "", keyErr
		}
		digest := sha256.Sum256([]byte(signingInput))
		signature, err = rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, digest[:])
		if err != nil {
			return "", fmt.Errorf("auth: sign jwt: %w", err)
		}
	default:
		return "", fmt.Errorf("auth: unsupported jwt algorithm %q", algorithm)
	}

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("auth: signing key is not PEM encoded")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse signing key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("auth: signing key is not an RSA key")
	}
	return key, nil
}
