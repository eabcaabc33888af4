package harness

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// SignedRequestPayload is the decoded payload segment of a provider-issued
// signed_request. Deauthorization and data-deletion callbacks deliver it
// form-encoded as "<signature>.<base64url-json>".
type SignedRequestPayload struct {
	UserID    string `json:"user_id"`
	Algorithm string `json:"algorithm"`
	IssuedAt  int64  `json:"issued_at"`
}

// ParseSignedRequest splits a signed_request and decodes its payload. The
// signature segment is returned opaquely; verifying it against the app
// secret is out of scope for the harness.
func ParseSignedRequest(raw string) (signature string, payload SignedRequestPayload, err error) {
	parts := strings.SplitN(raw, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", payload, fmt.Errorf("malformed signed_request: expected <signature>.<payload>")
	}

	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return "", payload, fmt.Errorf("failed to decode signed_request payload: %w", err)
	}

	if err := json.Unmarshal(decoded, &payload); err != nil {
		return "", payload, fmt.Errorf("failed to parse signed_request payload: %w", err)
	}

	return parts[0], payload, nil
}
