package harness

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// User is the authenticated application user operating the harness. Its ID
// is the owner key for persisted credentials. Identity comes from an
// external session provider; the harness only verifies and reads it.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Audience string `json:"aud,omitempty"`
}

// SessionValidator validates operator session tokens. This identifies who
// owns captured credentials; it never touches provider-issued tokens.
type SessionValidator interface {
	ValidateToken(ctx context.Context, token string) (*User, error)
	Initialize(cfg *Config) error
}

// createSessionValidator creates the validator the config asks for
func createSessionValidator(cfg *Config, logger Logger) (SessionValidator, error) {
	var validator SessionValidator
	switch cfg.SessionProvider {
	case "hmac":
		validator = &HMACSessionValidator{logger: logger}
	case "oidc":
		validator = &OIDCSessionValidator{logger: logger}
	default:
		return nil, fmt.Errorf("unknown session provider: %s", cfg.SessionProvider)
	}

	if err := validator.Initialize(cfg); err != nil {
		return nil, err
	}
	return validator, nil
}

// HMACSessionValidator validates HS256 session JWTs, the scheme hosted
// identity platforms issue for browser sessions
type HMACSessionValidator struct {
	secret   string
	audience string
	logger   Logger
}

// Initialize sets up the validator with the session secret and audience
func (v *HMACSessionValidator) Initialize(cfg *Config) error {
	v.secret = string(cfg.SessionSecret)
	v.audience = cfg.Audience

	if v.secret == "" {
		return fmt.Errorf("session secret is required for HMAC session provider")
	}
	if v.audience == "" {
		return fmt.Errorf("audience is required for HMAC session provider")
	}
	return nil
}

// ValidateToken validates the session JWT and extracts the operating user
func (v *HMACSessionValidator) ValidateToken(_ context.Context, tokenString string) (*User, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse and validate session token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid session claims")
	}

	if err := validateAudience(claims, v.audience); err != nil {
		return nil, fmt.Errorf("audience validation failed: %w", err)
	}

	user := &User{
		ID:       getStringClaim(claims, "sub"),
		Email:    getStringClaim(claims, "email"),
		Audience: v.audience,
	}
	if user.ID == "" {
		return nil, fmt.Errorf("missing subject in session token")
	}
	return user, nil
}

// OIDCSessionValidator validates session ID tokens via OIDC discovery and
// JWKS
type OIDCSessionValidator struct {
	verifier *oidc.IDTokenVerifier
	provider *oidc.Provider
	audience string
	logger   Logger
}

// Initialize sets up the OIDC validator with provider discovery
func (v *OIDCSessionValidator) Initialize(cfg *Config) error {
	if cfg.Issuer == "" {
		return fmt.Errorf("issuer is required for OIDC session provider")
	}
	if cfg.Audience == "" {
		return fmt.Errorf("audience is required for OIDC session provider")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: false,
				MinVersion:         tls.VersionTLS12,
			},
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
		},
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), cfg.Issuer)
	if err != nil {
		return fmt.Errorf("failed to initialize OIDC session provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID:             cfg.Audience,
		SupportedSigningAlgs: []string{oidc.RS256, oidc.ES256},
	})

	v.logger.Info("Session: OIDC validator initialized with audience: %s", cfg.Audience)

	v.provider = provider
	v.verifier = verifier
	v.audience = cfg.Audience
	return nil
}

// ValidateToken verifies the ID token and extracts the operating user
func (v *OIDCSessionValidator) ValidateToken(ctx context.Context, tokenString string) (*User, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	idToken, err := v.verifier.Verify(ctx, tokenString)
	if err != nil {
		return nil, fmt.Errorf("session token verification failed: %w", err)
	}

	var claims struct {
		Subject string `json:"sub"`
		Email   string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to extract session claims: %w", err)
	}

	return &User{
		ID:       claims.Subject,
		Email:    claims.Email,
		Audience: v.audience,
	}, nil
}

// validateAudience checks the aud claim, which may be a string or an array
func validateAudience(claims jwt.MapClaims, audience string) error {
	audClaim, exists := claims["aud"]
	if !exists {
		return fmt.Errorf("missing audience claim")
	}

	if audStr, ok := audClaim.(string); ok {
		if audStr != audience {
			return fmt.Errorf("invalid audience: expected %s, got %s", audience, audStr)
		}
		return nil
	}

	if audArray, ok := audClaim.([]interface{}); ok {
		for _, aud := range audArray {
			if audStr, ok := aud.(string); ok && audStr == audience {
				return nil
			}
		}
		return fmt.Errorf("invalid audience: expected %s not found in audience list", audience)
	}

	return fmt.Errorf("invalid audience claim type")
}

// getStringClaim extracts a string claim, empty if absent or mistyped
func getStringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
