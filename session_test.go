package harness

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSessionSecret = "test-session-secret"

func signSessionToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSessionSecret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return signed
}

func newHMACValidator(t *testing.T) *HMACSessionValidator {
	t.Helper()
	v := &HMACSessionValidator{logger: &defaultLogger{}}
	err := v.Initialize(&Config{
		SessionSecret: []byte(testSessionSecret),
		Audience:      "harness-app",
	})
	if err != nil {
		t.Fatalf("Failed to initialize validator: %v", err)
	}
	return v
}

func TestHMACValidateToken(t *testing.T) {
	v := newHMACValidator(t)

	tests := []struct {
		name      string
		claims    jwt.MapClaims
		expectErr bool
		userID    string
		email     string
	}{
		{
			name: "Valid token",
			claims: jwt.MapClaims{
				"sub":   "user-1",
				"email": "user@example.com",
				"aud":   "harness-app",
				"exp":   time.Now().Add(time.Hour).Unix(),
			},
			userID: "user-1",
			email:  "user@example.com",
		},
		{
			name: "Audience as array",
			claims: jwt.MapClaims{
				"sub": "user-2",
				"aud": []string{"other-app", "harness-app"},
				"exp": time.Now().Add(time.Hour).Unix(),
			},
			userID: "user-2",
		},
		{
			name: "Wrong audience",
			claims: jwt.MapClaims{
				"sub": "user-1",
				"aud": "someone-else",
				"exp": time.Now().Add(time.Hour).Unix(),
			},
			expectErr: true,
		},
		{
			name: "Missing audience",
			claims: jwt.MapClaims{
				"sub": "user-1",
				"exp": time.Now().Add(time.Hour).Unix(),
			},
			expectErr: true,
		},
		{
			name: "Expired token",
			claims: jwt.MapClaims{
				"sub": "user-1",
				"aud": "harness-app",
				"exp": time.Now().Add(-time.Hour).Unix(),
			},
			expectErr: true,
		},
		{
			name: "Missing subject",
			claims: jwt.MapClaims{
				"aud": "harness-app",
				"exp": time.Now().Add(time.Hour).Unix(),
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := v.ValidateToken(context.Background(), signSessionToken(t, tt.claims))
			if tt.expectErr {
				if err == nil {
					t.Error("Expected validation error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateToken failed: %v", err)
			}
			if user.ID != tt.userID {
				t.Errorf("ID = %s, want %s", user.ID, tt.userID)
			}
			if user.Email != tt.email {
				t.Errorf("Email = %s, want %s", user.Email, tt.email)
			}
		})
	}
}

func TestHMACValidateTokenBearerPrefix(t *testing.T) {
	v := newHMACValidator(t)
	token := signSessionToken(t, jwt.MapClaims{
		"sub": "user-1",
		"aud": "harness-app",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	user, err := v.ValidateToken(context.Background(), "Bearer "+token)
	if err != nil {
		t.Fatalf("ValidateToken with Bearer prefix failed: %v", err)
	}
	if user.ID != "user-1" {
		t.Errorf("ID = %s", user.ID)
	}
}

func TestHMACValidateTokenWrongSecret(t *testing.T) {
	v := newHMACValidator(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"aud": "harness-app",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("a-different-secret"))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	if _, err := v.ValidateToken(context.Background(), signed); err == nil {
		t.Error("Expected error for token signed with wrong secret")
	}
}

func TestHMACInitializeRequirements(t *testing.T) {
	v := &HMACSessionValidator{}
	if err := v.Initialize(&Config{Audience: "a"}); err == nil {
		t.Error("Expected error for missing secret")
	}
	v = &HMACSessionValidator{}
	if err := v.Initialize(&Config{SessionSecret: []byte("s")}); err == nil {
		t.Error("Expected error for missing audience")
	}
}

func TestCreateSessionValidator(t *testing.T) {
	cfg := &Config{
		SessionProvider: "hmac",
		SessionSecret:   []byte(testSessionSecret),
		Audience:        "harness-app",
	}
	v, err := createSessionValidator(cfg, &defaultLogger{})
	if err != nil {
		t.Fatalf("createSessionValidator failed: %v", err)
	}
	if _, ok := v.(*HMACSessionValidator); !ok {
		t.Errorf("Validator type = %T, want *HMACSessionValidator", v)
	}

	cfg.SessionProvider = "unknown"
	if _, err := createSessionValidator(cfg, &defaultLogger{}); err == nil {
		t.Error("Expected error for unknown session provider")
	}
}
