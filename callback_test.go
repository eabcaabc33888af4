package harness

import (
	"net/url"
	"testing"
)

func TestParseAuthorizationResult(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected AuthorizationResult
	}{
		{
			name:     "Code only",
			query:    "code=ABC123",
			expected: AuthorizationResult{Code: "ABC123"},
		},
		{
			name:     "Empty query defaults to empty strings",
			query:    "",
			expected: AuthorizationResult{},
		},
		{
			name:  "Canonical error parameters",
			query: "error=access_denied&error_description=User%20denied",
			expected: AuthorizationResult{
				Error:            "access_denied",
				ErrorDescription: "User denied",
			},
		},
		{
			name:  "Provider-variant error parameters",
			query: "error_code=190&error_message=Session%20expired",
			expected: AuthorizationResult{
				Error:            "190",
				ErrorDescription: "Session expired",
			},
		},
		{
			name:  "Canonical names win over variants",
			query: "error=access_denied&error_code=190&error_description=canonical&error_message=variant",
			expected: AuthorizationResult{
				Error:            "access_denied",
				ErrorDescription: "canonical",
			},
		},
		{
			name:  "Mixed canonical error with variant description",
			query: "error=access_denied&error_message=variant%20only",
			expected: AuthorizationResult{
				Error:            "access_denied",
				ErrorDescription: "variant only",
			},
		},
		{
			name:     "Unrelated parameters ignored",
			query:    "state=xyz&session=abc",
			expected: AuthorizationResult{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("Failed to parse query: %v", err)
			}

			got := ParseAuthorizationResult(values)
			if got != tt.expected {
				t.Errorf("ParseAuthorizationResult() = %+v, want %+v", got, tt.expected)
			}
		})
	}
}

func TestAuthorizationResultDenied(t *testing.T) {
	if (AuthorizationResult{Code: "abc"}).Denied() {
		t.Error("Result with code only should not be denied")
	}
	if !(AuthorizationResult{Error: "access_denied"}).Denied() {
		t.Error("Result with error should be denied")
	}
}
