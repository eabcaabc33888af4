package harness

import (
	"net/url"
	"strings"
	"testing"
)

func TestProvidersCatalog(t *testing.T) {
	providers := Providers()

	for _, name := range []string{ProviderInstagram, ProviderWhatsApp, ProviderFacebook, ProviderGoogle} {
		if _, ok := providers[name]; !ok {
			t.Errorf("Catalog missing provider %s", name)
		}
	}

	if providers[ProviderInstagram].Shape != ShapeTwoStep {
		t.Errorf("Instagram shape = %s", providers[ProviderInstagram].Shape)
	}
	if providers[ProviderGoogle].Shape != ShapeSingleStep {
		t.Errorf("Google shape = %s", providers[ProviderGoogle].Shape)
	}
	if providers[ProviderWhatsApp].Shape != ShapeEmbedded {
		t.Errorf("WhatsApp shape = %s", providers[ProviderWhatsApp].Shape)
	}
	if providers[ProviderInstagram].LongLivedGrant != "ig_exchange_token" {
		t.Errorf("Instagram long-lived grant = %s", providers[ProviderInstagram].LongLivedGrant)
	}
}

func TestAuthorizeURL(t *testing.T) {
	spec := Providers()[ProviderInstagram]

	raw, err := spec.AuthorizeURL("client-1", "https://harness.example.com/oauth")
	if err != nil {
		t.Fatalf("AuthorizeURL failed: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("Invalid URL: %v", err)
	}
	q := u.Query()
	if q.Get("client_id") != "client-1" {
		t.Errorf("client_id = %s", q.Get("client_id"))
	}
	if q.Get("redirect_uri") != "https://harness.example.com/oauth" {
		t.Errorf("redirect_uri = %s", q.Get("redirect_uri"))
	}
	if q.Get("response_type") != "code" {
		t.Errorf("response_type = %s", q.Get("response_type"))
	}
	if !strings.Contains(q.Get("scope"), "instagram_business_basic") {
		t.Errorf("scope = %s", q.Get("scope"))
	}
}

func TestAuthorizeURLGoogleOfflineAccess(t *testing.T) {
	spec := Providers()[ProviderGoogle]

	raw, err := spec.AuthorizeURL("client-1", "https://harness.example.com/oauth/google")
	if err != nil {
		t.Fatalf("AuthorizeURL failed: %v", err)
	}

	u, _ := url.Parse(raw)
	q := u.Query()
	if q.Get("access_type") != "offline" {
		t.Errorf("access_type = %s", q.Get("access_type"))
	}
	if q.Get("prompt") != "consent" {
		t.Errorf("prompt = %s", q.Get("prompt"))
	}
}

func TestRedirectURI(t *testing.T) {
	spec := Providers()[ProviderGoogle]

	tests := []struct {
		serverURL string
		expected  string
	}{
		{"https://harness.example.com", "https://harness.example.com/oauth/google"},
		{"https://harness.example.com/", "https://harness.example.com/oauth/google"},
	}
	for _, tt := range tests {
		if got := spec.RedirectURI(tt.serverURL); got != tt.expected {
			t.Errorf("RedirectURI(%s) = %s, want %s", tt.serverURL, got, tt.expected)
		}
	}
}
