package harness

import (
	"net/url"
	"strings"
)

// ExchangeShape declares how a provider's authorization code becomes a
// usable credential.
type ExchangeShape string

const (
	// ShapeSingleStep is the canonical authorization_code grant: one POST
	// returns access and refresh tokens.
	ShapeSingleStep ExchangeShape = "single_step"
	// ShapeTwoStep first buys a short-lived token with the code, then
	// trades it for a long-lived token.
	ShapeTwoStep ExchangeShape = "two_step"
	// ShapeEmbedded is a popup flow driven by the provider's script; the
	// raw code is forwarded to the backend relay and credentials may also
	// arrive over the cross-window message bridge.
	ShapeEmbedded ExchangeShape = "embedded"
)

// Provider names
const (
	ProviderInstagram = "instagram"
	ProviderWhatsApp  = "whatsapp"
	ProviderFacebook  = "facebook"
	ProviderGoogle    = "google"
)

// ProviderSpec describes one identity provider the harness can exercise:
// where to send the operator, which endpoints exchange the code, and which
// shape the exchange takes.
type ProviderSpec struct {
	Name           string        `json:"name"`
	DisplayName    string        `json:"display_name"`
	Shape          ExchangeShape `json:"shape"`
	AuthURL        string        `json:"auth_url,omitempty"`
	TokenURL       string        `json:"token_url,omitempty"`
	LongLivedURL   string        `json:"long_lived_url,omitempty"`
	LongLivedGrant string        `json:"long_lived_grant,omitempty"`
	Scopes         []string      `json:"scopes,omitempty"`
	CallbackPath   string        `json:"callback_path"`
	ResponseType   string        `json:"response_type,omitempty"`
}

// Providers returns the built-in provider catalog. Endpoints are the live
// provider endpoints; tests substitute their own specs.
func Providers() map[string]*ProviderSpec {
	return map[string]*ProviderSpec{
		ProviderInstagram: {
			Name:           ProviderInstagram,
			DisplayName:    "Instagram Business",
			Shape:          ShapeTwoStep,
			AuthURL:        "https://www.instagram.com/oauth/authorize",
			TokenURL:       "https://api.instagram.com/oauth/access_token",
			LongLivedURL:   "https://graph.instagram.com/access_token",
			LongLivedGrant: "ig_exchange_token",
			Scopes: []string{
				"instagram_business_basic",
				"instagram_business_manage_messages",
			},
			CallbackPath: "/oauth",
			ResponseType: "code",
		},
		ProviderWhatsApp: {
			Name:         ProviderWhatsApp,
			DisplayName:  "WhatsApp Embedded Signup",
			Shape:        ShapeEmbedded,
			CallbackPath: "/oauth",
			ResponseType: "code",
		},
		ProviderFacebook: {
			Name:         ProviderFacebook,
			DisplayName:  "Facebook Login",
			Shape:        ShapeEmbedded,
			CallbackPath: "/oauth",
			ResponseType: "code",
		},
		ProviderGoogle: {
			Name:        ProviderGoogle,
			DisplayName: "Google / Gmail",
			Shape:       ShapeSingleStep,
			AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:    "https://oauth2.googleapis.com/token",
			Scopes: []string{
				"https://www.googleapis.com/auth/gmail.readonly",
				"https://www.googleapis.com/auth/gmail.send",
				"https://www.googleapis.com/auth/userinfo.profile",
				"https://www.googleapis.com/auth/userinfo.email",
			},
			CallbackPath: "/oauth/google",
			ResponseType: "code",
		},
	}
}

// AuthorizeURL builds the provider authorization URL for the given client
// and redirect URI. The same redirect URI must later be presented
// byte-for-byte to the token endpoint.
func (s *ProviderSpec) AuthorizeURL(clientID, redirectURI string) (string, error) {
	u, err := url.Parse(s.AuthURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("response_type", s.ResponseType)
	if len(s.Scopes) > 0 {
		q.Set("scope", strings.Join(s.Scopes, " "))
	}
	if s.Name == ProviderGoogle {
		// Refresh tokens are only issued with offline access and an
		// explicit consent prompt.
		q.Set("access_type", "offline")
		q.Set("prompt", "consent")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// RedirectURI joins the harness server URL with the provider callback path
func (s *ProviderSpec) RedirectURI(serverURL string) string {
	return strings.TrimRight(serverURL, "/") + s.CallbackPath
}
