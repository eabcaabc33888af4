package harness

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Public CORS relays. The relay is transparent: body and status pass
// through unchanged, the target URL rides along as an escaped parameter of
// the relay's fixed base.
const (
	RelayCorsproxy = "corsproxy"
	RelayCodetabs  = "codetabs"

	corsproxyBase = "https://corsproxy.io/?"
	codetabsBase  = "https://api.codetabs.com/v1/proxy?quest="
)

// RelayProxy wraps target URLs in a public request-relay base. Base carries
// everything up to and including the query key, e.g.
// "https://api.codetabs.com/v1/proxy?quest=".
type RelayProxy struct {
	Base string
}

// relayProxyFor maps a configured relay name to its proxy, nil for direct
func relayProxyFor(name string) *RelayProxy {
	switch name {
	case RelayCorsproxy:
		return &RelayProxy{Base: corsproxyBase}
	case RelayCodetabs:
		return &RelayProxy{Base: codetabsBase}
	}
	return nil
}

// WrapURL embeds the target URL as an escaped parameter of the relay base
func (p *RelayProxy) WrapURL(target string) string {
	return p.Base + url.QueryEscape(target)
}

// relayTransport reroutes outbound requests through the relay. Implemented
// as a RoundTripper so the rest of the pipeline, including
// oauth2.Config.Exchange, never sees the relay.
type relayTransport struct {
	base  http.RoundTripper
	proxy *RelayProxy
}

// RoundTrip implements the RoundTripper interface
func (t *relayTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.proxy == nil {
		return t.base.RoundTrip(req)
	}

	wrapped, err := url.Parse(t.proxy.WrapURL(req.URL.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to build relay URL: %w", err)
	}

	out := req.Clone(req.Context())
	out.URL = wrapped
	out.Host = ""
	return t.base.RoundTrip(out)
}

// TokenBundle is the normalized result of a completed exchange. Shape varies
// per provider but always carries a bearer credential, an expiry horizon and
// the provider-assigned subject. Two-step exchanges additionally retain the
// intermediate short-lived credential.
type TokenBundle struct {
	AccessToken  string          `json:"access_token"`
	TokenType    string          `json:"token_type,omitempty"`
	ExpiresIn    int64           `json:"expires_in,omitempty"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	UserID       string          `json:"user_id,omitempty"`
	IssuedAt     time.Time       `json:"issued_at"`
	ShortLived   json.RawMessage `json:"short_lived,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// ExchangeClient performs token exchanges against a provider's endpoints,
// directly or through a public CORS relay. One client per provider spec.
type ExchangeClient struct {
	spec         *ProviderSpec
	clientID     string
	clientSecret string
	httpClient   *http.Client
	trace        *TraceLog
	logger       Logger
}

// NewExchangeClient creates an exchange client for the given provider spec.
// relay names the public CORS relay ("corsproxy", "codetabs", "" for
// direct); trace may be nil.
func NewExchangeClient(spec *ProviderSpec, clientID, clientSecret, relay string, trace *TraceLog, logger Logger) *ExchangeClient {
	if logger == nil {
		logger = &defaultLogger{}
	}
	return &ExchangeClient{
		spec:         spec,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   newExchangeHTTPClient(relayProxyFor(relay)),
		trace:        trace,
		logger:       logger,
	}
}

// newExchangeHTTPClient builds the HTTP client used for token endpoints,
// with the relay transport layered over explicit timeouts and a TLS floor
func newExchangeHTTPClient(proxy *RelayProxy) *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &relayTransport{
			proxy: proxy,
			base: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: false,
					MinVersion:         tls.VersionTLS12,
				},
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
			},
		},
	}
}

func (c *ExchangeClient) log(format string, args ...interface{}) {
	if c.trace != nil {
		c.trace.Append(format, args...)
	}
}

// Exchange turns an authorization code into a TokenBundle using the shape
// the provider spec declares
func (c *ExchangeClient) Exchange(ctx context.Context, code, redirectURI string) (*FlowResult, error) {
	switch c.spec.Shape {
	case ShapeTwoStep:
		bundle, err := c.exchangeTwoStep(ctx, code, redirectURI)
		if err != nil {
			return nil, err
		}
		return &FlowResult{Bundle: bundle}, nil
	case ShapeSingleStep:
		bundle, err := c.exchangeSingleStep(ctx, code, redirectURI)
		if err != nil {
			return nil, err
		}
		return &FlowResult{Bundle: bundle}, nil
	}
	return nil, fmt.Errorf("provider %s has no browser-side exchange shape", c.spec.Name)
}

// exchangeSingleStep is the canonical authorization_code grant: one POST
// with client id/secret, the code, and the exact redirect URI used during
// authorization. A redirect URI that differs by a single byte from the
// authorize step is the dominant real-world failure mode.
func (c *ExchangeClient) exchangeSingleStep(ctx context.Context, code, redirectURI string) (*TokenBundle, error) {
	c.log("Exchanging code for tokens...")

	conf := &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.spec.AuthURL,
			TokenURL:  c.spec.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := conf.Exchange(ctx, code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return nil, &ProtocolError{
				Step:       "token",
				StatusCode: rerr.Response.StatusCode,
				Body:       string(rerr.Body),
			}
		}
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	c.log("Tokens received successfully.")

	bundle := &TokenBundle{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		IssuedAt:     time.Now(),
	}
	if !token.Expiry.IsZero() {
		bundle.ExpiresIn = int64(time.Until(token.Expiry).Seconds())
	}
	if sub, ok := token.Extra("user_id").(string); ok {
		bundle.UserID = sub
	}
	return bundle, nil
}

// shortLivedResponse is step 1 of the two-step exchange: a bearer valid for
// about an hour plus the provider subject id
type shortLivedResponse struct {
	AccessToken string          `json:"access_token"`
	UserID      json.Number     `json:"user_id"`
	Permissions json.RawMessage `json:"permissions,omitempty"`
}

// longLivedResponse is step 2: the ~60-day token
type longLivedResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// exchangeTwoStep implements the short-lived/long-lived token model: the
// code buys a ~1h token, which in turn buys the ~60-day token. Step 2 never
// starts unless step 1 succeeded, and a partial result is never returned.
func (c *ExchangeClient) exchangeTwoStep(ctx context.Context, code, redirectURI string) (*TokenBundle, error) {
	c.log("Exchanging code for short-lived token...")

	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", redirectURI)
	form.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.spec.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build short-lived request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	shortBody, err := c.do(req, "short_lived")
	if err != nil {
		return nil, err
	}

	var short shortLivedResponse
	if err := json.Unmarshal(shortBody, &short); err != nil {
		return nil, fmt.Errorf("failed to parse short-lived response: %w", err)
	}
	if short.AccessToken == "" {
		return nil, fmt.Errorf("short-lived response missing access_token: %s", truncateString(string(shortBody), 150))
	}

	c.log("Received short-lived token.")
	c.log("Exchanging for long-lived (permanent) token...")

	longURL, err := url.Parse(c.spec.LongLivedURL)
	if err != nil {
		return nil, fmt.Errorf("invalid long-lived endpoint: %w", err)
	}
	q := longURL.Query()
	q.Set("grant_type", c.spec.LongLivedGrant)
	q.Set("client_secret", c.clientSecret)
	q.Set("access_token", short.AccessToken)
	longURL.RawQuery = q.Encode()

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, longURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build long-lived request: %w", err)
	}

	longBody, err := c.do(req, "long_lived")
	if err != nil {
		return nil, err
	}

	var long longLivedResponse
	if err := json.Unmarshal(longBody, &long); err != nil {
		return nil, fmt.Errorf("failed to parse long-lived response: %w", err)
	}

	c.log("Received long-lived token.")

	return &TokenBundle{
		AccessToken: long.AccessToken,
		TokenType:   long.TokenType,
		ExpiresIn:   long.ExpiresIn,
		UserID:      short.UserID.String(),
		IssuedAt:    time.Now(),
		ShortLived:  json.RawMessage(shortBody),
		Raw:         json.RawMessage(longBody),
	}, nil
}

// do executes one exchange round trip; non-2xx responses become protocol
// errors carrying the body verbatim
func (c *ExchangeClient) do(req *http.Request, step string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s exchange request failed: %w", step, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s exchange read failed: %w", step, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("Exchange: %s step for %s returned %d", step, c.spec.Name, resp.StatusCode)
		return nil, &ProtocolError{Step: step, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
