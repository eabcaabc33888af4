package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SessionContext is the operator's session material forwarded to the
// backend so it can act on the operator's behalf. Forwarding bearer tokens
// to another service is a known sensitive-data exposure of the harness.
type SessionContext struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

// RequestContext describes where the callback landed, for backend-side
// redirect URI reconstruction and debugging
type RequestContext struct {
	Origin    string `json:"origin"`
	FullURL   string `json:"full_url"`
	UserAgent string `json:"user_agent"`
}

// relayEnvelope is the JSON body POSTed to the backend relay
type relayEnvelope struct {
	Event          string          `json:"event"`
	Timestamp      string          `json:"timestamp"`
	Provider       string          `json:"provider"`
	Code           string          `json:"code"`
	RedirectURI    string          `json:"redirect_uri"`
	AppUser        *User           `json:"app_user"`
	SessionContext *SessionContext `json:"session_context,omitempty"`
	Context        RequestContext  `json:"context"`
}

// RelayClient forwards raw authorization codes to a remote endpoint that
// performs the token exchange server-side, keeping client secrets off this
// host. Any 2xx acknowledges the relay; everything else is fatal to the
// flow.
type RelayClient struct {
	endpoint   string
	httpClient *http.Client
	logger     Logger
}

// NewRelayClient creates a relay client for the given backend endpoint
func NewRelayClient(endpoint string, logger Logger) *RelayClient {
	if logger == nil {
		logger = &defaultLogger{}
	}
	return &RelayClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Relay POSTs the code plus user and session context to the backend and
// returns the backend's acknowledgment body
func (c *RelayClient) Relay(ctx context.Context, provider, code, redirectURI string, user *User, session *SessionContext, reqCtx RequestContext) (json.RawMessage, error) {
	envelope := relayEnvelope{
		Event:          provider + "_connected",
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		Provider:       provider,
		Code:           code,
		RedirectURI:    redirectURI,
		AppUser:        user,
		SessionContext: session,
		Context:        reqCtx,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal relay envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("Relay: sending %s code to %s (code: %s)", provider, c.endpoint, truncateString(code, 10))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("relay response read failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("Relay: backend responded with %d", resp.StatusCode)
		return nil, &RelayError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	c.logger.Info("Relay: backend acknowledged %s code", provider)
	return json.RawMessage(respBody), nil
}

// relayExchanger adapts RelayClient to the Exchanger interface so the
// orchestrator drives relayed flows and browser-side exchanges identically
type relayExchanger struct {
	client   *RelayClient
	provider string
	user     *User
	session  *SessionContext
	reqCtx   RequestContext
	trace    *TraceLog
}

// Exchange forwards the code and wraps the acknowledgment as the flow
// result; the backend owns exchange and persistence in this deployment
func (r *relayExchanger) Exchange(ctx context.Context, code, redirectURI string) (*FlowResult, error) {
	if r.trace != nil {
		r.trace.Append("Forwarding authorization code to backend relay...")
	}
	ack, err := r.client.Relay(ctx, r.provider, code, redirectURI, r.user, r.session, r.reqCtx)
	if err != nil {
		return nil, err
	}
	if r.trace != nil {
		r.trace.Append("Backend acknowledged the code.")
	}
	return &FlowResult{Ack: ack}, nil
}
