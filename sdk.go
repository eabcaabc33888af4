package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// LoginOptions configure an embedded-signup login request
type LoginOptions struct {
	ConfigID                    string                 `json:"config_id,omitempty"`
	ResponseType                string                 `json:"response_type,omitempty"`
	OverrideDefaultResponseType bool                   `json:"override_default_response_type,omitempty"`
	Extras                      map[string]interface{} `json:"extras,omitempty"`
}

// LoginResult is what a completed login hands back: an authorization code
// for the embedded flow, or a short-lived access token for the classic
// popup flow.
type LoginResult struct {
	AccessToken   string `json:"accessToken,omitempty"`
	Code          string `json:"code,omitempty"`
	ExpiresIn     int64  `json:"expiresIn,omitempty"`
	SignedRequest string `json:"signedRequest,omitempty"`
	UserID        string `json:"userID,omitempty"`
	GrantedScopes string `json:"grantedScopes,omitempty"`
}

// IdentitySdk is the explicit-lifecycle replacement for the provider's
// global script object (init/login/api behind an async-ready flag).
// Construct one per server and pass it by reference.
type IdentitySdk interface {
	Initialize(ctx context.Context) error
	Login(ctx context.Context, opts LoginOptions) (*LoginResult, error)
	Call(ctx context.Context, endpoint string) (json.RawMessage, error)
}

// GraphSdk implements IdentitySdk against the Graph API. Login does not
// open a popup itself; the provider's script drives the popup in the
// operator's browser and the result arrives over the message bridge, so
// Login waits on the bridge for credential material.
type GraphSdk struct {
	appID      string
	version    string
	baseURL    string
	bridge     *MessageBridge
	httpClient *http.Client
	logger     Logger

	ready       atomic.Bool
	accessToken atomic.Value // string
}

// NewGraphSdk creates an uninitialized SDK bound to the bridge
func NewGraphSdk(appID, version string, bridge *MessageBridge, logger Logger) *GraphSdk {
	if logger == nil {
		logger = &defaultLogger{}
	}
	return &GraphSdk{
		appID:   appID,
		version: version,
		baseURL: "https://graph.facebook.com",
		bridge:  bridge,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Initialize marks the SDK ready. Login and Call reject until it runs,
// mirroring the script's async-ready flag as an explicit lifecycle step.
func (s *GraphSdk) Initialize(_ context.Context) error {
	if s.appID == "" {
		return fmt.Errorf("app ID is required")
	}
	s.ready.Store(true)
	s.logger.Info("SDK initialized (app: %s, version: %s)", s.appID, s.version)
	return nil
}

// Login waits for the popup flow to deliver credentials over the message
// bridge and returns them. The context bounds the wait; there is no other
// way to cancel a popup the operator abandoned.
func (s *GraphSdk) Login(ctx context.Context, opts LoginOptions) (*LoginResult, error) {
	if !s.ready.Load() {
		return nil, fmt.Errorf("SDK not initialized")
	}

	s.logger.Info("SDK: waiting for embedded signup result (config: %s)", opts.ConfigID)

	events := s.bridge.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("login wait aborted: %w", ctx.Err())
		case event := <-events:
			var result LoginResult
			if err := json.Unmarshal(event.Payload, &result); err != nil {
				continue
			}
			if result.Code == "" && result.AccessToken == "" {
				continue
			}
			if result.AccessToken != "" {
				s.accessToken.Store(result.AccessToken)
			}
			s.logger.Info("SDK: login result captured via bridge from %s", event.Origin)
			return &result, nil
		}
	}
}

// Call performs a Graph API request with the access token captured at
// login, e.g. Call(ctx, "me")
func (s *GraphSdk) Call(ctx context.Context, endpoint string) (json.RawMessage, error) {
	if !s.ready.Load() {
		return nil, fmt.Errorf("SDK not initialized")
	}

	token, _ := s.accessToken.Load().(string)
	if token == "" {
		return nil, fmt.Errorf("no access token captured; complete a login first")
	}

	u := fmt.Sprintf("%s/%s/%s?access_token=%s", s.baseURL, s.version, strings.TrimPrefix(endpoint, "/"), url.QueryEscape(token))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build Graph request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Graph request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("Graph response read failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProtocolError{Step: "graph", StatusCode: resp.StatusCode, Body: string(body)}
	}
	return json.RawMessage(body), nil
}
