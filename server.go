package harness

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wires the harness together: provider catalog, callback
// orchestration, message bridge, credential store and operator session
// validation behind one HTTP surface.
type Server struct {
	config    *Config
	validator SessionValidator
	cache     *SessionCache
	store     CredentialStore
	bridge    *MessageBridge
	metrics   *Metrics
	registry  *prometheus.Registry
	providers map[string]*ProviderSpec
	logger    Logger

	mu    sync.Mutex
	flows map[string]*Orchestrator
}

// NewServer creates a harness server with the given configuration and
// credential store
func NewServer(cfg *Config, store CredentialStore) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = &defaultLogger{}
	}

	validator, err := createSessionValidator(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create session validator: %w", err)
	}

	registry := prometheus.NewRegistry()

	return &Server{
		config:    cfg,
		validator: validator,
		cache:     &SessionCache{cache: make(map[string]*CachedSession)},
		store:     store,
		bridge:    NewMessageBridge(cfg.ServerURL, nil, logger),
		metrics:   NewMetrics(registry),
		registry:  registry,
		providers: Providers(),
		logger:    logger,
		flows:     make(map[string]*Orchestrator),
	}, nil
}

// Bridge returns the server's message bridge
func (s *Server) Bridge() *MessageBridge { return s.bridge }

// Store returns the server's credential store
func (s *Server) Store() CredentialStore { return s.store }

// RegisterHandlers registers the harness HTTP endpoints on the provided mux
func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/oauth", s.HandleCallback)
	mux.HandleFunc("/oauth/google", s.HandleCallback)
	mux.HandleFunc("/bridge/messages", s.HandleBridgeMessages)
	mux.HandleFunc("/providers", s.HandleProviders)
	mux.HandleFunc("/api/credentials", s.HandleCredentials)
	mux.HandleFunc("/webhook/facebook/data-deletion", s.HandleDataDeletion)
	mux.HandleFunc("/webhook/facebook/deauthorize", s.HandleDeauthorize)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
}

// LogStartup logs the endpoints operators need to configure at the provider
func (s *Server) LogStartup() {
	s.logger.Info("Harness ready at %s (strategy: %s)", s.config.ServerURL, s.config.Strategy)
	for _, spec := range s.providers {
		s.logger.Info("  %s callback: %s", spec.Name, spec.RedirectURI(s.config.ServerURL))
	}
}

// ValidateSessionCached validates an operator session token, consulting the
// 5-minute validation cache first
func (s *Server) ValidateSessionCached(ctx context.Context, token string) (*User, error) {
	tokenHash := fmt.Sprintf("%x", sha256.Sum256([]byte(token)))
	if cached, ok := s.cache.getCachedSession(tokenHash); ok {
		return cached.User, nil
	}

	user, err := s.validator.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}

	s.cache.setCachedSession(tokenHash, user, time.Now().Add(5*time.Minute))
	return user, nil
}

// authenticate resolves the operating user from the request's bearer token
func (s *Server) authenticate(r *http.Request) (*User, string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return nil, "", false
	}

	user, err := s.ValidateSessionCached(r.Context(), token)
	if err != nil {
		s.logger.Warn("Session validation failed: %v", err)
		return nil, "", false
	}
	return user, token, true
}

// providerForCallback maps the callback path to the provider whose flow
// lands there
func (s *Server) providerForCallback(path string) *ProviderSpec {
	if path == "/oauth/google" {
		return s.providers[ProviderGoogle]
	}
	// The shared /oauth path serves the Meta flows. Relay deployments
	// forward embedded-signup codes; browser deployments exchange
	// Instagram codes locally.
	if s.config.Strategy == StrategyRelay {
		return s.providers[ProviderWhatsApp]
	}
	return s.providers[ProviderInstagram]
}

// exchangerFor builds the Exchanger for one flow instance per the
// deployment strategy
func (s *Server) exchangerFor(spec *ProviderSpec, user *User, sessionToken string, r *http.Request, trace *TraceLog) (Exchanger, error) {
	useRelay := s.config.Strategy == StrategyRelay || spec.Shape == ShapeEmbedded
	if useRelay {
		if s.config.BackendURL == "" {
			return nil, fmt.Errorf("provider %s requires a backend relay but none is configured", spec.Name)
		}
		var session *SessionContext
		if sessionToken != "" {
			session = &SessionContext{AccessToken: sessionToken}
		}
		return &relayExchanger{
			client:   NewRelayClient(s.config.BackendURL, s.logger),
			provider: spec.Name,
			user:     user,
			session:  session,
			reqCtx: RequestContext{
				Origin:    s.config.ServerURL,
				FullURL:   s.config.ServerURL + r.URL.String(),
				UserAgent: r.UserAgent(),
			},
			trace: trace,
		}, nil
	}

	switch spec.Name {
	case ProviderInstagram:
		return NewExchangeClient(spec, s.config.InstagramClientID, s.config.InstagramClientSecret, s.config.CORSRelay, trace, s.logger), nil
	case ProviderGoogle:
		return NewExchangeClient(spec, s.config.GoogleClientID, s.config.GoogleClientSecret, s.config.CORSRelay, trace, s.logger), nil
	}
	return nil, fmt.Errorf("no exchange strategy for provider %s", spec.Name)
}

// flowFor returns the orchestrator for this provider and code, creating it
// on first sight. Keying by code means a reloaded callback page re-evaluates
// the same flow instance instead of starting a second exchange.
func (s *Server) flowFor(spec *ProviderSpec, code string, user *User, sessionToken string, r *http.Request) (*Orchestrator, error) {
	key := spec.Name + ":" + code

	s.mu.Lock()
	defer s.mu.Unlock()

	if orch, ok := s.flows[key]; ok {
		return orch, nil
	}

	trace := &TraceLog{}
	exchanger, err := s.exchangerFor(spec, user, sessionToken, r, trace)
	if err != nil {
		return nil, err
	}

	orch := NewOrchestrator(spec.Name, user, spec.RedirectURI(s.config.ServerURL), exchanger, s.store, trace, s.logger)
	s.flows[key] = orch
	return orch, nil
}

// FlowSnapshot summarizes one flow instance for diagnostics
type FlowSnapshot struct {
	ID       string          `json:"id"`
	Provider string          `json:"provider"`
	Status   Status          `json:"status"`
	Trace    []TraceLogEntry `json:"trace"`
	Error    string          `json:"error,omitempty"`
}

// FlowSnapshots returns the state of every flow this server has seen
func (s *Server) FlowSnapshots() []FlowSnapshot {
	s.mu.Lock()
	orchs := make([]*Orchestrator, 0, len(s.flows))
	for _, o := range s.flows {
		orchs = append(orchs, o)
	}
	s.mu.Unlock()

	snapshots := make([]FlowSnapshot, 0, len(orchs))
	for _, o := range orchs {
		snapshots = append(snapshots, FlowSnapshot{
			ID:       o.ID(),
			Provider: o.provider,
			Status:   o.Status(),
			Trace:    o.Trace().Entries(),
			Error:    o.ErrorMessage(),
		})
	}
	return snapshots
}

// callbackResponse is what the callback view renders
type callbackResponse struct {
	Provider string              `json:"provider"`
	Status   Status              `json:"status"`
	Result   *FlowResult         `json:"result,omitempty"`
	Trace    []TraceLogEntry     `json:"trace,omitempty"`
	Error    string              `json:"error,omitempty"`
	Params   AuthorizationResult `json:"params"`
}

// HandleCallback is the provider redirect target. It extracts the
// authorization parameters, evaluates the processing guard and reports the
// flow state. Safe to reload: re-evaluation of a non-idle flow is a no-op.
func (s *Server) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	auth := ParseAuthorizationResult(r.URL.Query())
	spec := s.providerForCallback(r.URL.Path)

	s.logger.Info("Callback: %s - code: %s, error: %s",
		spec.Name, truncateString(auth.Code, 10), auth.Error)

	resp := callbackResponse{
		Provider: spec.Name,
		Status:   StatusIdle,
		Params:   auth,
	}

	if auth.Denied() {
		// The provider refused authorization; nothing to exchange.
		resp.Error = fmt.Sprintf("Authorization failed: %s", auth.ErrorDescription)
		s.writeJSON(w, http.StatusOK, resp)
		return
	}

	if auth.Code == "" {
		resp.Error = "No authorization code received"
		s.writeJSON(w, http.StatusOK, resp)
		return
	}

	user, sessionToken, ok := s.authenticate(r)
	if !ok {
		// The guard requires an operating user; without one the flow
		// stays idle and the code is displayed for manual use.
		resp.Error = "Not signed in; code captured but not exchanged"
		s.writeJSON(w, http.StatusOK, resp)
		return
	}

	orch, err := s.flowFor(spec, auth.Code, user, sessionToken, r)
	if err != nil {
		resp.Error = err.Error()
		s.writeJSON(w, http.StatusOK, resp)
		return
	}

	before := orch.Status()
	status := orch.Evaluate(r.Context(), auth)
	if before == StatusIdle && status != StatusIdle {
		s.metrics.flowsStarted.WithLabelValues(spec.Name).Inc()
		if status == StatusSuccess || status == StatusError {
			s.metrics.flowsFinished.WithLabelValues(spec.Name, string(status)).Inc()
		}
		if status == StatusSuccess && orch.Result() != nil && orch.Result().Bundle != nil {
			s.metrics.upserts.WithLabelValues(spec.Name).Inc()
		}
	}

	resp.Status = status
	resp.Result = orch.Result()
	resp.Trace = orch.Trace().Entries()
	resp.Error = orch.ErrorMessage()
	s.writeJSON(w, http.StatusOK, resp)
}

// bridgeMessage is the ingestion body for cross-window messages forwarded
// by the callback page
type bridgeMessage struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// HandleBridgeMessages ingests (POST) and lists (GET) cross-window
// messages
func (s *Server) HandleBridgeMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		var msg bridgeMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			http.Error(w, "Invalid message body", http.StatusBadRequest)
			return
		}

		origin := r.Header.Get("Origin")
		if msg.Origin != "" {
			origin = msg.Origin
		}

		if s.bridge.Receive(origin, msg.Data) {
			s.metrics.bridgeAccepted.Inc()
			w.WriteHeader(http.StatusAccepted)
			return
		}
		s.metrics.bridgeRejected.Inc()
		w.WriteHeader(http.StatusForbidden)

	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.bridge.Events())

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// providerListing is one catalog entry with deployment-specific URLs filled
// in
type providerListing struct {
	*ProviderSpec
	RedirectURL  string `json:"redirect_url"`
	AuthorizeURL string `json:"authorize_url,omitempty"`
}

// HandleProviders serves the provider catalog with ready-to-use authorize
// URLs
func (s *Server) HandleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var listings []providerListing
	for _, spec := range s.providers {
		listing := providerListing{
			ProviderSpec: spec,
			RedirectURL:  spec.RedirectURI(s.config.ServerURL),
		}
		clientID := s.clientIDFor(spec.Name)
		if spec.AuthURL != "" && clientID != "" {
			if u, err := spec.AuthorizeURL(clientID, listing.RedirectURL); err == nil {
				listing.AuthorizeURL = u
			}
		}
		listings = append(listings, listing)
	}
	s.writeJSON(w, http.StatusOK, listings)
}

func (s *Server) clientIDFor(provider string) string {
	switch provider {
	case ProviderInstagram:
		return s.config.InstagramClientID
	case ProviderGoogle:
		return s.config.GoogleClientID
	case ProviderWhatsApp, ProviderFacebook:
		return s.config.FacebookAppID
	}
	return ""
}

// HandleCredentials lists the authenticated operator's captured credential
// bundles
func (s *Server) HandleCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user, _, ok := s.authenticate(r)
	if !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	records, err := s.store.List(r.Context(), user.ID)
	if err != nil {
		s.logger.Error("Credential listing failed for %s: %v", user.ID, err)
		http.Error(w, "Failed to list credentials", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []ProviderCredentialRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

// deletionResponse is the JSON body the data-deletion webhook must answer
// with
type deletionResponse struct {
	URL              string `json:"url"`
	ConfirmationCode string `json:"confirmation_code"`
}

// HandleDataDeletion accepts the provider's data-deletion callback:
// form-encoded signed_request in, status URL and confirmation code out
func (s *Server) HandleDataDeletion(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.readSignedRequest(w, r)
	if !ok {
		return
	}

	code := uuid.NewString()
	s.logger.Info("Webhook: data deletion requested for provider user %s (confirmation: %s)", payload.UserID, code)

	s.writeJSON(w, http.StatusOK, deletionResponse{
		URL:              fmt.Sprintf("%s/deletion-status?code=%s", strings.TrimRight(s.config.ServerURL, "/"), url.QueryEscape(code)),
		ConfirmationCode: code,
	})
}

// HandleDeauthorize accepts the provider's deauthorization callback
func (s *Server) HandleDeauthorize(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.readSignedRequest(w, r)
	if !ok {
		return
	}

	s.logger.Info("Webhook: deauthorization received for provider user %s", payload.UserID)
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// readSignedRequest parses the form-encoded signed_request both webhook
// routes carry. The signature segment is not verified here; the harness
// only needs the payload.
func (s *Server) readSignedRequest(w http.ResponseWriter, r *http.Request) (SignedRequestPayload, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return SignedRequestPayload{}, false
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return SignedRequestPayload{}, false
	}

	raw := r.FormValue("signed_request")
	if raw == "" {
		http.Error(w, "No signed_request provided", http.StatusBadRequest)
		return SignedRequestPayload{}, false
	}

	_, payload, err := ParseSignedRequest(raw)
	if err != nil {
		s.logger.Warn("Webhook: rejected signed_request: %v", err)
		http.Error(w, "Invalid signed_request", http.StatusBadRequest)
		return SignedRequestPayload{}, false
	}
	return payload, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}
