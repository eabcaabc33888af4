package harness

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Exchange strategies. Exactly one is active per deployment: either the
// harness exchanges authorization codes itself (optionally through a public
// CORS relay, matching what a browser-resident harness would do), or it
// forwards the raw code to a trusted backend that performs the exchange.
const (
	StrategyBrowser = "browser"
	StrategyRelay   = "relay"
)

// Config holds harness configuration
type Config struct {
	// Strategy selects how captured authorization codes are exchanged:
	// "browser" (direct/proxied exchange) or "relay" (backend exchange).
	Strategy string

	// ServerURL is the full public URL of the harness. Redirect URIs
	// presented to providers derive from it and must match byte-for-byte
	// between the authorize and exchange steps.
	ServerURL string

	// Provider app registration. Client secrets here are a known
	// limitation of the test harness, not a pattern for production.
	InstagramClientID     string
	InstagramClientSecret string
	GoogleClientID        string
	GoogleClientSecret    string
	FacebookAppID         string
	FacebookConfigID      string // Configuration ID for Embedded Signup
	GraphAPIVersion       string

	// CORSRelay names the public request relay used for provider token
	// endpoints that reject cross-origin calls: "corsproxy", "codetabs",
	// or "" for direct requests.
	CORSRelay string

	// BackendURL is the serverless endpoint that receives raw codes when
	// Strategy is "relay".
	BackendURL string

	// Operator session validation ("hmac" or "oidc"). The harness never
	// validates captured provider tokens; this only identifies the
	// operating user that owns persisted credentials.
	SessionProvider string
	SessionSecret   []byte // For HMAC session validation
	Issuer          string // OIDC issuer
	Audience        string

	// Optional - Logging
	// Logger allows custom logging implementation. If nil, uses default
	// logger that outputs to log.Printf with level prefixes.
	Logger Logger
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Strategy == "" {
		c.Strategy = StrategyBrowser
	}
	if c.Strategy != StrategyBrowser && c.Strategy != StrategyRelay {
		return fmt.Errorf("strategy must be %q or %q, got: %s", StrategyBrowser, StrategyRelay, c.Strategy)
	}

	if c.ServerURL == "" {
		return fmt.Errorf("server URL is required")
	}

	if c.Strategy == StrategyRelay && c.BackendURL == "" {
		return fmt.Errorf("relay strategy requires BackendURL")
	}

	switch c.CORSRelay {
	case "", RelayCorsproxy, RelayCodetabs:
	default:
		return fmt.Errorf("unknown CORS relay: %s (supported: %s, %s)", c.CORSRelay, RelayCorsproxy, RelayCodetabs)
	}

	if c.GraphAPIVersion == "" {
		c.GraphAPIVersion = "v20.0"
	}

	// Validate session provider requirements
	switch c.SessionProvider {
	case "":
		return fmt.Errorf("session provider is required")
	case "hmac":
		if len(c.SessionSecret) == 0 {
			return fmt.Errorf("SessionSecret is required for HMAC session provider")
		}
	case "oidc":
		if c.Issuer == "" {
			return fmt.Errorf("issuer is required for OIDC session provider")
		}
	default:
		return fmt.Errorf("unknown session provider: %s (supported: hmac, oidc)", c.SessionProvider)
	}

	if c.Audience == "" {
		return fmt.Errorf("audience is required")
	}

	return nil
}

// ConfigBuilder provides a fluent API for constructing harness Config
type ConfigBuilder struct {
	config *Config
	host   string
	port   string
	useTLS bool
}

// NewConfigBuilder creates a new ConfigBuilder
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		config: &Config{},
		host:   "localhost",
		port:   "8080",
	}
}

// WithStrategy sets the exchange strategy ("browser" or "relay")
func (b *ConfigBuilder) WithStrategy(strategy string) *ConfigBuilder {
	b.config.Strategy = strategy
	return b
}

// WithServerURL sets the full server URL directly
func (b *ConfigBuilder) WithServerURL(url string) *ConfigBuilder {
	b.config.ServerURL = url
	return b
}

// WithInstagramApp sets the Instagram app credentials
func (b *ConfigBuilder) WithInstagramApp(clientID, clientSecret string) *ConfigBuilder {
	b.config.InstagramClientID = clientID
	b.config.InstagramClientSecret = clientSecret
	return b
}

// WithGoogleApp sets the Google app credentials
func (b *ConfigBuilder) WithGoogleApp(clientID, clientSecret string) *ConfigBuilder {
	b.config.GoogleClientID = clientID
	b.config.GoogleClientSecret = clientSecret
	return b
}

// WithFacebookApp sets the Facebook app ID and Embedded Signup config ID
func (b *ConfigBuilder) WithFacebookApp(appID, configID string) *ConfigBuilder {
	b.config.FacebookAppID = appID
	b.config.FacebookConfigID = configID
	return b
}

// WithCORSRelay sets the public CORS relay ("corsproxy" or "codetabs")
func (b *ConfigBuilder) WithCORSRelay(relay string) *ConfigBuilder {
	b.config.CORSRelay = relay
	return b
}

// WithBackendURL sets the backend relay endpoint
func (b *ConfigBuilder) WithBackendURL(url string) *ConfigBuilder {
	b.config.BackendURL = url
	return b
}

// WithSessionProvider sets the operator session provider ("hmac" or "oidc")
func (b *ConfigBuilder) WithSessionProvider(provider string) *ConfigBuilder {
	b.config.SessionProvider = provider
	return b
}

// WithSessionSecret sets the HMAC session secret
func (b *ConfigBuilder) WithSessionSecret(secret []byte) *ConfigBuilder {
	b.config.SessionSecret = secret
	return b
}

// WithIssuer sets the OIDC issuer
func (b *ConfigBuilder) WithIssuer(issuer string) *ConfigBuilder {
	b.config.Issuer = issuer
	return b
}

// WithAudience sets the audience
func (b *ConfigBuilder) WithAudience(audience string) *ConfigBuilder {
	b.config.Audience = audience
	return b
}

// WithLogger sets the logger
func (b *ConfigBuilder) WithLogger(logger Logger) *ConfigBuilder {
	b.config.Logger = logger
	return b
}

// WithHost sets the server host (used to construct ServerURL if not set)
func (b *ConfigBuilder) WithHost(host string) *ConfigBuilder {
	b.host = host
	return b
}

// WithPort sets the server port (used to construct ServerURL if not set)
func (b *ConfigBuilder) WithPort(port string) *ConfigBuilder {
	b.port = port
	return b
}

// WithTLS enables HTTPS scheme (used to construct ServerURL if not set)
func (b *ConfigBuilder) WithTLS(useTLS bool) *ConfigBuilder {
	b.useTLS = useTLS
	return b
}

// Build constructs and validates the Config
func (b *ConfigBuilder) Build() (*Config, error) {
	if b.config.ServerURL == "" {
		b.config.ServerURL = AutoDetectServerURL(b.host, b.port, b.useTLS)
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	return b.config, nil
}

// AutoDetectServerURL constructs a server URL from components
func AutoDetectServerURL(host, port string, useTLS bool) string {
	scheme := "http"
	if useTLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%s", scheme, host, port)
}

// envConfig mirrors Config for environment parsing
type envConfig struct {
	Strategy  string `env:"HARNESS_STRATEGY"`
	ServerURL string `env:"HARNESS_URL"`
	Host      string `env:"HARNESS_HOST" envDefault:"localhost"`
	Port      string `env:"HARNESS_PORT" envDefault:"8080"`
	CertFile  string `env:"HTTPS_CERT_FILE"`
	KeyFile   string `env:"HTTPS_KEY_FILE"`

	InstagramClientID     string `env:"INSTAGRAM_CLIENT_ID"`
	InstagramClientSecret string `env:"INSTAGRAM_CLIENT_SECRET"`
	GoogleClientID        string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret    string `env:"GOOGLE_CLIENT_SECRET"`
	FacebookAppID         string `env:"FACEBOOK_APP_ID"`
	FacebookConfigID      string `env:"FACEBOOK_CONFIG_ID"`
	GraphAPIVersion       string `env:"GRAPH_API_VERSION" envDefault:"v20.0"`

	CORSRelay  string `env:"CORS_RELAY"`
	BackendURL string `env:"BACKEND_URL"`

	SessionProvider string `env:"SESSION_PROVIDER" envDefault:"hmac"`
	SessionSecret   string `env:"SESSION_SECRET"`
	Issuer          string `env:"SESSION_ISSUER"`
	Audience        string `env:"SESSION_AUDIENCE"`
}

// FromEnv creates a Config from environment variables
func FromEnv() (*Config, error) {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	serverURL := ec.ServerURL
	if serverURL == "" {
		useTLS := ec.CertFile != "" && ec.KeyFile != ""
		serverURL = AutoDetectServerURL(ec.Host, ec.Port, useTLS)
	}

	cfg := &Config{
		Strategy:              ec.Strategy,
		ServerURL:             serverURL,
		InstagramClientID:     ec.InstagramClientID,
		InstagramClientSecret: ec.InstagramClientSecret,
		GoogleClientID:        ec.GoogleClientID,
		GoogleClientSecret:    ec.GoogleClientSecret,
		FacebookAppID:         ec.FacebookAppID,
		FacebookConfigID:      ec.FacebookConfigID,
		GraphAPIVersion:       ec.GraphAPIVersion,
		CORSRelay:             ec.CORSRelay,
		BackendURL:            ec.BackendURL,
		SessionProvider:       ec.SessionProvider,
		SessionSecret:         []byte(ec.SessionSecret),
		Issuer:                ec.Issuer,
		Audience:              ec.Audience,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
