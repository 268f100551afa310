package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	domainconfig "esence/domain/config"
	"esence/domain/core/valueobjects"
	domainsvc "esence/domain/services"
	"esence/pkg/utils"

	"gopkg.in/yaml.v3"
)

// Environment names
const (
	Development = "development"
	Production  = "production"
)

// Engine providers
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderStatic    = "static"
)

// Config holds all node configuration
type Config struct {
	Environment string `yaml:"environment" validate:"oneof=development production"`
	LogLevel    string `yaml:"log_level" validate:"oneof=debug info warn error"`

	Node      NodeConfig      `yaml:"node"`
	Engine    EngineConfig    `yaml:"engine"`
	Capacity  CapacityConfig  `yaml:"capacity"`
	Queue     QueueConfig     `yaml:"queue"`
	Autonomy  AutonomyConfig  `yaml:"autonomy"`
	Peers     PeersConfig     `yaml:"peers"`
	Transport TransportConfig `yaml:"transport"`
	Auth      AuthConfig      `yaml:"auth"`
	Tracing   TracingConfig   `yaml:"tracing"`

	// Path is the YAML file the config was read from, if any
	Path string `yaml:"-"`
}

// NodeConfig identifies and locates the node
type NodeConfig struct {
	Name          string `yaml:"name" validate:"required,max=64"`
	PublicURL     string `yaml:"public_url" validate:"required,url"`
	ListenAddress string `yaml:"listen_address" validate:"required"`
	StoreDir      string `yaml:"store_dir" validate:"required"`
	BootstrapPeer string `yaml:"bootstrap_peer" validate:"omitempty,did"`
}

// EngineConfig selects the reply generator
type EngineConfig struct {
	Provider     string        `yaml:"provider" validate:"oneof=anthropic gemini static"`
	Model        string        `yaml:"model"`
	BaseURL      string        `yaml:"base_url" validate:"omitempty,url"`
	MaxUnits     int           `yaml:"max_units" validate:"gt=0"`
	MaxRetries   int           `yaml:"max_retries" validate:"gte=0"`
	Timeout      time.Duration `yaml:"timeout"`
	StaticReply  string        `yaml:"static_reply"`
	AnthropicKey string        `yaml:"-"`
	GeminiKey    string        `yaml:"-"`
}

// CapacityConfig sizes the donated budget
type CapacityConfig struct {
	TotalUnits    int64         `yaml:"total_units" validate:"gt=0"`
	DonationPct   float64       `yaml:"donation_pct" validate:"gte=0,lte=100"`
	Period        time.Duration `yaml:"period"`
	EstimateBase  int64         `yaml:"estimate_base" validate:"gte=0"`
	PriorityPeers []string      `yaml:"priority_peers" validate:"dive,did"`
}

// QueueConfig tunes the thread queue and inbound verification
type QueueConfig struct {
	GenerationTimeout time.Duration `yaml:"generation_timeout"`
	DeliveryTimeout   time.Duration `yaml:"delivery_timeout"`
	MaxMessageAge     time.Duration `yaml:"max_message_age"`
	DraftOnArrival    bool          `yaml:"draft_on_arrival"`
}

// AutonomyConfig holds routing thresholds and the hot-reloaded rules
type AutonomyConfig struct {
	Threshold          float64                `yaml:"threshold" validate:"gte=0,lte=1"`
	DefaultTopic       string                 `yaml:"default_topic" validate:"required"`
	UncertaintyMarkers []string               `yaml:"uncertainty_markers"`
	Rules              []domainsvc.DomainRule `yaml:"rules" validate:"dive"`
}

// PeersConfig tunes discovery and the periodic loops
type PeersConfig struct {
	ResolverTTL       time.Duration `yaml:"resolver_ttl"`
	GossipInterval    time.Duration `yaml:"gossip_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// TransportConfig tunes outbound delivery and the inbound limiter
type TransportConfig struct {
	SendTimeout     time.Duration `yaml:"send_timeout"`
	MaxRetries      int           `yaml:"max_retries" validate:"gte=0"`
	RateLimit       int           `yaml:"rate_limit" validate:"gt=0"`
	RateWindow      time.Duration `yaml:"rate_window"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig protects the local control surface
type AuthConfig struct {
	JWTSecret string `yaml:"-"`
	JWTIssuer string `yaml:"jwt_issuer"`
	// Required rejects control requests without an owner token
	Required bool `yaml:"required"`
}

// TracingConfig points span export at an OTLP collector. Export is off
// while Endpoint is empty.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// Default returns the configuration of a local development node
func Default() *Config {
	return &Config{
		Environment: Development,
		LogLevel:    "info",
		Node: NodeConfig{
			Name:          "node0",
			PublicURL:     "http://localhost:7777",
			ListenAddress: ":7777",
			StoreDir:      "./essence-store",
		},
		Engine: EngineConfig{
			Provider:   ProviderAnthropic,
			MaxUnits:   1024,
			MaxRetries: 3,
			Timeout:    90 * time.Second,
		},
		Capacity: CapacityConfig{
			TotalUnits:   1_000_000,
			DonationPct:  10,
			Period:       30 * 24 * time.Hour,
			EstimateBase: 200,
		},
		Queue: QueueConfig{
			GenerationTimeout: 2 * time.Minute,
			DeliveryTimeout:   2 * time.Minute,
			MaxMessageAge:     300 * time.Second,
		},
		Autonomy: AutonomyConfig{
			Threshold:    0.6,
			DefaultTopic: "general",
		},
		Peers: PeersConfig{
			ResolverTTL:       300 * time.Second,
			GossipInterval:    5 * time.Minute,
			HeartbeatInterval: 30 * time.Second,
		},
		Transport: TransportConfig{
			SendTimeout:     15 * time.Second,
			MaxRetries:      3,
			RateLimit:       30,
			RateWindow:      time.Minute,
			AllowedOrigins:  []string{"http://localhost:*", "http://127.0.0.1:*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			JWTIssuer: "esence",
		},
		Tracing: TracingConfig{
			Insecure:    true,
			SampleRatio: 1,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when empty or missing), then environment variables, and
// validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("ESENCE_CONFIG")
	}
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.Path = path
	return nil
}

// LoadRules reads only the autonomy rules from a YAML config file
func LoadRules(path string) ([]domainsvc.DomainRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Autonomy struct {
			Rules []domainsvc.DomainRule `yaml:"rules"`
		} `yaml:"autonomy"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	for _, r := range doc.Autonomy.Rules {
		if err := utils.ValidateStruct(r); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Domain, err)
		}
	}
	return doc.Autonomy.Rules, nil
}

func (c *Config) applyEnv() {
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", c.LogLevel))

	c.Node.Name = getEnv("ESENCE_NODE_NAME", c.Node.Name)
	c.Node.PublicURL = getEnv("ESENCE_PUBLIC_URL", c.Node.PublicURL)
	if port := os.Getenv("ESENCE_PORT"); port != "" {
		c.Node.ListenAddress = ":" + port
	}
	c.Node.ListenAddress = getEnv("ESENCE_LISTEN_ADDRESS", c.Node.ListenAddress)
	c.Node.StoreDir = getEnv("ESENCE_STORE_DIR", c.Node.StoreDir)
	c.Node.BootstrapPeer = getEnv("ESENCE_BOOTSTRAP_PEER", c.Node.BootstrapPeer)

	c.Engine.Provider = getEnv("ESENCE_PROVIDER", c.Engine.Provider)
	c.Engine.Model = getEnv("ESENCE_MODEL", c.Engine.Model)
	c.Engine.AnthropicKey = getEnv("ANTHROPIC_API_KEY", c.Engine.AnthropicKey)
	c.Engine.GeminiKey = getEnv("GEMINI_API_KEY", c.Engine.GeminiKey)

	c.Capacity.DonationPct = getEnvFloat("ESENCE_DONATION_PCT", c.Capacity.DonationPct)
	c.Capacity.TotalUnits = int64(getEnvInt("ESENCE_TOTAL_UNITS", int(c.Capacity.TotalUnits)))

	c.Queue.DraftOnArrival = getEnvBool("ESENCE_DRAFT_ON_ARRIVAL", c.Queue.DraftOnArrival)

	c.Auth.JWTSecret = getEnv("ESENCE_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.Required = getEnvBool("ESENCE_AUTH_REQUIRED", c.Auth.Required)

	c.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.SampleRatio = getEnvFloat("ESENCE_TRACE_SAMPLE_RATIO", c.Tracing.SampleRatio)
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return err
	}
	u, err := url.Parse(c.Node.PublicURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("node.public_url %q has no host", c.Node.PublicURL)
	}
	if _, err := valueobjects.NewDID(u.Host, c.Node.Name); err != nil {
		return fmt.Errorf("node.name: %w", err)
	}
	if c.Engine.Provider == ProviderAnthropic && c.Engine.AnthropicKey == "" && c.IsProduction() {
		return errors.New("ANTHROPIC_API_KEY is required for the anthropic provider")
	}
	if c.Engine.Provider == ProviderGemini && c.Engine.GeminiKey == "" && c.IsProduction() {
		return errors.New("GEMINI_API_KEY is required for the gemini provider")
	}
	if c.Auth.Required && c.Auth.JWTSecret == "" {
		return errors.New("ESENCE_JWT_SECRET is required when auth is required")
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"capacity.period", c.Capacity.Period},
		{"queue.generation_timeout", c.Queue.GenerationTimeout},
		{"queue.delivery_timeout", c.Queue.DeliveryTimeout},
		{"queue.max_message_age", c.Queue.MaxMessageAge},
		{"peers.resolver_ttl", c.Peers.ResolverTTL},
		{"peers.gossip_interval", c.Peers.GossipInterval},
		{"peers.heartbeat_interval", c.Peers.HeartbeatInterval},
		{"transport.send_timeout", c.Transport.SendTimeout},
		{"transport.rate_window", c.Transport.RateWindow},
	} {
		if d.v <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}
	return nil
}

// PublicHost returns host[:port] of the public URL
func (c *Config) PublicHost() string {
	u, err := url.Parse(c.Node.PublicURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Domain derives the business rules from the configured thresholds
func (c *Config) Domain() *domainconfig.DomainConfig {
	d := domainconfig.DefaultDomainConfig()
	d.AutonomyThreshold = c.Autonomy.Threshold
	d.DefaultTopic = c.Autonomy.DefaultTopic
	d.MaxMessageAge = c.Queue.MaxMessageAge
	return d
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
