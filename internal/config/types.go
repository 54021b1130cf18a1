package config

// Config is the root configuration for dialdeck.
type Config struct {
	Backend   BackendConfig   `yaml:"backend,omitempty"`
	Agents    AgentsConfig    `yaml:"agents,omitempty"`
	Dialer    DialerConfig    `yaml:"dialer,omitempty"`
	Calls     CallsConfig     `yaml:"calls,omitempty"`
	Gateway   GatewayConfig   `yaml:"gateway,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
	Store     StoreConfig     `yaml:"store,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// BackendConfig points at the remote calling/voice backend.
type BackendConfig struct {
	BaseURL        string `yaml:"baseUrl,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
	Token          string `yaml:"token,omitempty"` // may be ${ENV_VAR}
}

// AgentsConfig selects where the agent collection lives.
type AgentsConfig struct {
	Source string `yaml:"source,omitempty"` // "remote" | "local"
}

// DialerConfig tunes the call dialer.
type DialerConfig struct {
	CountryCode  string `yaml:"countryCode,omitempty"`
	ResetSeconds int    `yaml:"resetSeconds,omitempty"`
}

// CallsConfig tunes the call history view.
type CallsConfig struct {
	HistoryLimit int `yaml:"historyLimit,omitempty"`
}

// GatewayConfig controls the console API server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	TLS            GatewayTLS  `yaml:"tls,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
	File         string `yaml:"file,omitempty"`
}

// StoreConfig locates the local SQLite database.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"` // defaults to <base>/data/dialdeck.db
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled,omitempty"`
	OTLPEndpoint string `yaml:"otlpEndpoint,omitempty"`
	ServiceName  string `yaml:"serviceName,omitempty"`
}
