package config

// Config is the TOML-decoded shape of the proxy's config file.
type Config struct {
	ListenAddr           string           `toml:"listen_addr" mapstructure:"listen_addr"`
	WorkerThreads        int              `toml:"worker_threads" mapstructure:"worker_threads"`
	RequestTimeoutMs     int64            `toml:"request_timeout_ms" mapstructure:"request_timeout_ms"`
	MaxRequestBodyBytes  int64            `toml:"max_request_body_bytes" mapstructure:"max_request_body_bytes"`
	ProxyTokens          []string         `toml:"proxy_tokens" mapstructure:"proxy_tokens"`
	AdminTokens          []string         `toml:"admin_tokens" mapstructure:"admin_tokens"`
	DataDir              string           `toml:"data_dir" mapstructure:"data_dir"`
	UsageInjectUpstreams []string         `toml:"usage_inject_upstreams" mapstructure:"usage_inject_upstreams"`
	Ban                  BanConfig        `toml:"ban" mapstructure:"ban"`
	Upstreams            []UpstreamConfig `toml:"upstreams" mapstructure:"upstreams"`
	Logging              LoggingConfig    `toml:"logging" mapstructure:"logging"`
}

// BanConfig is the `[ban]` table: base cooldown durations per failure kind
// and the exponential-backoff exponent cap.
type BanConfig struct {
	RateLimitMs    int64 `toml:"rate_limit_ms" mapstructure:"rate_limit_ms"`
	AuthErrorMs    int64 `toml:"auth_error_ms" mapstructure:"auth_error_ms"`
	ServerErrorMs  int64 `toml:"server_error_ms" mapstructure:"server_error_ms"`
	NetworkErrorMs int64 `toml:"network_error_ms" mapstructure:"network_error_ms"`
	MaxBackoffPow  int   `toml:"max_backoff_pow" mapstructure:"max_backoff_pow"`
}

// UpstreamConfig is one `[[upstreams]]` table entry. Keys is an optional,
// config-time seed for the upstream's key pool: it only takes
// effect on the very first bootstrap of a fresh data_dir, since persistence
// overrides config once it has any keys of its own for that upstream id.
type UpstreamConfig struct {
	ID      string   `toml:"id" mapstructure:"id"`
	BaseURL string   `toml:"base_url" mapstructure:"base_url"`
	Weight  int      `toml:"weight" mapstructure:"weight"`
	Keys    []string `toml:"keys" mapstructure:"keys"`
}

// LoggingConfig lets an operator control log verbosity and destination
// from the same config file as everything else.
type LoggingConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Theme      string `toml:"theme" mapstructure:"theme"`
	FileOutput bool   `toml:"file_output" mapstructure:"file_output"`
	LogDir     string `toml:"log_dir" mapstructure:"log_dir"`
	Pretty     bool   `toml:"pretty" mapstructure:"pretty"`
}
