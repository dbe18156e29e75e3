package extension

import "time"

// Config holds the escrow extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.escrow" or "escrow" keys).
type Config struct {
	// DisableRoutes skips building the HTTP API.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix the API is served under (default: "/escrow").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// PlatformFeePercent is the platform share of each escrow release
	// (default: 10).
	PlatformFeePercent int64 `json:"platform_fee_percent" mapstructure:"platform_fee_percent" yaml:"platform_fee_percent"`

	// ProDurationDays is the length of one Pro period (default: 30).
	ProDurationDays int `json:"pro_duration_days" mapstructure:"pro_duration_days" yaml:"pro_duration_days"`

	// FreeDailyLimit is the number of free AI questions per identity per
	// day (default: 3).
	FreeDailyLimit int64 `json:"free_daily_limit" mapstructure:"free_daily_limit" yaml:"free_daily_limit"`

	// ExpiryInterval is how often lapsed subscriptions are swept (default: 1h).
	ExpiryInterval time.Duration `json:"expiry_interval" mapstructure:"expiry_interval" yaml:"expiry_interval"`

	// JWTSecret signs and verifies API bearer tokens. Required unless
	// DisableRoutes is set.
	JWTSecret string `json:"jwt_secret" mapstructure:"jwt_secret" yaml:"jwt_secret"`

	// JWTIssuer, when set, is checked on every token.
	JWTIssuer string `json:"jwt_issuer" mapstructure:"jwt_issuer" yaml:"jwt_issuer"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:           "/escrow",
		PlatformFeePercent: 10,
		ProDurationDays:    30,
		FreeDailyLimit:     3,
		ExpiryInterval:     time.Hour,
	}
}
