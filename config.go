package main

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/novusedge/envato-oauth/auth"
	"github.com/novusedge/envato-oauth/callback"
	"github.com/novusedge/envato-oauth/market"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// envPrefix is stripped from environment variables during config loading
// (e.g., ENVATO_CLIENT_ID → client_id).
const envPrefix = "ENVATO_"

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatText
	DefaultConfigCallbackTimeout = 300 * time.Second
)

// Config holds the application's configuration.
type Config struct {
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`
	RedirectURI  string `json:"redirect_uri" validate:"required,url"`

	// OAuthPort is the loopback port of the callback listener.
	OAuthPort int    `json:"oauth_port" validate:"gte=0,lte=65535"`
	TokenFile string `json:"token_file"`

	AuthURL    string `json:"auth_url" validate:"omitempty,url"`
	TokenURL   string `json:"token_url" validate:"omitempty,url"`
	APIBaseURL string `json:"api_base_url" validate:"omitempty,url"`

	// CallbackTimeout bounds the wait for the browser redirect.
	CallbackTimeout time.Duration `json:"callback_timeout" validate:"gte=0"`

	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level `json:"log_level"`
	LogFormat LogFormat  `json:"log_format" validate:"oneof=text json"`
}

// ApplyDefaults fills unset config fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.OAuthPort == 0 {
		c.OAuthPort = callback.DefaultPort
	}
	if c.TokenFile == "" {
		c.TokenFile = auth.DefaultTokenFile
	}
	if c.AuthURL == "" {
		c.AuthURL = auth.DefaultAuthURL
	}
	if c.TokenURL == "" {
		c.TokenURL = auth.DefaultTokenURL
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = market.DefaultBaseURL
	}
	if c.CallbackTimeout == 0 {
		c.CallbackTimeout = DefaultConfigCallbackTimeout
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
}

// Validate checks the configuration against its struct tags. Missing
// required settings are reported by their environment variable names.
func (c *Config) Validate() error {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		return name
	})

	err := v.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	cfgErr := &auth.ConfigurationError{}
	var invalid []error
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			cfgErr.Missing = append(cfgErr.Missing, envName(fe.Field()))
			continue
		}
		invalid = append(invalid, fmt.Errorf("%s: failed %q check", envName(fe.Field()), fe.Tag()))
	}
	cfgErr.Err = errors.Join(invalid...)
	return cfgErr
}

// ManagerConfig returns the token manager settings.
func (c *Config) ManagerConfig() auth.Config {
	return auth.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURI:  c.RedirectURI,
		AuthURL:      c.AuthURL,
		TokenURL:     c.TokenURL,
		TokenFile:    c.TokenFile,
	}
}

func envName(key string) string {
	return envPrefix + strings.ToUpper(key)
}

// loadConfig loads configuration from various sources with precedence:
// config file → environment variables → CLI flags → defaults
func loadConfig(configPath string, cmd *cli.Command, environFunc func() []string) (*Config, error) {
	k := koanf.New(".")

	// 1. Load from config file if provided
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// 2. Load from environment variables. The bare OAUTH_PORT is honoured
	// for compatibility; ENVATO_OAUTH_PORT overrides it.
	portProvider := env.Provider(".", env.Opt{
		Prefix: "OAUTH_PORT",
		TransformFunc: func(key, value string) (string, any) {
			if key != "OAUTH_PORT" {
				return "", nil
			}
			return "oauth_port", value
		},
		EnvironFunc: environFunc,
	})
	if err := k.Load(portProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, envPrefix)), value
		},
		EnvironFunc: environFunc,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	// 3. Load from CLI flags if provided
	if cmd != nil {
		flagValues := extractAndTransformFlags(cmd)
		if err := k.Load(confmap.Provider(flagValues, "."), nil); err != nil {
			return nil, fmt.Errorf("loading CLI flags: %w", err)
		}
	}

	config := &Config{}
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// flagKeys maps CLI flag names onto config keys where the two differ.
var flagKeys = map[string]string{
	"port":    "oauth_port",
	"timeout": "callback_timeout",
}

// extractAndTransformFlags transforms CLI flag names to match config keys.
// Includes parent flags. Example: --log-level → log_level
func extractAndTransformFlags(cmd *cli.Command) map[string]any {
	values := make(map[string]any)

	// FlagNames() includes flags from parent commands (via lineage)
	for _, name := range cmd.FlagNames() {
		// Skip unset flags to preserve precedence from earlier config sources
		if !cmd.IsSet(name) {
			continue
		}

		if value := cmd.Value(name); value != nil {
			key, ok := flagKeys[name]
			if !ok {
				key = strings.ReplaceAll(name, "-", "_")
			}
			values[key] = value
		}
	}

	return values
}
