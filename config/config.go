package config

import (
	"log/slog"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
	StaticDir   string `mapstructure:"static_dir"`
}

type ProxyConfig struct {
	DialTimeout           string `mapstructure:"dial_timeout"`
	ResponseHeaderTimeout string `mapstructure:"response_header_timeout"`
	IdleConnTimeout       string `mapstructure:"idle_conn_timeout"`
	MaxIdleConnsPerHost   int    `mapstructure:"max_idle_conns_per_host"`
}

type RouteConfig struct {
	Prefix       string `mapstructure:"prefix"`
	Target       string `mapstructure:"target"`
	ChangeOrigin bool   `mapstructure:"change_origin"`
}

type HealthCheckConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Proxy       ProxyConfig       `mapstructure:"proxy"`
	Routes      []RouteConfig     `mapstructure:"routes"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

// DefaultRoutes is the development routing table: member API on 8081, auth
// API on 8080, both with the Host header rewritten to the backend.
func DefaultRoutes() []RouteConfig {
	return []RouteConfig{
		{Prefix: "/api2/members", Target: "http://localhost:8081", ChangeOrigin: true},
		{Prefix: "/api/auth", Target: "http://localhost:8080", ChangeOrigin: true},
	}
}

// Load reads config.yaml from the given directories (./config and . when
// none are given), applies environment overrides and defaults, and
// validates the result.
func Load(paths ...string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":3000")
	v.SetDefault("server.static_dir", "")
	v.SetDefault("proxy.dial_timeout", "10s")
	v.SetDefault("proxy.response_header_timeout", "30s")
	v.SetDefault("proxy.idle_conn_timeout", "90s")
	v.SetDefault("proxy.max_idle_conns_per_host", 32)
	v.SetDefault("routes", routeDefaults())
	v.SetDefault("health_check.enabled", true)
	v.SetDefault("health_check.interval", "10s")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("tracing.enabled", false)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Info("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func routeDefaults() []map[string]interface{} {
	var out []map[string]interface{}
	for _, r := range DefaultRoutes() {
		out = append(out, map[string]interface{}{
			"prefix":        r.Prefix,
			"target":        r.Target,
			"change_origin": r.ChangeOrigin,
		})
	}
	return out
}

// Duration parses a value that Validate has already checked.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(ValidateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Proxy,
			validation.Required,
			validation.By(func(value interface{}) error {
				pc, ok := value.(ProxyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ProxyConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.DialTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&pc.ResponseHeaderTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&pc.IdleConnTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&pc.MaxIdleConnsPerHost, validation.Required, validation.Min(1)),
				)
			}),
		),
		validation.Field(&c.Routes,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateRouteConfig)),
		),
		validation.Field(&c.HealthCheck,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval,
						validation.When(hc.Enabled, validation.Required, validation.By(validateDuration)),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
	)
}

// ValidateHostPort checks a listen address in host:port form. The host may be
// empty.
func ValidateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	if d <= 0 {
		return validation.NewError("validation_nonpositive_duration", "must be greater than zero")
	}

	return nil
}

var prefixPattern = regexp.MustCompile(`^/[^?#\s]*$`)

func validateRouteConfig(value interface{}) error {
	rc, ok := value.(RouteConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a RouteConfig")
	}

	return validation.ValidateStruct(&rc,
		validation.Field(&rc.Prefix,
			validation.Required,
			validation.Match(prefixPattern).Error("must be an absolute path starting with /"),
		),
		validation.Field(&rc.Target,
			validation.Required,
			validation.By(validateTargetURL),
		),
	)
}

func validateTargetURL(value interface{}) error {
	target, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	parsedURL, err := url.Parse(target)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	if strings.Trim(parsedURL.Path, "/") != "" || parsedURL.RawQuery != "" {
		return validation.NewError("validation_target_path", "target must be a base URL without path or query")
	}

	return nil
}
