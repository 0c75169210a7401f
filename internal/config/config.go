package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment string `mapstructure:"environment"`

	Server struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`

	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
	} `mapstructure:"redis"`

	// AgentPlatform is the external two-phase pipeline workflows are handed to.
	AgentPlatform struct {
		BaseURL        string        `mapstructure:"base_url"`
		SharedSecret   string        `mapstructure:"shared_secret"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"agent_platform"`

	Auth struct {
		Issuer        string `mapstructure:"issuer"`
		ClientID      string `mapstructure:"client_id"`
		ClientSecret  string `mapstructure:"client_secret"`
		DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	} `mapstructure:"auth"`

	Orchestrator struct {
		TriggerDedupTTL     time.Duration `mapstructure:"trigger_dedup_ttl"`
		StalenessThreshold  time.Duration `mapstructure:"staleness_threshold"`
		EstimatedCompletion time.Duration `mapstructure:"estimated_completion"`
	} `mapstructure:"orchestrator"`

	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// LoadConfig loads the configuration from a file and the environment. If path
// is non-empty it names an explicit config file, otherwise the usual search
// locations are tried.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.SetEnvPrefix("SKILLFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine when everything comes from the environment.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Auth.Issuer = normalizeIssuer(config.Auth.Issuer)

	return &config, nil
}

// ListenAddr returns the address the HTTP server binds to. An unset port
// falls back to 8080, or 8443 when TLS is enabled.
func (c *Config) ListenAddr() string {
	port := c.Server.Port
	if port == 0 {
		port = 8080
		if c.TLS.Enable {
			port = 8443
		}
	}
	return fmt.Sprintf(":%d", port)
}

func setDefaults() {
	viper.SetDefault("environment", "DEV")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("agent_platform.request_timeout", 30*time.Second)
	viper.SetDefault("orchestrator.trigger_dedup_ttl", 2*time.Minute)
	viper.SetDefault("orchestrator.staleness_threshold", 30*time.Minute)
	viper.SetDefault("orchestrator.estimated_completion", 3*time.Minute)
}

// normalizeIssuer ensures the provided OIDC issuer string is in a predictable
// form. It removes any trailing slash and leaves the scheme and path intact,
// so operators can paste the full URL from their identity provider's admin
// console without worrying about double prefixes.
func normalizeIssuer(input string) string {
	iss := strings.TrimSpace(input)
	if strings.HasSuffix(iss, "/") {
		iss = strings.TrimRight(iss, "/")
	}
	return iss
}
