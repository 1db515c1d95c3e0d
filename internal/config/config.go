// Package config resolves server and client configuration from, in order of
// increasing precedence: built-in defaults, a .env file (github.com/joho/godotenv),
// environment variables bound through github.com/spf13/viper, and finally CLI
// flags applied by the caller. This mirrors the layered-config idiom found
// across the example pack (thushan-olla's internal/config uses the same
// viper-plus-env-prefix shape); godotenv is added on top since none of the
// teacher repo's subcommands run under a process supervisor that injects
// environment variables directly.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "REVTUN"

// ServerConfig holds the revtun server's runtime settings.
type ServerConfig struct {
	Domain        string        `mapstructure:"domain"`
	APIPort       int           `mapstructure:"api_port"`
	ProxyPort     int           `mapstructure:"proxy_port"`
	Secure        bool          `mapstructure:"secure"`
	MaxSockets    int           `mapstructure:"max_sockets"`
	RequireAuth   bool          `mapstructure:"require_auth"`
	AuthBackend   string        `mapstructure:"auth_backend"` // "none", "pam", "static"
	PAMService    string        `mapstructure:"pam_service"`
	CredentialDB  string        `mapstructure:"credential_db"` // path, for the static backend
	CleanupPeriod time.Duration `mapstructure:"cleanup_period"`
	LogFile       string        `mapstructure:"log_file"`
}

// ClientConfig holds the revtun client's runtime settings.
type ClientConfig struct {
	Host       string `mapstructure:"host"`
	Subdomain  string `mapstructure:"subdomain"`
	LocalHost  string `mapstructure:"local_host"`
	LocalPort  int    `mapstructure:"local_port"`
	MaxConn    int    `mapstructure:"max_conn"`
	Credential string `mapstructure:"credential"`
	LogFile    string `mapstructure:"log_file"`
}

func defaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Domain:        "localhost",
		APIPort:       8080,
		ProxyPort:     8081,
		Secure:        false,
		MaxSockets:    10,
		RequireAuth:   false,
		AuthBackend:   "none",
		PAMService:    "login",
		CleanupPeriod: time.Hour,
	}
}

func defaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Host:      "localhost:8080",
		LocalHost: "localhost",
		MaxConn:   10,
	}
}

// newViper builds a viper instance bound to REVTUN_-prefixed environment
// variables, loading envFile first (if present — a missing .env is not an
// error: godotenv.Load's error is discarded, and Load never overrides
// variables already set in the environment).
func newViper(envFile string) *viper.Viper {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// bindServerEnv registers every ServerConfig field as a recognized
// environment variable. viper.AutomaticEnv alone only resolves keys that
// have been asked for at least once (via Get/Unmarshal against a key it
// knows about), so each field is bound explicitly.
func bindServerEnv(v *viper.Viper) {
	for _, key := range []string{
		"domain", "api_port", "proxy_port", "secure", "max_sockets",
		"require_auth", "auth_backend", "pam_service", "credential_db",
		"cleanup_period", "log_file",
	} {
		_ = v.BindEnv(key)
	}
}

func bindClientEnv(v *viper.Viper) {
	for _, key := range []string{
		"host", "subdomain", "local_host", "local_port", "max_conn",
		"credential", "log_file",
	} {
		_ = v.BindEnv(key)
	}
}

// LoadServer resolves a ServerConfig from defaults, an optional .env file,
// and REVTUN_-prefixed environment variables. Callers apply CLI flag
// overrides to the returned struct afterward, giving flags the final say.
func LoadServer(envFile string) (*ServerConfig, error) {
	v := newViper(envFile)
	bindServerEnv(v)

	cfg := defaultServerConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unable to decode server config: %w", err)
	}
	return cfg, nil
}

// LoadClient resolves a ClientConfig the same way LoadServer does.
func LoadClient(envFile string) (*ClientConfig, error) {
	v := newViper(envFile)
	bindClientEnv(v)

	cfg := defaultClientConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unable to decode client config: %w", err)
	}
	return cfg, nil
}
