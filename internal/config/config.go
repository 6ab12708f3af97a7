// Package config loads the lifecycle layer's settings from lifecycle.yaml and
// LIFECYCLE_ environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-lifecycle/sessions"
	"github.com/jrsteele09/go-auth-lifecycle/token/refresh"
	"github.com/jrsteele09/go-auth-lifecycle/vault"
)

type Config interface {
	EnvConfig
	SessionConfig
	RefreshConfig
	VaultConfig
	CredentialConfig
}

type EnvConfig interface {
	GetEnv() string
	GetLogLevel() string
	GetListenAddr() string
	GetDBPath() string
	GetIdentityBaseURL() string
	GetRefreshFallbacks() []string
	// GetTrustProxyHeaders reports whether X-Forwarded-For names the client
	GetTrustProxyHeaders() bool
}

type SessionConfig interface {
	GetIdleTimeout() time.Duration
	GetSessionPolicy() sessions.Policy
}

type RefreshConfig interface {
	GetRefreshPolicy() refresh.Policy
}

type VaultConfig interface {
	HasVaultKey() bool
	GetVaultKey() (vault.Key, error)
}

type CredentialConfig interface {
	GetCredentialsBaseURL() string
	GetAdminKey() string
	GetUpsertTimeout() time.Duration
}

// Settings is the decoded configuration file.
type Settings struct {
	Env         string      `mapstructure:"env" validate:"required"`
	LogLevel    string      `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	ListenAddr  string      `mapstructure:"listen_addr" validate:"required"`
	DBPath      string      `mapstructure:"db_path" validate:"required"`
	TrustProxy  bool        `mapstructure:"trust_proxy_headers"`
	Identity    Identity    `mapstructure:"identity"`
	Refresh     Refresh     `mapstructure:"refresh"`
	Session     Session     `mapstructure:"session"`
	Vault       Vault       `mapstructure:"vault"`
	Credentials Credentials `mapstructure:"credentials"`
}

type Identity struct {
	BaseURL          string   `mapstructure:"base_url" validate:"required,url"`
	RefreshFallbacks []string `mapstructure:"refresh_fallbacks" validate:"dive,url"`
}

type Refresh struct {
	SkewWindow    time.Duration `mapstructure:"skew_window" validate:"gte=0"`
	MinInterval   time.Duration `mapstructure:"min_interval" validate:"gte=0"`
	MaxRetries    int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	BackoffBase   time.Duration `mapstructure:"backoff_base" validate:"gt=0"`
	BackoffCap    time.Duration `mapstructure:"backoff_cap" validate:"gtefield=BackoffBase"`
	DefaultExpiry time.Duration `mapstructure:"default_expiry" validate:"gt=0"`
}

type Session struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
	Policy      string        `mapstructure:"policy" validate:"oneof=replace reject"`
}

type Vault struct {
	Key        string `mapstructure:"key" validate:"omitempty,len=64,hexadecimal"`
	Passphrase string `mapstructure:"passphrase"`
	Salt       string `mapstructure:"salt" validate:"required_with=Passphrase"`
}

type Credentials struct {
	BaseURL       string        `mapstructure:"base_url" validate:"omitempty,url"`
	AdminKey      string        `mapstructure:"admin_key"`
	UpsertTimeout time.Duration `mapstructure:"upsert_timeout" validate:"gt=0"`
}

type mainConfig struct {
	Settings
}

var _ Config = mainConfig{}

func (c mainConfig) GetEnv() string                { return c.Env }
func (c mainConfig) GetLogLevel() string           { return c.LogLevel }
func (c mainConfig) GetListenAddr() string         { return c.ListenAddr }
func (c mainConfig) GetDBPath() string             { return c.DBPath }
func (c mainConfig) GetIdentityBaseURL() string    { return c.Identity.BaseURL }
func (c mainConfig) GetRefreshFallbacks() []string { return c.Identity.RefreshFallbacks }
func (c mainConfig) GetTrustProxyHeaders() bool    { return c.TrustProxy }

func (c mainConfig) GetIdleTimeout() time.Duration { return c.Session.IdleTimeout }

func (c mainConfig) GetSessionPolicy() sessions.Policy {
	return sessions.Policy(c.Session.Policy)
}

func (c mainConfig) GetRefreshPolicy() refresh.Policy {
	return refresh.Policy{
		SkewWindow:    c.Refresh.SkewWindow,
		MinInterval:   c.Refresh.MinInterval,
		MaxRetries:    c.Refresh.MaxRetries,
		BackoffBase:   c.Refresh.BackoffBase,
		BackoffCap:    c.Refresh.BackoffCap,
		DefaultExpiry: c.Refresh.DefaultExpiry,
	}
}

func (c mainConfig) HasVaultKey() bool {
	return c.Vault.Key != "" || c.Vault.Passphrase != ""
}

// GetVaultKey returns the configured hex key, or derives one from the passphrase.
func (c mainConfig) GetVaultKey() (vault.Key, error) {
	switch {
	case c.Vault.Key != "":
		return vault.KeyFromHex(c.Vault.Key)
	case c.Vault.Passphrase != "":
		return vault.DeriveKey(c.Vault.Passphrase, []byte(c.Vault.Salt))
	default:
		return vault.Key{}, fmt.Errorf("[Config.GetVaultKey] vault.key or vault.passphrase is required")
	}
}

func (c mainConfig) GetCredentialsBaseURL() string   { return c.Credentials.BaseURL }
func (c mainConfig) GetAdminKey() string             { return c.Credentials.AdminKey }
func (c mainConfig) GetUpsertTimeout() time.Duration { return c.Credentials.UpsertTimeout }
