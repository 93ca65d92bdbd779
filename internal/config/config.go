// Package config loads and exposes application configuration (TOML or YAML).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default configuration values used when a field is missing in the file.
const (
	DefaultConfigPath       = "config.toml"
	DefaultHTTPAddr         = ":8080"
	DefaultJWTExpiresIn     = "24h"
	DefaultPGHost           = "127.0.0.1"
	DefaultPGPort           = 5432
	DefaultPGUser           = "postgres"
	DefaultPGDatabase       = "chathub"
	DefaultPGSSLMode        = "disable"
	DefaultGatewayURL       = "http://127.0.0.1:8081"
	DefaultGatewayTimeout   = 30
	DefaultForwardTimeout   = 120
	DefaultRelayGraceMillis = 2000
	DefaultCodeTTL          = "15m"
	DefaultSweepSchedule    = "@every 5m"
	DefaultReplyRate        = 20.0
	DefaultReplyBurst       = 5
	DefaultWelcomeMessage   = "Hi {{.DisplayName}}! Send a message to talk to your assistant, or /link CODE to connect an existing account."
)

// Config is the root application configuration.
type Config struct {
	Log          LogConfig          `toml:"log" yaml:"log"`
	Server       ServerConfig       `toml:"server" yaml:"server"`
	Admin        AdminConfig        `toml:"admin" yaml:"admin"`
	Auth         AuthConfig         `toml:"auth" yaml:"auth"`
	Postgres     PostgresConfig     `toml:"postgres" yaml:"postgres"`
	Gateway      GatewayConfig      `toml:"gateway" yaml:"gateway"`
	Registration RegistrationConfig `toml:"registration" yaml:"registration"`
	Linking      LinkingConfig      `toml:"linking" yaml:"linking"`
	Channels     ChannelsConfig     `toml:"channels" yaml:"channels"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr" yaml:"addr"`
}

// AdminConfig holds the bootstrap admin account.
type AdminConfig struct {
	Username string `toml:"username" yaml:"username"`
	Password string `toml:"password" yaml:"password"`
}

// AuthConfig holds JWT secret and token expiry (e.g. 24h).
type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret" yaml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in" yaml:"jwt_expires_in"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host" yaml:"host"`
	Port     int    `toml:"port" yaml:"port"`
	User     string `toml:"user" yaml:"user"`
	Password string `toml:"password" yaml:"password"`
	Database string `toml:"database" yaml:"database"`
	SSLMode  string `toml:"sslmode" yaml:"sslmode"`
}

// GatewayConfig points at the per-user gateway supervisor.
type GatewayConfig struct {
	BaseURL          string `toml:"base_url" yaml:"base_url"`
	TimeoutSeconds   int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
	ForwardSeconds   int    `toml:"forward_timeout_seconds" yaml:"forward_timeout_seconds"`
	RelayGraceMillis int    `toml:"relay_grace_ms" yaml:"relay_grace_ms"`
}

// Timeout returns the supervisor call timeout.
func (c GatewayConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultGatewayTimeout * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ForwardTimeout bounds a single forwarded message including the assistant reply.
func (c GatewayConfig) ForwardTimeout() time.Duration {
	if c.ForwardSeconds <= 0 {
		return DefaultForwardTimeout * time.Second
	}
	return time.Duration(c.ForwardSeconds) * time.Second
}

// RelayGrace is how long a relay waits for the second pump after the first one ends.
func (c GatewayConfig) RelayGrace() time.Duration {
	if c.RelayGraceMillis <= 0 {
		return DefaultRelayGraceMillis * time.Millisecond
	}
	return time.Duration(c.RelayGraceMillis) * time.Millisecond
}

// RegistrationConfig controls auto-registration of unknown senders.
// An empty EnabledChannels list allows every enabled channel.
type RegistrationConfig struct {
	AutoRegistration   bool     `toml:"auto_registration" yaml:"auto_registration"`
	EnabledChannels    []string `toml:"enabled_channels" yaml:"enabled_channels"`
	WelcomeMessage     string   `toml:"welcome_message" yaml:"welcome_message"`
	UnknownSenderReply string   `toml:"unknown_sender_reply" yaml:"unknown_sender_reply"`
}

// AllowsChannel reports whether auto-registration may enroll senders from the channel.
func (c RegistrationConfig) AllowsChannel(channelType string) bool {
	if !c.AutoRegistration {
		return false
	}
	if len(c.EnabledChannels) == 0 {
		return true
	}
	channelType = strings.ToLower(strings.TrimSpace(channelType))
	return slices.ContainsFunc(c.EnabledChannels, func(item string) bool {
		return strings.ToLower(strings.TrimSpace(item)) == channelType
	})
}

// LinkingConfig controls linking code lifetime and the expiry sweeper.
type LinkingConfig struct {
	CodeTTL       string `toml:"code_ttl" yaml:"code_ttl"`
	SweepSchedule string `toml:"sweep_schedule" yaml:"sweep_schedule"`
}

// TTL parses CodeTTL, falling back to DefaultCodeTTL.
func (c LinkingConfig) TTL() time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(c.CodeTTL)); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(DefaultCodeTTL)
	return d
}

// ChannelsConfig holds per-provider enablement and credentials.
type ChannelsConfig struct {
	ReplyRate  float64        `toml:"reply_rate" yaml:"reply_rate"`
	ReplyBurst int            `toml:"reply_burst" yaml:"reply_burst"`
	Telegram   TelegramConfig `toml:"telegram" yaml:"telegram"`
	Discord    DiscordConfig  `toml:"discord" yaml:"discord"`
	Slack      SlackConfig    `toml:"slack" yaml:"slack"`
	WhatsApp   WhatsAppConfig `toml:"whatsapp" yaml:"whatsapp"`
	Line       LineConfig     `toml:"line" yaml:"line"`
	Feishu     FeishuConfig   `toml:"feishu" yaml:"feishu"`
	DingTalk   DingTalkConfig `toml:"dingtalk" yaml:"dingtalk"`
}

// Enabled reports whether the named channel is switched on.
func (c ChannelsConfig) Enabled(channelType string) bool {
	switch strings.ToLower(strings.TrimSpace(channelType)) {
	case "telegram":
		return c.Telegram.Enabled
	case "discord":
		return c.Discord.Enabled
	case "slack":
		return c.Slack.Enabled
	case "whatsapp":
		return c.WhatsApp.Enabled
	case "line":
		return c.Line.Enabled
	case "feishu":
		return c.Feishu.Enabled
	case "dingtalk":
		return c.DingTalk.Enabled
	default:
		return false
	}
}

type TelegramConfig struct {
	Enabled     bool   `toml:"enabled" yaml:"enabled"`
	BotToken    string `toml:"bot_token" yaml:"bot_token"`
	SecretToken string `toml:"secret_token" yaml:"secret_token"`
	APIEndpoint string `toml:"api_endpoint" yaml:"api_endpoint"`
}

type DiscordConfig struct {
	Enabled   bool   `toml:"enabled" yaml:"enabled"`
	BotToken  string `toml:"bot_token" yaml:"bot_token"`
	PublicKey string `toml:"public_key" yaml:"public_key"`
}

type SlackConfig struct {
	Enabled       bool   `toml:"enabled" yaml:"enabled"`
	BotToken      string `toml:"bot_token" yaml:"bot_token"`
	SigningSecret string `toml:"signing_secret" yaml:"signing_secret"`
	APIURL        string `toml:"api_url" yaml:"api_url"`
}

type WhatsAppConfig struct {
	Enabled       bool   `toml:"enabled" yaml:"enabled"`
	AccessToken   string `toml:"access_token" yaml:"access_token"`
	AppSecret     string `toml:"app_secret" yaml:"app_secret"`
	VerifyToken   string `toml:"verify_token" yaml:"verify_token"`
	PhoneNumberID string `toml:"phone_number_id" yaml:"phone_number_id"`
	APIBaseURL    string `toml:"api_base_url" yaml:"api_base_url"`
}

type LineConfig struct {
	Enabled            bool   `toml:"enabled" yaml:"enabled"`
	ChannelSecret      string `toml:"channel_secret" yaml:"channel_secret"`
	ChannelAccessToken string `toml:"channel_access_token" yaml:"channel_access_token"`
	APIBaseURL         string `toml:"api_base_url" yaml:"api_base_url"`
}

type FeishuConfig struct {
	Enabled           bool   `toml:"enabled" yaml:"enabled"`
	AppID             string `toml:"app_id" yaml:"app_id"`
	AppSecret         string `toml:"app_secret" yaml:"app_secret"`
	EncryptKey        string `toml:"encrypt_key" yaml:"encrypt_key"`
	VerificationToken string `toml:"verification_token" yaml:"verification_token"`
	BaseURL           string `toml:"base_url" yaml:"base_url"`
}

type DingTalkConfig struct {
	Enabled   bool   `toml:"enabled" yaml:"enabled"`
	AppKey    string `toml:"app_key" yaml:"app_key"`
	AppSecret string `toml:"app_secret" yaml:"app_secret"`
}

// Defaults returns a Config populated with default values.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Admin: AdminConfig{
			Username: "admin",
			Password: "change-your-password-here",
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Gateway: GatewayConfig{
			BaseURL:          DefaultGatewayURL,
			TimeoutSeconds:   DefaultGatewayTimeout,
			ForwardSeconds:   DefaultForwardTimeout,
			RelayGraceMillis: DefaultRelayGraceMillis,
		},
		Registration: RegistrationConfig{
			AutoRegistration: true,
			WelcomeMessage:   DefaultWelcomeMessage,
		},
		Linking: LinkingConfig{
			CodeTTL:       DefaultCodeTTL,
			SweepSchedule: DefaultSweepSchedule,
		},
		Channels: ChannelsConfig{
			ReplyRate:  DefaultReplyRate,
			ReplyBurst: DefaultReplyBurst,
		},
	}
}

// Load reads the config file at path, applies defaults for missing fields and
// then environment overrides. A missing file yields defaults plus overrides.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()
	if path == "" {
		path = DefaultConfigPath
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, raw, &cfg); err != nil {
			return Config{}, err
		}
	case os.IsNotExist(err):
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if lookup != nil {
		if err := applyEnv(&cfg, lookup); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func decode(path string, raw []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return fmt.Errorf("decode yaml config: %w", err)
		}
	default:
		if _, err := toml.Decode(string(raw), cfg); err != nil {
			return fmt.Errorf("decode toml config: %w", err)
		}
	}
	return nil
}
