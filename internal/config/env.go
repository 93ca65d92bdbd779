package config

import (
	"fmt"
	"strconv"
	"strings"
)

type envBinding struct {
	key   string
	apply func(cfg *Config, value string) error
}

func setString(target func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, value string) error {
		*target(cfg) = value
		return nil
	}
}

func setBool(target func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, value string) error {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		*target(cfg) = parsed
		return nil
	}
}

func setInt(target func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, value string) error {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		*target(cfg) = parsed
		return nil
	}
}

// envBindings lists every supported override. Environment values win over the file.
var envBindings = []envBinding{
	{"HTTP_ADDR", setString(func(c *Config) *string { return &c.Server.Addr })},
	{"CHATHUB_LOG_LEVEL", setString(func(c *Config) *string { return &c.Log.Level })},
	{"CHATHUB_LOG_FORMAT", setString(func(c *Config) *string { return &c.Log.Format })},
	{"CHATHUB_JWT_SECRET", setString(func(c *Config) *string { return &c.Auth.JWTSecret })},
	{"CHATHUB_ADMIN_PASSWORD", setString(func(c *Config) *string { return &c.Admin.Password })},

	{"CHATHUB_PG_HOST", setString(func(c *Config) *string { return &c.Postgres.Host })},
	{"CHATHUB_PG_PORT", setInt(func(c *Config) *int { return &c.Postgres.Port })},
	{"CHATHUB_PG_USER", setString(func(c *Config) *string { return &c.Postgres.User })},
	{"CHATHUB_PG_PASSWORD", setString(func(c *Config) *string { return &c.Postgres.Password })},
	{"CHATHUB_PG_DATABASE", setString(func(c *Config) *string { return &c.Postgres.Database })},
	{"CHATHUB_PG_SSLMODE", setString(func(c *Config) *string { return &c.Postgres.SSLMode })},

	{"CHATHUB_GATEWAY_URL", setString(func(c *Config) *string { return &c.Gateway.BaseURL })},

	{"CHATHUB_AUTO_REGISTRATION", setBool(func(c *Config) *bool { return &c.Registration.AutoRegistration })},
	{"CHATHUB_ENABLED_CHANNELS", func(cfg *Config, value string) error {
		cfg.Registration.EnabledChannels = splitList(value)
		return nil
	}},
	{"CHATHUB_WELCOME_MESSAGE", setString(func(c *Config) *string { return &c.Registration.WelcomeMessage })},

	{"CHATHUB_TELEGRAM_ENABLED", setBool(func(c *Config) *bool { return &c.Channels.Telegram.Enabled })},
	{"CHATHUB_TELEGRAM_BOT_TOKEN", setString(func(c *Config) *string { return &c.Channels.Telegram.BotToken })},
	{"CHATHUB_TELEGRAM_SECRET_TOKEN", setString(func(c *Config) *string { return &c.Channels.Telegram.SecretToken })},

	{"CHATHUB_DISCORD_ENABLED", setBool(func(c *Config) *bool { return &c.Channels.Discord.Enabled })},
	{"CHATHUB_DISCORD_BOT_TOKEN", setString(func(c *Config) *string { return &c.Channels.Discord.BotToken })},
	{"CHATHUB_DISCORD_PUBLIC_KEY", setString(func(c *Config) *string { return &c.Channels.Discord.PublicKey })},

	{"CHATHUB_SLACK_ENABLED", setBool(func(c *Config) *bool { return &c.Channels.Slack.Enabled })},
	{"CHATHUB_SLACK_BOT_TOKEN", setString(func(c *Config) *string { return &c.Channels.Slack.BotToken })},
	{"CHATHUB_SLACK_SIGNING_SECRET", setString(func(c *Config) *string { return &c.Channels.Slack.SigningSecret })},

	{"CHATHUB_WHATSAPP_ENABLED", setBool(func(c *Config) *bool { return &c.Channels.WhatsApp.Enabled })},
	{"CHATHUB_WHATSAPP_ACCESS_TOKEN", setString(func(c *Config) *string { return &c.Channels.WhatsApp.AccessToken })},
	{"CHATHUB_WHATSAPP_APP_SECRET", setString(func(c *Config) *string { return &c.Channels.WhatsApp.AppSecret })},
	{"CHATHUB_WHATSAPP_VERIFY_TOKEN", setString(func(c *Config) *string { return &c.Channels.WhatsApp.VerifyToken })},
	{"CHATHUB_WHATSAPP_PHONE_NUMBER_ID", setString(func(c *Config) *string { return &c.Channels.WhatsApp.PhoneNumberID })},

	{"CHATHUB_LINE_ENABLED", setBool(func(c *Config) *bool { return &c.Channels.Line.Enabled })},
	{"CHATHUB_LINE_CHANNEL_SECRET", setString(func(c *Config) *string { return &c.Channels.Line.ChannelSecret })},
	{"CHATHUB_LINE_ACCESS_TOKEN", setString(func(c *Config) *string { return &c.Channels.Line.ChannelAccessToken })},

	{"CHATHUB_FEISHU_ENABLED", setBool(func(c *Config) *bool { return &c.Channels.Feishu.Enabled })},
	{"CHATHUB_FEISHU_APP_ID", setString(func(c *Config) *string { return &c.Channels.Feishu.AppID })},
	{"CHATHUB_FEISHU_APP_SECRET", setString(func(c *Config) *string { return &c.Channels.Feishu.AppSecret })},
	{"CHATHUB_FEISHU_ENCRYPT_KEY", setString(func(c *Config) *string { return &c.Channels.Feishu.EncryptKey })},
	{"CHATHUB_FEISHU_VERIFICATION_TOKEN", setString(func(c *Config) *string { return &c.Channels.Feishu.VerificationToken })},

	{"CHATHUB_DINGTALK_ENABLED", setBool(func(c *Config) *bool { return &c.Channels.DingTalk.Enabled })},
	{"CHATHUB_DINGTALK_APP_KEY", setString(func(c *Config) *string { return &c.Channels.DingTalk.AppKey })},
	{"CHATHUB_DINGTALK_APP_SECRET", setString(func(c *Config) *string { return &c.Channels.DingTalk.AppSecret })},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		value, ok := lookup(b.key)
		if !ok {
			continue
		}
		if err := b.apply(cfg, value); err != nil {
			return fmt.Errorf("env %s: %w", b.key, err)
		}
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
