package signature

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
	"github.com/slack-go/slack"
)

// Header names consumed from each provider.
const (
	HeaderTelegramSecret    = "X-Telegram-Bot-Api-Secret-Token"
	HeaderDiscordSignature  = "X-Signature-Ed25519"
	HeaderDiscordTimestamp  = "X-Signature-Timestamp"
	HeaderSlackSignature    = "X-Slack-Signature"
	HeaderSlackTimestamp    = "X-Slack-Request-Timestamp"
	HeaderWhatsAppSignature = "X-Hub-Signature-256"
	HeaderLineSignature     = "X-Line-Signature"
	HeaderLarkTimestamp     = "X-Lark-Request-Timestamp"
	HeaderLarkNonce         = "X-Lark-Request-Nonce"
	HeaderLarkSignature     = "X-Lark-Signature"
	HeaderDingTalkTimestamp = "timestamp"
	HeaderDingTalkSign      = "sign"
)

// Telegram compares the secret_token registered with setWebhook.
type Telegram struct{}

func (Telegram) Verify(_ []byte, header http.Header, secret string) error {
	if secret == "" {
		return nil
	}
	got := header.Get(HeaderTelegramSecret)
	if got == "" {
		return ErrMissingSignature
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// Discord checks the Ed25519 signature over timestamp+body with the
// application's hex-encoded public key.
type Discord struct {
	Now Clock
}

func (d Discord) Verify(body []byte, header http.Header, publicKey string) error {
	if publicKey == "" {
		return nil
	}
	key, err := hex.DecodeString(strings.TrimSpace(publicKey))
	if err != nil || len(key) != ed25519.PublicKeySize {
		return ErrInvalidSecret
	}
	sigHex, ts := header.Get(HeaderDiscordSignature), header.Get(HeaderDiscordTimestamp)
	if sigHex == "" || ts == "" {
		return ErrMissingSignature
	}
	sent, err := parseUnixSeconds(ts)
	if err != nil {
		return err
	}
	if err := checkWindow(d.Now.now(), sent); err != nil {
		return err
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	msg := make([]byte, 0, len(ts)+len(body))
	msg = append(msg, ts...)
	msg = append(msg, body...)
	if !ed25519.Verify(ed25519.PublicKey(key), msg, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// Slack validates the v0 signing secret scheme through slack-go.
type Slack struct {
	Now Clock
}

func (s Slack) Verify(body []byte, header http.Header, secret string) error {
	if secret == "" {
		return nil
	}
	if header.Get(HeaderSlackSignature) == "" || header.Get(HeaderSlackTimestamp) == "" {
		return ErrMissingSignature
	}
	sent, err := parseUnixSeconds(header.Get(HeaderSlackTimestamp))
	if err != nil {
		return err
	}
	if err := checkWindow(s.Now.now(), sent); err != nil {
		return err
	}
	sv, err := slack.NewSecretsVerifier(header, secret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStaleTimestamp, err)
	}
	if _, err := sv.Write(body); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if err := sv.Ensure(); err != nil {
		return ErrInvalidSignature
	}
	return nil
}

// WhatsApp checks Meta's X-Hub-Signature-256 (sha256=<hex hmac of body>).
type WhatsApp struct{}

func (WhatsApp) Verify(body []byte, header http.Header, appSecret string) error {
	if appSecret == "" {
		return nil
	}
	got := header.Get(HeaderWhatsAppSignature)
	if got == "" {
		return ErrMissingSignature
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(got, "sha256="))
	if err != nil || !strings.HasPrefix(got, "sha256=") {
		return ErrInvalidSignature
	}
	if !hmac.Equal(sig, hmacSHA256([]byte(appSecret), body)) {
		return ErrInvalidSignature
	}
	return nil
}

// Line checks X-Line-Signature (base64 hmac of body keyed by the channel
// secret) through the LINE SDK.
type Line struct{}

func (Line) Verify(body []byte, header http.Header, channelSecret string) error {
	if channelSecret == "" {
		return nil
	}
	got := header.Get(HeaderLineSignature)
	if got == "" {
		return ErrMissingSignature
	}
	if !webhook.ValidateSignature(channelSecret, got, body) {
		return ErrInvalidSignature
	}
	return nil
}

// Feishu checks X-Lark-Signature = hex(sha256(timestamp + nonce + encryptKey + body)).
type Feishu struct {
	Now Clock
}

func (f Feishu) Verify(body []byte, header http.Header, encryptKey string) error {
	if encryptKey == "" {
		return nil
	}
	ts, nonce, got := header.Get(HeaderLarkTimestamp), header.Get(HeaderLarkNonce), header.Get(HeaderLarkSignature)
	if ts == "" || got == "" {
		return ErrMissingSignature
	}
	sent, err := parseUnixSeconds(ts)
	if err != nil {
		return err
	}
	if err := checkWindow(f.Now.now(), sent); err != nil {
		return err
	}
	sum := sha256.New()
	sum.Write([]byte(ts + nonce + encryptKey))
	sum.Write(body)
	want := hex.EncodeToString(sum.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(got)), []byte(want)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// DingTalk checks the outgoing-robot sign header:
// base64(hmac_sha256(appSecret, timestamp + "\n" + appSecret)), timestamp in ms.
type DingTalk struct {
	Now Clock
}

func (d DingTalk) Verify(_ []byte, header http.Header, appSecret string) error {
	if appSecret == "" {
		return nil
	}
	ts, got := header.Get(HeaderDingTalkTimestamp), header.Get(HeaderDingTalkSign)
	if ts == "" || got == "" {
		return ErrMissingSignature
	}
	sent, err := parseUnixMillis(ts)
	if err != nil {
		return err
	}
	if err := checkWindow(d.Now.now(), sent); err != nil {
		return err
	}
	want := base64.StdEncoding.EncodeToString(hmacSHA256([]byte(appSecret), []byte(ts+"\n"+appSecret)))
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}
