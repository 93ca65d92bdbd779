package feishu

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/chathub/internal/channel"
	"github.com/memohai/chathub/internal/config"
	"github.com/memohai/chathub/internal/logger"
	"github.com/memohai/chathub/internal/signature"
)

const p2pMessage = `{
  "schema": "2.0",
  "header": {"event_id": "e1", "event_type": "im.message.receive_v1", "app_id": "cli_1", "tenant_key": "tk", "token": "vtoken"},
  "event": {
    "sender": {"sender_id": {"open_id": "ou_1", "user_id": "u_1", "union_id": "on_1"}, "sender_type": "user", "tenant_key": "tk"},
    "message": {"message_id": "om_1", "chat_id": "oc_1", "chat_type": "p2p", "message_type": "text", "content": "{\"text\":\"@_user_1 /link QWER7890\"}"}
  }
}`

func newAdapter(fc config.FeishuConfig) *Adapter {
	cfg := config.Defaults()
	cfg.Channels.Feishu = fc
	return NewAdapter(logger.Discard(), config.NewStaticStore(cfg))
}

func TestMessageReceive(t *testing.T) {
	t.Parallel()
	a := newAdapter(config.FeishuConfig{})
	p, err := a.Parse([]byte(p2pMessage))
	require.NoError(t, err)

	msg, ok := channel.Normalize(a, p)
	require.True(t, ok)
	assert.Equal(t, "ou_1", msg.ChannelUserID)
	assert.Equal(t, "/link QWER7890", msg.Text)
	assert.Equal(t, "oc_1", msg.Metadata["chat_id"])
	assert.Equal(t, "p2p", msg.Metadata["chat_type"])
	assert.Equal(t, "u_1", msg.Metadata["user_id"])
}

func TestNonMessageEvents(t *testing.T) {
	t.Parallel()
	a := newAdapter(config.FeishuConfig{})
	tests := []struct {
		name string
		body string
	}{
		{"read receipt", `{"schema":"2.0","header":{"event_type":"im.message.message_read_v1"},"event":{}}`},
		{"app sender", `{"schema":"2.0","header":{"event_type":"im.message.receive_v1"},"event":{"sender":{"sender_id":{"open_id":"ou_bot"},"sender_type":"app"},"message":{"message_type":"text","content":"{\"text\":\"x\"}"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := a.Parse([]byte(tt.body))
			require.NoError(t, err)
			_, ok := a.ExtractChannelUserID(p)
			assert.False(t, ok)
		})
	}
}

func TestEncryptedEventRejected(t *testing.T) {
	t.Parallel()
	_, err := newAdapter(config.FeishuConfig{}).Parse([]byte(`{"encrypt":"abc"}`))
	assert.ErrorIs(t, err, ErrEncryptedEvent)
}

func TestURLVerification(t *testing.T) {
	t.Parallel()
	a := newAdapter(config.FeishuConfig{})
	resp, ok := a.Challenge(channel.Request{
		Method: http.MethodPost,
		Body:   []byte(`{"challenge":"ch-1","token":"vtoken","type":"url_verification"}`),
	})
	require.True(t, ok)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(resp.Body, &decoded))
	assert.Equal(t, "ch-1", decoded["challenge"])

	_, ok = a.Challenge(channel.Request{Method: http.MethodPost, Body: []byte(p2pMessage)})
	assert.False(t, ok)
}

func TestVerify(t *testing.T) {
	t.Parallel()
	body := []byte(p2pMessage)

	t.Run("token fallback", func(t *testing.T) {
		a := newAdapter(config.FeishuConfig{VerificationToken: "vtoken"})
		assert.NoError(t, a.Verify(body, http.Header{}))
		b := newAdapter(config.FeishuConfig{VerificationToken: "other"})
		assert.ErrorIs(t, b.Verify(body, http.Header{}), signature.ErrInvalidSignature)
	})

	t.Run("challenge token", func(t *testing.T) {
		a := newAdapter(config.FeishuConfig{VerificationToken: "vtoken"})
		assert.NoError(t, a.Verify([]byte(`{"challenge":"c","token":"vtoken","type":"url_verification"}`), http.Header{}))
	})

	t.Run("signed", func(t *testing.T) {
		a := newAdapter(config.FeishuConfig{EncryptKey: "ek", VerificationToken: "ignored"})
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		sum := sha256.Sum256(append([]byte(ts+"n"+"ek"), body...))
		h := http.Header{}
		h.Set(signature.HeaderLarkTimestamp, ts)
		h.Set(signature.HeaderLarkNonce, "n")
		h.Set(signature.HeaderLarkSignature, hex.EncodeToString(sum[:]))
		assert.NoError(t, a.Verify(body, h))

		h.Set(signature.HeaderLarkSignature, hex.EncodeToString(make([]byte, 32)))
		assert.ErrorIs(t, a.Verify(body, h), signature.ErrInvalidSignature)
	})

	t.Run("encrypt key without signature", func(t *testing.T) {
		a := newAdapter(config.FeishuConfig{EncryptKey: "ek"})
		assert.ErrorIs(t, a.Verify(body, http.Header{}), signature.ErrMissingSignature)
	})

	t.Run("encrypt key ignores body token", func(t *testing.T) {
		a := newAdapter(config.FeishuConfig{EncryptKey: "ek", VerificationToken: "vtoken"})
		assert.ErrorIs(t, a.Verify(body, http.Header{}), signature.ErrMissingSignature)

		old := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
		sum := sha256.Sum256(append([]byte(old+"n"+"ek"), body...))
		h := http.Header{}
		h.Set(signature.HeaderLarkTimestamp, old)
		h.Set(signature.HeaderLarkNonce, "n")
		h.Set(signature.HeaderLarkSignature, hex.EncodeToString(sum[:]))
		assert.ErrorIs(t, a.Verify(body, h), signature.ErrStaleTimestamp)
	})

	t.Run("nothing configured", func(t *testing.T) {
		assert.NoError(t, newAdapter(config.FeishuConfig{}).Verify(body, http.Header{}))
	})
}

func TestSendReplyRequiresCredentials(t *testing.T) {
	t.Parallel()
	_, err := newAdapter(config.FeishuConfig{AppID: "cli"}).client()
	assert.Error(t, err)
}
