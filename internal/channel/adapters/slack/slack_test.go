package slack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/chathub/internal/channel"
	"github.com/memohai/chathub/internal/config"
	"github.com/memohai/chathub/internal/logger"
)

const dmEvent = `{
  "token": "x", "team_id": "T1", "api_app_id": "A1", "type": "event_callback",
  "event_id": "Ev1", "event_time": 1760000000,
  "event": {"type": "message", "channel": "D1", "channel_type": "im", "user": "U1", "text": "hello", "ts": "1760000000.0001"}
}`

const mentionEvent = `{
  "token": "x", "team_id": "T1", "api_app_id": "A1", "type": "event_callback",
  "event_id": "Ev2", "event_time": 1760000000,
  "event": {"type": "app_mention", "channel": "C1", "user": "U2", "text": "<@UBOT> /link  ABCD1234", "ts": "1.2", "thread_ts": "1.0"}
}`

const botEvent = `{
  "token": "x", "team_id": "T1", "api_app_id": "A1", "type": "event_callback",
  "event_id": "Ev3", "event_time": 1760000000,
  "event": {"type": "message", "subtype": "bot_message", "channel": "D1", "bot_id": "B1", "text": "echo", "ts": "1.3"}
}`

func newAdapter(sc config.SlackConfig) *Adapter {
	cfg := config.Defaults()
	cfg.Channels.Slack = sc
	return NewAdapter(logger.Discard(), config.NewStaticStore(cfg))
}

func TestDirectMessage(t *testing.T) {
	t.Parallel()
	a := newAdapter(config.SlackConfig{})
	p, err := a.Parse([]byte(dmEvent))
	require.NoError(t, err)

	msg, ok := channel.Normalize(a, p)
	require.True(t, ok)
	assert.Equal(t, "U1", msg.ChannelUserID)
	assert.Empty(t, msg.DisplayName)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, "D1", msg.Metadata["channel"])
	assert.Equal(t, "im", msg.Metadata["channel_type"])
	assert.Equal(t, "T1", msg.Metadata["team_id"])
}

func TestAppMentionStripsMention(t *testing.T) {
	t.Parallel()
	a := newAdapter(config.SlackConfig{})
	p, err := a.Parse([]byte(mentionEvent))
	require.NoError(t, err)

	msg, ok := channel.Normalize(a, p)
	require.True(t, ok)
	assert.Equal(t, "U2", msg.ChannelUserID)
	assert.Equal(t, "/link ABCD1234", msg.Text)
	assert.Equal(t, "1.0", msg.Metadata["thread_ts"])
}

func TestBotMessageIgnored(t *testing.T) {
	t.Parallel()
	a := newAdapter(config.SlackConfig{})
	p, err := a.Parse([]byte(botEvent))
	require.NoError(t, err)
	_, ok := a.ExtractChannelUserID(p)
	assert.False(t, ok)
}

func TestURLVerification(t *testing.T) {
	t.Parallel()
	a := newAdapter(config.SlackConfig{})
	resp, ok := a.Challenge(channel.Request{
		Method: http.MethodPost,
		Body:   []byte(`{"token":"x","challenge":"c-123","type":"url_verification"}`),
	})
	require.True(t, ok)
	assert.Equal(t, "c-123", string(resp.Body))
	assert.Equal(t, "text/plain", resp.ContentType)

	_, ok = a.Challenge(channel.Request{Method: http.MethodPost, Body: []byte(dmEvent)})
	assert.False(t, ok)
}

func TestSendReply(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		calls []map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		calls = append(calls, map[string]string{
			"path":      r.URL.Path,
			"channel":   r.Form.Get("channel"),
			"text":      r.Form.Get("text"),
			"thread_ts": r.Form.Get("thread_ts"),
		})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"D1","ts":"1.5"}`))
	}))
	t.Cleanup(srv.Close)

	a := newAdapter(config.SlackConfig{BotToken: "xoxb-1", APIURL: srv.URL})
	err := a.SendReply(context.Background(), channel.ReplyTarget{
		ChannelUserID: "U1",
		Metadata:      map[string]string{"channel": "C1", "thread_ts": "1.0"},
	}, "linked")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 1)
	assert.Equal(t, "/chat.postMessage", calls[0]["path"])
	assert.Equal(t, "C1", calls[0]["channel"])
	assert.Equal(t, "linked", calls[0]["text"])
	assert.Equal(t, "1.0", calls[0]["thread_ts"])
}

func TestStripMentions(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "hi there", stripMentions("<@U1> hi <@U2|bob> there"))
	assert.Equal(t, "broken <@U1", stripMentions("broken <@U1"))
}
