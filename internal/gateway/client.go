// Package gateway talks to the supervisor of the per-user assistant gateways.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/chathub/internal/auth"
	"github.com/memohai/chathub/internal/channel"
	"github.com/memohai/chathub/internal/channel/adapters/adapterutil"
	"github.com/memohai/chathub/internal/config"
)

// ErrUnavailable wraps every failure to reach the supervisor or a gateway.
var ErrUnavailable = errors.New("gateway unavailable")

const serviceTokenTTL = 5 * time.Minute

// Message is the body forwarded to a user's gateway.
type Message struct {
	Channel       string            `json:"channel"`
	ChannelUserID string            `json:"channel_user_id"`
	DisplayName   string            `json:"display_name,omitempty"`
	Text          string            `json:"text"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	ReceivedAt    time.Time         `json:"received_at"`
}

// MessageFromInbound builds the forwarded body from a normalized message.
func MessageFromInbound(msg channel.InboundMessage) Message {
	return Message{
		Channel:       msg.Channel.String(),
		ChannelUserID: msg.ChannelUserID,
		DisplayName:   msg.DisplayName,
		Text:          msg.Text,
		Metadata:      msg.Metadata,
		ReceivedAt:    msg.ReceivedAt,
	}
}

// Reply is the gateway's answer to a forwarded message; empty Text means no reply.
type Reply struct {
	Text string `json:"reply"`
}

type relayResponse struct {
	URL string `json:"url"`
}

// Client calls the supervisor over HTTP. Settings are read per call so a
// config reload takes effect immediately.
type Client struct {
	cfg    *config.Store
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a supervisor client.
func NewClient(log *slog.Logger, cfg *config.Store, httpClient *http.Client) *Client {
	if log == nil {
		log = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: log.With(slog.String("service", "gateway")),
	}
}

// EnsureRunning starts the user's gateway if it is not already running.
func (c *Client) EnsureRunning(ctx context.Context, userID string) error {
	gw := c.cfg.Current().Gateway
	ctx, cancel := context.WithTimeout(ctx, gw.Timeout())
	defer cancel()
	return c.do(ctx, http.MethodPost, c.userURL(gw.BaseURL, userID, "ensure"), userID, "", struct{}{}, nil)
}

// Forward delivers one message to the user's gateway and returns its reply.
func (c *Client) Forward(ctx context.Context, userID string, msg Message) (Reply, error) {
	gw := c.cfg.Current().Gateway
	ctx, cancel := context.WithTimeout(ctx, gw.ForwardTimeout())
	defer cancel()
	var reply Reply
	if err := c.do(ctx, http.MethodPost, c.userURL(gw.BaseURL, userID, "messages"), userID, IdempotencyKey(userID, msg), msg, &reply); err != nil {
		return Reply{}, err
	}
	reply.Text = strings.TrimSpace(reply.Text)
	return reply, nil
}

// RelayAddress returns the websocket address of the user's gateway.
func (c *Client) RelayAddress(ctx context.Context, userID string) (string, error) {
	gw := c.cfg.Current().Gateway
	ctx, cancel := context.WithTimeout(ctx, gw.Timeout())
	defer cancel()
	var out relayResponse
	if err := c.do(ctx, http.MethodGet, c.userURL(gw.BaseURL, userID, "relay"), userID, "", nil, &out); err != nil {
		return "", err
	}
	addr := strings.TrimSpace(out.URL)
	if addr == "" {
		return "", fmt.Errorf("%w: empty relay address", ErrUnavailable)
	}
	return addr, nil
}

// ServiceToken signs a short-lived token for userID, sent to the gateway on
// every call and on the relay dial.
func (c *Client) ServiceToken(userID string) (string, error) {
	secret := c.cfg.Current().Auth.JWTSecret
	if strings.TrimSpace(secret) == "" {
		return "", nil
	}
	token, _, err := auth.GenerateServiceToken(userID, secret, serviceTokenTTL)
	return token, err
}

// IdempotencyKey is stable for redeliveries of the same provider message to
// the same user. It is empty when the provider gave no message id.
func IdempotencyKey(userID string, msg Message) string {
	id := strings.TrimSpace(msg.Metadata["message_id"])
	if id == "" {
		return ""
	}
	name := strings.Join([]string{userID, msg.Channel, msg.ChannelUserID, id}, "\x00")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func (c *Client) userURL(base, userID, action string) string {
	return adapterutil.JoinURL(base, "users/"+url.PathEscape(userID)+"/"+action)
}

func (c *Client) do(ctx context.Context, method, target, userID, idempotencyKey string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	token, err := c.ServiceToken(userID)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("gateway error",
			slog.String("url", target),
			slog.Int("status", resp.StatusCode),
			slog.String("body_prefix", adapterutil.SummarizeText(string(respBody))),
		)
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: parse response: %w", ErrUnavailable, err)
	}
	return nil
}
