// Package relay bridges an authenticated client websocket to the user's
// gateway session, one pump per direction.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	gws "github.com/gorilla/websocket"

	"github.com/memohai/chathub/internal/auth"
	"github.com/memohai/chathub/internal/config"
)

// Close codes sent to the client when the relay cannot be established.
const (
	CloseUnauthorized        = 4401
	CloseUpstreamUnavailable = 4502
)

const controlWriteTimeout = time.Second

// Upstream locates and authenticates against a user's gateway.
type Upstream interface {
	EnsureRunning(ctx context.Context, userID string) error
	RelayAddress(ctx context.Context, userID string) (string, error)
	ServiceToken(userID string) (string, error)
}

// Dialer opens the upstream connection.
type Dialer func(ctx context.Context, addr string, header http.Header) (*websocket.Conn, error)

// DialUpstream dials with coder/websocket.
func DialUpstream(ctx context.Context, addr string, header http.Header) (*websocket.Conn, error) {
	conn, resp, err := websocket.Dial(ctx, addr, &websocket.DialOptions{HTTPHeader: header})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// Relay serves the client side of the relay.
type Relay struct {
	cfg      *config.Store
	upstream Upstream
	dial     Dialer
	upgrader gws.Upgrader
	logger   *slog.Logger
}

// New creates a Relay. A nil dial uses DialUpstream.
func New(log *slog.Logger, cfg *config.Store, upstream Upstream, dial Dialer) *Relay {
	if log == nil {
		log = slog.Default()
	}
	if dial == nil {
		dial = DialUpstream
	}
	return &Relay{
		cfg:      cfg,
		upstream: upstream,
		dial:     dial,
		upgrader: gws.Upgrader{
			// Browsers cannot set headers on websocket requests; the bearer
			// token in the query authenticates instead of the origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: log.With(slog.String("service", "relay")),
	}
}

// ServeHTTP upgrades the request, authenticates it and pumps until either side ends.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	client, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("relay upgrade failed", slog.Any("error", err))
		return
	}
	defer client.Close()

	claims, err := auth.ParseToken(bearerToken(req), r.cfg.Current().Auth.JWTSecret)
	if err != nil {
		r.logger.Info("relay rejected", slog.String("remote", req.RemoteAddr))
		closeClient(client, CloseUnauthorized, "unauthorized")
		return
	}
	log := r.logger.With(slog.String("user_id", claims.UserID))

	ctx := req.Context()
	upstream, err := r.connect(ctx, claims.UserID)
	if err != nil {
		log.Warn("relay upstream unavailable", slog.Any("error", err))
		closeClient(client, CloseUpstreamUnavailable, "upstream unavailable")
		return
	}
	defer func() { _ = upstream.CloseNow() }()

	log.Info("relay opened")
	start := time.Now()
	code := r.pump(ctx, log, client, upstream)
	closeClient(client, code, "")
	_ = upstream.Close(websocket.StatusNormalClosure, "")
	log.Info("relay closed", slog.Int("code", code), slog.Duration("duration", time.Since(start)))
}

func (r *Relay) connect(ctx context.Context, userID string) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Current().Gateway.Timeout())
	defer cancel()
	if err := r.upstream.EnsureRunning(ctx, userID); err != nil {
		return nil, err
	}
	addr, err := r.upstream.RelayAddress(ctx, userID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	token, err := r.upstream.ServiceToken(userID)
	if err != nil {
		return nil, err
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, err := r.dial(ctx, addr, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

type pumpResult struct {
	direction string
	err       error
}

// pump runs both directions until one ends, then cancels the other and waits
// for it at most the configured grace period. It returns the close code to
// send to the client.
func (r *Relay) pump(ctx context.Context, log *slog.Logger, client *gws.Conn, upstream *websocket.Conn) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan pumpResult, 2)
	go func() {
		done <- pumpResult{"client_to_upstream", clientToUpstream(ctx, client, upstream)}
	}()
	go func() {
		done <- pumpResult{"upstream_to_client", upstreamToClient(ctx, upstream, client)}
	}()

	first := <-done
	cancel()
	// Unblocks a pending client read; the upstream read observes ctx.
	_ = client.SetReadDeadline(time.Now())

	timer := time.NewTimer(r.cfg.Current().Gateway.RelayGrace())
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		log.Warn("relay pump did not stop within grace period")
		_ = upstream.CloseNow()
		_ = client.NetConn().Close()
	}

	log.Debug("relay pump ended", slog.String("direction", first.direction), slog.Any("error", first.err))
	return closeCodeFor(first)
}

func clientToUpstream(ctx context.Context, client *gws.Conn, upstream *websocket.Conn) error {
	for ctx.Err() == nil {
		kind, data, err := client.ReadMessage()
		if err != nil {
			return err
		}
		msgType := websocket.MessageText
		if kind == gws.BinaryMessage {
			msgType = websocket.MessageBinary
		}
		if err := upstream.Write(ctx, msgType, data); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func upstreamToClient(ctx context.Context, upstream *websocket.Conn, client *gws.Conn) error {
	for ctx.Err() == nil {
		msgType, data, err := upstream.Read(ctx)
		if err != nil {
			return err
		}
		kind := gws.TextMessage
		if msgType == websocket.MessageBinary {
			kind = gws.BinaryMessage
		}
		if err := client.WriteMessage(kind, data); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// closeCodeFor passes an upstream close status through to the client and
// reports a normal closure otherwise.
func closeCodeFor(res pumpResult) int {
	if res.direction == "upstream_to_client" {
		if status := websocket.CloseStatus(res.err); status != -1 {
			return int(status)
		}
		if res.err != nil && !errors.Is(res.err, context.Canceled) {
			return CloseUpstreamUnavailable
		}
	}
	return gws.CloseNormalClosure
}

func closeClient(client *gws.Conn, code int, reason string) {
	msg := gws.FormatCloseMessage(code, reason)
	_ = client.WriteControl(gws.CloseMessage, msg, time.Now().Add(controlWriteTimeout))
}

func bearerToken(req *http.Request) string {
	if token := strings.TrimSpace(req.URL.Query().Get("token")); token != "" {
		return token
	}
	header := strings.TrimSpace(req.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
