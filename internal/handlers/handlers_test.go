package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/chathub/internal/accounts"
	"github.com/memohai/chathub/internal/auth"
	"github.com/memohai/chathub/internal/bind"
	"github.com/memohai/chathub/internal/channel"
	"github.com/memohai/chathub/internal/channel/identities"
	"github.com/memohai/chathub/internal/config"
	"github.com/memohai/chathub/internal/dispatch"
	"github.com/memohai/chathub/internal/logger"
	"github.com/memohai/chathub/internal/server"
	"github.com/memohai/chathub/internal/tasks"
)

const testSecret = "handlers-secret"

type apiClient struct {
	t   *testing.T
	srv *server.Server
}

func newAPI(t *testing.T, handlers ...server.Handler) *apiClient {
	t.Helper()
	return &apiClient{t: t, srv: server.NewServer(logger.Discard(), "", testSecret, handlers...)}
}

func tokenFor(t *testing.T, userID, role string) string {
	t.Helper()
	token, _, err := auth.GenerateToken(userID, role, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func (a *apiClient) do(method, path, token, body string) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.srv.Echo().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type fakeAccounts struct {
	account   accounts.Account
	password  string
	loginErr  error
	updateErr error
	updated   accounts.UpdatePasswordRequest
}

func (f *fakeAccounts) Login(_ context.Context, username, password string) (accounts.Account, error) {
	if f.loginErr != nil {
		return accounts.Account{}, f.loginErr
	}
	if username != f.account.Username || password != f.password {
		return accounts.Account{}, accounts.ErrInvalidCredentials
	}
	return f.account, nil
}

func (f *fakeAccounts) UpdatePassword(_ context.Context, _ string, req accounts.UpdatePasswordRequest) error {
	f.updated = req
	return f.updateErr
}

func TestLogin(t *testing.T) {
	t.Parallel()
	svc := &fakeAccounts{
		account:  accounts.Account{ID: "u-1", Username: "alice", Role: accounts.RoleAdmin, DisplayName: "Alice"},
		password: "s3cret-pass",
	}
	api := newAPI(t, NewAuthHandler(logger.Discard(), svc, testSecret, time.Hour))

	rec := api.do(http.MethodPost, "/auth/login", "", `{"username":"alice","password":"s3cret-pass"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[LoginResponse](t, rec)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "u-1", resp.UserID)
	claims, err := auth.ParseToken(resp.AccessToken, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, accounts.RoleAdmin, claims.Role)

	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodPost, "/auth/login", "", `{"username":"alice","password":"nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/auth/login", "", `{"username":" "}`).Code)

	svc.loginErr = accounts.ErrInactiveAccount
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodPost, "/auth/login", "", `{"username":"alice","password":"s3cret-pass"}`).Code)
}

func TestUpdatePassword(t *testing.T) {
	t.Parallel()
	svc := &fakeAccounts{}
	api := newAPI(t, NewAuthHandler(logger.Discard(), svc, testSecret, time.Hour))
	token := tokenFor(t, "u-1", accounts.RoleMember)

	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodPut, "/users/me/password", "", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPut, "/users/me/password", token, `{"current_password":"old","new_password":"short"}`).Code)

	rec := api.do(http.MethodPut, "/users/me/password", token, `{"current_password":"old","new_password":"long-enough"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "long-enough", svc.updated.NewPassword)

	svc.updateErr = accounts.ErrInvalidCredentials
	rec = api.do(http.MethodPut, "/users/me/password", token, `{"current_password":"bad","new_password":"long-enough"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type fakeLinkCodes struct {
	mu     sync.Mutex
	codes  map[string]bind.Code
	issued []time.Duration
}

func (f *fakeLinkCodes) Issue(_ context.Context, owner, ct string, ttl time.Duration) (bind.Code, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued = append(f.issued, ttl)
	code := bind.Code{ID: "c-1", Code: "A1B2C3D4", OwnerUserID: owner, ChannelType: ct, ExpiresAt: time.Now().Add(ttl)}
	f.codes[code.Code] = code
	return code, nil
}

func (f *fakeLinkCodes) Get(_ context.Context, code string) (bind.Code, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.codes[bind.NormalizeCode(code)]
	if !ok {
		return bind.Code{}, bind.ErrCodeNotFound
	}
	return c, nil
}

func TestLinkCodes(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.Channels.Discord.Enabled = true
	cfg.Linking.CodeTTL = "10m"
	svc := &fakeLinkCodes{codes: map[string]bind.Code{}}
	api := newAPI(t, NewLinkCodeHandler(logger.Discard(), svc, config.NewStaticStore(cfg)))
	owner := tokenFor(t, "u-1", accounts.RoleMember)
	stranger := tokenFor(t, "u-2", accounts.RoleMember)

	cases := []struct {
		name   string
		token  string
		body   string
		status int
	}{
		{"no token", "", `{"channel_type":"discord"}`, http.StatusUnauthorized},
		{"missing channel", owner, `{}`, http.StatusBadRequest},
		{"disabled channel", owner, `{"channel_type":"slack"}`, http.StatusBadRequest},
		{"ttl too short", owner, `{"channel_type":"discord","ttl_seconds":5}`, http.StatusBadRequest},
		{"default ttl", owner, `{"channel_type":"discord"}`, http.StatusCreated},
		{"custom ttl", owner, `{"channel_type":"discord","ttl_seconds":120}`, http.StatusCreated},
	}
	for _, tc := range cases {
		rec := api.do(http.MethodPost, "/users/me/link_codes", tc.token, tc.body)
		assert.Equal(t, tc.status, rec.Code, tc.name+": "+rec.Body.String())
	}
	require.Equal(t, []time.Duration{10 * time.Minute, 2 * time.Minute}, svc.issued)

	rec := api.do(http.MethodGet, "/users/me/link_codes/a1b2c3d4", owner, "")
	require.Equal(t, http.StatusOK, rec.Code)
	code := decode[bind.Code](t, rec)
	assert.Equal(t, "discord", code.ChannelType)
	assert.False(t, code.Used)

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/users/me/link_codes/A1B2C3D4", stranger, "").Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/users/me/link_codes/ZZZZ", owner, "").Code)
}

type fakeIdentities struct {
	items   map[string][]identities.ChannelIdentity
	deleted []string
}

func (f *fakeIdentities) ListByOwner(_ context.Context, owner string) ([]identities.ChannelIdentity, error) {
	return f.items[owner], nil
}

func (f *fakeIdentities) SoftDelete(_ context.Context, owner, id string) error {
	for _, item := range f.items[owner] {
		if item.ID == id {
			f.deleted = append(f.deleted, id)
			return nil
		}
	}
	return identities.ErrChannelIdentityNotFound
}

func TestChannelIdentities(t *testing.T) {
	t.Parallel()
	svc := &fakeIdentities{items: map[string][]identities.ChannelIdentity{
		"u-1": {{ID: "i-1", OwnerUserID: "u-1", ChannelType: "telegram", ChannelUserID: "555"}},
	}}
	api := newAPI(t, NewChannelIdentityHandler(logger.Discard(), svc))
	owner := tokenFor(t, "u-1", accounts.RoleMember)
	other := tokenFor(t, "u-2", accounts.RoleMember)

	rec := api.do(http.MethodGet, "/users/me/channel_identities", owner, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listIdentitiesResponse](t, rec)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "555", list.Items[0].ChannelUserID)

	rec = api.do(http.MethodGet, "/users/me/channel_identities", other, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[]}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodDelete, "/users/me/channel_identities/i-1", other, "").Code)
	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, "/users/me/channel_identities/i-1", owner, "").Code)
	assert.Equal(t, []string{"i-1"}, svc.deleted)
}

type fakeDispatcher struct {
	ack     dispatch.AckResult
	err     error
	gotType channel.Type
	gotReq  channel.Request
}

func (f *fakeDispatcher) HandleInbound(_ context.Context, ct channel.Type, req channel.Request) (dispatch.AckResult, error) {
	f.gotType = ct
	f.gotReq = req
	return f.ack, f.err
}

func TestWebhookStatusMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		ack    dispatch.AckResult
		err    error
		status int
		body   string
	}{
		{"ok", dispatch.OK(), nil, http.StatusOK, `{"ok":true}`},
		{"custom ack", dispatch.AckResult{Status: http.StatusOK, ContentType: "text/plain", Body: []byte("challenge-1")}, nil, http.StatusOK, "challenge-1"},
		{"bad signature", dispatch.AckResult{}, dispatch.ErrAuthenticity, http.StatusUnauthorized, ""},
		{"malformed", dispatch.AckResult{}, dispatch.ErrMalformedPayload, http.StatusBadRequest, ""},
		{"unknown channel", dispatch.AckResult{}, dispatch.ErrChannelNotFound, http.StatusNotFound, ""},
		{"soft failure", dispatch.AckResult{}, errors.Join(dispatch.ErrDownstreamUnavailable), http.StatusOK, `{"ok":true}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := &fakeDispatcher{ack: tc.ack, err: tc.err}
			api := newAPI(t, NewWebhookHandler(logger.Discard(), d))
			rec := api.do(http.MethodPost, "/webhooks/Telegram?x=1", "", `{"update_id":1}`)
			assert.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
			assert.Equal(t, channel.Type("telegram"), d.gotType)
			assert.Equal(t, `{"update_id":1}`, string(d.gotReq.Body))
			assert.Equal(t, "1", d.gotReq.Query.Get("x"))
		})
	}
}

func TestWebhookChallengeGet(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{ack: dispatch.AckResult{Status: http.StatusOK, ContentType: "text/plain", Body: []byte("42")}}
	api := newAPI(t, NewWebhookHandler(logger.Discard(), d))
	rec := api.do(http.MethodGet, "/webhooks/whatsapp?hub.challenge=42", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())
	assert.Equal(t, http.MethodGet, d.gotReq.Method)
}

type fakeReloader struct {
	cfg config.Config
	err error
}

func (f *fakeReloader) Reload() (config.Config, error) { return f.cfg, f.err }

type fakeStats struct{ stats tasks.Stats }

func (f fakeStats) Stats() tasks.Stats { return f.stats }

type fakeChannels []channel.Type

func (f fakeChannels) Types() []channel.Type { return f }

func TestAdminRoutes(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.Channels.Telegram.Enabled = true
	reloader := &fakeReloader{cfg: cfg}
	stats := fakeStats{stats: tasks.Stats{Started: 3, Succeeded: 1, Failed: 2, Panicked: 1}}
	api := newAPI(t, NewAdminHandler(logger.Discard(), reloader, stats, fakeChannels{"telegram", "discord"}))
	admin := tokenFor(t, "u-1", accounts.RoleAdmin)
	member := tokenFor(t, "u-2", accounts.RoleMember)

	assert.Equal(t, http.StatusForbidden, api.do(http.MethodPost, "/admin/config/reload", member, "").Code)
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodGet, "/ops/tasks", member, "").Code)

	rec := api.do(http.MethodPost, "/admin/config/reload", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"telegram"}, decode[reloadResponse](t, rec).Channels)

	reloader.err = errors.New("bad toml")
	assert.Equal(t, http.StatusUnprocessableEntity, api.do(http.MethodPost, "/admin/config/reload", admin, "").Code)

	rec = api.do(http.MethodGet, "/ops/tasks", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stats.stats, decode[tasks.Stats](t, rec))
}

func TestPing(t *testing.T) {
	t.Parallel()
	api := newAPI(t, NewPingHandler(logger.Discard()))
	rec := api.do(http.MethodGet, "/ping", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
	assert.Equal(t, http.StatusOK, api.do(http.MethodHead, "/health", "", "").Code)
}
