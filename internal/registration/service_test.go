package registration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/chathub/internal/accounts"
	"github.com/memohai/chathub/internal/channel"
	"github.com/memohai/chathub/internal/channel/identities"
	"github.com/memohai/chathub/internal/config"
	"github.com/memohai/chathub/internal/logger"
	"github.com/memohai/chathub/internal/tasks"
)

type memIdentities struct {
	mu      sync.Mutex
	rows    map[string]identities.ChannelIdentity
	updates atomic.Int32
	// failCreate makes the next Create fail, simulating a crash after the account insert.
	failCreate bool
}

func (m *memIdentities) FindByChannel(_ context.Context, ct, id string) (identities.ChannelIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[ct+"|"+id]
	if !ok {
		return identities.ChannelIdentity{}, identities.ErrChannelIdentityNotFound
	}
	return row, nil
}

func (m *memIdentities) Create(_ context.Context, in identities.CreateInput) (identities.ChannelIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate {
		m.failCreate = false
		return identities.ChannelIdentity{}, fmt.Errorf("connection reset")
	}
	key := in.ChannelType + "|" + in.ChannelUserID
	if _, ok := m.rows[key]; ok {
		return identities.ChannelIdentity{}, identities.ErrChannelIdentityExists
	}
	row := identities.ChannelIdentity{
		ID: uuid.NewString(), OwnerUserID: in.OwnerUserID, ChannelType: in.ChannelType,
		ChannelUserID: in.ChannelUserID, DisplayName: in.DisplayName, AutoRegistered: in.AutoRegistered,
	}
	m.rows[key] = row
	return row, nil
}

func (m *memIdentities) Update(_ context.Context, ident identities.ChannelIdentity, name string, _ map[string]string) (identities.ChannelIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates.Add(1)
	ident.DisplayName = name
	m.rows[ident.ChannelType+"|"+ident.ChannelUserID] = ident
	return ident, nil
}

type memAccounts struct {
	mu    sync.Mutex
	users map[string]accounts.Account
}

func (m *memAccounts) CreatePlaceholder(_ context.Context, username, displayName string) (accounts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return accounts.Account{}, accounts.ErrUsernameTaken
	}
	acct := accounts.Account{ID: uuid.NewString(), Username: username, DisplayName: displayName, AutoRegistered: true}
	m.users[username] = acct
	return acct, nil
}

func (m *memAccounts) GetByUsername(_ context.Context, username string) (accounts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.users[username]
	if !ok {
		return accounts.Account{}, accounts.ErrAccountNotFound
	}
	return acct, nil
}

func (m *memAccounts) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

type fakeGateway struct{ ensured atomic.Int32 }

func (g *fakeGateway) EnsureRunning(context.Context, string) error {
	g.ensured.Add(1)
	return nil
}

type fixture struct {
	svc      *Service
	idents   *memIdentities
	accounts *memAccounts
	gateway  *fakeGateway
	runner   *tasks.Runner
}

func newFixture(t *testing.T, mutate func(*config.Config)) fixture {
	t.Helper()
	cfg := config.Defaults()
	if mutate != nil {
		mutate(&cfg)
	}
	f := fixture{
		idents:   &memIdentities{rows: map[string]identities.ChannelIdentity{}},
		accounts: &memAccounts{users: map[string]accounts.Account{}},
		gateway:  &fakeGateway{},
		runner:   tasks.NewRunner(logger.Discard(), time.Second),
	}
	f.svc = NewService(logger.Discard(), config.NewStaticStore(cfg), f.idents, f.accounts, f.gateway, f.runner)
	return f
}

func telegramMessage(id, name string) channel.InboundMessage {
	return channel.InboundMessage{Channel: "telegram", ChannelUserID: id, DisplayName: name, Text: "hi"}
}

func TestFirstContactRegisters(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.Resolve(ctx, telegramMessage("555", "Alice"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNewUser, res.Outcome)
	assert.True(t, res.Identity.AutoRegistered)
	_, err = f.accounts.GetByUsername(ctx, "telegram:555")
	require.NoError(t, err)

	again, err := f.svc.Resolve(ctx, telegramMessage("555", "Alice"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeExistingUser, again.Outcome)
	assert.Equal(t, res.UserID, again.UserID)

	f.runner.Wait()
	assert.EqualValues(t, 1, f.gateway.ensured.Load())
	assert.Equal(t, 1, f.accounts.count())
}

func TestConcurrentFirstContactOneUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Resolve(context.Background(), telegramMessage("777", "Racer"))
			assert.NoError(t, err)
			ids[i] = res.UserID
		}()
	}
	wg.Wait()
	f.runner.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, f.accounts.count())
	assert.Len(t, f.idents.rows, 1)
}

func TestRejected(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"disabled", func(c *config.Config) { c.Registration.AutoRegistration = false }},
		{"not allow-listed", func(c *config.Config) { c.Registration.EnabledChannels = []string{"discord"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tc.mutate)
			res, err := f.svc.Resolve(context.Background(), telegramMessage("555", ""))
			require.NoError(t, err)
			assert.Equal(t, OutcomeRejected, res.Outcome)
			assert.Empty(t, res.UserID)
			assert.Zero(t, f.accounts.count())
		})
	}
}

func TestOrphanAccountIsReused(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	f.idents.failCreate = true

	_, err := f.svc.Resolve(ctx, telegramMessage("888", "Orphan"))
	require.Error(t, err)
	assert.Equal(t, 1, f.accounts.count())

	res, err := f.svc.Resolve(ctx, telegramMessage("888", "Orphan"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNewUser, res.Outcome)
	orphan, _ := f.accounts.GetByUsername(ctx, "telegram:888")
	assert.Equal(t, orphan.ID, res.UserID)
	assert.Equal(t, 1, f.accounts.count())
}

func TestOrphanMismatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.accounts.users["telegram:999"] = accounts.Account{ID: uuid.NewString(), Username: "telegram:999"}

	_, err := f.svc.Resolve(context.Background(), telegramMessage("999", ""))
	assert.ErrorIs(t, err, ErrOrphanMismatch)
}

func TestDisplayNameRefresh(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.Resolve(ctx, telegramMessage("555", "Alice"))
	require.NoError(t, err)

	_, err = f.svc.Resolve(ctx, telegramMessage("555", "Alice"))
	require.NoError(t, err)
	_, err = f.svc.Resolve(ctx, telegramMessage("555", "Alice B."))
	require.NoError(t, err)
	f.runner.Wait()

	assert.EqualValues(t, 1, f.idents.updates.Load())
	row, _ := f.idents.FindByChannel(ctx, "telegram", "555")
	assert.Equal(t, "Alice B.", row.DisplayName)
}

func TestPlaceholderUsername(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "discord:999", PlaceholderUsername("discord", " 999 "))
}
