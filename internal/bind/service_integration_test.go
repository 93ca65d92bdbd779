package bind_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/chathub/internal/bind"
	"github.com/memohai/chathub/internal/channel/identities"
	"github.com/memohai/chathub/internal/db"
	"github.com/memohai/chathub/internal/db/dbtest"
	"github.com/memohai/chathub/internal/db/sqlc"
	"github.com/memohai/chathub/internal/logger"
)

type fixture struct {
	bind       *bind.Service
	identities *identities.Service
	queries    *sqlc.Queries
}

func setup(t *testing.T) fixture {
	t.Helper()
	pool := dbtest.Open(t)
	queries := sqlc.New(pool)
	identitySvc := identities.NewService(logger.Discard(), queries)
	return fixture{
		bind:       bind.NewService(logger.Discard(), bind.NewPgStore(pool, queries, identitySvc)),
		identities: identitySvc,
		queries:    queries,
	}
}

func (f fixture) user(t *testing.T, prefix string) string {
	t.Helper()
	row, err := f.queries.CreateUser(context.Background(), sqlc.CreateUserParams{
		Username:     fmt.Sprintf("%s%d", prefix, time.Now().UnixNano()),
		PasswordHash: "x",
		Role:         "member",
	})
	require.NoError(t, err)
	return db.UUIDString(row.ID)
}

func TestIntegrationLinkScenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u1 := f.user(t, "u1")
	snowflake := fmt.Sprintf("999%d", time.Now().UnixNano())

	code, err := f.bind.Issue(ctx, u1, "discord", time.Hour)
	require.NoError(t, err)

	res, err := f.bind.Consume(ctx, bind.ConsumeInput{Code: code.Code, ChannelType: "discord", ChannelUserID: snowflake})
	require.NoError(t, err)
	assert.Equal(t, bind.OutcomeLinked, res.Outcome)

	ident, err := f.identities.FindByChannel(ctx, "discord", snowflake)
	require.NoError(t, err)
	assert.Equal(t, u1, ident.OwnerUserID)
	assert.False(t, ident.AutoRegistered)

	_, err = f.bind.Get(ctx, code.Code)
	assert.ErrorIs(t, err, bind.ErrCodeNotFound)
	_, err = f.bind.Consume(ctx, bind.ConsumeInput{Code: code.Code, ChannelType: "discord", ChannelUserID: snowflake})
	assert.ErrorIs(t, err, bind.ErrCodeNotFound)
}

func TestIntegrationConcurrentConsumeOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u1 := f.user(t, "owner")
	code, err := f.bind.Issue(ctx, u1, "telegram", time.Hour)
	require.NoError(t, err)

	const n = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.bind.Consume(ctx, bind.ConsumeInput{
				Code: code.Code, ChannelType: "telegram", ChannelUserID: fmt.Sprintf("c%d_%d", i, time.Now().UnixNano()),
			})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, bind.ErrCodeNotFound)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, success)
}

func TestIntegrationExpiredAndSweep(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u1 := f.user(t, "sweeper")

	code, err := f.bind.Issue(ctx, u1, "line", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	_, err = f.bind.Consume(ctx, bind.ConsumeInput{Code: code.Code, ChannelType: "line", ChannelUserID: "Uexpired"})
	assert.ErrorIs(t, err, bind.ErrCodeExpired)
	_, err = f.bind.Get(ctx, code.Code)
	assert.ErrorIs(t, err, bind.ErrCodeNotFound)

	stale, err := f.bind.Issue(ctx, u1, "line", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	n, err := f.bind.SweepExpired(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))
	_, err = f.bind.Get(ctx, stale.Code)
	assert.ErrorIs(t, err, bind.ErrCodeNotFound)
}
