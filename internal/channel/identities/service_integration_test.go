package identities_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/chathub/internal/channel/identities"
	"github.com/memohai/chathub/internal/db"
	"github.com/memohai/chathub/internal/db/dbtest"
	"github.com/memohai/chathub/internal/db/sqlc"
	"github.com/memohai/chathub/internal/logger"
)

func setup(t *testing.T) (*identities.Service, *sqlc.Queries) {
	t.Helper()
	pool := dbtest.Open(t)
	queries := sqlc.New(pool)
	return identities.NewService(logger.Discard(), queries), queries
}

func createUser(t *testing.T, q *sqlc.Queries, name string) string {
	t.Helper()
	row, err := q.CreateUser(context.Background(), sqlc.CreateUserParams{
		Username:     fmt.Sprintf("%s%d", name, time.Now().UnixNano()),
		PasswordHash: "x",
		Role:         "member",
	})
	require.NoError(t, err)
	return db.UUIDString(row.ID)
}

func TestIntegrationCreateAndFind(t *testing.T) {
	svc, q := setup(t)
	ctx := context.Background()
	owner := createUser(t, q, "owner")
	key := fmt.Sprintf("tg_%d", time.Now().UnixNano())

	created, err := svc.Create(ctx, identities.CreateInput{
		OwnerUserID:    owner,
		ChannelType:    "Telegram",
		ChannelUserID:  key,
		DisplayName:    "Alice",
		Metadata:       map[string]string{"chat_id": key},
		AutoRegistered: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "telegram", created.ChannelType)

	found, err := svc.FindByChannel(ctx, "telegram", key)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, owner, found.OwnerUserID)
	assert.Equal(t, key, found.Metadata["chat_id"])
	assert.True(t, found.AutoRegistered)

	_, err = svc.Create(ctx, identities.CreateInput{OwnerUserID: owner, ChannelType: "telegram", ChannelUserID: key})
	assert.ErrorIs(t, err, identities.ErrChannelIdentityExists)
}

func TestIntegrationConcurrentCreateOneWinner(t *testing.T) {
	svc, q := setup(t)
	ctx := context.Background()
	owner := createUser(t, q, "racer")
	key := fmt.Sprintf("race_%d", time.Now().UnixNano())

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(ctx, identities.CreateInput{OwnerUserID: owner, ChannelType: "slack", ChannelUserID: key})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, identities.ErrChannelIdentityExists)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestIntegrationSoftDeleteAllowsRelink(t *testing.T) {
	svc, q := setup(t)
	ctx := context.Background()
	owner := createUser(t, q, "unlinker")
	other := createUser(t, q, "other")
	key := fmt.Sprintf("line_%d", time.Now().UnixNano())

	first, err := svc.Create(ctx, identities.CreateInput{OwnerUserID: owner, ChannelType: "line", ChannelUserID: key})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.SoftDelete(ctx, other, first.ID), identities.ErrChannelIdentityNotFound)
	require.NoError(t, svc.SoftDelete(ctx, owner, first.ID))
	assert.ErrorIs(t, svc.SoftDelete(ctx, owner, first.ID), identities.ErrChannelIdentityNotFound)

	_, err = svc.FindByChannel(ctx, "line", key)
	assert.ErrorIs(t, err, identities.ErrChannelIdentityNotFound)

	second, err := svc.Create(ctx, identities.CreateInput{OwnerUserID: other, ChannelType: "line", ChannelUserID: key})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	list, err := svc.ListByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestIntegrationUpdateAndRepoint(t *testing.T) {
	svc, q := setup(t)
	ctx := context.Background()
	owner := createUser(t, q, "first")
	next := createUser(t, q, "second")
	key := fmt.Sprintf("dc_%d", time.Now().UnixNano())

	ident, err := svc.Create(ctx, identities.CreateInput{
		OwnerUserID: owner, ChannelType: "discord", ChannelUserID: key,
		Metadata: map[string]string{"guild_id": "g"}, AutoRegistered: true,
	})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, ident, "New Name", nil)
	require.NoError(t, err)
	assert.Equal(t, "New Name", updated.DisplayName)
	assert.Equal(t, "g", updated.Metadata["guild_id"])

	moved, err := svc.Repoint(ctx, updated, next)
	require.NoError(t, err)
	assert.Equal(t, next, moved.OwnerUserID)
	assert.False(t, moved.AutoRegistered)

	list, err := svc.ListByOwner(ctx, next)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ident.ID, list[0].ID)
}
