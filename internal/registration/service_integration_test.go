package registration_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/chathub/internal/accounts"
	"github.com/memohai/chathub/internal/channel"
	"github.com/memohai/chathub/internal/channel/identities"
	"github.com/memohai/chathub/internal/config"
	"github.com/memohai/chathub/internal/db/dbtest"
	"github.com/memohai/chathub/internal/db/sqlc"
	"github.com/memohai/chathub/internal/logger"
	"github.com/memohai/chathub/internal/registration"
	"github.com/memohai/chathub/internal/tasks"
)

func TestIntegrationConcurrentAutoRegistration(t *testing.T) {
	pool := dbtest.Open(t)
	queries := sqlc.New(pool)
	identitySvc := identities.NewService(logger.Discard(), queries)
	accountSvc := accounts.NewService(logger.Discard(), queries)
	runner := tasks.NewRunner(logger.Discard(), time.Second)
	svc := registration.NewService(logger.Discard(), config.NewStaticStore(config.Defaults()), identitySvc, accountSvc, nil, runner)

	chatID := fmt.Sprintf("555%d", time.Now().UnixNano())
	msg := channel.InboundMessage{Channel: "telegram", ChannelUserID: chatID, DisplayName: "Alice", Text: "hello"}

	const n = 8
	results := make([]registration.Result, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Resolve(context.Background(), msg)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()
	runner.Wait()

	newUsers := 0
	for _, res := range results {
		assert.Equal(t, results[0].UserID, res.UserID)
		if res.Outcome == registration.OutcomeNewUser {
			newUsers++
		}
	}
	assert.GreaterOrEqual(t, newUsers, 1)

	ident, err := identitySvc.FindByChannel(context.Background(), "telegram", chatID)
	require.NoError(t, err)
	assert.True(t, ident.AutoRegistered)
	assert.Equal(t, results[0].UserID, ident.OwnerUserID)

	acct, err := accountSvc.GetByUsername(context.Background(), "telegram:"+chatID)
	require.NoError(t, err)
	assert.Equal(t, ident.OwnerUserID, acct.ID)

	list, err := identitySvc.ListByOwner(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
