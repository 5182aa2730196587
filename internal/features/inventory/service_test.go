package inventory_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres"
	"serotonyl.ru/points-engine/internal/db/postgres/pgtest"
	"serotonyl.ru/points-engine/internal/features/economy"
	"serotonyl.ru/points-engine/internal/features/inventory"
)

func TestExchangeBadge_Once(t *testing.T) {
	pool := pgtest.NewPool(t)
	ctx := context.Background()
	eco := economy.NewService(pool, economy.NewRepository(pool), time.UTC)
	repo := inventory.NewRepository(pool)
	svc := inventory.NewService(pool, repo, eco)
	const user = int64(42)

	err := postgres.WithTx(ctx, pool, func(tx pgx.Tx) error {
		granted, err := repo.GrantBadge(ctx, tx, user, "gacha_gold", inventory.TierGold, "gacha")
		if err != nil {
			return err
		}
		assert.True(t, granted)
		return nil
	})
	require.NoError(t, err)

	entry, err := svc.ExchangeBadge(ctx, user, "gacha_gold")
	require.NoError(t, err)
	assert.Equal(t, int64(200), entry.Amount)
	assert.Equal(t, economy.ReasonBadgeExchange, entry.Reason)

	_, err = svc.ExchangeBadge(ctx, user, "gacha_gold")
	assert.ErrorIs(t, err, common.ErrBadgeExchanged)

	_, err = svc.ExchangeBadge(ctx, user, "gacha_king")
	assert.ErrorIs(t, err, common.ErrBadgeNotOwned)

	balance, err := eco.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(200), balance)
}

func TestTicketsAndAPIKeys(t *testing.T) {
	pool := pgtest.NewPool(t)
	ctx := context.Background()
	eco := economy.NewService(pool, economy.NewRepository(pool), time.UTC)
	repo := inventory.NewRepository(pool)
	svc := inventory.NewService(pool, repo, eco)
	const user = int64(43)

	require.NoError(t, svc.GrantTickets(ctx, user, inventory.TicketLottery, 1))
	require.NoError(t, repo.UseTicket(ctx, pool, user, inventory.TicketLottery))
	assert.ErrorIs(t, repo.UseTicket(ctx, pool, user, inventory.TicketLottery), common.ErrNoTickets)

	added, err := svc.AddAPIKeys(ctx, []string{"sk-1", "sk-2", "sk-1"}, nil, "тест")
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	for i := 0; i < 2; i++ {
		key, err := repo.AssignAPIKey(ctx, pool, user)
		require.NoError(t, err)
		require.NotNil(t, key)
		assert.Equal(t, inventory.KeyStatusAssigned, key.Status)
	}
	key, err := repo.AssignAPIKey(ctx, pool, user)
	require.NoError(t, err)
	assert.Nil(t, key)

	inv, err := svc.Get(ctx, user)
	require.NoError(t, err)
	assert.Len(t, inv.APIKeys, 2)
	assert.Empty(t, inv.Tickets)
}
