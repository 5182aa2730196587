package cheer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres/pgtest"
	"serotonyl.ru/points-engine/internal/features/economy"
	"serotonyl.ru/points-engine/internal/features/inventory"
	"serotonyl.ru/points-engine/internal/features/tasks"
)

type fixture struct {
	cheer     *Service
	inventory *inventory.Repository
	tasks     *tasks.Service
	economy   *economy.Service
}

func newFixture(t *testing.T, dailyLimit int) *fixture {
	pool := pgtest.NewPool(t)
	eco := economy.NewService(pool, economy.NewRepository(pool), time.UTC)
	tsk := tasks.NewService(pool, tasks.NewRepository(pool), eco, time.UTC)
	inv := inventory.NewRepository(pool)
	return &fixture{
		cheer:     NewService(pool, NewRepository(pool), inv, tsk, dailyLimit, time.UTC),
		inventory: inv,
		tasks:     tsk,
		economy:   eco,
	}
}

func (f *fixture) give(t *testing.T, userID int64, item Type, n int) {
	t.Helper()
	require.NoError(t, f.inventory.GrantItem(context.Background(), f.cheer.db, userID, string(item), n))
}

func TestPoints(t *testing.T) {
	assert.Equal(t, 1, TypeCheer.Points())
	assert.Equal(t, 5, TypeStar.Points())
	assert.False(t, Type("rocket").Valid())
}

func TestTrimMessage(t *testing.T) {
	assert.Nil(t, trimMessage("   "))
	assert.Equal(t, "вперёд", *trimMessage("  вперёд "))

	long := trimMessage(strings.Repeat("ы", MaxMessageLen+10))
	assert.Equal(t, MaxMessageLen, len([]rune(*long)))
}

func TestGive_SpendsItemAndCountsPoints(t *testing.T) {
	f := newFixture(t, 20)
	ctx := context.Background()
	f.give(t, 1, TypePizza, 2)
	f.give(t, 1, TypeCheer, 1)

	res, err := f.cheer.Give(ctx, 1, Request{ToUserID: 2, CheerType: TypePizza, Message: "удачи!"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.RecipientPoints)

	res, err = f.cheer.Give(ctx, 1, Request{ToUserID: 2})
	require.NoError(t, err)
	assert.Equal(t, TypeCheer, res.CheerType)
	assert.Equal(t, int64(5), res.RecipientPoints)

	_, err = f.cheer.Give(ctx, 1, Request{ToUserID: 2, CheerType: TypeCheer})
	assert.ErrorIs(t, err, common.ErrNoItems)

	st, err := f.cheer.Stats(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), st.TotalPoints)
	assert.Equal(t, 2, st.CheersReceived)
	assert.Equal(t, map[Type]int{TypePizza: 1, TypeCheer: 1}, st.ByType)

	msgs, err := f.cheer.Messages(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "удачи!", *msgs[0].Message)

	items, err := f.inventory.GetItems(ctx, 1)
	require.NoError(t, err)
	for _, it := range items {
		assert.Zero(t, it.Quantity, it.ItemType)
	}
}

func TestGive_Rejects(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.give(t, 1, TypeCheer, 5)

	_, err := f.cheer.Give(ctx, 1, Request{ToUserID: 1})
	assert.ErrorIs(t, err, common.ErrSelfCheer)

	_, err = f.cheer.Give(ctx, 1, Request{ToUserID: 2, CheerType: "rocket"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = f.cheer.Give(ctx, 1, Request{ToUserID: 2})
	require.NoError(t, err)

	_, err = f.cheer.Give(ctx, 1, Request{ToUserID: 3})
	assert.ErrorIs(t, err, common.ErrDailyLimit)
}

func TestGive_AdvancesCheerTask(t *testing.T) {
	f := newFixture(t, 20)
	ctx := context.Background()
	_, err := f.tasks.CreateDefinition(ctx, tasks.DefinitionInput{
		TaskKey:      ptr("daily_cheer_2"),
		Name:         ptr("Поддержи двоих"),
		Schedule:     ptr(tasks.ScheduleDaily),
		TaskType:     ptr(tasks.TypeCheer),
		TargetValue:  ptr(2),
		RewardPoints: ptr(int64(15)),
	})
	require.NoError(t, err)
	f.give(t, 1, TypeCoffee, 2)

	for _, to := range []int64{2, 3} {
		_, err := f.cheer.Give(ctx, 1, Request{ToUserID: to, CheerType: TypeCoffee})
		require.NoError(t, err)
	}

	balance, err := f.economy.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(15), balance, "награда зачислена автоматически")

	top, err := f.cheer.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, int64(2), top[0].UserID)
}

func ptr[T any](v T) *T { return &v }
