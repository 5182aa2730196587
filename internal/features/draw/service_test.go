package draw_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres/pgtest"
	"serotonyl.ru/points-engine/internal/features/draw"
	"serotonyl.ru/points-engine/internal/features/economy"
	"serotonyl.ru/points-engine/internal/features/inventory"
	"serotonyl.ru/points-engine/internal/features/tasks"
)

type fixture struct {
	draw      *draw.Service
	economy   *economy.Service
	inventory *inventory.Service
}

func newFixture(t *testing.T) *fixture {
	pool := pgtest.NewPool(t)
	eco := economy.NewService(pool, economy.NewRepository(pool), time.UTC)
	inv := inventory.NewService(pool, inventory.NewRepository(pool), eco)
	tsk := tasks.NewService(pool, tasks.NewRepository(pool), eco, time.UTC)
	return &fixture{
		draw:      draw.NewService(pool, draw.NewRepository(pool), eco, inv.Repo(), tsk, 5, time.UTC),
		economy:   eco,
		inventory: inv,
	}
}

func (f *fixture) fund(t *testing.T, userID, amount int64) {
	t.Helper()
	_, err := f.economy.Credit(context.Background(), economy.Mutation{UserID: userID, Amount: amount, Reason: economy.ReasonAdminGrant})
	require.NoError(t, err)
}

func TestPlay_DebitsAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const user = int64(701)
	f.fund(t, user, 100)

	d, err := f.draw.Play(ctx, user, "lottery", draw.PlayRequest{RequestID: "lot-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(20), d.Cost)
	assert.False(t, d.Duplicate)

	again, err := f.draw.Play(ctx, user, "lottery", draw.PlayRequest{RequestID: "lot-1"})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, d.ID, again.ID)

	balance, err := f.economy.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 100-20+d.PointsAwarded, balance)

	_, _, ok, err := f.economy.Reconcile(ctx, user)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPlay_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const user = int64(702)
	f.fund(t, user, 10)

	_, err := f.draw.Play(ctx, user, "lottery", draw.PlayRequest{})
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	balance, err := f.economy.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}

func TestPlay_TicketSkipsCost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const user = int64(703)

	_, err := f.draw.Play(ctx, user, "gacha", draw.PlayRequest{UseTicket: true})
	assert.ErrorIs(t, err, common.ErrNoTickets)

	require.NoError(t, f.inventory.GrantTickets(ctx, user, inventory.TicketGacha, 1))
	d, err := f.draw.Play(ctx, user, "gacha", draw.PlayRequest{UseTicket: true})
	require.NoError(t, err)
	assert.True(t, d.UsedTicket)
	assert.Zero(t, d.Cost)

	stats, err := f.economy.GetStats(ctx, user)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalSpent)
	assert.Equal(t, d.PointsAwarded, stats.Balance.Balance)
}

func TestPlay_DailyLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const user = int64(704)
	f.fund(t, user, 1000)

	for i := 0; i < 5; i++ {
		_, err := f.draw.BuyScratch(ctx, user, "scratch", draw.PlayRequest{})
		require.NoError(t, err)
	}
	_, err := f.draw.BuyScratch(ctx, user, "scratch", draw.PlayRequest{})
	assert.ErrorIs(t, err, common.ErrDailyLimit)
}

func TestScratch_RevealOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const user = int64(705)
	f.fund(t, user, 30)

	card, err := f.draw.BuyScratch(ctx, user, "scratch", draw.PlayRequest{})
	require.NoError(t, err)
	assert.Equal(t, draw.StatusPurchased, card.Status)
	assert.Zero(t, card.PointsAwarded)

	_, err = f.draw.Play(ctx, user, "scratch", draw.PlayRequest{})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	opened, err := f.draw.Reveal(ctx, user, card.ID)
	require.NoError(t, err)
	assert.Equal(t, draw.StatusRevealed, opened.Status)

	_, err = f.draw.Reveal(ctx, user, card.ID)
	assert.ErrorIs(t, err, common.ErrAlreadyRevealed)

	_, err = f.draw.Reveal(ctx, user+1, card.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	balance, err := f.economy.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, opened.PointsAwarded, balance)
}

func TestGacha_DuplicateBadgeBecomesPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const user = int64(706)

	_, err := f.draw.CreatePool(ctx, draw.PoolInput{PoolKey: "badges", Mode: draw.ModeGacha, Name: "Значки", Cost: 0})
	require.NoError(t, err)
	key, tier := "test_gold", "gold"
	_, err = f.draw.AddPrize(ctx, "badges", draw.PrizeInput{
		Name: "Золото", Kind: draw.KindBadge, Weight: decimal.NewFromInt(1), BadgeKey: &key, BadgeTier: &tier,
	})
	require.NoError(t, err)

	first, err := f.draw.Play(ctx, user, "badges", draw.PlayRequest{})
	require.NoError(t, err)
	assert.False(t, first.BadgeSubstituted)
	assert.Zero(t, first.PointsAwarded)

	second, err := f.draw.Play(ctx, user, "badges", draw.PlayRequest{})
	require.NoError(t, err)
	assert.True(t, second.BadgeSubstituted)
	assert.Equal(t, int64(200), second.PointsAwarded)

	inv, err := f.inventory.Get(ctx, user)
	require.NoError(t, err)
	assert.Len(t, inv.Badges, 1)
}

func TestPlay_ConcurrentStockOfOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.draw.CreatePool(ctx, draw.PoolInput{PoolKey: "rare", Mode: draw.ModeLottery, Name: "Редкий", Cost: 0})
	require.NoError(t, err)
	one := 1
	_, err = f.draw.AddPrize(ctx, "rare", draw.PrizeInput{
		Name: "Джекпот", Kind: draw.KindPoints, Weight: decimal.NewFromInt(1000), Stock: &one, Points: 500, IsRare: true,
	})
	require.NoError(t, err)
	_, err = f.draw.AddPrize(ctx, "rare", draw.PrizeInput{Name: "Пусто", Kind: draw.KindEmpty, Weight: decimal.NewFromInt(1)})
	require.NoError(t, err)

	const players = 20
	var wg sync.WaitGroup
	results := make([]*draw.Draw, players)
	errs := make([]error, players)
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.draw.Play(ctx, int64(800+i), "rare", draw.PlayRequest{RequestID: fmt.Sprintf("rare-%d", i)})
		}(i)
	}
	wg.Wait()

	jackpots := 0
	for i := 0; i < players; i++ {
		require.NoError(t, errs[i])
		if results[i].PrizeKind == draw.KindPoints {
			jackpots++
		}
	}
	assert.Equal(t, 1, jackpots)

	_, prizes, err := f.draw.Prizes(ctx, "rare")
	require.NoError(t, err)
	for _, p := range prizes {
		if p.Kind == draw.KindPoints {
			require.NotNil(t, p.Stock)
			assert.Zero(t, *p.Stock)
		}
	}
}

func TestPlay_InactivePool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.draw.SetPoolActive(ctx, "lottery", false))

	_, err := f.draw.Play(ctx, 707, "lottery", draw.PlayRequest{})
	assert.ErrorIs(t, err, common.ErrDrawInactive)

	_, err = f.draw.Play(ctx, 707, "missing", draw.PlayRequest{})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestPlay_RetryAfterPoolOff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const user = int64(709)
	f.fund(t, user, 100)

	d, err := f.draw.Play(ctx, user, "lottery", draw.PlayRequest{RequestID: "lot-off"})
	require.NoError(t, err)
	require.NoError(t, f.draw.SetPoolActive(ctx, "lottery", false))

	again, err := f.draw.Play(ctx, user, "lottery", draw.PlayRequest{RequestID: "lot-off"})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, d.ID, again.ID)

	_, err = f.draw.Play(ctx, user, "lottery", draw.PlayRequest{RequestID: "lot-new"})
	assert.ErrorIs(t, err, common.ErrDrawInactive)
}
