package casino_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres/pgtest"
	"serotonyl.ru/points-engine/internal/features/casino"
	"serotonyl.ru/points-engine/internal/features/economy"
	"serotonyl.ru/points-engine/internal/features/inventory"
	"serotonyl.ru/points-engine/internal/features/tasks"
)

type fixture struct {
	casino    *casino.Service
	economy   *economy.Service
	inventory *inventory.Service
}

func newFixture(t *testing.T) *fixture {
	pool := pgtest.NewPool(t)
	eco := economy.NewService(pool, economy.NewRepository(pool), time.UTC)
	inv := inventory.NewService(pool, inventory.NewRepository(pool), eco)
	tsk := tasks.NewService(pool, tasks.NewRepository(pool), eco, time.UTC)
	return &fixture{
		casino:    casino.NewService(pool, casino.NewRepository(pool), eco, inv.Repo(), tsk, time.UTC),
		economy:   eco,
		inventory: inv,
	}
}

func TestSpin_LedgerAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const user = int64(901)
	_, err := f.economy.Credit(ctx, economy.Mutation{UserID: user, Amount: 300, Reason: economy.ReasonAdminGrant})
	require.NoError(t, err)

	var won int64
	for i := 0; i < 3; i++ {
		res, err := f.casino.Spin(ctx, user, casino.SpinRequest{})
		require.NoError(t, err)
		assert.Len(t, res.Reels, 3)
		won += res.Payout
	}

	balance, err := f.economy.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 300-3*30+won, balance)

	stats, err := f.casino.GetStats(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalSpins)
	assert.Equal(t, int64(90), stats.TotalWagered)
	assert.Equal(t, won, stats.TotalWon)
	assert.True(t, stats.CurrentRTP.Equal(casino.CalculateRTP(90, won)))
}

func TestSpin_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const user = int64(902)
	_, err := f.economy.Credit(ctx, economy.Mutation{UserID: user, Amount: 100, Reason: economy.ReasonAdminGrant})
	require.NoError(t, err)

	first, err := f.casino.Spin(ctx, user, casino.SpinRequest{RequestID: "spin-1"})
	require.NoError(t, err)
	second, err := f.casino.Spin(ctx, user, casino.SpinRequest{RequestID: "spin-1"})
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Reels, second.Reels)

	stats, err := f.casino.GetStats(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalSpins)
}

func TestSpin_InsufficientAndTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const user = int64(903)

	_, err := f.casino.Spin(ctx, user, casino.SpinRequest{})
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	require.NoError(t, f.inventory.GrantTickets(ctx, user, inventory.TicketSlot, 1))
	res, err := f.casino.Spin(ctx, user, casino.SpinRequest{UseTicket: true})
	require.NoError(t, err)
	assert.Zero(t, res.Cost)
	assert.Equal(t, res.Payout, res.Balance)

	_, err = f.casino.Spin(ctx, user, casino.SpinRequest{UseTicket: true})
	assert.ErrorIs(t, err, common.ErrNoTickets)
}

func TestAdmin_ReplaceSymbolsAndMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.casino.ReplaceSymbols(ctx, []casino.SymbolInput{{SymbolKey: "a"}, {SymbolKey: "a"}})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	require.NoError(t, f.casino.ReplaceSymbols(ctx, []casino.SymbolInput{
		{SymbolKey: "a", Multiplier: 10, Weight: 1},
		{SymbolKey: "b", Multiplier: 0, Weight: 1},
	}))
	mult := decimal.RequireFromString("1.5")
	_, err = f.casino.UpdateConfig(ctx, casino.ConfigInput{TwoKindMultiplier: &mult})
	require.NoError(t, err)

	view, err := f.casino.AdminConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Metrics.SymbolsCount)
	assert.Equal(t, int64(2), view.Metrics.TotalWeight)
	assert.Equal(t, "140", view.Metrics.TheoreticalRTP.String())

	const user = int64(904)
	_, err = f.economy.Credit(ctx, economy.Mutation{UserID: user, Amount: 30, Reason: economy.ReasonAdminGrant})
	require.NoError(t, err)
	res, err := f.casino.Spin(ctx, user, casino.SpinRequest{})
	require.NoError(t, err)
	// из двух символов пара выпадает всегда
	assert.NotEqual(t, casino.WinNone, res.WinType)

	stats, err := f.casino.DrawStats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalDraws)
	assert.Equal(t, 1, stats.WinCount)
	assert.Equal(t, stats.TotalCost-stats.TotalPayout, stats.HouseProfit)
}

func TestSpin_InactiveMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	off := false
	_, err := f.casino.UpdateConfig(ctx, casino.ConfigInput{IsActive: &off})
	require.NoError(t, err)

	_, err = f.casino.Spin(ctx, 905, casino.SpinRequest{})
	assert.ErrorIs(t, err, common.ErrDrawInactive)

	view, err := f.casino.PublicConfig(ctx, 905)
	require.NoError(t, err)
	assert.False(t, view.Active)
}

func TestSpin_RetryAfterMachineOff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const user = int64(906)
	_, err := f.economy.Credit(ctx, economy.Mutation{UserID: user, Amount: 100, Reason: economy.ReasonAdminGrant})
	require.NoError(t, err)

	first, err := f.casino.Spin(ctx, user, casino.SpinRequest{RequestID: "spin-off"})
	require.NoError(t, err)

	off := false
	_, err = f.casino.UpdateConfig(ctx, casino.ConfigInput{IsActive: &off})
	require.NoError(t, err)

	again, err := f.casino.Spin(ctx, user, casino.SpinRequest{RequestID: "spin-off"})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.ID, again.ID)

	_, err = f.casino.Spin(ctx, user, casino.SpinRequest{RequestID: "spin-new"})
	assert.ErrorIs(t, err, common.ErrDrawInactive)
}
