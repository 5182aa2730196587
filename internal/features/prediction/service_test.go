package prediction_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres/pgtest"
	"serotonyl.ru/points-engine/internal/features/economy"
	"serotonyl.ru/points-engine/internal/features/prediction"
	"serotonyl.ru/points-engine/internal/features/tasks"
)

type fixture struct {
	prediction *prediction.Service
	economy    *economy.Service
	tasks      *tasks.Service
}

func newFixture(t *testing.T) *fixture {
	pool := pgtest.NewPool(t)
	eco := economy.NewService(pool, economy.NewRepository(pool), time.UTC)
	tsk := tasks.NewService(pool, tasks.NewRepository(pool), eco, time.UTC)
	return &fixture{
		prediction: prediction.NewService(pool, prediction.NewRepository(pool), eco, tsk, decimal.RequireFromString("0.05"), 10),
		economy:    eco,
		tasks:      tsk,
	}
}

// quietTasks выключает задания на ставки, чтобы награды не влияли на балансы.
func (f *fixture) quietTasks(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	defs, err := f.tasks.ListDefinitions(ctx, "", false)
	require.NoError(t, err)
	for _, d := range defs {
		if d.TaskType == tasks.TypeBet {
			require.NoError(t, f.tasks.Deactivate(ctx, d.ID))
		}
	}
}

func (f *fixture) fund(t *testing.T, userID, amount int64) {
	t.Helper()
	_, err := f.economy.Credit(context.Background(), economy.Mutation{UserID: userID, Amount: amount, Reason: economy.ReasonAdminGrant})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, userID int64) int64 {
	t.Helper()
	b, err := f.economy.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

// openMarket создаёт и открывает рынок с вариантами A и B.
func (f *fixture) openMarket(t *testing.T, in prediction.MarketInput) *prediction.Market {
	t.Helper()
	ctx := context.Background()
	if in.Title == "" {
		in.Title = "Кто победит?"
	}
	if len(in.Options) == 0 {
		in.Options = []string{"A", "B"}
	}
	m, err := f.prediction.CreateMarket(ctx, in)
	require.NoError(t, err)
	require.Equal(t, prediction.StatusDraft, m.Status)
	require.Len(t, m.Options, len(in.Options))

	opened, err := f.prediction.Open(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, prediction.StatusOpen, opened.Status)
	opened.Options = m.Options
	return opened
}

func (f *fixture) bet(t *testing.T, userID int64, m *prediction.Market, option int, stake int64) *prediction.Bet {
	t.Helper()
	b, err := f.prediction.PlaceBet(context.Background(), userID, prediction.BetRequest{
		MarketID: m.ID,
		OptionID: m.Options[option].ID,
		Stake:    stake,
	})
	require.NoError(t, err)
	return b
}

func TestSettle_Scenario(t *testing.T) {
	f := newFixture(t)
	f.quietTasks(t)
	ctx := context.Background()

	const alice, bob, carol = int64(901), int64(902), int64(903)
	f.fund(t, alice, 300)
	f.fund(t, bob, 300)
	f.fund(t, carol, 400)

	m := f.openMarket(t, prediction.MarketInput{})
	f.bet(t, alice, m, 0, 300)
	f.bet(t, bob, m, 0, 300)
	f.bet(t, carol, m, 1, 400)

	stats, err := f.prediction.Stats(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stats.TotalPool)
	assert.Equal(t, 3, stats.ParticipantCount)
	assert.Equal(t, 3, stats.BetCount)
	assert.Equal(t, "60", stats.Options[0].Percentage.String())
	assert.Equal(t, "1.58", stats.Options[0].Odds.Decimal.String())

	_, err = f.prediction.Close(ctx, m.ID)
	require.NoError(t, err)

	res, err := f.prediction.Settle(ctx, m.ID, []int64{m.Options[0].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.Fee)
	assert.Equal(t, int64(950), res.PayoutPool)
	assert.Equal(t, int64(600), res.WinnerStake)
	assert.Equal(t, 2, res.WinnerCount)
	assert.Equal(t, 1, res.LoserCount)
	assert.Equal(t, int64(950), res.TotalPayout)

	assert.Equal(t, int64(475), f.balance(t, alice))
	assert.Equal(t, int64(475), f.balance(t, bob))
	assert.Equal(t, int64(0), f.balance(t, carol))

	bets, err := f.prediction.UserBets(ctx, alice, 0)
	require.NoError(t, err)
	require.Len(t, bets, 1)
	assert.Equal(t, prediction.BetWon, bets[0].Status)
	require.NotNil(t, bets[0].Payout)
	assert.Equal(t, int64(475), *bets[0].Payout)
	assert.Equal(t, prediction.StatusSettled, bets[0].MarketStatus)

	bets, err = f.prediction.UserBets(ctx, carol, 0)
	require.NoError(t, err)
	assert.Equal(t, prediction.BetLost, bets[0].Status)

	for _, u := range []int64{alice, bob, carol} {
		_, _, ok, err := f.economy.Reconcile(ctx, u)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestSettle_Twice(t *testing.T) {
	f := newFixture(t)
	f.quietTasks(t)
	ctx := context.Background()

	const user = int64(911)
	f.fund(t, user, 100)
	m := f.openMarket(t, prediction.MarketInput{})
	f.bet(t, user, m, 0, 100)
	_, err := f.prediction.Close(ctx, m.ID)
	require.NoError(t, err)

	_, err = f.prediction.Settle(ctx, m.ID, []int64{m.Options[0].ID})
	require.NoError(t, err)
	paid := f.balance(t, user)
	assert.Equal(t, int64(95), paid)

	_, err = f.prediction.Settle(ctx, m.ID, []int64{m.Options[0].ID})
	assert.ErrorIs(t, err, common.ErrMarketStateConflict)
	assert.Equal(t, paid, f.balance(t, user))

	_, err = f.prediction.Cancel(ctx, m.ID)
	assert.ErrorIs(t, err, common.ErrMarketStateConflict)
}

func TestSettle_RequiresClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.openMarket(t, prediction.MarketInput{})

	_, err := f.prediction.Settle(ctx, m.ID, []int64{m.Options[0].ID})
	assert.ErrorIs(t, err, common.ErrMarketStateConflict)

	_, err = f.prediction.Close(ctx, m.ID)
	require.NoError(t, err)
	_, err = f.prediction.Settle(ctx, m.ID, []int64{m.Options[0].ID + 1000})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestCancel_RefundsEveryBet(t *testing.T) {
	f := newFixture(t)
	f.quietTasks(t)
	ctx := context.Background()

	const u1, u2 = int64(921), int64(922)
	f.fund(t, u1, 200)
	f.fund(t, u2, 200)
	m := f.openMarket(t, prediction.MarketInput{})
	f.bet(t, u1, m, 0, 50)
	f.bet(t, u1, m, 1, 70)
	f.bet(t, u2, m, 1, 200)

	res, err := f.prediction.Cancel(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.RefundCount)
	assert.Equal(t, int64(320), res.RefundTotal)

	assert.Equal(t, int64(200), f.balance(t, u1))
	assert.Equal(t, int64(200), f.balance(t, u2))

	bets, err := f.prediction.UserBets(ctx, u1, 10)
	require.NoError(t, err)
	for _, b := range bets {
		assert.Equal(t, prediction.BetRefunded, b.Status)
		require.NotNil(t, b.Payout)
		assert.Equal(t, b.Stake, *b.Payout)
	}
}

func TestCancel_FromDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.prediction.CreateMarket(ctx, prediction.MarketInput{Title: "Черновик", Options: []string{"Да", "Нет"}})
	require.NoError(t, err)

	res, err := f.prediction.Cancel(ctx, m.ID)
	require.NoError(t, err)
	assert.Zero(t, res.RefundCount)

	_, err = f.prediction.Open(ctx, m.ID)
	assert.ErrorIs(t, err, common.ErrMarketStateConflict)
}

func TestPlaceBet_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const user = int64(931)
	f.fund(t, user, 1000)
	m := f.openMarket(t, prediction.MarketInput{MaxBet: ptr(int64(200))})

	_, err := f.prediction.PlaceBet(ctx, user, prediction.BetRequest{MarketID: m.ID, OptionID: m.Options[0].ID, Stake: 5})
	assert.ErrorIs(t, err, common.ErrStakeOutOfRange)

	_, err = f.prediction.PlaceBet(ctx, user, prediction.BetRequest{MarketID: m.ID, OptionID: m.Options[0].ID, Stake: 201})
	assert.ErrorIs(t, err, common.ErrStakeOutOfRange)

	_, err = f.prediction.PlaceBet(ctx, user, prediction.BetRequest{MarketID: m.ID, OptionID: -1, Stake: 50})
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = f.prediction.Close(ctx, m.ID)
	require.NoError(t, err)
	_, err = f.prediction.PlaceBet(ctx, user, prediction.BetRequest{MarketID: m.ID, OptionID: m.Options[0].ID, Stake: 50})
	assert.ErrorIs(t, err, common.ErrMarketNotOpen)

	assert.Equal(t, int64(1000), f.balance(t, user))
}

func TestPlaceBet_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const user = int64(932)
	f.fund(t, user, 50)
	m := f.openMarket(t, prediction.MarketInput{})

	_, err := f.prediction.PlaceBet(ctx, user, prediction.BetRequest{MarketID: m.ID, OptionID: m.Options[0].ID, Stake: 100})
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)
	assert.Equal(t, int64(50), f.balance(t, user))

	stats, err := f.prediction.Stats(ctx, m.ID)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalPool)
	assert.Zero(t, stats.BetCount)
}

func TestPlaceBet_DuplicateAndTaskEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const user = int64(933)
	f.fund(t, user, 100)
	m := f.openMarket(t, prediction.MarketInput{})

	req := prediction.BetRequest{MarketID: m.ID, OptionID: m.Options[1].ID, Stake: 40, RequestID: "bet-req-1"}
	first, err := f.prediction.PlaceBet(ctx, user, req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	again, err := f.prediction.PlaceBet(ctx, user, req)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.ID, again.ID)

	_, err = f.prediction.PlaceBet(ctx, user+1, req)
	assert.ErrorIs(t, err, common.ErrDuplicateRequest)

	// 100 − 40 + 20 за ежедневное задание «Сделать прогноз»
	assert.Equal(t, int64(80), f.balance(t, user))

	got, err := f.prediction.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.TotalPool)
	assert.Equal(t, int64(40), got.Options[1].TotalStake)
}

func TestCloseExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	expired := f.openMarket(t, prediction.MarketInput{ClosesAt: &past})
	live := f.openMarket(t, prediction.MarketInput{})

	n, err := f.prediction.CloseExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.prediction.GetMarket(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, prediction.StatusClosed, got.Status)

	got, err = f.prediction.GetMarket(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, prediction.StatusOpen, got.Status)
}

func TestOpen_NeedsTwoOptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.prediction.CreateMarket(ctx, prediction.MarketInput{Title: "Один вариант", Options: []string{"Да"}})
	require.NoError(t, err)
	_, err = f.prediction.Open(ctx, m.ID)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = f.prediction.AddOption(ctx, m.ID, "Нет")
	require.NoError(t, err)
	opened, err := f.prediction.Open(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, prediction.StatusOpen, opened.Status)
}

func ptr[T any](v T) *T { return &v }

func TestSettleAndCancel_Concurrent(t *testing.T) {
	f := newFixture(t)
	f.quietTasks(t)
	ctx := context.Background()

	const u1, u2 = int64(941), int64(942)
	f.fund(t, u1, 100)
	f.fund(t, u2, 100)
	m := f.openMarket(t, prediction.MarketInput{})
	f.bet(t, u1, m, 0, 100)
	f.bet(t, u2, m, 1, 100)
	_, err := f.prediction.Close(ctx, m.ID)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		settleEr error
		cancelEr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		_, settleEr = f.prediction.Settle(ctx, m.ID, []int64{m.Options[0].ID})
	}()
	go func() {
		defer wg.Done()
		<-start
		_, cancelEr = f.prediction.Cancel(ctx, m.ID)
	}()
	close(start)
	wg.Wait()

	// Ровно один переход выигрывает, второй получает конфликт состояния
	if settleEr == nil {
		assert.ErrorIs(t, cancelEr, common.ErrMarketStateConflict)
	} else {
		assert.ErrorIs(t, settleEr, common.ErrMarketStateConflict)
		assert.NoError(t, cancelEr)
	}

	market, err := f.prediction.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, market.Status.Terminal())

	var returned int64
	for _, u := range []int64{u1, u2} {
		entries, _, err := f.economy.History(ctx, u, 50, 0)
		require.NoError(t, err)
		rows := 0
		for _, e := range entries {
			if e.Reason == economy.ReasonBetPayout || e.Reason == economy.ReasonBetRefund {
				rows++
				returned += e.Amount
			}
		}
		assert.LessOrEqual(t, rows, 1, "пользователь %d: больше одной выплаты по ставке", u)
		if settleEr != nil {
			assert.Equal(t, 1, rows, "при отмене каждая ставка возвращается")
		}

		_, _, ok, err := f.economy.Reconcile(ctx, u)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	if settleEr == nil {
		assert.Equal(t, int64(190), returned)
		assert.Equal(t, int64(190), f.balance(t, u1))
	} else {
		assert.Equal(t, int64(200), returned)
		assert.Equal(t, int64(100), f.balance(t, u1))
		assert.Equal(t, int64(100), f.balance(t, u2))
	}
}
