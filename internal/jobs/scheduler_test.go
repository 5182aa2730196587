package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/points-engine/internal/db/postgres/pgtest"
	"serotonyl.ru/points-engine/internal/features/admin"
	"serotonyl.ru/points-engine/internal/features/economy"
	"serotonyl.ru/points-engine/internal/features/prediction"
	"serotonyl.ru/points-engine/internal/features/streak"
	"serotonyl.ru/points-engine/internal/features/tasks"
)

func TestStart_RejectsBadSpec(t *testing.T) {
	s := NewScheduler(Specs{
		CloseMarkets: "каждую минуту",
		PruneEvents:  "30 3 * * *",
		DailyReport:  "5 0 * * *",
	}, time.UTC, 14, nil, nil, nil, nil, nil)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "каждую минуту")
}

func TestJobs_RunAgainstDatabase(t *testing.T) {
	pool := pgtest.NewPool(t)
	ctx := context.Background()

	eco := economy.NewService(pool, economy.NewRepository(pool), time.UTC)
	tsk := tasks.NewService(pool, tasks.NewRepository(pool), eco, time.UTC)
	markets := prediction.NewService(pool, prediction.NewRepository(pool), eco, tsk, decimal.RequireFromString("0.05"), 10)
	adm := admin.NewService(admin.NewRepository(pool), eco, "$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA", 3)
	str := streak.NewService(pool, streak.NewRepository(pool), eco, tsk, 100, time.UTC)

	s := NewScheduler(Specs{}, time.UTC, 14, markets, tsk, adm, eco, str)

	past := time.Now().Add(-time.Minute)
	m, err := markets.CreateMarket(ctx, prediction.MarketInput{
		Title:    "Просроченный рынок",
		Options:  []string{"Да", "Нет"},
		ClosesAt: &past,
	})
	require.NoError(t, err)
	_, err = markets.Open(ctx, m.ID)
	require.NoError(t, err)

	s.closeMarkets(ctx)

	got, err := markets.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, prediction.StatusClosed, got.Status)

	_, err = eco.Credit(ctx, economy.Mutation{UserID: 1, Amount: 50, Reason: economy.ReasonAdminGrant})
	require.NoError(t, err)
	s.now = func() time.Time { return time.Now().AddDate(0, 0, 1) }

	assert.NotPanics(t, func() { s.dailyReport(ctx) })
	assert.NotPanics(t, func() { s.prune(ctx) })
}
