package streak

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres/pgtest"
	"serotonyl.ru/points-engine/internal/features/economy"
	"serotonyl.ru/points-engine/internal/features/tasks"
)

func newTestService(t *testing.T) (*Service, *economy.Service) {
	pool := pgtest.NewPool(t)
	eco := economy.NewService(pool, economy.NewRepository(pool), time.UTC)
	tsk := tasks.NewService(pool, tasks.NewRepository(pool), eco, time.UTC)

	// Задания живут по реальным часам, а отметки здесь по подменённым:
	// выключаем задания, чтобы их награды не смешивались с баллами отметок
	defs, err := tsk.ListDefinitions(context.Background(), "", true)
	require.NoError(t, err)
	for _, d := range defs {
		require.NoError(t, tsk.Deactivate(context.Background(), d.ID))
	}
	return NewService(pool, NewRepository(pool), eco, tsk, 100, time.UTC), eco
}

func at(s *Service, date string) {
	d := day(date).Add(12 * time.Hour)
	s.now = func() time.Time { return d }
}

func TestSignIn_OncePerDay(t *testing.T) {
	s, eco := newTestService(t)
	ctx := context.Background()
	const user = int64(1001)
	at(s, "2026-03-02")

	res, err := s.SignIn(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, res.StreakDay)
	assert.Equal(t, int64(100), res.BasePoints)
	assert.False(t, res.IsMilestone)
	assert.Equal(t, int64(100), res.Balance)

	_, err = s.SignIn(ctx, user)
	assert.ErrorIs(t, err, common.ErrAlreadySignedIn)

	balance, err := eco.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestSignIn_MilestoneOnThirdDay(t *testing.T) {
	s, eco := newTestService(t)
	ctx := context.Background()
	const user = int64(1002)

	for i, date := range []string{"2026-03-02", "2026-03-03", "2026-03-04"} {
		at(s, date)
		res, err := s.SignIn(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, i+1, res.StreakDay)
	}

	balance, err := eco.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(3*100+50), balance)

	st, err := s.Status(ctx, user)
	require.NoError(t, err)
	assert.True(t, st.SignedToday)
	assert.Equal(t, 3, st.Streak)
	assert.Equal(t, 3, st.StreakDisplay)
	assert.Equal(t, []string{"2026-03-04", "2026-03-03", "2026-03-02"}, st.MonthlySignins)
	require.NotNil(t, st.NextMilestone)
	assert.Equal(t, 7, st.NextMilestone.Day)
	assert.Equal(t, 4, st.DaysToMilestone)

	_, _, ok, err := eco.Reconcile(ctx, user)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignIn_GapResetsStreak(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	const user = int64(1003)

	at(s, "2026-03-02")
	_, err := s.SignIn(ctx, user)
	require.NoError(t, err)

	at(s, "2026-03-04")
	st, err := s.Status(ctx, user)
	require.NoError(t, err)
	assert.False(t, st.SignedToday)
	assert.Zero(t, st.Streak)
	assert.Equal(t, 1, st.StreakDisplay)

	res, err := s.SignIn(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, res.StreakDay)
}

func TestSaveMilestone(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.SaveMilestone(ctx, &Milestone{Day: 2, BonusPoints: 25, Description: "Два дня", IsActive: true}))
	assert.ErrorIs(t, s.SaveMilestone(ctx, &Milestone{Day: 0, BonusPoints: 25}), common.ErrInvalidInput)

	ms, err := s.Milestones(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Equal(t, 2, ms[0].Day)
	assert.Equal(t, int64(25), ms[0].BonusPoints)
}
