package economy_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres"
	"serotonyl.ru/points-engine/internal/db/postgres/pgtest"
	"serotonyl.ru/points-engine/internal/features/economy"
)

func newService(t *testing.T) *economy.Service {
	pool := pgtest.NewPool(t)
	return economy.NewService(pool, economy.NewRepository(pool), time.UTC)
}

func assertConsistent(t *testing.T, svc *economy.Service, userID int64) {
	t.Helper()
	cached, ledger, ok, err := svc.Reconcile(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, ok, "кэш %d, леджер %d", cached, ledger)
}

func TestCreditDebit_Consistency(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	const user = int64(1001)

	e, err := svc.Credit(ctx, economy.Mutation{UserID: user, Amount: 300, Reason: economy.ReasonAdminGrant})
	require.NoError(t, err)
	assert.Equal(t, int64(300), e.BalanceAfter)
	assert.NotEmpty(t, e.RequestID)

	e, err = svc.Debit(ctx, economy.Mutation{UserID: user, Amount: 120, Reason: economy.ReasonLotterySpend, RefType: "draw", RefID: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(-120), e.Amount)
	assert.Equal(t, int64(180), e.BalanceAfter)
	require.NotNil(t, e.RefID)
	assert.Equal(t, int64(7), *e.RefID)

	stats, err := svc.GetStats(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(180), stats.Balance.Balance)
	assert.Equal(t, int64(300), stats.TotalEarned)
	assert.Equal(t, int64(120), stats.TotalSpent)
	assert.Equal(t, 2, stats.Entries)

	assertConsistent(t, svc, user)
}

func TestDebit_InsufficientBalance(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	const user = int64(1002)

	_, err := svc.Credit(ctx, economy.Mutation{UserID: user, Amount: 50, Reason: economy.ReasonAdminGrant})
	require.NoError(t, err)

	_, err = svc.Debit(ctx, economy.Mutation{UserID: user, Amount: 100, Reason: economy.ReasonBetStake})
	require.ErrorIs(t, err, common.ErrInsufficientBalance)

	balance, err := svc.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)

	entries, total, err := svc.History(ctx, user, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, entries, 1)
	assertConsistent(t, svc, user)
}

func TestMutation_Validation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, economy.Mutation{UserID: 1, Amount: 0, Reason: economy.ReasonAdminGrant})
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	_, err = svc.Credit(ctx, economy.Mutation{UserID: 1, Amount: 10, Reason: economy.ReasonBetStake})
	assert.ErrorIs(t, err, common.ErrInvalidReason)

	_, err = svc.Debit(ctx, economy.Mutation{UserID: 1, Amount: 10, Reason: economy.Reason("nope")})
	assert.ErrorIs(t, err, common.ErrInvalidReason)
}

func TestCredit_IdempotentSequential(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	const user = int64(1003)

	m := economy.Mutation{UserID: user, Amount: 100, Reason: economy.ReasonTaskReward, RequestID: "X"}
	first, err := svc.Credit(ctx, m)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := svc.Credit(ctx, m)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ID, second.ID)

	balance, err := svc.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestCredit_IdempotentConcurrent(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	const user = int64(1004)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Credit(ctx, economy.Mutation{
				UserID: user, Amount: 100, Reason: economy.ReasonTaskReward, RequestID: "X",
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	entries, total, err := svc.History(ctx, user, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, int64(100), entries[0].Amount)
	assertConsistent(t, svc, user)
}

func TestDebit_ConcurrentSpendNeverNegative(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	const user = int64(1005)

	_, err := svc.Credit(ctx, economy.Mutation{UserID: user, Amount: 500, Reason: economy.ReasonAdminGrant})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Debit(ctx, economy.Mutation{
				UserID: user, Amount: 100, Reason: economy.ReasonLotterySpend,
				RequestID: fmt.Sprintf("spend-%d", i),
			})
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, common.ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("неожиданная ошибка: %v", err)
		}
	}
	assert.Equal(t, 5, ok)
	assert.Equal(t, 5, insufficient)

	balance, err := svc.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
	assertConsistent(t, svc, user)
}

func TestFailedTransaction_LeavesNoTrace(t *testing.T) {
	pool := pgtest.NewPool(t)
	svc := economy.NewService(pool, economy.NewRepository(pool), time.UTC)
	ctx := context.Background()
	const user = int64(1006)

	boom := fmt.Errorf("grant failed")
	err := postgres.WithTx(ctx, pool, func(tx pgx.Tx) error {
		if _, err := svc.CreditTx(ctx, tx, economy.Mutation{UserID: user, Amount: 70, Reason: economy.ReasonLotteryWin}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, total, err := svc.History(ctx, user, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	balance, err := svc.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestRecordZeroSpendAndRegistration(t *testing.T) {
	pool := pgtest.NewPool(t)
	svc := economy.NewService(pool, economy.NewRepository(pool), time.UTC)
	ctx := context.Background()
	const user = int64(1007)

	_, err := svc.GrantRegistrationBonus(ctx, user, 200)
	require.NoError(t, err)
	again, err := svc.GrantRegistrationBonus(ctx, user, 200)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)

	err = postgres.WithTx(ctx, pool, func(tx pgx.Tx) error {
		e, err := svc.RecordZeroSpendTx(ctx, tx, economy.Mutation{UserID: user, Reason: economy.ReasonLotterySpend})
		if err != nil {
			return err
		}
		assert.Equal(t, int64(0), e.Amount)
		assert.Equal(t, int64(200), e.BalanceAfter)
		return nil
	})
	require.NoError(t, err)

	report, err := svc.DailyReport(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Entries)
	assert.Equal(t, int64(200), report.Credited)
	assert.Equal(t, 1, report.ActiveUsers)
	assertConsistent(t, svc, user)
}

func TestCredit_ForeignRequestIDRejected(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	const owner, victim = int64(1011), int64(1012)

	_, err := svc.Credit(ctx, economy.Mutation{
		UserID: owner, Amount: 5, Reason: economy.ReasonTaskReward, RequestID: "signin:1012:2026-10-19",
	})
	require.NoError(t, err)

	_, err = svc.Credit(ctx, economy.Mutation{
		UserID: victim, Amount: 100, Reason: economy.ReasonSigninDaily, RequestID: "signin:1012:2026-10-19",
	})
	assert.ErrorIs(t, err, common.ErrDuplicateRequest)

	// Тот же пользователь, но другая сумма — тоже не повтор
	_, err = svc.Credit(ctx, economy.Mutation{
		UserID: owner, Amount: 6, Reason: economy.ReasonTaskReward, RequestID: "signin:1012:2026-10-19",
	})
	assert.ErrorIs(t, err, common.ErrDuplicateRequest)

	balance, err := svc.GetBalance(ctx, victim)
	require.NoError(t, err)
	assert.Zero(t, balance)
	assertConsistent(t, svc, owner)
}
