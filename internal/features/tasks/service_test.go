package tasks_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres/pgtest"
	"serotonyl.ru/points-engine/internal/features/economy"
	"serotonyl.ru/points-engine/internal/features/tasks"
)

type fixture struct {
	tasks   *tasks.Service
	economy *economy.Service
}

func newFixture(t *testing.T) *fixture {
	pool := pgtest.NewPool(t)
	eco := economy.NewService(pool, economy.NewRepository(pool), time.UTC)
	return &fixture{
		tasks:   tasks.NewService(pool, tasks.NewRepository(pool), eco, time.UTC),
		economy: eco,
	}
}

func ptr[T any](v T) *T { return &v }

// manualTask создаёт дневное задание без автозачисления.
func (f *fixture) manualTask(t *testing.T, taskType tasks.TaskType, target int, reward int64) *tasks.Definition {
	t.Helper()
	def, err := f.tasks.CreateDefinition(context.Background(), tasks.DefinitionInput{
		TaskKey:      ptr(fmt.Sprintf("manual_%s_%d", taskType, target)),
		Name:         ptr("Ручное задание"),
		Schedule:     ptr(tasks.ScheduleDaily),
		TaskType:     ptr(taskType),
		TargetValue:  ptr(target),
		RewardPoints: ptr(reward),
		AutoClaim:    ptr(false),
	})
	require.NoError(t, err)
	return def
}

func TestClaim_RequiresCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const user = int64(501)
	def := f.manualTask(t, tasks.TypeCheer, 3, 40)

	for i := 0; i < 2; i++ {
		_, err := f.tasks.RecordEvent(ctx, tasks.Event{UserID: user, TaskType: tasks.TypeCheer, Delta: 1})
		require.NoError(t, err)
	}
	_, err := f.tasks.Claim(ctx, user, def.ID, "")
	assert.ErrorIs(t, err, common.ErrTaskNotCompleted)

	_, err = f.tasks.RecordEvent(ctx, tasks.Event{UserID: user, TaskType: tasks.TypeCheer, Delta: 1})
	require.NoError(t, err)

	res, err := f.tasks.Claim(ctx, user, def.ID, "")
	require.NoError(t, err)
	assert.False(t, res.AlreadyClaimed)
	assert.Equal(t, int64(40), res.RewardPoints)

	again, err := f.tasks.Claim(ctx, user, def.ID, "")
	require.NoError(t, err)
	assert.True(t, again.AlreadyClaimed)
	assert.Equal(t, int64(40), again.RewardPoints)

	balance, err := f.economy.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)
}

func TestClaim_ConcurrentPaysOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const user = int64(502)
	def := f.manualTask(t, tasks.TypeCheer, 1, 25)

	_, err := f.tasks.RecordEvent(ctx, tasks.Event{UserID: user, TaskType: tasks.TypeCheer, Delta: 1})
	require.NoError(t, err)

	const workers = 5
	var wg sync.WaitGroup
	results := make([]*tasks.ClaimResult, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.tasks.Claim(ctx, user, def.ID, "")
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, int64(25), results[i].RewardPoints)
		if !results[i].AlreadyClaimed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)

	balance, err := f.economy.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(25), balance)
}

func TestClaim_InactiveTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def := f.manualTask(t, tasks.TypeCheer, 1, 10)
	require.NoError(t, f.tasks.Deactivate(ctx, def.ID))

	_, err := f.tasks.Claim(ctx, 503, def.ID, "")
	assert.ErrorIs(t, err, common.ErrTaskInactive)

	_, err = f.tasks.Claim(ctx, 503, 999999, "")
	assert.ErrorIs(t, err, common.ErrTaskInactive)
}

func TestRecordEvent_DedupByEventKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const user = int64(504)

	ev := tasks.Event{UserID: user, TaskType: tasks.TypeLottery, Delta: 1, EventKey: "draw:1", RefType: "draw", RefID: 1}
	first, err := f.tasks.RecordEvent(ctx, ev)
	require.NoError(t, err)
	assert.Positive(t, first.Updated)

	second, err := f.tasks.RecordEvent(ctx, ev)
	require.NoError(t, err)
	assert.Zero(t, second.Updated)
	assert.Equal(t, len(tasks.Schedules), second.Skipped)

	list, err := f.tasks.UserTasks(ctx, user, tasks.ScheduleDaily)
	require.NoError(t, err)
	for _, item := range list.Items {
		if item.Task.TaskKey == "daily_lottery_3" {
			assert.Equal(t, 1, item.Progress.ProgressValue)
			assert.Equal(t, 33, item.Progress.ProgressPercent)
		}
	}
}

func TestRecordEvent_ZeroDeltaIgnored(t *testing.T) {
	f := newFixture(t)
	res, err := f.tasks.RecordEvent(context.Background(), tasks.Event{UserID: 505, TaskType: tasks.TypeSignin})
	require.NoError(t, err)
	assert.Zero(t, res.Updated)
}

func TestRecordEvent_AutoClaimAndChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const user = int64(506)

	record := func(tt tasks.TaskType, key string) {
		_, err := f.tasks.RecordEvent(ctx, tasks.Event{UserID: user, TaskType: tt, Delta: 1, EventKey: key})
		require.NoError(t, err)
	}

	record(tasks.TypeSignin, "signin:1")
	record(tasks.TypeBet, "bet:1")
	record(tasks.TypeLottery, "draw:1")
	record(tasks.TypeLottery, "draw:2")

	balance, err := f.economy.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(20+20), balance, "цепочка ещё не закрыта")

	res, err := f.tasks.RecordEvent(ctx, tasks.Event{UserID: user, TaskType: tasks.TypeLottery, Delta: 1, EventKey: "draw:3"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Claimed, "лотерея и цепочка")

	balance, err = f.economy.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(20+20+30+50), balance)

	// Повторное событие после закрытия цепочки бонус не дублирует
	record(tasks.TypeLottery, "draw:4")
	balance, err = f.economy.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(120), balance)

	list, err := f.tasks.UserTasks(ctx, user, tasks.ScheduleDaily)
	require.NoError(t, err)
	assert.Equal(t, 4, list.Stats.Total)
	assert.Equal(t, 4, list.Stats.Claimed)
}

func TestDefinition_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tasks.CreateDefinition(ctx, tasks.DefinitionInput{Name: ptr("без ключа")})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = f.tasks.CreateDefinition(ctx, tasks.DefinitionInput{
		TaskKey:  ptr("broken_chain"),
		Name:     ptr("Цепочка без группы"),
		Schedule: ptr(tasks.ScheduleDaily),
		TaskType: ptr(tasks.TypeChainBonus),
	})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = f.tasks.CreateDefinition(ctx, tasks.DefinitionInput{
		TaskKey:  ptr("daily_signin"),
		Name:     ptr("Дубликат"),
		Schedule: ptr(tasks.ScheduleDaily),
		TaskType: ptr(tasks.TypeSignin),
	})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = f.tasks.UpdateDefinition(ctx, 999999, tasks.DefinitionInput{Name: ptr("нет")})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestRecordEvent_ProgressCappedAtTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const user = int64(511)
	def := f.manualTask(t, tasks.TypeCheer, 3, 40)

	progressOf := func() tasks.ProgressView {
		t.Helper()
		list, err := f.tasks.UserTasks(ctx, user, tasks.ScheduleDaily)
		require.NoError(t, err)
		for _, item := range list.Items {
			if item.Task.ID == def.ID {
				return item.Progress
			}
		}
		t.Fatalf("задание %d не найдено", def.ID)
		return tasks.ProgressView{}
	}

	for i := 1; i <= 3; i++ {
		_, err := f.tasks.RecordEvent(ctx, tasks.Event{
			UserID: user, TaskType: tasks.TypeCheer, Delta: 1, EventKey: fmt.Sprintf("cheer:%d", i),
		})
		require.NoError(t, err)
	}
	done := progressOf()
	assert.Equal(t, 3, done.ProgressValue)
	assert.True(t, done.IsCompleted)
	require.NotNil(t, done.CompletedAt)

	_, err := f.tasks.RecordEvent(ctx, tasks.Event{
		UserID: user, TaskType: tasks.TypeCheer, Delta: 1, EventKey: "cheer:4",
	})
	require.NoError(t, err)

	after := progressOf()
	assert.Equal(t, 3, after.ProgressValue)
	assert.Equal(t, 100, after.ProgressPercent)
	require.NotNil(t, after.CompletedAt)
	assert.True(t, done.CompletedAt.Equal(*after.CompletedAt), "completed_at не должен сдвигаться")
}

func TestClaim_LedgerKeyIgnoresClientRequestID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const user, other = int64(512), int64(513)
	def := f.manualTask(t, tasks.TypeCheer, 1, 5)

	_, err := f.tasks.RecordEvent(ctx, tasks.Event{UserID: user, TaskType: tasks.TypeCheer, Delta: 1, EventKey: "cheer:1"})
	require.NoError(t, err)

	foreign := "signin:513:" + time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02")
	_, err = f.tasks.Claim(ctx, user, def.ID, foreign)
	require.NoError(t, err)

	entries, _, err := f.economy.History(ctx, user, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].RequestID, fmt.Sprintf("task:%d:%d:", user, def.ID)), entries[0].RequestID)

	// Чужой ключ не занят: начисление второму пользователю проходит
	entry, err := f.economy.Credit(ctx, economy.Mutation{
		UserID: other, Amount: 100, Reason: economy.ReasonSigninDaily, RequestID: foreign,
	})
	require.NoError(t, err)
	assert.False(t, entry.Duplicate)

	balance, err := f.economy.GetBalance(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}
