package members_test

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
	"serotonyl.ru/points-engine/internal/features/members"
)

func newServices(t *testing.T, bonus int64) (*members.Service, *economy.Service) {
	pool := pgtest.NewPool(t)
	eco := economy.NewService(pool, economy.NewRepository(pool), time.UTC)
	return members.NewService(pool, members.NewRepository(pool), eco, bonus), eco
}

func TestRegister_BonusOnce(t *testing.T) {
	svc, eco := newServices(t, 200)
	ctx := context.Background()

	reg, err := svc.Register(ctx, 5, "  Алиса  ")
	require.NoError(t, err)
	assert.True(t, reg.Created)
	assert.Equal(t, int64(200), reg.Bonus)
	assert.Equal(t, "Алиса", reg.DisplayName)

	reg, err = svc.Register(ctx, 5, "Другое имя")
	require.NoError(t, err)
	assert.False(t, reg.Created)
	assert.Zero(t, reg.Bonus)
	assert.Equal(t, "Алиса", reg.DisplayName, "имя при повторе не меняется")

	balance, err := eco.GetBalance(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(200), balance)
}

func TestRegister_LongNameTrimmed(t *testing.T) {
	svc, _ := newServices(t, 0)
	reg, err := svc.Register(context.Background(), 6, strings.Repeat("я", 100))
	require.NoError(t, err)
	assert.Equal(t, members.MaxDisplayNameLen, len([]rune(reg.DisplayName)))
	assert.Zero(t, reg.Bonus)
}

func TestBan_BlocksAccess(t *testing.T) {
	svc, _ := newServices(t, 0)
	ctx := context.Background()

	require.NoError(t, svc.CheckAccess(ctx, 9), "незарегистрированный не заблокирован")
	assert.ErrorIs(t, svc.SetBanned(ctx, 9, true, "спам"), common.ErrNotFound)

	_, err := svc.Register(ctx, 9, "Боб")
	require.NoError(t, err)
	require.NoError(t, svc.SetBanned(ctx, 9, true, "спам"))

	assert.ErrorIs(t, svc.CheckAccess(ctx, 9), common.ErrUserBanned)
	_, err = svc.Register(ctx, 9, "Боб")
	assert.ErrorIs(t, err, common.ErrUserBanned)

	banned, err := svc.List(ctx, true, 0, 0)
	require.NoError(t, err)
	require.Len(t, banned, 1)
	assert.Equal(t, "спам", *banned[0].BanReason)

	require.NoError(t, svc.SetBanned(ctx, 9, false, ""))
	assert.NoError(t, svc.CheckAccess(ctx, 9))

	m, err := svc.Get(ctx, 9)
	require.NoError(t, err)
	assert.Nil(t, m.BanReason)
}
