package draw

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/points-engine/internal/common"
)

func prize(id int64, weight string, stock *int) *Prize {
	return &Prize{ID: id, Name: "p", Kind: KindPoints, Weight: decimal.RequireFromString(weight), Stock: stock, Enabled: true}
}

func intPtr(v int) *int { return &v }

// fixedSource всегда возвращает одно и то же число.
type fixedSource int64

func (f fixedSource) Int64N(n int64) int64 { return int64(f) % n }

func TestPick_EmptyPool(t *testing.T) {
	_, err := Pick([]*Prize{}, CryptoSource{})
	assert.ErrorIs(t, err, common.ErrConfiguration)

	_, err = Pick([]*Prize{prize(1, "0", nil), prize(2, "5", intPtr(0))}, CryptoSource{})
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func TestPick_CumulativeBoundaries(t *testing.T) {
	// веса 1.5 и 0.5 в единицах: 15000 и 5000
	items := []*Prize{prize(1, "1.5", nil), prize(2, "0.5", nil)}

	idx, err := Pick(items, fixedSource(0))
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	idx, err = Pick(items, fixedSource(14999))
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	idx, err = Pick(items, fixedSource(15000))
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestPick_SkipsUnavailable(t *testing.T) {
	disabled := prize(1, "100", nil)
	disabled.Enabled = false
	items := []*Prize{disabled, prize(2, "1", intPtr(0)), prize(3, "1", nil)}

	for i := 0; i < 100; i++ {
		idx, err := Pick(items, CryptoSource{})
		require.NoError(t, err)
		assert.Equal(t, 2, idx)
	}
}

func TestPick_StockConservationAndFrequencies(t *testing.T) {
	const draws = 100_000
	src := rand.New(rand.NewPCG(1, 2))

	items := []*Prize{
		prize(1, "50", nil),
		prize(2, "30", nil),
		prize(3, "19.5", nil),
		prize(4, "0.5", intPtr(10)),
	}
	counts := make([]int, len(items))
	for i := 0; i < draws; i++ {
		idx, err := Pick(items, src)
		require.NoError(t, err)
		counts[idx]++
		if s := items[idx].Stock; s != nil {
			*s--
		}
	}

	assert.LessOrEqual(t, counts[3], 10)
	assert.Equal(t, 0, *items[3].Stock)

	unlimited := draws - counts[3]
	expect := []float64{50.0 / 99.5, 30.0 / 99.5, 19.5 / 99.5}
	for i, want := range expect {
		got := float64(counts[i]) / float64(unlimited)
		assert.InDelta(t, want, got, 0.01, "приз %d", i)
	}
}

func TestCryptoSource_Range(t *testing.T) {
	var src CryptoSource
	for i := 0; i < 1000; i++ {
		v := src.Int64N(7)
		assert.GreaterOrEqual(t, v, int64(0))
		assert.Less(t, v, int64(7))
	}
	assert.Less(t, src.Int64N(math.MaxInt64), int64(math.MaxInt64))
}

func TestPrizeSubstitutePoints(t *testing.T) {
	gold := "gold"
	assert.Equal(t, int64(200), (&Prize{Kind: KindBadge, BadgeTier: &gold}).SubstitutePoints())
	assert.Equal(t, int64(75), (&Prize{Kind: KindBadge, BadgeTier: &gold, Points: 75}).SubstitutePoints())
	assert.Zero(t, (&Prize{Kind: KindBadge}).SubstitutePoints())
}

func TestModeMappings(t *testing.T) {
	for _, m := range []Mode{ModeLottery, ModeGacha, ModeScratch} {
		assert.True(t, m.Valid())
		assert.True(t, m.SpendReason().Valid())
		assert.True(t, m.WinReason().Valid())
		assert.True(t, m.TicketType().Valid())
		assert.True(t, m.TaskType().Valid())
	}
	assert.False(t, Mode("slot").Valid())
	assert.False(t, PrizeKind("coupon").Valid())
}
