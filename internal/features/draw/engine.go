package draw

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"serotonyl.ru/points-engine/internal/common"
)

// Weighted — то, что можно разыграть.
// DrawWeight возвращает вес в целых единицах; Available — можно ли выпасть сейчас.
type Weighted interface {
	DrawWeight() int64
	Available() bool
}

// Source выдаёт равномерное число из [0, n).
// *rand.Rand из math/rand/v2 подходит для тестов.
type Source interface {
	Int64N(n int64) int64
}

// CryptoSource — источник на crypto/rand для боевых розыгрышей.
type CryptoSource struct{}

// Int64N возвращает равномерное число из [0, n).
func (CryptoSource) Int64N(n int64) int64 {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		// crypto/rand на поддерживаемых платформах не возвращает ошибок
		panic(fmt.Sprintf("draw: crypto/rand: %v", err))
	}
	return v.Int64()
}

// Pick выбирает индекс элемента пропорционально весу.
// Учитываются только доступные элементы с положительным весом;
// если таких нет — common.ErrConfiguration.
//
// Один проход по накопленным весам: выпадает первый элемент,
// чей накопленный вес больше r.
func Pick[T Weighted](items []T, src Source) (int, error) {
	var total int64
	for _, it := range items {
		if it.Available() && it.DrawWeight() > 0 {
			total += it.DrawWeight()
		}
	}
	if total <= 0 {
		return -1, fmt.Errorf("%w: нет доступных призов", common.ErrConfiguration)
	}

	r := src.Int64N(total)
	var cumulative int64
	for i, it := range items {
		if !it.Available() || it.DrawWeight() <= 0 {
			continue
		}
		cumulative += it.DrawWeight()
		if r < cumulative {
			return i, nil
		}
	}
	// недостижимо при корректном Source
	return -1, fmt.Errorf("%w: выход за пределы суммы весов", common.ErrConfiguration)
}
