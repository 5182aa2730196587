// Package casino — rtp.go считает выплаты спина и RTP (Return To Player).
package casino

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// twoKindShare — доля спинов с двумя одинаковыми в упрощённой оценке RTP.
var twoKindShare = decimal.RequireFromString("0.1")

// Payout считает выигрыш по трём выпавшим символам.
//
// Три одинаковых — cost × multiplier символа; джекпот, если символ
// совпадает с jackpot_symbol_key или помечен is_jackpot.
// Два одинаковых — floor(cost × two_kind_multiplier).
func Payout(cfg *Config, reels []*Symbol) (WinType, decimal.Decimal, int64, bool) {
	if len(reels) != 3 {
		return WinNone, decimal.Zero, 0, false
	}
	a, b, c := reels[0].SymbolKey, reels[1].SymbolKey, reels[2].SymbolKey

	if a == b && b == c {
		mult := int64(reels[0].Multiplier)
		jackpot := a == cfg.JackpotSymbolKey || reels[0].IsJackpot
		return WinThree, decimal.NewFromInt(mult), cfg.Cost * mult, jackpot
	}
	if a == b || b == c || a == c {
		payout := decimal.NewFromInt(cfg.Cost).Mul(cfg.TwoKindMultiplier).Floor().IntPart()
		return WinTwo, cfg.TwoKindMultiplier, payout, false
	}
	return WinNone, decimal.Zero, 0, false
}

// TheoreticalRTP — оценка RTP в процентах по таблице символов.
//
// Это приближение: вклад трёх одинаковых Σ (w/W)³ · multiplier считается
// точно, а два одинаковых учитываются плоско как 0.1 · two_kind_multiplier.
// Настоящая вероятность пары зависит от весов, поэтому оценка
// ориентировочная.
func TheoreticalRTP(cfg *Config, symbols []*Symbol) decimal.Decimal {
	var total int64
	for _, s := range symbols {
		if s.Available() {
			total += int64(s.Weight)
		}
	}
	if total == 0 {
		return decimal.Zero
	}

	w := decimal.NewFromInt(total)
	rtp := decimal.Zero
	for _, s := range symbols {
		if !s.Available() {
			continue
		}
		p := decimal.NewFromInt(int64(s.Weight)).DivRound(w, 16)
		rtp = rtp.Add(p.Pow(decimal.NewFromInt(3)).Mul(decimal.NewFromInt(int64(s.Multiplier))))
	}
	rtp = rtp.Add(twoKindShare.Mul(cfg.TwoKindMultiplier))
	return rtp.Mul(hundred).Round(2)
}

// CalculateRTP вычисляет фактический RTP.
// RTP = (Всего выиграно / Всего поставлено) × 100%
//
// Если ставок не было — 0.
func CalculateRTP(totalWagered, totalWon int64) decimal.Decimal {
	if totalWagered == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(totalWon).Mul(hundred).DivRound(decimal.NewFromInt(totalWagered), 2)
}

// Rate — доля part от total в процентах, два знака.
func Rate(part, total int64) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(part).Mul(hundred).DivRound(decimal.NewFromInt(total), 2)
}
