package prediction

import (
	"github.com/shopspring/decimal"
)

// Outcome — решение по одной ставке.
type Outcome struct {
	BetID  int64
	Won    bool
	Payout int64
}

// Plan — расчёт выплат по рынку.
type Plan struct {
	Fee         int64
	PayoutPool  int64
	WinnerStake int64
	Outcomes    []Outcome
}

// TotalPayout — сумма всех выплат плана.
func (p *Plan) TotalPayout() int64 {
	var sum int64
	for _, o := range p.Outcomes {
		sum += o.Payout
	}
	return sum
}

// PlanSettlement распределяет пул между ставками на выигравшие варианты.
//
//	fee          = floor(pool · feeRate)
//	payout_pool  = pool − fee
//	payout(bet)  = floor(payout_pool · stake / winner_stake)
//
// Если на выигравшие варианты никто не ставил, выплат нет и все ставки проиграны.
// Округление вниз гарантирует Σ payout ≤ payout_pool.
func PlanSettlement(pool int64, feeRate decimal.Decimal, bets []*Bet, winners map[int64]bool) *Plan {
	feeRate = clampRate(feeRate)
	fee := decimal.NewFromInt(pool).Mul(feeRate).Floor().IntPart()
	plan := &Plan{Fee: fee, PayoutPool: pool - fee, Outcomes: make([]Outcome, 0, len(bets))}

	for _, b := range bets {
		if winners[b.OptionID] {
			plan.WinnerStake += b.Stake
		}
	}

	payoutPool := decimal.NewFromInt(plan.PayoutPool)
	winnerStake := decimal.NewFromInt(plan.WinnerStake)
	for _, b := range bets {
		o := Outcome{BetID: b.ID}
		if winners[b.OptionID] && plan.WinnerStake > 0 {
			o.Won = true
			o.Payout = payoutPool.Mul(decimal.NewFromInt(b.Stake)).Div(winnerStake).Floor().IntPart()
		}
		plan.Outcomes = append(plan.Outcomes, o)
	}
	return plan
}

// Odds — коэффициент варианта: pool / option_stake · (1 − fee), два знака.
// Для варианта без ставок коэффициента нет.
func Odds(pool, optionStake int64, feeRate decimal.Decimal) decimal.NullDecimal {
	if pool <= 0 || optionStake <= 0 {
		return decimal.NullDecimal{}
	}
	odds := decimal.NewFromInt(pool).
		Mul(decimal.NewFromInt(1).Sub(clampRate(feeRate))).
		DivRound(decimal.NewFromInt(optionStake), 2)
	return decimal.NewNullDecimal(odds)
}

func clampRate(r decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	switch {
	case r.IsNegative():
		return decimal.Zero
	case r.GreaterThan(one):
		return one
	default:
		return r
	}
}
