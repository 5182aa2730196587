package economy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var allReasons = []Reason{
	ReasonRegistrationBonus, ReasonSigninDaily, ReasonSigninStreakBonus,
	ReasonCheerGive, ReasonCheerReceive, ReasonLotterySpend, ReasonLotteryWin,
	ReasonBetStake, ReasonBetPayout, ReasonBetRefund, ReasonAdminGrant,
	ReasonAdminDeduct, ReasonAchievementClaim, ReasonEasterEggRedeem,
	ReasonGachaSpend, ReasonGachaWin, ReasonExchangeSpend, ReasonTaskReward,
	ReasonTaskChainBonus, ReasonBadgeExchange,
}

func TestReasonDirection(t *testing.T) {
	for _, r := range allReasons {
		assert.True(t, r.Valid(), r)
		assert.NotEqual(t, string(r), r.Title(), "у причины %q нет описания", r)
	}

	assert.Equal(t, DirectionDebit, ReasonBetStake.Direction())
	assert.Equal(t, DirectionCredit, ReasonBetRefund.Direction())
	assert.Equal(t, DirectionCredit, ReasonBadgeExchange.Direction())
	assert.Equal(t, DirectionDebit, ReasonExchangeSpend.Direction())
}

func TestReasonUnknown(t *testing.T) {
	r := Reason("casino_win")
	assert.False(t, r.Valid())
	assert.Equal(t, DirectionUnknown, r.Direction())
	assert.Equal(t, "casino_win", r.Title())
}
