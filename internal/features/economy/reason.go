package economy

// Reason — причина операции в леджере.
type Reason string

const (
	ReasonRegistrationBonus Reason = "registration_bonus"
	ReasonSigninDaily       Reason = "signin_daily"
	ReasonSigninStreakBonus Reason = "signin_streak_bonus"
	ReasonCheerGive         Reason = "cheer_give"
	ReasonCheerReceive      Reason = "cheer_receive"
	ReasonLotterySpend      Reason = "lottery_spend"
	ReasonLotteryWin        Reason = "lottery_win"
	ReasonBetStake          Reason = "bet_stake"
	ReasonBetPayout         Reason = "bet_payout"
	ReasonBetRefund         Reason = "bet_refund"
	ReasonAdminGrant        Reason = "admin_grant"
	ReasonAdminDeduct       Reason = "admin_deduct"
	ReasonAchievementClaim  Reason = "achievement_claim"
	ReasonEasterEggRedeem   Reason = "easter_egg_redeem"
	ReasonGachaSpend        Reason = "gacha_spend"
	ReasonGachaWin          Reason = "gacha_win"
	ReasonExchangeSpend     Reason = "exchange_spend"
	ReasonTaskReward        Reason = "task_reward"
	ReasonTaskChainBonus    Reason = "task_chain_bonus"
	ReasonBadgeExchange     Reason = "badge_exchange"
)

// Direction — в какую сторону причина двигает баланс.
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionCredit
	DirectionDebit
)

// Direction возвращает направление причины.
// Новая причина без ветки здесь считается неизвестной и отклоняется леджером.
func (r Reason) Direction() Direction {
	switch r {
	case ReasonRegistrationBonus,
		ReasonSigninDaily,
		ReasonSigninStreakBonus,
		ReasonCheerReceive,
		ReasonLotteryWin,
		ReasonBetPayout,
		ReasonBetRefund,
		ReasonAdminGrant,
		ReasonAchievementClaim,
		ReasonEasterEggRedeem,
		ReasonGachaWin,
		ReasonTaskReward,
		ReasonTaskChainBonus,
		ReasonBadgeExchange:
		return DirectionCredit
	case ReasonCheerGive,
		ReasonLotterySpend,
		ReasonBetStake,
		ReasonAdminDeduct,
		ReasonGachaSpend,
		ReasonExchangeSpend:
		return DirectionDebit
	default:
		return DirectionUnknown
	}
}

// Valid сообщает, известна ли причина.
func (r Reason) Valid() bool {
	return r.Direction() != DirectionUnknown
}

// Title — описание по умолчанию для истории операций.
func (r Reason) Title() string {
	switch r {
	case ReasonRegistrationBonus:
		return "Бонус за регистрацию"
	case ReasonSigninDaily:
		return "Ежедневная отметка"
	case ReasonSigninStreakBonus:
		return "Бонус за серию отметок"
	case ReasonCheerGive:
		return "Поддержка участника"
	case ReasonCheerReceive:
		return "Получена поддержка"
	case ReasonLotterySpend:
		return "Участие в розыгрыше"
	case ReasonLotteryWin:
		return "Выигрыш в розыгрыше"
	case ReasonBetStake:
		return "Ставка на прогноз"
	case ReasonBetPayout:
		return "Выигрыш прогноза"
	case ReasonBetRefund:
		return "Возврат ставки"
	case ReasonAdminGrant:
		return "Начисление администратором"
	case ReasonAdminDeduct:
		return "Списание администратором"
	case ReasonAchievementClaim:
		return "Награда за достижение"
	case ReasonEasterEggRedeem:
		return "Пасхалка"
	case ReasonGachaSpend:
		return "Попытка гачи"
	case ReasonGachaWin:
		return "Приз гачи"
	case ReasonExchangeSpend:
		return "Обмен в магазине"
	case ReasonTaskReward:
		return "Награда за задание"
	case ReasonTaskChainBonus:
		return "Бонус за цепочку заданий"
	case ReasonBadgeExchange:
		return "Обмен значка на баллы"
	default:
		return string(r)
	}
}
