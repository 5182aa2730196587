// Package common — errors.go определяет ошибки предметной области,
// которые используются во всех модулях движка.
// Эти ошибки позволяют HTTP-слою различать типы проблем
// и отдавать клиенту понятные сообщения и коды.
package common

import "errors"

// Общие ошибки
var (
	// ErrNotFound — запрошенная сущность не найдена
	ErrNotFound = errors.New("не найдено")
	// ErrInvalidInput — некорректные входные данные
	ErrInvalidInput = errors.New("некорректные данные")
	// ErrFeatureDisabled — модуль выключен флагом
	ErrFeatureDisabled = errors.New("функция временно отключена")
	// ErrDuplicateRequest — request_id уже использован.
	// Снаружи сервисов не всплывает: повтор отдаётся как успех с прежним результатом.
	ErrDuplicateRequest = errors.New("запрос уже обработан")
)

// Ошибки экономики (баллы, леджер)
var (
	// ErrInsufficientBalance — недостаточно баллов на счёте
	ErrInsufficientBalance = errors.New("недостаточно баллов на счёте")
	// ErrInvalidAmount — некорректная сумма (ноль или отрицательная)
	ErrInvalidAmount = errors.New("сумма должна быть положительной")
	// ErrInvalidReason — неизвестная причина операции
	ErrInvalidReason = errors.New("неизвестная причина операции")
	// ErrAlreadySignedIn — отметка за сегодня уже есть
	ErrAlreadySignedIn = errors.New("сегодня вы уже отмечались")
)

// Ошибки розыгрышей
var (
	// ErrConfiguration — пул призов пуст или все веса нулевые.
	// Это ошибка настройки, а не пользователя.
	ErrConfiguration = errors.New("ошибка конфигурации пула призов")
	// ErrDrawInactive — розыгрыш выключен или вне окна проведения
	ErrDrawInactive = errors.New("розыгрыш сейчас недоступен")
	// ErrDailyLimit — исчерпан дневной лимит попыток
	ErrDailyLimit = errors.New("лимит попыток на сегодня исчерпан")
	// ErrOutOfStock — товар или приз закончился
	ErrOutOfStock = errors.New("товар закончился")
	// ErrPurchaseLimit — превышен лимит покупок
	ErrPurchaseLimit = errors.New("превышен лимит покупок")
	// ErrNoTickets — билетов нужного типа нет
	ErrNoTickets = errors.New("билетов не осталось")
	// ErrAlreadyRevealed — скретч-карта уже открыта
	ErrAlreadyRevealed = errors.New("карта уже открыта")
)

// Ошибки инвентаря
var (
	// ErrBadgeNotOwned — значка нет у пользователя
	ErrBadgeNotOwned = errors.New("у вас нет такого значка")
	// ErrBadgeExchanged — значок уже обменян на баллы
	ErrBadgeExchanged = errors.New("значок уже обменян")
	// ErrNoItems — предметов нужного типа нет
	ErrNoItems = errors.New("предметов не осталось")
)

// Ошибки поддержки участников
var (
	// ErrSelfCheer — нельзя поддержать самого себя
	ErrSelfCheer = errors.New("нельзя поддержать самого себя")
)

// Ошибки рынков прогнозов
var (
	// ErrMarketNotOpen — рынок не принимает ставки
	ErrMarketNotOpen = errors.New("рынок не принимает ставки")
	// ErrStakeOutOfRange — ставка вне диапазона min_bet..max_bet
	ErrStakeOutOfRange = errors.New("ставка вне допустимого диапазона")
	// ErrMarketStateConflict — статус рынка уже изменился.
	// Вызывающий должен перечитать состояние, а не повторять переход.
	ErrMarketStateConflict = errors.New("статус рынка уже изменён")
)

// Ошибки заданий
var (
	// ErrTaskNotCompleted — задание не выполнено в текущем периоде
	ErrTaskNotCompleted = errors.New("задание не выполнено, награду забрать нельзя")
	// ErrTaskInactive — задание не существует или выключено
	ErrTaskInactive = errors.New("задание не существует или не активно")
)

// Ошибки участников
var (
	// ErrUserBanned — пользователь заблокирован
	ErrUserBanned = errors.New("пользователь заблокирован")
)

// Ошибки админки
var (
	// ErrNotAdmin — нет прав администратора
	ErrNotAdmin = errors.New("у вас нет прав администратора")
	// ErrTooManyAttempts — слишком много неудачных попыток входа
	ErrTooManyAttempts = errors.New("слишком много попыток, подождите 1 час")
)
