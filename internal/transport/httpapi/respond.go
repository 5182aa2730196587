package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/points-engine/internal/common"
)

// errUnauthenticated — запрос пришёл без X-User-ID.
var errUnauthenticated = errors.New("пользователь не указан")

// statusFor сопоставляет ошибку предметной области с HTTP-статусом.
// Неизвестная ошибка считается внутренней.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnauthenticated), errors.Is(err, common.ErrNotAdmin):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrUserBanned):
		return http.StatusForbidden
	case errors.Is(err, common.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, common.ErrFeatureDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, common.ErrNotFound),
		errors.Is(err, common.ErrTaskInactive),
		errors.Is(err, common.ErrBadgeNotOwned):
		return http.StatusNotFound
	case errors.Is(err, common.ErrInvalidInput),
		errors.Is(err, common.ErrInvalidAmount),
		errors.Is(err, common.ErrInvalidReason),
		errors.Is(err, common.ErrStakeOutOfRange),
		errors.Is(err, common.ErrSelfCheer):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrMarketStateConflict),
		errors.Is(err, common.ErrMarketNotOpen),
		errors.Is(err, common.ErrDrawInactive),
		errors.Is(err, common.ErrDuplicateRequest),
		errors.Is(err, common.ErrAlreadySignedIn),
		errors.Is(err, common.ErrAlreadyRevealed),
		errors.Is(err, common.ErrBadgeExchanged):
		return http.StatusConflict
	case errors.Is(err, common.ErrInsufficientBalance),
		errors.Is(err, common.ErrDailyLimit),
		errors.Is(err, common.ErrOutOfStock),
		errors.Is(err, common.ErrPurchaseLimit),
		errors.Is(err, common.ErrNoTickets),
		errors.Is(err, common.ErrNoItems),
		errors.Is(err, common.ErrTaskNotCompleted):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Не удалось записать ответ")
	}
}

// writeError отдаёт ошибку клиенту. Текст внутренних ошибок наружу не уходит,
// ошибка конфигурации пула дополнительно пишется в лог как ошибка.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()

	if status == http.StatusInternalServerError {
		entry := log.WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		})
		if errors.Is(err, common.ErrConfiguration) {
			entry.Error("Ошибка конфигурации")
		} else {
			entry.Error("Ошибка обработки запроса")
		}
		msg = "внутренняя ошибка"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON читает тело запроса в dst. Пустое тело допустимо.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", common.ErrInvalidInput, err)
	}
	return nil
}

func pathInt(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: некорректный %s", common.ErrInvalidInput, name)
	}
	return v, nil
}

// queryInt возвращает целый параметр строки запроса или def, если его нет.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: некорректный %s", common.ErrInvalidInput, name)
	}
	return v, nil
}
