// Package middleware содержит промежуточные обработчики HTTP для логирования,
// восстановления после паники и rate-limiting.
package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// UserIDHeader — заголовок, в котором шлюз передаёт id пользователя.
const UserIDHeader = "X-User-ID"

// Logger логирует каждый запрос.
// Записывает: метод, путь (первые 80 символов), статус, пользователя и длительность.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if len(path) > 80 {
			path = path[:80] + "..."
		}

		entry := log.WithFields(log.Fields{
			"method":     r.Method,
			"path":       path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"user_id":    r.Header.Get(UserIDHeader),
			"request_id": chimw.GetReqID(r.Context()),
			"duration":   time.Since(start).String(),
		})
		if ww.Status() >= http.StatusInternalServerError {
			entry.Warn("Запрос завершился ошибкой")
			return
		}
		entry.Debug("Входящий запрос")
	})
}
