package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// Recoverer ловит панику обработчика и отвечает 500.
// http.ErrAbortHandler пробрасывается дальше: так сервер сам обрывает соединение.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			log.WithFields(log.Fields{
				"component": "panic_recovery",
				"panic":     fmt.Sprintf("%v", rec),
				"path":      r.URL.Path,
				"stack":     string(debug.Stack()),
			}).Error("ПАНИКА в обработчике — восстановлено")

			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"внутренняя ошибка"}`))
		}()
		next.ServeHTTP(w, r)
	})
}
