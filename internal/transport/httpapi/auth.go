package httpapi

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/features/admin"
	"serotonyl.ru/points-engine/internal/transport/middleware"
)

type ctxKey int

const (
	userKey ctxKey = iota
	sessionKey
)

// requireUser достаёт id пользователя из X-User-ID и кладёт его в контекст.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(middleware.UserIDHeader)
		if raw == "" {
			writeError(w, r, errUnauthenticated)
			return
		}
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			writeError(w, r, errUnauthenticated)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, userID)))
	})
}

// checkAccess отсекает заблокированных пользователей.
func (s *Server) checkAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.svc.Members.CheckAccess(r.Context(), userFrom(r.Context())); err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(userKey).(int64)
	return id
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(AdminTokenHeader)
		if token == "" {
			writeError(w, r, common.ErrNotAdmin)
			return
		}
		session, err := s.svc.Admin.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, session)))
	})
}

func sessionFrom(ctx context.Context) *admin.Session {
	session, _ := ctx.Value(sessionKey).(*admin.Session)
	return session
}

// clientAddr — адрес клиента без порта. RealIP уже подставил X-Forwarded-For.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
