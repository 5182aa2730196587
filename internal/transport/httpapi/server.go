// Package httpapi — тонкий JSON-слой поверх сервисов движка баллов.
// Пользователь приходит в заголовке X-User-ID от шлюза, админские маршруты
// закрыты токеном сессии X-Admin-Token.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/config"
	"serotonyl.ru/points-engine/internal/features/admin"
	"serotonyl.ru/points-engine/internal/features/casino"
	"serotonyl.ru/points-engine/internal/features/cheer"
	"serotonyl.ru/points-engine/internal/features/draw"
	"serotonyl.ru/points-engine/internal/features/economy"
	"serotonyl.ru/points-engine/internal/features/exchange"
	"serotonyl.ru/points-engine/internal/features/inventory"
	"serotonyl.ru/points-engine/internal/features/members"
	"serotonyl.ru/points-engine/internal/features/prediction"
	"serotonyl.ru/points-engine/internal/features/streak"
	"serotonyl.ru/points-engine/internal/features/tasks"
	"serotonyl.ru/points-engine/internal/transport/middleware"
)

// AdminTokenHeader — заголовок с токеном сессии администратора.
const AdminTokenHeader = "X-Admin-Token"

// Pinger — то, что умеет проверить соединение с базой.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services — все сервисы, которые отдаёт HTTP-слой.
type Services struct {
	Members    *members.Service
	Economy    *economy.Service
	Inventory  *inventory.Service
	Draw       *draw.Service
	Slot       *casino.Service
	Prediction *prediction.Service
	Tasks      *tasks.Service
	Streak     *streak.Service
	Exchange   *exchange.Service
	Cheer      *cheer.Service
	Admin      *admin.Service
}

type Server struct {
	cfg     *config.Config
	db      Pinger
	svc     Services
	limiter middleware.Limiter
}

func NewServer(cfg *config.Config, db Pinger, svc Services, limiter middleware.Limiter) *Server {
	return &Server{cfg: cfg, db: db, svc: svc, limiter: limiter}
}

// Router собирает все маршруты.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if origins := s.cfg.CORSOrigins(); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", middleware.UserIDHeader, AdminTokenHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Use(requireUser)
		r.Use(s.checkAccess)
		limited := middleware.RateLimit(s.limiter, middleware.ByUser)

		r.Post("/register", s.register)
		r.Get("/me/balance", s.balance)
		r.Get("/me/history", s.history)
		r.Get("/me/stats", s.stats)
		r.Get("/me/bets", s.userBets)

		r.Get("/inventory", s.inventory)
		r.Post("/inventory/badges/{badgeKey}/exchange", s.exchangeBadge)

		r.Post("/signin", s.signIn)
		r.Get("/signin", s.signinStatus)

		r.With(limited).Post("/cheers", s.giveCheer)
		r.Get("/cheers/leaderboard", s.cheerLeaderboard)
		r.Get("/users/{userID}/cheers", s.userCheers)

		r.Get("/tasks", s.userTasks)
		r.Post("/tasks/{taskID}/claim", s.claimTask)

		r.Group(func(r chi.Router) {
			r.Use(featureGate(s.cfg.FeatureDrawsEnabled))
			r.Get("/draws/{poolKey}/prizes", s.prizes)
			r.Get("/draws/{poolKey}/history", s.drawHistory)
			r.With(limited).Post("/draws/{poolKey}/play", s.play)
			r.With(limited).Post("/draws/{poolKey}/scratch", s.buyScratch)
			r.Post("/scratch/{drawID}/reveal", s.reveal)
		})

		r.Group(func(r chi.Router) {
			r.Use(featureGate(s.cfg.FeatureSlotEnabled))
			r.Get("/slot", s.slotConfig)
			r.Get("/slot/stats", s.slotStats)
			r.Get("/slot/history", s.slotHistory)
			r.With(limited).Post("/slot/spin", s.spin)
		})

		r.Group(func(r chi.Router) {
			r.Use(featureGate(s.cfg.FeaturePredictionEnabled))
			r.Get("/markets", s.listMarkets)
			r.Get("/markets/{marketID}", s.getMarket)
			r.Get("/markets/{marketID}/stats", s.marketStats)
			r.With(limited).Post("/markets/{marketID}/bets", s.placeBet)
		})

		r.Group(func(r chi.Router) {
			r.Use(featureGate(s.cfg.FeatureExchangeEnabled))
			r.Get("/shop/items", s.shopItems)
			r.Post("/shop/exchange", s.exchange)
			r.Get("/shop/history", s.shopHistory)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/login", s.adminLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/logout", s.adminLogout)

			r.Get("/users", s.adminListMembers)
			r.Get("/users/{userID}", s.adminGetMember)
			r.Put("/users/{userID}/ban", s.adminSetBanned)
			r.Post("/users/{userID}/adjust", s.adminAdjust)
			r.Get("/users/{userID}/reconcile", s.adminReconcile)
			r.Get("/reports/daily", s.adminDailyReport)

			r.Post("/markets", s.adminCreateMarket)
			r.Post("/markets/{marketID}/options", s.adminAddOption)
			r.Post("/markets/{marketID}/open", s.adminOpenMarket)
			r.Post("/markets/{marketID}/close", s.adminCloseMarket)
			r.Post("/markets/{marketID}/settle", s.adminSettleMarket)
			r.Post("/markets/{marketID}/cancel", s.adminCancelMarket)

			r.Get("/draws/pools", s.adminListPools)
			r.Post("/draws/pools", s.adminCreatePool)
			r.Put("/draws/pools/{poolKey}/active", s.adminSetPoolActive)
			r.Post("/draws/pools/{poolKey}/prizes", s.adminAddPrize)
			r.Get("/draws/pools/{poolKey}/stats", s.adminPoolStats)
			r.Patch("/draws/prizes/{prizeID}", s.adminUpdatePrize)
			r.Post("/api-keys", s.adminAddAPIKeys)
			r.Post("/users/{userID}/tickets", s.adminGrantTickets)

			r.Get("/slot", s.adminSlotConfig)
			r.Patch("/slot", s.adminUpdateSlot)
			r.Put("/slot/symbols", s.adminReplaceSymbols)
			r.Get("/slot/stats", s.adminSlotStats)

			r.Get("/tasks", s.adminListTasks)
			r.Post("/tasks", s.adminCreateTask)
			r.Patch("/tasks/{taskID}", s.adminUpdateTask)
			r.Delete("/tasks/{taskID}", s.adminDeactivateTask)

			r.Get("/shop/items", s.adminShopItems)
			r.Post("/shop/items", s.adminCreateItem)
			r.Patch("/shop/items/{itemID}", s.adminUpdateItem)

			r.Get("/signin/milestones", s.adminMilestones)
			r.Put("/signin/milestones", s.adminSaveMilestone)
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db_unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// featureGate закрывает группу маршрутов, выключенную флагом.
func featureGate(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				writeError(w, r, common.ErrFeatureDisabled)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
