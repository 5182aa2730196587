package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"serotonyl.ru/points-engine/internal/features/casino"
	"serotonyl.ru/points-engine/internal/features/cheer"
	"serotonyl.ru/points-engine/internal/features/draw"
	"serotonyl.ru/points-engine/internal/features/exchange"
	"serotonyl.ru/points-engine/internal/features/prediction"
	"serotonyl.ru/points-engine/internal/features/tasks"
)

// ---- Баланс ----

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DisplayName string `json:"display_name"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	reg, err := s.svc.Members.Register(r.Context(), userFrom(r.Context()), body.DisplayName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if reg.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, reg)
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())
	balance, err := s.svc.Economy.GetBalance(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"user_id": userID, "balance": balance})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, total, err := s.svc.Economy.History(r.Context(), userFrom(r.Context()), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "total": total})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Economy.GetStats(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ---- Инвентарь ----

func (s *Server) inventory(w http.ResponseWriter, r *http.Request) {
	inv, err := s.svc.Inventory.Get(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) exchangeBadge(w http.ResponseWriter, r *http.Request) {
	entry, err := s.svc.Inventory.ExchangeBadge(r.Context(), userFrom(r.Context()), chi.URLParam(r, "badgeKey"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ---- Отметки ----

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Streak.SignIn(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) signinStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Streak.Status(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ---- Поддержка ----

func (s *Server) giveCheer(w http.ResponseWriter, r *http.Request) {
	var req cheer.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.svc.Cheer.Give(r.Context(), userFrom(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) cheerLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 10)
	if err != nil {
		writeError(w, r, err)
		return
	}
	top, err := s.svc.Cheer.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, top)
}

func (s *Server) userCheers(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := s.svc.Cheer.Stats(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	messages, err := s.svc.Cheer.Messages(r.Context(), userID, 10)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats, "messages": messages})
}

// ---- Задания ----

func (s *Server) userTasks(w http.ResponseWriter, r *http.Request) {
	schedule := tasks.Schedule(r.URL.Query().Get("schedule"))
	if schedule == "" {
		schedule = tasks.ScheduleDaily
	}
	out, err := s.svc.Tasks.UserTasks(r.Context(), userFrom(r.Context()), schedule)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) claimTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := pathInt(r, "taskID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		RequestID string `json:"request_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.svc.Tasks.Claim(r.Context(), userFrom(r.Context()), taskID, body.RequestID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ---- Розыгрыши ----

func (s *Server) prizes(w http.ResponseWriter, r *http.Request) {
	pool, prizes, err := s.svc.Draw.Prizes(r.Context(), chi.URLParam(r, "poolKey"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pool": pool, "prizes": prizes})
}

func (s *Server) drawHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, r, err)
		return
	}
	draws, err := s.svc.Draw.History(r.Context(), userFrom(r.Context()), chi.URLParam(r, "poolKey"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draws)
}

func (s *Server) play(w http.ResponseWriter, r *http.Request) {
	var req draw.PlayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	d, err := s.svc.Draw.Play(r.Context(), userFrom(r.Context()), chi.URLParam(r, "poolKey"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) buyScratch(w http.ResponseWriter, r *http.Request) {
	var req draw.PlayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	d, err := s.svc.Draw.BuyScratch(r.Context(), userFrom(r.Context()), chi.URLParam(r, "poolKey"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) reveal(w http.ResponseWriter, r *http.Request) {
	drawID, err := pathInt(r, "drawID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := s.svc.Draw.Reveal(r.Context(), userFrom(r.Context()), drawID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ---- Слот ----

func (s *Server) slotConfig(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Slot.PublicConfig(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) slotStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Slot.GetStats(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) slotHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, r, err)
		return
	}
	spins, err := s.svc.Slot.History(r.Context(), userFrom(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, spins)
}

func (s *Server) spin(w http.ResponseWriter, r *http.Request) {
	var req casino.SpinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.svc.Slot.Spin(r.Context(), userFrom(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ---- Прогнозы ----

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := prediction.MarketStatus(r.URL.Query().Get("status"))
	markets, err := s.svc.Prediction.ListMarkets(r.Context(), status, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, markets)
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathInt(r, "marketID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.svc.Prediction.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) marketStats(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathInt(r, "marketID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.svc.Prediction.Stats(r.Context(), marketID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathInt(r, "marketID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req prediction.BetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.MarketID = marketID

	bet, err := s.svc.Prediction.PlaceBet(r.Context(), userFrom(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

func (s *Server) userBets(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, r, err)
		return
	}
	bets, err := s.svc.Prediction.UserBets(r.Context(), userFrom(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bets)
}

// ---- Магазин ----

func (s *Server) shopItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.Exchange.Items(r.Context(), false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) exchange(w http.ResponseWriter, r *http.Request) {
	var req exchange.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := s.svc.Exchange.Exchange(r.Context(), userFrom(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) shopHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, r, err)
		return
	}
	records, err := s.svc.Exchange.History(r.Context(), userFrom(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
