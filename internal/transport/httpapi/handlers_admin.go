package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/features/admin"
	"serotonyl.ru/points-engine/internal/features/casino"
	"serotonyl.ru/points-engine/internal/features/draw"
	"serotonyl.ru/points-engine/internal/features/exchange"
	"serotonyl.ru/points-engine/internal/features/inventory"
	"serotonyl.ru/points-engine/internal/features/prediction"
	"serotonyl.ru/points-engine/internal/features/streak"
	"serotonyl.ru/points-engine/internal/features/tasks"
)

// ---- Сессия ----

func (s *Server) adminLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := s.svc.Admin.Login(r.Context(), clientAddr(r), body.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) adminLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Admin.Logout(r.Context(), sessionFrom(r.Context()).SessionToken); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- Участники ----

func (s *Server) adminListMembers(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := s.svc.Members.List(r.Context(), r.URL.Query().Get("banned") == "true", limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) adminGetMember(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.svc.Members.Get(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) adminSetBanned(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		Banned bool   `json:"banned"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Members.SetBanned(r.Context(), userID, body.Banned, body.Reason); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- Баланс ----

func (s *Server) adminAdjust(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var adj admin.Adjustment
	if err := decodeJSON(r, &adj); err != nil {
		writeError(w, r, err)
		return
	}
	adj.UserID = userID

	entry, err := s.svc.Admin.Adjust(r.Context(), adj)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) adminReconcile(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	cached, ledger, ok, err := s.svc.Economy.Reconcile(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		log.WithFields(log.Fields{
			"user_id": userID,
			"cached":  cached,
			"ledger":  ledger,
		}).Warn("Баланс расходится с леджером")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    userID,
		"balance":    cached,
		"ledger_sum": ledger,
		"consistent": ok,
	})
}

func (s *Server) adminDailyReport(w http.ResponseWriter, r *http.Request) {
	loc := common.LoadLocation(s.cfg.AppTimezone)
	day := time.Now().In(loc).AddDate(0, 0, -1)
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, loc)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: дата должна быть в формате 2006-01-02", common.ErrInvalidInput))
			return
		}
		day = parsed
	}

	report, err := s.svc.Economy.DailyReport(r.Context(), day)
	if err != nil {
		writeError(w, r, err)
		return
	}
	signins, err := s.svc.Streak.CountSignins(r.Context(), day)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"economy": report, "signins": signins})
}

// ---- Рынки прогнозов ----

func (s *Server) adminCreateMarket(w http.ResponseWriter, r *http.Request) {
	var in prediction.MarketInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.svc.Prediction.CreateMarket(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) adminAddOption(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathInt(r, "marketID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		Label string `json:"label"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	opt, err := s.svc.Prediction.AddOption(r.Context(), marketID, body.Label)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, opt)
}

func (s *Server) adminOpenMarket(w http.ResponseWriter, r *http.Request) {
	s.marketTransition(w, r, s.svc.Prediction.Open)
}

func (s *Server) adminCloseMarket(w http.ResponseWriter, r *http.Request) {
	s.marketTransition(w, r, s.svc.Prediction.Close)
}

func (s *Server) marketTransition(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, marketID int64) (*prediction.Market, error),
) {
	marketID, err := pathInt(r, "marketID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := fn(r.Context(), marketID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) adminSettleMarket(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathInt(r, "marketID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		WinningOptionIDs []int64 `json:"winning_option_ids"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := s.svc.Prediction.Settle(r.Context(), marketID, body.WinningOptionIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) adminCancelMarket(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathInt(r, "marketID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := s.svc.Prediction.Cancel(r.Context(), marketID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ---- Розыгрыши ----

func (s *Server) adminListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.svc.Draw.ListPools(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pools)
}

func (s *Server) adminCreatePool(w http.ResponseWriter, r *http.Request) {
	var in draw.PoolInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	pool, err := s.svc.Draw.CreatePool(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pool)
}

func (s *Server) adminSetPoolActive(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Active bool `json:"active"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Draw.SetPoolActive(r.Context(), chi.URLParam(r, "poolKey"), body.Active); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) adminAddPrize(w http.ResponseWriter, r *http.Request) {
	var in draw.PrizeInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	prize, err := s.svc.Draw.AddPrize(r.Context(), chi.URLParam(r, "poolKey"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, prize)
}

func (s *Server) adminUpdatePrize(w http.ResponseWriter, r *http.Request) {
	prizeID, err := pathInt(r, "prizeID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		Weight    *string `json:"weight"`
		Stock     *int    `json:"stock"`
		Unlimited bool    `json:"unlimited"`
		Enabled   *bool   `json:"is_enabled"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Draw.UpdatePrize(r.Context(), prizeID, body.Weight, body.Stock, body.Unlimited, body.Enabled); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) adminPoolStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Draw.PoolStats(r.Context(), chi.URLParam(r, "poolKey"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) adminAddAPIKeys(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Codes       []string         `json:"codes"`
		Quota       *decimal.Decimal `json:"quota"`
		Description string           `json:"description"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	added, err := s.svc.Inventory.AddAPIKeys(r.Context(), body.Codes, body.Quota, body.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

func (s *Server) adminGrantTickets(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		TicketType inventory.TicketType `json:"ticket_type"`
		Amount     int                  `json:"amount"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Inventory.GrantTickets(r.Context(), userID, body.TicketType, body.Amount); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- Слот ----

func (s *Server) adminSlotConfig(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Slot.AdminConfig(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) adminUpdateSlot(w http.ResponseWriter, r *http.Request) {
	var in casino.ConfigInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	cfg, err := s.svc.Slot.UpdateConfig(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) adminReplaceSymbols(w http.ResponseWriter, r *http.Request) {
	var symbols []casino.SymbolInput
	if err := decodeJSON(r, &symbols); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Slot.ReplaceSymbols(r.Context(), symbols); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) adminSlotStats(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 7)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := s.svc.Slot.DrawStats(r.Context(), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ---- Задания ----

func (s *Server) adminListTasks(w http.ResponseWriter, r *http.Request) {
	schedule := tasks.Schedule(r.URL.Query().Get("schedule"))
	all := r.URL.Query().Get("all") == "true"
	defs, err := s.svc.Tasks.ListDefinitions(r.Context(), schedule, all)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

func (s *Server) adminCreateTask(w http.ResponseWriter, r *http.Request) {
	var in tasks.DefinitionInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	def, err := s.svc.Tasks.CreateDefinition(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

func (s *Server) adminUpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := pathInt(r, "taskID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in tasks.DefinitionInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	def, err := s.svc.Tasks.UpdateDefinition(r.Context(), taskID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) adminDeactivateTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := pathInt(r, "taskID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Tasks.Deactivate(r.Context(), taskID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- Магазин ----

func (s *Server) adminShopItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.Exchange.Items(r.Context(), true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) adminCreateItem(w http.ResponseWriter, r *http.Request) {
	var in exchange.ItemInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	item, err := s.svc.Exchange.CreateItem(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) adminUpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathInt(r, "itemID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in exchange.ItemInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	item, err := s.svc.Exchange.UpdateItem(r.Context(), itemID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// ---- Отметки ----

func (s *Server) adminMilestones(w http.ResponseWriter, r *http.Request) {
	ms, err := s.svc.Streak.Milestones(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (s *Server) adminSaveMilestone(w http.ResponseWriter, r *http.Request) {
	var m streak.Milestone
	if err := decodeJSON(r, &m); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Streak.SaveMilestone(r.Context(), &m); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
