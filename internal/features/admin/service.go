// Package admin — service.go содержит логику аутентификации и управления сессиями.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/features/economy"
)

// Service управляет админкой.
type Service struct {
	repo         *Repository
	economy      *economy.Service
	passwordHash string
	maxAttempts  int
	now          func() time.Time
}

// NewService создаёт сервис админки.
//
// Параметры:
//   - passwordHash: хеш Argon2id (см. scripts/generate_hash.go)
//   - maxAttempts: сколько неудачных входов с одного адреса допускается за час
func NewService(repo *Repository, economyService *economy.Service, passwordHash string, maxAttempts int) *Service {
	return &Service{
		repo:         repo,
		economy:      economyService,
		passwordHash: passwordHash,
		maxAttempts:  max(1, maxAttempts),
		now:          time.Now,
	}
}

// Login проверяет пароль и открывает сессию на SessionTTL.
// После maxAttempts неудач за час адрес блокируется: common.ErrTooManyAttempts.
func (s *Service) Login(ctx context.Context, remoteAddr, password string) (*Session, error) {
	now := s.now()
	attempts, err := s.repo.FailedAttemptsSince(ctx, remoteAddr, now.Add(-AttemptWindow))
	if err != nil {
		return nil, err
	}
	if attempts >= s.maxAttempts {
		return nil, common.ErrTooManyAttempts
	}

	match := VerifyPassword(password, s.passwordHash)
	if err := s.repo.LogAttempt(ctx, remoteAddr, match); err != nil {
		log.WithError(err).Warn("Не удалось записать попытку входа")
	}
	if !match {
		log.WithFields(log.Fields{
			"remote_addr": remoteAddr,
			"attempt":     attempts + 1,
		}).Warn("Неверный пароль администратора")
		return nil, common.ErrNotAdmin
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}
	session := &Session{
		SessionToken: token,
		RemoteAddr:   remoteAddr,
		ExpiresAt:    now.Add(SessionTTL),
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	log.WithField("remote_addr", remoteAddr).Info("Администратор вошёл")
	return session, nil
}

// Authenticate проверяет токен сессии. Нет сессии — common.ErrNotAdmin.
func (s *Service) Authenticate(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, common.ErrNotAdmin
	}
	session, err := s.repo.TouchSession(ctx, token, s.now())
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, common.ErrNotAdmin
	}
	return session, nil
}

// Logout закрывает сессию.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.repo.DeactivateSession(ctx, token)
}

// Purge удаляет истёкшие сессии и старые попытки входа.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	return s.repo.Purge(ctx, s.now())
}

// Adjust вручную начисляет (Amount > 0) или списывает (Amount < 0) баллы.
func (s *Service) Adjust(ctx context.Context, adj Adjustment) (*economy.Entry, error) {
	if adj.UserID == 0 || adj.Amount == 0 {
		return nil, fmt.Errorf("%w: нужны пользователь и ненулевая сумма", common.ErrInvalidInput)
	}
	requestID := adj.RequestID
	if requestID == "" {
		requestID = "admin:" + uuid.NewString()
	}
	m := economy.Mutation{
		UserID:      adj.UserID,
		Amount:      adj.Amount,
		Reason:      economy.ReasonAdminGrant,
		RefType:     "admin",
		RequestID:   common.TruncateRequestID(requestID),
		Description: adj.Description,
	}

	var (
		entry *economy.Entry
		err   error
	)
	if adj.Amount > 0 {
		entry, err = s.economy.Credit(ctx, m)
	} else {
		m.Amount = -adj.Amount
		m.Reason = economy.ReasonAdminDeduct
		entry, err = s.economy.Debit(ctx, m)
	}
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id": adj.UserID,
		"amount":  adj.Amount,
	}).Info("Баланс изменён администратором")
	return entry, nil
}
