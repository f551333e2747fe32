// Package parent — service.go содержит вход в родительский режим по PIN,
// управление сессиями и state-машину диалогов.
package parent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/family-stars/internal/common"
	"serotonyl.ru/family-stars/internal/config"
	"serotonyl.ru/family-stars/internal/features/family"
)

// dialogTTL — сколько живёт состояние диалога
const dialogTTL = 5 * time.Minute

// Service управляет родительским режимом.
type Service struct {
	store    Store
	families *family.Service
	cfg      *config.Config
	now      func() time.Time

	states   map[int64]*DialogState // Состояния диалогов (in-memory)
	statesMu sync.RWMutex
}

// NewService создаёт сервис родительского режима.
func NewService(store Store, families *family.Service, cfg *config.Config) *Service {
	return &Service{
		store:    store,
		families: families,
		cfg:      cfg,
		now:      time.Now,
		states:   make(map[int64]*DialogState),
	}
}

// SetPin задаёт или меняет PIN семьи. Менять PIN может только родитель.
// Если PIN уже задан, нужна открытая сессия.
func (s *Service) SetPin(ctx context.Context, ownerID string, userID int64, pin string) error {
	if err := s.requireParent(ctx, ownerID, userID); err != nil {
		return err
	}
	if err := ValidatePin(pin); err != nil {
		return err
	}

	f, err := s.families.FamilyByID(ctx, ownerID)
	if err != nil {
		return err
	}
	if f.PinHash != "" && !s.IsUnlocked(ctx, ownerID, userID) {
		return common.ErrSessionExpired
	}

	hash, err := HashPin(pin)
	if err != nil {
		return err
	}
	if err := s.families.SetPinHash(ctx, ownerID, hash); err != nil {
		return err
	}

	log.WithFields(log.Fields{"owner_id": ownerID, "user_id": userID}).Info("PIN семьи изменён")
	return nil
}

// Unlock проверяет PIN и открывает сессию на PARENT_SESSION_TTL.
// PARENT_MAX_ATTEMPTS неудачных попыток блокируют вход на PARENT_LOCKOUT.
func (s *Service) Unlock(ctx context.Context, ownerID string, userID int64, pin string) error {
	if err := s.requireParent(ctx, ownerID, userID); err != nil {
		return err
	}

	now := s.now().UTC()
	attempts, err := s.store.FailedAttemptsSince(ctx, ownerID, userID, now.Add(-s.cfg.ParentLockout))
	if err != nil {
		return err
	}
	if attempts >= s.cfg.ParentMaxAttempts {
		return common.ErrTooManyAttempts
	}

	f, err := s.families.FamilyByID(ctx, ownerID)
	if err != nil {
		return err
	}
	if f.PinHash == "" {
		return common.ErrPinNotSet
	}

	match := VerifyPin(pin, f.PinHash)
	if err := s.store.LogAttempt(ctx, &LoginAttempt{
		OwnerID:     ownerID,
		UserID:      userID,
		AttemptTime: now,
		Success:     match,
	}); err != nil {
		log.WithError(err).Warn("Не удалось записать попытку входа")
	}

	if !match {
		log.WithFields(log.Fields{"owner_id": ownerID, "user_id": userID}).Warn("Неверный PIN")
		if attempts+1 >= s.cfg.ParentMaxAttempts {
			return common.ErrTooManyAttempts
		}
		return fmt.Errorf("%w (осталось попыток: %d)", common.ErrWrongPin, s.cfg.ParentMaxAttempts-attempts-1)
	}

	token, err := generateSecureToken()
	if err != nil {
		return fmt.Errorf("ошибка генерации токена: %w", err)
	}
	if err := s.store.DeactivateSessions(ctx, ownerID, userID); err != nil {
		return err
	}
	if err := s.store.CreateSession(ctx, &Session{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		UserID:          userID,
		Token:           token,
		AuthenticatedAt: now,
		ExpiresAt:       now.Add(s.cfg.ParentSessionTTL),
		LastActivity:    now,
		IsActive:        true,
	}); err != nil {
		return err
	}

	log.WithFields(log.Fields{"owner_id": ownerID, "user_id": userID}).Info("Родительский режим открыт")
	return nil
}

// IsUnlocked сообщает, открыт ли родительский режим, и отмечает активность.
func (s *Service) IsUnlocked(ctx context.Context, ownerID string, userID int64) bool {
	now := s.now().UTC()
	if _, err := s.store.ActiveSession(ctx, ownerID, userID, now); err != nil {
		return false
	}
	if err := s.store.TouchSession(ctx, ownerID, userID, now); err != nil {
		log.WithError(err).Debug("Не удалось обновить активность сессии")
	}
	return true
}

// RequireUnlocked возвращает ошибку, если пользователь не родитель или режим закрыт.
func (s *Service) RequireUnlocked(ctx context.Context, ownerID string, userID int64) error {
	if err := s.requireParent(ctx, ownerID, userID); err != nil {
		return err
	}
	if !s.IsUnlocked(ctx, ownerID, userID) {
		return common.ErrSessionExpired
	}
	return nil
}

// Lock закрывает родительский режим.
func (s *Service) Lock(ctx context.Context, ownerID string, userID int64) error {
	s.ClearState(userID)
	return s.store.DeactivateSessions(ctx, ownerID, userID)
}

func (s *Service) requireParent(ctx context.Context, ownerID string, userID int64) error {
	ok, err := s.families.IsParent(ctx, ownerID, userID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	if !ok {
		return common.ErrNotParent
	}
	return nil
}

// --- Состояния диалогов ---

// GetState возвращает текущее состояние диалога или nil.
func (s *Service) GetState(userID int64) *DialogState {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()

	state, ok := s.states[userID]
	if !ok || s.now().After(state.ExpiresAt) {
		return nil
	}
	return state
}

// SetState устанавливает состояние диалога с 5-минутным таймаутом.
func (s *Service) SetState(userID int64, name string, data any) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()

	s.states[userID] = &DialogState{
		State:     name,
		Data:      data,
		ExpiresAt: s.now().Add(dialogTTL),
	}
}

// ClearState сбрасывает состояние диалога.
func (s *Service) ClearState(userID int64) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	delete(s.states, userID)
}

// SweepStates удаляет истёкшие состояния. Вызывается планировщиком.
func (s *Service) SweepStates() int {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()

	now := s.now()
	removed := 0
	for id, st := range s.states {
		if now.After(st.ExpiresAt) {
			delete(s.states, id)
			removed++
		}
	}
	return removed
}
