// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: напоминания родителям о проверке,
// вечернее напоминание о невыполненных заданиях, ночная сверка балансов
// и очистка устаревших диалогов.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/family-stars/internal/common"
	"serotonyl.ru/family-stars/internal/config"
	"serotonyl.ru/family-stars/internal/features/family"
	"serotonyl.ru/family-stars/internal/features/ledger"
	"serotonyl.ru/family-stars/internal/metrics"
)

// Counts — что напомнить семье.
type Counts struct {
	Pending     int // Выполнения в очереди на проверку
	MissedToday int // Пары «ребёнок — ежедневное задание» без отметки сегодня
}

// Notifier отправляет напоминания в чат семьи.
// Ошибка доставки только логируется.
type Notifier interface {
	Notify(ctx context.Context, f *family.Family, c Counts) error
}

// Sweeper удаляет просроченные диалоги (parent.Service).
type Sweeper interface {
	SweepStates() int
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron     *cron.Cron
	cfg      *config.Config
	families *family.Service
	ledger   *ledger.Service
	notifier Notifier
	sweeper  Sweeper
	now      func() time.Time
}

// NewScheduler создаёт планировщик в часовом поясе APP_TIMEZONE.
func NewScheduler(cfg *config.Config, families *family.Service, ledgerService *ledger.Service, notifier Notifier, sweeper Sweeper) *Scheduler {
	loc := common.LoadLocation(cfg.AppTimezone)
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		cfg:      cfg,
		families: families,
		ledger:   ledgerService,
		notifier: notifier,
		sweeper:  sweeper,
		now:      time.Now,
	}
}

// Start регистрирует задачи и запускает планировщик.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.FeatureRemindersEnabled && s.notifier != nil {
		if _, err := s.cron.AddFunc(s.cfg.ReminderPendingCron, func() {
			log.Debug("[CRON] Напоминания о проверке")
			s.RemindPending(ctx)
		}); err != nil {
			return err
		}
		if _, err := s.cron.AddFunc(s.cfg.ReminderMissedCron, func() {
			log.Debug("[CRON] Напоминания о невыполненных заданиях")
			s.RemindMissed(ctx)
		}); err != nil {
			return err
		}
	}

	if _, err := s.cron.AddFunc(s.cfg.ReconcileCron, func() {
		log.Info("[CRON] Сверка балансов")
		s.Reconcile(ctx)
	}); err != nil {
		return err
	}

	if s.sweeper != nil {
		if _, err := s.cron.AddFunc("@every 5m", func() {
			if n := s.sweeper.SweepStates(); n > 0 {
				log.WithField("count", n).Debug("[CRON] Удалены просроченные диалоги")
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	log.WithField("timezone", s.cfg.AppTimezone).Info("Планировщик задач запущен")
	return nil
}

// Stop останавливает планировщик и ждёт завершения запущенных задач.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}

// RemindPending обновляет метрику очереди и напоминает родителям о непроверенных выполнениях.
func (s *Scheduler) RemindPending(ctx context.Context) {
	s.eachFamily(ctx, func(f *family.Family) error {
		n, err := s.ledger.CountPending(ctx, f.ID)
		if err != nil {
			return err
		}
		metrics.PendingVerifications.WithLabelValues(f.ID).Set(float64(n))
		if n == 0 || f.Settings.RemindersOff || s.notifier == nil {
			return nil
		}
		return s.notifier.Notify(ctx, f, Counts{Pending: n})
	})
}

// RemindMissed напоминает о ежедневных заданиях, которые сегодня ещё не отмечены.
func (s *Scheduler) RemindMissed(ctx context.Context) {
	s.eachFamily(ctx, func(f *family.Family) error {
		if f.Settings.RemindersOff || s.notifier == nil {
			return nil
		}
		n, err := s.ledger.MissedToday(ctx, f.ID, s.now())
		if err != nil || n == 0 {
			return err
		}
		return s.notifier.Notify(ctx, f, Counts{MissedToday: n})
	})
}

// Reconcile сверяет балансы всех семей с журналом транзакций.
func (s *Scheduler) Reconcile(ctx context.Context) {
	s.eachFamily(ctx, func(f *family.Family) error {
		recs, err := s.ledger.ReconcileFamily(ctx, f.ID)
		for _, r := range recs {
			if r.Repaired {
				log.WithFields(log.Fields{
					"owner_id": f.ID,
					"child_id": r.ChildID,
					"stored":   r.Stored,
					"computed": r.Computed,
				}).Warn("[CRON] Баланс исправлен по журналу")
			}
		}
		return err
	})
}

// eachFamily вызывает fn для каждой семьи. Ошибка одной семьи не останавливает остальные.
func (s *Scheduler) eachFamily(ctx context.Context, fn func(f *family.Family) error) {
	families, err := s.families.ListFamilies(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Не удалось получить список семей")
		return
	}
	for _, f := range families {
		if ctx.Err() != nil {
			return
		}
		if err := fn(f); err != nil {
			log.WithError(err).WithField("owner_id", f.ID).Error("[CRON] Ошибка задачи")
		}
	}
}
