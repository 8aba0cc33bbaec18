// Package scheduler раз в сутки проходит по пользователям: блокирует истекшие
// пробные периоды и публикует уведомления об их окончании.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/numerology-bot/internal/lib/calendar"
	"github.com/magabrotheeeer/numerology-bot/internal/lib/keylock"
	"github.com/magabrotheeeer/numerology-bot/internal/lib/sl"
	"github.com/magabrotheeeer/numerology-bot/internal/metrics"
	"github.com/magabrotheeeer/numerology-bot/internal/models"
	"github.com/magabrotheeeer/numerology-bot/internal/rabbitmq"
	"github.com/magabrotheeeer/numerology-bot/internal/services/access"
)

// claimTTL — сколько помнить отправленное уведомление, чтобы повторный проход
// в тот же день его не дублировал.
const claimTTL = 48 * time.Hour

type UserRepository interface {
	List(ctx context.Context) ([]models.UserRecord, error)
	Find(ctx context.Context, id int64) (models.UserRecord, bool, error)
	Upsert(ctx context.Context, rec models.UserRecord) error
}

type Publisher interface {
	Publish(ctx context.Context, routingKey string, message any) error
}

// Claimer отмечает ключ как обработанный; false — ключ уже был отмечен.
// Release снимает отметку, если уведомление так и не ушло.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Report — итог одного прохода.
type Report struct {
	Checked  int
	Blocked  int
	Reminded int
	Failed   int
}

type SchedulerService struct {
	repo      UserRepository
	publisher Publisher
	claims    Claimer
	access    *access.Machine
	locks     *keylock.Locker
	metrics   *metrics.Metrics
	log       *slog.Logger
	loc       *time.Location
	now       func() time.Time
}

// NewSchedulerService создает новый экземпляр SchedulerService. locks должен быть
// тем же, что у обработчика сообщений.
func NewSchedulerService(repo UserRepository, publisher Publisher, claims Claimer, machine *access.Machine,
	locks *keylock.Locker, m *metrics.Metrics, log *slog.Logger, loc *time.Location) *SchedulerService {
	if loc == nil {
		loc = time.UTC
	}
	return &SchedulerService{
		repo:      repo,
		publisher: publisher,
		claims:    claims,
		access:    machine,
		locks:     locks,
		metrics:   m,
		log:       log,
		loc:       loc,
		now:       time.Now,
	}
}

// Run выполняет проход сразу и затем каждые interval до отмены ctx.
func (s *SchedulerService) Run(ctx context.Context, interval time.Duration) error {
	s.runSweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("trial sweep stopped")
			return nil
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *SchedulerService) runSweep(ctx context.Context) {
	s.log.Info("starting trial sweep")
	report, err := s.Sweep(ctx)
	if err != nil {
		s.log.Error("trial sweep failed", sl.Err(err))
		return
	}
	s.log.Info("trial sweep finished",
		slog.Int("checked", report.Checked),
		slog.Int("blocked", report.Blocked),
		slog.Int("reminded", report.Reminded),
		slog.Int("failed", report.Failed),
	)
}

// Sweep проверяет всех пользователей на сегодняшнюю дату. Ошибка возвращается,
// только если не удалось получить список; сбои отдельных пользователей учитываются в Report.
func (s *SchedulerService) Sweep(ctx context.Context) (Report, error) {
	const op = "scheduler.Sweep"
	today := calendar.Today(s.now(), s.loc)

	records, err := s.repo.List(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("%s: %w", op, err)
	}

	var report Report
	for _, rec := range records {
		if ctx.Err() != nil {
			return report, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		report.Checked++
		if !s.candidate(rec, today) {
			continue
		}
		kind, sent, err := s.process(ctx, rec.UserID, today)
		if err != nil {
			report.Failed++
			s.log.Error("failed to process user", sl.UserID(rec.UserID), sl.Err(err))
			continue
		}
		switch {
		case kind == models.NotificationTrialEnded:
			report.Blocked++
		case kind == models.NotificationTrialEndsTomorrow && sent:
			report.Reminded++
		}
	}
	return report, nil
}

func (s *SchedulerService) candidate(rec models.UserRecord, today time.Time) bool {
	return s.access.Evaluate(rec, today).Changed || access.ExpiresTomorrow(rec, today)
}

// process перечитывает запись под блокировкой пользователя: пока шел проход,
// обработчик сообщений мог ее изменить. sent=false при найденном kind значит,
// что уведомление за сегодня уже было опубликовано раньше.
func (s *SchedulerService) process(ctx context.Context, id int64, today time.Time) (models.NotificationKind, bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	rec, found, err := s.repo.Find(ctx, id)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}

	dec := s.access.Evaluate(rec, today)
	switch {
	case dec.Changed:
		if err := s.repo.Upsert(ctx, dec.Record); err != nil {
			return "", false, err
		}
		s.metrics.AutoBlocks.Inc()
		s.log.Info("trial expired, user blocked", sl.UserID(id))
		sent, err := s.notify(ctx, dec.Record, models.NotificationTrialEnded, today)
		return models.NotificationTrialEnded, sent, err
	case access.ExpiresTomorrow(rec, today):
		sent, err := s.notify(ctx, rec, models.NotificationTrialEndsTomorrow, today)
		return models.NotificationTrialEndsTomorrow, sent, err
	default:
		return "", false, nil
	}
}

// notify публикует уведомление не больше одного раза в день на пользователя и вид.
// Если публикация не удалась, отметка снимается и следующий проход повторит попытку.
func (s *SchedulerService) notify(ctx context.Context, rec models.UserRecord, kind models.NotificationKind, today time.Time) (bool, error) {
	key := fmt.Sprintf("notify:%s:%d:%s", kind, rec.UserID, calendar.FormatISO(today))
	fresh, err := s.claims.Claim(ctx, key, claimTTL)
	if err != nil {
		s.log.Warn("failed to claim notification, sending anyway", sl.UserID(rec.UserID), sl.Err(err))
		fresh = true
	}
	if !fresh {
		s.metrics.Notifications.WithLabelValues(string(kind), "duplicate").Inc()
		return false, nil
	}

	n := models.Notification{
		ID:        uuid.NewString(),
		UserID:    rec.UserID,
		Kind:      kind,
		FirstName: rec.FirstName,
		CreatedAt: s.now(),
	}
	if rec.TrialExpires != nil {
		n.TrialExpires = calendar.FormatDMY(*rec.TrialExpires)
	}
	if err := s.publisher.Publish(ctx, rabbitmq.RoutingKeyTrial, n); err != nil {
		s.metrics.Notifications.WithLabelValues(string(kind), "failed").Inc()
		if rerr := s.claims.Release(ctx, key); rerr != nil {
			s.log.Warn("failed to release notification claim", sl.UserID(rec.UserID), sl.Err(rerr))
		}
		return false, err
	}
	s.metrics.Notifications.WithLabelValues(string(kind), "published").Inc()
	return true, nil
}
