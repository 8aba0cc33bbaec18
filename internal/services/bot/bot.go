// Package bot разбирает входящие сообщения и выполняет сценарии бота: регистрация,
// ввод даты рождения, прогноз на сегодня, информация о доступе.
//
// Все операции чтения-изменения-записи одного пользователя выполняются под его
// блокировкой: таблица не умеет транзакции, и две параллельные регистрации одного
// пользователя иначе создали бы две строки.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/numerology-bot/internal/lib/calendar"
	"github.com/magabrotheeeer/numerology-bot/internal/lib/keylock"
	"github.com/magabrotheeeer/numerology-bot/internal/lib/sl"
	"github.com/magabrotheeeer/numerology-bot/internal/metrics"
	"github.com/magabrotheeeer/numerology-bot/internal/models"
	"github.com/magabrotheeeer/numerology-bot/internal/services/access"
	"github.com/magabrotheeeer/numerology-bot/internal/services/forecast"
	"github.com/magabrotheeeer/numerology-bot/internal/telegram"
)

// Repository описывает хранилище записей пользователей.
type Repository interface {
	// Find возвращает запись; found=false, если пользователя нет.
	Find(ctx context.Context, id int64) (models.UserRecord, bool, error)
	// Upsert записывает запись целиком.
	Upsert(ctx context.Context, rec models.UserRecord) error
	// Touch обновляет только last_seen_at.
	Touch(ctx context.Context, id int64, at time.Time) error
}

// Sender отправляет текст в чат.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Composer формирует текст прогноза.
type Composer interface {
	Compose(birth *time.Time, today time.Time, full bool) string
}

// Options — параметры сценариев.
type Options struct {
	TrialDays int
	Location  *time.Location
}

// Service выполняет сценарии бота.
type Service struct {
	repo     Repository
	sender   Sender
	composer Composer
	access   *access.Machine
	locks    *keylock.Locker
	metrics  *metrics.Metrics
	log      *slog.Logger
	validate *validator.Validate
	opts     Options
	now      func() time.Time
}

// NewService создает Service. locks должен быть общим для всех компонентов,
// которые меняют записи пользователей.
func NewService(repo Repository, sender Sender, composer Composer, machine *access.Machine,
	locks *keylock.Locker, m *metrics.Metrics, log *slog.Logger, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{
		repo:     repo,
		sender:   sender,
		composer: composer,
		access:   machine,
		locks:    locks,
		metrics:  m,
		log:      log,
		validate: validator.New(),
		opts:     opts,
		now:      time.Now,
	}
}

type intent int

const (
	intentHelp intent = iota
	intentStart
	intentForecast
	intentStatus
	intentDate
)

// dateLike отличает попытку ввести дату от произвольного текста, чтобы на
// "5.3.94" ответить про формат, а не справкой.
var dateLike = regexp.MustCompile(`^\d{1,4}[./\-]\d{1,2}[./\-]\d{1,4}$`)

func classify(text string) intent {
	switch text {
	case telegram.ButtonForecast:
		return intentForecast
	case telegram.ButtonStatus:
		return intentStatus
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.Fields(text)[0]
		if i := strings.Index(cmd, "@"); i > 0 {
			cmd = cmd[:i]
		}
		switch strings.ToLower(cmd) {
		case "/start":
			return intentStart
		case "/today", "/forecast":
			return intentForecast
		case "/status":
			return intentStatus
		default:
			return intentHelp
		}
	}
	if dateLike.MatchString(text) {
		return intentDate
	}
	return intentHelp
}

// Handle обрабатывает одно входящее сообщение и отправляет ответ.
// Ошибки хранилища пользователю не показываются; ошибка возвращается,
// только если событие некорректно или ответ не удалось отправить.
func (s *Service) Handle(ctx context.Context, ev models.InboundEvent) error {
	const op = "bot.Handle"
	if err := s.validate.Struct(ev); err != nil {
		return fmt.Errorf("%s: invalid event: %w", op, err)
	}

	unlock := s.locks.Lock(ev.UserID)
	defer unlock()

	now := s.now()
	today := calendar.Today(now, s.opts.Location)
	text := strings.TrimSpace(ev.Text)
	log := s.log.With(sl.Op(op), sl.UserID(ev.UserID))

	var err error
	switch classify(text) {
	case intentStart:
		err = s.start(ctx, log, ev, now, today)
	case intentForecast:
		err = s.forecast(ctx, log, ev, now, today)
	case intentStatus:
		err = s.status(ctx, log, ev, now, today)
	case intentDate:
		err = s.birthDate(ctx, log, ev, text, now, today)
	default:
		err = s.help(ctx, log, ev, now, today)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// session — запись пользователя на время обработки одного сообщения.
type session struct {
	rec     models.UserRecord
	created bool
	dirty   bool // нужна запись строки целиком, а не только last_seen_at
}

// load читает запись пользователя и создает ее с пробным периодом при первом обращении.
func (s *Service) load(ctx context.Context, log *slog.Logger, ev models.InboundEvent, now, today time.Time) (*session, error) {
	rec, found, err := s.repo.Find(ctx, ev.UserID)
	if err != nil {
		return nil, err
	}
	if !found {
		rec = models.NewUserRecord(ev.UserID, ev.Profile, now, today, s.opts.TrialDays)
		if err := s.repo.Upsert(ctx, rec); err != nil {
			return nil, err
		}
		log.Info("user registered", slog.String("trial_expires", calendar.FormatISO(*rec.TrialExpires)))
		return &session{rec: rec, created: true}, nil
	}
	sess := &session{rec: rec}
	sess.dirty = sess.rec.Touch(now, ev.Profile)
	return sess, nil
}

// evaluate проверяет доступ и сразу сохраняет автоматическую блокировку.
func (s *Service) evaluate(ctx context.Context, log *slog.Logger, sess *session, today time.Time) (access.State, error) {
	dec := s.access.Evaluate(sess.rec, today)
	if !dec.Changed {
		return dec.State, nil
	}
	sess.rec = dec.Record
	if err := s.repo.Upsert(ctx, sess.rec); err != nil {
		return dec.State, err
	}
	sess.dirty = false
	s.metrics.AutoBlocks.Inc()
	log.Info("trial expired, user blocked", slog.String("policy", string(s.access.Policy())))
	return dec.State, nil
}

// save сохраняет изменения сессии; ошибка только логируется, ответ уже отправлен.
func (s *Service) save(ctx context.Context, log *slog.Logger, sess *session) {
	if sess.created && !sess.dirty {
		return
	}
	var err error
	if sess.dirty {
		err = s.repo.Upsert(ctx, sess.rec)
	} else {
		err = s.repo.Touch(ctx, sess.rec.UserID, sess.rec.LastSeenAt)
	}
	if err != nil {
		log.Warn("failed to save user", sl.Err(err))
		return
	}
	sess.dirty = false
}

// check проверяет доступ и сохраняет сессию. Используется сценариями, которым
// от состояния доступа нужен только ответ, а не прогноз.
func (s *Service) check(ctx context.Context, log *slog.Logger, sess *session, today time.Time) access.State {
	state, err := s.evaluate(ctx, log, sess, today)
	if err != nil {
		log.Error("failed to persist auto-block", sl.Err(err))
	}
	s.save(ctx, log, sess)
	return state
}

func (s *Service) start(ctx context.Context, log *slog.Logger, ev models.InboundEvent, now, today time.Time) error {
	sess, err := s.load(ctx, log, ev, now, today)
	if err != nil {
		log.Error("store unavailable on start", sl.Err(err))
		return s.sender.Send(ctx, ev.ChatID, welcomeText(ev.FirstName, nil, false))
	}
	switch s.check(ctx, log, sess, today) {
	case access.StateTrialActive:
		return s.sender.Send(ctx, ev.ChatID, welcomeText(ev.FirstName, sess.rec.TrialExpires, sess.rec.BirthDate != nil))
	case access.StatePremiumActive:
		return s.sender.Send(ctx, ev.ChatID, welcomeText(ev.FirstName, nil, sess.rec.BirthDate != nil))
	default:
		return s.sender.Send(ctx, ev.ChatID, restrictedWelcomeText(ev.FirstName))
	}
}

func (s *Service) help(ctx context.Context, log *slog.Logger, ev models.InboundEvent, now, today time.Time) error {
	if sess, err := s.load(ctx, log, ev, now, today); err == nil {
		s.check(ctx, log, sess, today)
	} else {
		log.Warn("store unavailable on help", sl.Err(err))
	}
	return s.sender.Send(ctx, ev.ChatID, helpText())
}

func (s *Service) status(ctx context.Context, log *slog.Logger, ev models.InboundEvent, now, today time.Time) error {
	sess, err := s.load(ctx, log, ev, now, today)
	if err != nil {
		log.Error("store unavailable on status", sl.Err(err))
		return s.sender.Send(ctx, ev.ChatID, msgUnavailable)
	}
	switch s.check(ctx, log, sess, today) {
	case access.StatePremiumActive:
		return s.sender.Send(ctx, ev.ChatID, msgPremium)
	case access.StateTrialActive:
		return s.sender.Send(ctx, ev.ChatID, trialText(*sess.rec.TrialExpires))
	default:
		return s.sender.Send(ctx, ev.ChatID, msgRestricted)
	}
}

func (s *Service) forecast(ctx context.Context, log *slog.Logger, ev models.InboundEvent, now, today time.Time) error {
	sess, err := s.load(ctx, log, ev, now, today)
	if err != nil {
		// Без записи прогноз не по чему строить: при резервном доступе просим дату.
		fallback := access.Fallback()
		log.Error("store unavailable on forecast, using fallback access", sl.Err(err),
			slog.String("state", fallback.String()))
		if !fallback.Allowed() {
			return s.sender.Send(ctx, ev.ChatID, msgUnavailable)
		}
		return s.sender.Send(ctx, ev.ChatID, msgUnavailableAskDate)
	}
	state, err := s.evaluate(ctx, log, sess, today)
	if err != nil {
		log.Error("failed to persist auto-block", sl.Err(err))
	}
	if !state.Allowed() {
		s.save(ctx, log, sess)
		return s.sender.Send(ctx, ev.ChatID, msgRestricted)
	}
	if sess.rec.BirthDate == nil {
		s.save(ctx, log, sess)
		return s.sender.Send(ctx, ev.ChatID, forecast.AskBirthDateText)
	}
	return s.sendForecast(ctx, log, ev, sess, today)
}

// sendForecast отправляет прогноз и только после успешной отправки полного
// прогноза запоминает месяц в last_full_ym.
func (s *Service) sendForecast(ctx context.Context, log *slog.Logger, ev models.InboundEvent, sess *session, today time.Time) error {
	full := access.ShouldRenderFull(sess.rec, today)
	text := s.composer.Compose(sess.rec.BirthDate, today, full)
	if err := s.sender.Send(ctx, ev.ChatID, text); err != nil {
		s.save(ctx, log, sess)
		return err
	}

	detail := forecast.DetailShort
	if full {
		detail = forecast.DetailFull
		if ym := calendar.YearMonth(today); sess.rec.LastFullYM != ym {
			sess.rec.LastFullYM = ym
			sess.dirty = true
		}
	}
	s.metrics.Forecasts.WithLabelValues(string(detail)).Inc()
	s.save(ctx, log, sess)
	return nil
}

func (s *Service) birthDate(ctx context.Context, log *slog.Logger, ev models.InboundEvent, text string, now, today time.Time) error {
	birth, err := models.ParseBirthDate(text, today)
	if err != nil {
		reply := msgWrongDate
		if errors.Is(err, models.ErrBirthDateInFuture) {
			reply = msgFutureDate
		}
		if sess, lerr := s.load(ctx, log, ev, now, today); lerr == nil {
			s.check(ctx, log, sess, today)
		}
		return s.sender.Send(ctx, ev.ChatID, reply)
	}

	sess, err := s.load(ctx, log, ev, now, today)
	if err != nil {
		// Резервный доступ без записи: краткий прогноз по присланной дате.
		fallback := access.Fallback()
		log.Error("store unavailable on birth date, using fallback access", sl.Err(err),
			slog.String("state", fallback.String()))
		if !fallback.Allowed() {
			return s.sender.Send(ctx, ev.ChatID, msgUnavailable)
		}
		return s.sender.Send(ctx, ev.ChatID, s.composer.Compose(&birth, today, false)+msgNotSaved)
	}

	if sess.rec.SetBirthDate(birth) {
		sess.dirty = true
		log.Info("birth date set")
	}
	state, err := s.evaluate(ctx, log, sess, today)
	if err != nil {
		log.Error("failed to persist auto-block", sl.Err(err))
	}
	if sess.dirty {
		if err := s.repo.Upsert(ctx, sess.rec); err != nil {
			log.Error("failed to save birth date", sl.Err(err))
			if state.Allowed() {
				return s.sender.Send(ctx, ev.ChatID, s.composer.Compose(&birth, today, false)+msgNotSaved)
			}
		} else {
			sess.dirty = false
		}
	}
	if !state.Allowed() {
		s.save(ctx, log, sess)
		return s.sender.Send(ctx, ev.ChatID, msgRestricted)
	}
	return s.sendForecast(ctx, log, ev, sess, today)
}
