// Package repository реализует хранилище пользователей поверх таблицы со строковым
// доступом (Google Sheets). Поиск пользователя — линейный проход по колонке user_id,
// O(n) от числа зарегистрированных пользователей на каждый вызов; это главное
// ограничение масштабирования бота, индексов у таблицы нет.
//
// Порядок колонок берется из строки заголовка при каждом обращении: оператор таблицы
// может переставлять колонки и добавлять свои.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/magabrotheeeer/numerology-bot/internal/lib/sl"
	"github.com/magabrotheeeer/numerology-bot/internal/metrics"
	"github.com/magabrotheeeer/numerology-bot/internal/storage/sheet"
)

var (
	// ErrStoreUnavailable — таблица недоступна: сеть, авторизация, квота или битый заголовок.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrDuplicateUserRow — для одного user_id найдено несколько строк.
	ErrDuplicateUserRow = errors.New("duplicate user row")
	// ErrUserNotFound — строки пользователя нет.
	ErrUserNotFound = errors.New("user not found")
	// ErrUnknownColumn — колонки нет в заголовке.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrMalformedHeader — заголовок содержит повторяющиеся имена колонок.
	ErrMalformedHeader = errors.New("malformed header")
)

// Options — параметры обращения к таблице.
type Options struct {
	Timeout       time.Duration  // предел одного вызова хранилища
	RetryCooldown time.Duration  // после сбоя хранилище не опрашивается этот период
	Location      *time.Location // зона для created_at и last_seen_at
}

// Storage — адаптер записи пользователя к строке таблицы.
type Storage struct {
	table   sheet.Table
	log     *slog.Logger
	metrics *metrics.Metrics
	opts    Options
	now     func() time.Time

	mu       sync.Mutex
	failedAt time.Time
}

// New создает Storage над таблицей table.
func New(table sheet.Table, log *slog.Logger, m *metrics.Metrics, opts Options) *Storage {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Storage{
		table:   table,
		log:     log,
		metrics: m,
		opts:    opts,
		now:     time.Now,
	}
}

// call выполняет fn с ограничением по времени. Ошибки таблицы превращаются в
// ErrStoreUnavailable и включают период охлаждения, доменные ошибки возвращаются как есть.
func (s *Storage) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if s.coolingDown() {
		return fmt.Errorf("%s: %w: cooling down after failure", op, ErrStoreUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	err := fn(ctx)
	if err == nil || errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrUnknownColumn) {
		return err
	}

	s.mu.Lock()
	s.failedAt = s.now()
	s.mu.Unlock()
	s.metrics.StoreErrors.WithLabelValues(op).Inc()
	s.log.Warn("store call failed", sl.Op(op), sl.Err(err))

	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func (s *Storage) coolingDown() bool {
	if s.opts.RetryCooldown <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.failedAt.IsZero() && s.now().Sub(s.failedAt) < s.opts.RetryCooldown
}

// layout сопоставляет имя колонки ее индексу в строке.
type layout struct {
	index map[string]int
	width int
}

func (l layout) col(name string) (int, bool) {
	i, ok := l.index[name]
	return i, ok
}

// rowWidth — длина перезаписываемой строки: ячейки правее заголовка тоже
// переписываются как были, иначе UpdateRow их бы стер.
func rowWidth(l layout, existing []string) int {
	return max(l.width, len(existing))
}

// resolveLayout читает заголовок и дописывает в конец недостающие колонки.
// Пустой заголовок записывается целиком.
func (s *Storage) resolveLayout(ctx context.Context) (layout, error) {
	header, err := s.table.Header(ctx)
	if err != nil {
		return layout{}, err
	}

	l := layout{index: make(map[string]int, len(header))}
	for i, name := range header {
		if name == "" {
			continue
		}
		if _, dup := l.index[name]; dup {
			return layout{}, fmt.Errorf("%w: column %q appears twice", ErrMalformedHeader, name)
		}
		l.index[name] = i
	}

	var missing []string
	for _, name := range Columns {
		if _, ok := l.index[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		reconciled := append(append([]string(nil), header...), missing...)
		if err := s.table.SetHeader(ctx, reconciled); err != nil {
			return layout{}, err
		}
		for i, name := range missing {
			l.index[name] = len(header) + i
		}
		header = reconciled
		s.log.Info("store header reconciled", slog.Any("added_columns", missing))
	}
	l.width = len(header)
	return l, nil
}
