package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/magabrotheeeer/numerology-bot/internal/lib/calendar"
	"github.com/magabrotheeeer/numerology-bot/internal/lib/sl"
	"github.com/magabrotheeeer/numerology-bot/internal/models"
)

// locate ищет первую строку с user_id == id. Возвращает -1, если строки нет.
// Несколько совпадений означают гонку записи: это логируется для оператора,
// а для чтения используется первая строка.
func (s *Storage) locate(rows [][]string, l layout, id int64) int {
	want := strconv.FormatInt(id, 10)
	found, count := -1, 0
	for i, row := range rows {
		v := cell(row, l, ColUserID)
		if v != want {
			if parsed, err := parseUserID(v); err != nil || parsed != id {
				continue
			}
		}
		if found < 0 {
			found = i
		}
		count++
	}
	if count > 1 {
		s.metrics.DuplicateRows.Inc()
		s.log.Warn("duplicate rows for user, using the first one",
			sl.UserID(id), slog.Int("rows", count), sl.Err(ErrDuplicateUserRow))
	}
	return found
}

func (s *Storage) logWarnings(id int64, warnings []error) {
	for _, w := range warnings {
		if isUnknownEnum(w) {
			s.log.Warn("unknown plan or status in store, access will be denied", sl.UserID(id), sl.Err(w))
			continue
		}
		s.log.Warn("unreadable cell in user row", sl.UserID(id), sl.Err(w))
	}
}

// Find возвращает запись пользователя. found=false означает, что строки нет.
func (s *Storage) Find(ctx context.Context, id int64) (models.UserRecord, bool, error) {
	const op = "storage.Find"
	var rec models.UserRecord
	var found bool

	err := s.call(ctx, op, func(ctx context.Context) error {
		l, err := s.resolveLayout(ctx)
		if err != nil {
			return err
		}
		rows, err := s.table.Rows(ctx)
		if err != nil {
			return err
		}
		idx := s.locate(rows, l, id)
		if idx < 0 {
			return nil
		}
		r, warnings, err := decode(rows[idx], l, s.opts.Location)
		if err != nil {
			return err
		}
		s.logWarnings(id, warnings)
		rec, found = r, true
		return nil
	})
	if err != nil {
		return models.UserRecord{}, false, err
	}
	return rec, found, nil
}

// Upsert записывает запись целиком: добавляет строку, если пользователя нет,
// иначе перезаписывает всю найденную строку.
func (s *Storage) Upsert(ctx context.Context, rec models.UserRecord) error {
	const op = "storage.Upsert"
	return s.call(ctx, op, func(ctx context.Context) error {
		l, err := s.resolveLayout(ctx)
		if err != nil {
			return err
		}
		rows, err := s.table.Rows(ctx)
		if err != nil {
			return err
		}
		idx := s.locate(rows, l, rec.UserID)
		if idx < 0 {
			return s.table.AppendRow(ctx, encode(rec, l, nil, s.opts.Location))
		}
		return s.table.UpdateRow(ctx, idx, encode(rec, l, rows[idx], s.opts.Location))
	})
}

// SetField меняет одну колонку в строке пользователя, не зная остальных полей записи.
func (s *Storage) SetField(ctx context.Context, id int64, column, value string) error {
	const op = "storage.SetField"
	err := s.call(ctx, op, func(ctx context.Context) error {
		l, err := s.resolveLayout(ctx)
		if err != nil {
			return err
		}
		col, ok := l.col(column)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownColumn, column)
		}
		rows, err := s.table.Rows(ctx)
		if err != nil {
			return err
		}
		idx := s.locate(rows, l, id)
		if idx < 0 {
			return ErrUserNotFound
		}
		row := make([]string, rowWidth(l, rows[idx]))
		copy(row, rows[idx])
		row[col] = value
		return s.table.UpdateRow(ctx, idx, row)
	})
	if err != nil && !errors.Is(err, ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return err
}

// Touch обновляет last_seen_at.
func (s *Storage) Touch(ctx context.Context, id int64, at time.Time) error {
	return s.SetField(ctx, id, ColLastSeenAt, calendar.FormatTimestamp(at, s.opts.Location))
}

// List возвращает все читаемые записи. Строки с нечитаемым user_id и повторные
// строки одного пользователя пропускаются.
func (s *Storage) List(ctx context.Context) ([]models.UserRecord, error) {
	const op = "storage.List"
	var out []models.UserRecord

	err := s.call(ctx, op, func(ctx context.Context) error {
		l, err := s.resolveLayout(ctx)
		if err != nil {
			return err
		}
		rows, err := s.table.Rows(ctx)
		if err != nil {
			return err
		}
		seen := make(map[int64]struct{}, len(rows))
		for i, row := range rows {
			rec, warnings, err := decode(row, l, s.opts.Location)
			if err != nil {
				if cell(row, l, ColUserID) != "" {
					s.log.Warn("skipping unreadable row", slog.Int("row", i), sl.Err(err))
				}
				continue
			}
			if _, dup := seen[rec.UserID]; dup {
				s.metrics.DuplicateRows.Inc()
				s.log.Warn("duplicate rows for user, using the first one",
					sl.UserID(rec.UserID), sl.Err(ErrDuplicateUserRow))
				continue
			}
			seen[rec.UserID] = struct{}{}
			s.logWarnings(rec.UserID, warnings)
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
