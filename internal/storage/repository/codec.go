package repository

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/magabrotheeeer/numerology-bot/internal/lib/calendar"
	"github.com/magabrotheeeer/numerology-bot/internal/models"
)

// Имена колонок таблицы пользователей.
const (
	ColUserID       = "user_id"
	ColStatus       = "status"
	ColPlan         = "plan"
	ColTrialExpires = "trial_expires"
	ColBirthDate    = "birth_date"
	ColCreatedAt    = "created_at"
	ColLastSeenAt   = "last_seen_at"
	ColUsername     = "username"
	ColFirstName    = "first_name"
	ColLastName     = "last_name"
	ColRegisteredOn = "registered_on"
	ColLastFullYM   = "last_full_ym"
)

// Columns — логический порядок колонок, в котором создается новый заголовок.
var Columns = []string{
	ColUserID, ColStatus, ColPlan, ColTrialExpires, ColBirthDate, ColCreatedAt,
	ColLastSeenAt, ColUsername, ColFirstName, ColLastName, ColRegisteredOn, ColLastFullYM,
}

func cell(row []string, l layout, name string) string {
	i, ok := l.col(name)
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseUserID(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

// parseMachineDate читает ISO-дату; оператор мог ввести дату руками, поэтому
// DD.MM.YYYY тоже принимается.
func parseMachineDate(s string) (time.Time, error) {
	if d, err := calendar.ParseISO(s); err == nil {
		return d, nil
	}
	return calendar.ParseDMY(s)
}

// parseBirthDate читает DD.MM.YYYY, а также ISO.
func parseBirthDate(s string) (time.Time, error) {
	if d, err := calendar.ParseDMY(s); err == nil {
		return d, nil
	}
	return calendar.ParseISO(s)
}

// decode собирает запись из строки. Ошибку возвращает только отсутствие или
// нечитаемость user_id; прочие дефекты (неизвестный тариф, битая дата) попадают
// в warnings, а поле остается пустым, и дальше доступ решается по принципу fail closed.
func decode(row []string, l layout, loc *time.Location) (models.UserRecord, []error, error) {
	var rec models.UserRecord
	var warnings []error

	id, err := parseUserID(cell(row, l, ColUserID))
	if err != nil {
		return rec, nil, fmt.Errorf("bad user_id: %w", err)
	}
	rec.UserID = id

	if rec.Status, err = models.ParseStatus(cell(row, l, ColStatus)); err != nil {
		warnings = append(warnings, err)
	}
	if rec.Plan, err = models.ParsePlan(cell(row, l, ColPlan)); err != nil {
		warnings = append(warnings, err)
	}

	if v := cell(row, l, ColTrialExpires); v != "" {
		if d, err := parseMachineDate(v); err == nil {
			rec.TrialExpires = &d
		} else {
			warnings = append(warnings, fmt.Errorf("%s: %w", ColTrialExpires, err))
		}
	}
	if v := cell(row, l, ColBirthDate); v != "" {
		if d, err := parseBirthDate(v); err == nil {
			rec.BirthDate = &d
		} else {
			warnings = append(warnings, fmt.Errorf("%s: %w", ColBirthDate, err))
		}
	}
	if v := cell(row, l, ColRegisteredOn); v != "" {
		if d, err := parseMachineDate(v); err == nil {
			rec.RegisteredOn = d
		} else {
			warnings = append(warnings, fmt.Errorf("%s: %w", ColRegisteredOn, err))
		}
	}
	if v := cell(row, l, ColCreatedAt); v != "" {
		if ts, err := calendar.ParseTimestamp(v, loc); err == nil {
			rec.CreatedAt = ts
		} else {
			warnings = append(warnings, fmt.Errorf("%s: %w", ColCreatedAt, err))
		}
	}
	if v := cell(row, l, ColLastSeenAt); v != "" {
		if ts, err := calendar.ParseTimestamp(v, loc); err == nil {
			rec.LastSeenAt = ts
		} else {
			warnings = append(warnings, fmt.Errorf("%s: %w", ColLastSeenAt, err))
		}
	}

	rec.LastFullYM = cell(row, l, ColLastFullYM)
	rec.Username = cell(row, l, ColUsername)
	rec.FirstName = cell(row, l, ColFirstName)
	rec.LastName = cell(row, l, ColLastName)

	return rec, warnings, nil
}

// encode строит полную строку ширины l.width. Колонки, которых не знает приложение,
// копируются из existing. Неизвестные status/plan и пустые значения поверх
// нечитаемых ячеек не записываются, чтобы не затереть ручную правку оператора.
func encode(rec models.UserRecord, l layout, existing []string, loc *time.Location) []string {
	row := make([]string, rowWidth(l, existing))
	copy(row, existing)

	set := func(name, value string) {
		if i, ok := l.col(name); ok {
			row[i] = value
		}
	}
	// setOptional не стирает ячейку, которую decode не смог разобрать.
	setOptional := func(name, value string, parse func(string) error) {
		if value == "" {
			if old := cell(existing, l, name); old != "" && parse(old) != nil {
				return
			}
		}
		set(name, value)
	}
	dateParser := func(p func(string) (time.Time, error)) func(string) error {
		return func(s string) error {
			_, err := p(s)
			return err
		}
	}
	tsParser := func(s string) error {
		_, err := calendar.ParseTimestamp(s, loc)
		return err
	}

	set(ColUserID, strconv.FormatInt(rec.UserID, 10))
	if rec.Status != models.StatusUnknown {
		set(ColStatus, rec.Status.String())
	}
	if rec.Plan != models.PlanUnknown {
		set(ColPlan, rec.Plan.String())
	}

	setOptional(ColTrialExpires, formatDate(rec.TrialExpires, calendar.FormatISO), dateParser(parseMachineDate))
	setOptional(ColBirthDate, formatDate(rec.BirthDate, calendar.FormatDMY), dateParser(parseBirthDate))
	setOptional(ColRegisteredOn, formatTime(rec.RegisteredOn, calendar.FormatISO), dateParser(parseMachineDate))
	setOptional(ColCreatedAt, formatTimestamp(rec.CreatedAt, loc), tsParser)
	setOptional(ColLastSeenAt, formatTimestamp(rec.LastSeenAt, loc), tsParser)

	set(ColUsername, rec.Username)
	set(ColFirstName, rec.FirstName)
	set(ColLastName, rec.LastName)
	set(ColLastFullYM, rec.LastFullYM)

	return row
}

func formatDate(d *time.Time, f func(time.Time) string) string {
	if d == nil {
		return ""
	}
	return f(*d)
}

func formatTime(d time.Time, f func(time.Time) string) string {
	if d.IsZero() {
		return ""
	}
	return f(d)
}

func formatTimestamp(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return calendar.FormatTimestamp(t, loc)
}

// isUnknownEnum сообщает, относится ли предупреждение декодера к неизвестному тарифу или статусу.
func isUnknownEnum(err error) bool {
	return errors.Is(err, models.ErrUnknownPlan) || errors.Is(err, models.ErrUnknownStatus)
}
