// Package calendar содержит функции для работы с календарными датами без времени:
// нормализация "сегодня" в нужной временной зоне, форматы хранения и сравнение дат.
package calendar

import (
	"fmt"
	"time"
)

const (
	// ISOLayout — формат машинных дат в хранилище (trial_expires, registered_on).
	ISOLayout = "2006-01-02"
	// DMYLayout — формат даты рождения, который вводит пользователь и видит оператор таблицы.
	DMYLayout = "02.01.2006"
	// TimestampLayout — формат created_at и last_seen_at.
	TimestampLayout = "2006-01-02 15:04:05"
	// YearMonthLayout — формат last_full_ym.
	YearMonthLayout = "2006-01"
)

// DateOf отбрасывает время и возвращает полночь по UTC с тем же годом, месяцем и днём,
// что и t в его собственной зоне. Все календарные даты в приложении нормализуются так,
// чтобы сравнение через Equal/Before/After было корректным.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today возвращает сегодняшнюю дату в зоне loc.
func Today(now time.Time, loc *time.Location) time.Time {
	return DateOf(now.In(loc))
}

// AddDays сдвигает календарную дату на n дней.
func AddDays(d time.Time, n int) time.Time {
	return DateOf(d).AddDate(0, 0, n)
}

// SameDay сообщает, совпадают ли календарные даты.
func SameDay(a, b time.Time) bool {
	return DateOf(a).Equal(DateOf(b))
}

// YearMonth возвращает строку вида "2024-03".
func YearMonth(d time.Time) string {
	return d.Format(YearMonthLayout)
}

// FormatISO форматирует дату как YYYY-MM-DD.
func FormatISO(d time.Time) string {
	return d.Format(ISOLayout)
}

// ParseISO разбирает дату в формате YYYY-MM-DD.
func ParseISO(s string) (time.Time, error) {
	const op = "calendar.ParseISO"
	t, err := time.Parse(ISOLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", op, err)
	}
	return DateOf(t), nil
}

// FormatDMY форматирует дату как DD.MM.YYYY.
func FormatDMY(d time.Time) string {
	return d.Format(DMYLayout)
}

// ParseDMY строго разбирает дату в формате DD.MM.YYYY: день и месяц ровно из двух цифр,
// год из четырёх, несуществующие даты (31.02) отклоняются.
func ParseDMY(s string) (time.Time, error) {
	const op = "calendar.ParseDMY"
	t, err := time.Parse(DMYLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", op, err)
	}
	return DateOf(t), nil
}

// FormatTimestamp форматирует момент времени в зоне loc с точностью до секунды.
func FormatTimestamp(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(TimestampLayout)
}

// ParseTimestamp разбирает момент времени, записанный FormatTimestamp.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	const op = "calendar.ParseTimestamp"
	t, err := time.ParseInLocation(TimestampLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}
