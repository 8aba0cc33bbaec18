// Package models содержит доменные структуры бота: запись пользователя,
// входящее событие мессенджера и уведомления планировщика.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/magabrotheeeer/numerology-bot/internal/lib/calendar"
)

var (
	// ErrUnknownStatus — в строке хранилища статус вне известного набора.
	ErrUnknownStatus = errors.New("unknown status value")
	// ErrUnknownPlan — в строке хранилища тариф вне известного набора.
	ErrUnknownPlan = errors.New("unknown plan value")
	// ErrInvalidBirthDate — дата рождения не в формате DD.MM.YYYY.
	ErrInvalidBirthDate = errors.New("invalid birth date format")
	// ErrBirthDateInFuture — дата рождения позже сегодняшней.
	ErrBirthDateInFuture = errors.New("birth date is in the future")
)

// Status определяет, предоставляется ли пользователю доступ вообще.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusActive
	StatusBlocked
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// ParseStatus разбирает значение из хранилища. Неизвестное значение
// возвращает StatusUnknown и ErrUnknownStatus.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return StatusActive, nil
	case "blocked":
		return StatusBlocked, nil
	default:
		return StatusUnknown, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

// Plan определяет, какие правила доступа применяются.
type Plan uint8

const (
	PlanUnknown Plan = iota
	PlanTrial
	PlanPremium
	PlanBlocked
)

func (p Plan) String() string {
	switch p {
	case PlanTrial:
		return "trial"
	case PlanPremium:
		return "premium"
	case PlanBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// ParsePlan разбирает значение из хранилища. Неизвестное значение
// возвращает PlanUnknown и ErrUnknownPlan.
func ParsePlan(s string) (Plan, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trial":
		return PlanTrial, nil
	case "premium":
		return PlanPremium, nil
	case "blocked":
		return PlanBlocked, nil
	default:
		return PlanUnknown, fmt.Errorf("%w: %q", ErrUnknownPlan, s)
	}
}

// Profile — денормализованные поля профиля из мессенджера.
type Profile struct {
	Username  string
	FirstName string
	LastName  string
}

// UserRecord представляет строку пользователя в таблице.
// Календарные даты нормализованы через calendar.DateOf.
type UserRecord struct {
	UserID       int64      // Идентификатор пользователя Telegram, неизменяемый ключ
	Status       Status     // active или blocked
	Plan         Plan       // trial, premium или blocked
	TrialExpires *time.Time // Последний день пробного периода, учитывается только при PlanTrial
	BirthDate    *time.Time // Дата рождения; без неё прогноз не строится
	CreatedAt    time.Time
	LastSeenAt   time.Time
	RegisteredOn time.Time // Дата первого обращения
	LastFullYM   string    // Месяц последнего полного прогноза, "2006-01"
	Profile
}

// NewUserRecord создает запись нового пользователя с пробным периодом на trialDays дней.
func NewUserRecord(id int64, profile Profile, now time.Time, today time.Time, trialDays int) UserRecord {
	expires := calendar.AddDays(today, trialDays)
	return UserRecord{
		UserID:       id,
		Status:       StatusActive,
		Plan:         PlanTrial,
		TrialExpires: &expires,
		CreatedAt:    now,
		LastSeenAt:   now,
		RegisteredOn: calendar.DateOf(today),
		Profile:      profile,
	}
}

// SetBirthDate записывает дату рождения. Если дата изменилась, отметка о
// полном прогнозе в этом месяце сбрасывается. Возвращает true, если запись изменилась.
func (u *UserRecord) SetBirthDate(birth time.Time) bool {
	birth = calendar.DateOf(birth)
	if u.BirthDate != nil && u.BirthDate.Equal(birth) {
		return false
	}
	u.BirthDate = &birth
	u.LastFullYM = ""
	return true
}

// Touch обновляет last_seen_at и профиль. Возвращает true, если изменился профиль.
func (u *UserRecord) Touch(now time.Time, profile Profile) bool {
	u.LastSeenAt = now
	if profile == (Profile{}) || profile == u.Profile {
		return false
	}
	u.Profile = profile
	return true
}

// ParseBirthDate проверяет ввод пользователя: строгий формат DD.MM.YYYY и дата не позже today.
func ParseBirthDate(s string, today time.Time) (time.Time, error) {
	birth, err := calendar.ParseDMY(strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrInvalidBirthDate, err)
	}
	if birth.After(calendar.DateOf(today)) {
		return time.Time{}, ErrBirthDateInFuture
	}
	return birth, nil
}
