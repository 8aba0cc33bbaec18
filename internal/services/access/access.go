// Package access решает, получает ли пользователь прогноз и насколько подробный.
// Решения принимаются по записи пользователя и сегодняшней дате, без обращения к хранилищу:
// сохранить измененную запись — задача вызывающего кода.
package access

import (
	"fmt"
	"strings"
	"time"

	"github.com/magabrotheeeer/numerology-bot/internal/lib/calendar"
	"github.com/magabrotheeeer/numerology-bot/internal/models"
)

// State — состояние доступа.
type State uint8

const (
	StateBlocked State = iota
	StateTrialActive
	StatePremiumActive
)

func (s State) String() string {
	switch s {
	case StateTrialActive:
		return "TRIAL_ACTIVE"
	case StatePremiumActive:
		return "PREMIUM_ACTIVE"
	default:
		return "BLOCKED"
	}
}

// Allowed сообщает, можно ли выдавать прогноз.
func (s State) Allowed() bool {
	return s != StateBlocked
}

// BlockPolicy определяет, какое поле меняется при истечении пробного периода.
type BlockPolicy string

const (
	// BlockStatus переводит status в blocked, plan остается trial.
	BlockStatus BlockPolicy = "status"
	// BlockPlan переводит plan в blocked, status остается active.
	BlockPlan BlockPolicy = "plan"
)

// ParseBlockPolicy разбирает значение из конфига.
func ParseBlockPolicy(s string) (BlockPolicy, error) {
	switch p := BlockPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case BlockStatus, BlockPlan:
		return p, nil
	default:
		return "", fmt.Errorf("access.ParseBlockPolicy: unknown policy %q", s)
	}
}

// Decision — результат проверки доступа. Если Changed, Record содержит
// автоматически заблокированную запись, которую нужно сохранить.
type Decision struct {
	State   State
	Changed bool
	Record  models.UserRecord
}

// Machine применяет правила доступа.
type Machine struct {
	policy BlockPolicy
}

// New создает Machine с политикой блокировки policy.
func New(policy BlockPolicy) *Machine {
	if policy == "" {
		policy = BlockStatus
	}
	return &Machine{policy: policy}
}

// Policy возвращает политику блокировки.
func (m *Machine) Policy() BlockPolicy {
	return m.policy
}

// Evaluate определяет состояние доступа на дату today. Пробный период включает
// день trial_expires; на следующий день запись блокируется. Повторная проверка
// уже заблокированной записи ничего не меняет.
func (m *Machine) Evaluate(rec models.UserRecord, today time.Time) Decision {
	today = calendar.DateOf(today)

	if rec.Status != models.StatusActive {
		return Decision{State: StateBlocked, Record: rec}
	}

	switch rec.Plan {
	case models.PlanPremium:
		return Decision{State: StatePremiumActive, Record: rec}
	case models.PlanTrial:
		if rec.TrialExpires == nil {
			return Decision{State: StateBlocked, Record: rec}
		}
		if !today.After(calendar.DateOf(*rec.TrialExpires)) {
			return Decision{State: StateTrialActive, Record: rec}
		}
		blocked := rec
		switch m.policy {
		case BlockPlan:
			blocked.Plan = models.PlanBlocked
		default:
			blocked.Status = models.StatusBlocked
		}
		return Decision{State: StateBlocked, Changed: true, Record: blocked}
	default:
		return Decision{State: StateBlocked, Record: rec}
	}
}

// Fallback — состояние, которое используется, когда хранилище недоступно:
// пробный доступ без записи, премиум никогда не выдается.
func Fallback() State {
	return StateTrialActive
}

// ShouldRenderFull решает, нужен ли полный прогноз: первого числа каждого месяца
// всегда, а в день регистрации — один раз, если в этом месяце полного прогноза еще не было.
func ShouldRenderFull(rec models.UserRecord, today time.Time) bool {
	today = calendar.DateOf(today)
	if today.Day() == 1 {
		return true
	}
	return calendar.SameDay(rec.RegisteredOn, today) && rec.LastFullYM != calendar.YearMonth(today)
}

// ExpiresTomorrow сообщает, что активный пробный период заканчивается завтра,
// то есть today — предпоследний доступный день.
func ExpiresTomorrow(rec models.UserRecord, today time.Time) bool {
	if rec.Status != models.StatusActive || rec.Plan != models.PlanTrial || rec.TrialExpires == nil {
		return false
	}
	return calendar.SameDay(*rec.TrialExpires, calendar.AddDays(today, 1))
}
