// Package forecast собирает текст ежедневного прогноза из чисел дня и таблицы толкований.
package forecast

import (
	"fmt"
	"strings"
	"time"

	"github.com/magabrotheeeer/numerology-bot/internal/lib/calendar"
	"github.com/magabrotheeeer/numerology-bot/internal/lib/numerology"
)

// AskBirthDateText отправляется, если дата рождения еще не известна.
const AskBirthDateText = "Чтобы рассчитать прогноз, пришлите дату рождения в формате ДД.ММ.ГГГГ, например 05.03.1994."

const unfavorableDayText = "⚠️ Сегодня неблагоприятный день: не начинайте важных дел, " +
	"отложите крупные покупки и подписание договоров."

// unfavorableDays — числа месяца, в которые описание дня заменяется предупреждением.
var unfavorableDays = map[int]bool{10: true, 20: true, 30: true}

// IsUnfavorable сообщает, является ли день неблагоприятным.
func IsUnfavorable(day time.Time) bool {
	return unfavorableDays[day.Day()]
}

// Composer формирует текст прогноза.
type Composer struct {
	texts *Texts
}

// NewComposer создает Composer с таблицей толкований texts.
func NewComposer(texts *Texts) *Composer {
	return &Composer{texts: texts}
}

// Compose возвращает текст прогноза на today. Без даты рождения возвращается просьба
// ее прислать. В полном режиме год и месяц описываются развернуто, в кратком — одной
// строкой; личный день всегда описывается полностью.
func (c *Composer) Compose(birth *time.Time, today time.Time, full bool) string {
	if birth == nil {
		return AskBirthDateText
	}
	n := numerology.DayNumbers(*birth, today)

	detail := DetailShort
	if full {
		detail = DetailFull
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🔮 Прогноз на %s\n\n", calendar.FormatDMY(today))

	if IsUnfavorable(today) {
		b.WriteString(unfavorableDayText)
	} else {
		fmt.Fprintf(&b, "Число дня: %d\n%s", n.General, c.texts.Lookup(CategoryGeneral, detail, n.General))
	}
	b.WriteString("\n\n")

	c.writePeriod(&b, "Личный год", CategoryPersonalYear, n.PersonalYear, full)
	c.writePeriod(&b, "Личный месяц", CategoryPersonalMonth, n.PersonalMonth, full)

	fmt.Fprintf(&b, "Личный день: %d\n%s", n.PersonalDay, c.texts.Lookup(CategoryPersonalDay, DetailFull, n.PersonalDay))

	return b.String()
}

func (c *Composer) writePeriod(b *strings.Builder, title string, cat Category, value int, full bool) {
	if full {
		fmt.Fprintf(b, "%s: %d\n%s\n\n", title, value, c.texts.Lookup(cat, DetailFull, value))
		return
	}
	fmt.Fprintf(b, "%s: %d — %s\n\n", title, value, c.texts.Lookup(cat, DetailShort, value))
}
