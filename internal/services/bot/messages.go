package bot

import (
	"fmt"
	"time"

	"github.com/magabrotheeeer/numerology-bot/internal/lib/calendar"
	"github.com/magabrotheeeer/numerology-bot/internal/telegram"
)

const (
	msgWrongDate = "Неверный формат даты. Пришлите дату рождения в формате ДД.ММ.ГГГГ, например 05.03.1994."

	msgFutureDate = "Дата рождения не может быть в будущем. Проверьте дату и пришлите ее еще раз."

	msgRestricted = "Доступ ограничен. Чтобы продолжить получать прогнозы, свяжитесь с администратором."

	msgUnavailable = "Сервис временно недоступен, попробуйте чуть позже."

	msgUnavailableAskDate = "Не удалось загрузить ваши данные. Пришлите дату рождения в формате ДД.ММ.ГГГГ, " +
		"и я покажу краткий прогноз."

	msgNotSaved = "\n\nДату рождения сохранить не удалось, пришлите ее еще раз позже."

	msgPremium = "У вас премиум-доступ. Прогнозы доступны без ограничений."
)

func helpText() string {
	return "Я рассчитываю нумерологический прогноз на день по дате рождения.\n\n" +
		"• Пришлите дату рождения в формате ДД.ММ.ГГГГ\n" +
		"• «" + telegram.ButtonForecast + "» или /today — прогноз на сегодня\n" +
		"• «" + telegram.ButtonStatus + "» или /status — информация о доступе"
}

func greeting(firstName string) string {
	if firstName == "" {
		return "Здравствуйте!"
	}
	return fmt.Sprintf("Здравствуйте, %s!", firstName)
}

func welcomeText(firstName string, trialExpires *time.Time, hasBirthDate bool) string {
	text := greeting(firstName) + " Я буду присылать вам нумерологический прогноз на каждый день."
	if trialExpires != nil {
		text += fmt.Sprintf("\n\nПробный доступ открыт до %s включительно.", calendar.FormatDMY(*trialExpires))
	}
	if hasBirthDate {
		return text + "\n\nНажмите «" + telegram.ButtonForecast + "», чтобы получить прогноз."
	}
	return text + "\n\nПришлите дату рождения в формате ДД.ММ.ГГГГ, например 05.03.1994."
}

func restrictedWelcomeText(firstName string) string {
	return greeting(firstName) + "\n\n" + msgRestricted
}

func trialText(expires time.Time) string {
	return fmt.Sprintf("Пробный доступ действует до %s включительно.", calendar.FormatDMY(expires))
}
