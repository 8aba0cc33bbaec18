// Package sender доставляет пользователям уведомления из очереди планировщика.
package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/numerology-bot/internal/lib/sl"
	"github.com/magabrotheeeer/numerology-bot/internal/metrics"
	"github.com/magabrotheeeer/numerology-bot/internal/models"
	"github.com/magabrotheeeer/numerology-bot/internal/rabbitmq"
	"github.com/magabrotheeeer/numerology-bot/internal/telegram"
)

type Transport interface {
	Send(ctx context.Context, chatID int64, text string) error
}

type SenderService struct {
	transport Transport
	validate  *validator.Validate
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// NewSenderService создает новый экземпляр SenderService.
func NewSenderService(transport Transport, m *metrics.Metrics, log *slog.Logger) *SenderService {
	return &SenderService{
		transport: transport,
		validate:  validator.New(),
		metrics:   m,
		log:       log,
	}
}

// HandleNotification разбирает сообщение очереди и отправляет текст пользователю.
// Некорректные сообщения и недоступные чаты помечаются rabbitmq.ErrDropMessage.
func (s *SenderService) HandleNotification(ctx context.Context, body []byte) error {
	const op = "sender.HandleNotification"

	var n models.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return fmt.Errorf("%s: %w: %w", op, rabbitmq.ErrDropMessage, err)
	}
	if err := s.validate.Struct(n); err != nil {
		return fmt.Errorf("%s: %w: %w", op, rabbitmq.ErrDropMessage, err)
	}

	log := s.log.With(sl.UserID(n.UserID), slog.String("kind", string(n.Kind)), slog.String("notification_id", n.ID))

	// В личном чате Telegram идентификатор чата совпадает с идентификатором пользователя.
	if err := s.transport.Send(ctx, n.UserID, Render(n)); err != nil {
		if telegram.IsUnreachable(err) {
			s.metrics.Notifications.WithLabelValues(string(n.Kind), "unreachable").Inc()
			return fmt.Errorf("%s: %w: %w", op, rabbitmq.ErrDropMessage, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.Notifications.WithLabelValues(string(n.Kind), "delivered").Inc()
	log.Info("notification delivered")
	return nil
}

// Render возвращает текст уведомления.
func Render(n models.Notification) string {
	greeting := "Здравствуйте!"
	if n.FirstName != "" {
		greeting = fmt.Sprintf("Здравствуйте, %s!", n.FirstName)
	}
	switch n.Kind {
	case models.NotificationTrialEndsTomorrow:
		text := greeting + "\n\nЗавтра последний день пробного доступа к ежедневным прогнозам"
		if n.TrialExpires != "" {
			text += " (" + n.TrialExpires + ")"
		}
		return text + ". Чтобы продолжить получать прогнозы, свяжитесь с администратором."
	default:
		return greeting + "\n\nПробный доступ к ежедневным прогнозам закончился. " +
			"Чтобы продолжить получать прогнозы, свяжитесь с администратором."
	}
}
