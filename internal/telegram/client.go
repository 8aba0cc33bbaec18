// Package telegram — транспорт бота: отправка сообщений, установка вебхука,
// long polling и преобразование обновлений Telegram во входящие события.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/magabrotheeeer/numerology-bot/internal/models"
)

// Кнопки основной клавиатуры.
const (
	ButtonForecast = "Прогноз на сегодня"
	ButtonStatus   = "Мой доступ"
)

// WebhookPath — путь вебхука; последний сегмент — секрет.
const WebhookPath = "/webhook/"

// Client отправляет сообщения через Bot API.
type Client struct {
	api *tgbotapi.BotAPI
	log *slog.Logger
}

// New авторизует бота по токену.
func New(token string, log *slog.Logger) (*Client, error) {
	return NewWithEndpoint(token, tgbotapi.APIEndpoint, http.DefaultClient, log)
}

// NewWithEndpoint авторизует бота на заданном адресе Bot API.
func NewWithEndpoint(token, endpoint string, httpClient *http.Client, log *slog.Logger) (*Client, error) {
	const op = "telegram.New"
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("authorized on telegram", slog.String("bot", api.Self.UserName))
	return &Client{api: api, log: log}, nil
}

// MainKeyboard возвращает клавиатуру с основными действиями.
func MainKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(ButtonForecast),
			tgbotapi.NewKeyboardButton(ButtonStatus),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

// Send отправляет текст в чат вместе с основной клавиатурой.
func (c *Client) Send(ctx context.Context, chatID int64, text string) error {
	const op = "telegram.Send"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = MainKeyboard()
	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// IsUnreachable сообщает, что чат недоступен навсегда: пользователь заблокировал
// бота или удалил аккаунт. Повторять отправку бессмысленно.
func IsUnreachable(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusForbidden || apiErr.Code == http.StatusBadRequest
}

// SetWebhook регистрирует вебхук publicURL/webhook/<secret>.
func (c *Client) SetWebhook(publicURL, secret string) error {
	const op = "telegram.SetWebhook"
	wh, err := tgbotapi.NewWebhook(strings.TrimRight(publicURL, "/") + WebhookPath + secret)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := c.api.Request(wh); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	c.log.Info("webhook registered", slog.String("url", publicURL+WebhookPath+"***"))
	return nil
}

// Poll получает обновления long polling'ом до отмены ctx и передает их handle.
func (c *Client) Poll(ctx context.Context, timeout int, handle func(tgbotapi.Update)) error {
	const op = "telegram.Poll"
	if _, err := c.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout
	updates := c.api.GetUpdatesChan(u)
	c.log.Info("long polling started")
	for {
		select {
		case <-ctx.Done():
			c.api.StopReceivingUpdates()
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			handle(upd)
		}
	}
}

// EventFromUpdate извлекает текстовое сообщение пользователя. ok=false для
// обновлений без текста или без отправителя.
func EventFromUpdate(u tgbotapi.Update) (models.InboundEvent, bool) {
	m := u.Message
	if m == nil || m.From == nil || m.Chat == nil || m.Text == "" {
		return models.InboundEvent{}, false
	}
	return models.InboundEvent{
		UpdateID: u.UpdateID,
		UserID:   m.From.ID,
		ChatID:   m.Chat.ID,
		Text:     m.Text,
		Profile: models.Profile{
			Username:  m.From.UserName,
			FirstName: m.From.FirstName,
			LastName:  m.From.LastName,
		},
	}, true
}
