// Package webhook принимает обновления Telegram, присланные на вебхук.
//
// Обработчик проверяет секрет в пути, разбирает обновление и передает его
// диспетчеру, не дожидаясь ответа пользователю: Telegram ждет быстрый 200.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/magabrotheeeer/numerology-bot/internal/http/response"
	"github.com/magabrotheeeer/numerology-bot/internal/lib/sl"
	"github.com/magabrotheeeer/numerology-bot/internal/metrics"
	"github.com/magabrotheeeer/numerology-bot/internal/models"
	"github.com/magabrotheeeer/numerology-bot/internal/telegram"
)

// SecretParam — имя параметра маршрута с секретом.
const SecretParam = "secret"

// Dispatcher запускает обработку события.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev models.InboundEvent)
}

type Handler struct {
	log        *slog.Logger
	secret     string
	dispatcher Dispatcher
	metrics    *metrics.Metrics
}

func New(log *slog.Logger, secret string, dispatcher Dispatcher, m *metrics.Metrics) *Handler {
	return &Handler{
		log:        log,
		secret:     secret,
		dispatcher: dispatcher,
		metrics:    m,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	got := chi.URLParam(r, SecretParam)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		log.Warn("webhook secret mismatch")
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("not found"))
		return
	}

	var upd tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		log.Error("failed to decode update", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	ev, ok := telegram.EventFromUpdate(upd)
	if !ok {
		h.metrics.Updates.WithLabelValues("ignored").Inc()
		log.Debug("update without text ignored", slog.Int("update_id", upd.UpdateID))
		render.JSON(w, r, response.OK())
		return
	}

	h.dispatcher.Dispatch(r.Context(), ev)
	render.JSON(w, r, response.OK())
}
