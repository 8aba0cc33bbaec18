package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/magabrotheeeer/numerology-bot/internal/cache"
	"github.com/magabrotheeeer/numerology-bot/internal/lib/sl"
	"github.com/magabrotheeeer/numerology-bot/internal/metrics"
	"github.com/magabrotheeeer/numerology-bot/internal/models"
)

// EventHandler обрабатывает одно входящее событие.
type EventHandler interface {
	Handle(ctx context.Context, ev models.InboundEvent) error
}

// Claimer отмечает обновление как принятое; false — такое обновление уже было.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Dispatcher запускает обработку каждого события в отдельной горутине с
// ограничением по времени и отбрасывает повторно доставленные обновления.
type Dispatcher struct {
	handler EventHandler
	claims  Claimer
	metrics *metrics.Metrics
	log     *slog.Logger
	timeout time.Duration
	ttl     time.Duration

	wg sync.WaitGroup
}

// NewDispatcher создает Dispatcher. timeout ограничивает обработку одного события,
// ttl — сколько помнить идентификаторы обновлений.
func NewDispatcher(handler EventHandler, claims Claimer, m *metrics.Metrics, log *slog.Logger,
	timeout, ttl time.Duration) *Dispatcher {
	return &Dispatcher{
		handler: handler,
		claims:  claims,
		metrics: m,
		log:     log,
		timeout: timeout,
		ttl:     ttl,
	}
}

// Dispatch принимает событие и сразу возвращает управление. Обработка не
// зависит от отмены ctx: ответ Telegram на вебхук уже отправлен.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.InboundEvent) {
	claimed, err := d.claims.Claim(ctx, cache.UpdateKey(ev.UpdateID), d.ttl)
	if err != nil {
		d.log.Warn("update dedup unavailable", sl.Err(err), slog.Int("update_id", ev.UpdateID))
		claimed = true
	}
	if !claimed {
		d.metrics.Updates.WithLabelValues("duplicate").Inc()
		d.log.Debug("duplicate update skipped", slog.Int("update_id", ev.UpdateID))
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := d.handler.Handle(hctx, ev); err != nil {
			d.metrics.Updates.WithLabelValues("failed").Inc()
			d.log.Error("failed to handle update", sl.Err(err),
				sl.UserID(ev.UserID), slog.Int("update_id", ev.UpdateID))
			return
		}
		d.metrics.Updates.WithLabelValues("handled").Inc()
	}()
}

// Wait дожидается завершения всех начатых обработок.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
