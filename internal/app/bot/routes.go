package bot

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/magabrotheeeer/numerology-bot/internal/config"
	"github.com/magabrotheeeer/numerology-bot/internal/http/handlers/health"
	"github.com/magabrotheeeer/numerology-bot/internal/http/handlers/webhook"
	"github.com/magabrotheeeer/numerology-bot/internal/http/middlewarectx"
	"github.com/magabrotheeeer/numerology-bot/internal/metrics"
	"github.com/magabrotheeeer/numerology-bot/internal/telegram"
)

// RegisterRoutes регистрирует маршруты бота: проверку работоспособности, метрики
// и, в режиме вебхука, прием обновлений.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config, secret string,
	dispatcher webhook.Dispatcher, m *metrics.Metrics, gatherer prometheus.Gatherer) {
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Get("/", health.New().ServeHTTP)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if cfg.Mode == config.ModeWebhook {
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst, logger))
			r.Post(telegram.WebhookPath+"{"+webhook.SecretParam+"}", webhook.New(logger, secret, dispatcher, m).ServeHTTP)
		})
	}
}
