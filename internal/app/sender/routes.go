package sender

import (
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/magabrotheeeer/numerology-bot/internal/http/handlers/health"
)

// RegisterRoutes регистрирует служебные маршруты процесса отправки: проверку работоспособности и метрики.
func RegisterRoutes(r chi.Router, gatherer prometheus.Gatherer) {
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
	)

	r.Get("/", health.New().ServeHTTP)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
