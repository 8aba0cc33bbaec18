// Package sender собирает процесс отправки уведомлений из очереди.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/numerology-bot/internal/config"
	"github.com/magabrotheeeer/numerology-bot/internal/lib/sl"
	"github.com/magabrotheeeer/numerology-bot/internal/metrics"
	"github.com/magabrotheeeer/numerology-bot/internal/rabbitmq"
	senderservice "github.com/magabrotheeeer/numerology-bot/internal/services/sender"
	"github.com/magabrotheeeer/numerology-bot/internal/telegram"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	conn          *amqp.Connection
	ch            *amqp.Channel
	server        *http.Server
	senderService *senderservice.SenderService
	logger        *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.sender.New"
	client, err := telegram.New(cfg.Token, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.NotificationQueues())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var server *http.Server
	if cfg.SenderAddress != "" {
		router := chi.NewRouter()
		RegisterRoutes(router, reg)
		server = &http.Server{
			Addr:         cfg.SenderAddress,
			Handler:      router,
			ReadTimeout:  cfg.TimeoutHTTP,
			WriteTimeout: cfg.TimeoutHTTP,
			IdleTimeout:  cfg.IdleTimeout,
		}
	}

	return &App{
		conn:          conn,
		ch:            ch,
		server:        server,
		senderService: senderservice.NewSenderService(client, m, logger),
		logger:        logger,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, q := range rabbitmq.NotificationQueues() {
		g.Go(func() error {
			return rabbitmq.ConsumerMessage(gctx, a.ch, q.QueueName, a.senderService.HandleNotification, a.logger)
		})
	}

	if a.server != nil {
		g.Go(func() error {
			a.logger.Info("metrics server starting on", slog.String("address", a.server.Addr))
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return a.server.Shutdown(timeoutCtx)
		})
	}

	err := g.Wait()
	a.logger.Info("sender service shutting down gracefully")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	return err
}
