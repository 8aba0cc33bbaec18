// Package bot собирает процесс бота: хранилище, сценарии, транспорт Telegram,
// HTTP-сервер и ежедневный обход пробных периодов.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/numerology-bot/internal/cache"
	"github.com/magabrotheeeer/numerology-bot/internal/config"
	"github.com/magabrotheeeer/numerology-bot/internal/lib/keylock"
	"github.com/magabrotheeeer/numerology-bot/internal/lib/sl"
	"github.com/magabrotheeeer/numerology-bot/internal/metrics"
	"github.com/magabrotheeeer/numerology-bot/internal/rabbitmq"
	"github.com/magabrotheeeer/numerology-bot/internal/services/access"
	botservice "github.com/magabrotheeeer/numerology-bot/internal/services/bot"
	"github.com/magabrotheeeer/numerology-bot/internal/services/forecast"
	"github.com/magabrotheeeer/numerology-bot/internal/services/scheduler"
	"github.com/magabrotheeeer/numerology-bot/internal/storage/repository"
	"github.com/magabrotheeeer/numerology-bot/internal/storage/sheet"
	"github.com/magabrotheeeer/numerology-bot/internal/telegram"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	server     *http.Server
	client     *telegram.Client
	dispatcher *botservice.Dispatcher
	scheduler  *scheduler.SchedulerService
	cache      cache.Store
	secret     string

	conn *amqp.Connection
	ch   *amqp.Channel
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.bot.New"
	loc := cfg.Location()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	table, err := newTable(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	repo := repository.New(table, logger, m, repository.Options{
		Timeout:       cfg.Storage.Timeout,
		RetryCooldown: cfg.RetryCooldown,
		Location:      loc,
	})

	texts, err := loadTexts(cfg.TextsPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	policy, err := access.ParseBlockPolicy(cfg.BlockPolicy)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	machine := access.New(policy)
	locks := keylock.New()

	client, err := telegram.New(cfg.Token, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	store, err := cache.Open(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	service := botservice.NewService(repo, client, forecast.NewComposer(texts), machine, locks, m, logger,
		botservice.Options{TrialDays: cfg.TrialDays, Location: loc})
	dispatcher := botservice.NewDispatcher(service, store, m, logger, cfg.HandleTimeout, cfg.UpdateTTL)

	secret := cfg.WebhookSecret
	if secret == "" {
		secret = uuid.NewString()
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, secret, dispatcher, m, reg)

	app := &App{
		cfg:        cfg,
		logger:     logger,
		client:     client,
		dispatcher: dispatcher,
		cache:      store,
		secret:     secret,
		server: &http.Server{
			Addr:         cfg.AddressHTTP,
			Handler:      router,
			ReadTimeout:  cfg.TimeoutHTTP,
			WriteTimeout: cfg.TimeoutHTTP,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}

	if cfg.Scheduler.Enabled {
		conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ch, err := rabbitmq.SetupChannel(conn, rabbitmq.NotificationQueues())
		if err != nil {
			_ = conn.Close()
			_ = store.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		app.conn, app.ch = conn, ch
		app.scheduler = scheduler.NewSchedulerService(repo, rabbitmq.NewPublisher(ch), store, machine, locks, m, logger, loc)
	}

	return app, nil
}

func newTable(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sheet.Table, error) {
	switch cfg.Kind {
	case config.StorageMemory:
		logger.Warn("using in-memory table, data is lost on restart")
		return sheet.NewMemory(repository.Columns...), nil
	default:
		creds, err := sheet.DecodeCredentials(cfg.Credentials)
		if err != nil {
			return nil, err
		}
		return sheet.NewSheets(ctx, creds, cfg.SpreadsheetID, cfg.SheetName)
	}
}

func loadTexts(path string) (*forecast.Texts, error) {
	if path == "" {
		return forecast.DefaultTexts()
	}
	return forecast.LoadTexts(path)
}

func (a *App) Run(ctx context.Context) error {
	if a.cfg.Mode == config.ModeWebhook {
		if err := a.client.SetWebhook(a.cfg.PublicURL, a.secret); err != nil {
			a.close()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		return a.server.Shutdown(timeoutCtx)
	})

	if a.cfg.Mode == config.ModePolling {
		g.Go(func() error {
			return a.client.Poll(gctx, a.cfg.PollTimeout, func(u tgbotapi.Update) {
				if ev, ok := telegram.EventFromUpdate(u); ok {
					a.dispatcher.Dispatch(gctx, ev)
				}
			})
		})
	}

	if a.scheduler != nil {
		g.Go(func() error {
			return a.scheduler.Run(gctx, a.cfg.Interval)
		})
	}

	err := g.Wait()
	a.dispatcher.Wait()
	a.close()
	return err
}

func (a *App) close() {
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Error("failed to close cache", sl.Err(err))
	}
}
