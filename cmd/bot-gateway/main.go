package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-title-bot/internal/adapters/bot"
	"tg-title-bot/internal/adapters/repo"
	"tg-title-bot/internal/domain"
	"tg-title-bot/internal/infra/config"
	"tg-title-bot/internal/infra/db"
	applog "tg-title-bot/internal/infra/log"
	"tg-title-bot/internal/infra/metrics"
	"tg-title-bot/internal/infra/queue"
	"tg-title-bot/internal/usecase/leaderboard"
	"tg-title-bot/internal/usecase/stats"
	"tg-title-bot/internal/usecase/title"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	if err := ensureDefaultTitle(repoAdapter, cfg.Titles.DefaultTitle); err != nil {
		logger.Fatal().Err(err).Msg("gateway: не удалось инициализировать титул по умолчанию")
	}
	titleService := title.NewService(repoAdapter, repoAdapter, repoAdapter, repoAdapter)
	boardService := leaderboard.NewService(repoAdapter)
	statsService := stats.NewService(repoAdapter, repoAdapter, repoAdapter, repoAdapter, boardService)

	jobs := buildQueue(cfg, logger)

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("gateway: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: не удалось создать бота")
	}

	h := bot.NewHandler(botAPI, logger, titleService, statsService, boardService, repoAdapter, jobs, cfg.Telegram.AdminIDs)

	r := chi.NewRouter()
	r.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: ":8080", Handler: r}
	go func() {
		logger.Info().Msg("gateway: запущен")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("gateway: HTTP сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("gateway: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// ensureDefaultTitle записывает титул по умолчанию в настройки, если он ещё
// не задан администратором.
func ensureDefaultTitle(settings domain.SettingsRepo, fallback string) error {
	current, err := settings.GetSetting(domain.SettingDefaultTitle)
	if err != nil {
		return err
	}
	if current != "" {
		return nil
	}
	return settings.SetSetting(domain.SettingDefaultTitle, fallback, "базовый титул для новых пользователей")
}

// buildQueue выбирает реализацию очереди: RabbitMQ при наличии AMQP_URL,
// иначе Redis list.
func buildQueue(cfg config.AppConfig, logger zerolog.Logger) domain.TitleQueue {
	if cfg.AMQPURL != "" {
		jobs, err := queue.NewAMQPTitleQueue(cfg.AMQPURL, cfg.Queues.Titles)
		if err != nil {
			logger.Fatal().Err(err).Msg("gateway: не удалось инициализировать очередь RabbitMQ")
		}
		return jobs
	}
	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("gateway: не указан адрес очереди (AMQP_URL или REDIS_ADDR)")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return queue.NewRedisTitleQueue(client, cfg.Queues.Titles)
}
