package main

import (
	"context"
	"errors"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-title-bot/internal/adapters/repo"
	"tg-title-bot/internal/domain"
	"tg-title-bot/internal/infra/config"
	"tg-title-bot/internal/infra/db"
	applog "tg-title-bot/internal/infra/log"
	"tg-title-bot/internal/infra/metrics"
	"tg-title-bot/internal/infra/queue"
	titleusecase "tg-title-bot/internal/usecase/title"
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
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	titleService := titleusecase.NewService(repoAdapter, repoAdapter, repoAdapter, repoAdapter)

	var jobs domain.TitleQueue
	if cfg.AMQPURL != "" {
		amqpQueue, err := queue.NewAMQPTitleQueue(cfg.AMQPURL, cfg.Queues.Titles)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: не удалось инициализировать очередь RabbitMQ")
		}
		defer amqpQueue.Close()
		jobs = amqpQueue
	} else {
		if cfg.RedisAddr == "" {
			logger.Fatal().Msg("worker: не указан адрес очереди (AMQP_URL или REDIS_ADDR)")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		jobs = queue.NewRedisTitleQueue(client, cfg.Queues.Titles)
	}

	var botAPI *tgbotapi.BotAPI
	if cfg.Telegram.Token != "" {
		botAPI, err = tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: не удалось создать бота")
		}
	}

	w := &jobWorker{log: logger, queue: jobs, service: titleService, bot: botAPI}

	logger.Info().Msg("worker: запуск обработки очереди")
	w.Run(ctx)
	logger.Info().Msg("worker: остановлен")
}

type jobWorker struct {
	log     zerolog.Logger
	queue   domain.TitleQueue
	service *titleusecase.Service
	bot     *tgbotapi.BotAPI
}

func (w *jobWorker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			time.Sleep(time.Second)
			continue
		}

		jobLog := w.log.With().
			Str("job_id", job.ID).
			Int64("user", job.UserTGID).
			Int("percentage", job.Percentage).
			Str("cause", string(job.Cause)).
			Logger()

		outcome := w.handleJob(ctx, job, jobLog)

		if err := ack(outcome); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу")
		}
	}
}

// handleJob применяет уведомление. false — задачу стоит доставить повторно
// (транзитный конфликт хранилища); остальные исходы финальны.
func (w *jobWorker) handleJob(ctx context.Context, job domain.TitleJob, jobLog zerolog.Logger) bool {
	occurredAt := job.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	result, err := w.service.ProcessNotification(ctx, job.UserTGID, job.Percentage, occurredAt)
	switch {
	case errors.Is(err, domain.ErrStorageConflict):
		jobLog.Warn().Err(err).Msg("worker: конфликт хранилища, вернём задачу в очередь")
		return false
	case errors.Is(err, domain.ErrUserNotFound):
		jobLog.Info().Msg("worker: пользователь не зарегистрирован, задача пропущена")
		return true
	case errors.Is(err, domain.ErrInvalidPercentage):
		jobLog.Warn().Msg("worker: некорректный процент, задача отброшена")
		return true
	case err != nil:
		jobLog.Error().Err(err).Msg("worker: ошибка обработки уведомления")
		return true
	}

	jobLog.Info().Str("outcome", string(result.Outcome)).Msg("worker: уведомление обработано")

	if result.Outcome == domain.OutcomeApplied && result.User.DisplayedTitle != result.OldTitle {
		w.announce(job.ChatID, result.User)
	}
	return true
}

func (w *jobWorker) announce(chatID int64, user domain.User) {
	if w.bot == nil || chatID == 0 {
		return
	}
	name := user.Username
	if name == "" {
		name = user.DisplayName
	}
	text := "Новый титул: " + user.DisplayedTitle
	if name != "" {
		text = name + ", ваш новый титул: " + user.DisplayedTitle
	}
	msg := tgbotapi.NewMessage(chatID, text)
	start := time.Now()
	_, err := w.bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
	if err != nil {
		metrics.BotSendErrors.Inc()
		w.log.Error().Err(err).Msg("worker: не удалось отправить сообщение")
	}
}
