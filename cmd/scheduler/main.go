package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-title-bot/internal/adapters/repo"
	"tg-title-bot/internal/domain"
	"tg-title-bot/internal/infra/cache"
	"tg-title-bot/internal/infra/config"
	"tg-title-bot/internal/infra/db"
	applog "tg-title-bot/internal/infra/log"
	"tg-title-bot/internal/infra/metrics"
	"tg-title-bot/internal/usecase/leaderboard"
	statsusecase "tg-title-bot/internal/usecase/stats"
)

const sweepLockTTL = 23 * time.Hour

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("scheduler: не указан адрес Redis (REDIS_ADDR)")
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	locks := cache.NewRedis(redisClient)

	repoAdapter := repo.NewPostgres(pool)
	boardService := leaderboard.NewService(repoAdapter)
	statsService := statsusecase.NewService(repoAdapter, repoAdapter, repoAdapter, repoAdapter, boardService)

	logger.Info().Int("days_back", cfg.Titles.SweepDaysBack).Msg("scheduler: запущен")

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	runSweep(ctx, logger, locks, statsService, cfg.Titles.SweepDaysBack)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduler: остановлен")
			return
		case <-ticker.C:
			runSweep(ctx, logger, locks, statsService, cfg.Titles.SweepDaysBack)
		}
	}
}

// runSweep досоздаёт снапшоты за окно последних дней. Redis-замок с ключом по
// дате гарантирует один прогон в сутки на все экземпляры планировщика.
func runSweep(ctx context.Context, logger zerolog.Logger, locks domain.Cache, statsService *statsusecase.Service, daysBack int) {
	today := domain.LocalDate(time.Now().UTC(), "")
	lockKey := "title_sweep:" + today.Format("2006-01-02")

	err := locks.Once(lockKey, sweepLockTTL, func() error {
		created, err := statsService.RecheckMissedDays(ctx, daysBack)
		if err != nil {
			return err
		}
		logger.Info().Int("created", created).Msg("scheduler: досоздание снапшотов завершено")
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("scheduler: ошибка досоздания снапшотов")
	}
}
