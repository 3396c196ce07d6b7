package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"tg-title-bot/internal/adapters/repo"
	"tg-title-bot/internal/domain"
	"tg-title-bot/internal/infra/config"
	"tg-title-bot/internal/infra/db"
	httpinfra "tg-title-bot/internal/infra/http"
	applog "tg-title-bot/internal/infra/log"
	"tg-title-bot/internal/infra/metrics"
	"tg-title-bot/internal/usecase/leaderboard"
	statsusecase "tg-title-bot/internal/usecase/stats"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	boardService := leaderboard.NewService(repoAdapter)
	statsService := statsusecase.NewService(repoAdapter, repoAdapter, repoAdapter, repoAdapter, boardService)

	server := httpinfra.NewServer(logger)
	server.Router.Route("/api/v1", func(r chi.Router) {
		r.Get("/leaderboard", handleLeaderboard(boardService))
		r.Get("/stats/global", handleGlobalAverage(statsService))
		r.Get("/users/{tg_id}/stats", handleUserStats(statsService))
		if cfg.Telegram.Token != "" {
			r.Group(func(r chi.Router) {
				r.Use(httpinfra.WebAppAuthMiddleware(cfg.Telegram.Token))
				r.Get("/webapp/me", handleWebAppMe(statsService))
			})
		}
	})

	go func() {
		if err := server.Start(":" + strconv.Itoa(cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: HTTP сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func handleLeaderboard(boardService *leaderboard.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order := domain.SortOrder(r.URL.Query().Get("order"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		entries, err := boardService.Top(r.Context(), order, limit, offset)
		if err != nil {
			httpinfra.WriteError(w, http.StatusInternalServerError, err)
			return
		}

		type entryResponse struct {
			Rank        int    `json:"rank"`
			TGUserID    int64  `json:"tg_user_id"`
			Username    string `json:"username,omitempty"`
			Title       string `json:"title"`
			LetterCount int    `json:"letter_count"`
		}
		resp := make([]entryResponse, 0, len(entries))
		for _, entry := range entries {
			resp = append(resp, entryResponse{
				Rank:        entry.Rank,
				TGUserID:    entry.User.TGUserID,
				Username:    entry.User.Username,
				Title:       entry.User.DisplayedTitle,
				LetterCount: entry.User.LetterCount,
			})
		}
		writeJSON(w, resp)
	}
}

func handleGlobalAverage(statsService *statsusecase.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		periodDays := statsusecase.PeriodFromSettings
		if raw := r.URL.Query().Get("period_days"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				httpinfra.WriteError(w, http.StatusBadRequest, errors.New("period_days должен быть неотрицательным числом"))
				return
			}
			periodDays = parsed
		}

		average, err := statsService.GlobalAverage(r.Context(), periodDays)
		if err != nil {
			httpinfra.WriteError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, map[string]any{"average": average})
	}
}

func handleUserStats(statsService *statsusecase.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tgID, err := strconv.ParseInt(chi.URLParam(r, "tg_id"), 10, 64)
		if err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, errors.New("некорректный tg_id"))
			return
		}

		writeUserStats(w, r, statsService, tgID)
	}
}

// handleWebAppMe отдаёт статистику пользователя, аутентифицированного
// через initData мини-приложения.
func handleWebAppMe(statsService *statsusecase.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tgID, ok := httpinfra.WebAppUserID(r)
		if !ok {
			httpinfra.WriteError(w, http.StatusUnauthorized, errors.New("пользователь не аутентифицирован"))
			return
		}
		writeUserStats(w, r, statsService, tgID)
	}
}

func writeUserStats(w http.ResponseWriter, r *http.Request, statsService *statsusecase.Service, tgID int64) {
	userStats, err := statsService.UserStats(r.Context(), tgID)
	if errors.Is(err, domain.ErrUserNotFound) {
		httpinfra.WriteError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		httpinfra.WriteError(w, http.StatusInternalServerError, err)
		return
	}

	type changeResponse struct {
		OldTitle   string    `json:"old_title"`
		NewTitle   string    `json:"new_title"`
		Percentage *int      `json:"percentage,omitempty"`
		Kind       string    `json:"kind"`
		CreatedAt  time.Time `json:"created_at"`
	}
	changes := make([]changeResponse, 0, len(userStats.RecentChanges))
	for _, change := range userStats.RecentChanges {
		changes = append(changes, changeResponse{
			OldTitle:   change.OldTitle,
			NewTitle:   change.NewTitle,
			Percentage: change.Percentage,
			Kind:       string(change.Kind),
			CreatedAt:  change.CreatedAt,
		})
	}
	writeJSON(w, map[string]any{
		"tg_user_id":      userStats.User.TGUserID,
		"title":           userStats.User.DisplayedTitle,
		"letter_count":    userStats.User.LetterCount,
		"last_percentage": userStats.User.LastPercentage,
		"rank":            userStats.Rank,
		"daily_trend":     userStats.DailyTrend,
		"weekly_trend":    userStats.WeeklyTrend,
		"monthly_trend":   userStats.MonthlyTrend,
		"recent_changes":  changes,
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
