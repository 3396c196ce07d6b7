package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-title-bot/internal/domain"
	"tg-title-bot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.UserRepo           = (*Postgres)(nil)
	_ domain.TitleUpdateRepo    = (*Postgres)(nil)
	_ domain.HistoryRepo        = (*Postgres)(nil)
	_ domain.StatsRepo          = (*Postgres)(nil)
	_ domain.LeaderboardRepo    = (*Postgres)(nil)
	_ domain.SettingsRepo       = (*Postgres)(nil)
	_ domain.BusinessMetricRepo = (*Postgres)(nil)
)

const conflictRetryMax = 3

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

const userColumns = `id, tg_user_id, username, display_name, base_title, displayed_title, letter_count, title_locked, tz, locale, last_percentage, last_processed_date, created_at, updated_at`

type userRow struct {
	username       sql.NullString
	displayName    sql.NullString
	tz             sql.NullString
	locale         sql.NullString
	lastPercentage sql.NullInt32
	lastProcessed  sql.NullTime
}

func (r *userRow) dest(u *domain.User) []any {
	return []any{&u.ID, &u.TGUserID, &r.username, &r.displayName, &u.BaseTitle, &u.DisplayedTitle, &u.LetterCount, &u.TitleLocked, &r.tz, &r.locale, &r.lastPercentage, &r.lastProcessed, &u.CreatedAt, &u.UpdatedAt}
}

func (r *userRow) apply(u *domain.User) {
	if r.username.Valid {
		u.Username = r.username.String
	}
	if r.displayName.Valid {
		u.DisplayName = r.displayName.String
	}
	if r.tz.Valid {
		u.Timezone = r.tz.String
	}
	if r.locale.Valid {
		u.Locale = r.locale.String
	}
	if r.lastPercentage.Valid {
		pct := int(r.lastPercentage.Int32)
		u.LastPercentage = &pct
	}
	if r.lastProcessed.Valid {
		ts := r.lastProcessed.Time.UTC()
		u.LastProcessedDate = &ts
	}
}

func (p *Postgres) saveBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}

	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var userID sql.NullInt64
	if metric.UserID != nil {
		userID = sql.NullInt64{Int64: *metric.UserID, Valid: true}
	}

	var payload []byte
	if metric.Metadata != nil {
		if data, err := json.Marshal(metric.Metadata); err == nil {
			payload = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO business_metrics (event, user_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4)
`, metric.Event, userID, payload, metric.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "business_metrics_insert", "business_metrics", start, err)
	return err
}

// RecordBusinessMetric сохраняет бизнесовую метрику в БД.
func (p *Postgres) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	return p.saveBusinessMetric(ctx, metric)
}

// Register реализует domain.UserRepo: создаёт пользователя либо возвращает
// существующего. Существующему пользователю титулы не перезаписываются.
func (p *Postgres) Register(profile domain.TelegramProfile, baseTitle string) (domain.User, bool, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	username := strings.TrimSpace(profile.Username)
	displayName := strings.TrimSpace(profile.DisplayName)
	locale := strings.TrimSpace(profile.Locale)
	timezone := strings.TrimSpace(profile.Timezone)

	// Новый пользователь стартует с пустым отображаемым титулом: буквы
	// набираются только через правила пересчёта.
	var (
		user    domain.User
		row     userRow
		created bool
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO users (tg_user_id, username, display_name, base_title, displayed_title, letter_count, tz, locale)
VALUES ($1, NULLIF($2,''), NULLIF($3,''), $4, '', 0, NULLIF($5,''), NULLIF($6,''))
ON CONFLICT (tg_user_id) DO UPDATE SET username = COALESCE(EXCLUDED.username, users.username), display_name = COALESCE(EXCLUDED.display_name, users.display_name), tz = COALESCE(EXCLUDED.tz, users.tz), locale = COALESCE(EXCLUDED.locale, users.locale), updated_at = now()
RETURNING `+userColumns+`, (xmax = 0) AS inserted
`, profile.TGUserID, username, displayName, baseTitle, timezone, locale).Scan(append(row.dest(&user), &created)...)
	metrics.ObserveNetworkRequest("postgres", "users_register", "users", start, err)
	if err != nil {
		return domain.User{}, false, err
	}
	row.apply(&user)

	if created {
		userID := user.ID
		_ = p.saveBusinessMetric(ctx, domain.BusinessMetric{
			Event:  domain.BusinessMetricEventUserRegistered,
			UserID: &userID,
			Metadata: map[string]any{
				"tg_user_id": user.TGUserID,
				"base_title": user.BaseTitle,
			},
		})
	}
	return user, created, nil
}

// GetByTGID возвращает пользователя по Telegram ID.
func (p *Postgres) GetByTGID(tgUserID int64) (domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var (
		user domain.User
		row  userRow
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT `+userColumns+`
FROM users WHERE tg_user_id=$1
`, tgUserID).Scan(row.dest(&user)...)
	metrics.ObserveNetworkRequest("postgres", "users_get_by_tgid", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	row.apply(&user)
	return user, nil
}

// GetByUsername возвращает пользователя по username без учёта регистра.
func (p *Postgres) GetByUsername(username string) (domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var (
		user domain.User
		row  userRow
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT `+userColumns+`
FROM users WHERE lower(username)=lower($1)
`, strings.TrimPrefix(username, "@")).Scan(row.dest(&user)...)
	metrics.ObserveNetworkRequest("postgres", "users_get_by_username", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	row.apply(&user)
	return user, nil
}

// ListAll возвращает всех пользователей.
func (p *Postgres) ListAll() ([]domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+userColumns+`
FROM users ORDER BY id
`)
	metrics.ObserveNetworkRequest("postgres", "users_list_all", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		var (
			u   domain.User
			row userRow
		)
		if err := rows.Scan(row.dest(&u)...); err != nil {
			return nil, err
		}
		row.apply(&u)
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountActive считает зарегистрированных пользователей.
func (p *Postgres) CountActive() (int, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var count int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "users_count", "users", start, err)
	return count, err
}

// SetTitleLock переключает замок титула.
func (p *Postgres) SetTitleLock(userID int64, locked bool) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `UPDATE users SET title_locked=$2, updated_at=now() WHERE id=$1`, userID, locked)
	metrics.ObserveNetworkRequest("postgres", "users_set_title_lock", "users", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// SetBaseTitle меняет базовый титул без пересчёта отображаемого.
func (p *Postgres) SetBaseTitle(userID int64, baseTitle string) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `UPDATE users SET base_title=$2, updated_at=now() WHERE id=$1`, userID, baseTitle)
	metrics.ObserveNetworkRequest("postgres", "users_set_base_title", "users", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// SetDisplayedTitle напрямую задаёт отображаемый титул.
func (p *Postgres) SetDisplayedTitle(userID int64, displayedTitle string, letterCount int) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `UPDATE users SET displayed_title=$2, letter_count=$3, updated_at=now() WHERE id=$1`, userID, displayedTitle, letterCount)
	metrics.ObserveNetworkRequest("postgres", "users_set_displayed_title", "users", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	_ = p.saveBusinessMetric(ctx, domain.BusinessMetric{
		Event:  domain.BusinessMetricEventTitleOverridden,
		UserID: &userID,
		Metadata: map[string]any{
			"letter_count": letterCount,
		},
	})
	return nil
}

// DeleteUser удаляет пользователя. История и снапшоты удаляются каскадом.
func (p *Postgres) DeleteUser(userID int64) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `DELETE FROM users WHERE id=$1`, userID)
	metrics.ObserveNetworkRequest("postgres", "users_delete", "users", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// ApplyAutomatic исполняет шлюз обновления титула одной транзакцией: строка
// пользователя блокируется, повтор за тот же локальный день и замок титула
// завершаются no-op исходами. Транзитные конфликты повторяются ограниченно.
func (p *Postgres) ApplyAutomatic(tgUserID int64, percentage int, localDate time.Time, compute domain.ComputeTitleFunc) (domain.TitleUpdateResult, error) {
	var lastErr error
	for attempt := 0; attempt < conflictRetryMax; attempt++ {
		result, err := p.applyAutomaticOnce(tgUserID, percentage, localDate, compute)
		if err != nil && isRetryableTxError(err) {
			lastErr = err
			continue
		}
		return result, err
	}
	return domain.TitleUpdateResult{}, fmt.Errorf("%w: %v", domain.ErrStorageConflict, lastErr)
}

func (p *Postgres) applyAutomaticOnce(tgUserID int64, percentage int, localDate time.Time, compute domain.ComputeTitleFunc) (domain.TitleUpdateResult, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "users", start, err)
	if err != nil {
		return domain.TitleUpdateResult{}, err
	}
	defer tx.Rollback(ctx)

	var (
		user domain.User
		row  userRow
	)
	start = time.Now()
	err = tx.QueryRow(ctx, `
SELECT `+userColumns+`
FROM users WHERE tg_user_id=$1 FOR UPDATE
`, tgUserID).Scan(row.dest(&user)...)
	metrics.ObserveNetworkRequest("postgres", "users_get_for_update", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TitleUpdateResult{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.TitleUpdateResult{}, err
	}
	row.apply(&user)

	// Повтор уведомления в тот же локальный день: шлюз уже пройден.
	if user.LastProcessedDate != nil && domain.SameDate(*user.LastProcessedDate, localDate) {
		if err := p.commit(ctx, tx); err != nil {
			return domain.TitleUpdateResult{}, err
		}
		return domain.TitleUpdateResult{Outcome: domain.OutcomeAlreadyProcessed, User: user, OldTitle: user.DisplayedTitle}, nil
	}

	// Замок пропускает день целиком: ни истории, ни снапшота, ни сдвига даты.
	if user.TitleLocked {
		if err := p.commit(ctx, tx); err != nil {
			return domain.TitleUpdateResult{}, err
		}
		return domain.TitleUpdateResult{Outcome: domain.OutcomeTitleLocked, User: user, OldTitle: user.DisplayedTitle}, nil
	}

	// Число участников читается в той же транзакции: штраф за 100% должен
	// соответствовать составу на момент применения.
	var activeUsers int
	start = time.Now()
	err = tx.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&activeUsers)
	metrics.ObserveNetworkRequest("postgres", "users_count", "users", start, err)
	if err != nil {
		return domain.TitleUpdateResult{}, err
	}

	oldTitle := user.DisplayedTitle
	newTitle := compute(user, activeUsers)
	newLetterCount := domain.CountLetters(newTitle)

	if newTitle != oldTitle {
		start = time.Now()
		_, err = tx.Exec(ctx, `
INSERT INTO title_history (user_id, old_title, new_title, percentage, kind)
VALUES ($1, $2, $3, $4, $5)
`, user.ID, oldTitle, newTitle, percentage, domain.ChangeAutomatic)
		metrics.ObserveNetworkRequest("postgres", "title_history_insert", "title_history", start, err)
		if err != nil {
			return domain.TitleUpdateResult{}, err
		}
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
UPDATE users
SET displayed_title=$2, letter_count=$3, last_percentage=$4, last_processed_date=$5, updated_at=now()
WHERE id=$1
`, user.ID, newTitle, newLetterCount, percentage, localDate)
	metrics.ObserveNetworkRequest("postgres", "users_apply_title", "users", start, err)
	if err != nil {
		return domain.TitleUpdateResult{}, err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
INSERT INTO daily_snapshots (user_id, snapshot_date, percentage, title, letter_count)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id, snapshot_date) DO NOTHING
`, user.ID, localDate, percentage, newTitle, newLetterCount)
	metrics.ObserveNetworkRequest("postgres", "daily_snapshots_insert", "daily_snapshots", start, err)
	if err != nil {
		return domain.TitleUpdateResult{}, err
	}

	// Кэш агрегатов сбрасывается целиком: новая запись меняет любые периоды.
	start = time.Now()
	_, err = tx.Exec(ctx, `DELETE FROM stat_cache`)
	metrics.ObserveNetworkRequest("postgres", "stat_cache_invalidate", "stat_cache", start, err)
	if err != nil {
		return domain.TitleUpdateResult{}, err
	}

	if err := p.commit(ctx, tx); err != nil {
		return domain.TitleUpdateResult{}, err
	}

	user.DisplayedTitle = newTitle
	user.LetterCount = newLetterCount
	pct := percentage
	user.LastPercentage = &pct
	date := localDate
	user.LastProcessedDate = &date

	userID := user.ID
	_ = p.saveBusinessMetric(ctx, domain.BusinessMetric{
		Event:  domain.BusinessMetricEventTitleApplied,
		UserID: &userID,
		Metadata: map[string]any{
			"percentage": percentage,
			"changed":    newTitle != oldTitle,
		},
	})

	return domain.TitleUpdateResult{Outcome: domain.OutcomeApplied, User: user, OldTitle: oldTitle}, nil
}

func (p *Postgres) commit(ctx context.Context, tx pgx.Tx) error {
	start := time.Now()
	err := tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "users", start, err)
	return err
}

// AppendChange сохраняет запись истории изменений.
func (p *Postgres) AppendChange(change domain.TitleChange) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	var pct sql.NullInt32
	if change.Percentage != nil {
		pct = sql.NullInt32{Int32: int32(*change.Percentage), Valid: true}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO title_history (user_id, old_title, new_title, percentage, kind)
VALUES ($1, $2, $3, $4, $5)
`, change.UserID, change.OldTitle, change.NewTitle, pct, change.Kind)
	metrics.ObserveNetworkRequest("postgres", "title_history_insert", "title_history", start, err)
	return err
}

// ListRecentChanges возвращает последние изменения титула пользователя.
func (p *Postgres) ListRecentChanges(userID int64, limit int) ([]domain.TitleChange, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, old_title, new_title, percentage, kind, created_at
FROM title_history WHERE user_id=$1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, userID, limit)
	metrics.ObserveNetworkRequest("postgres", "title_history_list", "title_history", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var changes []domain.TitleChange
	for rows.Next() {
		var (
			change domain.TitleChange
			pct    sql.NullInt32
		)
		if err := rows.Scan(&change.ID, &change.UserID, &change.OldTitle, &change.NewTitle, &pct, &change.Kind, &change.CreatedAt); err != nil {
			return nil, err
		}
		if pct.Valid {
			v := int(pct.Int32)
			change.Percentage = &v
		}
		changes = append(changes, change)
	}
	return changes, rows.Err()
}

// UpsertSnapshot записывает снапшот за день, если его ещё нет.
func (p *Postgres) UpsertSnapshot(snapshot domain.DailySnapshot) (bool, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var pct sql.NullInt32
	if snapshot.Percentage != nil {
		pct = sql.NullInt32{Int32: int32(*snapshot.Percentage), Valid: true}
	}

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
INSERT INTO daily_snapshots (user_id, snapshot_date, percentage, title, letter_count)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id, snapshot_date) DO NOTHING
`, snapshot.UserID, snapshot.Date, pct, snapshot.Title, snapshot.LetterCount)
	metrics.ObserveNetworkRequest("postgres", "daily_snapshots_insert", "daily_snapshots", start, err)
	if err != nil {
		return false, err
	}
	inserted := res.RowsAffected() > 0
	if inserted {
		userID := snapshot.UserID
		_ = p.saveBusinessMetric(ctx, domain.BusinessMetric{
			Event:  domain.BusinessMetricEventSnapshotSwept,
			UserID: &userID,
			Metadata: map[string]any{
				"snapshot_date": snapshot.Date.Format("2006-01-02"),
			},
		})
	}
	return inserted, nil
}

// ListUsersMissingSnapshot возвращает пользователей, обработанных за дату,
// но без строки снапшота за неё.
func (p *Postgres) ListUsersMissingSnapshot(date time.Time) ([]domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+userColumns+`
FROM users u
WHERE u.last_processed_date = $1
  AND NOT EXISTS (
    SELECT 1 FROM daily_snapshots s
    WHERE s.user_id = u.id AND s.snapshot_date = $1
  )
ORDER BY u.id
`, date)
	metrics.ObserveNetworkRequest("postgres", "users_missing_snapshot", "daily_snapshots", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		var (
			u   domain.User
			row userRow
		)
		if err := rows.Scan(row.dest(&u)...); err != nil {
			return nil, err
		}
		row.apply(&u)
		users = append(users, u)
	}
	return users, rows.Err()
}

// AveragePercentage считает среднее по снапшотам за период в днях (0 — всё время).
func (p *Postgres) AveragePercentage(periodDays int, now time.Time) (float64, int, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var since any
	if periodDays > 0 {
		since = now.AddDate(0, 0, -periodDays)
	}

	var (
		avg     sql.NullFloat64
		samples int
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT AVG(percentage), COUNT(percentage)
FROM daily_snapshots
WHERE percentage IS NOT NULL AND ($1::date IS NULL OR snapshot_date >= $1)
`, since).Scan(&avg, &samples)
	metrics.ObserveNetworkRequest("postgres", "daily_snapshots_average", "daily_snapshots", start, err)
	if err != nil {
		return 0, 0, err
	}
	if !avg.Valid {
		return 0, 0, nil
	}
	return avg.Float64, samples, nil
}

// UserAverage считает средний процент пользователя на отрезке дат включительно.
func (p *Postgres) UserAverage(userID int64, from, to time.Time) (*float64, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var avg sql.NullFloat64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT AVG(percentage)
FROM daily_snapshots
WHERE user_id=$1 AND percentage IS NOT NULL AND snapshot_date BETWEEN $2 AND $3
`, userID, from, to).Scan(&avg)
	metrics.ObserveNetworkRequest("postgres", "daily_snapshots_user_average", "daily_snapshots", start, err)
	if err != nil {
		return nil, err
	}
	if !avg.Valid {
		return nil, nil
	}
	return &avg.Float64, nil
}

// GetCachedStat возвращает живую запись кэша агрегатов либо nil.
func (p *Postgres) GetCachedStat(kind string, periodDays int, now time.Time) (*float64, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var value float64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT value FROM stat_cache
WHERE kind=$1 AND period_days=$2 AND expires_at > $3
`, kind, periodDays, now).Scan(&value)
	metrics.ObserveNetworkRequest("postgres", "stat_cache_get", "stat_cache", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

// PutCachedStat сохраняет агрегат, перезаписывая прежний.
func (p *Postgres) PutCachedStat(entry domain.StatCacheEntry) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO stat_cache (kind, period_days, value, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (kind, period_days) DO UPDATE SET value=EXCLUDED.value, expires_at=EXCLUDED.expires_at
`, entry.Kind, entry.PeriodDays, entry.Value, entry.ExpiresAt)
	metrics.ObserveNetworkRequest("postgres", "stat_cache_put", "stat_cache", start, err)
	return err
}

// InvalidateStatCache сбрасывает кэш агрегатов целиком.
func (p *Postgres) InvalidateStatCache() error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM stat_cache`)
	metrics.ObserveNetworkRequest("postgres", "stat_cache_invalidate", "stat_cache", start, err)
	return err
}

// ListByLetterCount возвращает срез рейтинга с тай-брейком по id.
func (p *Postgres) ListByLetterCount(order domain.SortOrder, limit, offset int) ([]domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	direction := "ASC"
	if order == domain.OrderDesc {
		direction = "DESC"
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+userColumns+`
FROM users
ORDER BY letter_count `+direction+`, id ASC
LIMIT $1 OFFSET $2
`, limit, offset)
	metrics.ObserveNetworkRequest("postgres", "leaderboard_list", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		var (
			u   domain.User
			row userRow
		)
		if err := rows.Scan(row.dest(&u)...); err != nil {
			return nil, err
		}
		row.apply(&u)
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountRankedBefore считает пользователей строго выше данного в полном порядке.
func (p *Postgres) CountRankedBefore(user domain.User, order domain.SortOrder) (int, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	cmp := "<"
	if order == domain.OrderDesc {
		cmp = ">"
	}

	var count int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM users
WHERE letter_count `+cmp+` $1 OR (letter_count = $1 AND id < $2)
`, user.LetterCount, user.ID).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "leaderboard_rank", "users", start, err)
	return count, err
}

// GetSetting возвращает значение настройки либо пустую строку.
func (p *Postgres) GetSetting(key string) (string, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var value string
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT value FROM bot_settings WHERE key=$1`, key).Scan(&value)
	metrics.ObserveNetworkRequest("postgres", "bot_settings_get", "bot_settings", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetSetting сохраняет настройку.
func (p *Postgres) SetSetting(key, value, description string) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO bot_settings (key, value, description, updated_at)
VALUES ($1, $2, NULLIF($3,''), now())
ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, description=COALESCE(EXCLUDED.description, bot_settings.description), updated_at=now()
`, key, value, description)
	metrics.ObserveNetworkRequest("postgres", "bot_settings_set", "bot_settings", start, err)
	return err
}
