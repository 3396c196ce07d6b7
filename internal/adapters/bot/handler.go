package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-title-bot/internal/adapters/telegram"
	"tg-title-bot/internal/domain"
	"tg-title-bot/internal/infra/metrics"
	"tg-title-bot/internal/usecase/leaderboard"
	"tg-title-bot/internal/usecase/stats"
	"tg-title-bot/internal/usecase/title"
)

const leaderboardPageSize = 10

// Handler обслуживает вебхук бота.
type Handler struct {
	bot      *tgbotapi.BotAPI
	log      zerolog.Logger
	titleUC  *title.Service
	statsUC  *stats.Service
	boardUC  *leaderboard.Service
	users    domain.UserRepo
	jobs     domain.TitleQueue
	adminIDs map[int64]struct{}
}

// NewHandler создаёт обработчик.
func NewHandler(bot *tgbotapi.BotAPI, log zerolog.Logger, titleUC *title.Service, statsUC *stats.Service, boardUC *leaderboard.Service, users domain.UserRepo, jobs domain.TitleQueue, adminIDs []int64) *Handler {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Handler{
		bot:      bot,
		log:      log,
		titleUC:  titleUC,
		statsUC:  statsUC,
		boardUC:  boardUC,
		users:    users,
		jobs:     jobs,
		adminIDs: admins,
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		h.handleMessage(ctx, upd.Message)
	} else if upd.CallbackQuery != nil {
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) isAdmin(tgUserID int64) bool {
	_, ok := h.adminIDs[tgUserID]
	return ok
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	if msg.From == nil {
		return
	}
	if !strings.HasPrefix(text, "/") {
		h.tryHandleNotification(ctx, msg, text)
		return
	}
	switch {
	case strings.HasPrefix(text, "/start"):
		h.handleStart(ctx, msg)
	case strings.HasPrefix(text, "/help"):
		h.handleHelp(msg.Chat.ID, msg.From.ID)
	case strings.HasPrefix(text, "/me"):
		h.handleMe(ctx, msg.Chat.ID, msg.From.ID)
	case strings.HasPrefix(text, "/who"):
		payload := strings.TrimSpace(strings.TrimPrefix(text, "/who"))
		h.handleWho(ctx, msg.Chat.ID, payload)
	case strings.HasPrefix(text, "/leaderboard"):
		payload := strings.TrimSpace(strings.TrimPrefix(text, "/leaderboard"))
		h.handleLeaderboard(ctx, msg.Chat.ID, parseOrder(payload), 0)
	case strings.HasPrefix(text, "/stats"):
		payload := strings.TrimSpace(strings.TrimPrefix(text, "/stats"))
		h.handleStats(ctx, msg.Chat.ID, msg.From.ID, payload)
	case strings.HasPrefix(text, "/lock_title"):
		h.handleAdminLock(ctx, msg, strings.TrimSpace(strings.TrimPrefix(text, "/lock_title")), true)
	case strings.HasPrefix(text, "/unlock_title"):
		h.handleAdminLock(ctx, msg, strings.TrimSpace(strings.TrimPrefix(text, "/unlock_title")), false)
	case strings.HasPrefix(text, "/set_full_title"):
		h.handleSetFullTitle(ctx, msg, strings.TrimSpace(strings.TrimPrefix(text, "/set_full_title")))
	case strings.HasPrefix(text, "/set_title"):
		h.handleSetTitle(ctx, msg, strings.TrimSpace(strings.TrimPrefix(text, "/set_title")))
	case strings.HasPrefix(text, "/set_default_title"):
		h.handleSetDefaultTitle(ctx, msg, strings.TrimSpace(strings.TrimPrefix(text, "/set_default_title")))
	case strings.HasPrefix(text, "/set_global_average_period"):
		h.handleSetAveragePeriod(ctx, msg, strings.TrimSpace(strings.TrimPrefix(text, "/set_global_average_period")))
	case strings.HasPrefix(text, "/add_user"):
		h.handleAddUser(ctx, msg, strings.TrimSpace(strings.TrimPrefix(text, "/add_user")))
	case strings.HasPrefix(text, "/delete_user"):
		h.handleDeleteUser(ctx, msg, strings.TrimSpace(strings.TrimPrefix(text, "/delete_user")))
	default:
		h.reply(msg.Chat.ID, "Неизвестная команда. Используйте /help", nil)
	}
}

// tryHandleNotification распознаёт уведомление «I am X% gay!», пересланное
// через исходного бота, и ставит задачу в очередь. Остальной текст игнорируется.
func (h *Handler) tryHandleNotification(ctx context.Context, msg *tgbotapi.Message, text string) {
	if msg.ViaBot == nil || !title.ShouldProcessFrom(msg.ViaBot.UserName) {
		return
	}
	percentage, err := title.ExtractPercentage(text)
	if errors.Is(err, title.ErrNotNotification) {
		return
	}
	if err != nil {
		h.log.Debug().Err(err).Int64("user", msg.From.ID).Msg("уведомление отклонено")
		return
	}
	job := domain.TitleJob{
		ID:          uuid.NewString(),
		UserTGID:    msg.From.ID,
		ChatID:      msg.Chat.ID,
		Percentage:  percentage,
		OccurredAt:  msg.Time(),
		RequestedAt: time.Now().UTC(),
		Cause:       domain.TitleCauseNotification,
	}
	if err := h.jobs.Enqueue(ctx, job); err != nil {
		h.log.Error().Err(err).Int64("user", msg.From.ID).Msg("не удалось поставить задачу в очередь")
	}
}

func (h *Handler) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	profile := domain.TelegramProfile{
		TGUserID:    msg.From.ID,
		Username:    msg.From.UserName,
		DisplayName: strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
		Locale:      msg.From.LanguageCode,
	}
	user, created, err := h.titleUC.RegisterUser(ctx, profile)
	if err != nil {
		h.reply(msg.Chat.ID, fmt.Sprintf("Ошибка регистрации: %v", err), nil)
		return
	}
	if created {
		h.reply(msg.Chat.ID, "Добро пожаловать! Титул пока пуст и начнёт расти после первого уведомления", h.mainKeyboard())
		return
	}
	h.reply(msg.Chat.ID, fmt.Sprintf("С возвращением! Ваш титул: %s", user.DisplayedTitle), h.mainKeyboard())
}

func (h *Handler) handleHelp(chatID, tgUserID int64) {
	h.reply(chatID, h.buildHelpMessage(h.isAdmin(tgUserID)), h.mainKeyboard())
}

func (h *Handler) handleMe(ctx context.Context, chatID, tgUserID int64) {
	user, err := h.users.GetByTGID(tgUserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		h.reply(chatID, "Вы ещё не зарегистрированы. Отправьте /start", nil)
		return
	}
	if err != nil {
		h.reply(chatID, fmt.Sprintf("Ошибка: %v", err), nil)
		return
	}
	h.reply(chatID, formatUserCard(user), nil)
}

func (h *Handler) handleWho(ctx context.Context, chatID int64, payload string) {
	if payload == "" {
		h.reply(chatID, "Укажите пользователя: /who @username", nil)
		return
	}
	user, err := h.users.GetByUsername(payload)
	if errors.Is(err, domain.ErrUserNotFound) {
		h.reply(chatID, "Пользователь не найден", nil)
		return
	}
	if err != nil {
		h.reply(chatID, fmt.Sprintf("Ошибка: %v", err), nil)
		return
	}
	h.reply(chatID, formatUserCard(user), nil)
}

func (h *Handler) handleLeaderboard(ctx context.Context, chatID int64, order domain.SortOrder, page int) {
	entries, err := h.boardUC.Top(ctx, order, leaderboardPageSize, page*leaderboardPageSize)
	if err != nil {
		h.reply(chatID, fmt.Sprintf("Не удалось получить рейтинг: %v", err), nil)
		return
	}
	if len(entries) == 0 {
		if page == 0 {
			h.reply(chatID, "Рейтинг пока пуст", nil)
		} else {
			h.reply(chatID, "Дальше никого нет", nil)
		}
		return
	}
	var b strings.Builder
	b.WriteString("🏆 Рейтинг титулов:\n")
	for _, entry := range entries {
		name := entry.User.Username
		if name == "" {
			name = entry.User.DisplayName
		}
		if name == "" {
			name = strconv.FormatInt(entry.User.TGUserID, 10)
		}
		b.WriteString(fmt.Sprintf("%d. %s — %s (%d букв)\n", entry.Rank, name, entry.User.DisplayedTitle, entry.User.LetterCount))
	}
	h.reply(chatID, b.String(), leaderboardKeyboard(order, page, len(entries) == leaderboardPageSize))
}

func (h *Handler) handleStats(ctx context.Context, chatID, tgUserID int64, payload string) {
	periodDays := stats.PeriodFromSettings
	if payload != "" {
		parsed, err := strconv.Atoi(payload)
		if err != nil || parsed < 0 {
			h.reply(chatID, "Период должен быть неотрицательным числом дней", nil)
			return
		}
		periodDays = parsed
	}

	average, err := h.statsUC.GlobalAverage(ctx, periodDays)
	if err != nil {
		h.reply(chatID, fmt.Sprintf("Не удалось посчитать среднее: %v", err), nil)
		return
	}

	var b strings.Builder
	if average == nil {
		b.WriteString("📊 Данных для глобального среднего пока нет.\n")
	} else {
		b.WriteString(fmt.Sprintf("📊 Глобальный средний процент: %.1f%%\n", *average))
	}

	userStats, err := h.statsUC.UserStats(ctx, tgUserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		h.reply(chatID, b.String()+"\nВы ещё не зарегистрированы. Отправьте /start", nil)
		return
	}
	if err != nil {
		h.reply(chatID, fmt.Sprintf("Не удалось получить статистику: %v", err), nil)
		return
	}

	b.WriteString(fmt.Sprintf("\nВаш титул: %s (%d букв)\n", userStats.User.DisplayedTitle, userStats.User.LetterCount))
	b.WriteString(fmt.Sprintf("Позиция в рейтинге: %d\n", userStats.Rank))
	if userStats.User.LastPercentage != nil {
		b.WriteString(fmt.Sprintf("Последний процент: %d%%\n", *userStats.User.LastPercentage))
	}
	writeTrend(&b, "за день", userStats.DailyTrend)
	writeTrend(&b, "за неделю", userStats.WeeklyTrend)
	writeTrend(&b, "за месяц", userStats.MonthlyTrend)
	if len(userStats.RecentChanges) > 0 {
		b.WriteString("\nПоследние изменения:\n")
		for _, change := range userStats.RecentChanges {
			line := fmt.Sprintf("• %s → %s", change.OldTitle, change.NewTitle)
			if change.Percentage != nil {
				line += fmt.Sprintf(" (%d%%)", *change.Percentage)
			}
			b.WriteString(line + "\n")
		}
	}
	h.reply(chatID, b.String(), nil)
}

func writeTrend(b *strings.Builder, label string, value *float64) {
	if value == nil {
		return
	}
	b.WriteString(fmt.Sprintf("Средний процент %s: %.1f%%\n", label, *value))
}

func (h *Handler) requireAdmin(msg *tgbotapi.Message) bool {
	if h.isAdmin(msg.From.ID) {
		return true
	}
	h.reply(msg.Chat.ID, "Команда доступна только администраторам", nil)
	return false
}

// resolveTarget принимает @username либо числовой Telegram ID.
func (h *Handler) resolveTarget(chatID int64, target string) (domain.User, bool) {
	if target == "" {
		h.reply(chatID, "Укажите пользователя: @username или Telegram ID", nil)
		return domain.User{}, false
	}
	var (
		user domain.User
		err  error
	)
	if id, convErr := strconv.ParseInt(target, 10, 64); convErr == nil {
		user, err = h.users.GetByTGID(id)
	} else {
		user, err = h.users.GetByUsername(target)
	}
	if errors.Is(err, domain.ErrUserNotFound) {
		h.reply(chatID, "Пользователь не найден", nil)
		return domain.User{}, false
	}
	if err != nil {
		h.reply(chatID, fmt.Sprintf("Ошибка: %v", err), nil)
		return domain.User{}, false
	}
	return user, true
}

func (h *Handler) handleAdminLock(ctx context.Context, msg *tgbotapi.Message, target string, lock bool) {
	if !h.requireAdmin(msg) {
		return
	}
	user, ok := h.resolveTarget(msg.Chat.ID, target)
	if !ok {
		return
	}
	var err error
	if lock {
		err = h.titleUC.LockTitle(ctx, user.TGUserID)
	} else {
		err = h.titleUC.UnlockTitle(ctx, user.TGUserID)
	}
	if err != nil {
		h.reply(msg.Chat.ID, fmt.Sprintf("Не удалось изменить замок: %v", err), nil)
		return
	}
	if lock {
		h.reply(msg.Chat.ID, "Титул заблокирован: автоматические обновления пропускаются", nil)
	} else {
		h.reply(msg.Chat.ID, "Титул разблокирован", nil)
	}
}

func (h *Handler) handleSetFullTitle(ctx context.Context, msg *tgbotapi.Message, payload string) {
	if !h.requireAdmin(msg) {
		return
	}
	target, text, ok := splitTargetAndText(payload)
	if !ok {
		h.reply(msg.Chat.ID, "Формат: /set_full_title @user Новый базовый титул (или all для всех)", nil)
		return
	}
	if strings.EqualFold(target, "all") {
		updated, err := h.titleUC.SetBaseTitleForAll(ctx, text)
		if err != nil {
			h.reply(msg.Chat.ID, fmt.Sprintf("Не удалось обновить: %v", err), nil)
			return
		}
		h.reply(msg.Chat.ID, fmt.Sprintf("Базовый титул обновлён для %d пользователей", updated), nil)
		return
	}
	user, ok := h.resolveTarget(msg.Chat.ID, target)
	if !ok {
		return
	}
	if err := h.titleUC.SetBaseTitle(ctx, user.TGUserID, text); err != nil {
		h.reply(msg.Chat.ID, fmt.Sprintf("Не удалось сохранить: %v", err), nil)
		return
	}
	h.reply(msg.Chat.ID, "Базовый титул обновлён. Отображаемый титул изменится при следующем обновлении", nil)
}

func (h *Handler) handleSetTitle(ctx context.Context, msg *tgbotapi.Message, payload string) {
	if !h.requireAdmin(msg) {
		return
	}
	target, text, ok := splitTargetAndText(payload)
	if !ok {
		h.reply(msg.Chat.ID, "Формат: /set_title @user Текст титула", nil)
		return
	}
	user, resolved := h.resolveTarget(msg.Chat.ID, target)
	if !resolved {
		return
	}
	if err := h.titleUC.SetDisplayedTitleDirect(ctx, user.TGUserID, text); err != nil {
		h.reply(msg.Chat.ID, fmt.Sprintf("Не удалось сохранить: %v", err), nil)
		return
	}
	h.reply(msg.Chat.ID, fmt.Sprintf("Титул установлен: %s", text), nil)
}

func (h *Handler) handleSetDefaultTitle(ctx context.Context, msg *tgbotapi.Message, payload string) {
	if !h.requireAdmin(msg) {
		return
	}
	if payload == "" {
		h.reply(msg.Chat.ID, "Формат: /set_default_title Текст титула", nil)
		return
	}
	if err := h.titleUC.SetDefaultTitle(ctx, payload); err != nil {
		h.reply(msg.Chat.ID, fmt.Sprintf("Не удалось сохранить: %v", err), nil)
		return
	}
	h.reply(msg.Chat.ID, "Титул по умолчанию обновлён", nil)
}

func (h *Handler) handleSetAveragePeriod(ctx context.Context, msg *tgbotapi.Message, payload string) {
	if !h.requireAdmin(msg) {
		return
	}
	days, err := strconv.Atoi(payload)
	if err != nil {
		h.reply(msg.Chat.ID, "Формат: /set_global_average_period 30 (0 — всё время)", nil)
		return
	}
	if err := h.titleUC.SetAveragingPeriod(ctx, days); err != nil {
		h.reply(msg.Chat.ID, fmt.Sprintf("Не удалось сохранить: %v", err), nil)
		return
	}
	h.reply(msg.Chat.ID, "Период усреднения обновлён", nil)
}

func (h *Handler) handleAddUser(ctx context.Context, msg *tgbotapi.Message, payload string) {
	if !h.requireAdmin(msg) {
		return
	}
	fields := strings.Fields(payload)
	if len(fields) == 0 {
		h.reply(msg.Chat.ID, "Формат: /add_user 123456789 [@username]", nil)
		return
	}
	tgID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		h.reply(msg.Chat.ID, "Первым аргументом должен быть Telegram ID", nil)
		return
	}
	profile := domain.TelegramProfile{TGUserID: tgID}
	if len(fields) > 1 {
		profile.Username = strings.TrimPrefix(fields[1], "@")
	}
	user, created, err := h.titleUC.RegisterUser(ctx, profile)
	if err != nil {
		h.reply(msg.Chat.ID, fmt.Sprintf("Не удалось зарегистрировать: %v", err), nil)
		return
	}
	if created {
		h.reply(msg.Chat.ID, fmt.Sprintf("Пользователь добавлен, базовый титул: %s", user.BaseTitle), nil)
		return
	}
	h.reply(msg.Chat.ID, "Пользователь уже зарегистрирован", nil)
}

func (h *Handler) handleDeleteUser(ctx context.Context, msg *tgbotapi.Message, payload string) {
	if !h.requireAdmin(msg) {
		return
	}
	user, ok := h.resolveTarget(msg.Chat.ID, payload)
	if !ok {
		return
	}
	if err := h.titleUC.DeleteUser(ctx, user.TGUserID); err != nil {
		h.reply(msg.Chat.ID, fmt.Sprintf("Не удалось удалить: %v", err), nil)
		return
	}
	h.reply(msg.Chat.ID, "Пользователь и его данные удалены", nil)
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	switch {
	case data == "leaderboard":
		h.handleLeaderboard(ctx, cb.Message.Chat.ID, domain.OrderAsc, 0)
	case data == "my_stats":
		h.handleStats(ctx, cb.Message.Chat.ID, cb.From.ID, "")
	case data == "help_menu":
		h.handleHelp(cb.Message.Chat.ID, cb.From.ID)
	case strings.HasPrefix(data, "board:"):
		order, page := parseBoardCallback(data)
		h.handleLeaderboard(ctx, cb.Message.Chat.ID, order, page)
	}
	start := time.Now()
	_, err := h.bot.Request(tgbotapi.NewCallback(cb.ID, ""))
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", strconv.FormatInt(cb.From.ID, 10), start, err)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось ответить на callback")
	}
}

func parseOrder(payload string) domain.SortOrder {
	if strings.EqualFold(strings.TrimSpace(payload), string(domain.OrderDesc)) {
		return domain.OrderDesc
	}
	return domain.OrderAsc
}

// parseBoardCallback разбирает данные вида board:asc:2.
func parseBoardCallback(data string) (domain.SortOrder, int) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 {
		return domain.OrderAsc, 0
	}
	order := parseOrder(parts[1])
	page, err := strconv.Atoi(parts[2])
	if err != nil || page < 0 {
		page = 0
	}
	return order, page
}

func splitTargetAndText(payload string) (string, string, bool) {
	parts := strings.SplitN(payload, " ", 2)
	if len(parts) < 2 {
		return "", "", false
	}
	target := strings.TrimSpace(parts[0])
	text := strings.TrimSpace(parts[1])
	if target == "" || text == "" {
		return "", "", false
	}
	return target, text, true
}

func formatUserCard(user domain.User) string {
	lines := []string{
		fmt.Sprintf("Титул: %s", user.DisplayedTitle),
		fmt.Sprintf("Базовый титул: %s", user.BaseTitle),
		fmt.Sprintf("Букв в титуле: %d", user.LetterCount),
	}
	if user.LastPercentage != nil {
		lines = append(lines, fmt.Sprintf("Последний процент: %d%%", *user.LastPercentage))
	}
	if user.TitleLocked {
		lines = append(lines, "🔒 Титул заблокирован")
	}
	return strings.Join(lines, "\n")
}

func leaderboardKeyboard(order domain.SortOrder, page int, hasMore bool) *tgbotapi.InlineKeyboardMarkup {
	var row []tgbotapi.InlineKeyboardButton
	if page > 0 {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", fmt.Sprintf("board:%s:%d", order, page-1)))
	}
	if hasMore {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("Вперёд ➡️", fmt.Sprintf("board:%s:%d", order, page+1)))
	}
	flip := domain.OrderDesc
	if order == domain.OrderDesc {
		flip = domain.OrderAsc
	}
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔃 Сменить порядок", fmt.Sprintf("board:%s:0", flip))),
	}
	if len(row) > 0 {
		rows = append([][]tgbotapi.InlineKeyboardButton{row}, rows...)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func (h *Handler) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	parts := telegram.SplitMessage(text)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		if i == 0 && keyboard != nil {
			msg.ReplyMarkup = keyboard
		}
		start := time.Now()
		_, err := h.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			h.log.Error().Err(err).Msg("не удалось отправить сообщение")
			return
		}
	}
}

func (h *Handler) mainKeyboard() *tgbotapi.InlineKeyboardMarkup {
	buttons := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🏆 Рейтинг", "leaderboard"),
			tgbotapi.NewInlineKeyboardButtonData("📊 Моя статистика", "my_stats"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("ℹ️ Помощь", "help_menu"),
		),
	)
	return &buttons
}

func (h *Handler) buildHelpMessage(admin bool) string {
	sections := []string{
		"📖 Команды бота:",
		"",
		"• /me — ваш текущий титул и статус.",
		"• /who @username — титул другого участника.",
		"• /leaderboard — рейтинг по длине титула (asc/desc).",
		"• /stats [дней] — глобальное среднее и ваша статистика.",
		"",
		"Титул меняется раз в день по уведомлению «I am X% gay!» от @HowGayBot.",
	}
	if admin {
		sections = append(sections,
			"",
			"Администрирование:",
			"• /lock_title @user и /unlock_title @user — замок титула.",
			"• /set_title @user Текст — установить титул напрямую.",
			"• /set_full_title @user Текст — сменить базовый титул (all — всем).",
			"• /set_default_title Текст — титул для новых участников.",
			"• /set_global_average_period 30 — период среднего в днях.",
			"• /add_user 123456789 [@username] и /delete_user @user.",
		)
	}
	return strings.Join(sections, "\n")
}
