package bot

import (
	"context"
	"strconv"
	"strings"

	"referral-gate/internal/onboarding"
	"referral-gate/internal/telegram"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Лимиты безопасности
const MaxTokenLength = 64

// Options настройки обработчика
type Options struct {
	BotUsername    string
	Channels       []string
	SupportContact string
}

// Handler представляет обработчик обновлений Telegram
type Handler struct {
	bot         telegram.API
	machine     *onboarding.Machine
	messages    *Messages
	rateLimiter *RateLimiter
	opts        Options
	logger      *zap.Logger
}

// NewHandler создает новый обработчик
func NewHandler(bot telegram.API, machine *onboarding.Machine, rateLimiter *RateLimiter, opts Options, logger *zap.Logger) *Handler {
	return &Handler{
		bot:         bot,
		machine:     machine,
		messages:    NewMessages(opts.SupportContact),
		rateLimiter: rateLimiter,
		opts:        opts,
		logger:      logger,
	}
}

// HandleUpdate обрабатывает входящее обновление
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	// Получаем ID пользователя для rate limiting
	var from *tgbotapi.User
	if update.Message != nil {
		from = update.Message.From
	} else if update.CallbackQuery != nil {
		from = update.CallbackQuery.From
	}
	if from == nil {
		return nil
	}

	// Проверяем rate limit
	if h.rateLimiter != nil && !h.rateLimiter.IsAllowed(from.ID) {
		h.logger.Warn("rate limit exceeded", zap.Int64("user_id", from.ID))
		// Для обычных сообщений отправляем предупреждение
		if update.Message != nil {
			return h.sendMessage(update.Message.Chat.ID, h.messages.RateLimited())
		}
		// Для callback просто игнорируем
		return nil
	}

	// Обрабатываем inline кнопки
	if update.CallbackQuery != nil {
		return h.handleCallbackQuery(ctx, update.CallbackQuery)
	}

	h.logger.Debug("получено обновление",
		zap.Int64("chat_id", update.Message.Chat.ID),
		zap.Int64("user_id", from.ID),
		zap.String("text", update.Message.Text))

	// Обрабатываем команды
	if update.Message.IsCommand() {
		return h.handleCommand(ctx, update.Message)
	}

	// Обрабатываем кнопки и обычные сообщения
	return h.handleButtonPress(ctx, update.Message)
}

// handleCommand обрабатывает команды
func (h *Handler) handleCommand(ctx context.Context, message *tgbotapi.Message) error {
	switch message.Command() {
	case "start":
		return h.handleStartCommand(ctx, message)
	case "invite":
		return h.sendMessage(message.Chat.ID, h.messages.InviteHint())
	default:
		return h.sendMessage(message.Chat.ID, h.messages.UnknownCommand())
	}
}

// handleStartCommand регистрирует пользователя и показывает каналы для подписки
func (h *Handler) handleStartCommand(ctx context.Context, message *tgbotapi.Message) error {
	userID := userKey(message.From)

	token := strings.TrimSpace(message.CommandArguments())
	if len(token) > MaxTokenLength {
		h.logger.Warn("слишком длинный токен приглашения",
			zap.String("user_id", userID),
			zap.Int("length", len(token)))
		token = ""
	}

	if _, err := h.machine.Signup(ctx, userID, token); err != nil {
		h.logger.Error("ошибка регистрации пользователя",
			zap.String("user_id", userID),
			zap.Error(err))
		return h.sendErrorMessage(message.Chat.ID, "Ошибка обработки запроса. Попробуйте позже.")
	}

	return h.sendJoinPrompt(message.Chat.ID)
}

// handleCallbackQuery обрабатывает нажатия inline кнопок
func (h *Handler) handleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) error {
	if callback.Data != CallbackCheckMembership {
		// Отвечаем на callback (убираем "загрузку" кнопки)
		h.answerCallback(tgbotapi.NewCallback(callback.ID, ""))
		return nil
	}

	userID := userKey(callback.From)
	res := h.machine.Verify(ctx, userID)

	h.logger.Info("проверка подписки по кнопке",
		zap.String("user_id", userID),
		zap.Bool("admitted", res.Admitted()),
		zap.Strings("missing", res.Missing))

	if !res.Admitted() {
		h.answerCallback(tgbotapi.NewCallbackWithAlert(callback.ID, h.messages.JoinAll()))
		return nil
	}

	h.answerCallback(tgbotapi.NewCallback(callback.ID, h.messages.Admitted()))

	chatID := callback.From.ID
	if callback.Message != nil && callback.Message.Chat != nil {
		chatID = callback.Message.Chat.ID
	}
	return h.sendMessageWithKeyboard(chatID, h.messages.MainMenu(), h.messages.MainKeyboard())
}

// handleButtonPress обрабатывает кнопки главного меню
func (h *Handler) handleButtonPress(ctx context.Context, message *tgbotapi.Message) error {
	switch message.Text {
	case ButtonInviteLink:
		return h.gated(ctx, message, func(userID string) error {
			link := h.messages.InviteLink(h.opts.BotUsername, h.machine.InviteToken(userID))
			return h.sendMessage(message.Chat.ID, link)
		})
	case ButtonMyPoints:
		return h.gated(ctx, message, func(userID string) error {
			return h.sendMessage(message.Chat.ID, h.messages.Points(h.machine.Points(userID)))
		})
	case ButtonSupport:
		return h.sendMessage(message.Chat.ID, h.messages.Support())
	default:
		return h.sendMessage(message.Chat.ID, h.messages.UnknownCommand())
	}
}

// gated выполняет действие только после повторной проверки подписки
func (h *Handler) gated(ctx context.Context, message *tgbotapi.Message, action func(userID string) error) error {
	userID := userKey(message.From)

	res := h.machine.Verify(ctx, userID)
	if !res.Admitted() {
		h.logger.Debug("действие недоступно без подписки",
			zap.String("user_id", userID),
			zap.Strings("missing", res.Missing))
		return h.sendJoinPrompt(message.Chat.ID)
	}

	return action(userID)
}

// sendJoinPrompt отправляет кнопку проверки и ссылки на каналы
func (h *Handler) sendJoinPrompt(chatID int64) error {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(h.messages.JoinedButton(), CallbackCheckMembership),
		),
	}
	for i, channel := range h.opts.Channels {
		// Ссылку можно построить только для публичного канала
		if !strings.HasPrefix(channel, "@") {
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(h.messages.ChannelButton(i+1), telegram.ChannelURL(channel)),
		))
	}

	msg := tgbotapi.NewMessage(chatID, h.messages.JoinPrompt())
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)

	if _, err := h.bot.Send(msg); err != nil {
		h.logger.Error("ошибка отправки приглашения подписаться",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
		return err
	}
	return nil
}

func (h *Handler) answerCallback(cfg tgbotapi.CallbackConfig) {
	if _, err := h.bot.Request(cfg); err != nil {
		h.logger.Error("ошибка ответа на callback", zap.Error(err))
	}
}

// sendMessage отправляет текстовое сообщение
func (h *Handler) sendMessage(chatID int64, text string) error {
	_, err := h.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		h.logger.Error("ошибка отправки сообщения",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
		return err
	}
	return nil
}

// sendMessageWithKeyboard отправляет сообщение с клавиатурой
func (h *Handler) sendMessageWithKeyboard(chatID int64, text string, keyboard [][]string) error {
	msg := tgbotapi.NewMessage(chatID, text)

	// Создаем клавиатуру
	var buttons [][]tgbotapi.KeyboardButton
	for _, row := range keyboard {
		var buttonRow []tgbotapi.KeyboardButton
		for _, buttonText := range row {
			buttonRow = append(buttonRow, tgbotapi.NewKeyboardButton(buttonText))
		}
		buttons = append(buttons, buttonRow)
	}

	msg.ReplyMarkup = tgbotapi.ReplyKeyboardMarkup{
		Keyboard:        buttons,
		ResizeKeyboard:  true,
		OneTimeKeyboard: false,
	}

	_, err := h.bot.Send(msg)
	if err != nil {
		h.logger.Error("ошибка отправки сообщения с клавиатурой",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
		return err
	}

	return nil
}

// sendErrorMessage отправляет сообщение об ошибке
func (h *Handler) sendErrorMessage(chatID int64, text string) error {
	return h.sendMessage(chatID, h.messages.Error(text))
}

// userKey ключ пользователя в леджере
func userKey(u *tgbotapi.User) string {
	return strconv.FormatInt(u.ID, 10)
}
