package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"referral-gate/internal/membership"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// API подмножество методов Bot API; *tgbotapi.BotAPI его реализует
type API interface {
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// ChatConfig собирает адрес канала: @username или числовой chat_id
func ChatConfig(channel string, userID int64) (tgbotapi.ChatConfigWithUser, error) {
	cfg := tgbotapi.ChatConfigWithUser{UserID: userID}

	channel = strings.TrimSpace(channel)
	if strings.HasPrefix(channel, "@") {
		cfg.SuperGroupUsername = channel
		return cfg, nil
	}

	chatID, err := strconv.ParseInt(channel, 10, 64)
	if err != nil {
		return cfg, fmt.Errorf("некорректный канал %q", channel)
	}
	cfg.ChatID = chatID
	return cfg, nil
}

// ChannelURL ссылка на публичный канал
func ChannelURL(channel string) string {
	return "https://t.me/" + strings.TrimPrefix(strings.TrimSpace(channel), "@")
}

// Oracle запрашивает статус участника через getChatMember
type Oracle struct {
	api    API
	logger *zap.Logger
}

// NewOracle создает оракул подписки
func NewOracle(api API, logger *zap.Logger) *Oracle {
	return &Oracle{api: api, logger: logger}
}

// MembershipStatus возвращает статус пользователя в канале.
// Bot API не принимает context, поэтому вызов выполняется в отдельной горутине.
func (o *Oracle) MembershipStatus(ctx context.Context, channel, userID string) (membership.Status, error) {
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return membership.StatusUnknown, fmt.Errorf("некорректный ID пользователя %q: %w", userID, err)
	}

	chat, err := ChatConfig(channel, uid)
	if err != nil {
		return membership.StatusUnknown, err
	}

	type answer struct {
		member tgbotapi.ChatMember
		err    error
	}
	done := make(chan answer, 1)
	go func() {
		member, err := o.api.GetChatMember(tgbotapi.GetChatMemberConfig{ChatConfigWithUser: chat})
		done <- answer{member: member, err: err}
	}()

	select {
	case a := <-done:
		if a.err != nil {
			return membership.StatusUnknown, fmt.Errorf("ошибка getChatMember в %s: %w", channel, a.err)
		}
		return membership.Status(a.member.Status), nil
	case <-ctx.Done():
		return membership.StatusUnknown, ctx.Err()
	}
}

// Notifier отправляет текстовые уведомления
type Notifier struct {
	api    API
	logger *zap.Logger
}

// NewNotifier создает отправитель уведомлений
func NewNotifier(api API, logger *zap.Logger) *Notifier {
	return &Notifier{api: api, logger: logger}
}

// Notify отправляет сообщение пользователю
func (n *Notifier) Notify(ctx context.Context, userID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("некорректный ID пользователя %q: %w", userID, err)
	}

	if _, err := n.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("ошибка отправки уведомления: %w", err)
	}

	n.logger.Debug("уведомление отправлено", zap.String("user_id", userID))
	return nil
}
