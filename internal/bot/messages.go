package bot

import (
	"fmt"
	"strconv"
)

const (
	// Callback кнопки "я подписался"
	CallbackCheckMembership = "check_membership"

	// Кнопки главного меню
	ButtonInviteLink = "🎁 Получить ссылку-приглашение"
	ButtonMyPoints   = "👥 Мои очки"
	ButtonSupport    = "🆘 Поддержка"
)

// Messages тексты бота
type Messages struct {
	supportContact string
}

// NewMessages создает набор текстов
func NewMessages(supportContact string) *Messages {
	return &Messages{supportContact: supportContact}
}

// JoinPrompt приглашение подписаться на обязательные каналы
func (m *Messages) JoinPrompt() string {
	return "Чтобы продолжить, подпишитесь на каналы ниже,\nзатем нажмите кнопку «Я подписался»."
}

// JoinedButton текст кнопки проверки подписки
func (m *Messages) JoinedButton() string {
	return "✅ Я подписался"
}

// ChannelButton текст кнопки-ссылки на канал
func (m *Messages) ChannelButton(n int) string {
	return "🔗 Канал " + strconv.Itoa(n)
}

// Admitted ответ на callback при успешной проверке
func (m *Messages) Admitted() string {
	return "✅ Вы подписаны на все каналы!"
}

// JoinAll alert при неуспешной проверке
func (m *Messages) JoinAll() string {
	return "⛔ Пожалуйста, подпишитесь на все каналы."
}

// MainMenu заголовок главного меню
func (m *Messages) MainMenu() string {
	return "Добро пожаловать в главное меню 👇"
}

// MainKeyboard раскладка главного меню
func (m *Messages) MainKeyboard() [][]string {
	return [][]string{
		{ButtonInviteLink},
		{ButtonMyPoints, ButtonSupport},
	}
}

// InviteLink текст со ссылкой-приглашением
func (m *Messages) InviteLink(botUsername, token string) string {
	return fmt.Sprintf("🔗 Ваша ссылка-приглашение:\nhttps://t.me/%s?start=%s", botUsername, token)
}

// Points текущий баланс
func (m *Messages) Points(points int64) string {
	return fmt.Sprintf("🏆 Ваши очки: %d", points)
}

// Support контакт поддержки
func (m *Messages) Support() string {
	return "По вопросам поддержки пишите:\n" + m.supportContact
}

// InviteHint ответ на /invite
func (m *Messages) InviteHint() string {
	return fmt.Sprintf("Нажмите в меню бота кнопку «%s».", ButtonInviteLink)
}

// UnknownCommand ответ на неизвестную команду или текст
func (m *Messages) UnknownCommand() string {
	return "Неизвестная команда. Выберите пункт в меню ниже."
}

// RateLimited предупреждение о частых запросах
func (m *Messages) RateLimited() string {
	return "⚠️ Слишком много запросов. Подождите немного."
}

// Error сообщение об ошибке
func (m *Messages) Error(text string) string {
	return "❌ " + text
}
