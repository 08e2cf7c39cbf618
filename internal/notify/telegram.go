package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/Freeeeeet/lesson_scheduler/internal/events"
	"github.com/Freeeeeet/lesson_scheduler/internal/formatting"
	"github.com/Freeeeeet/lesson_scheduler/internal/model"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// MessageSender часть *bot.Bot, которая нужна каналу
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// UserLookup поиск пользователя для получения chat id
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

// TelegramChannel отправляет уведомления в личные сообщения бота
type TelegramChannel struct {
	sender MessageSender
	users  UserLookup
	logger *zap.Logger
}

func NewTelegramChannel(sender MessageSender, users UserLookup, logger *zap.Logger) *TelegramChannel {
	return &TelegramChannel{
		sender: sender,
		users:  users,
		logger: logger,
	}
}

func (c *TelegramChannel) Name() string { return "telegram" }

// Send отправляет текст события всем его получателям
func (c *TelegramChannel) Send(ctx context.Context, event events.Event) error {
	text := formatting.Message(event)
	if text == "" {
		return nil
	}

	var errs []error
	for _, userID := range recipients(event) {
		user, err := c.users.GetByID(ctx, userID)
		if err != nil {
			errs = append(errs, fmt.Errorf("get user %d: %w", userID, err))
			continue
		}

		// Пользователь не связан с Telegram
		if user == nil || user.TelegramID == 0 {
			c.logger.Debug("Skipping notification, no telegram chat",
				zap.Int64("user_id", userID),
				zap.String("type", string(event.Type)),
			)
			continue
		}

		_, err = c.sender.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: user.TelegramID,
			Text:   text,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("send to user %d: %w", userID, err))
		}
	}

	return errors.Join(errs...)
}

// recipients студент получает всё, учитель только изменения своих индивидуальных занятий
func recipients(event events.Event) []int64 {
	var ids []int64
	if event.StudentID != 0 {
		ids = append(ids, event.StudentID)
	}

	switch event.Type {
	case events.LessonScheduled, events.LessonCancelled:
		if event.TeacherID != 0 {
			ids = append(ids, event.TeacherID)
		}
	}
	return ids
}
