package notify

import (
	"context"
	"fmt"
	"strings"

	"email-classifier/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier is told about every finished training job.
type Notifier interface {
	JobFinished(ctx context.Context, job *models.Job) error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) JobFinished(context.Context, *models.Job) error { return nil }

// Telegram posts job summaries to a chat.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

// NewTelegram authorizes the bot. It returns a Nop when token is empty.
func NewTelegram(token string, chatID int64, logger *zap.Logger) (Notifier, error) {
	if token == "" {
		logger.Info("Telegram notifications are disabled (telegram.bot_token is empty)")
		return Nop{}, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}
	return newTelegram(api, chatID, logger), nil
}

// NewTelegramWithAPI uses an already authorized bot.
func NewTelegramWithAPI(api *tgbotapi.BotAPI, chatID int64, logger *zap.Logger) *Telegram {
	return newTelegram(api, chatID, logger)
}

func newTelegram(api *tgbotapi.BotAPI, chatID int64, logger *zap.Logger) *Telegram {
	logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))
	return &Telegram{api: api, chatID: chatID, logger: logger}
}

func (t *Telegram) JobFinished(ctx context.Context, job *models.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, Summary(job))
	if _, err := t.api.Send(msg); err != nil {
		t.logger.Error("Failed to send job notification", zap.String("job_id", job.ID), zap.Error(err))
		return fmt.Errorf("send job notification: %w", err)
	}
	return nil
}

// Summary renders the plain-text notification for job.
func Summary(job *models.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Training job %s %s\n", job.ID, job.Status)
	fmt.Fprintf(&b, "Config: %s\n", job.ConfigPath)
	if job.Accuracy != nil {
		fmt.Fprintf(&b, "Accuracy: %.4f\n", *job.Accuracy)
	}
	if job.Status == models.JobSucceeded {
		if job.Promoted {
			b.WriteString("Model promoted\n")
		} else {
			b.WriteString("Model not promoted\n")
		}
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error (%s): %s\n", job.Stage, job.ErrorMessage)
	}
	return strings.TrimRight(b.String(), "\n")
}
