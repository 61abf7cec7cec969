package notify

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type TelegramConfig struct {
	// RatePerSecond caps outgoing calls; Telegram allows about 30 per second per bot.
	RatePerSecond float64
	Burst         int
}

type TelegramNotifier struct {
	sender  Sender
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func NewTelegramNotifier(sender Sender, cfg TelegramConfig, logger zerolog.Logger) *TelegramNotifier {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 25
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &TelegramNotifier{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// NewBotSender connects to the Bot API with token.
func NewBotSender(token string) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	return bot, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, userID int64, text string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := n.sender.Send(tgbotapi.NewMessage(userID, text)); err != nil {
		return fmt.Errorf("send message to %d: %w", userID, err)
	}
	return nil
}

func (n *TelegramNotifier) NotifyPhoto(ctx context.Context, userID int64, photo Photo) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}

	var file tgbotapi.RequestFileData
	switch {
	case len(photo.Data) > 0:
		name := photo.FileName
		if name == "" {
			name = "image.jpg"
		}
		file = tgbotapi.FileBytes{Name: name, Bytes: photo.Data}
	case photo.URL != "":
		file = tgbotapi.FileURL(photo.URL)
	default:
		return errors.New("photo has neither data nor url")
	}

	message := tgbotapi.NewPhoto(userID, file)
	message.Caption = photo.Caption
	if len(photo.Keyboard) > 0 {
		message.ReplyMarkup = inlineMarkup(photo.Keyboard)
	}
	if _, err := n.sender.Send(message); err != nil {
		return fmt.Errorf("send photo to %d: %w", userID, err)
	}
	return nil
}

func (n *TelegramNotifier) DeletePlaceholder(ctx context.Context, userID int64, messageID int) error {
	if messageID == 0 {
		return nil
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := n.sender.Request(tgbotapi.NewDeleteMessage(userID, messageID)); err != nil {
		// An already deleted placeholder is not worth failing a job over.
		n.logger.Warn().Err(err).Int64("user_id", userID).Int("message_id", messageID).Msg("delete placeholder failed")
	}
	return nil
}

func inlineMarkup(keyboard Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(keyboard))
	for _, row := range keyboard {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, button := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(button.Text, button.Data))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// LogNotifier writes notifications to the log. It is the local fallback when
// no bot token is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, userID int64, text string) error {
	n.logger.Info().Int64("user_id", userID).Str("text", text).Msg("notify")
	return nil
}

func (n *LogNotifier) NotifyPhoto(_ context.Context, userID int64, photo Photo) error {
	n.logger.Info().Int64("user_id", userID).Str("url", photo.URL).Int("bytes", len(photo.Data)).Msg("notify photo")
	return nil
}

func (n *LogNotifier) DeletePlaceholder(_ context.Context, userID int64, messageID int) error {
	n.logger.Debug().Int64("user_id", userID).Int("message_id", messageID).Msg("delete placeholder")
	return nil
}
