package chatbot

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"fundingwatch/internal/alerting"
)

// Bot serves chat commands over Telegram and doubles as the notifier.
type Bot struct {
	bot      *bot.Bot
	commands *Commands
	logger   zerolog.Logger
}

// New connects a Telegram bot. Extra options are appended after the defaults.
// The bot only sends until commands are attached with Use.
func New(token string, logger zerolog.Logger, opts ...bot.Option) (*Bot, error) {
	b := &Bot{
		logger: logger.With().Str("component", "chatbot").Logger(),
	}

	options := append([]bot.Option{
		bot.WithDefaultHandler(b.handle),
		bot.WithSkipGetMe(),
	}, opts...)

	tb, err := bot.New(token, options...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	b.bot = tb
	return b, nil
}

// Use attaches the command set. It must be called before Run.
func (b *Bot) Use(commands *Commands) {
	b.commands = commands
}

// Run registers the command menu and polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if _, err := b.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: menu()}); err != nil {
		b.logger.Warn().Err(err).Msg("could not set bot commands")
	}
	b.logger.Info().Msg("telegram bot polling started")
	b.bot.Start(ctx)
	return nil
}

// Send delivers text to chatID.
func (b *Bot) Send(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		return fmt.Errorf("telegram chat id is empty")
	}
	if _, err := b.bot.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func (b *Bot) handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if b.commands == nil || update == nil || update.Message == nil || update.Message.Text == "" {
		return
	}

	chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
	reply, ok := b.commands.Handle(ctx, chatID, update.Message.Text)
	if !ok || reply == "" {
		return
	}

	disabled := true
	_, err := b.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   reply,
		ReplyParameters: &models.ReplyParameters{
			MessageID: update.Message.ID,
		},
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disabled,
		},
	})
	if err != nil {
		b.logger.Error().Err(err).Str("chat_id", chatID).Msg("could not reply to command")
	}
}

func menu() []models.BotCommand {
	return []models.BotCommand{
		{Command: "start", Description: "Show help"},
		{Command: "status", Description: "Monitor status"},
		{Command: "threshold", Description: "Show or set the notification threshold (percent)"},
		{Command: "check", Description: "Check funding rates now"},
		{Command: "restart", Description: "Rebuild the rate table"},
		{Command: "alert", Description: "Add a price alert"},
		{Command: "alerts", Description: "List your price alerts"},
	}
}

var _ alerting.Notifier = (*Bot)(nil)
