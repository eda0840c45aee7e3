package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/droidpool/droidpool/internal/config"
	"github.com/droidpool/droidpool/internal/logging"
	"github.com/droidpool/droidpool/internal/pool"
)

// Notify sends a one-off message without keeping a bot instance around.
// Errors are swallowed; notification delivery never blocks failover.
func Notify(token string, chatID int64, text string) {
	token = strings.TrimSpace(token)
	if token == "" || chatID == 0 || strings.TrimSpace(text) == "" {
		return
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	_, _ = bot.Send(msg)
}

// Notifier forwards pool events as Telegram messages.
type Notifier struct {
	cfg    config.TelegramConfig
	logger *logging.Logger
	send   func(token string, chatID int64, text string)
}

// NewNotifier creates a notifier. It is inert when the config is disabled.
func NewNotifier(cfg config.TelegramConfig, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Notifier{cfg: cfg, logger: logger, send: Notify}
}

// HandleEvent formats and sends a message for the given pool event.
// Safe to call from worker goroutines.
func (n *Notifier) HandleEvent(e pool.Event) {
	if n == nil || !n.cfg.Enabled {
		return
	}
	text := FormatEvent(e)
	if text == "" {
		return
	}
	go n.send(n.cfg.BotToken, n.cfg.ChatID, text)
}

// FormatEvent renders a pool event as a Telegram message. Events that do
// not warrant a notification render as the empty string.
func FormatEvent(e pool.Event) string {
	switch e.Kind {
	case pool.EventFailoverSuccess:
		return fmt.Sprintf("✅ *Failover complete*\nNow using credential `%s`\n%s",
			e.CredentialID, pool.FormatRatio(e.Ratio))
	case pool.EventFailoverFailed:
		if e.CredentialID == "" {
			return fmt.Sprintf("🚨 *Failover failed*\nNo usable backup credential.\n%s", e.Message)
		}
		return fmt.Sprintf("🚨 *Failover failed*\nCandidate `%s` was rejected.\n%s",
			e.CredentialID, e.Message)
	case pool.EventQuotaExhausted:
		return fmt.Sprintf("⚠️ *Quota exhausted*\nCredential `%s` is at %.1f%% usage.",
			e.CredentialID, e.Ratio*100)
	default:
		return ""
	}
}
