package notification

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/konozy/ordersync/internal/domain/integration"
)

// DefaultTelegramAPIURL is the Bot API base URL
const DefaultTelegramAPIURL = "https://api.telegram.org"

var (
	ErrTelegramMissingToken  = errors.New("notification: telegram bot token is required")
	ErrTelegramMissingChatID = errors.New("notification: telegram chat id is required")
)

// TelegramConfig configures TelegramSink
type TelegramConfig struct {
	APIURL      string
	BotToken    string
	ChatID      string
	Prefix      string
	MinSeverity integration.Severity
}

// Ensure TelegramSink implements NotificationSink
var _ integration.NotificationSink = (*TelegramSink)(nil)

// TelegramSink posts notifications through the Telegram Bot API sendMessage
// method using Markdown formatting.
type TelegramSink struct {
	config     TelegramConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// TelegramOption is a functional option for configuring TelegramSink
type TelegramOption func(*TelegramSink)

// WithTelegramHTTPClient sets the HTTP client
func WithTelegramHTTPClient(c *http.Client) TelegramOption {
	return func(s *TelegramSink) {
		s.httpClient = c
	}
}

// WithTelegramLogger sets the logger
func WithTelegramLogger(l *zap.Logger) TelegramOption {
	return func(s *TelegramSink) {
		s.logger = l
	}
}

// NewTelegramSink creates a TelegramSink
func NewTelegramSink(cfg TelegramConfig, opts ...TelegramOption) (*TelegramSink, error) {
	if cfg.BotToken == "" {
		return nil, ErrTelegramMissingToken
	}
	if cfg.ChatID == "" {
		return nil, ErrTelegramMissingChatID
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultTelegramAPIURL
	}
	s := &TelegramSink{
		config:     cfg,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Notify sends message unless severity is below the configured minimum
func (s *TelegramSink) Notify(ctx context.Context, message string, severity integration.Severity) error {
	if severity < s.config.MinSeverity {
		s.logger.Debug("Skipping telegram notification below threshold",
			zap.Int("severity", int(severity)),
			zap.Int("min_severity", int(s.config.MinSeverity)),
		)
		return nil
	}

	endpoint := strings.TrimRight(s.config.APIURL, "/") + "/bot" + s.config.BotToken + "/sendMessage"
	err := postJSON(ctx, s.httpClient, "telegram", endpoint, telegramMessage{
		ChatID:    s.config.ChatID,
		Text:      s.format(message, severity),
		ParseMode: "Markdown",
	})
	if err != nil {
		// The bot token is part of the URL and may leak through url.Error.
		return &redactedError{msg: strings.ReplaceAll(err.Error(), s.config.BotToken, "***"), err: err}
	}
	s.logger.Debug("Telegram notification sent")
	return nil
}

func (s *TelegramSink) format(message string, severity integration.Severity) string {
	parts := make([]string, 0, 3)
	if s.config.Prefix != "" {
		parts = append(parts, s.config.Prefix)
	}
	parts = append(parts, severityEmoji(severity), message)
	return strings.Join(parts, " ")
}

func severityEmoji(s integration.Severity) string {
	switch {
	case s >= integration.SeverityCritical:
		return "🔴"
	case s >= integration.SeverityWarning:
		return "🟡"
	default:
		return "🟢"
	}
}

// redactedError hides a secret in the message while keeping the chain.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
