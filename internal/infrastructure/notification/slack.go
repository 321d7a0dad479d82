package notification

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/konozy/ordersync/internal/domain/integration"
)

var ErrSlackMissingWebhook = errors.New("notification: slack webhook url is required")

// SlackConfig configures SlackSink
type SlackConfig struct {
	WebhookURL  string
	Prefix      string
	MinSeverity integration.Severity
}

// Ensure SlackSink implements NotificationSink
var _ integration.NotificationSink = (*SlackSink)(nil)

// SlackSink posts notifications to a Slack incoming webhook as a coloured
// attachment.
type SlackSink struct {
	config     SlackConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// SlackOption is a functional option for configuring SlackSink
type SlackOption func(*SlackSink)

// WithSlackHTTPClient sets the HTTP client
func WithSlackHTTPClient(c *http.Client) SlackOption {
	return func(s *SlackSink) {
		s.httpClient = c
	}
}

// WithSlackLogger sets the logger
func WithSlackLogger(l *zap.Logger) SlackOption {
	return func(s *SlackSink) {
		s.logger = l
	}
}

// NewSlackSink creates a SlackSink
func NewSlackSink(cfg SlackConfig, opts ...SlackOption) (*SlackSink, error) {
	if cfg.WebhookURL == "" {
		return nil, ErrSlackMissingWebhook
	}
	s := &SlackSink{
		config:     cfg,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type slackAttachment struct {
	Color    string   `json:"color"`
	Title    string   `json:"title"`
	Text     string   `json:"text"`
	MrkdwnIn []string `json:"mrkdwn_in"`
}

type slackMessage struct {
	Attachments []slackAttachment `json:"attachments"`
}

// Notify sends message unless severity is below the configured minimum
func (s *SlackSink) Notify(ctx context.Context, message string, severity integration.Severity) error {
	if severity < s.config.MinSeverity {
		return nil
	}

	text := message
	if s.config.Prefix != "" {
		text = s.config.Prefix + " " + message
	}
	err := postJSON(ctx, s.httpClient, "slack", s.config.WebhookURL, slackMessage{
		Attachments: []slackAttachment{{
			Color:    severityColor(severity),
			Title:    SeverityTitle(severity),
			Text:     text,
			MrkdwnIn: []string{"text"},
		}},
	})
	if err != nil {
		// Webhook URLs embed their secret in the path.
		return &redactedError{msg: strings.ReplaceAll(err.Error(), s.config.WebhookURL, "<webhook>"), err: err}
	}
	s.logger.Debug("Slack notification sent")
	return nil
}

func severityColor(s integration.Severity) string {
	switch {
	case s >= integration.SeverityCritical:
		return "danger"
	case s >= integration.SeverityWarning:
		return "warning"
	default:
		return "good"
	}
}
