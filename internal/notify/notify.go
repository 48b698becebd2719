// Package notify surfaces critical account events to an operator.
// Notifications are best-effort; delivery failures are logged and dropped.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// Level describes the urgency of a notification.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Event represents a notification to the operator.
type Event struct {
	Level     Level
	Title     string
	Message   string
	AccountID string
	Err       error
}

// Notifier sends operator notifications.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// LogNotifier writes notifications to the daemon log only.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, e Event) error {
	ev := n.logger.Warn()
	if e.Level == LevelCritical {
		ev = n.logger.Error()
	}
	ev.Str("level", string(e.Level)).
		Str("account_id", e.AccountID).
		Err(e.Err).
		Msgf("%s: %s", e.Title, e.Message)
	return nil
}

// SlackNotifier posts notifications to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	logger     zerolog.Logger
}

// NewSlackNotifier creates a webhook-backed notifier.
func NewSlackNotifier(webhookURL string, logger zerolog.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		logger:     logger.With().Str("component", "notify_slack").Logger(),
	}
}

func (n *SlackNotifier) Notify(ctx context.Context, e Event) error {
	text := fmt.Sprintf("%s *[%s] %s*\n%s", levelEmoji(e.Level), e.Level, e.Title, e.Message)
	if e.AccountID != "" {
		text += fmt.Sprintf("\n_Account: %s_", e.AccountID)
	}
	if e.Err != nil {
		text += fmt.Sprintf("\n```%v```", e.Err)
	}

	if err := slack.PostWebhookContext(ctx, n.webhookURL, &slack.WebhookMessage{Text: text}); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	n.logger.Info().Str("level", string(e.Level)).Str("title", e.Title).Msg("operator notified")
	return nil
}

func levelEmoji(l Level) string {
	switch l {
	case LevelCritical:
		return ":rotating_light:"
	case LevelWarning:
		return ":warning:"
	default:
		return ":information_source:"
	}
}

// MultiNotifier fans out to several notifiers; the first error wins but
// every notifier is attempted.
type MultiNotifier struct {
	targets []Notifier
}

// NewMultiNotifier combines notifiers.
func NewMultiNotifier(targets ...Notifier) *MultiNotifier {
	return &MultiNotifier{targets: targets}
}

func (n *MultiNotifier) Notify(ctx context.Context, e Event) error {
	var first error
	for _, t := range n.targets {
		if err := t.Notify(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
