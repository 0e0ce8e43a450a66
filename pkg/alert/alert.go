package alert

import (
	"context"
	"sort"

	"smallbiznis-payout/pkg/config"

	"github.com/slack-go/slack"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("alert", fx.Provide(ProvideAlerter))

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Message struct {
	Severity Severity
	Title    string
	Text     string
	Fields   map[string]string
}

// Alerter delivers operator alerts. Implementations must not block payouts
// for long; callers treat delivery errors as log-only.
type Alerter interface {
	Alert(ctx context.Context, msg Message) error
}

func ProvideAlerter(cfg *config.Config) Alerter {
	if cfg.Alert.SlackToken == "" || cfg.Alert.SlackChannel == "" {
		zap.L().Warn("slack alerting not configured, alerts go to logs only")
		return LogAlerter{}
	}
	return NewSlack(slack.New(cfg.Alert.SlackToken), cfg.Alert.SlackChannel)
}

type Slack struct {
	client  *slack.Client
	channel string
}

func NewSlack(client *slack.Client, channel string) *Slack {
	return &Slack{client: client, channel: channel}
}

func (s *Slack) Alert(ctx context.Context, msg Message) error {
	color := "warning"
	if msg.Severity == SeverityCritical {
		color = "danger"
	}

	keys := make([]string, 0, len(msg.Fields))
	for k := range msg.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]slack.AttachmentField, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, slack.AttachmentField{Title: k, Value: msg.Fields[k], Short: true})
	}

	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(msg.Title, false),
		slack.MsgOptionAttachments(slack.Attachment{
			Color:  color,
			Title:  msg.Title,
			Text:   msg.Text,
			Fields: fields,
		}),
	)
	if err != nil {
		zap.L().Error("failed to post slack alert", zap.String("title", msg.Title), zap.Error(err))
	}
	return err
}

// LogAlerter writes alerts to the global logger.
type LogAlerter struct{}

func (LogAlerter) Alert(_ context.Context, msg Message) error {
	fields := []zap.Field{zap.String("severity", string(msg.Severity)), zap.String("text", msg.Text)}
	for k, v := range msg.Fields {
		fields = append(fields, zap.String(k, v))
	}
	zap.L().Warn("[ALERT] "+msg.Title, fields...)
	return nil
}
