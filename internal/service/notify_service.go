package service

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Notification reports a failure an operator should act on.
type Notification struct {
	Title  string
	Err    error
	Fields map[string]string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NewNotifier posts to Slack when a webhook is configured and only logs
// otherwise.
func NewNotifier(webhookURL string, client *http.Client) Notifier {
	if webhookURL == "" {
		return logNotifier{}
	}
	return &slackNotifier{webhookURL: webhookURL, api: newAPIClient("slack", client)}
}

type logNotifier struct{}

func (logNotifier) Notify(_ context.Context, n Notification) error {
	fields := logrus.Fields{}
	for k, v := range n.Fields {
		fields[k] = v
	}
	logrus.WithFields(fields).WithError(n.Err).Error(n.Title)
	return nil
}

type slackNotifier struct {
	webhookURL string
	api        apiClient
}

func (s *slackNotifier) Notify(ctx context.Context, n Notification) error {
	logNotifier{}.Notify(ctx, n)

	keys := make([]string, 0, len(n.Fields))
	for k := range n.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var details strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&details, "*%s:* %s\n", k, n.Fields[k])
	}
	errText := ""
	if n.Err != nil {
		errText = n.Err.Error()
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{"type": "plain_text", "text": n.Title, "emoji": true},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": "*Error:*\n" + errText},
					map[string]any{"type": "mrkdwn", "text": "*Time:*\n" + time.Now().UTC().Format(time.RFC822)},
				},
			},
			map[string]any{
				"type": "section",
				"text": map[string]any{"type": "mrkdwn", "text": details.String()},
			},
		},
	}

	req, err := newRequest(ctx, http.MethodPost, s.webhookURL, payload)
	if err != nil {
		return err
	}
	_, err = s.api.send(req, "notify", nil)
	return err
}
