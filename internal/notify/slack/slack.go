// Package slack sends urgent triage notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/medtriage/internal/triage"
)

const (
	maxTextLen  = 3000
	httpTimeout = 10 * time.Second
)

// Notifier sends urgent triage records to a Slack webhook.
type Notifier struct {
	webhookURL    string
	symptomsLimit int
	client        *http.Client
	logger        log.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithSymptoms includes up to limit bytes of the patient's symptom text in
// messages. Without it, or with limit <= 0, the text is withheld and only the
// record ID is posted.
func WithSymptoms(limit int) Option {
	return func(n *Notifier) { n.symptomsLimit = min(max(limit, 0), maxTextLen) }
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	n := &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Notify posts rec to the configured webhook when it is urgent. Non-urgent
// records and an empty webhook URL return nil immediately.
func (n *Notifier) Notify(ctx context.Context, rec *triage.Record) error {
	if n.webhookURL == "" || !rec.Result.Urgent {
		return nil
	}

	body, err := json.Marshal(buildMessage(rec, n.symptomsLimit))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "urgent triage notification sent", "triage_id", rec.ID)
	return nil
}

// buildMessage renders rec. symptomsLimit <= 0 withholds the symptom text.
func buildMessage(rec *triage.Record, symptomsLimit int) map[string]any {
	return map[string]any{
		"text": fmt.Sprintf("Urgent triage: %s", rec.Result.Specialty),
		"blocks": []map[string]any{
			headerBlock(rec),
			{"type": "divider"},
			fieldsBlock(rec),
			{"type": "divider"},
			symptomsBlock(rec, symptomsLimit),
			textBlock("Explanation", rec.Result.Explanation),
			{"type": "divider"},
			contextBlock(rec),
		},
	}
}

func headerBlock(rec *triage.Record) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s Urgent triage: %s", severityEmoji(rec.Result.SeverityLevel), rec.Result.Specialty),
		},
	}
}

func fieldsBlock(rec *triage.Record) map[string]any {
	r := rec.Result
	fields := []map[string]any{
		mrkdwn(fmt.Sprintf("*Specialty:* %s", r.Specialty)),
		mrkdwn(fmt.Sprintf("*Severity:* %s", r.SeverityLevel)),
		mrkdwn(fmt.Sprintf("*Confidence:* %.0f%% (%s)", r.Confidence*100, r.ConfidenceSource)),
		mrkdwn(fmt.Sprintf("*Answer:* %s", r.AnswerStatus)),
	}
	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func symptomsBlock(rec *triage.Record, limit int) map[string]any {
	if limit <= 0 {
		return map[string]any{
			"type": "section",
			"text": mrkdwn(fmt.Sprintf("*Symptoms*\n\n_Withheld. See record %s._", rec.ID)),
		}
	}
	return textBlock("Symptoms", truncate(rec.Symptoms, limit))
}

func textBlock(title, text string) map[string]any {
	text = truncate(text, maxTextLen)
	if text == "" {
		text = "_None._"
	}
	return map[string]any{
		"type": "section",
		"text": mrkdwn(fmt.Sprintf("*%s*\n\n%s", title, text)),
	}
}

func contextBlock(rec *triage.Record) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			mrkdwn(fmt.Sprintf("medtriage • record %s • %s", rec.ID, rec.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"))),
		},
	}
}

func mrkdwn(text string) map[string]any {
	return map[string]any{"type": "mrkdwn", "text": text}
}

func severityEmoji(s triage.Severity) string {
	switch s {
	case triage.SeverityHigh:
		return "\U0001f534" // red circle
	case triage.SeverityMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

// truncate limits s to limit bytes without splitting a UTF-8 sequence.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := max(limit-len("..."), 0)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
