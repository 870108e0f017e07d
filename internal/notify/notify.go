// Package notify posts run lifecycle messages to a Slack webhook. All
// methods are no-ops when no webhook is configured, so callers never need
// to gate on configuration themselves.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dbferry/internal/config"
)

// Notifier sends run notifications to Slack.
type Notifier struct {
	cfg        config.NotifyConfig
	httpClient *http.Client
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Fields    []slackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// New creates a notifier from the config block.
func New(cfg config.NotifyConfig) *Notifier {
	return &Notifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether a webhook is configured.
func (n *Notifier) Enabled() bool {
	return n.cfg.SlackWebhook != ""
}

// RunStarted announces a new migration run.
func (n *Notifier) RunStarted(runID, sourceID, targetID string) error {
	if !n.Enabled() {
		return nil
	}
	return n.send(slackMessage{
		Channel:   n.cfg.Channel,
		Username:  n.username(),
		IconEmoji: ":rocket:",
		Attachments: []slackAttachment{{
			Color: "#36a64f",
			Title: "Migration started",
			Fields: []slackField{
				{Title: "Run ID", Value: runID, Short: true},
				{Title: "Source", Value: sourceID, Short: true},
				{Title: "Target", Value: targetID, Short: true},
			},
			Footer:    "dbferry",
			Timestamp: time.Now().Unix(),
		}},
	})
}

// RunCompleted reports a finished run. The status string is the run's
// terminal state (success, partial, failed, failed_structure).
func (n *Notifier) RunCompleted(runID, status string, migrated, failed int64, duration time.Duration) error {
	if !n.Enabled() {
		return nil
	}

	color := "#36a64f"
	icon := ":white_check_mark:"
	if status != "success" {
		color = "#ffc107"
		icon = ":warning:"
	}

	fields := []slackField{
		{Title: "Run ID", Value: runID, Short: true},
		{Title: "Status", Value: status, Short: true},
		{Title: "Duration", Value: formatDuration(duration), Short: true},
		{Title: "Rows migrated", Value: withCommas(migrated), Short: true},
	}
	if failed > 0 {
		fields = append(fields, slackField{Title: "Rows failed", Value: withCommas(failed), Short: true})
	}

	return n.send(slackMessage{
		Channel:   n.cfg.Channel,
		Username:  n.username(),
		IconEmoji: icon,
		Attachments: []slackAttachment{{
			Color:     color,
			Title:     "Migration " + status,
			Fields:    fields,
			Footer:    "dbferry",
			Timestamp: time.Now().Unix(),
		}},
	})
}

// RunFailed reports a run that aborted with an error.
func (n *Notifier) RunFailed(runID string, err error, duration time.Duration) error {
	if !n.Enabled() {
		return nil
	}

	msg := "unknown error"
	if err != nil {
		msg = err.Error()
		if len(msg) > 500 {
			msg = msg[:500] + "..."
		}
	}

	return n.send(slackMessage{
		Channel:   n.cfg.Channel,
		Username:  n.username(),
		IconEmoji: ":x:",
		Attachments: []slackAttachment{{
			Color: "#dc3545",
			Title: "Migration failed",
			Fields: []slackField{
				{Title: "Run ID", Value: runID, Short: true},
				{Title: "Duration", Value: formatDuration(duration), Short: true},
				{Title: "Error", Value: msg, Short: false},
			},
			Footer:    "dbferry",
			Timestamp: time.Now().Unix(),
		}},
	})
}

func (n *Notifier) send(msg slackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	resp, err := n.httpClient.Post(n.cfg.SlackWebhook, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("posting to Slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) username() string {
	if n.cfg.Username != "" {
		return n.cfg.Username
	}
	return "dbferry"
}

func withCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}
	var out []byte
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, byte(c))
	}
	return string(out)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	s := (d - m*time.Minute) / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
