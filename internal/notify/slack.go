// Package notify posts run notifications to a Slack incoming webhook.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const footer = "dbrep"

// Config configures the Slack notifier.
type Config struct {
	Enabled    bool
	WebhookURL string
	Channel    string
	Username   string
}

// Notifier sends notifications to Slack
type Notifier struct {
	config     Config
	httpClient *http.Client
}

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// New creates a new Slack notifier
func New(cfg Config) *Notifier {
	return &Notifier{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// IsEnabled returns true if notifications are enabled
func (n *Notifier) IsEnabled() bool {
	return n != nil && n.config.Enabled && n.config.WebhookURL != ""
}

// RunStarted sends notification when a run starts
func (n *Notifier) RunStarted(runID, job, mode, source, destination string) error {
	if !n.IsEnabled() {
		return nil
	}

	msg := n.message(":rocket:", SlackAttachment{
		Color: "#36a64f", // green
		Title: "Replication Started",
		Fields: []SlackField{
			{Title: "Run ID", Value: runID, Short: true},
			{Title: "Job", Value: job, Short: true},
			{Title: "Mode", Value: mode, Short: true},
			{Title: "Route", Value: source + " -> " + destination, Short: true},
		},
	})
	return n.send(msg)
}

// RunCompleted sends notification when a run completes successfully
func (n *Notifier) RunCompleted(runID string, s Summary) error {
	if !n.IsEnabled() {
		return nil
	}

	msg := n.message(":white_check_mark:", SlackAttachment{
		Color: "#36a64f", // green
		Fields: []SlackField{
			{Title: "Run ID", Value: runID, Short: true},
			{Title: "Started", Value: s.StartTime.UTC().Format("2006-01-02 15:04:05 UTC"), Short: true},
			{Title: "Duration", Value: formatDuration(s.Duration), Short: true},
			{Title: "Rows", Value: formatNumberWithCommas(s.Rows), Short: true},
			{Title: "Passes", Value: fmt.Sprintf("%d", s.Passes), Short: true},
			{Title: "Destination rid", Value: s.DstRid, Short: true},
		},
	})
	msg.Text = fmt.Sprintf("%s of %s completed. Copied %s rows. Throughput: %s rows/sec.",
		s.Mode, s.Job, formatNumberWithCommas(s.Rows), formatNumberWithCommas(int64(s.Throughput)))
	return n.send(msg)
}

// RunFailed sends notification when a run fails
func (n *Notifier) RunFailed(runID, job string, err error, duration time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}

	errMsg := "Unknown error"
	if err != nil {
		errMsg = err.Error()
		if len(errMsg) > 500 {
			errMsg = errMsg[:500] + "..."
		}
	}

	msg := n.message(":x:", SlackAttachment{
		Color: "#dc3545", // red
		Title: "Replication Failed",
		Fields: []SlackField{
			{Title: "Run ID", Value: runID, Short: true},
			{Title: "Job", Value: job, Short: true},
			{Title: "Duration", Value: duration.Round(time.Second).String(), Short: true},
			{Title: "Error", Value: errMsg, Short: false},
		},
	})
	return n.send(msg)
}

func (n *Notifier) message(icon string, a SlackAttachment) SlackMessage {
	a.Footer = footer
	a.Timestamp = time.Now().Unix()
	return SlackMessage{
		Channel:     n.config.Channel,
		Username:    n.getUsername(),
		IconEmoji:   icon,
		Attachments: []SlackAttachment{a},
	}
}

func (n *Notifier) send(msg SlackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	resp, err := n.httpClient.Post(n.config.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sending to Slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack returned status %d", resp.StatusCode)
	}

	return nil
}

func (n *Notifier) getUsername() string {
	if n.config.Username != "" {
		return n.config.Username
	}
	return footer
}

func formatNumberWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	neg := n < 0
	if neg {
		str = str[1:]
	}
	if len(str) <= 3 {
		if neg {
			return "-" + str
		}
		return str
	}

	var result []byte
	if neg {
		result = append(result, '-')
	}
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
