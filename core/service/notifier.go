package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/utils/apperr"

	"golang.org/x/time/rate"
)

// Notification is an operator-facing message.
type Notification struct {
	Title    string
	Message  string
	Severity string
}

// Notifier dispatches notifications to the configured channels.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Embed colours per severity.
const (
	colorCritical = 0xff0000
	colorWarning  = 0xffff00
	colorInfo     = 0x00ff00
)

// DiscordNotifier always logs the notification and, when a webhook URL is
// configured, posts it as a Discord embed.
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	now        func() time.Time
}

// NewDiscordNotifier creates a notifier. An empty webhookURL only logs.
// perMinute bounds webhook posts; extra notifications are logged and dropped.
func NewDiscordNotifier(webhookURL string, perMinute int) *DiscordNotifier {
	if perMinute <= 0 {
		perMinute = 30
	}
	return &DiscordNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		logger:     slog.Default().With("component", "notifier"),
		now:        time.Now,
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

func severityColor(severity string) int {
	switch severity {
	case models.SeverityCritical:
		return colorCritical
	case models.SeverityWarning:
		return colorWarning
	default:
		return colorInfo
	}
}

// Notify implements Notifier.
func (n *DiscordNotifier) Notify(ctx context.Context, note Notification) error {
	n.logger.Info("notification",
		"severity", note.Severity,
		"title", note.Title,
		"message", note.Message,
	)

	if n.webhookURL == "" {
		return nil
	}
	if !n.limiter.Allow() {
		n.logger.Warn("notification rate limit reached, dropping webhook post", "title", note.Title)
		return nil
	}

	body, err := json.Marshal(discordPayload{Embeds: []discordEmbed{{
		Title:       note.Title,
		Description: note.Message,
		Color:       severityColor(note.Severity),
		Timestamp:   n.now().UTC().Format(time.RFC3339),
	}}})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return &apperr.ExternalServiceError{Service: "discord", Message: "invalid webhook request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return &apperr.ExternalServiceError{Service: "discord", Message: "webhook post failed", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apperr.ExternalServiceError{
			Service: "discord",
			Message: fmt.Sprintf("webhook answered %d", resp.StatusCode),
		}
	}
	return nil
}
