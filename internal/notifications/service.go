package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"triad/internal/config"
	"triad/internal/services"
)

const userAgent = "triad/0.1.0"

// Service defines the notification surface exposed to the coordinator and monitor.
type Service interface {
	NotifyMergeCompleted(ctx context.Context, mergeSessionID, title string, duration float64) error
	NotifyMergeFailed(ctx context.Context, mergeSessionID string, desc services.Descriptor) error
	NotifyAlert(ctx context.Context, severity, name, message string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:       topic,
		client:         &http.Client{Timeout: timeout},
		alerts:         cfg.Notifications.Alerts,
		mergeCompleted: cfg.Notifications.MergeCompleted,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint       string
	client         *http.Client
	alerts         bool
	mergeCompleted bool
}

func (n *ntfyService) NotifyMergeCompleted(ctx context.Context, mergeSessionID, title string, duration float64) error {
	if !n.mergeCompleted {
		return nil
	}
	label := strings.TrimSpace(title)
	if label == "" {
		label = mergeSessionID
	}
	return n.send(ctx, payload{
		title:   "triad - Merge Ready",
		message: fmt.Sprintf("Merged %s (%.1fs)", label, duration),
		tags:    []string{"triad", "merge", "completed"},
	})
}

func (n *ntfyService) NotifyMergeFailed(ctx context.Context, mergeSessionID string, desc services.Descriptor) error {
	if !n.alerts {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Merge %s failed [%s]", mergeSessionID, desc.Code)
	if desc.Stage != "" {
		fmt.Fprintf(&b, " in %s", desc.Stage)
	}
	if msg := strings.TrimSpace(desc.Message); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	return n.send(ctx, payload{
		title:    "triad - Merge Failed",
		message:  b.String(),
		tags:     []string{"triad", "merge", "error"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyAlert(ctx context.Context, severity, name, message string) error {
	if !n.alerts {
		return nil
	}
	priority := "default"
	if strings.EqualFold(severity, "critical") {
		priority = "urgent"
	} else if strings.EqualFold(severity, "warning") {
		priority = "high"
	}
	return n.send(ctx, payload{
		title:    "triad - Alert: " + strings.TrimSpace(name),
		message:  strings.TrimSpace(message),
		tags:     []string{"triad", "alert", strings.ToLower(strings.TrimSpace(severity))},
		priority: priority,
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "triad - Test",
		message:  "Notification system test",
		tags:     []string{"triad", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyMergeCompleted(context.Context, string, string, float64) error { return nil }
func (noopService) NotifyMergeFailed(context.Context, string, services.Descriptor) error { return nil }
func (noopService) NotifyAlert(context.Context, string, string, string) error            { return nil }
func (noopService) TestNotification(context.Context) error                               { return nil }

// NewNoop returns a Service that drops every notification.
func NewNoop() Service { return noopService{} }
