// Package notify delivers significant-change alerts over webhook, email, or
// Pub/Sub. A Router inspects the project's schedule to pick the channels the
// user actually configured.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
	"github.com/parkerlabs/sitescribe/internal/store"
)

// WebhookNotifier POSTs the notification as JSON to a target URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhook builds a webhook notifier. A nil client gets a 10s timeout.
func NewWebhook(url string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookNotifier{url: url, client: client}
}

// Notify delivers the payload. Any non-2xx response is an error.
func (w *WebhookNotifier) Notify(ctx context.Context, n pipeline.Notification) error {
	if w.url == "" {
		return fmt.Errorf("webhook url is not configured")
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// EmailConfig holds SMTP connection settings.
type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	From     string `mapstructure:"from"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// sendMailFunc matches smtp.SendMail and is swapped in tests.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends plain-text mail over SMTP.
type EmailNotifier struct {
	cfg  EmailConfig
	to   string
	send sendMailFunc
}

// NewEmail builds an email notifier addressed to a single recipient.
func NewEmail(cfg EmailConfig, to string) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, to: to, send: smtp.SendMail}
}

// Notify sends the alert. Auth is skipped when no username is configured.
func (e *EmailNotifier) Notify(_ context.Context, n pipeline.Notification) error {
	if e.cfg.Host == "" || e.to == "" {
		return fmt.Errorf("email notifier is not configured")
	}
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		e.cfg.From, e.to, n.Subject, n.Body,
	)
	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	if err := e.send(addr, auth, e.cfg.From, []string{e.to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// Router reads the project's schedule and dispatches to whichever channels it
// names. Delivery succeeds when at least one channel accepts the message.
type Router struct {
	schedules store.ScheduleStore
	email     EmailConfig
	client    *http.Client
	extra     []pipeline.Notifier
	logger    *zap.Logger
}

// NewRouter builds a Router. extra notifiers (e.g. Pub/Sub) always receive a
// copy regardless of schedule configuration.
func NewRouter(schedules store.ScheduleStore, email EmailConfig, client *http.Client, logger *zap.Logger, extra ...pipeline.Notifier) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		schedules: schedules,
		email:     email,
		client:    client,
		extra:     extra,
		logger:    logger,
	}
}

// Notify fans the alert out per the project's schedule.
func (r *Router) Notify(ctx context.Context, n pipeline.Notification) error {
	sched, err := r.schedules.GetSchedule(ctx, n.ProjectID)
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}
	var targets []pipeline.Notifier
	if sched.Webhook != "" {
		targets = append(targets, NewWebhook(sched.Webhook, r.client))
	}
	if sched.Email != "" {
		targets = append(targets, NewEmail(r.email, sched.Email))
	}
	targets = append(targets, r.extra...)
	if len(targets) == 0 {
		return fmt.Errorf("project %s has no notification channel configured", n.ProjectID)
	}
	delivered := 0
	for _, t := range targets {
		if err := t.Notify(ctx, n); err != nil {
			r.logger.Warn("notification channel failed", zap.String("project_id", n.ProjectID), zap.Error(err))
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("all notification channels failed for project %s", n.ProjectID)
	}
	return nil
}

// Memory records notifications for tests.
type Memory struct {
	mu   sync.Mutex
	sent []pipeline.Notification
	Err  error
}

// NewMemory returns an in-memory notifier.
func NewMemory() *Memory {
	return &Memory{}
}

// Notify records the notification, returning Err when set.
func (m *Memory) Notify(_ context.Context, n pipeline.Notification) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return nil
}

// Sent returns a copy of everything delivered so far.
func (m *Memory) Sent() []pipeline.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pipeline.Notification(nil), m.sent...)
}
