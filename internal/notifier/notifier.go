// Package notifier implements the Notifier boundary: a pluggable sink
// for deployment/rollback lifecycle events, with a structured-log
// implementation and a webhook implementation.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/shipctl/internal/transaction"
)

// Payload is the notification body shared by every sink, per §6.
type Payload struct {
	ID          string     `json:"id"`
	Package     string     `json:"package"`
	Version     string     `json:"version"`
	Status      string     `json:"status"`
	Targets     []string   `json:"targets"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RollbackID  string     `json:"rollback_id,omitempty"`
}

// FromDeployment builds a Payload from a terminal deployment record.
func FromDeployment(d *transaction.Deployment) Payload {
	return Payload{
		ID: d.ID, Package: d.Package, Version: d.Version, Status: string(d.Status),
		Targets: d.Targets, StartedAt: d.StartedAt, CompletedAt: d.CompletedAt,
		RollbackID: d.RollbackTransactionID,
	}
}

// Notifier is implemented by every notification sink.
type Notifier interface {
	Notify(ctx context.Context, p Payload) error
}

// LogNotifier writes the payload as a structured zap log entry; it
// never returns an error since logging is not allowed to fail a
// deployment.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(ctx context.Context, p Payload) error {
	n.Logger.Info("deployment notification",
		zap.String("id", p.ID),
		zap.String("package", p.Package),
		zap.String("version", p.Version),
		zap.String("status", p.Status),
		zap.Strings("targets", p.Targets),
		zap.String("rollback_id", p.RollbackID),
	)
	return nil
}

// WebhookNotifier POSTs the payload as JSON to a configured URL with a
// small bounded retry count, matching the adapter deploy retry
// discipline but capped far lower since a dropped notification is not
// a failed deployment.
type WebhookNotifier struct {
	URL        string
	Client     *http.Client
	MaxRetries int
}

func NewWebhookNotifier(url string) WebhookNotifier {
	return WebhookNotifier{URL: url, Client: &http.Client{Timeout: 10 * time.Second}, MaxRetries: 3}
}

func (n WebhookNotifier) Notify(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("notifier: marshal payload: %w", err)
	}
	var lastErr error
	for attempt := 0; attempt < n.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("notifier: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := n.Client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("notifier: webhook returned %s", resp.Status)
	}
	return fmt.Errorf("notifier: webhook failed after %d attempts: %w", n.MaxRetries, lastErr)
}

// Multi fans a payload out to every configured sink, collecting (not
// short-circuiting on) errors since notification failure must never
// block or fail a deployment.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, p Payload) error {
	var firstErr error
	for _, n := range m {
		if err := n.Notify(ctx, p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
