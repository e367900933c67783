package notifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kubilitics/shipctl/internal/transaction"
)

func TestFromDeploymentPopulatesPayload(t *testing.T) {
	d := transaction.NewDeployment("demo", "1.0.0", transaction.PipelineStandard, []string{"npm"}, time.Now().UTC())
	d.RollbackTransactionID = "rb-1"
	p := FromDeployment(d)
	if p.Package != "demo" || p.Version != "1.0.0" || p.RollbackID != "rb-1" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestLogNotifierNeverErrors(t *testing.T) {
	n := LogNotifier{Logger: zaptest.NewLogger(t)}
	if err := n.Notify(context.Background(), Payload{ID: "x"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestWebhookNotifierRetriesThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	if err := n.Notify(context.Background(), Payload{ID: "x"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestMultiCollectsFirstErrorButCallsAll(t *testing.T) {
	var secondCalled bool
	failing := notifyFunc(func(ctx context.Context, p Payload) error { return errBoom })
	second := notifyFunc(func(ctx context.Context, p Payload) error { secondCalled = true; return nil })
	m := Multi{failing, second}
	if err := m.Notify(context.Background(), Payload{}); err == nil {
		t.Fatalf("expected an error from the failing sink")
	}
	if !secondCalled {
		t.Fatalf("expected the second sink to still be called")
	}
}

type notifyFunc func(ctx context.Context, p Payload) error

func (f notifyFunc) Notify(ctx context.Context, p Payload) error { return f(ctx, p) }

var errBoom = context.DeadlineExceeded
