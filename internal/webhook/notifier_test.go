package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kaiwen/docverify/internal/domain/entity"
	"github.com/kaiwen/docverify/internal/domain/event"
)

type mockWebhookRepo struct {
	listActiveFunc func(ctx context.Context) ([]*entity.WebhookEndpoint, error)
	getByURLFunc   func(ctx context.Context, url string) (*entity.WebhookEndpoint, error)
	listFailedFunc func(ctx context.Context, maxRetries, limit int) ([]*entity.WebhookDelivery, error)

	created []*entity.WebhookDelivery
	updated []*entity.WebhookDelivery
}

func (m *mockWebhookRepo) CreateEndpoint(ctx context.Context, ep *entity.WebhookEndpoint) error {
	return nil
}

func (m *mockWebhookRepo) GetEndpoint(ctx context.Context, id string) (*entity.WebhookEndpoint, error) {
	return nil, entity.ErrNotFound
}

func (m *mockWebhookRepo) GetEndpointByURL(ctx context.Context, url string) (*entity.WebhookEndpoint, error) {
	if m.getByURLFunc != nil {
		return m.getByURLFunc(ctx, url)
	}
	return nil, entity.ErrNotFound
}

func (m *mockWebhookRepo) ListActiveEndpoints(ctx context.Context) ([]*entity.WebhookEndpoint, error) {
	if m.listActiveFunc != nil {
		return m.listActiveFunc(ctx)
	}
	return nil, nil
}

func (m *mockWebhookRepo) UpdateEndpoint(ctx context.Context, ep *entity.WebhookEndpoint) error {
	return nil
}

func (m *mockWebhookRepo) CreateDelivery(ctx context.Context, d *entity.WebhookDelivery) error {
	m.created = append(m.created, d)
	return nil
}

func (m *mockWebhookRepo) UpdateDelivery(ctx context.Context, d *entity.WebhookDelivery) error {
	m.updated = append(m.updated, d)
	return nil
}

func (m *mockWebhookRepo) ListFailedDeliveries(ctx context.Context, maxRetries, limit int) ([]*entity.WebhookDelivery, error) {
	if m.listFailedFunc != nil {
		return m.listFailedFunc(ctx, maxRetries, limit)
	}
	return nil, nil
}

func (m *mockWebhookRepo) CountDeliveriesByStatus(ctx context.Context) (map[string]int, error) {
	return map[string]int{}, nil
}

func endpointFor(url, secret string, eventTypes ...string) *entity.WebhookEndpoint {
	ep := entity.NewWebhookEndpoint(url, eventTypes)
	ep.Secret = secret
	return ep
}

func TestNotifier_NotifyEvent_DeliversWithHeaders(t *testing.T) {
	var gotEvent, gotDelivery, gotSignature, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get("X-Webhook-Event")
		gotDelivery = r.Header.Get("X-Webhook-Delivery")
		gotSignature = r.Header.Get("X-Webhook-Signature")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := &mockWebhookRepo{
		listActiveFunc: func(ctx context.Context) ([]*entity.WebhookEndpoint, error) {
			return []*entity.WebhookEndpoint{endpointFor(server.URL, "s3cret")}, nil
		},
	}
	notifier := NewNotifier(repo, zap.NewNop())

	evt := event.NewEvent(event.TypeDocumentProcessed, "doc-1", map[string]interface{}{"status": "passed"})
	if err := notifier.NotifyEvent(context.Background(), evt); err != nil {
		t.Fatalf("NotifyEvent() error = %v", err)
	}

	if len(repo.created) != 1 {
		t.Fatalf("created %d deliveries, want 1", len(repo.created))
	}
	d := repo.created[0]

	if gotEvent != event.TypeDocumentProcessed.String() {
		t.Errorf("X-Webhook-Event = %q", gotEvent)
	}
	if gotDelivery != d.ID {
		t.Errorf("X-Webhook-Delivery = %q, want %q", gotDelivery, d.ID)
	}
	if gotSignature != Sign("s3cret", gotBody) {
		t.Error("signature does not verify against the received payload")
	}

	if d.Status != entity.DeliveryStatusDelivered {
		t.Errorf("Status = %v, want %v", d.Status, entity.DeliveryStatusDelivered)
	}
	if d.ResponseStatus != http.StatusOK {
		t.Errorf("ResponseStatus = %d", d.ResponseStatus)
	}
	if d.DeliveredAt == nil {
		t.Error("DeliveredAt not set")
	}
	if len(repo.updated) != 1 {
		t.Errorf("updated %d deliveries, want 1", len(repo.updated))
	}
}

func TestNotifier_NotifyEvent_SkipsUnsubscribedEndpoints(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	inactive := endpointFor(server.URL, "")
	inactive.Active = false

	repo := &mockWebhookRepo{
		listActiveFunc: func(ctx context.Context) ([]*entity.WebhookEndpoint, error) {
			return []*entity.WebhookEndpoint{
				endpointFor(server.URL, "", event.TypeTaskFailed.String()),
				inactive,
			}, nil
		},
	}
	notifier := NewNotifier(repo, zap.NewNop())

	evt := event.NewEvent(event.TypeDocumentUploaded, "doc-1", nil)
	if err := notifier.NotifyEvent(context.Background(), evt); err != nil {
		t.Fatalf("NotifyEvent() error = %v", err)
	}

	if hits != 0 {
		t.Errorf("server hit %d times, want 0", hits)
	}
	if len(repo.created) != 0 {
		t.Errorf("created %d deliveries, want 0", len(repo.created))
	}
}

func TestNotifier_NotifyEvent_RecordsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(strings.Repeat("x", 5000)))
	}))
	defer server.Close()

	repo := &mockWebhookRepo{
		listActiveFunc: func(ctx context.Context) ([]*entity.WebhookEndpoint, error) {
			return []*entity.WebhookEndpoint{endpointFor(server.URL, "")}, nil
		},
	}
	notifier := NewNotifier(repo, zap.NewNop())

	evt := event.NewEvent(event.TypeVerificationCompleted, "doc-1", nil)
	if err := notifier.NotifyEvent(context.Background(), evt); err != nil {
		t.Fatalf("NotifyEvent() error = %v", err)
	}

	if len(repo.created) != 1 {
		t.Fatalf("created %d deliveries, want 1", len(repo.created))
	}
	d := repo.created[0]

	if d.Status != entity.DeliveryStatusFailed {
		t.Errorf("Status = %v, want %v", d.Status, entity.DeliveryStatusFailed)
	}
	if d.ResponseStatus != http.StatusInternalServerError {
		t.Errorf("ResponseStatus = %d", d.ResponseStatus)
	}
	if len(d.ResponseBody) != 1000 {
		t.Errorf("ResponseBody length = %d, want truncation to 1000", len(d.ResponseBody))
	}
	if d.ErrorMessage == "" {
		t.Error("ErrorMessage not recorded")
	}
}

func TestNotifier_NotifyEvent_UnreachableEndpoint(t *testing.T) {
	repo := &mockWebhookRepo{
		listActiveFunc: func(ctx context.Context) ([]*entity.WebhookEndpoint, error) {
			return []*entity.WebhookEndpoint{endpointFor("http://127.0.0.1:1", "")}, nil
		},
	}
	notifier := NewNotifier(repo, zap.NewNop())

	evt := event.NewEvent(event.TypeDocumentArchived, "doc-1", nil)
	if err := notifier.NotifyEvent(context.Background(), evt); err != nil {
		t.Fatalf("NotifyEvent() should not propagate delivery errors, got %v", err)
	}

	if len(repo.created) != 1 || repo.created[0].Status != entity.DeliveryStatusFailed {
		t.Error("unreachable endpoint should leave a failed delivery record")
	}
}

func TestNotifier_RetryFailed(t *testing.T) {
	var signatures []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signatures = append(signatures, r.Header.Get("X-Webhook-Signature"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	failed := entity.NewWebhookDelivery(server.URL, event.TypeManualReviewRequired.String(), `{"id":"evt-1"}`, "doc-1")
	failed.Status = entity.DeliveryStatusFailed
	failed.RetryCount = 1

	repo := &mockWebhookRepo{
		getByURLFunc: func(ctx context.Context, url string) (*entity.WebhookEndpoint, error) {
			if url != server.URL {
				return nil, entity.ErrNotFound
			}
			return endpointFor(server.URL, "s3cret"), nil
		},
		listFailedFunc: func(ctx context.Context, maxRetries, limit int) ([]*entity.WebhookDelivery, error) {
			return []*entity.WebhookDelivery{failed}, nil
		},
	}
	notifier := NewNotifier(repo, zap.NewNop())

	attempted, err := notifier.RetryFailed(context.Background())
	if err != nil {
		t.Fatalf("RetryFailed() error = %v", err)
	}
	if attempted != 1 {
		t.Errorf("attempted = %d, want 1", attempted)
	}

	if failed.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", failed.RetryCount)
	}
	if failed.Status != entity.DeliveryStatusDelivered {
		t.Errorf("Status = %v, want %v", failed.Status, entity.DeliveryStatusDelivered)
	}
	if len(signatures) != 1 || signatures[0] != Sign("s3cret", failed.Payload) {
		t.Error("retry did not re-sign with the endpoint secret")
	}
}

func TestNotifier_RetryFailed_SignsForDeactivatedEndpoint(t *testing.T) {
	var signature string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature = r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	deactivated := endpointFor(server.URL, "rotated-secret")
	deactivated.Active = false

	failed := entity.NewWebhookDelivery(server.URL, event.TypeDocumentProcessed.String(), `{"id":"evt-2"}`, "doc-2")
	failed.Status = entity.DeliveryStatusFailed

	repo := &mockWebhookRepo{
		listActiveFunc: func(ctx context.Context) ([]*entity.WebhookEndpoint, error) {
			return nil, nil
		},
		getByURLFunc: func(ctx context.Context, url string) (*entity.WebhookEndpoint, error) {
			if url != server.URL {
				return nil, entity.ErrNotFound
			}
			return deactivated, nil
		},
		listFailedFunc: func(ctx context.Context, maxRetries, limit int) ([]*entity.WebhookDelivery, error) {
			return []*entity.WebhookDelivery{failed}, nil
		},
	}
	notifier := NewNotifier(repo, zap.NewNop())

	if _, err := notifier.RetryFailed(context.Background()); err != nil {
		t.Fatalf("RetryFailed() error = %v", err)
	}

	if signature == "" {
		t.Fatal("retry to a deactivated endpoint went out unsigned")
	}
	if signature != Sign("rotated-secret", failed.Payload) {
		t.Error("retry not signed with the endpoint's current secret")
	}
	if failed.Status != entity.DeliveryStatusDelivered {
		t.Errorf("Status = %v, want %v", failed.Status, entity.DeliveryStatusDelivered)
	}
}

func TestNotifier_RetryFailed_NothingToDo(t *testing.T) {
	repo := &mockWebhookRepo{}
	notifier := NewNotifier(repo, zap.NewNop())

	attempted, err := notifier.RetryFailed(context.Background())
	if err != nil {
		t.Fatalf("RetryFailed() error = %v", err)
	}
	if attempted != 0 {
		t.Errorf("attempted = %d, want 0", attempted)
	}
}

func TestSign_Deterministic(t *testing.T) {
	a := Sign("secret", `{"a":1}`)
	b := Sign("secret", `{"a":1}`)
	if a != b {
		t.Error("Sign() is not deterministic")
	}
	if a == Sign("other", `{"a":1}`) {
		t.Error("Sign() ignores the secret")
	}
	if len(a) != 64 {
		t.Errorf("Sign() length = %d, want 64 hex chars", len(a))
	}
}
