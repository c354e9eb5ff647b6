package service

import (
	"context"
	"time"

	"github.com/kaiwen/docverify/internal/application/dispatcher"
	"github.com/kaiwen/docverify/internal/application/port"
	"github.com/kaiwen/docverify/internal/domain/entity"
	"github.com/kaiwen/docverify/internal/domain/event"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

type mockDocumentRepo struct {
	createFunc    func(ctx context.Context, doc *entity.Document) error
	getByIDFunc   func(ctx context.Context, id string) (*entity.Document, error)
	getByHashFunc func(ctx context.Context, fileHash string) (*entity.Document, error)
	updateFunc    func(ctx context.Context, doc *entity.Document) error
}

func (m *mockDocumentRepo) Create(ctx context.Context, doc *entity.Document) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, doc)
	}
	return nil
}

func (m *mockDocumentRepo) GetByID(ctx context.Context, id string) (*entity.Document, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, entity.ErrNotFound
}

func (m *mockDocumentRepo) GetByHash(ctx context.Context, fileHash string) (*entity.Document, error) {
	if m.getByHashFunc != nil {
		return m.getByHashFunc(ctx, fileHash)
	}
	return nil, nil
}

func (m *mockDocumentRepo) Update(ctx context.Context, doc *entity.Document) error {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, doc)
	}
	return nil
}

func (m *mockDocumentRepo) List(ctx context.Context, limit, offset int) ([]*entity.Document, error) {
	return nil, nil
}

func (m *mockDocumentRepo) ListTerminalOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*entity.Document, error) {
	return nil, nil
}

type mockTaskRepo struct {
	createFunc  func(ctx context.Context, task *entity.TaskRecord) error
	getByIDFunc func(ctx context.Context, taskID string) (*entity.TaskRecord, error)
	updateFunc  func(ctx context.Context, task *entity.TaskRecord) error
	countsFunc  func(ctx context.Context) (map[string]int, error)
}

func (m *mockTaskRepo) Create(ctx context.Context, task *entity.TaskRecord) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, task)
	}
	return nil
}

func (m *mockTaskRepo) GetByID(ctx context.Context, taskID string) (*entity.TaskRecord, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, taskID)
	}
	return nil, entity.ErrNotFound
}

func (m *mockTaskRepo) Update(ctx context.Context, task *entity.TaskRecord) error {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, task)
	}
	return nil
}

func (m *mockTaskRepo) ClaimNextPending(ctx context.Context, queues []string, now time.Time) (*entity.TaskRecord, error) {
	return nil, nil
}

func (m *mockTaskRepo) ListFailedSince(ctx context.Context, since time.Time, maxRetries, limit int) ([]*entity.TaskRecord, error) {
	return nil, nil
}

func (m *mockTaskRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	if m.countsFunc != nil {
		return m.countsFunc(ctx)
	}
	return map[string]int{}, nil
}

type mockVerificationRepo struct {
	createFunc             func(ctx context.Context, rec *entity.VerificationRecord) error
	getByIDFunc            func(ctx context.Context, id string) (*entity.VerificationRecord, error)
	updateFunc             func(ctx context.Context, rec *entity.VerificationRecord) error
	claimFunc              func(ctx context.Context, reviewerID string, count int, priority string) ([]*entity.VerificationRecord, error)
	listPendingReviewFunc  func(ctx context.Context, filter port.ReviewFilter) ([]*entity.VerificationRecord, int, error)
	countOpenFunc          func(ctx context.Context, reviewerID string) (int, error)
	countCompletedFunc     func(ctx context.Context, reviewerID string, since time.Time) (int, error)
	getLatestByDocIDFunc   func(ctx context.Context, documentID string) (*entity.VerificationRecord, error)
}

func (m *mockVerificationRepo) Create(ctx context.Context, rec *entity.VerificationRecord) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, rec)
	}
	return nil
}

func (m *mockVerificationRepo) GetByID(ctx context.Context, id string) (*entity.VerificationRecord, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, entity.ErrNotFound
}

func (m *mockVerificationRepo) GetLatestByDocumentID(ctx context.Context, documentID string) (*entity.VerificationRecord, error) {
	if m.getLatestByDocIDFunc != nil {
		return m.getLatestByDocIDFunc(ctx, documentID)
	}
	return nil, entity.ErrNotFound
}

func (m *mockVerificationRepo) Update(ctx context.Context, rec *entity.VerificationRecord) error {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, rec)
	}
	return nil
}

func (m *mockVerificationRepo) ListPendingReview(ctx context.Context, filter port.ReviewFilter) ([]*entity.VerificationRecord, int, error) {
	if m.listPendingReviewFunc != nil {
		return m.listPendingReviewFunc(ctx, filter)
	}
	return nil, 0, nil
}

func (m *mockVerificationRepo) ClaimForReview(ctx context.Context, reviewerID string, count int, priority string) ([]*entity.VerificationRecord, error) {
	if m.claimFunc != nil {
		return m.claimFunc(ctx, reviewerID, count, priority)
	}
	return nil, nil
}

func (m *mockVerificationRepo) CountOpenByReviewer(ctx context.Context, reviewerID string) (int, error) {
	if m.countOpenFunc != nil {
		return m.countOpenFunc(ctx, reviewerID)
	}
	return 0, nil
}

func (m *mockVerificationRepo) CountCompletedSince(ctx context.Context, reviewerID string, since time.Time) (int, error) {
	if m.countCompletedFunc != nil {
		return m.countCompletedFunc(ctx, reviewerID, since)
	}
	return 0, nil
}

type mockTemplateRepo struct {
	createFunc  func(ctx context.Context, tpl *entity.Template) error
	getByIDFunc func(ctx context.Context, id string) (*entity.Template, error)
	updateFunc  func(ctx context.Context, tpl *entity.Template) error
	listFunc    func(ctx context.Context, activeOnly bool) ([]*entity.Template, error)
}

func (m *mockTemplateRepo) Create(ctx context.Context, tpl *entity.Template) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, tpl)
	}
	return nil
}

func (m *mockTemplateRepo) GetByID(ctx context.Context, id string) (*entity.Template, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, entity.ErrNotFound
}

func (m *mockTemplateRepo) Update(ctx context.Context, tpl *entity.Template) error {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, tpl)
	}
	return nil
}

func (m *mockTemplateRepo) List(ctx context.Context, activeOnly bool) ([]*entity.Template, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, activeOnly)
	}
	return nil, nil
}

type mockStorage struct {
	putFunc    func(ctx context.Context, path string, content []byte) (string, error)
	getFunc    func(ctx context.Context, path string) ([]byte, error)
	deleteFunc func(ctx context.Context, path string) error
	existsFunc func(ctx context.Context, path string) bool
	deleted    []string
}

func (m *mockStorage) Put(ctx context.Context, path string, content []byte) (string, error) {
	if m.putFunc != nil {
		return m.putFunc(ctx, path, content)
	}
	return "http://storage.local/" + path, nil
}

func (m *mockStorage) Get(ctx context.Context, path string) ([]byte, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, path)
	}
	return nil, entity.ErrNotFound
}

func (m *mockStorage) Delete(ctx context.Context, path string) error {
	m.deleted = append(m.deleted, path)
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, path)
	}
	return nil
}

func (m *mockStorage) Exists(ctx context.Context, path string) bool {
	if m.existsFunc != nil {
		return m.existsFunc(ctx, path)
	}
	return false
}

func (m *mockStorage) Presign(ctx context.Context, path string, ttl time.Duration) (string, error) {
	return "http://storage.local/" + path + "?signed", nil
}

type mockDispatcher struct {
	events []*event.Event
}

func (m *mockDispatcher) Subscribe(eventType event.Type, handler dispatcher.Handler) {}

func (m *mockDispatcher) SubscribeNamed(eventType event.Type, name string, handler dispatcher.Handler) {
}

func (m *mockDispatcher) Unsubscribe(eventType event.Type, name string) {}

func (m *mockDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	m.events = append(m.events, evt)
	return nil
}

func (m *mockDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	m.events = append(m.events, evt)
}

func (m *mockDispatcher) ListHandlers(eventType event.Type) []dispatcher.HandlerInfo {
	return nil
}

func (m *mockDispatcher) Close() error { return nil }

func (m *mockDispatcher) eventTypes() []event.Type {
	types := make([]event.Type, 0, len(m.events))
	for _, evt := range m.events {
		types = append(types, evt.Type)
	}
	return types
}

type mockTxManager struct{}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
