package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kaiwen/docverify/internal/application/port"
	"github.com/kaiwen/docverify/internal/domain/entity"
	"github.com/kaiwen/docverify/internal/domain/event"
	"github.com/kaiwen/docverify/internal/verification"
)

type mockOCREngine struct {
	extractFunc func(ctx context.Context, filePath string) (*port.OCRResult, error)
}

func (m *mockOCREngine) Extract(ctx context.Context, filePath string) (*port.OCRResult, error) {
	if m.extractFunc != nil {
		return m.extractFunc(ctx, filePath)
	}
	return &port.OCRResult{Text: "", OverallConfidence: 0.9}, nil
}

type mockContentValidator struct {
	validateFunc func(ctx context.Context, ocrText string, rules port.TemplateRules) (*port.ContentReview, error)
}

func (m *mockContentValidator) ValidateContent(ctx context.Context, ocrText string, rules port.TemplateRules) (*port.ContentReview, error) {
	if m.validateFunc != nil {
		return m.validateFunc(ctx, ocrText, rules)
	}
	return &port.ContentReview{IsValid: true, Confidence: 0.9}, nil
}

type mockDataSink struct {
	stored map[string]map[string]string
}

func (m *mockDataSink) StoreExtractedData(ctx context.Context, templateID, documentID string, data map[string]string, confidence float64) error {
	if m.stored == nil {
		m.stored = make(map[string]map[string]string)
	}
	m.stored[documentID] = data
	return nil
}

type processingFixture struct {
	doc      *entity.Document
	tpl      *entity.Template
	docRepo  *mockDocumentRepo
	verRepo  *mockVerificationRepo
	storage  *mockStorage
	ocr      *mockOCREngine
	llm      *mockContentValidator
	sink     *mockDataSink
	disp     *mockDispatcher
	recorded []*entity.VerificationRecord
}

func newProcessingFixture(t *testing.T) *processingFixture {
	t.Helper()

	doc := entity.NewDocument("invoice.pdf", "application/pdf", "h1", "documents/h1/invoice.pdf", 100)
	tpl := entity.NewTemplate("standard-invoice", 0.7)
	if _, err := tpl.AddField("invoice_number", entity.BoundingBox{X1: 0.1, Y1: 0.05, X2: 0.4, Y2: 0.1}, true); err != nil {
		t.Fatalf("seed template: %v", err)
	}
	doc.TemplateID = tpl.ID

	f := &processingFixture{
		doc: doc,
		tpl: tpl,
		docRepo: &mockDocumentRepo{
			getByIDFunc: func(ctx context.Context, id string) (*entity.Document, error) {
				if id == doc.ID {
					return doc, nil
				}
				return nil, entity.ErrNotFound
			},
		},
		storage: &mockStorage{
			getFunc: func(ctx context.Context, path string) ([]byte, error) {
				return []byte("%PDF-1.4 fake"), nil
			},
		},
		ocr: &mockOCREngine{
			extractFunc: func(ctx context.Context, filePath string) (*port.OCRResult, error) {
				return &port.OCRResult{
					Text:              "Invoice INV-001 total 42.00",
					OverallConfidence: 0.9,
					Regions: []entity.OcrBlock{
						{Page: 1, Text: "Invoice INV-001", Confidence: 0.95, BBox: entity.BoundingBox{X1: 0.1, Y1: 0.05, X2: 0.4, Y2: 0.1}},
					},
				}, nil
			},
		},
		llm: &mockContentValidator{
			validateFunc: func(ctx context.Context, ocrText string, rules port.TemplateRules) (*port.ContentReview, error) {
				return &port.ContentReview{
					IsValid:         true,
					Confidence:      0.9,
					ExtractedFields: map[string]string{"invoice_number": "INV-001"},
				}, nil
			},
		},
		sink: &mockDataSink{},
		disp: &mockDispatcher{},
	}
	f.verRepo = &mockVerificationRepo{
		createFunc: func(ctx context.Context, rec *entity.VerificationRecord) error {
			f.recorded = append(f.recorded, rec)
			return nil
		},
	}
	return f
}

func (f *processingFixture) service() ProcessingService {
	templateRepo := &mockTemplateRepo{
		getByIDFunc: func(ctx context.Context, id string) (*entity.Template, error) {
			if id == f.tpl.ID {
				return f.tpl, nil
			}
			return nil, entity.ErrNotFound
		},
	}
	logger := &mockLogger{}
	return NewProcessingService(
		f.docRepo, templateRepo, f.verRepo, f.storage, f.ocr, f.llm, f.sink,
		verification.NewDecider(verification.DefaultPolicy()),
		f.disp, &mockTxManager{}, logger,
	)
}

func TestProcessingService_ProcessDocument_Passes(t *testing.T) {
	f := newProcessingFixture(t)
	svc := f.service()

	var checkpoints []float64
	err := svc.ProcessDocument(context.Background(), f.doc.ID, "", func(p float64) {
		checkpoints = append(checkpoints, p)
	})
	if err != nil {
		t.Fatalf("ProcessDocument() error = %v", err)
	}

	if f.doc.Status != entity.DocumentStatusPassed {
		t.Errorf("doc.Status = %v, want %v", f.doc.Status, entity.DocumentStatusPassed)
	}
	if len(f.recorded) != 1 {
		t.Fatalf("verification records = %d, want 1", len(f.recorded))
	}
	rec := f.recorded[0]
	if rec.Status != entity.VerificationStatusPass {
		t.Errorf("rec.Status = %v, want %v", rec.Status, entity.VerificationStatusPass)
	}
	if rec.RequiresManualReview {
		t.Error("clean result should not require review")
	}
	if rec.ExtractedData["invoice_number"] != "INV-001" {
		t.Errorf("ExtractedData = %v", rec.ExtractedData)
	}

	if f.sink.stored[f.doc.ID] == nil {
		t.Error("extracted data not delivered to the sink on pass")
	}

	types := f.disp.eventTypes()
	if len(types) != 2 {
		t.Fatalf("dispatched events = %v", types)
	}
	if types[0] != event.TypeVerificationCompleted || types[1] != event.TypeDocumentProcessed {
		t.Errorf("dispatched events = %v", types)
	}

	if len(checkpoints) != 3 || checkpoints[2] != ProgressComplete {
		t.Errorf("progress checkpoints = %v", checkpoints)
	}
}

func TestProcessingService_ProcessDocument_MissingFieldRoutesToReview(t *testing.T) {
	f := newProcessingFixture(t)
	f.llm.validateFunc = func(ctx context.Context, ocrText string, rules port.TemplateRules) (*port.ContentReview, error) {
		return &port.ContentReview{IsValid: true, Confidence: 0.9}, nil
	}
	svc := f.service()

	if err := svc.ProcessDocument(context.Background(), f.doc.ID, "", nil); err != nil {
		t.Fatalf("ProcessDocument() error = %v", err)
	}

	if f.doc.Status != entity.DocumentStatusReviewRequired {
		t.Errorf("doc.Status = %v, want %v", f.doc.Status, entity.DocumentStatusReviewRequired)
	}
	if len(f.recorded) != 1 || !f.recorded[0].RequiresManualReview {
		t.Fatal("verification record should be flagged for manual review")
	}

	types := f.disp.eventTypes()
	var sawReviewRequired bool
	for _, typ := range types {
		if typ == event.TypeManualReviewRequired {
			sawReviewRequired = true
		}
	}
	if !sawReviewRequired {
		t.Errorf("manual_review.required not dispatched, got %v", types)
	}

	if f.sink.stored[f.doc.ID] != nil {
		t.Error("sink should only receive data for passed documents")
	}
}

func TestProcessingService_ProcessDocument_LLMUnavailableUsesFallback(t *testing.T) {
	f := newProcessingFixture(t)
	f.llm.validateFunc = func(ctx context.Context, ocrText string, rules port.TemplateRules) (*port.ContentReview, error) {
		return nil, fmt.Errorf("model overloaded")
	}
	svc := f.service()

	if err := svc.ProcessDocument(context.Background(), f.doc.ID, "", nil); err != nil {
		t.Fatalf("ProcessDocument() error = %v", err)
	}

	// Without the validator's extracted fields the required field is missing,
	// which is an ambiguity, not a hard failure
	if f.doc.Status != entity.DocumentStatusReviewRequired {
		t.Errorf("doc.Status = %v, want %v", f.doc.Status, entity.DocumentStatusReviewRequired)
	}
}

func TestProcessingService_ProcessDocument_SettledDocumentIsSkipped(t *testing.T) {
	f := newProcessingFixture(t)
	f.doc.Status = entity.DocumentStatusPassed
	svc := f.service()

	if err := svc.ProcessDocument(context.Background(), f.doc.ID, "", nil); err != nil {
		t.Fatalf("ProcessDocument() error = %v", err)
	}
	if len(f.recorded) != 0 {
		t.Error("settled document should not be reprocessed")
	}
}

func TestProcessingService_ProcessDocument_OCRFailureIsTransient(t *testing.T) {
	f := newProcessingFixture(t)
	f.ocr.extractFunc = func(ctx context.Context, filePath string) (*port.OCRResult, error) {
		return nil, fmt.Errorf("tesseract crashed")
	}
	svc := f.service()

	err := svc.ProcessDocument(context.Background(), f.doc.ID, "", nil)
	if !errors.Is(err, entity.ErrTransient) {
		t.Errorf("ProcessDocument() error = %v, want wrapped %v", err, entity.ErrTransient)
	}
	if f.doc.Status != entity.DocumentStatusProcessing {
		t.Errorf("doc.Status = %v, want %v for retry", f.doc.Status, entity.DocumentStatusProcessing)
	}
}

func TestProcessingService_ProcessDocument_TemplateRepoOutageIsTransient(t *testing.T) {
	f := newProcessingFixture(t)
	templateRepo := &mockTemplateRepo{
		getByIDFunc: func(ctx context.Context, id string) (*entity.Template, error) {
			return nil, fmt.Errorf("database is locked")
		},
	}
	svc := NewProcessingService(
		f.docRepo, templateRepo, f.verRepo, f.storage, f.ocr, f.llm, f.sink,
		verification.NewDecider(verification.DefaultPolicy()),
		f.disp, &mockTxManager{}, &mockLogger{},
	)

	err := svc.ProcessDocument(context.Background(), f.doc.ID, "", nil)
	if !errors.Is(err, entity.ErrTransient) {
		t.Errorf("ProcessDocument() error = %v, want wrapped %v", err, entity.ErrTransient)
	}
	if f.doc.Status != entity.DocumentStatusProcessing {
		t.Errorf("doc.Status = %v, want %v for retry", f.doc.Status, entity.DocumentStatusProcessing)
	}
}

func TestProcessingService_ProcessDocument_InactiveTemplateFailsPermanently(t *testing.T) {
	f := newProcessingFixture(t)
	f.tpl.Active = false
	svc := f.service()

	err := svc.ProcessDocument(context.Background(), f.doc.ID, "", nil)
	if !errors.Is(err, entity.ErrValidation) {
		t.Errorf("ProcessDocument() error = %v, want wrapped %v", err, entity.ErrValidation)
	}
	if f.doc.Status != entity.DocumentStatusFailed {
		t.Errorf("doc.Status = %v, want %v", f.doc.Status, entity.DocumentStatusFailed)
	}
}

func TestProcessingService_MarkFailed(t *testing.T) {
	f := newProcessingFixture(t)
	f.doc.Status = entity.DocumentStatusProcessing
	svc := f.service()

	if err := svc.MarkFailed(context.Background(), f.doc.ID, "retries exhausted"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	if f.doc.Status != entity.DocumentStatusFailed {
		t.Errorf("doc.Status = %v, want %v", f.doc.Status, entity.DocumentStatusFailed)
	}

	types := f.disp.eventTypes()
	if len(types) != 1 || types[0] != event.TypeDocumentProcessed {
		t.Errorf("dispatched events = %v", types)
	}
}

func TestProcessingService_MarkFailed_SettledDocumentIsNoop(t *testing.T) {
	f := newProcessingFixture(t)
	f.doc.Status = entity.DocumentStatusArchived
	svc := f.service()

	if err := svc.MarkFailed(context.Background(), f.doc.ID, "late failure"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	if f.doc.Status != entity.DocumentStatusArchived {
		t.Errorf("doc.Status = %v, want unchanged archived", f.doc.Status)
	}
}
