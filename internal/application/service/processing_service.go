package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kaiwen/docverify/internal/application/dispatcher"
	"github.com/kaiwen/docverify/internal/application/port"
	"github.com/kaiwen/docverify/internal/domain/entity"
	"github.com/kaiwen/docverify/internal/domain/event"
	"github.com/kaiwen/docverify/internal/domain/workflow"
	"github.com/kaiwen/docverify/internal/verification"
)

// Progress checkpoints reported while a document moves through the pipeline
const (
	ProgressOCRDone        = 0.3
	ProgressValidationDone = 0.7
	ProgressComplete       = 1.0
)

// ProgressFunc receives pipeline progress in [0,1]. May be nil.
type ProgressFunc func(progress float64)

// ProcessingService runs the verification pipeline for one document:
// fetch bytes, OCR, field matching, content review, decision, persistence.
// Errors wrapping entity.ErrTransient are retryable; everything else is
// permanent.
type ProcessingService interface {
	ProcessDocument(ctx context.Context, documentID, templateID string, progress ProgressFunc) error

	// MarkFailed moves a document to failed after retries are exhausted or a
	// permanent error occurred
	MarkFailed(ctx context.Context, documentID, reason string) error
}

type processingServiceImpl struct {
	docRepo          port.DocumentRepository
	templateRepo     port.TemplateRepository
	verificationRepo port.VerificationRepository
	storage          port.ObjectStorage
	ocr              port.OCREngine
	contentValidator port.ContentValidator
	dataSink         port.DataSink
	decider          *verification.Decider
	dispatcher       dispatcher.Dispatcher
	txManager        port.TransactionManager
	logger           Logger
}

// NewProcessingService creates a new ProcessingService
func NewProcessingService(
	docRepo port.DocumentRepository,
	templateRepo port.TemplateRepository,
	verificationRepo port.VerificationRepository,
	storage port.ObjectStorage,
	ocr port.OCREngine,
	contentValidator port.ContentValidator,
	dataSink port.DataSink,
	decider *verification.Decider,
	disp dispatcher.Dispatcher,
	txManager port.TransactionManager,
	logger Logger,
) ProcessingService {
	return &processingServiceImpl{
		docRepo:          docRepo,
		templateRepo:     templateRepo,
		verificationRepo: verificationRepo,
		storage:          storage,
		ocr:              ocr,
		contentValidator: contentValidator,
		dataSink:         dataSink,
		decider:          decider,
		dispatcher:       disp,
		txManager:        txManager,
		logger:           logger,
	}
}

// ProcessDocument runs the full pipeline. Safe to call again after a
// transient failure: a document already settled is skipped, a document stuck
// in processing resumes from OCR.
func (s *processingServiceImpl) ProcessDocument(ctx context.Context, documentID, templateID string, progress ProgressFunc) error {
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("get document %s: %w", documentID, err)
	}

	if workflow.State(doc.Status).IsSettled() {
		s.logger.Info("Document already settled, skipping", "document_id", documentID, "status", doc.Status)
		return nil
	}

	lifecycle, err := workflow.NewLifecycle(doc)
	if err != nil {
		return err
	}

	// Retried tasks find the document already in processing
	if lifecycle.CanFire(workflow.TriggerDispatch) {
		if err := lifecycle.Fire(ctx, workflow.TriggerDispatch); err != nil {
			return fmt.Errorf("dispatch document %s: %w", documentID, err)
		}
		if err := s.docRepo.Update(ctx, doc); err != nil {
			return fmt.Errorf("update document %s: %w", documentID, err)
		}
	}

	if templateID == "" {
		templateID = doc.TemplateID
	}
	tpl, err := s.templateRepo.GetByID(ctx, templateID)
	if err != nil {
		// Only a definitively missing template settles the document; a
		// repository outage is retried like any other infrastructure failure
		if errors.Is(err, entity.ErrNotFound) {
			return s.failPermanently(ctx, doc, lifecycle, fmt.Sprintf("template %s not found", templateID), err)
		}
		return fmt.Errorf("%w: fetch template %s: %v", entity.ErrTransient, templateID, err)
	}
	if !tpl.Active {
		return s.failPermanently(ctx, doc, lifecycle, fmt.Sprintf("template %s is inactive", templateID), entity.ErrValidation)
	}

	ocrResult, err := s.runOCR(ctx, doc)
	if err != nil {
		doc.AddProcessingEvent(entity.EventError, map[string]interface{}{"stage": "ocr", "error": err.Error()})
		_ = s.docRepo.Update(ctx, doc)
		return err
	}
	doc.SetOCRResult(ocrResult.Text, ocrResult.OverallConfidence, ocrResult.Regions)
	if lifecycle.CanFire(workflow.TriggerOCRSucceeded) {
		if err := lifecycle.Fire(ctx, workflow.TriggerOCRSucceeded); err != nil {
			return fmt.Errorf("record ocr completion for %s: %w", documentID, err)
		}
	}
	if err := s.docRepo.Update(ctx, doc); err != nil {
		return fmt.Errorf("update document %s: %w", documentID, err)
	}
	if progress != nil {
		progress(ProgressOCRDone)
	}

	// Advisory content check. A failure here never blocks the attempt; the
	// decision policy substitutes its fallback verdict.
	review, llmErr := s.contentValidator.ValidateContent(ctx, ocrResult.Text, contentRulesFor(tpl))
	if llmErr != nil {
		s.logger.Error("Content validation unavailable, applying fallback policy",
			"error", llmErr, "document_id", documentID)
	}
	var contentValid bool
	var contentConfidence float64
	var contentIssues []string
	if review != nil {
		contentValid = review.IsValid
		contentConfidence = review.Confidence
		contentIssues = review.Issues
	}
	contentValid, contentConfidence = s.decider.ResolveContentReview(contentValid, contentConfidence, llmErr)

	fields := verification.MatchFields(tpl, extractedFieldsFrom(review, ocrResult))
	doc.SetValidationResult(fields)
	if progress != nil {
		progress(ProgressValidationDone)
	}

	overall := (ocrResult.OverallConfidence + contentConfidence) / 2
	decision := s.decider.Decide(fields, contentValid, overall)

	rec := entity.NewVerificationRecord(doc.ID, tpl.ID)
	rec.Status = decision.VerificationStatus()
	rec.OverallConfidence = overall
	rec.FieldResults = fields.FieldResults
	rec.ExtractedData = fields.ExtractedData
	rec.RequiresManualReview = decision.RequiresManualReview
	if len(contentIssues) > 0 {
		rec.ErrorMessage = strings.Join(contentIssues, "; ")
	}

	fireCtx := workflow.WithMetadata(ctx, map[string]interface{}{
		"rationale":       decision.Rationale,
		"verification_id": rec.ID,
		"confidence":      overall,
	})
	if err := lifecycle.Fire(fireCtx, decision.Trigger); err != nil {
		return fmt.Errorf("apply decision %s to document %s: %w", decision.Outcome, documentID, err)
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.verificationRepo.Create(txCtx, rec); err != nil {
			return fmt.Errorf("create verification record: %w", err)
		}
		if err := s.docRepo.Update(txCtx, doc); err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if decision.Outcome == verification.OutcomePassed {
		// Sink delivery is best effort; the verification outcome stands
		if err := s.dataSink.StoreExtractedData(ctx, tpl.ID, doc.ID, fields.ExtractedData, overall); err != nil {
			s.logger.Error("Failed to store extracted data", "error", err, "document_id", doc.ID)
		}
	}

	s.publishOutcome(ctx, doc, rec, decision)

	if progress != nil {
		progress(ProgressComplete)
	}

	s.logger.Info("Document processed",
		"document_id", doc.ID,
		"outcome", decision.Outcome,
		"confidence", overall,
		"missing_fields", len(fields.MissingFields),
		"low_confidence_fields", len(fields.LowConfidenceFields))

	return nil
}

// MarkFailed transitions the document to failed, recording the reason in its
// history. Used by the worker when retries are exhausted.
func (s *processingServiceImpl) MarkFailed(ctx context.Context, documentID, reason string) error {
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("get document %s: %w", documentID, err)
	}

	lifecycle, err := workflow.NewLifecycle(doc)
	if err != nil {
		return err
	}
	if !lifecycle.CanFire(workflow.TriggerFail) {
		s.logger.Info("Document not failable from current status",
			"document_id", documentID, "status", doc.Status)
		return nil
	}

	fireCtx := workflow.WithMetadata(ctx, map[string]interface{}{"reason": reason})
	if err := lifecycle.Fire(fireCtx, workflow.TriggerFail); err != nil {
		return err
	}
	if err := s.docRepo.Update(ctx, doc); err != nil {
		return fmt.Errorf("update document %s: %w", documentID, err)
	}

	s.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeDocumentProcessed, doc.ID, map[string]interface{}{
		"status": doc.Status,
		"reason": reason,
	}))
	return nil
}

func (s *processingServiceImpl) failPermanently(ctx context.Context, doc *entity.Document, lifecycle *workflow.Lifecycle, reason string, cause error) error {
	s.logger.Error("Permanent processing failure", "document_id", doc.ID, "reason", reason, "error", cause)

	if lifecycle.CanFire(workflow.TriggerFail) {
		fireCtx := workflow.WithMetadata(ctx, map[string]interface{}{"reason": reason})
		if err := lifecycle.Fire(fireCtx, workflow.TriggerFail); err == nil {
			_ = s.docRepo.Update(ctx, doc)
		}
	}
	return fmt.Errorf("%w: %s", entity.ErrValidation, reason)
}

// runOCR materializes the stored bytes to a scratch file and runs extraction.
// Storage and OCR failures are transient.
func (s *processingServiceImpl) runOCR(ctx context.Context, doc *entity.Document) (*port.OCRResult, error) {
	content, err := s.storage.Get(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", entity.ErrTransient, doc.StoragePath, err)
	}

	tmp, err := os.CreateTemp("", "docverify-*"+filepath.Ext(doc.Filename))
	if err != nil {
		return nil, fmt.Errorf("%w: scratch file: %v", entity.ErrTransient, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("%w: write scratch file: %v", entity.ErrTransient, err)
	}
	tmp.Close()

	result, err := s.ocr.Extract(ctx, tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("%w: ocr: %v", entity.ErrTransient, err)
	}
	return result, nil
}

func (s *processingServiceImpl) publishOutcome(ctx context.Context, doc *entity.Document, rec *entity.VerificationRecord, decision verification.Decision) {
	payload := map[string]interface{}{
		"verification_id": rec.ID,
		"status":          doc.Status,
		"outcome":         decision.Outcome,
		"confidence":      rec.OverallConfidence,
	}

	s.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeVerificationCompleted, doc.ID, payload))
	s.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeDocumentProcessed, doc.ID, payload))

	if decision.RequiresManualReview {
		s.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeManualReviewRequired, doc.ID, map[string]interface{}{
			"verification_id": rec.ID,
			"priority":        rec.Priority(),
			"confidence":      rec.OverallConfidence,
		}))
	}
}

// contentRulesFor projects the template into the shape the content validator
// expects
func contentRulesFor(tpl *entity.Template) port.TemplateRules {
	rules := port.TemplateRules{TemplateName: tpl.Name}
	for _, f := range tpl.FieldDefinitions {
		rules.ExpectedFields = append(rules.ExpectedFields, f.Name)
		if f.Required {
			rules.RequiredFields = append(rules.RequiredFields, f.Name)
		}
	}
	return rules
}

// extractedFieldsFrom combines the validator's field values with the OCR
// regions they came from. A field whose value appears in a recognized region
// inherits that region's confidence and position; otherwise the page-level
// confidence applies.
func extractedFieldsFrom(review *port.ContentReview, ocr *port.OCRResult) map[string]verification.ExtractedField {
	extracted := make(map[string]verification.ExtractedField)
	if review == nil {
		return extracted
	}
	for name, value := range review.ExtractedFields {
		if value == "" {
			continue
		}
		field := verification.ExtractedField{
			Value:      value,
			Confidence: ocr.OverallConfidence,
		}
		for _, region := range ocr.Regions {
			if strings.Contains(region.Text, value) {
				field.Confidence = region.Confidence
				field.BBox = region.BBox
				break
			}
		}
		extracted[name] = field
	}
	return extracted
}
