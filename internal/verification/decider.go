package verification

import (
	"fmt"

	"github.com/kaiwen/docverify/internal/domain/entity"
	"github.com/kaiwen/docverify/internal/domain/workflow"
)

// Outcome classifications
const (
	OutcomePassed         = "passed"
	OutcomeFailed         = "failed"
	OutcomeReviewRequired = "review_required"
)

// LLM-unavailable policies. AssumeValid keeps the pipeline moving on a
// third-party outage; the content check is advisory, not load-bearing.
const (
	OnLLMUnavailableAssumeValid = "assume_valid"
	OnLLMUnavailableFail        = "fail"
)

// Policy configures the decision engine's tie-breaking behavior.
type Policy struct {
	// OnLLMUnavailable names the fallback when the content check errors
	OnLLMUnavailable string

	// FallbackConfidence is substituted for the content-review confidence
	// when the fallback engages
	FallbackConfidence float64

	// AmbiguityBeforeFailure routes missing/low-confidence fields to human
	// review even when the content check says invalid. Default on: ambiguity
	// goes to a reviewer before hard-failing.
	AmbiguityBeforeFailure bool
}

// DefaultPolicy returns the production decision policy
func DefaultPolicy() Policy {
	return Policy{
		OnLLMUnavailable:       OnLLMUnavailableAssumeValid,
		FallbackConfidence:     0.5,
		AmbiguityBeforeFailure: true,
	}
}

// Decision is the engine's combined classification for one attempt
type Decision struct {
	Outcome              string
	Trigger              workflow.Trigger
	RequiresManualReview bool
	OverallConfidence    float64
	ContentValid         bool
	ContentIssues        []string
	Rationale            string
}

// Decider combines matcher output, content-review output and OCR confidence
// into one of passed / failed / review_required.
type Decider struct {
	policy Policy
}

// NewDecider creates a decision engine with the given policy
func NewDecider(policy Policy) *Decider {
	return &Decider{policy: policy}
}

// ResolveContentReview applies the LLM-unavailable policy. When the content
// check errored, the configured fallback substitutes a verdict instead of
// blocking the attempt.
func (d *Decider) ResolveContentReview(contentValid bool, contentConfidence float64, llmErr error) (bool, float64) {
	if llmErr == nil {
		return contentValid, contentConfidence
	}
	if d.policy.OnLLMUnavailable == OnLLMUnavailableFail {
		return false, 0
	}
	return true, d.policy.FallbackConfidence
}

// Decide classifies a verification attempt.
//
//	matcher valid AND content valid            → passed
//	any missing or low-confidence field        → review_required
//	invalid with no ambiguous fields           → failed
func (d *Decider) Decide(fields *entity.ValidationResult, contentValid bool, ocrConfidence float64) Decision {
	decision := Decision{
		OverallConfidence: ocrConfidence,
		ContentValid:      contentValid,
	}

	switch {
	case fields.IsSuccess && contentValid:
		decision.Outcome = OutcomePassed
		decision.Trigger = workflow.TriggerPass
		decision.Rationale = fmt.Sprintf("all fields matched, content valid (ocr confidence %.2f)", ocrConfidence)

	case d.policy.AmbiguityBeforeFailure && fields.HasAmbiguity():
		decision.Outcome = OutcomeReviewRequired
		decision.Trigger = workflow.TriggerRequestReview
		decision.RequiresManualReview = true
		decision.Rationale = fmt.Sprintf("%d missing, %d low-confidence fields routed to review",
			len(fields.MissingFields), len(fields.LowConfidenceFields))

	default:
		// Structural rejection: nothing ambiguous to show a reviewer
		decision.Outcome = OutcomeFailed
		decision.Trigger = workflow.TriggerFail
		decision.Rationale = "content check rejected with no ambiguous fields"
	}

	return decision
}

// VerificationStatus maps the outcome to the verification record status
func (dec Decision) VerificationStatus() string {
	switch dec.Outcome {
	case OutcomePassed:
		return entity.VerificationStatusPass
	case OutcomeReviewRequired:
		return entity.VerificationStatusManualReview
	default:
		return entity.VerificationStatusFail
	}
}
