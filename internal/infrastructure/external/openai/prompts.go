package openai

import (
	"fmt"
	"strings"

	"github.com/kaiwen/docverify/internal/application/port"
)

const systemPrompt = "You are a document verification assistant. You judge whether " +
	"OCR-extracted text is a plausible, internally consistent instance of a named " +
	"document type and extract the requested field values verbatim. Always respond " +
	"with valid JSON."

// maxPromptTextBytes caps the OCR text included in the prompt so a scanned
// book does not blow the context window
const maxPromptTextBytes = 12000

// buildReviewPrompt renders the content review request for one document
func buildReviewPrompt(ocrText string, rules port.TemplateRules) string {
	if len(ocrText) > maxPromptTextBytes {
		ocrText = ocrText[:maxPromptTextBytes]
	}

	return fmt.Sprintf(`Review the following OCR-extracted text against the document type %q.

**Expected fields:** %s
**Required fields:** %s

**OCR text:**
%s

Respond with ONLY a valid JSON object with this exact structure:
{
  "is_valid": boolean,
  "confidence": number between 0.0 and 1.0,
  "issues": [string array describing inconsistencies, missing required data, or signs the document is not of this type],
  "extracted_fields": {"field_name": "value extracted verbatim from the text, omit fields you cannot find"}
}

Rules:
- is_valid is true only when the text plausibly belongs to this document type and contains no contradictions.
- Extract field values EXACTLY as they appear in the text. Never invent values.
- confidence reflects your certainty in the overall judgement.`,
		rules.TemplateName,
		strings.Join(rules.ExpectedFields, ", "),
		strings.Join(rules.RequiredFields, ", "),
		ocrText,
	)
}
