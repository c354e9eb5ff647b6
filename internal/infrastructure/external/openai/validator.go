// Package openai implements the content validator port with the OpenAI chat
// API. The check is advisory: callers apply their own fallback policy when
// the API is unreachable.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kaiwen/docverify/internal/application/port"
)

// Validator implements port.ContentValidator using OpenAI
type Validator struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// NewValidator creates a new OpenAI content validator
func NewValidator(apiKey, model string, temperature float32, logger *zap.Logger) *Validator {
	return &Validator{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		logger:      logger,
	}
}

// contentReviewResponse is the JSON shape requested from the model
type contentReviewResponse struct {
	IsValid         bool              `json:"is_valid"`
	Confidence      float64           `json:"confidence"`
	Issues          []string          `json:"issues"`
	ExtractedFields map[string]string `json:"extracted_fields"`
}

// ValidateContent asks the model whether the recognized text is a plausible
// instance of the template and to pull out the expected field values
func (v *Validator) ValidateContent(ctx context.Context, ocrText string, rules port.TemplateRules) (*port.ContentReview, error) {
	v.logger.Debug("Validating content",
		zap.String("template", rules.TemplateName),
		zap.Int("text_length", len(ocrText)))

	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       v.model,
		Temperature: v.temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildReviewPrompt(ocrText, rules),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		v.logger.Error("OpenAI API call failed", zap.Error(err))
		return nil, fmt.Errorf("content validation call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from content validator")
	}

	content := resp.Choices[0].Message.Content

	var result contentReviewResponse
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		// Fallback: some models wrap the object in markdown fences
		if jsonStr := extractJSON(content); jsonStr != "" {
			if err := json.Unmarshal([]byte(jsonStr), &result); err == nil {
				return v.toReview(&result, rules), nil
			}
		}
		v.logger.Error("Failed to parse content review",
			zap.Error(err),
			zap.String("content", content))
		return nil, fmt.Errorf("parse content review: %w", err)
	}

	return v.toReview(&result, rules), nil
}

func (v *Validator) toReview(result *contentReviewResponse, rules port.TemplateRules) *port.ContentReview {
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}

	v.logger.Info("Content validation completed",
		zap.String("template", rules.TemplateName),
		zap.Bool("is_valid", result.IsValid),
		zap.Float64("confidence", result.Confidence),
		zap.Int("issues", len(result.Issues)))

	return &port.ContentReview{
		IsValid:         result.IsValid,
		Confidence:      result.Confidence,
		Issues:          result.Issues,
		ExtractedFields: result.ExtractedFields,
	}
}

// extractJSON extracts the first balanced JSON object from a string
func extractJSON(content string) string {
	start := -1
	for i := 0; i < len(content); i++ {
		if content[i] == '{' {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}

	braceCount := 0
	inString := false
	escapeNext := false

	for i := start; i < len(content); i++ {
		char := content[i]

		if escapeNext {
			escapeNext = false
			continue
		}
		if char == '\\' {
			escapeNext = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		if char == '{' {
			braceCount++
		} else if char == '}' {
			braceCount--
			if braceCount == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}

// Verify interface compliance
var _ port.ContentValidator = (*Validator)(nil)
