package worker

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kaiwen/docverify/internal/domain/entity"
)

func TestRetryStrategy_CalculateBackoff(t *testing.T) {
	strategy := NewRetryStrategy()

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 60 * time.Second},
		{1, 120 * time.Second},
		{2, 240 * time.Second},
		{3, 480 * time.Second},
		{4, 10 * time.Minute}, // 960s capped at MaxBackoff
		{10, 10 * time.Minute},
		{-1, 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			if got := strategy.CalculateBackoff(tt.attempt); got != tt.expected {
				t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestRetryStrategy_ShouldRetry(t *testing.T) {
	strategy := NewRetryStrategy()

	transientErr := fmt.Errorf("%w: ocr engine busy", entity.ErrTransient)
	permanentErr := fmt.Errorf("%w: unsupported file type", entity.ErrValidation)

	tests := []struct {
		name       string
		err        error
		retryCount int
		expected   bool
	}{
		{"transient first failure", transientErr, 0, true},
		{"transient last budget", transientErr, 2, true},
		{"transient budget exhausted", transientErr, 3, false},
		{"permanent error", permanentErr, 0, false},
		{"plain error", errors.New("boom"), 0, false},
		{"nil error", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := strategy.ShouldRetry(tt.err, tt.retryCount); got != tt.expected {
				t.Errorf("ShouldRetry(%v, %d) = %v, want %v", tt.err, tt.retryCount, got, tt.expected)
			}
		})
	}
}
