package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorUnwrapsToKind(t *testing.T) {
	err := fmt.Errorf("withdraw: %w", InsufficientFunds())

	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if errors.Is(err, ErrInsufficientEscrow) {
		t.Fatalf("unexpected match on ErrInsufficientEscrow")
	}

	en, ar, ok := Messages(err)
	if !ok || en == "" || ar == "" {
		t.Fatalf("expected bilingual messages, got %q / %q", en, ar)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(VersionConflict()) {
		t.Errorf("version conflict should be retryable")
	}
	if !IsRetryable(fmt.Errorf("scope: %w", Timeout())) {
		t.Errorf("timeout should be retryable")
	}
	if IsRetryable(InvalidAmount()) {
		t.Errorf("invalid amount should not be retryable")
	}
	if IsRetryable(errors.New("boom")) {
		t.Errorf("unclassified errors should not be retryable")
	}
}
