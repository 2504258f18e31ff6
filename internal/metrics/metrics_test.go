package metrics

import (
	"fmt"
	"testing"
	"time"

	"agri-ledger/internal/apperr"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOutcomeLabels(t *testing.T) {
	cases := map[error]string{
		nil:                                    "ok",
		apperr.InvalidAmount():                 "invalid",
		fmt.Errorf("x: %w", apperr.Timeout()):  "timeout",
		apperr.VersionConflict():               "conflict",
		apperr.InsufficientEscrow():            "insufficient",
		apperr.IllegalState("closed", "مغلق"):  "illegal_state",
		fmt.Errorf("connection refused"):       "error",
	}
	for err, want := range cases {
		if got := Outcome(err); got != want {
			t.Errorf("Outcome(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestObserveCountsByOutcome(t *testing.T) {
	before := testutil.ToFloat64(operationsTotal.WithLabelValues("metrics_test", "ok"))
	Observe("metrics_test", time.Now(), nil)
	Observe("metrics_test", time.Now(), nil)

	after := testutil.ToFloat64(operationsTotal.WithLabelValues("metrics_test", "ok"))
	if after-before != 2 {
		t.Fatalf("expected 2 observations, got %v", after-before)
	}
}
