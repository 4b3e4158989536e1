package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.ExecutionAttempts.WithLabelValues("executed"))
	RecordExecutionAttempt("executed")
	if got := testutil.ToFloat64(DefaultMetrics.ExecutionAttempts.WithLabelValues("executed")); got != before+1 {
		t.Errorf("execution attempts = %v, want %v", got, before+1)
	}

	RecordCycle("success", 250*time.Millisecond)
	if testutil.ToFloat64(DefaultMetrics.LastSuccessfulCycle) == 0 {
		t.Error("last successful cycle not set")
	}

	SetActiveTriggers(3)
	if got := testutil.ToFloat64(DefaultMetrics.ActiveTriggers); got != 3 {
		t.Errorf("active triggers = %v", got)
	}
}

func TestHandler(t *testing.T) {
	RecordTriggerCreated()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "trigger_keeper_registry_triggers_created_total") {
		t.Error("created counter missing from exposition")
	}
}
