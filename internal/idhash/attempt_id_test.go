package idhash

import (
	"testing"

	"trigger-keeper/internal/domain"
)

func TestComputeAttemptID(t *testing.T) {
	tests := []struct {
		name      string
		cycleID   string
		triggerID uint64
		attempt   int
		outcome   domain.AttemptOutcome
	}{
		{"skip", "6f1c2d4e-0000-4000-8000-000000000001", 7, 0, domain.OutcomeSkipped},
		{"retry", "6f1c2d4e-0000-4000-8000-000000000001", 7, 1, domain.OutcomeRetrying},
		{"executed", "6f1c2d4e-0000-4000-8000-000000000002", 7, 2, domain.OutcomeExecuted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeAttemptID(tt.cycleID, tt.triggerID, tt.attempt, tt.outcome)
			if len(got) != 64 {
				t.Errorf("ComputeAttemptID() length = %d, want 64", len(got))
			}
			if again := ComputeAttemptID(tt.cycleID, tt.triggerID, tt.attempt, tt.outcome); got != again {
				t.Errorf("ComputeAttemptID() not deterministic: %s != %s", got, again)
			}
		})
	}
}

func TestComputeAttemptID_Distinct(t *testing.T) {
	base := ComputeAttemptID("cycle", 1, 1, domain.OutcomeRetrying)

	variants := map[string]string{
		"cycle":   ComputeAttemptID("cycle2", 1, 1, domain.OutcomeRetrying),
		"trigger": ComputeAttemptID("cycle", 2, 1, domain.OutcomeRetrying),
		"attempt": ComputeAttemptID("cycle", 1, 2, domain.OutcomeRetrying),
		"outcome": ComputeAttemptID("cycle", 1, 1, domain.OutcomeExhausted),
	}
	for field, id := range variants {
		if id == base {
			t.Errorf("changing %s did not change the id", field)
		}
	}
}
