package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKindsUnwrap(t *testing.T) {
	cases := []struct {
		name string
		err  *AppError
		kind error
	}{
		{"not found", NotFound("stop", "st1"), ErrNotFound},
		{"validation", ValidationFailed("route_color", "must be a 6-digit hex color"), ErrValidation},
		{"conflict", Conflict("agency", "MTA"), ErrConflict},
		{"conflict message", ConflictMessage("snapshot is publishing"), ErrConflict},
		{"referential integrity", ReferentialIntegrity("agency", "MTA", "2 routes"), ErrReferentialIntegrity},
		{"job failure", JobFailed("publish", "exporter crashed"), ErrJobFailure},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !errors.Is(tc.err, tc.kind) {
				t.Errorf("errors.Is(%v, %v) = false, want true", tc.err, tc.kind)
			}
		})
	}
}

func TestWrappedErrorKeepsKind(t *testing.T) {
	inner := ValidationFailed("stop_lat", "latitude out of range")
	wrapped := fmt.Errorf("creating stop: %w", inner)

	if !errors.Is(wrapped, ErrValidation) {
		t.Error("wrapped error lost ErrValidation kind")
	}

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatal("errors.As failed to extract *AppError")
	}
	if appErr.Field != "stop_lat" {
		t.Errorf("Field = %q, want %q", appErr.Field, "stop_lat")
	}
}

func TestValidationSummaryCollectsIssues(t *testing.T) {
	issues := []string{"feed defines no service calendars", "trip t1 references missing pattern p9"}
	err := ValidationSummary(issues)

	if !errors.Is(err, ErrValidation) {
		t.Error("summary is not a validation error")
	}
	if len(err.Issues) != 2 {
		t.Errorf("Issues count = %d, want 2", len(err.Issues))
	}
}
