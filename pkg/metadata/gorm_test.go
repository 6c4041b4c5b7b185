package metadata

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
)

func TestConvertDBErrorClassifiesConnectivity(t *testing.T) {
	cases := []struct {
		name        string
		in          error
		unavailable bool
	}{
		{"nil", nil, false},
		{"closed pool", sql.ErrConnDone, true},
		{"refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{"reset", errors.New("read tcp: connection reset by peer"), true},
		{"closed handle", errors.New("sql: database is closed"), true},
		{"constraint violation", errors.New("UNIQUE constraint failed: drive_records.local_path"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := convertDBError(tc.in)
			if errors.Is(got, ErrStoreUnavailable) != tc.unavailable {
				t.Errorf("convertDBError(%v) = %v, expected unavailable=%v", tc.in, got, tc.unavailable)
			}
			if tc.in != nil && !tc.unavailable && !errors.Is(got, tc.in) {
				t.Errorf("expected non-connectivity error to pass through, got %v", got)
			}
		})
	}
}

func TestStoreUnavailableSurvivesWrapping(t *testing.T) {
	// Store methods wrap the converted error with operation context; the
	// sentinel must stay reachable for callers that branch on it.
	err := fmt.Errorf("failed to list files: %w", convertDBError(errors.New("connection refused")))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable through wrapping, got %v", err)
	}
}
