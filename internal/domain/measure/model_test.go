package measure

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func numRecord(num float64, measuredAt, recordedAt time.Time) *Record {
	return &Record{
		ID:          uuid.New(),
		PatientID:   uuid.New(),
		Name:        "body_weight",
		NumberValue: &num,
		MeasuredAt:  measuredAt,
		RecordedAt:  recordedAt,
	}
}

func TestLatestPicksGreatestMeasuredAt(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	older := numRecord(80, t0, t0)
	newer := numRecord(75, t0.Add(24*time.Hour), t0)

	// Insertion order must not matter when measured_at differs.
	if got := Latest([]*Record{newer, older}); got != newer {
		t.Errorf("Latest picked %v, want the later measured_at", got.NumberValue)
	}
	if got := Latest([]*Record{older, newer}); got != newer {
		t.Errorf("Latest picked %v, want the later measured_at", got.NumberValue)
	}
}

func TestLatestTieBreaksOnInsertionOrder(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first := numRecord(80, t0, t0)
	second := numRecord(75, t0, t0.Add(time.Minute))

	if got := Latest([]*Record{first, second}); got != second {
		t.Errorf("Latest = %v, want the last write to win on measured_at ties", got.NumberValue)
	}
}

func TestLatestEmpty(t *testing.T) {
	if got := Latest(nil); got != nil {
		t.Errorf("Latest(nil) = %v, want nil", got)
	}
}
