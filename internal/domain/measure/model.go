// Package measure reads the externally maintained clinical measure series
// (time-stamped metrics such as body weight). The calculation engine only
// ever consumes the most recent record per measure name; the series itself
// is owned and written by another subsystem and is read-only here.
package measure

import (
	"time"

	"github.com/google/uuid"
)

// Record is one time-stamped entry of a patient's measure series. Exactly one
// of NumberValue/TextValue/BoolValue is populated.
type Record struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	Name        string    `db:"name" json:"name"`
	NumberValue *float64  `db:"number_value" json:"number_value,omitempty"`
	TextValue   *string   `db:"text_value" json:"text_value,omitempty"`
	BoolValue   *bool     `db:"bool_value" json:"bool_value,omitempty"`
	MeasuredAt  time.Time `db:"measured_at" json:"measured_at"`
	RecordedAt  time.Time `db:"recorded_at" json:"recorded_at"`
}

// Latest selects the record the engine must use for formula evaluation:
// greatest measured_at, with ties broken by insertion order (recorded_at,
// then id) so the last write wins.
func Latest(records []*Record) *Record {
	var best *Record
	for _, r := range records {
		if best == nil {
			best = r
			continue
		}
		if r.MeasuredAt.After(best.MeasuredAt) {
			best = r
			continue
		}
		if r.MeasuredAt.Equal(best.MeasuredAt) {
			if r.RecordedAt.After(best.RecordedAt) ||
				(r.RecordedAt.Equal(best.RecordedAt) && r.ID.String() > best.ID.String()) {
				best = r
			}
		}
	}
	return best
}
