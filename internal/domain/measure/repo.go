package measure

import (
	"context"

	"github.com/google/uuid"
)

// Repository provides read access to the measure series. A nil record with a
// nil error means the patient has no entry for that measure name.
type Repository interface {
	LatestByName(ctx context.Context, patientID uuid.UUID, name string) (*Record, error)
	ListNames(ctx context.Context, patientID uuid.UUID) ([]string, error)
}
