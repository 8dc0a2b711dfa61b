package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAccessDenied means the actor lacks visibility into the target entity.
// It is surfaced to callers unchanged and never retried.
var ErrAccessDenied = errors.New("access denied")

// AccessChecker is the authorization collaborator consumed by the field
// services. A nil error means access is granted.
type AccessChecker interface {
	CheckPatientAccess(ctx context.Context, actor Actor, patientID uuid.UUID) error
	CheckVisitAccess(ctx context.Context, actor Actor, visitID uuid.UUID) error
}

// CareTeamChecker grants administrators everything and other roles only the
// patients whose care team they belong to. Visits inherit their patient's
// visibility.
type CareTeamChecker struct {
	pool *pgxpool.Pool
}

func NewCareTeamChecker(pool *pgxpool.Pool) *CareTeamChecker {
	return &CareTeamChecker{pool: pool}
}

func (c *CareTeamChecker) CheckPatientAccess(ctx context.Context, actor Actor, patientID uuid.UUID) error {
	if actor.IsAdmin() {
		return nil
	}
	var ok bool
	err := c.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM care_team_member
			WHERE patient_id = $1 AND provider_id = $2
		)`, patientID, actor.ID).Scan(&ok)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccessDenied
	}
	return nil
}

func (c *CareTeamChecker) CheckVisitAccess(ctx context.Context, actor Actor, visitID uuid.UUID) error {
	if actor.IsAdmin() {
		return nil
	}
	var ok bool
	err := c.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM visit v
			JOIN care_team_member m ON m.patient_id = v.patient_id
			WHERE v.id = $1 AND m.provider_id = $2
		)`, visitID, actor.ID).Scan(&ok)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccessDenied
	}
	return nil
}

// AllowAll grants every check. Used in development mode and tests.
type AllowAll struct{}

func (AllowAll) CheckPatientAccess(context.Context, Actor, uuid.UUID) error { return nil }
func (AllowAll) CheckVisitAccess(context.Context, Actor, uuid.UUID) error   { return nil }
