package measure

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cliniccore/cliniccore/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const recordCols = `id, patient_id, name, number_value, text_value, bool_value, measured_at, recorded_at`

func (r *repoPG) LatestByName(ctx context.Context, patientID uuid.UUID, name string) (*Record, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+recordCols+` FROM measure_record
		WHERE patient_id = $1 AND name = $2
		ORDER BY measured_at DESC, recorded_at DESC, id DESC
		LIMIT 1`, patientID, name)

	var rec Record
	err := row.Scan(&rec.ID, &rec.PatientID, &rec.Name, &rec.NumberValue, &rec.TextValue, &rec.BoolValue,
		&rec.MeasuredAt, &rec.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repoPG) ListNames(ctx context.Context, patientID uuid.UUID) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT name FROM measure_record WHERE patient_id = $1 ORDER BY name`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
