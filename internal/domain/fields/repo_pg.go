package fields

import (
	"context"
	"errors"
	"fmt"

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

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// --- categories ---

type categoryRepoPG struct{ pool *pgxpool.Pool }

func NewCategoryRepoPG(pool *pgxpool.Pool) CategoryRepository {
	return &categoryRepoPG{pool: pool}
}

const categoryCols = `id, name, entity_types, display_order, active, color, layout, created_at, updated_at`

func scanCategory(row pgx.Row) (*Category, error) {
	var c Category
	var entityTypes []string
	err := row.Scan(&c.ID, &c.Name, &entityTypes, &c.DisplayOrder, &c.Active,
		&c.Color, &c.Layout, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("category: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	for _, et := range entityTypes {
		c.EntityTypes = append(c.EntityTypes, EntityType(et))
	}
	return &c, nil
}

func entityTypeStrings(types []EntityType) []string {
	out := make([]string, len(types))
	for i, et := range types {
		out[i] = string(et)
	}
	return out
}

func (r *categoryRepoPG) Create(ctx context.Context, c *Category) error {
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO field_category (id, name, entity_types, display_order, active, color, layout)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		c.ID, c.Name, entityTypeStrings(c.EntityTypes), c.DisplayOrder, c.Active, c.Color, c.Layout,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *categoryRepoPG) Update(ctx context.Context, c *Category) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE field_category
		SET name = $2, entity_types = $3, display_order = $4, active = $5,
		    color = $6, layout = $7, updated_at = now()
		WHERE id = $1`,
		c.ID, c.Name, entityTypeStrings(c.EntityTypes), c.DisplayOrder, c.Active, c.Color, c.Layout)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("category %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

func (r *categoryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Category, error) {
	return scanCategory(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+categoryCols+` FROM field_category WHERE id = $1`, id))
}

func (r *categoryRepoPG) ListActive(ctx context.Context, et EntityType) ([]*Category, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+categoryCols+` FROM field_category
		WHERE active AND $1 = ANY(entity_types)
		ORDER BY display_order, name`, string(et))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCategories(rows)
}

func (r *categoryRepoPG) List(ctx context.Context, limit, offset int) ([]*Category, int, error) {
	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT count(*) FROM field_category`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+categoryCols+` FROM field_category
		ORDER BY display_order, name
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	cats, err := collectCategories(rows)
	return cats, total, err
}

func collectCategories(rows pgx.Rows) ([]*Category, error) {
	var out []*Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- definitions ---

type definitionRepoPG struct{ pool *pgxpool.Pool }

func NewDefinitionRepoPG(pool *pgxpool.Pool) DefinitionRepository {
	return &definitionRepoPG{pool: pool}
}

const definitionCols = `id, category_id, field_name, label, data_type, active, required,
	validation_rules, formula, dependencies, created_at, updated_at`

func scanDefinition(row pgx.Row) (*Definition, error) {
	var d Definition
	var dataType string
	err := row.Scan(&d.ID, &d.CategoryID, &d.FieldName, &d.Label, &dataType, &d.Active, &d.Required,
		&d.ValidationRules, &d.Formula, &d.Dependencies, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("definition: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	d.DataType = DataType(dataType)
	return &d, nil
}

func (r *definitionRepoPG) Create(ctx context.Context, d *Definition) error {
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO field_definition
			(id, category_id, field_name, label, data_type, active, required,
			 validation_rules, formula, dependencies)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		d.ID, d.CategoryID, d.FieldName, d.Label, string(d.DataType), d.Active, d.Required,
		d.ValidationRules, d.Formula, d.Dependencies,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *definitionRepoPG) Update(ctx context.Context, d *Definition) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE field_definition
		SET category_id = $2, label = $3, active = $4, required = $5,
		    validation_rules = $6, formula = $7, dependencies = $8, updated_at = now()
		WHERE id = $1`,
		d.ID, d.CategoryID, d.Label, d.Active, d.Required,
		d.ValidationRules, d.Formula, d.Dependencies)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("definition %s: %w", d.ID, ErrNotFound)
	}
	return nil
}

func (r *definitionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Definition, error) {
	return scanDefinition(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+definitionCols+` FROM field_definition WHERE id = $1`, id))
}

func (r *definitionRepoPG) GetByFieldName(ctx context.Context, fieldName string) (*Definition, error) {
	return scanDefinition(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+definitionCols+` FROM field_definition WHERE field_name = $1`, fieldName))
}

func (r *definitionRepoPG) ListActiveByCategory(ctx context.Context, categoryID uuid.UUID) ([]*Definition, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+definitionCols+` FROM field_definition
		WHERE active AND category_id = $1
		ORDER BY field_name`, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDefinitions(rows)
}

func (r *definitionRepoPG) ListActive(ctx context.Context) ([]*Definition, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+definitionCols+` FROM field_definition WHERE active ORDER BY field_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDefinitions(rows)
}

func (r *definitionRepoPG) List(ctx context.Context, limit, offset int) ([]*Definition, int, error) {
	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT count(*) FROM field_definition`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+definitionCols+` FROM field_definition
		ORDER BY field_name
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	defs, err := collectDefinitions(rows)
	return defs, total, err
}

func collectDefinitions(rows pgx.Rows) ([]*Definition, error) {
	var out []*Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- value stores ---

// valueStorePG implements ValueStore over one value table; the patient and
// visit stores differ only in table name.
type valueStorePG struct {
	pool  *pgxpool.Pool
	table string
}

func NewPatientValueStorePG(pool *pgxpool.Pool) ValueStore {
	return &valueStorePG{pool: pool, table: "patient_field_value"}
}

func NewVisitValueStorePG(pool *pgxpool.Pool) ValueStore {
	return &valueStorePG{pool: pool, table: "visit_field_value"}
}

const valueCols = `id, entity_id, definition_id, text_value, number_value, bool_value, json_value, updated_by, updated_at`

func scanValue(row pgx.Row) (*Value, error) {
	var v Value
	err := row.Scan(&v.ID, &v.EntityID, &v.DefinitionID, &v.TextValue, &v.NumberValue,
		&v.BoolValue, &v.JSONValue, &v.UpdatedBy, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *valueStorePG) Find(ctx context.Context, entityID, definitionID uuid.UUID) (*Value, error) {
	return scanValue(conn(ctx, s.pool).QueryRow(ctx, `
		SELECT `+valueCols+` FROM `+s.table+`
		WHERE entity_id = $1 AND definition_id = $2`, entityID, definitionID))
}

func (s *valueStorePG) FindByID(ctx context.Context, valueID uuid.UUID) (*Value, error) {
	return scanValue(conn(ctx, s.pool).QueryRow(ctx, `
		SELECT `+valueCols+` FROM `+s.table+` WHERE id = $1`, valueID))
}

func (s *valueStorePG) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*Value, error) {
	rows, err := conn(ctx, s.pool).Query(ctx, `
		SELECT `+valueCols+` FROM `+s.table+` WHERE entity_id = $1`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectValues(rows)
}

func (s *valueStorePG) ListByDefinition(ctx context.Context, definitionID uuid.UUID) ([]*Value, error) {
	rows, err := conn(ctx, s.pool).Query(ctx, `
		SELECT `+valueCols+` FROM `+s.table+` WHERE definition_id = $1`, definitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectValues(rows)
}

func collectValues(rows pgx.Rows) ([]*Value, error) {
	var out []*Value
	for rows.Next() {
		v, err := scanValue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *valueStorePG) Upsert(ctx context.Context, v *Value) (bool, error) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	// xmax = 0 only on freshly inserted rows, distinguishing insert from update.
	var created bool
	err := conn(ctx, s.pool).QueryRow(ctx, `
		INSERT INTO `+s.table+`
			(id, entity_id, definition_id, text_value, number_value, bool_value, json_value, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (entity_id, definition_id) DO UPDATE
		SET text_value = EXCLUDED.text_value,
		    number_value = EXCLUDED.number_value,
		    bool_value = EXCLUDED.bool_value,
		    json_value = EXCLUDED.json_value,
		    updated_by = EXCLUDED.updated_by,
		    updated_at = now()
		RETURNING id, updated_at, (xmax = 0)`,
		v.ID, v.EntityID, v.DefinitionID, v.TextValue, v.NumberValue, v.BoolValue, v.JSONValue, v.UpdatedBy,
	).Scan(&v.ID, &v.UpdatedAt, &created)
	return created, err
}

func (s *valueStorePG) Delete(ctx context.Context, valueID uuid.UUID) error {
	tag, err := conn(ctx, s.pool).Exec(ctx,
		`DELETE FROM `+s.table+` WHERE id = $1`, valueID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("value %s: %w", valueID, ErrNotFound)
	}
	return nil
}

func (s *valueStorePG) Clear(ctx context.Context, entityID, definitionID uuid.UUID) error {
	_, err := conn(ctx, s.pool).Exec(ctx,
		`DELETE FROM `+s.table+` WHERE entity_id = $1 AND definition_id = $2`,
		entityID, definitionID)
	return err
}

// --- visits ---

type visitDirectoryPG struct{ pool *pgxpool.Pool }

func NewVisitDirectoryPG(pool *pgxpool.Pool) VisitDirectory {
	return &visitDirectoryPG{pool: pool}
}

func (r *visitDirectoryPG) GetVisit(ctx context.Context, visitID uuid.UUID) (*Visit, error) {
	var v Visit
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, patient_id, visited_at FROM visit WHERE id = $1`, visitID,
	).Scan(&v.ID, &v.PatientID, &v.VisitedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("visit %s: %w", visitID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *visitDirectoryPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Visit, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, patient_id, visited_at FROM visit
		WHERE patient_id = $1
		ORDER BY visited_at, id`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Visit
	for rows.Next() {
		var v Visit
		if err := rows.Scan(&v.ID, &v.PatientID, &v.VisitedAt); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (r *visitDirectoryPG) LatestByPatient(ctx context.Context, patientID uuid.UUID) (*Visit, error) {
	var v Visit
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, patient_id, visited_at FROM visit
		WHERE patient_id = $1
		ORDER BY visited_at DESC, id DESC
		LIMIT 1`, patientID,
	).Scan(&v.ID, &v.PatientID, &v.VisitedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}
