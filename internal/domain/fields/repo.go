package fields

import (
	"context"

	"github.com/google/uuid"
)

// CategoryRepository persists field categories.
type CategoryRepository interface {
	Create(ctx context.Context, c *Category) error
	Update(ctx context.Context, c *Category) error
	GetByID(ctx context.Context, id uuid.UUID) (*Category, error)
	// ListActive returns active categories applicable to the given entity
	// type (shared categories included), ordered by display order.
	ListActive(ctx context.Context, et EntityType) ([]*Category, error)
	List(ctx context.Context, limit, offset int) ([]*Category, int, error)
}

// DefinitionRepository persists field definitions.
type DefinitionRepository interface {
	Create(ctx context.Context, d *Definition) error
	Update(ctx context.Context, d *Definition) error
	GetByID(ctx context.Context, id uuid.UUID) (*Definition, error)
	GetByFieldName(ctx context.Context, fieldName string) (*Definition, error)
	ListActiveByCategory(ctx context.Context, categoryID uuid.UUID) ([]*Definition, error)
	// ListActive returns every active definition; the recalculation passes
	// build their dependency graph from this set.
	ListActive(ctx context.Context) ([]*Definition, error)
	List(ctx context.Context, limit, offset int) ([]*Definition, int, error)
}

// ValueStore is the capability interface over one value table. Two
// implementations exist: patient-scoped and visit-scoped. Find returns
// (nil, nil) when no row exists.
type ValueStore interface {
	Find(ctx context.Context, entityID, definitionID uuid.UUID) (*Value, error)
	FindByID(ctx context.Context, valueID uuid.UUID) (*Value, error)
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*Value, error)
	ListByDefinition(ctx context.Context, definitionID uuid.UUID) ([]*Value, error)
	// Upsert writes the single value row for (entity, definition); created
	// reports whether a new row was inserted rather than updated.
	Upsert(ctx context.Context, v *Value) (created bool, err error)
	Delete(ctx context.Context, valueID uuid.UUID) error
	// Clear removes the row for (entity, definition) if present. Used when a
	// calculated result becomes unresolvable.
	Clear(ctx context.Context, entityID, definitionID uuid.UUID) error
}

// VisitDirectory resolves visit ownership and chronology.
type VisitDirectory interface {
	GetVisit(ctx context.Context, visitID uuid.UUID) (*Visit, error)
	// ListByPatient returns the patient's visits in chronological order.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Visit, error)
	// LatestByPatient returns the most recent visit, or (nil, nil) when the
	// patient has none.
	LatestByPatient(ctx context.Context, patientID uuid.UUID) (*Visit, error)
}

// TxRunner executes a function inside one storage transaction. Bulk updates
// use it for all-or-nothing semantics.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Translator supplies localized overlays for category and field labels.
// A false return falls back to the stored default-language text.
type Translator interface {
	CategoryName(ctx context.Context, lang string, categoryID uuid.UUID) (string, bool)
	FieldLabel(ctx context.Context, lang string, definitionID uuid.UUID) (string, bool)
}

// NoopTranslator never translates; every lookup falls back to stored text.
type NoopTranslator struct{}

func (NoopTranslator) CategoryName(context.Context, string, uuid.UUID) (string, bool) {
	return "", false
}
func (NoopTranslator) FieldLabel(context.Context, string, uuid.UUID) (string, bool) {
	return "", false
}
