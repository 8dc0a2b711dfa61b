package fields

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cliniccore/cliniccore/internal/domain/formula"
)

// AdminService manages category and definition configuration. Formula text is
// parsed at definition time: a malformed formula is rejected before anything
// is stored, and the declared dependency list is derived from the parsed
// expression rather than trusted from the caller.
type AdminService struct {
	categories  CategoryRepository
	definitions DefinitionRepository
	cache       *CalcCache
	log         zerolog.Logger
}

func NewAdminService(categories CategoryRepository, definitions DefinitionRepository, cache *CalcCache, log zerolog.Logger) *AdminService {
	return &AdminService{categories: categories, definitions: definitions, cache: cache, log: log}
}

// CategoryInput carries the writable attributes of a category.
type CategoryInput struct {
	Name         string       `json:"name"`
	EntityTypes  []EntityType `json:"entity_types"`
	DisplayOrder int          `json:"display_order"`
	Active       *bool        `json:"active"`
	Color        *string      `json:"color"`
	Layout       *string      `json:"layout"`
}

func (in CategoryInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return validationErr("name", "category name is required")
	}
	if len(in.EntityTypes) == 0 {
		return validationErr("entity_types", "at least one entity type is required")
	}
	for _, et := range in.EntityTypes {
		if et != EntityPatient && et != EntityVisit {
			return validationErr("entity_types", "unknown entity type %q", et)
		}
	}
	return nil
}

func (s *AdminService) CreateCategory(ctx context.Context, in CategoryInput) (*Category, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	cat := &Category{
		ID:           uuid.New(),
		Name:         strings.TrimSpace(in.Name),
		EntityTypes:  in.EntityTypes,
		DisplayOrder: in.DisplayOrder,
		Active:       true,
		Color:        in.Color,
		Layout:       in.Layout,
	}
	if in.Active != nil {
		cat.Active = *in.Active
	}
	if err := s.categories.Create(ctx, cat); err != nil {
		return nil, err
	}
	s.log.Info().Str("category_id", cat.ID.String()).Str("name", cat.Name).Msg("category created")
	return cat, nil
}

func (s *AdminService) UpdateCategory(ctx context.Context, id uuid.UUID, in CategoryInput) (*Category, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	cat, err := s.categories.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	cat.Name = strings.TrimSpace(in.Name)
	cat.EntityTypes = in.EntityTypes
	cat.DisplayOrder = in.DisplayOrder
	cat.Color = in.Color
	cat.Layout = in.Layout
	if in.Active != nil {
		cat.Active = *in.Active
	}
	if err := s.categories.Update(ctx, cat); err != nil {
		return nil, err
	}

	// Entity-type changes move the storage routing decision, so cached
	// results keyed under the old scope must go.
	s.cache.Clear()
	return cat, nil
}

func (s *AdminService) GetCategory(ctx context.Context, id uuid.UUID) (*Category, error) {
	return s.categories.GetByID(ctx, id)
}

func (s *AdminService) ListCategories(ctx context.Context, limit, offset int) ([]*Category, int, error) {
	return s.categories.List(ctx, limit, offset)
}

// DefinitionInput carries the writable attributes of a definition.
type DefinitionInput struct {
	CategoryID      uuid.UUID `json:"category_id"`
	FieldName       string    `json:"field_name"`
	Label           string    `json:"label"`
	DataType        DataType  `json:"data_type"`
	Required        bool      `json:"required"`
	Active          *bool     `json:"active"`
	ValidationRules string    `json:"validation_rules"`
	Formula         *string   `json:"formula"`
}

// prepare validates the input and parses the formula. For calculated fields
// it returns the parsed expression; dependencies are always derived from it.
func (s *AdminService) prepare(ctx context.Context, in *DefinitionInput) (*formula.Expr, error) {
	in.FieldName = strings.TrimSpace(in.FieldName)
	if in.FieldName == "" {
		return nil, validationErr("field_name", "field name is required")
	}
	for _, r := range in.FieldName {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' {
			continue
		}
		return nil, validationErr("field_name", "field name %q must be lowercase letters, digits and underscores", in.FieldName)
	}
	if strings.TrimSpace(in.Label) == "" {
		return nil, validationErr("label", "label is required")
	}
	if !validDataTypes[in.DataType] {
		return nil, validationErr("data_type", "unknown data type %q", in.DataType)
	}

	if _, err := s.categories.GetByID(ctx, in.CategoryID); err != nil {
		return nil, err
	}

	if in.DataType != DataTypeCalculated {
		if in.Formula != nil && strings.TrimSpace(*in.Formula) != "" {
			return nil, validationErr("formula", "only calculated fields carry a formula")
		}
		in.Formula = nil
		return nil, nil
	}

	if in.Formula == nil || strings.TrimSpace(*in.Formula) == "" {
		return nil, validationErr("formula", "calculated fields require a formula")
	}
	expr, err := formula.Parse(*in.Formula)
	if err != nil {
		return nil, validationErr("formula", "%v", err)
	}
	for _, ref := range expr.Refs() {
		if ref == in.FieldName {
			return nil, validationErr("formula", "formula references its own field %q", in.FieldName)
		}
	}
	return expr, nil
}

func (s *AdminService) CreateDefinition(ctx context.Context, in DefinitionInput) (*Definition, error) {
	expr, err := s.prepare(ctx, &in)
	if err != nil {
		return nil, err
	}
	if existing, err := s.definitions.GetByFieldName(ctx, in.FieldName); err == nil && existing != nil {
		return nil, validationErr("field_name", "field name %q is already in use", in.FieldName)
	}

	def := &Definition{
		ID:              uuid.New(),
		CategoryID:      in.CategoryID,
		FieldName:       in.FieldName,
		Label:           strings.TrimSpace(in.Label),
		DataType:        in.DataType,
		Active:          true,
		Required:        in.Required,
		ValidationRules: in.ValidationRules,
		Formula:         in.Formula,
	}
	if in.Active != nil {
		def.Active = *in.Active
	}
	if expr != nil {
		def.Dependencies = expr.Refs()
	}
	if err := s.definitions.Create(ctx, def); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("definition_id", def.ID.String()).
		Str("field", def.FieldName).
		Str("data_type", string(def.DataType)).
		Msg("field definition created")
	return def, nil
}

// UpdateDefinition rewrites a definition in place. The field name is
// immutable once created: stored formulas reference it by name.
func (s *AdminService) UpdateDefinition(ctx context.Context, id uuid.UUID, in DefinitionInput) (*Definition, error) {
	def, err := s.definitions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.FieldName != "" && in.FieldName != def.FieldName {
		return nil, validationErr("field_name", "field name cannot be changed")
	}
	in.FieldName = def.FieldName
	if in.DataType == "" {
		in.DataType = def.DataType
	}
	if in.DataType != def.DataType {
		return nil, validationErr("data_type", "data type cannot be changed")
	}

	expr, err := s.prepare(ctx, &in)
	if err != nil {
		return nil, err
	}

	formulaChanged := !strPtrEq(def.Formula, in.Formula)
	def.CategoryID = in.CategoryID
	def.Label = strings.TrimSpace(in.Label)
	def.Required = in.Required
	def.ValidationRules = in.ValidationRules
	def.Formula = in.Formula
	if in.Active != nil {
		def.Active = *in.Active
	}
	if expr != nil {
		def.Dependencies = expr.Refs()
	} else {
		def.Dependencies = nil
	}
	if err := s.definitions.Update(ctx, def); err != nil {
		return nil, err
	}

	if formulaChanged {
		// Stale per-entity snapshots remain until the next read or an
		// administrative recalculation; cached results must not.
		s.cache.Clear()
		s.log.Info().Str("field", def.FieldName).Msg("formula changed, calculation cache cleared")
	}
	return def, nil
}

func (s *AdminService) GetDefinition(ctx context.Context, id uuid.UUID) (*Definition, error) {
	return s.definitions.GetByID(ctx, id)
}

func (s *AdminService) ListDefinitions(ctx context.Context, limit, offset int) ([]*Definition, int, error) {
	return s.definitions.List(ctx, limit, offset)
}

func strPtrEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
