package fields

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cliniccore/cliniccore/internal/domain/measure"
	"github.com/cliniccore/cliniccore/internal/platform/auth"
)

// VisitValues is one visit's column in a field-history table.
type VisitValues struct {
	Visit  *Visit                 `json:"visit"`
	Values map[string]interface{} `json:"values"`
}

// FieldHistory is one visit-applicable category laid out across a patient's
// visits in chronological order. Shared-category fields repeat their
// patient-scoped value in every column.
type FieldHistory struct {
	Category *Category      `json:"category"`
	Name     string         `json:"name"`
	Fields   []*Definition  `json:"fields"`
	Visits   []*VisitValues `json:"visits"`
}

// VisitService orchestrates visit-scoped field operations. Writes to shared
// categories are transparently routed to the owning patient's store, so the
// same value is visible from the patient view and from every visit.
type VisitService struct {
	categories  CategoryRepository
	definitions DefinitionRepository
	values      ValueStore
	patientVals ValueStore
	visits      VisitDirectory
	access      auth.AccessChecker
	translator  Translator
	tx          TxRunner
	cache       *CalcCache
	calc        *calculator
	log         zerolog.Logger
}

func NewVisitService(
	categories CategoryRepository,
	definitions DefinitionRepository,
	values ValueStore,
	patientVals ValueStore,
	visits VisitDirectory,
	access auth.AccessChecker,
	translator Translator,
	tx TxRunner,
	measures measure.Repository,
	cache *CalcCache,
	log zerolog.Logger,
) *VisitService {
	return &VisitService{
		categories:  categories,
		definitions: definitions,
		values:      values,
		patientVals: patientVals,
		visits:      visits,
		access:      access,
		translator:  translator,
		tx:          tx,
		cache:       cache,
		calc:        newCalculator(measures, cache, log),
		log:         log,
	}
}

func (s *VisitService) allActiveCategories(ctx context.Context) (map[uuid.UUID]*Category, error) {
	out := make(map[uuid.UUID]*Category)
	for _, et := range []EntityType{EntityPatient, EntityVisit} {
		cats, err := s.categories.ListActive(ctx, et)
		if err != nil {
			return nil, err
		}
		for _, c := range cats {
			out[c.ID] = c
		}
	}
	return out, nil
}

// scope loads the visit, verifies access, and builds the resolution scope
// covering both the visit store and the owning patient's store.
func (s *VisitService) scope(ctx context.Context, actor auth.Actor, visitID uuid.UUID) (entityScope, *Visit, error) {
	if err := s.access.CheckVisitAccess(ctx, actor, visitID); err != nil {
		return entityScope{}, nil, err
	}
	visit, err := s.visits.GetVisit(ctx, visitID)
	if err != nil {
		return entityScope{}, nil, err
	}
	cats, err := s.allActiveCategories(ctx)
	if err != nil {
		return entityScope{}, nil, err
	}
	return entityScope{
		patientID:  visit.PatientID,
		visitID:    visitID,
		patient:    s.patientVals,
		visit:      s.values,
		categories: cats,
	}, visit, nil
}

// GetFields returns every active visit-applicable category with its fields
// and current values for one visit. Shared-category fields read from patient
// scope. Missing and volatile calculated values are recomputed and persisted.
func (s *VisitService) GetFields(ctx context.Context, actor auth.Actor, visitID uuid.UUID, lang string) ([]*CategoryFields, error) {
	scope, _, err := s.scope(ctx, actor, visitID)
	if err != nil {
		return nil, err
	}
	allDefs, err := s.definitions.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	_, results, err := s.calc.resolve(ctx, scope, allDefs, nil)
	if err != nil {
		return nil, err
	}
	if err := s.calc.persist(ctx, scope, results, actor.ID); err != nil {
		s.log.Warn().Err(err).Str("visit_id", visitID.String()).Msg("auto-calculation persist failed")
	}

	visitCats, err := s.categories.ListActive(ctx, EntityVisit)
	if err != nil {
		return nil, err
	}

	var out []*CategoryFields
	for _, cat := range visitCats {
		defs, err := s.definitions.ListActiveByCategory(ctx, cat.ID)
		if err != nil {
			return nil, err
		}
		cf := &CategoryFields{Category: cat, Name: s.categoryName(ctx, lang, cat)}
		for _, def := range defs {
			store, entityID := scope.target(def)
			row, err := store.Find(ctx, entityID, def.ID)
			if err != nil {
				return nil, err
			}
			fwv := &FieldWithValue{
				Definition: def,
				Label:      s.fieldLabel(ctx, lang, def),
				Value:      row.Display(),
			}
			if row != nil {
				id := row.ID
				fwv.ValueID = &id
			}
			cf.Fields = append(cf.Fields, fwv)
		}
		out = append(out, cf)
	}
	return out, nil
}

func (s *VisitService) categoryName(ctx context.Context, lang string, cat *Category) string {
	if lang != "" {
		if name, ok := s.translator.CategoryName(ctx, lang, cat.ID); ok {
			return name
		}
	}
	return cat.Name
}

func (s *VisitService) fieldLabel(ctx context.Context, lang string, def *Definition) string {
	if lang != "" {
		if label, ok := s.translator.FieldLabel(ctx, lang, def.ID); ok {
			return label
		}
	}
	return def.Label
}

func (s *VisitService) loadWritableDefinition(ctx context.Context, definitionID uuid.UUID) (*Definition, *Category, error) {
	def, err := s.definitions.GetByID(ctx, definitionID)
	if err != nil {
		return nil, nil, err
	}
	if !def.Active {
		return nil, nil, fmt.Errorf("definition %s is inactive: %w", definitionID, ErrNotFound)
	}
	if def.Calculated() {
		return nil, nil, fmt.Errorf("field %q is calculated and not directly writable: %w", def.FieldName, ErrInvalidState)
	}
	cat, err := s.categories.GetByID(ctx, def.CategoryID)
	if err != nil {
		return nil, nil, err
	}
	if !cat.Active || !cat.AppliesTo(EntityVisit) {
		return nil, nil, fmt.Errorf("definition %s is out of scope for %s: %w", definitionID, EntityVisit, ErrNotFound)
	}
	return def, cat, nil
}

// SetField validates and upserts one field value through the visit, routing
// shared-category fields to the patient store, then recalculates dependents.
func (s *VisitService) SetField(ctx context.Context, actor auth.Actor, visitID, definitionID uuid.UUID, raw interface{}) (*Value, error) {
	scope, _, err := s.scope(ctx, actor, visitID)
	if err != nil {
		return nil, err
	}
	def, _, err := s.loadWritableDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}

	v, err := validateRaw(def, raw)
	if err != nil {
		return nil, err
	}

	store, entityID := scope.target(def)
	if v == nil {
		if err := store.Clear(ctx, entityID, def.ID); err != nil {
			return nil, err
		}
	} else {
		v.EntityID = entityID
		v.UpdatedBy = actor.ID
		if _, err := store.Upsert(ctx, v); err != nil {
			return nil, err
		}
	}
	s.invalidate(scope)

	if err := s.recalculateDependents(ctx, scope, actor.ID, def.FieldName); err != nil {
		return nil, err
	}
	return v, nil
}

// invalidate drops cached results for both the visit and its patient: a
// shared-category write can change calculated fields at either scope.
func (s *VisitService) invalidate(scope entityScope) {
	s.cache.InvalidateEntity(scope.visitID)
	s.cache.InvalidateEntity(scope.patientID)
}

func (s *VisitService) recalculateDependents(ctx context.Context, scope entityScope, actorID uuid.UUID, changed ...string) error {
	allDefs, err := s.definitions.ListActive(ctx)
	if err != nil {
		return err
	}
	affected := dependentsOf(allDefs, changed...)
	if len(affected) == 0 {
		return nil
	}
	_, results, err := s.calc.resolve(ctx, scope, allDefs, affected)
	if err != nil {
		return err
	}
	return s.calc.persist(ctx, scope, results, actorID)
}

// BulkUpdate applies several field writes to one visit atomically, mirroring
// the patient-side semantics: validate everything first, then write and
// recalculate inside a single transaction.
func (s *VisitService) BulkUpdate(ctx context.Context, actor auth.Actor, visitID uuid.UUID, writes []FieldWrite) ([]FieldStatus, error) {
	scope, _, err := s.scope(ctx, actor, visitID)
	if err != nil {
		return nil, err
	}

	type pending struct {
		def *Definition
		v   *Value
	}
	prepared := make([]pending, 0, len(writes))
	var changed []string
	for _, w := range writes {
		def, _, err := s.loadWritableDefinition(ctx, w.DefinitionID)
		if err != nil {
			return nil, err
		}
		v, err := validateRaw(def, w.Value)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, pending{def: def, v: v})
		changed = append(changed, def.FieldName)
	}

	statuses := make([]FieldStatus, 0, len(prepared))
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		statuses = statuses[:0]
		for _, p := range prepared {
			st := FieldStatus{DefinitionID: p.def.ID, FieldName: p.def.FieldName}
			store, entityID := scope.target(p.def)
			if p.v == nil {
				if err := store.Clear(ctx, entityID, p.def.ID); err != nil {
					return err
				}
				st.Status = "cleared"
			} else {
				p.v.EntityID = entityID
				p.v.UpdatedBy = actor.ID
				created, err := store.Upsert(ctx, p.v)
				if err != nil {
					return err
				}
				if created {
					st.Status = "created"
				} else {
					st.Status = "updated"
				}
			}
			statuses = append(statuses, st)
		}
		return s.recalculateDependents(ctx, scope, actor.ID, changed...)
	})
	// The in-transaction recalculation caches results derived from writes that
	// roll back on failure, so both scopes' entries go on every outcome.
	s.invalidate(scope)
	if err != nil {
		return nil, err
	}
	return statuses, nil
}

// DeleteValue removes one value row reachable from the visit: either a
// visit-scoped row belonging to it, or a shared-category row of the owning
// patient. Dependents are recalculated afterwards.
func (s *VisitService) DeleteValue(ctx context.Context, actor auth.Actor, visitID, valueID uuid.UUID) error {
	scope, _, err := s.scope(ctx, actor, visitID)
	if err != nil {
		return err
	}

	row, err := s.values.FindByID(ctx, valueID)
	store := s.values
	if err != nil {
		return err
	}
	if row != nil && row.EntityID != visitID {
		row = nil
	}
	if row == nil {
		// Shared-category values live at patient scope but are editable here.
		row, err = s.patientVals.FindByID(ctx, valueID)
		if err != nil {
			return err
		}
		store = s.patientVals
		if row != nil && row.EntityID != scope.patientID {
			row = nil
		}
		if row != nil {
			def, err := s.definitions.GetByID(ctx, row.DefinitionID)
			if err != nil {
				return err
			}
			cat := scope.categories[def.CategoryID]
			if cat == nil || !cat.Shared() {
				row = nil
			}
		}
	}
	if row == nil {
		return fmt.Errorf("value %s: %w", valueID, ErrNotFound)
	}

	def, err := s.definitions.GetByID(ctx, row.DefinitionID)
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, valueID); err != nil {
		return err
	}
	s.invalidate(scope)
	return s.recalculateDependents(ctx, scope, actor.ID, def.FieldName)
}

// GetFieldHistory lays one visit-applicable category out across every visit
// of a patient, oldest first. Requesting a category with no visit
// applicability is an invalid-state error.
func (s *VisitService) GetFieldHistory(ctx context.Context, actor auth.Actor, patientID, categoryID uuid.UUID, lang string) (*FieldHistory, error) {
	if err := s.access.CheckPatientAccess(ctx, actor, patientID); err != nil {
		return nil, err
	}
	cat, err := s.categories.GetByID(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	if !cat.AppliesTo(EntityVisit) {
		return nil, fmt.Errorf("category %q does not apply to visits: %w", cat.Name, ErrInvalidState)
	}

	defs, err := s.definitions.ListActiveByCategory(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	visits, err := s.visits.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	history := &FieldHistory{Category: cat, Name: s.categoryName(ctx, lang, cat), Fields: defs}
	shared := cat.Shared()

	// Shared categories store one patient-scoped row per field; it repeats in
	// every visit column.
	sharedVals := make(map[string]interface{})
	if shared {
		for _, def := range defs {
			row, err := s.patientVals.Find(ctx, patientID, def.ID)
			if err != nil {
				return nil, err
			}
			sharedVals[def.FieldName] = row.Display()
		}
	}

	for _, visit := range visits {
		col := &VisitValues{Visit: visit, Values: make(map[string]interface{}, len(defs))}
		for _, def := range defs {
			if shared {
				col.Values[def.FieldName] = sharedVals[def.FieldName]
				continue
			}
			row, err := s.values.Find(ctx, visit.ID, def.ID)
			if err != nil {
				return nil, err
			}
			col.Values[def.FieldName] = row.Display()
		}
		history.Visits = append(history.Visits, col)
	}
	return history, nil
}
