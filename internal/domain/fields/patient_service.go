package fields

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cliniccore/cliniccore/internal/domain/measure"
	"github.com/cliniccore/cliniccore/internal/platform/auth"
)

// FieldWithValue is a definition annotated with its current value for one
// entity. Value is nil when unset; FromVisitID marks values surfaced from the
// patient's latest visit rather than patient scope.
type FieldWithValue struct {
	Definition  *Definition `json:"definition"`
	Label       string      `json:"label"`
	ValueID     *uuid.UUID  `json:"value_id,omitempty"`
	Value       interface{} `json:"value"`
	FromVisitID *uuid.UUID  `json:"from_visit_id,omitempty"`
}

// CategoryFields is one category with its fields and current values.
type CategoryFields struct {
	Category *Category         `json:"category"`
	Name     string            `json:"name"`
	Fields   []*FieldWithValue `json:"fields"`
}

// FieldWrite is one entry of a bulk update.
type FieldWrite struct {
	DefinitionID uuid.UUID   `json:"definition_id"`
	Value        interface{} `json:"value"`
}

// FieldStatus reports the outcome of one bulk-update entry.
type FieldStatus struct {
	DefinitionID uuid.UUID `json:"definition_id"`
	FieldName    string    `json:"field_name"`
	Status       string    `json:"status"` // created, updated, cleared
}

// RecalcSummary reports an administrative recalculation pass. Errors counts
// entities whose formula was unresolvable; it never fails the operation.
type RecalcSummary struct {
	Recalculated int `json:"recalculated"`
	Errors       int `json:"errors"`
}

// PatientService orchestrates patient-scoped field operations: access
// delegation, validation, value persistence, and dependent recalculation.
type PatientService struct {
	categories  CategoryRepository
	definitions DefinitionRepository
	values      ValueStore
	visitValues ValueStore
	visits      VisitDirectory
	access      auth.AccessChecker
	translator  Translator
	tx          TxRunner
	measures    measure.Repository
	cache       *CalcCache
	calc        *calculator
	log         zerolog.Logger
}

func NewPatientService(
	categories CategoryRepository,
	definitions DefinitionRepository,
	values ValueStore,
	visitValues ValueStore,
	visits VisitDirectory,
	access auth.AccessChecker,
	translator Translator,
	tx TxRunner,
	measures measure.Repository,
	cache *CalcCache,
	log zerolog.Logger,
) *PatientService {
	return &PatientService{
		categories:  categories,
		definitions: definitions,
		values:      values,
		visitValues: visitValues,
		visits:      visits,
		access:      access,
		translator:  translator,
		tx:          tx,
		measures:    measures,
		cache:       cache,
		calc:        newCalculator(measures, cache, log),
		log:         log,
	}
}

// ListMeasureNames returns the measure names recorded for a patient, for use
// when authoring {measure:name} references.
func (s *PatientService) ListMeasureNames(ctx context.Context, actor auth.Actor, patientID uuid.UUID) ([]string, error) {
	if err := s.access.CheckPatientAccess(ctx, actor, patientID); err != nil {
		return nil, err
	}
	return s.measures.ListNames(ctx, patientID)
}

func (s *PatientService) scope(ctx context.Context, patientID uuid.UUID) (entityScope, error) {
	cats, err := s.allActiveCategories(ctx)
	if err != nil {
		return entityScope{}, err
	}
	return entityScope{patientID: patientID, patient: s.values, categories: cats}, nil
}

func (s *PatientService) allActiveCategories(ctx context.Context) (map[uuid.UUID]*Category, error) {
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

// GetFields returns every active patient-applicable category with its fields
// and current values. Calculated fields missing a stored value, and volatile
// ones, are recomputed and persisted before returning. Visit-exclusive
// categories are surfaced read-only with the latest visit's values.
func (s *PatientService) GetFields(ctx context.Context, actor auth.Actor, patientID uuid.UUID, lang string) ([]*CategoryFields, error) {
	if err := s.access.CheckPatientAccess(ctx, actor, patientID); err != nil {
		return nil, err
	}

	scope, err := s.scope(ctx, patientID)
	if err != nil {
		return nil, err
	}
	allDefs, err := s.patientScopeDefinitions(ctx, scope)
	if err != nil {
		return nil, err
	}

	// Best-effort auto-calculation: missing and volatile calculated values
	// are recomputed and persisted; a persistence failure is logged and must
	// not block the read.
	_, results, err := s.calc.resolve(ctx, scope, allDefs, nil)
	if err != nil {
		return nil, err
	}
	if err := s.calc.persist(ctx, scope, results, actor.ID); err != nil {
		s.log.Warn().Err(err).Str("patient_id", patientID.String()).Msg("auto-calculation persist failed")
	}

	patientCats, err := s.categories.ListActive(ctx, EntityPatient)
	if err != nil {
		return nil, err
	}

	var out []*CategoryFields
	for _, cat := range patientCats {
		cf, err := s.categoryFields(ctx, cat, s.values, patientID, nil, lang)
		if err != nil {
			return nil, err
		}
		out = append(out, cf)
	}

	// Visit-exclusive categories: surface the latest visit's values.
	latest, err := s.visits.LatestByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		visitCats, err := s.categories.ListActive(ctx, EntityVisit)
		if err != nil {
			return nil, err
		}
		for _, cat := range visitCats {
			if cat.AppliesTo(EntityPatient) {
				continue // already included above
			}
			cf, err := s.categoryFields(ctx, cat, s.visitValues, latest.ID, &latest.ID, lang)
			if err != nil {
				return nil, err
			}
			out = append(out, cf)
		}
	}

	return out, nil
}

func (s *PatientService) categoryFields(ctx context.Context, cat *Category, store ValueStore, entityID uuid.UUID, fromVisit *uuid.UUID, lang string) (*CategoryFields, error) {
	defs, err := s.definitions.ListActiveByCategory(ctx, cat.ID)
	if err != nil {
		return nil, err
	}

	cf := &CategoryFields{Category: cat, Name: s.categoryName(ctx, lang, cat)}
	for _, def := range defs {
		row, err := store.Find(ctx, entityID, def.ID)
		if err != nil {
			return nil, err
		}
		fwv := &FieldWithValue{
			Definition:  def,
			Label:       s.fieldLabel(ctx, lang, def),
			Value:       row.Display(),
			FromVisitID: fromVisit,
		}
		if row != nil {
			id := row.ID
			fwv.ValueID = &id
		}
		cf.Fields = append(cf.Fields, fwv)
	}
	return cf, nil
}

func (s *PatientService) categoryName(ctx context.Context, lang string, cat *Category) string {
	if lang != "" {
		if name, ok := s.translator.CategoryName(ctx, lang, cat.ID); ok {
			return name
		}
	}
	return cat.Name
}

func (s *PatientService) fieldLabel(ctx context.Context, lang string, def *Definition) string {
	if lang != "" {
		if label, ok := s.translator.FieldLabel(ctx, lang, def.ID); ok {
			return label
		}
	}
	return def.Label
}

// loadWritableDefinition fetches a definition for a write: it must exist, be
// active, not be calculated, and belong to a category applicable to the
// given entity type.
func (s *PatientService) loadWritableDefinition(ctx context.Context, definitionID uuid.UUID, et EntityType) (*Definition, *Category, error) {
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
	if !cat.Active || !cat.AppliesTo(et) {
		return nil, nil, fmt.Errorf("definition %s is out of scope for %s: %w", definitionID, et, ErrNotFound)
	}
	return def, cat, nil
}

// SetField validates and upserts one field value, then recalculates and
// persists every calculated field that transitively depends on it.
func (s *PatientService) SetField(ctx context.Context, actor auth.Actor, patientID, definitionID uuid.UUID, raw interface{}) (*Value, error) {
	if err := s.access.CheckPatientAccess(ctx, actor, patientID); err != nil {
		return nil, err
	}
	def, _, err := s.loadWritableDefinition(ctx, definitionID, EntityPatient)
	if err != nil {
		return nil, err
	}

	v, err := validateRaw(def, raw)
	if err != nil {
		return nil, err
	}

	if v == nil {
		if err := s.values.Clear(ctx, patientID, def.ID); err != nil {
			return nil, err
		}
	} else {
		v.EntityID = patientID
		v.UpdatedBy = actor.ID
		if _, err := s.values.Upsert(ctx, v); err != nil {
			return nil, err
		}
	}
	s.cache.InvalidateEntity(patientID)

	if err := s.recalculateDependents(ctx, patientID, actor.ID, def.FieldName); err != nil {
		return nil, err
	}
	return v, nil
}

// patientScopeDefinitions returns the active definitions resolvable at
// patient scope: anything in a visit-exclusive category has no single value
// per patient and is excluded.
func (s *PatientService) patientScopeDefinitions(ctx context.Context, scope entityScope) ([]*Definition, error) {
	all, err := s.definitions.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0:0]
	for _, def := range all {
		if cat := scope.categories[def.CategoryID]; cat != nil && cat.AppliesTo(EntityPatient) {
			out = append(out, def)
		}
	}
	return out, nil
}

// recalculateDependents recomputes and persists the transitive dependents of
// the changed fields. Unresolvable dependents are cleared, never an error.
func (s *PatientService) recalculateDependents(ctx context.Context, patientID, actorID uuid.UUID, changed ...string) error {
	scope, err := s.scope(ctx, patientID)
	if err != nil {
		return err
	}
	allDefs, err := s.patientScopeDefinitions(ctx, scope)
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

// BulkUpdate applies several field writes atomically: every entry is
// validated up front and all writes plus the consolidated recalculation run
// in one transaction, so a single failure rolls the whole batch back.
func (s *PatientService) BulkUpdate(ctx context.Context, actor auth.Actor, patientID uuid.UUID, writes []FieldWrite) ([]FieldStatus, error) {
	if err := s.access.CheckPatientAccess(ctx, actor, patientID); err != nil {
		return nil, err
	}

	type pending struct {
		def *Definition
		v   *Value // nil clears
	}
	prepared := make([]pending, 0, len(writes))
	var changed []string
	for _, w := range writes {
		def, _, err := s.loadWritableDefinition(ctx, w.DefinitionID, EntityPatient)
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
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		statuses = statuses[:0]
		for _, p := range prepared {
			st := FieldStatus{DefinitionID: p.def.ID, FieldName: p.def.FieldName}
			if p.v == nil {
				if err := s.values.Clear(ctx, patientID, p.def.ID); err != nil {
					return err
				}
				st.Status = "cleared"
			} else {
				p.v.EntityID = patientID
				p.v.UpdatedBy = actor.ID
				created, err := s.values.Upsert(ctx, p.v)
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
		return s.recalculateDependents(ctx, patientID, actor.ID, changed...)
	})
	// The in-transaction recalculation caches results derived from writes that
	// roll back on failure, so the entity's entries go on every outcome.
	s.cache.InvalidateEntity(patientID)
	if err != nil {
		return nil, err
	}
	return statuses, nil
}

// DeleteValue removes one value row belonging to the patient and
// recalculates its dependents.
func (s *PatientService) DeleteValue(ctx context.Context, actor auth.Actor, patientID, valueID uuid.UUID) error {
	if err := s.access.CheckPatientAccess(ctx, actor, patientID); err != nil {
		return err
	}
	row, err := s.values.FindByID(ctx, valueID)
	if err != nil {
		return err
	}
	if row == nil || row.EntityID != patientID {
		return fmt.Errorf("value %s: %w", valueID, ErrNotFound)
	}
	def, err := s.definitions.GetByID(ctx, row.DefinitionID)
	if err != nil {
		return err
	}
	if err := s.values.Delete(ctx, valueID); err != nil {
		return err
	}
	s.cache.InvalidateEntity(patientID)
	return s.recalculateDependents(ctx, patientID, actor.ID, def.FieldName)
}

// RecalculateDefinition is the administrative repair operation: it recomputes
// every stored value of one calculated definition across all entities.
// Entities whose formula is unresolvable are counted as errors without
// failing the pass.
func (s *PatientService) RecalculateDefinition(ctx context.Context, actor auth.Actor, definitionID uuid.UUID) (*RecalcSummary, error) {
	def, err := s.definitions.GetByID(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	if !def.Calculated() {
		return nil, fmt.Errorf("field %q is not calculated: %w", def.FieldName, ErrInvalidState)
	}
	cat, err := s.categories.GetByID(ctx, def.CategoryID)
	if err != nil {
		return nil, err
	}

	allDefs, err := s.definitions.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	cats, err := s.allActiveCategories(ctx)
	if err != nil {
		return nil, err
	}
	force := map[string]bool{def.FieldName: true}

	store := s.values
	if ResolveStorageScope(cat) == ScopeVisit {
		store = s.visitValues
	} else {
		// Patient-scope passes must not drag visit-exclusive definitions in.
		filtered := allDefs[:0:0]
		for _, d := range allDefs {
			if c := cats[d.CategoryID]; c != nil && c.AppliesTo(EntityPatient) {
				filtered = append(filtered, d)
			}
		}
		allDefs = filtered
	}
	rows, err := store.ListByDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}

	summary := &RecalcSummary{}
	for _, row := range rows {
		var scope entityScope
		if ResolveStorageScope(cat) == ScopeVisit {
			visit, err := s.visits.GetVisit(ctx, row.EntityID)
			if err != nil {
				s.log.Warn().Err(err).Str("visit_id", row.EntityID.String()).Msg("recalculation skipped orphan visit value")
				summary.Errors++
				continue
			}
			scope = entityScope{
				patientID: visit.PatientID, visitID: visit.ID,
				patient: s.values, visit: s.visitValues, categories: cats,
			}
		} else {
			scope = entityScope{patientID: row.EntityID, patient: s.values, categories: cats}
		}

		_, results, err := s.calc.resolve(ctx, scope, allDefs, force)
		if err != nil {
			return nil, err
		}
		res := results[def.FieldName]
		delete(results, def.FieldName)
		if err := s.calc.persist(ctx, scope, results, actor.ID); err != nil {
			return nil, err
		}

		// The target's row is kept even when unresolvable, with no typed
		// column populated: repeated repair passes must enumerate the same
		// entity set and report the same counts.
		defStore, defEntity := scope.target(def)
		v := &Value{EntityID: defEntity, DefinitionID: def.ID, UpdatedBy: actor.ID}
		if res != nil {
			v.SetFormulaValue(res.value)
		}
		if _, err := defStore.Upsert(ctx, v); err != nil {
			return nil, err
		}

		s.cache.InvalidateEntity(scope.entityID())
		if res != nil && res.resolved {
			summary.Recalculated++
		} else {
			summary.Errors++
		}
	}

	s.log.Info().
		Str("field", def.FieldName).
		Int("recalculated", summary.Recalculated).
		Int("errors", summary.Errors).
		Msg("administrative recalculation finished")
	return summary, nil
}
