package fields

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cliniccore/cliniccore/internal/domain/formula"
	"github.com/cliniccore/cliniccore/internal/domain/measure"
)

// entityScope identifies the entity being resolved and routes every
// definition's reads and writes to the correct store. The patient service
// leaves visitStore nil; the visit service fills both so shared-category
// fields transparently land at patient scope.
type entityScope struct {
	patientID  uuid.UUID
	visitID    uuid.UUID
	patient    ValueStore
	visit      ValueStore
	categories map[uuid.UUID]*Category
}

// target returns the store and entity id holding the definition's value row.
func (s entityScope) target(def *Definition) (ValueStore, uuid.UUID) {
	if s.visit == nil {
		return s.patient, s.patientID
	}
	cat := s.categories[def.CategoryID]
	if cat == nil || ResolveStorageScope(cat) == ScopePatient {
		return s.patient, s.patientID
	}
	return s.visit, s.visitID
}

// entityID returns the id cache entries for this scope are keyed by.
func (s entityScope) entityID() uuid.UUID {
	if s.visit != nil {
		return s.visitID
	}
	return s.patientID
}

// calcResult is the outcome of resolving one calculated definition.
type calcResult struct {
	def        *Definition
	value      formula.Value
	resolved   bool
	recomputed bool // freshly evaluated this pass: must be persisted (or cleared)
}

// calculator is the recalculation engine shared by the patient and visit
// services: it builds variable maps, orders calculated fields, evaluates
// them, and persists the outcomes.
type calculator struct {
	measures measure.Repository
	cache    *CalcCache
	log      zerolog.Logger
	now      func() time.Time
}

func newCalculator(measures measure.Repository, cache *CalcCache, log zerolog.Logger) *calculator {
	return &calculator{measures: measures, cache: cache, log: log, now: time.Now}
}

// resolve builds the variable map for an entity and computes its calculated
// fields. force lists calculated field names that must be recomputed even if
// a stored snapshot exists (the write-path dependent set); when force is nil,
// only missing-value and volatile fields are recomputed (the read path).
//
// Unresolvable formulas are a normal outcome: the affected results carry a
// null value and resolved=false, and the pass always completes.
func (c *calculator) resolve(ctx context.Context, scope entityScope, defs []*Definition, force map[string]bool) (map[string]formula.Value, map[string]*calcResult, error) {
	vars := make(map[string]formula.Value)
	results := make(map[string]*calcResult)
	at := c.now()

	byName := make(map[string]*Definition, len(defs))
	exprs := make(map[string]*formula.Expr)
	var calculated []*Definition

	for _, def := range defs {
		byName[def.FieldName] = def
		if !def.Calculated() {
			continue
		}
		calculated = append(calculated, def)
		if def.Formula == nil {
			continue
		}
		expr, err := formula.Parse(*def.Formula)
		if err != nil {
			// Definition validation rejects malformed formulas; a legacy row
			// that slipped through is treated as permanently unresolvable.
			c.log.Warn().Str("field", def.FieldName).Err(err).Msg("stored formula does not parse")
			continue
		}
		exprs[def.FieldName] = expr
	}

	// Plain field values.
	for _, def := range defs {
		if def.Calculated() {
			continue
		}
		store, entityID := scope.target(def)
		v, err := store.Find(ctx, entityID, def.ID)
		if err != nil {
			return nil, nil, err
		}
		if fv := v.FormulaValue(); !fv.IsNull() {
			vars[def.FieldName] = fv
		}
	}

	// Measure references: latest record per referenced name.
	for _, expr := range exprs {
		for _, ref := range expr.Refs() {
			if len(ref) <= len(formula.MeasurePrefix) || ref[:len(formula.MeasurePrefix)] != formula.MeasurePrefix {
				continue
			}
			if _, done := vars[ref]; done {
				continue
			}
			name := ref[len(formula.MeasurePrefix):]
			rec, err := c.measures.LatestByName(ctx, scope.patientID, name)
			if err != nil {
				return nil, nil, err
			}
			if rec == nil {
				continue
			}
			if fv := measureValue(rec); !fv.IsNull() {
				vars[ref] = fv
			}
		}
	}

	// Evaluation order over the calculated subset; cyclic members are
	// excluded from the order and left unresolved.
	nodes := make([]formula.Node, 0, len(calculated))
	for _, def := range calculated {
		deps := def.Dependencies
		if expr, ok := exprs[def.FieldName]; ok {
			deps = expr.Refs()
		}
		nodes = append(nodes, formula.Node{Name: def.FieldName, Deps: deps})
	}
	order, cyclic := formula.ResolveOrder(nodes)

	for _, name := range order {
		def := byName[name]
		expr := exprs[name]
		volatile := expr != nil && expr.Volatile()

		store, entityID := scope.target(def)
		stored, err := store.Find(ctx, entityID, def.ID)
		if err != nil {
			return nil, nil, err
		}

		// A stored row with no typed column populated is a kept placeholder
		// for an unresolvable result; treat it like a missing row.
		recompute := force[name] || stored == nil || stored.FormulaValue().IsNull() || volatile
		if !recompute {
			fv := stored.FormulaValue()
			if cached, ok := c.cache.Get(entityID, def.ID); ok {
				fv = cached
			}
			if !fv.IsNull() {
				vars[name] = fv
			}
			results[name] = &calcResult{def: def, value: fv, resolved: !fv.IsNull()}
			continue
		}

		if expr == nil {
			c.cache.Invalidate(entityID, def.ID)
			results[name] = &calcResult{def: def, value: formula.Null, recomputed: true}
			continue
		}

		value, ok := formula.EvaluateAt(expr, vars, at)
		if ok {
			vars[name] = value
			if !volatile {
				c.cache.Put(entityID, def.ID, value)
			}
		} else {
			c.cache.Invalidate(entityID, def.ID)
		}
		results[name] = &calcResult{def: def, value: value, resolved: ok, recomputed: true}
	}

	for _, name := range cyclic {
		def := byName[name]
		_, entityID := scope.target(def)
		c.cache.Invalidate(entityID, def.ID)
		results[name] = &calcResult{def: def, value: formula.Null, recomputed: true}
		c.log.Debug().Str("field", name).Msg("calculated field excluded by dependency cycle")
	}

	return vars, results, nil
}

// persist writes every recomputed result back through the routed store:
// resolved values upsert their row, unresolvable ones clear it.
func (c *calculator) persist(ctx context.Context, scope entityScope, results map[string]*calcResult, actorID uuid.UUID) error {
	for _, res := range results {
		if !res.recomputed {
			continue
		}
		store, entityID := scope.target(res.def)
		if !res.resolved {
			if err := store.Clear(ctx, entityID, res.def.ID); err != nil {
				return err
			}
			continue
		}
		v := &Value{EntityID: entityID, DefinitionID: res.def.ID, UpdatedBy: actorID}
		v.SetFormulaValue(res.value)
		if _, err := store.Upsert(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// dependentsOf returns the set of calculated field names that transitively
// depend on any of the changed field names.
func dependentsOf(defs []*Definition, changed ...string) map[string]bool {
	dependents := make(map[string][]string)
	for _, def := range defs {
		if !def.Calculated() {
			continue
		}
		deps := def.Dependencies
		if def.Formula != nil {
			if expr, err := formula.Parse(*def.Formula); err == nil {
				deps = expr.Refs()
			}
		}
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], def.FieldName)
		}
	}

	affected := make(map[string]bool)
	queue := append([]string(nil), changed...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, dep := range dependents[name] {
			if !affected[dep] {
				affected[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return affected
}

// measureValue coerces a measure record's typed value for formula use.
func measureValue(rec *measure.Record) formula.Value {
	switch {
	case rec.NumberValue != nil:
		return formula.Number(*rec.NumberValue)
	case rec.BoolValue != nil:
		return formula.Bool(*rec.BoolValue)
	case rec.TextValue != nil:
		return formula.String(*rec.TextValue)
	default:
		return formula.Null
	}
}
