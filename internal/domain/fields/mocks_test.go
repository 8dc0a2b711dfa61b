package fields

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cliniccore/cliniccore/internal/domain/measure"
)

type mockCategoryRepo struct {
	categories map[uuid.UUID]*Category
}

func newMockCategoryRepo() *mockCategoryRepo {
	return &mockCategoryRepo{categories: make(map[uuid.UUID]*Category)}
}

func (m *mockCategoryRepo) Create(_ context.Context, c *Category) error {
	m.categories[c.ID] = c
	return nil
}

func (m *mockCategoryRepo) Update(_ context.Context, c *Category) error {
	if _, ok := m.categories[c.ID]; !ok {
		return fmt.Errorf("category %s: %w", c.ID, ErrNotFound)
	}
	m.categories[c.ID] = c
	return nil
}

func (m *mockCategoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Category, error) {
	c, ok := m.categories[id]
	if !ok {
		return nil, fmt.Errorf("category %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (m *mockCategoryRepo) ListActive(_ context.Context, et EntityType) ([]*Category, error) {
	var out []*Category
	for _, c := range m.categories {
		if c.Active && c.AppliesTo(et) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *mockCategoryRepo) List(_ context.Context, limit, offset int) ([]*Category, int, error) {
	var out []*Category
	for _, c := range m.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

type mockDefinitionRepo struct {
	definitions map[uuid.UUID]*Definition
}

func newMockDefinitionRepo() *mockDefinitionRepo {
	return &mockDefinitionRepo{definitions: make(map[uuid.UUID]*Definition)}
}

func (m *mockDefinitionRepo) Create(_ context.Context, d *Definition) error {
	m.definitions[d.ID] = d
	return nil
}

func (m *mockDefinitionRepo) Update(_ context.Context, d *Definition) error {
	if _, ok := m.definitions[d.ID]; !ok {
		return fmt.Errorf("definition %s: %w", d.ID, ErrNotFound)
	}
	m.definitions[d.ID] = d
	return nil
}

func (m *mockDefinitionRepo) GetByID(_ context.Context, id uuid.UUID) (*Definition, error) {
	d, ok := m.definitions[id]
	if !ok {
		return nil, fmt.Errorf("definition %s: %w", id, ErrNotFound)
	}
	return d, nil
}

func (m *mockDefinitionRepo) GetByFieldName(_ context.Context, fieldName string) (*Definition, error) {
	for _, d := range m.definitions {
		if d.FieldName == fieldName {
			return d, nil
		}
	}
	return nil, fmt.Errorf("definition %q: %w", fieldName, ErrNotFound)
}

func (m *mockDefinitionRepo) ListActiveByCategory(_ context.Context, categoryID uuid.UUID) ([]*Definition, error) {
	var out []*Definition
	for _, d := range m.definitions {
		if d.Active && d.CategoryID == categoryID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldName < out[j].FieldName })
	return out, nil
}

func (m *mockDefinitionRepo) ListActive(_ context.Context) ([]*Definition, error) {
	var out []*Definition
	for _, d := range m.definitions {
		if d.Active {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldName < out[j].FieldName })
	return out, nil
}

func (m *mockDefinitionRepo) List(_ context.Context, limit, offset int) ([]*Definition, int, error) {
	var out []*Definition
	for _, d := range m.definitions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldName < out[j].FieldName })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

type valueKey struct {
	entityID     uuid.UUID
	definitionID uuid.UUID
}

// mockValueStore keeps rows by (entity, definition) and supports rollback
// snapshots for transaction tests. failAt > 0 makes the nth Upsert fail.
type mockValueStore struct {
	rows    map[valueKey]*Value
	failAt  int
	upserts int
}

func newMockValueStore() *mockValueStore {
	return &mockValueStore{rows: make(map[valueKey]*Value)}
}

func (m *mockValueStore) snapshot() map[valueKey]*Value {
	snap := make(map[valueKey]*Value, len(m.rows))
	for k, v := range m.rows {
		copied := *v
		snap[k] = &copied
	}
	return snap
}

func (m *mockValueStore) restore(snap map[valueKey]*Value) { m.rows = snap }

func (m *mockValueStore) Find(_ context.Context, entityID, definitionID uuid.UUID) (*Value, error) {
	v, ok := m.rows[valueKey{entityID, definitionID}]
	if !ok {
		return nil, nil
	}
	copied := *v
	return &copied, nil
}

func (m *mockValueStore) FindByID(_ context.Context, valueID uuid.UUID) (*Value, error) {
	for _, v := range m.rows {
		if v.ID == valueID {
			copied := *v
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockValueStore) ListByEntity(_ context.Context, entityID uuid.UUID) ([]*Value, error) {
	var out []*Value
	for k, v := range m.rows {
		if k.entityID == entityID {
			copied := *v
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockValueStore) ListByDefinition(_ context.Context, definitionID uuid.UUID) ([]*Value, error) {
	var out []*Value
	for k, v := range m.rows {
		if k.definitionID == definitionID {
			copied := *v
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID.String() < out[j].EntityID.String() })
	return out, nil
}

func (m *mockValueStore) Upsert(_ context.Context, v *Value) (bool, error) {
	m.upserts++
	if m.failAt > 0 && m.upserts >= m.failAt {
		return false, fmt.Errorf("store unavailable")
	}
	key := valueKey{v.EntityID, v.DefinitionID}
	existing, ok := m.rows[key]
	if ok {
		v.ID = existing.ID
	} else if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.UpdatedAt = time.Now()
	copied := *v
	m.rows[key] = &copied
	return !ok, nil
}

func (m *mockValueStore) Delete(_ context.Context, valueID uuid.UUID) error {
	for k, v := range m.rows {
		if v.ID == valueID {
			delete(m.rows, k)
			return nil
		}
	}
	return fmt.Errorf("value %s: %w", valueID, ErrNotFound)
}

func (m *mockValueStore) Clear(_ context.Context, entityID, definitionID uuid.UUID) error {
	delete(m.rows, valueKey{entityID, definitionID})
	return nil
}

type mockVisitDirectory struct {
	visits map[uuid.UUID]*Visit
}

func newMockVisitDirectory() *mockVisitDirectory {
	return &mockVisitDirectory{visits: make(map[uuid.UUID]*Visit)}
}

func (m *mockVisitDirectory) GetVisit(_ context.Context, visitID uuid.UUID) (*Visit, error) {
	v, ok := m.visits[visitID]
	if !ok {
		return nil, fmt.Errorf("visit %s: %w", visitID, ErrNotFound)
	}
	return v, nil
}

func (m *mockVisitDirectory) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Visit, error) {
	var out []*Visit
	for _, v := range m.visits {
		if v.PatientID == patientID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VisitedAt.Before(out[j].VisitedAt) })
	return out, nil
}

func (m *mockVisitDirectory) LatestByPatient(ctx context.Context, patientID uuid.UUID) (*Visit, error) {
	visits, _ := m.ListByPatient(ctx, patientID)
	if len(visits) == 0 {
		return nil, nil
	}
	return visits[len(visits)-1], nil
}

type mockMeasureRepo struct {
	records map[uuid.UUID][]*measure.Record
}

func newMockMeasureRepo() *mockMeasureRepo {
	return &mockMeasureRepo{records: make(map[uuid.UUID][]*measure.Record)}
}

func (m *mockMeasureRepo) add(patientID uuid.UUID, name string, value float64, measuredAt time.Time) {
	m.records[patientID] = append(m.records[patientID], &measure.Record{
		ID:          uuid.New(),
		PatientID:   patientID,
		Name:        name,
		NumberValue: &value,
		MeasuredAt:  measuredAt,
		RecordedAt:  time.Now(),
	})
}

func (m *mockMeasureRepo) LatestByName(_ context.Context, patientID uuid.UUID, name string) (*measure.Record, error) {
	var matches []*measure.Record
	for _, rec := range m.records[patientID] {
		if rec.Name == name {
			matches = append(matches, rec)
		}
	}
	return measure.Latest(matches), nil
}

func (m *mockMeasureRepo) ListNames(_ context.Context, patientID uuid.UUID) ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	for _, rec := range m.records[patientID] {
		if !seen[rec.Name] {
			seen[rec.Name] = true
			names = append(names, rec.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// mockTxRunner snapshots the given stores and restores them when fn fails,
// imitating rollback.
type mockTxRunner struct {
	stores []*mockValueStore
}

func (m *mockTxRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snaps := make([]map[valueKey]*Value, len(m.stores))
	for i, s := range m.stores {
		snaps[i] = s.snapshot()
	}
	if err := fn(ctx); err != nil {
		for i, s := range m.stores {
			s.restore(snaps[i])
		}
		return err
	}
	return nil
}

type staticTranslator struct {
	categories map[uuid.UUID]string
	fields     map[uuid.UUID]string
}

func (t staticTranslator) CategoryName(_ context.Context, _ string, id uuid.UUID) (string, bool) {
	name, ok := t.categories[id]
	return name, ok
}

func (t staticTranslator) FieldLabel(_ context.Context, _ string, id uuid.UUID) (string, bool) {
	label, ok := t.fields[id]
	return label, ok
}
