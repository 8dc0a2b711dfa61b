// Package fields implements the dynamic custom-field engine: administrator
// defined field categories and definitions, per-patient and per-visit typed
// values, and the calculated-field machinery that derives values from
// formulas over other fields and measure series.
package fields

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/cliniccore/cliniccore/internal/domain/formula"
)

// EntityType identifies which clinical entity a category's fields attach to.
type EntityType string

const (
	EntityPatient EntityType = "patient"
	EntityVisit   EntityType = "visit"
)

// Category groups field definitions. A category applicable to both patient
// and visit is "shared": its values always live at patient scope, even when
// edited through a visit.
type Category struct {
	ID           uuid.UUID    `db:"id" json:"id"`
	Name         string       `db:"name" json:"name"`
	EntityTypes  []EntityType `db:"entity_types" json:"entity_types"`
	DisplayOrder int          `db:"display_order" json:"display_order"`
	Active       bool         `db:"active" json:"active"`
	Color        *string      `db:"color" json:"color,omitempty"`
	Layout       *string      `db:"layout" json:"layout,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

// AppliesTo reports whether the category's fields attach to the given entity type.
func (c *Category) AppliesTo(et EntityType) bool {
	for _, t := range c.EntityTypes {
		if t == et {
			return true
		}
	}
	return false
}

// Shared reports whether the category applies to both patients and visits.
func (c *Category) Shared() bool {
	return c.AppliesTo(EntityPatient) && c.AppliesTo(EntityVisit)
}

// StorageScope is where a field's values are persisted.
type StorageScope string

const (
	ScopePatient StorageScope = "patient"
	ScopeVisit   StorageScope = "visit"
)

// ResolveStorageScope is the single routing decision for field writes: any
// category applicable to patients (including shared categories) stores at
// patient scope; only visit-exclusive categories store at visit scope.
func ResolveStorageScope(cat *Category) StorageScope {
	if cat.AppliesTo(EntityPatient) {
		return ScopePatient
	}
	return ScopeVisit
}

// DataType is a field definition's value type.
type DataType string

const (
	DataTypeText       DataType = "text"
	DataTypeNumber     DataType = "number"
	DataTypeBoolean    DataType = "boolean"
	DataTypeDate       DataType = "date"
	DataTypeSelect     DataType = "select"
	DataTypeCalculated DataType = "calculated"
)

var validDataTypes = map[DataType]bool{
	DataTypeText: true, DataTypeNumber: true, DataTypeBoolean: true,
	DataTypeDate: true, DataTypeSelect: true, DataTypeCalculated: true,
}

// Definition is one named field inside a category. FieldName is the unique
// key formulas reference. A definition is either plain (no formula) or
// calculated (formula plus declared dependencies); calculated fields are
// never directly writable.
type Definition struct {
	ID           uuid.UUID `db:"id" json:"id"`
	CategoryID   uuid.UUID `db:"category_id" json:"category_id"`
	FieldName    string    `db:"field_name" json:"field_name"`
	Label        string    `db:"label" json:"label"`
	DataType     DataType  `db:"data_type" json:"data_type"`
	Active       bool      `db:"active" json:"active"`
	Required     bool      `db:"required" json:"required"`
	// ValidationRules is stored verbatim, including historical rows that are
	// not valid JSON; it is parsed tolerantly at validation time.
	ValidationRules string    `db:"validation_rules" json:"validation_rules,omitempty"`
	Formula         *string   `db:"formula" json:"formula,omitempty"`
	Dependencies    []string  `db:"dependencies" json:"dependencies,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Calculated reports whether the definition derives its value from a formula.
func (d *Definition) Calculated() bool { return d.DataType == DataTypeCalculated }

// rules is the recognised shape of ValidationRules. Unknown keys and
// malformed JSON are tolerated: the raw text is preserved and ignored.
type rules struct {
	Min       *float64 `json:"min"`
	Max       *float64 `json:"max"`
	MinLength *int     `json:"min_length"`
	MaxLength *int     `json:"max_length"`
	Options   []string `json:"options"`
}

func (d *Definition) parsedRules() rules {
	var r rules
	if d.ValidationRules == "" {
		return r
	}
	if err := json.Unmarshal([]byte(d.ValidationRules), &r); err != nil {
		return rules{}
	}
	return r
}

// Value is one stored field value: at most one row per (entity, definition)
// pair, with exactly one typed column populated. EntityID is a patient id or
// a visit id depending on which store holds the row.
type Value struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EntityID     uuid.UUID       `db:"entity_id" json:"entity_id"`
	DefinitionID uuid.UUID       `db:"definition_id" json:"definition_id"`
	TextValue    *string         `db:"text_value" json:"text_value,omitempty"`
	NumberValue  *float64        `db:"number_value" json:"number_value,omitempty"`
	BoolValue    *bool           `db:"bool_value" json:"bool_value,omitempty"`
	JSONValue    json.RawMessage `db:"json_value" json:"json_value,omitempty"`
	UpdatedBy    uuid.UUID       `db:"updated_by" json:"updated_by"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// FormulaValue converts the stored typed value into the evaluator's value
// domain. JSON variants do not participate in formulas and map to null.
func (v *Value) FormulaValue() formula.Value {
	switch {
	case v == nil:
		return formula.Null
	case v.NumberValue != nil:
		return formula.Number(*v.NumberValue)
	case v.BoolValue != nil:
		return formula.Bool(*v.BoolValue)
	case v.TextValue != nil:
		return formula.String(*v.TextValue)
	default:
		return formula.Null
	}
}

// Display returns the value in its natural JSON representation.
func (v *Value) Display() interface{} {
	switch {
	case v == nil:
		return nil
	case v.NumberValue != nil:
		return *v.NumberValue
	case v.BoolValue != nil:
		return *v.BoolValue
	case v.TextValue != nil:
		return *v.TextValue
	case v.JSONValue != nil:
		var out interface{}
		if err := json.Unmarshal(v.JSONValue, &out); err != nil {
			return string(v.JSONValue)
		}
		return out
	default:
		return nil
	}
}

// SetFormulaValue populates the matching typed column from an evaluator result,
// clearing the others.
func (v *Value) SetFormulaValue(fv formula.Value) {
	v.TextValue, v.NumberValue, v.BoolValue, v.JSONValue = nil, nil, nil, nil
	switch fv.Kind {
	case formula.KindNumber:
		n := fv.Num
		v.NumberValue = &n
	case formula.KindBool:
		b := fv.Bool
		v.BoolValue = &b
	case formula.KindString:
		s := fv.Str
		v.TextValue = &s
	}
}

// Visit is the minimal view of a visit the engine needs: its owning patient
// and its chronological position.
type Visit struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	VisitedAt time.Time `db:"visited_at" json:"visited_at"`
}
