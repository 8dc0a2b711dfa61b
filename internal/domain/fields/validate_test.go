package fields

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func defWith(dataType DataType, required bool, rules string) *Definition {
	return &Definition{
		ID:              uuid.New(),
		FieldName:       "f",
		DataType:        dataType,
		Required:        required,
		ValidationRules: rules,
	}
}

func TestValidateRaw(t *testing.T) {
	tests := []struct {
		name    string
		def     *Definition
		raw     interface{}
		wantErr bool
		check   func(t *testing.T, v *Value)
	}{
		{
			name: "text", def: defWith(DataTypeText, false, ""), raw: "hello",
			check: func(t *testing.T, v *Value) {
				if v.TextValue == nil || *v.TextValue != "hello" {
					t.Fatalf("text = %+v", v)
				}
			},
		},
		{
			name: "text below min length",
			def:  defWith(DataTypeText, false, `{"min_length": 3}`), raw: "ab", wantErr: true,
		},
		{
			name: "text above max length",
			def:  defWith(DataTypeText, false, `{"max_length": 3}`), raw: "abcd", wantErr: true,
		},
		{
			name: "number from json float", def: defWith(DataTypeNumber, false, ""), raw: 42.5,
			check: func(t *testing.T, v *Value) {
				if v.NumberValue == nil || *v.NumberValue != 42.5 {
					t.Fatalf("number = %+v", v)
				}
			},
		},
		{
			name: "number from numeric string", def: defWith(DataTypeNumber, false, ""), raw: "42.5",
			check: func(t *testing.T, v *Value) {
				if v.NumberValue == nil || *v.NumberValue != 42.5 {
					t.Fatalf("number = %+v", v)
				}
			},
		},
		{name: "number garbage", def: defWith(DataTypeNumber, false, ""), raw: "abc", wantErr: true},
		{name: "number below min", def: defWith(DataTypeNumber, false, `{"min": 0}`), raw: -1.0, wantErr: true},
		{name: "number above max", def: defWith(DataTypeNumber, false, `{"max": 500}`), raw: 501.0, wantErr: true},
		{
			name: "boolean", def: defWith(DataTypeBoolean, false, ""), raw: true,
			check: func(t *testing.T, v *Value) {
				if v.BoolValue == nil || !*v.BoolValue {
					t.Fatalf("bool = %+v", v)
				}
			},
		},
		{
			name: "boolean from string", def: defWith(DataTypeBoolean, false, ""), raw: "yes",
			check: func(t *testing.T, v *Value) {
				if v.BoolValue == nil || !*v.BoolValue {
					t.Fatalf("bool = %+v", v)
				}
			},
		},
		{name: "date valid", def: defWith(DataTypeDate, false, ""), raw: "2024-03-15"},
		{name: "date malformed", def: defWith(DataTypeDate, false, ""), raw: "15/03/2024", wantErr: true},
		{
			name: "select allowed option",
			def:  defWith(DataTypeSelect, false, `{"options": ["a", "b"]}`), raw: "b",
		},
		{
			name: "select unknown option",
			def:  defWith(DataTypeSelect, false, `{"options": ["a", "b"]}`), raw: "c", wantErr: true,
		},
		{
			name: "multi-select stores json",
			def:  defWith(DataTypeSelect, false, `{"options": ["a", "b"]}`),
			raw:  []interface{}{"a", "b"},
			check: func(t *testing.T, v *Value) {
				if string(v.JSONValue) != `["a","b"]` {
					t.Fatalf("json = %s", v.JSONValue)
				}
			},
		},
		{
			name: "multi-select unknown option",
			def:  defWith(DataTypeSelect, false, `{"options": ["a"]}`),
			raw:  []interface{}{"a", "z"}, wantErr: true,
		},
		{name: "required empty", def: defWith(DataTypeText, true, ""), raw: "", wantErr: true},
		{name: "required nil", def: defWith(DataTypeNumber, true, ""), raw: nil, wantErr: true},
		{name: "calculated rejected", def: defWith(DataTypeCalculated, false, ""), raw: 1.0, wantErr: true},
		{
			// Historical rows sometimes carry junk in validation_rules; the
			// value must still be accepted.
			name: "malformed rules tolerated",
			def:  defWith(DataTypeNumber, false, `{not json`), raw: 42.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := validateRaw(tt.def, tt.raw)
			if tt.wantErr {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("err = %v, want ValidationError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.check != nil {
				tt.check(t, v)
			}
		})
	}
}

func TestValidateRawClear(t *testing.T) {
	v, err := validateRaw(defWith(DataTypeText, false, ""), "")
	if err != nil {
		t.Fatalf("clearing an optional field: %v", err)
	}
	if v != nil {
		t.Fatalf("v = %+v, want nil (clear)", v)
	}
}
