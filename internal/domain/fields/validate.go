package fields

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// validateRaw checks a caller-supplied raw value against the definition's
// data type and validation rules and produces the typed columns for storage.
// A nil result with a nil error means "clear the value" (allowed only for
// non-required fields).
func validateRaw(def *Definition, raw interface{}) (*Value, error) {
	if isEmpty(raw) {
		if def.Required {
			return nil, validationErr(def.FieldName, "value is required")
		}
		return nil, nil
	}

	v := &Value{DefinitionID: def.ID}
	r := def.parsedRules()

	switch def.DataType {
	case DataTypeText:
		s, err := asString(def, raw)
		if err != nil {
			return nil, err
		}
		if r.MinLength != nil && len(s) < *r.MinLength {
			return nil, validationErr(def.FieldName, "shorter than minimum length %d", *r.MinLength)
		}
		if r.MaxLength != nil && len(s) > *r.MaxLength {
			return nil, validationErr(def.FieldName, "longer than maximum length %d", *r.MaxLength)
		}
		v.TextValue = &s

	case DataTypeNumber:
		f, err := asNumber(def, raw)
		if err != nil {
			return nil, err
		}
		if r.Min != nil && f < *r.Min {
			return nil, validationErr(def.FieldName, "below minimum %v", *r.Min)
		}
		if r.Max != nil && f > *r.Max {
			return nil, validationErr(def.FieldName, "above maximum %v", *r.Max)
		}
		v.NumberValue = &f

	case DataTypeBoolean:
		b, err := asBool(def, raw)
		if err != nil {
			return nil, err
		}
		v.BoolValue = &b

	case DataTypeDate:
		s, err := asString(def, raw)
		if err != nil {
			return nil, err
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return nil, validationErr(def.FieldName, "invalid date %q, want YYYY-MM-DD", s)
		}
		v.TextValue = &s

	case DataTypeSelect:
		switch val := raw.(type) {
		case string:
			if len(r.Options) > 0 && !contains(r.Options, val) {
				return nil, validationErr(def.FieldName, "value %q is not an allowed option", val)
			}
			v.TextValue = &val
		case []interface{}:
			// Multi-select stores the selection as JSON.
			for _, item := range val {
				s, ok := item.(string)
				if !ok {
					return nil, validationErr(def.FieldName, "selection entries must be strings")
				}
				if len(r.Options) > 0 && !contains(r.Options, s) {
					return nil, validationErr(def.FieldName, "value %q is not an allowed option", s)
				}
			}
			enc, err := json.Marshal(val)
			if err != nil {
				return nil, validationErr(def.FieldName, "unencodable selection")
			}
			v.JSONValue = enc
		default:
			return nil, validationErr(def.FieldName, "expected a selection, got %T", raw)
		}

	case DataTypeCalculated:
		// Guarded by the services before validation; kept as a backstop.
		return nil, validationErr(def.FieldName, "calculated fields are not directly writable")

	default:
		return nil, validationErr(def.FieldName, "unknown data type %q", def.DataType)
	}

	return v, nil
}

func isEmpty(raw interface{}) bool {
	if raw == nil {
		return true
	}
	if s, ok := raw.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func asString(def *Definition, raw interface{}) (string, error) {
	switch val := raw.(type) {
	case string:
		return val, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	default:
		return "", validationErr(def.FieldName, "expected text, got %T", raw)
	}
}

func asNumber(def *Definition, raw interface{}) (float64, error) {
	switch val := raw.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, validationErr(def.FieldName, "%q is not a number", val)
		}
		return f, nil
	default:
		return 0, validationErr(def.FieldName, "expected a number, got %T", raw)
	}
}

func asBool(def *Definition, raw interface{}) (bool, error) {
	switch val := raw.(type) {
	case bool:
		return val, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return false, validationErr(def.FieldName, "%q is not a boolean", val)
	case float64:
		return val != 0, nil
	default:
		return false, validationErr(def.FieldName, "expected a boolean, got %T", raw)
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
