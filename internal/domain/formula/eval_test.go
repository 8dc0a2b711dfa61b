package formula

import (
	"math"
	"testing"
	"time"
)

func mustParse(t *testing.T, src string) *Expr {
	t.Helper()
	expr, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	return expr
}

func evalNumber(t *testing.T, src string, vars map[string]Value) float64 {
	t.Helper()
	v, ok := Evaluate(mustParse(t, src), vars)
	if !ok {
		t.Fatalf("Evaluate(%q) unresolvable", src)
	}
	if v.Kind != KindNumber {
		t.Fatalf("Evaluate(%q) kind = %v, want number", src, v.Kind)
	}
	return v.Num
}

func TestEvaluateArithmetic(t *testing.T) {
	vars := map[string]Value{"a": Number(6), "b": Number(4)}
	cases := []struct {
		src  string
		want float64
	}{
		{"{a} + {b}", 10},
		{"{a} - {b}", 2},
		{"{a} * {b}", 24},
		{"{a} / {b}", 1.5},
		{"{a} ^ 2", 36},
		{"-{a}", -6},
		{"({a} + {b}) * 2", 20},
		{"2 ^ 3 ^ 2", 512}, // right-associative
		{"1 + 2 * 3", 7},
	}
	for _, c := range cases {
		if got := evalNumber(t, c.src, vars); got != c.want {
			t.Errorf("Evaluate(%q) = %v, want %v", c.src, got, c.want)
		}
	}
}

func TestEvaluateBMIScenario(t *testing.T) {
	vars := map[string]Value{"height": Number(170), "weight": Number(70)}
	got := evalNumber(t, "{weight} / (({height}/100) ^ 2)", vars)
	if math.Abs(got-24.22) > 0.01 {
		t.Errorf("bmi = %v, want ~24.22", got)
	}
}

func TestEvaluateMeasureReference(t *testing.T) {
	vars := map[string]Value{"measure:body_weight": Number(75)}
	if got := evalNumber(t, "{measure:body_weight} * 2", vars); got != 150 {
		t.Errorf("measure formula = %v, want 150", got)
	}
}

func TestEvaluateCoercion(t *testing.T) {
	vars := map[string]Value{
		"text_num": String("42.5"),
		"yes":      Bool(true),
		"no":       Bool(false),
	}
	if got := evalNumber(t, "{text_num} * 2", vars); got != 85 {
		t.Errorf("text coercion = %v, want 85", got)
	}
	if got := evalNumber(t, "{yes} + {no}", vars); got != 1 {
		t.Errorf("bool coercion = %v, want 1", got)
	}
}

func TestEvaluateStringConcat(t *testing.T) {
	vars := map[string]Value{"last": String("Doe"), "first": String("Jane")}
	v, ok := Evaluate(mustParse(t, "{last} + ', ' + {first}"), vars)
	if !ok || v.Kind != KindString || v.Str != "Doe, Jane" {
		t.Errorf("concat = %+v ok=%v, want \"Doe, Jane\"", v, ok)
	}
}

func TestEvaluateUnresolvable(t *testing.T) {
	cases := []struct {
		name string
		src  string
		vars map[string]Value
	}{
		{"missing variable", "{weight} * 2", map[string]Value{}},
		{"null variable", "{weight} * 2", map[string]Value{"weight": Null}},
		{"non-numeric text in arithmetic", "{note} * 2", map[string]Value{"note": String("stable")}},
		{"division by zero", "1 / {zero}", map[string]Value{"zero": Number(0)}},
		{"partial resolution", "{a} + {b}", map[string]Value{"a": Number(1)}},
	}
	for _, c := range cases {
		v, ok := Evaluate(mustParse(t, c.src), c.vars)
		if ok {
			t.Errorf("%s: Evaluate(%q) = %+v, want unresolvable", c.name, c.src, v)
		}
		if !v.IsNull() {
			t.Errorf("%s: unresolvable result must be null, got %+v", c.name, v)
		}
	}
}

func TestEvaluateComparisons(t *testing.T) {
	vars := map[string]Value{"systolic": Number(150), "status": String("active")}
	cases := []struct {
		src  string
		want bool
	}{
		{"{systolic} >= 140", true},
		{"{systolic} < 140", false},
		{"{systolic} == 150", true},
		{"{systolic} != 150", false},
		{"{status} == 'active'", true},
		{"{status} != 'done'", true},
	}
	for _, c := range cases {
		v, ok := Evaluate(mustParse(t, c.src), vars)
		if !ok || v.Kind != KindBool {
			t.Fatalf("Evaluate(%q) = %+v ok=%v, want bool", c.src, v, ok)
		}
		if v.Bool != c.want {
			t.Errorf("Evaluate(%q) = %v, want %v", c.src, v.Bool, c.want)
		}
	}
}

func TestEvaluateVolatileAtClock(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	v, ok := EvaluateAt(mustParse(t, "today()"), nil, at)
	if !ok || v.Str != "2024-03-15" {
		t.Errorf("today() = %+v ok=%v, want 2024-03-15", v, ok)
	}
	v, ok = EvaluateAt(mustParse(t, "year() - {birth_year}"), map[string]Value{"birth_year": Number(1980)}, at)
	if !ok || v.Num != 44 {
		t.Errorf("age formula = %+v ok=%v, want 44", v, ok)
	}
}

func TestValueAsNumber(t *testing.T) {
	cases := []struct {
		v    Value
		want float64
		ok   bool
	}{
		{Number(3.5), 3.5, true},
		{Bool(true), 1, true},
		{Bool(false), 0, true},
		{String("42.5"), 42.5, true},
		{String(" 7 "), 7, true},
		{String("abc"), 0, false},
		{Null, 0, false},
	}
	for _, c := range cases {
		got, ok := c.v.AsNumber()
		if got != c.want || ok != c.ok {
			t.Errorf("AsNumber(%+v) = (%v, %v), want (%v, %v)", c.v, got, ok, c.want, c.ok)
		}
	}
}
