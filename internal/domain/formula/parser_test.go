package formula

import (
	"reflect"
	"testing"
)

func TestParseValidFormulas(t *testing.T) {
	valid := []string{
		"1 + 2",
		"{weight} / (({height}/100) ^ 2)",
		"{measure:body_weight} * 2",
		"-{score} + 10",
		"({a} + {b}) * ({c} - {d})",
		"{systolic} >= 140",
		"today()",
		"{last_name} + ', ' + {first_name}",
		"{bool_flag} == 1",
		"3.5 * .5",
	}
	for _, src := range valid {
		if _, err := Parse(src); err != nil {
			t.Errorf("Parse(%q) returned error: %v", src, err)
		}
	}
}

func TestParseSyntaxErrors(t *testing.T) {
	invalid := []string{
		"",
		"   ",
		"{weight",
		"{}",
		"{wei ght}",
		"1 +",
		"* 2",
		"(1 + 2",
		"unknownfn()",
		"today(1)",
		"today",
		"1 2",
		"{a} @ {b}",
		"'unclosed",
	}
	for _, src := range invalid {
		if _, err := Parse(src); err == nil {
			t.Errorf("Parse(%q) succeeded, expected syntax error", src)
		}
	}
}

func TestRefsFirstAppearanceOrder(t *testing.T) {
	expr, err := Parse("{weight} / (({height}/100) ^ 2) + {weight} + {measure:body_weight}")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := expr.Refs()
	want := []string{"weight", "height", "measure:body_weight"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Refs() = %v, want %v", got, want)
	}
}

func TestRefsNoReferences(t *testing.T) {
	expr, err := Parse("1 + 2 * 3")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if refs := expr.Refs(); len(refs) != 0 {
		t.Errorf("Refs() = %v, want empty", refs)
	}
}

func TestVolatile(t *testing.T) {
	cases := []struct {
		src      string
		volatile bool
	}{
		{"{weight} * 2", false},
		{"today()", true},
		{"{dob} + now()", true},
		{"1 + 2", false},
	}
	for _, c := range cases {
		expr, err := Parse(c.src)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.src, err)
		}
		if expr.Volatile() != c.volatile {
			t.Errorf("Volatile(%q) = %v, want %v", c.src, expr.Volatile(), c.volatile)
		}
	}
}
