package formula

import (
	"reflect"
	"testing"
)

func indexOf(order []string, name string) int {
	for i, n := range order {
		if n == name {
			return i
		}
	}
	return -1
}

func TestResolveOrderLinearChain(t *testing.T) {
	nodes := []Node{
		{Name: "bmi_class", Deps: []string{"bmi"}},
		{Name: "bmi", Deps: []string{"weight", "height"}},
	}
	order, cyclic := ResolveOrder(nodes)
	if len(cyclic) != 0 {
		t.Fatalf("cyclic = %v, want none", cyclic)
	}
	if indexOf(order, "bmi") > indexOf(order, "bmi_class") {
		t.Errorf("order = %v, want bmi before bmi_class", order)
	}
}

func TestResolveOrderExternalDepsIgnored(t *testing.T) {
	// Dependencies on plain fields and measures are leaves, not graph edges.
	nodes := []Node{
		{Name: "a", Deps: []string{"weight", "measure:body_weight"}},
		{Name: "b", Deps: []string{"a", "height"}},
	}
	order, cyclic := ResolveOrder(nodes)
	if len(cyclic) != 0 {
		t.Fatalf("cyclic = %v, want none", cyclic)
	}
	if !reflect.DeepEqual(order, []string{"a", "b"}) {
		t.Errorf("order = %v, want [a b]", order)
	}
}

func TestResolveOrderCycleTolerance(t *testing.T) {
	nodes := []Node{
		{Name: "a", Deps: []string{"b"}},
		{Name: "b", Deps: []string{"a"}},
		{Name: "c", Deps: []string{"weight"}},
	}
	order, cyclic := ResolveOrder(nodes)
	if !reflect.DeepEqual(order, []string{"c"}) {
		t.Errorf("order = %v, want [c]", order)
	}
	if !reflect.DeepEqual(cyclic, []string{"a", "b"}) {
		t.Errorf("cyclic = %v, want [a b]", cyclic)
	}
}

func TestResolveOrderSelfReference(t *testing.T) {
	// A self-edge is ignored rather than counted as a cycle; the definition
	// simply evaluates against whatever value its own reference resolves to.
	nodes := []Node{{Name: "a", Deps: []string{"a"}}}
	order, cyclic := ResolveOrder(nodes)
	if !reflect.DeepEqual(order, []string{"a"}) || len(cyclic) != 0 {
		t.Errorf("order = %v cyclic = %v, want [a] and none", order, cyclic)
	}
}

func TestResolveOrderDeterministic(t *testing.T) {
	nodes := []Node{
		{Name: "delta", Deps: nil},
		{Name: "alpha", Deps: nil},
		{Name: "charlie", Deps: []string{"alpha"}},
		{Name: "bravo", Deps: []string{"alpha"}},
	}
	first, _ := ResolveOrder(nodes)
	for i := 0; i < 10; i++ {
		again, _ := ResolveOrder(nodes)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("order not deterministic: %v vs %v", first, again)
		}
	}
	if !reflect.DeepEqual(first, []string{"alpha", "bravo", "charlie", "delta"}) {
		t.Errorf("order = %v, want name-sorted tie-break [alpha bravo charlie delta]", first)
	}
}

func TestResolveOrderEmpty(t *testing.T) {
	order, cyclic := ResolveOrder(nil)
	if len(order) != 0 || len(cyclic) != 0 {
		t.Errorf("ResolveOrder(nil) = %v %v, want empty", order, cyclic)
	}
}
