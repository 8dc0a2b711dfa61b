// Package formula implements the calculated-field formula language: a small
// expression grammar over field references, measure references, arithmetic and
// comparison operators, and zero-argument builtin functions.
//
// Formulas are parsed once, at definition-validation time, into an expression
// tree. Evaluation runs against a resolved variable map and never raises: a
// reference that cannot be satisfied makes the whole expression unresolvable,
// which callers treat as "no value".
package formula

import (
	"strconv"
	"strings"
)

// Kind identifies the runtime type of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindBool
)

// Value is the tagged union flowing through formula evaluation. Exactly one
// of Num/Str/Bool is meaningful, selected by Kind.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
	Bool bool
}

// Null is the absent value.
var Null = Value{}

func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }
func String(s string) Value  { return Value{Kind: KindString, Str: s} }
func Bool(b bool) Value      { return Value{Kind: KindBool, Bool: b} }

// IsNull reports whether the value is absent.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsNumber coerces the value to a number for arithmetic contexts.
// Booleans coerce to 1/0; strings coerce when they parse as a number.
func (v Value) AsNumber() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// String renders the value for display and for storage as text.
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindString:
		return v.Str
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return ""
	}
}

// MeasurePrefix marks a reference that resolves against the measure series
// collaborator instead of a stored field value.
const MeasurePrefix = "measure:"

type nodeType int

const (
	nodeLiteral nodeType = iota
	nodeRef              // field or measure reference, Key holds the variable key
	nodeBinary
	nodeUnary
	nodeCall
)

type node struct {
	typ   nodeType
	val   Value  // nodeLiteral
	key   string // nodeRef: "field_name" or "measure:name"
	op    string // nodeBinary / nodeUnary
	left  *node
	right *node
	fn    string // nodeCall
}

// Expr is a parsed formula ready for repeated evaluation.
type Expr struct {
	src  string
	root *node
}

// Source returns the original formula text.
func (e *Expr) Source() string { return e.src }

// Refs returns every variable key the formula references, in first-appearance
// order without duplicates. Measure references keep their "measure:" prefix.
func (e *Expr) Refs() []string {
	var refs []string
	seen := map[string]bool{}
	walk(e.root, func(n *node) {
		if n.typ == nodeRef && !seen[n.key] {
			seen[n.key] = true
			refs = append(refs, n.key)
		}
	})
	return refs
}

// Volatile reports whether the formula calls any builtin whose output depends
// on ambient state. Volatile formulas must be recomputed on every read.
func (e *Expr) Volatile() bool {
	volatile := false
	walk(e.root, func(n *node) {
		if n.typ == nodeCall && builtins[n.fn].volatile {
			volatile = true
		}
	})
	return volatile
}

func walk(n *node, fn func(*node)) {
	if n == nil {
		return
	}
	fn(n)
	walk(n.left, fn)
	walk(n.right, fn)
}
