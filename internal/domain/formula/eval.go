package formula

import (
	"math"
	"time"
)

// Evaluate runs a parsed formula against a resolved variable map. The second
// return is false when the result is unresolvable: a referenced variable is
// absent or null, a non-numeric text value reaches an arithmetic operator, or
// a division by zero occurs. Unresolvable is a normal outcome, not an error.
func Evaluate(expr *Expr, vars map[string]Value) (Value, bool) {
	return EvaluateAt(expr, vars, time.Now())
}

// EvaluateAt is Evaluate with an explicit clock for volatile builtins.
func EvaluateAt(expr *Expr, vars map[string]Value, at time.Time) (Value, bool) {
	if expr == nil || expr.root == nil {
		return Null, false
	}
	return eval(expr.root, vars, at)
}

func eval(n *node, vars map[string]Value, at time.Time) (Value, bool) {
	switch n.typ {
	case nodeLiteral:
		return n.val, true

	case nodeRef:
		v, ok := vars[n.key]
		if !ok || v.IsNull() {
			return Null, false
		}
		return v, true

	case nodeCall:
		b, ok := builtins[n.fn]
		if !ok {
			return Null, false
		}
		return b.eval(at), true

	case nodeUnary:
		v, ok := eval(n.left, vars, at)
		if !ok {
			return Null, false
		}
		f, ok := v.AsNumber()
		if !ok {
			return Null, false
		}
		return Number(-f), true

	case nodeBinary:
		return evalBinary(n, vars, at)

	default:
		return Null, false
	}
}

func evalBinary(n *node, vars map[string]Value, at time.Time) (Value, bool) {
	left, ok := eval(n.left, vars, at)
	if !ok {
		return Null, false
	}
	right, ok := eval(n.right, vars, at)
	if !ok {
		return Null, false
	}

	switch n.op {
	case "+":
		// Two genuine strings concatenate; everything else is numeric addition.
		if left.Kind == KindString && right.Kind == KindString {
			if _, lnum := left.AsNumber(); !lnum {
				return String(left.Str + right.Str), true
			}
			if _, rnum := right.AsNumber(); !rnum {
				return String(left.Str + right.Str), true
			}
		}
		return arith(left, right, func(a, b float64) (float64, bool) { return a + b, true })
	case "-":
		return arith(left, right, func(a, b float64) (float64, bool) { return a - b, true })
	case "*":
		return arith(left, right, func(a, b float64) (float64, bool) { return a * b, true })
	case "/":
		return arith(left, right, func(a, b float64) (float64, bool) {
			if b == 0 {
				return 0, false
			}
			return a / b, true
		})
	case "^":
		return arith(left, right, func(a, b float64) (float64, bool) { return math.Pow(a, b), true })
	case "==", "!=", "<", "<=", ">", ">=":
		return compare(n.op, left, right)
	default:
		return Null, false
	}
}

func arith(left, right Value, op func(a, b float64) (float64, bool)) (Value, bool) {
	a, ok := left.AsNumber()
	if !ok {
		return Null, false
	}
	b, ok := right.AsNumber()
	if !ok {
		return Null, false
	}
	f, ok := op(a, b)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return Null, false
	}
	return Number(f), true
}

func compare(op string, left, right Value) (Value, bool) {
	// Numeric comparison when both sides coerce; otherwise fall back to text.
	a, aok := left.AsNumber()
	b, bok := right.AsNumber()
	if aok && bok {
		return Bool(cmpResult(op, cmpFloat(a, b))), true
	}

	if op == "==" || op == "!=" {
		eq := left.String() == right.String()
		if op == "!=" {
			eq = !eq
		}
		return Bool(eq), true
	}

	if left.Kind == KindString && right.Kind == KindString {
		return Bool(cmpResult(op, cmpString(left.Str, right.Str))), true
	}
	return Null, false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpResult(op string, c int) bool {
	switch op {
	case "==":
		return c == 0
	case "!=":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	default:
		return false
	}
}
