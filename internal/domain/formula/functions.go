package formula

import "time"

// builtin is a zero-argument formula function. Volatile builtins produce
// ambient-state-dependent output and force recomputation on every read.
type builtin struct {
	volatile bool
	eval     func(at time.Time) Value
}

var builtins = map[string]builtin{
	"today": {
		volatile: true,
		eval:     func(at time.Time) Value { return String(at.Format("2006-01-02")) },
	},
	"now": {
		volatile: true,
		eval:     func(at time.Time) Value { return Number(float64(at.Unix())) },
	},
	"year": {
		volatile: true,
		eval:     func(at time.Time) Value { return Number(float64(at.Year())) },
	},
}

// IsBuiltin reports whether name is a known formula function.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}
