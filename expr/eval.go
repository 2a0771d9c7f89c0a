package expr

import (
	"log/slog"
	"math"
	"strings"
)

// Value is the dynamic result of evaluation: nil, bool, float64, string,
// or []any. nil is the "unknown" value; unknown paths and failed
// operations resolve to it.
type Value = any

// Context supplies state reads and the builtin hooks. Implementations
// must never be mutated by evaluation.
type Context interface {
	// Lookup resolves a path to a value. Unknown paths return nil.
	Lookup(parts []string) Value
	// Has reports whether the player holds at least one of the item.
	Has(itemID string) bool
	// NPCPresent reports whether the character is at the current location.
	NPCPresent(characterID string) bool
	// Rand draws a Bernoulli sample from the turn's deterministic stream.
	Rand(p float64) bool
}

// Eval evaluates e against ctx. It is total: unknown paths are nil,
// type mismatches are false (logged as warnings), division by zero
// poisons the enclosing comparison to false. A nil expression is true,
// matching the "no condition" convention for guards.
func Eval(e *Expr, ctx Context) Value {
	if e == nil {
		return true
	}
	return evalNode(e.Root, ctx, e.Src)
}

// EvalBool evaluates e and applies truthiness.
func EvalBool(e *Expr, ctx Context) bool {
	return Truthy(Eval(e, ctx))
}

// Truthy implements the DSL truthiness rules: false, 0, "", empty list,
// and nil are falsey; everything else is truthy.
func Truthy(v Value) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

func evalNode(n Node, ctx Context, src string) Value {
	switch t := n.(type) {
	case Literal:
		return t.Val

	case Path:
		return ctx.Lookup(resolvePathParts(t, ctx, src))

	case List:
		out := make([]any, 0, len(t.Elems))
		for _, el := range t.Elems {
			out = append(out, evalNode(el, ctx, src))
		}
		return out

	case Unary:
		x := evalNode(t.X, ctx, src)
		if t.Op == "not" {
			return !Truthy(x)
		}
		if f, ok := x.(float64); ok {
			return -f
		}
		warn(src, "negation of non-number")
		return nil

	case Binary:
		return evalBinary(t, ctx, src)

	case Call:
		return evalCall(t, ctx, src)
	}
	return nil
}

// resolvePathParts flattens dynamic [expr] segments into strings.
func resolvePathParts(p Path, ctx Context, src string) []string {
	parts := make([]string, 0, len(p.Parts))
	for _, part := range p.Parts {
		if part.Index == nil {
			parts = append(parts, part.Name)
			continue
		}
		v := evalNode(part.Index, ctx, src)
		if s, ok := v.(string); ok {
			parts = append(parts, s)
		} else {
			warn(src, "non-string path index")
			parts = append(parts, "")
		}
	}
	return parts
}

func evalBinary(b Binary, ctx Context, src string) Value {
	// Short-circuit booleans first.
	switch b.Op {
	case "and":
		l := evalNode(b.L, ctx, src)
		if !Truthy(l) {
			return false
		}
		return Truthy(evalNode(b.R, ctx, src))
	case "or":
		l := evalNode(b.L, ctx, src)
		if Truthy(l) {
			return true
		}
		return Truthy(evalNode(b.R, ctx, src))
	}

	l := evalNode(b.L, ctx, src)
	r := evalNode(b.R, ctx, src)

	switch b.Op {
	case "==":
		return equalValues(l, r)
	case "!=":
		if l == nil || r == nil || !sameType(l, r) {
			warn(src, "type mismatch in comparison")
			return false
		}
		return !equalValues(l, r)
	case "<", "<=", ">", ">=":
		return orderValues(b.Op, l, r, src)
	case "in":
		list, ok := r.([]any)
		if !ok {
			warn(src, "'in' against non-list")
			return false
		}
		for _, el := range list {
			if equalValues(l, el) {
				return true
			}
		}
		return false
	case "+", "-", "*", "/":
		return arith(b.Op, l, r, src)
	}
	return nil
}

func sameType(l, r Value) bool {
	switch l.(type) {
	case bool:
		_, ok := r.(bool)
		return ok
	case float64:
		_, ok := r.(float64)
		return ok
	case string:
		_, ok := r.(string)
		return ok
	}
	return false
}

func equalValues(l, r Value) bool {
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	if !sameType(l, r) {
		return false
	}
	return l == r
}

func orderValues(op string, l, r Value, src string) Value {
	lf, lok := l.(float64)
	rf, rok := r.(float64)
	if lok && rok {
		switch op {
		case "<":
			return lf < rf
		case "<=":
			return lf <= rf
		case ">":
			return lf > rf
		case ">=":
			return lf >= rf
		}
	}
	ls, lok := l.(string)
	rs, rok := r.(string)
	if lok && rok {
		c := strings.Compare(ls, rs)
		switch op {
		case "<":
			return c < 0
		case "<=":
			return c <= 0
		case ">":
			return c > 0
		case ">=":
			return c >= 0
		}
	}
	warn(src, "type mismatch in comparison")
	return false
}

func arith(op string, l, r Value, src string) Value {
	lf, lok := l.(float64)
	rf, rok := r.(float64)
	if !lok || !rok {
		warn(src, "arithmetic on non-numbers")
		return nil
	}
	switch op {
	case "+":
		return lf + rf
	case "-":
		return lf - rf
	case "*":
		return lf * rf
	case "/":
		if rf == 0 {
			// Poisons the enclosing comparison to false via nil.
			return nil
		}
		return lf / rf
	}
	return nil
}

func evalCall(c Call, ctx Context, src string) Value {
	args := make([]Value, len(c.Args))
	for i, a := range c.Args {
		args[i] = evalNode(a, ctx, src)
	}

	switch c.Name {
	case "has":
		s, ok := args[0].(string)
		return ok && ctx.Has(s)

	case "npc_present":
		s, ok := args[0].(string)
		return ok && ctx.NPCPresent(s)

	case "rand":
		p, ok := args[0].(float64)
		if !ok {
			warn(src, "rand with non-number")
			return false
		}
		return ctx.Rand(p)

	case "min", "max":
		best, ok := args[0].(float64)
		if !ok {
			warn(src, c.Name+" with non-number")
			return nil
		}
		for _, a := range args[1:] {
			f, ok := a.(float64)
			if !ok {
				warn(src, c.Name+" with non-number")
				return nil
			}
			if (c.Name == "min" && f < best) || (c.Name == "max" && f > best) {
				best = f
			}
		}
		return best

	case "abs":
		f, ok := args[0].(float64)
		if !ok {
			warn(src, "abs with non-number")
			return nil
		}
		return math.Abs(f)

	case "clamp":
		x, ok1 := args[0].(float64)
		lo, ok2 := args[1].(float64)
		hi, ok3 := args[2].(float64)
		if !ok1 || !ok2 || !ok3 {
			warn(src, "clamp with non-number")
			return nil
		}
		return math.Min(math.Max(x, lo), hi)

	case "get":
		path, ok := args[0].(string)
		if !ok {
			warn(src, "get with non-string path")
			return args[1]
		}
		v := ctx.Lookup(strings.Split(path, "."))
		if v == nil {
			return args[1]
		}
		return v
	}
	return nil
}

func warn(src, msg string) {
	slog.Warn("expression evaluation", "expr", src, "issue", msg)
}
