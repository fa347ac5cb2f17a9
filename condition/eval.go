// Package condition evaluates terminal-rule conditions against the outcomes of the
// steps that ran in a pipeline.
//
// The language is deliberately small: string, number and boolean literals, the
// comparisons == != < <= > >=, the connectives and/or/not (also && || !), parentheses,
// and dotted references of the form step.outcome or step.detail.key[.key...].
// Nothing else is reachable from an expression.
//
// Every reference in an expression is resolved before the result is used, so a rule that
// mentions a step missing from the context is a fault even when the other side of an
// "or" would have been true. Callers treat any fault as "rule does not match".
package condition

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Result is what one step contributed to the outcome context.
type Result struct {
	Outcome string
	Detail  map[string]any
}

// Context maps a step name to its result.
type Context map[string]Result

// SyntaxError reports a malformed condition.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Msg)
}

// EvalError reports a condition that parsed but could not be evaluated against a context:
// unknown step, unknown attribute, missing detail key, or mismatched operand types.
type EvalError struct {
	Msg string
}

func (e *EvalError) Error() string { return "evaluation error: " + e.Msg }

func evalErrorf(format string, args ...any) error {
	return &EvalError{Msg: fmt.Sprintf(format, args...)}
}

// Condition is a parsed expression, reusable across contexts.
type Condition struct {
	source string
	root   node
}

// Compile parses src.
func Compile(src string) (*Condition, error) {
	root, err := parse(src)
	if err != nil {
		return nil, err
	}
	return &Condition{source: src, root: root}, nil
}

// String returns the original source.
func (c *Condition) String() string { return c.source }

// Eval evaluates the condition. The result must be a boolean; anything else is an error.
func (c *Condition) Eval(ctx Context) (bool, error) {
	v, err := eval(c.root, ctx)
	if err != nil {
		return false, err
	}
	if v.kind != kindBool {
		return false, evalErrorf("condition produced %s, want bool", v.kind)
	}
	return v.b, nil
}

// Evaluate compiles and evaluates src in one go. On any fault the result is false.
func Evaluate(src string, ctx Context) (bool, error) {
	c, err := Compile(src)
	if err != nil {
		return false, err
	}
	return c.Eval(ctx)
}

type valueKind int

const (
	kindString valueKind = iota
	kindNumber
	kindBool
	kindMap
)

func (k valueKind) String() string {
	switch k {
	case kindString:
		return "string"
	case kindNumber:
		return "number"
	case kindBool:
		return "bool"
	case kindMap:
		return "map"
	}
	return "unknown"
}

type value struct {
	kind valueKind
	s    string
	f    float64
	b    bool
}

func stringValue(s string) value  { return value{kind: kindString, s: s} }
func numberValue(f float64) value { return value{kind: kindNumber, f: f} }
func boolValue(b bool) value      { return value{kind: kindBool, b: b} }

func eval(n node, ctx Context) (value, error) {
	switch n := n.(type) {
	case *literalNode:
		return n.val, nil
	case *pathNode:
		return resolve(n, ctx)
	case *notNode:
		v, err := eval(n.operand, ctx)
		if err != nil {
			return value{}, err
		}
		if v.kind != kindBool {
			return value{}, evalErrorf("'not' applied to %s", v.kind)
		}
		return boolValue(!v.b), nil
	case *logicalNode:
		// Both sides are always evaluated so that every reference is checked.
		left, err := eval(n.left, ctx)
		if err != nil {
			return value{}, err
		}
		right, err := eval(n.right, ctx)
		if err != nil {
			return value{}, err
		}
		if left.kind != kindBool || right.kind != kindBool {
			return value{}, evalErrorf("%s applied to %s and %s", n.op, left.kind, right.kind)
		}
		if n.op == tokAnd {
			return boolValue(left.b && right.b), nil
		}
		return boolValue(left.b || right.b), nil
	case *compareNode:
		left, err := eval(n.left, ctx)
		if err != nil {
			return value{}, err
		}
		right, err := eval(n.right, ctx)
		if err != nil {
			return value{}, err
		}
		return compare(n.op, left, right)
	}
	return value{}, evalErrorf("unsupported expression node %T", n)
}

func compare(op tokenKind, left, right value) (value, error) {
	if left.kind != right.kind {
		return value{}, evalErrorf("cannot compare %s with %s", left.kind, right.kind)
	}
	switch left.kind {
	case kindMap:
		return value{}, evalErrorf("cannot compare maps")
	case kindString:
		switch op {
		case tokEq:
			return boolValue(left.s == right.s), nil
		case tokNe:
			return boolValue(left.s != right.s), nil
		}
		return value{}, evalErrorf("operator %s is not defined for strings", op)
	case kindBool:
		switch op {
		case tokEq:
			return boolValue(left.b == right.b), nil
		case tokNe:
			return boolValue(left.b != right.b), nil
		}
		return value{}, evalErrorf("operator %s is not defined for bools", op)
	}

	switch op {
	case tokEq:
		return boolValue(left.f == right.f), nil
	case tokNe:
		return boolValue(left.f != right.f), nil
	case tokLt:
		return boolValue(left.f < right.f), nil
	case tokLe:
		return boolValue(left.f <= right.f), nil
	case tokGt:
		return boolValue(left.f > right.f), nil
	case tokGe:
		return boolValue(left.f >= right.f), nil
	}
	return value{}, evalErrorf("unsupported operator %s", op)
}

// resolve walks step.outcome or step.detail[.key...]. No other attribute exists.
func resolve(p *pathNode, ctx Context) (value, error) {
	step := p.segments[0]
	result, ok := ctx[step]
	if !ok {
		return value{}, evalErrorf("step %q is not in the outcome context", step)
	}
	if len(p.segments) < 2 {
		return value{}, evalErrorf("step %q must be accessed through .outcome or .detail", step)
	}

	switch p.segments[1] {
	case "outcome":
		if len(p.segments) > 2 {
			return value{}, evalErrorf("%s.outcome has no attributes", step)
		}
		return stringValue(result.Outcome), nil
	case "detail":
		var current any = result.Detail
		for i, key := range p.segments[2:] {
			m, ok := asMap(current)
			if !ok {
				return value{}, evalErrorf("%s is not a map", joinPath(p.segments[:i+2]))
			}
			next, ok := m[key]
			if !ok {
				return value{}, evalErrorf("%s has no key %q", joinPath(p.segments[:i+2]), key)
			}
			current = next
		}
		return toValue(current, joinPath(p.segments))
	}
	return value{}, evalErrorf("step %q has no attribute %q (want outcome or detail)", step, p.segments[1])
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	}
	return nil, false
}

func toValue(v any, path string) (value, error) {
	switch x := v.(type) {
	case string:
		return stringValue(x), nil
	case bool:
		return boolValue(x), nil
	case float64:
		return numberValue(x), nil
	case float32:
		return numberValue(float64(x)), nil
	case int:
		return numberValue(float64(x)), nil
	case int32:
		return numberValue(float64(x)), nil
	case int64:
		return numberValue(float64(x)), nil
	case json.Number:
		f, err := strconv.ParseFloat(string(x), 64)
		if err != nil {
			return value{}, evalErrorf("%s holds invalid number %q", path, x)
		}
		return numberValue(f), nil
	case map[string]any, map[string]string:
		return value{kind: kindMap}, nil
	case nil:
		return value{}, evalErrorf("%s is null", path)
	}
	return value{}, evalErrorf("%s has unsupported type %T", path, v)
}

func joinPath(segments []string) string {
	out := segments[0]
	for _, s := range segments[1:] {
		out += "." + s
	}
	return out
}
