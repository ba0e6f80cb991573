package expr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrFieldNotFound is returned when a field reference cannot be resolved.
var ErrFieldNotFound = errors.New("field not found")

// Op is a binary operator.
type Op string

const (
	OpEq  Op = "=="
	OpNe  Op = "!="
	OpGt  Op = ">"
	OpLt  Op = "<"
	OpGe  Op = ">="
	OpLe  Op = "<="
	OpAnd Op = "&&"
	OpOr  Op = "||"
)

func (op Op) comparison() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpLt, OpGe, OpLe:
		return true
	}
	return false
}

// Expr is a node of the expression AST.
type Expr interface {
	// Eval computes the node's value against vars.
	Eval(vars map[string]any) (any, error)
	String() string
}

// Literal is a constant value: float64, string, bool or nil.
type Literal struct {
	Value any
}

func (l Literal) Eval(map[string]any) (any, error) { return l.Value, nil }

func (l Literal) String() string {
	switch v := l.Value.(type) {
	case string:
		return strconv.Quote(v)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// FieldRef references a value by dot-notation path, e.g. "email.subject".
type FieldRef struct {
	Path string
}

// Eval resolves the path. A missing segment yields ErrFieldNotFound.
func (f FieldRef) Eval(vars map[string]any) (any, error) {
	var current any = vars
	for _, part := range strings.Split(f.Path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, fmt.Errorf("%w: %s (%q is not an object)", ErrFieldNotFound, f.Path, part)
		}
		current, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFieldNotFound, f.Path)
		}
	}
	return current, nil
}

func (f FieldRef) String() string { return f.Path }

// Negation is logical not.
type Negation struct {
	X Expr
}

func (n Negation) Eval(vars map[string]any) (any, error) {
	v, err := n.X.Eval(vars)
	if err != nil {
		return nil, err
	}
	return !toBool(v), nil
}

func (n Negation) String() string { return "!" + n.X.String() }

// Binary applies a comparison or logical operator.
type Binary struct {
	Op          Op
	Left, Right Expr
}

// Eval short-circuits && and ||.
func (b Binary) Eval(vars map[string]any) (any, error) {
	left, err := b.Left.Eval(vars)
	if err != nil {
		return nil, err
	}
	switch b.Op {
	case OpAnd:
		if !toBool(left) {
			return false, nil
		}
		right, err := b.Right.Eval(vars)
		if err != nil {
			return nil, err
		}
		return toBool(right), nil
	case OpOr:
		if toBool(left) {
			return true, nil
		}
		right, err := b.Right.Eval(vars)
		if err != nil {
			return nil, err
		}
		return toBool(right), nil
	}
	if !b.Op.comparison() {
		return nil, fmt.Errorf("unsupported operator %q", b.Op)
	}
	right, err := b.Right.Eval(vars)
	if err != nil {
		return nil, err
	}
	return compare(left, b.Op, right), nil
}

func (b Binary) String() string {
	return "(" + b.Left.String() + " " + string(b.Op) + " " + b.Right.String() + ")"
}

// Evaluate runs e against vars and converts the result to a boolean.
func Evaluate(e Expr, vars map[string]any) (bool, error) {
	if e == nil {
		return false, errors.New("nil expression")
	}
	v, err := e.Eval(vars)
	if err != nil {
		return false, err
	}
	return toBool(v), nil
}

// EvaluateString parses and evaluates src in one step.
func EvaluateString(src string, vars map[string]any) (bool, error) {
	e, err := Parse(src)
	if err != nil {
		return false, err
	}
	return Evaluate(e, vars)
}

// compare treats nil as less than any non-nil value; two nils are equal.
func compare(left any, op Op, right any) bool {
	if left == nil && right == nil {
		return op == OpEq || op == OpGe || op == OpLe
	}
	if left == nil || right == nil {
		switch op {
		case OpNe:
			return true
		case OpEq:
			return false
		}
		if left == nil {
			return op == OpLt || op == OpLe
		}
		return op == OpGt || op == OpGe
	}

	if lb, ok := left.(bool); ok {
		if rb, ok := right.(bool); ok {
			switch op {
			case OpEq:
				return lb == rb
			case OpNe:
				return lb != rb
			}
			return false
		}
	}

	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		switch op {
		case OpEq:
			return lf == rf
		case OpNe:
			return lf != rf
		case OpGt:
			return lf > rf
		case OpLt:
			return lf < rf
		case OpGe:
			return lf >= rf
		case OpLe:
			return lf <= rf
		}
	}

	ls := fmt.Sprintf("%v", left)
	rs := fmt.Sprintf("%v", right)
	switch op {
	case OpEq:
		return ls == rs
	case OpNe:
		return ls != rs
	case OpGt:
		return ls > rs
	case OpLt:
		return ls < rs
	case OpGe:
		return ls >= rs
	case OpLe:
		return ls <= rs
	}
	return false
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

func toBool(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case string:
		return val != "" && val != "false" && val != "0"
	default:
		return true
	}
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}
