package expr

// Field starts a predicate on a dot-notation path.
func Field(path string) FieldRef { return FieldRef{Path: path} }

// Value wraps a constant. Integers are normalized to float64 like parsed numbers.
func Value(v any) Literal {
	if f, ok := toFloat64(v); ok {
		if _, isString := v.(string); !isString {
			return Literal{Value: f}
		}
	}
	return Literal{Value: v}
}

func (f FieldRef) Eq(v any) Expr { return Binary{Op: OpEq, Left: f, Right: Value(v)} }
func (f FieldRef) Ne(v any) Expr { return Binary{Op: OpNe, Left: f, Right: Value(v)} }
func (f FieldRef) Gt(v any) Expr { return Binary{Op: OpGt, Left: f, Right: Value(v)} }
func (f FieldRef) Lt(v any) Expr { return Binary{Op: OpLt, Left: f, Right: Value(v)} }
func (f FieldRef) Ge(v any) Expr { return Binary{Op: OpGe, Left: f, Right: Value(v)} }
func (f FieldRef) Le(v any) Expr { return Binary{Op: OpLe, Left: f, Right: Value(v)} }

// Not negates e.
func Not(e Expr) Expr { return Negation{X: e} }

// And joins predicates with &&. And() with no arguments is true.
func And(exprs ...Expr) Expr { return fold(OpAnd, true, exprs) }

// Or joins predicates with ||. Or() with no arguments is false.
func Or(exprs ...Expr) Expr { return fold(OpOr, false, exprs) }

func fold(op Op, empty bool, exprs []Expr) Expr {
	if len(exprs) == 0 {
		return Literal{Value: empty}
	}
	out := exprs[0]
	for _, e := range exprs[1:] {
		out = Binary{Op: op, Left: out, Right: e}
	}
	return out
}
