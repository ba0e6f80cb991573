// Package expr implements the condition language used by conditional workflow nodes.
//
// Expressions are parsed once into a typed AST (Literal, FieldRef, Negation, Binary)
// and evaluated by an interpreter against a map of named values. Only comparison
// (==, !=, >, <, >=, <=) and logical (&&, ||, !) operators over literals and
// dot-notation field references exist, so evaluating an expression can never run
// arbitrary code. The same AST can be assembled directly with the predicate builder:
//
//	cond := expr.And(
//		expr.Field("email.priority").Ge(3),
//		expr.Not(expr.Field("email.spam").Eq(true)),
//	)
//	ok, err := expr.Evaluate(cond, vars)
package expr
