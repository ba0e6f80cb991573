package expr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Parse + Evaluate
// =============================================================================

func TestEvaluateString(t *testing.T) {
	email := map[string]any{
		"subject":  "Invoice #42",
		"priority": 4,
		"spam":     false,
		"sender":   map[string]any{"domain": "example.com"},
	}
	vars := map[string]any{"email": email, "score": 0.9, "status": "active", "count": 0}

	tests := []struct {
		name     string
		expr     string
		expected bool
	}{
		{"greater than", `score > 0.8`, true},
		{"less than false", `score < 0.8`, false},
		{"string equality", `status == "active"`, true},
		{"single quoted string", `status == 'active'`, true},
		{"not equal", `count != 0`, false},
		{"nested field", `email.sender.domain == "example.com"`, true},
		{"int against float literal", `email.priority >= 4`, true},
		{"bool field", `email.spam == false`, true},
		{"negation", `!email.spam`, true},
		{"and", `email.priority > 3 && status == "active"`, true},
		{"or short circuit", `status == "active" || missing.field == 1`, true},
		{"and short circuit", `status == "inactive" && missing.field == 1`, false},
		{"parentheses", `(score > 1 || count == 0) && !email.spam`, true},
		{"negative literal", `score > -1`, true},
		{"null comparison", `email.subject != null`, true},
		{"bare truthy field", `email.subject`, true},
		{"zero is falsy", `count`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateString(tt.expr, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEvaluate_MissingField(t *testing.T) {
	_, err := EvaluateString(`email.attachments > 0`, map[string]any{"email": map[string]any{}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFieldNotFound))

	_, err = EvaluateString(`status.code == 1`, map[string]any{"status": "ok"})
	assert.True(t, errors.Is(err, ErrFieldNotFound))
}

func TestParse_Errors(t *testing.T) {
	tests := []string{
		``,
		`score >`,
		`(score > 1`,
		`score > 1)`,
		`"unterminated`,
		`score # 1`,
		`a.`,
		`a..b == 1`,
	}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			assert.Error(t, err)
		})
	}
}

func TestParse_StringRoundTrip(t *testing.T) {
	e, err := Parse(`a == 1 && !(b < "x") || c`)
	require.NoError(t, err)
	assert.Equal(t, `(((a == 1) && !(b < "x")) || c)`, e.String())
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse(`>`) })
	assert.NotPanics(t, func() { MustParse(`a == 1`) })
}

// =============================================================================
// Predicate builder
// =============================================================================

func TestBuilder(t *testing.T) {
	vars := map[string]any{
		"email": map[string]any{"priority": 5, "label": "billing", "spam": false},
	}

	cond := And(
		Field("email.priority").Ge(3),
		Field("email.label").Eq("billing"),
		Not(Field("email.spam").Eq(true)),
	)
	ok, err := Evaluate(cond, vars)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(Or(Field("email.priority").Lt(2), Field("email.label").Ne("billing")), vars)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Evaluate(And(), vars)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(Or(), vars)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Evaluate(Field("email.missing").Gt(1), vars)
	assert.ErrorIs(t, err, ErrFieldNotFound)
}

func TestBuilderMatchesParser(t *testing.T) {
	vars := map[string]any{"n": 7, "s": "abc"}
	built := Or(Field("n").Gt(10), Field("s").Eq("abc"))
	parsed := MustParse(`n > 10 || s == "abc"`)

	a, err := Evaluate(built, vars)
	require.NoError(t, err)
	b, err := Evaluate(parsed, vars)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, parsed.String(), built.String())
}

func TestEvaluate_NilExpr(t *testing.T) {
	_, err := Evaluate(nil, nil)
	assert.Error(t, err)
}
