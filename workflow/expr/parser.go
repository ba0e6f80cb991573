package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Parse compiles src into an AST.
//
// Grammar (lowest precedence first):
//
//	or         = and { "||" and }
//	and        = comparison { "&&" comparison }
//	comparison = unary [ ( "==" | "!=" | ">" | "<" | ">=" | "<=" ) unary ]
//	unary      = "!" unary | primary
//	primary    = number | string | true | false | null | field | "(" or ")"
func Parse(src string) (Expr, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty expression")
	}
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, fmt.Errorf("unexpected token %q at position %d", p.tokens[p.pos].value, p.tokens[p.pos].offset)
	}
	return e, nil
}

// MustParse is like Parse but panics on error.
func MustParse(src string) Expr {
	e, err := Parse(src)
	if err != nil {
		panic(fmt.Sprintf("expr: %v", err))
	}
	return e
}

type tokenKind int

const (
	tkNumber tokenKind = iota
	tkString
	tkIdent
	tkOp
	tkLParen
	tkRParen
)

type token struct {
	kind   tokenKind
	value  string
	offset int
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	runes := []rune(src)
	i := 0

	for i < len(runes) {
		ch := runes[i]

		switch {
		case unicode.IsSpace(ch):
			i++
			continue
		case ch == '(':
			tokens = append(tokens, token{tkLParen, "(", i})
			i++
			continue
		case ch == ')':
			tokens = append(tokens, token{tkRParen, ")", i})
			i++
			continue
		case ch == '"' || ch == '\'':
			s, n, err := readString(runes, i, ch)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tkString, s, i})
			i = n
			continue
		}

		if i+1 < len(runes) {
			two := string(runes[i : i+2])
			switch two {
			case "==", "!=", ">=", "<=", "&&", "||":
				tokens = append(tokens, token{tkOp, two, i})
				i += 2
				continue
			}
		}

		if ch == '>' || ch == '<' || ch == '!' {
			tokens = append(tokens, token{tkOp, string(ch), i})
			i++
			continue
		}

		// '-' only starts a number at the beginning or after an operator / '('.
		if isDigit(ch) || (ch == '-' && i+1 < len(runes) && isDigit(runes[i+1]) && negativeAllowed(tokens)) {
			start := i
			num, n := readNumber(runes, i)
			tokens = append(tokens, token{tkNumber, num, start})
			i = n
			continue
		}

		if isIdentStart(ch) {
			start := i
			ident, n := readIdent(runes, i)
			tokens = append(tokens, token{tkIdent, ident, start})
			i = n
			continue
		}

		return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), i)
	}
	return tokens, nil
}

func readString(runes []rune, start int, quote rune) (string, int, error) {
	var sb strings.Builder
	i := start + 1
	for i < len(runes) {
		if runes[i] == '\\' && i+1 < len(runes) {
			sb.WriteRune(runes[i+1])
			i += 2
			continue
		}
		if runes[i] == quote {
			return sb.String(), i + 1, nil
		}
		sb.WriteRune(runes[i])
		i++
	}
	return "", 0, fmt.Errorf("unterminated string starting at position %d", start)
}

func readNumber(runes []rune, start int) (string, int) {
	i := start
	if runes[i] == '-' {
		i++
	}
	for i < len(runes) && isDigit(runes[i]) {
		i++
	}
	if i < len(runes) && runes[i] == '.' {
		i++
		for i < len(runes) && isDigit(runes[i]) {
			i++
		}
	}
	return string(runes[start:i]), i
}

func readIdent(runes []rune, start int) (string, int) {
	i := start
	for i < len(runes) && isIdentPart(runes[i]) {
		i++
	}
	return string(runes[start:i]), i
}

func isDigit(ch rune) bool      { return ch >= '0' && ch <= '9' }
func isIdentStart(ch rune) bool { return unicode.IsLetter(ch) || ch == '_' }
func isIdentPart(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '.'
}

func negativeAllowed(preceding []token) bool {
	if len(preceding) == 0 {
		return true
	}
	last := preceding[len(preceding)-1]
	return last.kind == tkOp || last.kind == tkLParen
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peekOp(ops ...string) (string, bool) {
	if p.pos >= len(p.tokens) || p.tokens[p.pos].kind != tkOp {
		return "", false
	}
	v := p.tokens[p.pos].value
	for _, op := range ops {
		if v == op {
			return v, true
		}
	}
	return "", false
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.peekOp("||"); !ok {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: OpOr, Left: left, Right: right}
	}
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.peekOp("&&"); !ok {
			return left, nil
		}
		p.pos++
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: OpAnd, Left: left, Right: right}
	}
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	op, ok := p.peekOp("==", "!=", ">", "<", ">=", "<=")
	if !ok {
		return left, nil
	}
	p.pos++
	right, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return Binary{Op: Op(op), Left: left, Right: right}, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if _, ok := p.peekOp("!"); ok {
		p.pos++
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Negation{X: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	if p.pos >= len(p.tokens) {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	t := p.tokens[p.pos]
	p.pos++

	switch t.kind {
	case tkNumber:
		f, err := strconv.ParseFloat(t.value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", t.value, err)
		}
		return Literal{Value: f}, nil
	case tkString:
		return Literal{Value: t.value}, nil
	case tkIdent:
		switch t.value {
		case "true":
			return Literal{Value: true}, nil
		case "false":
			return Literal{Value: false}, nil
		case "null", "nil":
			return Literal{Value: nil}, nil
		}
		if strings.HasSuffix(t.value, ".") || strings.Contains(t.value, "..") {
			return nil, fmt.Errorf("invalid field reference %q", t.value)
		}
		return FieldRef{Path: t.value}, nil
	case tkLParen:
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.pos >= len(p.tokens) || p.tokens[p.pos].kind != tkRParen {
			return nil, fmt.Errorf("expected closing parenthesis")
		}
		p.pos++
		return e, nil
	default:
		return nil, fmt.Errorf("unexpected token %q at position %d", t.value, t.offset)
	}
}
