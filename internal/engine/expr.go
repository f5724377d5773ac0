package engine

import (
	"fmt"
	"strings"
)

// Теги плейсхолдеров в шаблонах.
const (
	exprOpen  = "${{"
	exprClose = "}}"
)

// Render рендерит шаблон: литеральный текст с вкраплениями
// ${{ <expr> }}. Каждый плейсхолдер вычисляется и подставляется
// строкой.
//
//	"go test ./${{ matrix.package }}/..."
//	"key-${{ hashFiles('go.sum') }}"
//
// Вычисление не имеет побочных эффектов и идемпотентно при
// неизменном контексте.
func Render(tmpl string, ctx *Context) (string, error) {
	if !strings.Contains(tmpl, exprOpen) {
		return tmpl, nil
	}

	var b strings.Builder
	rest := tmpl

	for {
		start := strings.Index(rest, exprOpen)
		if start < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}

		b.WriteString(rest[:start])
		rest = rest[start+len(exprOpen):]

		end := strings.Index(rest, exprClose)
		if end < 0 {
			return "", fmt.Errorf("%w: unclosed %q", ErrExprSyntax, exprOpen)
		}

		value, err := Eval(rest[:end], ctx)
		if err != nil {
			return "", err
		}
		b.WriteString(value)

		rest = rest[end+len(exprClose):]
	}
}

// RenderMap рендерит все значения строковой мапы.
func RenderMap(m map[string]string, ctx *Context) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	result := make(map[string]string, len(m))
	for key, val := range m {
		rendered, err := Render(val, ctx)
		if err != nil {
			return nil, fmt.Errorf("render %q: %w", key, err)
		}
		result[key] = rendered
	}
	return result, nil
}

// Eval вычисляет одно выражение (без обрамляющих ${{ }})
// и возвращает строковое представление результата.
func Eval(src string, ctx *Context) (string, error) {
	v, err := evalExpr(src, ctx)
	if err != nil {
		return "", err
	}
	return valueString(v), nil
}

// EvalCondition вычисляет guard-выражение шага.
//
// Пустое условие — true (шаг выполняется всегда). Обрамляющие
// ${{ }} допускаются и снимаются. Результат приводится к bool
// по правилам truthy.
func EvalCondition(cond string, ctx *Context) (bool, error) {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true, nil
	}

	// Снимаем обрамление ${{ ... }}, если условие записано целиком
	// как один плейсхолдер.
	if strings.HasPrefix(cond, exprOpen) && strings.HasSuffix(cond, exprClose) {
		inner := cond[len(exprOpen) : len(cond)-len(exprClose)]
		if !strings.Contains(inner, exprOpen) {
			cond = inner
		}
	}

	v, err := evalExpr(cond, ctx)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// evalExpr парсит и вычисляет выражение.
func evalExpr(src string, ctx *Context) (any, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}

	p := &parser{toks: toks, ctx: ctx}
	v, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	if p.peek().kind != tkEOF {
		return nil, fmt.Errorf("%w: unexpected %q", ErrExprSyntax, p.peek().val)
	}

	return v, nil
}

// valueString приводит значение к строке для подстановки в шаблон.
func valueString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// truthy — правила приведения к bool: bool как есть, строка
// истинна, если непуста и не равна "false".
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && t != "false"
	case nil:
		return false
	default:
		return true
	}
}

// --- Лексер ---

type tokKind int

const (
	tkEOF tokKind = iota
	tkIdent
	tkString // 'литерал'
	tkNumber
	tkDot
	tkComma
	tkLParen
	tkRParen
	tkEq  // ==
	tkNe  // !=
	tkAnd // &&
	tkOr  // ||
	tkNot // !
)

type token struct {
	kind tokKind
	val  string
}

// tokenize разбивает выражение на токены.
func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0

	for i < len(src) {
		c := src[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '.':
			toks = append(toks, token{tkDot, "."})
			i++

		case c == ',':
			toks = append(toks, token{tkComma, ","})
			i++

		case c == '(':
			toks = append(toks, token{tkLParen, "("})
			i++

		case c == ')':
			toks = append(toks, token{tkRParen, ")"})
			i++

		case c == '=':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{tkEq, "=="})
				i += 2
			} else {
				return nil, fmt.Errorf("%w: single '=' (use '==')", ErrExprSyntax)
			}

		case c == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{tkNe, "!="})
				i += 2
			} else {
				toks = append(toks, token{tkNot, "!"})
				i++
			}

		case c == '&':
			if i+1 < len(src) && src[i+1] == '&' {
				toks = append(toks, token{tkAnd, "&&"})
				i += 2
			} else {
				return nil, fmt.Errorf("%w: single '&'", ErrExprSyntax)
			}

		case c == '|':
			if i+1 < len(src) && src[i+1] == '|' {
				toks = append(toks, token{tkOr, "||"})
				i += 2
			} else {
				return nil, fmt.Errorf("%w: single '|'", ErrExprSyntax)
			}

		case c == '\'':
			j := i + 1
			for j < len(src) && src[j] != '\'' {
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("%w: unterminated string", ErrExprSyntax)
			}
			toks = append(toks, token{tkString, src[i+1 : j]})
			i = j + 1

		case c >= '0' && c <= '9':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			toks = append(toks, token{tkNumber, src[i:j]})
			i = j

		case isIdentStart(c):
			j := i
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			toks = append(toks, token{tkIdent, src[i:j]})
			i = j

		default:
			return nil, fmt.Errorf("%w: unexpected character %q", ErrExprSyntax, string(c))
		}
	}

	toks = append(toks, token{tkEOF, ""})
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9' || c == '-'
}

// --- Парсер ---
//
// Грамматика (по убыванию приоритета):
//
//	or       := and ("||" and)*
//	and      := equality ("&&" equality)*
//	equality := unary (("==" | "!=") unary)*
//	unary    := "!" unary | primary
//	primary  := string | number | "true" | "false"
//	          | ident "(" args ")"      — вызов функции
//	          | ident ("." ident)*      — dotted-path
//	          | "(" or ")"
type parser struct {
	toks []token
	pos  int
	ctx  *Context
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tkEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.peek().kind == tkOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}

	return left, nil
}

func (p *parser) parseAnd() (any, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}

	for p.peek().kind == tkAnd {
		p.next()
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}

	return left, nil
}

func (p *parser) parseEquality() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		op := p.peek().kind
		if op != tkEq && op != tkNe {
			return left, nil
		}
		p.next()

		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		eq := valueString(left) == valueString(right)
		if op == tkNe {
			eq = !eq
		}
		left = eq
	}
}

func (p *parser) parseUnary() (any, error) {
	if p.peek().kind == tkNot {
		p.next()
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (any, error) {
	t := p.next()

	switch t.kind {
	case tkString, tkNumber:
		return t.val, nil

	case tkLParen:
		v, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tkRParen {
			return nil, fmt.Errorf("%w: expected ')'", ErrExprSyntax)
		}
		return v, nil

	case tkIdent:
		switch t.val {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}

		// Вызов функции: ident(...)
		if p.peek().kind == tkLParen {
			return p.parseCall(t.val)
		}

		// Dotted-path: ident ('.' ident)*
		path := []string{t.val}
		for p.peek().kind == tkDot {
			p.next()
			part := p.next()
			if part.kind != tkIdent && part.kind != tkNumber {
				return nil, fmt.Errorf("%w: expected identifier after '.'", ErrExprSyntax)
			}
			path = append(path, part.val)
		}
		return p.ctx.Lookup(path)

	case tkEOF:
		return nil, fmt.Errorf("%w: unexpected end of expression", ErrExprSyntax)

	default:
		return nil, fmt.Errorf("%w: unexpected %q", ErrExprSyntax, t.val)
	}
}

// parseCall разбирает аргументы и вызывает встроенную функцию.
func (p *parser) parseCall(name string) (any, error) {
	p.next() // '('

	var args []any
	if p.peek().kind != tkRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)

			if p.peek().kind == tkComma {
				p.next()
				continue
			}
			break
		}
	}

	if p.next().kind != tkRParen {
		return nil, fmt.Errorf("%w: expected ')' in call to %s", ErrExprSyntax, name)
	}

	fn, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	return fn(p.ctx, args)
}
