package formula

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Recursive descent parser
//
// Grammar (with precedence):
//   expr       -> comparison
//   comparison -> additive (( "==" | "!=" | "<" | "<=" | ">" | ">=" ) additive)?
//   additive   -> term (("+" | "-") term)*
//   term       -> power (("*" | "/") power)*
//   power      -> unary ("^" power)?          right-associative
//   unary      -> "-" unary | primary
//   primary    -> NUMBER | STRING | REF | IDENT "(" ")" | "(" expr ")"
// ---------------------------------------------------------------------------

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() *token {
	if p.pos >= len(p.tokens) {
		return nil
	}
	return &p.tokens[p.pos]
}

func (p *parser) advance() *token {
	t := p.peek()
	if t != nil {
		p.pos++
	}
	return t
}

func (p *parser) acceptOp(ops ...string) *token {
	t := p.peek()
	if t == nil || t.typ != tokOp {
		return nil
	}
	for _, op := range ops {
		if t.text == op {
			return p.advance()
		}
	}
	return nil
}

// Parse compiles a formula string into an expression tree. Syntax errors are
// reported here, at definition-validation time, never during evaluation.
func Parse(src string) (*Expr, error) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return nil, fmt.Errorf("empty formula")
	}

	tokens, err := tokenize(trimmed)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty formula")
	}

	p := &parser{tokens: tokens}
	root, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t != nil {
		return nil, fmt.Errorf("unexpected token %q at position %d", t.text, t.pos)
	}

	return &Expr{src: src, root: root}, nil
}

func (p *parser) parseComparison() (*node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if op := p.acceptOp("==", "!=", "<", "<=", ">", ">="); op != nil {
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &node{typ: nodeBinary, op: op.text, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseAdditive() (*node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		op := p.acceptOp("+", "-")
		if op == nil {
			return left, nil
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &node{typ: nodeBinary, op: op.text, left: left, right: right}
	}
}

func (p *parser) parseTerm() (*node, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}
	for {
		op := p.acceptOp("*", "/")
		if op == nil {
			return left, nil
		}
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		left = &node{typ: nodeBinary, op: op.text, left: left, right: right}
	}
}

func (p *parser) parsePower() (*node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if op := p.acceptOp("^"); op != nil {
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		return &node{typ: nodeBinary, op: "^", left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseUnary() (*node, error) {
	if op := p.acceptOp("-"); op != nil {
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &node{typ: nodeUnary, op: "-", left: child}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (*node, error) {
	t := p.advance()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of formula")
	}

	switch t.typ {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", t.text, t.pos)
		}
		return &node{typ: nodeLiteral, val: Number(f)}, nil

	case tokString:
		return &node{typ: nodeLiteral, val: String(t.text)}, nil

	case tokRef:
		return &node{typ: nodeRef, key: t.text}, nil

	case tokIdent:
		if _, ok := builtins[t.text]; !ok {
			return nil, fmt.Errorf("unknown function %q at position %d", t.text, t.pos)
		}
		if open := p.advance(); open == nil || open.typ != tokLParen {
			return nil, fmt.Errorf("expected \"(\" after function %q", t.text)
		}
		if closing := p.advance(); closing == nil || closing.typ != tokRParen {
			return nil, fmt.Errorf("function %q takes no arguments", t.text)
		}
		return &node{typ: nodeCall, fn: t.text}, nil

	case tokLParen:
		expr, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if closing := p.advance(); closing == nil || closing.typ != tokRParen {
			return nil, fmt.Errorf("expected \")\" to close parenthesized expression")
		}
		return expr, nil

	default:
		return nil, fmt.Errorf("unexpected token %q at position %d", t.text, t.pos)
	}
}
