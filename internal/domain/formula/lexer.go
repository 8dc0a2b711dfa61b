package formula

import (
	"fmt"
	"strings"
)

type tokenType int

const (
	tokNumber tokenType = iota
	tokString
	tokRef   // {field_name} or {measure:name}, braces stripped
	tokIdent // bare word, only valid as a function name
	tokOp    // + - * / ^ == != < <= > >=
	tokLParen
	tokRParen
)

type token struct {
	typ  tokenType
	text string
	pos  int
}

func isIdentChar(ch byte) bool {
	return ch == '_' || ch == ':' ||
		(ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

// tokenize splits a formula string into lexical tokens.
func tokenize(src string) ([]token, error) {
	var tokens []token
	i := 0
	n := len(src)

	for i < n {
		ch := src[i]

		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			i++
			continue
		}

		if ch == '(' {
			tokens = append(tokens, token{typ: tokLParen, text: "(", pos: i})
			i++
			continue
		}
		if ch == ')' {
			tokens = append(tokens, token{typ: tokRParen, text: ")", pos: i})
			i++
			continue
		}

		// Braced reference: {field_name} or {measure:name}.
		if ch == '{' {
			j := i + 1
			for j < n && src[j] != '}' {
				j++
			}
			if j >= n {
				return nil, fmt.Errorf("unclosed reference starting at position %d", i)
			}
			ref := strings.TrimSpace(src[i+1 : j])
			if ref == "" {
				return nil, fmt.Errorf("empty reference at position %d", i)
			}
			for k := 0; k < len(ref); k++ {
				if !isIdentChar(ref[k]) {
					return nil, fmt.Errorf("invalid character %q in reference %q", ref[k], ref)
				}
			}
			tokens = append(tokens, token{typ: tokRef, text: ref, pos: i})
			i = j + 1
			continue
		}

		// Quoted string literal, single or double quotes.
		if ch == '"' || ch == '\'' {
			quote := ch
			j := i + 1
			for j < n && src[j] != quote {
				j++
			}
			if j >= n {
				return nil, fmt.Errorf("unclosed string starting at position %d", i)
			}
			tokens = append(tokens, token{typ: tokString, text: src[i+1 : j], pos: i})
			i = j + 1
			continue
		}

		// Number literal.
		if isDigit(ch) || (ch == '.' && i+1 < n && isDigit(src[i+1])) {
			j := i
			dot := false
			for j < n && (isDigit(src[j]) || (src[j] == '.' && !dot)) {
				if src[j] == '.' {
					dot = true
				}
				j++
			}
			tokens = append(tokens, token{typ: tokNumber, text: src[i:j], pos: i})
			i = j
			continue
		}

		// Two-character operators first.
		if i+1 < n {
			two := src[i : i+2]
			switch two {
			case "==", "!=", "<=", ">=":
				tokens = append(tokens, token{typ: tokOp, text: two, pos: i})
				i += 2
				continue
			}
		}

		switch ch {
		case '+', '-', '*', '/', '^', '<', '>':
			tokens = append(tokens, token{typ: tokOp, text: string(ch), pos: i})
			i++
			continue
		case '=':
			// Tolerate single "=" as equality, seen in hand-entered formulas.
			tokens = append(tokens, token{typ: tokOp, text: "==", pos: i})
			i++
			continue
		}

		// Bare identifier: must be a function name.
		if isIdentChar(ch) && !isDigit(ch) {
			j := i
			for j < n && isIdentChar(src[j]) {
				j++
			}
			tokens = append(tokens, token{typ: tokIdent, text: src[i:j], pos: i})
			i = j
			continue
		}

		return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
	}

	return tokens, nil
}
