package codepolicy

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokName tokenKind = iota
	tokNumber
	tokString
	tokOp
	tokNewline
)

type token struct {
	kind tokenKind
	text string
	line int
}

type syntaxError struct {
	msg  string
	line int
}

func (e *syntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.line, e.msg)
}

// tokenize splits source into tokens, stripping comments and string
// contents. Logical newlines are only emitted outside brackets so that a
// wrapped expression reads as one statement.
func tokenize(src string) ([]token, error) {
	var toks []token
	runes := []rune(src)
	line := 1
	depth := 0
	var stack []rune

	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case r == '\n':
			line++
			if depth == 0 {
				toks = append(toks, token{kind: tokNewline, line: line - 1})
			}
			i++
		case r == '\\' && i+1 < len(runes) && runes[i+1] == '\n':
			// explicit line continuation
			line++
			i += 2
		case r == '#':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case r == ' ' || r == '\t' || r == '\r':
			i++
		case r == '\'' || r == '"':
			next, nl, err := consumeString(runes, i, line)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, line: line})
			line += nl
			i = next
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			word := string(runes[start:i])
			// string prefixes like r"..." or rb'...'
			if i < len(runes) && (runes[i] == '\'' || runes[i] == '"') && isStringPrefix(word) {
				next, nl, err := consumeString(runes, i, line)
				if err != nil {
					return nil, err
				}
				toks = append(toks, token{kind: tokString, line: line})
				line += nl
				i = next
				continue
			}
			toks = append(toks, token{kind: tokName, text: word, line: line})
		case unicode.IsDigit(r):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.' || runes[i] == '_' ||
				unicode.IsLetter(runes[i])) {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: string(runes[start:i]), line: line})
		case r == '(' || r == '[' || r == '{':
			depth++
			stack = append(stack, r)
			toks = append(toks, token{kind: tokOp, text: string(r), line: line})
			i++
		case r == ')' || r == ']' || r == '}':
			if len(stack) == 0 || stack[len(stack)-1] != opener(r) {
				return nil, &syntaxError{msg: fmt.Sprintf("unbalanced %q", r), line: line}
			}
			stack = stack[:len(stack)-1]
			depth--
			toks = append(toks, token{kind: tokOp, text: string(r), line: line})
			i++
		default:
			toks = append(toks, token{kind: tokOp, text: string(r), line: line})
			i++
		}
	}
	if len(stack) != 0 {
		return nil, &syntaxError{msg: fmt.Sprintf("unclosed %q", stack[len(stack)-1]), line: line}
	}
	toks = append(toks, token{kind: tokNewline, line: line})
	return toks, nil
}

func opener(closer rune) rune {
	switch closer {
	case ')':
		return '('
	case ']':
		return '['
	default:
		return '{'
	}
}

func isStringPrefix(word string) bool {
	if len(word) > 2 {
		return false
	}
	for _, r := range strings.ToLower(word) {
		switch r {
		case 'r', 'b', 'f', 'u':
		default:
			return false
		}
	}
	return true
}

// consumeString advances past a quoted literal starting at runes[start].
// Returns the index after the closing quote and how many newlines the
// literal spanned.
func consumeString(runes []rune, start, line int) (int, int, error) {
	quote := runes[start]
	triple := start+2 < len(runes) && runes[start+1] == quote && runes[start+2] == quote
	newlines := 0

	i := start + 1
	if triple {
		i = start + 3
	}
	for i < len(runes) {
		r := runes[i]
		if r == '\\' && i+1 < len(runes) {
			if runes[i+1] == '\n' {
				newlines++
			}
			i += 2
			continue
		}
		if r == '\n' {
			if !triple {
				return 0, 0, &syntaxError{msg: "unterminated string literal", line: line + newlines}
			}
			newlines++
			i++
			continue
		}
		if r == quote {
			if !triple {
				return i + 1, newlines, nil
			}
			if i+2 < len(runes) && runes[i+1] == quote && runes[i+2] == quote {
				return i + 3, newlines, nil
			}
		}
		i++
	}
	return 0, 0, &syntaxError{msg: "unterminated string literal", line: line + newlines}
}
