// Package eval evaluates watch and hover expressions such as
// "list.items[i].count * 2" against a stopped device.
package eval

import (
	"fmt"
	"strings"
)

// Kind classifies a token.
type Kind int

const (
	Operand Kind = iota
	Operator
	LParen
	RParen
	LBracket
	RBracket
)

func (k Kind) String() string {
	switch k {
	case Operand:
		return "operand"
	case Operator:
		return "operator"
	case LParen:
		return "("
	case RParen:
		return ")"
	case LBracket:
		return "["
	case RBracket:
		return "]"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Token is one lexical unit of an expression.
type Token struct {
	Kind Kind
	Text string
}

func (t Token) String() string { return t.Text }

// negate is the token text of unary minus.
const negate = "neg"

// operators lists every operator spelling, longest first.
var operators = []string{
	">>>",
	"<<", ">>", "<=", ">=", "==", "!=", "&&", "||",
	"&", "|", "^", "+", "-", "*", "/", "%", "<", ">", "!", "~", ".",
}

const operatorChars = "&|^+-*/%><!~=."

func isOperandChar(c byte) bool {
	return c == '_' || c == '$' ||
		'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9'
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Tokenize splits expr into operands, operators and brackets. A '.' that
// follows an integer literal is a decimal point, not member access. A
// '-' that cannot end a binary operand is unary minus.
func Tokenize(expr string) ([]Token, error) {
	var out []Token
	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case isOperandChar(c):
			j := i
			for j < len(expr) {
				if isOperandChar(expr[j]) {
					j++
					continue
				}
				if expr[j] == '.' && isDigits(expr[i:j]) {
					j++
					continue
				}
				break
			}
			out = append(out, Token{Operand, expr[i:j]})
			i = j

		case c == '(':
			out = append(out, Token{LParen, "("})
			i++
		case c == ')':
			out = append(out, Token{RParen, ")"})
			i++
		case c == '[':
			out = append(out, Token{LBracket, "["})
			i++
		case c == ']':
			out = append(out, Token{RBracket, "]"})
			i++

		case strings.IndexByte(operatorChars, c) >= 0:
			op := ""
			for _, cand := range operators {
				if strings.HasPrefix(expr[i:], cand) {
					op = cand
					break
				}
			}
			if op == "" {
				return nil, fmt.Errorf("unknown operator at %d in %q", i, expr)
			}
			i += len(op)
			if op == "-" && !endsOperand(out) {
				op = negate
			}
			out = append(out, Token{Operator, op})

		default:
			return nil, fmt.Errorf("unexpected %q at %d in %q", c, i, expr)
		}
	}
	return out, nil
}

// endsOperand reports whether the tokens so far end in something a
// binary operator can follow.
func endsOperand(toks []Token) bool {
	if len(toks) == 0 {
		return false
	}
	switch toks[len(toks)-1].Kind {
	case Operand, RParen, RBracket:
		return true
	}
	return false
}
