package eval

import (
	"errors"
	"fmt"
)

var errParens = errors.New("unbalanced brackets")

// precedence of each operator; higher binds tighter.
var precedence = map[string]int{
	".": 14,
	"!": 13, "~": 13, negate: 13,
	"[": 12,
	"*": 11, "/": 11, "%": 11,
	"+": 10, "-": 10,
	"<<": 9, ">>": 9, ">>>": 9,
	"<": 8, ">": 8, "<=": 8, ">=": 8,
	"==": 7, "!=": 7,
	"&":  6,
	"^":  5,
	"|":  4,
	"&&": 3,
	"||": 2,
}

func isUnary(op string) bool {
	return op == "!" || op == "~" || op == negate
}

// ToPostfix reorders tokens into postfix with the shunting-yard
// algorithm. Indexing emits "[" after its index expression, so
// "a.b[0]" becomes "a b . 0 [".
func ToPostfix(tokens []Token) ([]Token, error) {
	var out, stack []Token
	top := func() (Token, bool) {
		if len(stack) == 0 {
			return Token{}, false
		}
		return stack[len(stack)-1], true
	}
	pop := func() Token {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return t
	}
	// popWhile moves operators to the output while they bind at least
	// as tightly as minPrec.
	popWhile := func(minPrec int) {
		for {
			t, ok := top()
			if !ok || t.Kind != Operator || precedence[t.Text] < minPrec {
				return
			}
			out = append(out, pop())
		}
	}
	// closeTo pops to the matching opener and discards it.
	closeTo := func() error {
		for {
			t, ok := top()
			if !ok {
				return errParens
			}
			pop()
			if t.Kind == LParen {
				return nil
			}
			out = append(out, t)
		}
	}

	for _, t := range tokens {
		switch t.Kind {
		case Operand:
			out = append(out, t)

		case Operator:
			p, ok := precedence[t.Text]
			if !ok {
				return nil, fmt.Errorf("unknown operator %q", t.Text)
			}
			if isUnary(t.Text) {
				popWhile(p + 1)
			} else {
				popWhile(p)
			}
			stack = append(stack, t)

		case LParen:
			stack = append(stack, t)

		case RParen:
			if err := closeTo(); err != nil {
				return nil, err
			}

		case LBracket:
			// Indexing applies to the completed member chain on its left.
			popWhile(precedence["."])
			stack = append(stack, Token{Operator, "["}, Token{LParen, "("})

		case RBracket:
			if err := closeTo(); err != nil {
				return nil, err
			}
			if t, ok := top(); !ok || t.Text != "[" {
				return nil, errParens
			}
			out = append(out, pop())
		}
	}

	for len(stack) > 0 {
		t := pop()
		if t.Kind == LParen || t.Text == "[" {
			return nil, errParens
		}
		out = append(out, t)
	}
	return out, nil
}
