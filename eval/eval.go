package eval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/tliron/commonlog"

	"github.com/chazu/flintdbg/value"
)

var log = commonlog.GetLogger("flintdbg.eval")

// ErrType is returned when operand types do not fit an operator.
var ErrType = errors.New("type mismatch")

// Scope resolves names against the stopped device. *value.Resolver
// satisfies it.
type Scope interface {
	ReadLocalByName(ctx context.Context, frameID uint32, name string) (*value.Variable, error)
	ReadFieldByName(ctx context.Context, ref uint32, name string) (*value.Variable, error)
}

var _ Scope = (*value.Resolver)(nil)

// Identifiers resolve in the innermost frame.
const frame = 0

type operandKind int

const (
	kindInt operandKind = iota
	kindFloat
	kindBool
	kindName
	kindVar
)

type operand struct {
	kind operandKind
	i    int64
	long bool // a J value; other integers wrap at 32 bits
	f    float64
	b    bool
	name string
	v    *value.Variable
}

func intOp(i int64) operand     { return operand{kind: kindInt, i: i} }
func floatOp(f float64) operand { return operand{kind: kindFloat, f: f} }
func boolOp(b bool) operand     { return operand{kind: kindBool, b: b} }

// javaInt truncates i to the width of an int unless long is set.
func javaInt(i int64, long bool) operand {
	if !long {
		i = int64(int32(i))
	}
	return operand{kind: kindInt, i: i, long: long}
}

func (o operand) numeric() bool { return o.kind == kindInt || o.kind == kindFloat }

func (o operand) float() float64 {
	if o.kind == kindFloat {
		return o.f
	}
	return float64(o.i)
}

func (o operand) String() string {
	switch o.kind {
	case kindInt:
		return strconv.FormatInt(o.i, 10)
	case kindFloat:
		return strconv.FormatFloat(o.f, 'g', -1, 64)
	case kindBool:
		return strconv.FormatBool(o.b)
	case kindVar:
		return o.v.Display()
	}
	return o.name
}

// Evaluate computes expr and renders the result. Any failure yields
// value.NotAvailable.
func Evaluate(ctx context.Context, scope Scope, expr string) string {
	res, err := evaluate(ctx, scope, expr)
	if err != nil {
		log.Debugf("evaluate %q: %s", expr, err)
		return value.NotAvailable
	}
	return res.String()
}

func evaluate(ctx context.Context, scope Scope, expr string) (operand, error) {
	tokens, err := Tokenize(expr)
	if err != nil {
		return operand{}, err
	}
	postfix, err := ToPostfix(tokens)
	if err != nil {
		return operand{}, err
	}
	e := &evaluator{ctx: ctx, scope: scope}
	for _, t := range postfix {
		if err := e.step(t); err != nil {
			return operand{}, err
		}
	}
	if len(e.stack) != 1 {
		return operand{}, fmt.Errorf("malformed expression %q", expr)
	}
	return e.resolve(e.stack[0])
}

type evaluator struct {
	ctx   context.Context
	scope Scope
	stack []operand
}

func (e *evaluator) push(o operand) { e.stack = append(e.stack, o) }

func (e *evaluator) pop() (operand, error) {
	if len(e.stack) == 0 {
		return operand{}, errors.New("missing operand")
	}
	o := e.stack[len(e.stack)-1]
	e.stack = e.stack[:len(e.stack)-1]
	return o, nil
}

func (e *evaluator) step(t Token) error {
	if t.Kind == Operand {
		o, err := literal(t.Text)
		if err != nil {
			return err
		}
		// A leading identifier is a local; later ones may be field names.
		if o.kind == kindName && len(e.stack) == 0 {
			if o, err = e.local(o.name); err != nil {
				return err
			}
		}
		e.push(o)
		return nil
	}

	switch t.Text {
	case ".":
		name, err := e.pop()
		if err != nil {
			return err
		}
		if name.kind != kindName {
			return fmt.Errorf("member access needs a name, got %s", name)
		}
		obj, err := e.popRef()
		if err != nil {
			return err
		}
		v, err := e.scope.ReadFieldByName(e.ctx, obj, name.name)
		if err != nil {
			return err
		}
		e.push(operand{kind: kindVar, v: v})
		return nil

	case "[":
		idx, err := e.popValue()
		if err != nil {
			return err
		}
		if idx.kind != kindInt || idx.i < 0 {
			return fmt.Errorf("%w: index %s", ErrType, idx)
		}
		arr, err := e.popRef()
		if err != nil {
			return err
		}
		v, err := e.scope.ReadFieldByName(e.ctx, arr, "["+strconv.FormatInt(idx.i, 10)+"]")
		if err != nil {
			return err
		}
		e.push(operand{kind: kindVar, v: v})
		return nil
	}

	if isUnary(t.Text) {
		x, err := e.popValue()
		if err != nil {
			return err
		}
		r, err := unary(t.Text, x)
		if err != nil {
			return err
		}
		e.push(r)
		return nil
	}

	b, err := e.popValue()
	if err != nil {
		return err
	}
	a, err := e.popValue()
	if err != nil {
		return err
	}
	r, err := binary(t.Text, a, b)
	if err != nil {
		return err
	}
	e.push(r)
	return nil
}

func literal(text string) (operand, error) {
	switch text {
	case "true":
		return boolOp(true), nil
	case "false":
		return boolOp(false), nil
	}
	c := text[0]
	if '0' <= c && c <= '9' {
		if i, err := strconv.ParseInt(text, 0, 64); err == nil {
			return javaInt(i, i != int64(int32(i))), nil
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return operand{}, fmt.Errorf("bad number %q", text)
		}
		return floatOp(f), nil
	}
	return operand{kind: kindName, name: text}, nil
}

func (e *evaluator) local(name string) (operand, error) {
	v, err := e.scope.ReadLocalByName(e.ctx, frame, name)
	if err != nil {
		return operand{}, err
	}
	return operand{kind: kindVar, v: v}, nil
}

// resolve turns a pending name into the local it denotes.
func (e *evaluator) resolve(o operand) (operand, error) {
	if o.kind == kindName {
		return e.local(o.name)
	}
	return o, nil
}

// popRef pops an operand that must denote a live reference.
func (e *evaluator) popRef() (uint32, error) {
	o, err := e.pop()
	if err != nil {
		return 0, err
	}
	if o, err = e.resolve(o); err != nil {
		return 0, err
	}
	if o.kind != kindVar || o.v.Ref == 0 {
		return 0, fmt.Errorf("%w: %s is not an object", ErrType, o)
	}
	return o.v.Ref, nil
}

// popValue pops an operand and loads it as a number or boolean.
func (e *evaluator) popValue() (operand, error) {
	o, err := e.pop()
	if err != nil {
		return operand{}, err
	}
	if o, err = e.resolve(o); err != nil {
		return operand{}, err
	}
	if o.kind != kindVar {
		return o, nil
	}
	switch v := o.v.Value.(type) {
	case value.Int:
		return javaInt(int64(v), o.v.Type == "J"), nil
	case value.Char:
		return intOp(int64(v)), nil
	case value.Float32:
		return floatOp(float64(v)), nil
	case value.Float64:
		return floatOp(float64(v)), nil
	case value.Bool:
		return boolOp(bool(v)), nil
	}
	return operand{}, fmt.Errorf("%w: %s = %s is not a primitive", ErrType, o.v.Name, o.v.Display())
}

func unary(op string, x operand) (operand, error) {
	switch {
	case op == "!" && x.kind == kindBool:
		return boolOp(!x.b), nil
	case op == "~" && x.kind == kindInt:
		return javaInt(^x.i, x.long), nil
	case op == negate && x.kind == kindInt:
		return javaInt(-x.i, x.long), nil
	case op == negate && x.kind == kindFloat:
		return floatOp(-x.f), nil
	}
	return operand{}, fmt.Errorf("%w: %s%s", ErrType, op, x)
}

func binary(op string, a, b operand) (operand, error) {
	mismatch := fmt.Errorf("%w: %s %s %s", ErrType, a, op, b)

	if a.kind == kindBool || b.kind == kindBool {
		if a.kind != kindBool || b.kind != kindBool {
			return operand{}, mismatch
		}
		switch op {
		case "&&", "&":
			return boolOp(a.b && b.b), nil
		case "||", "|":
			return boolOp(a.b || b.b), nil
		case "^", "!=":
			return boolOp(a.b != b.b), nil
		case "==":
			return boolOp(a.b == b.b), nil
		}
		return operand{}, mismatch
	}
	if !a.numeric() || !b.numeric() {
		return operand{}, mismatch
	}

	switch op {
	case "==":
		return boolOp(a.float() == b.float()), nil
	case "!=":
		return boolOp(a.float() != b.float()), nil
	case "<":
		return boolOp(a.float() < b.float()), nil
	case ">":
		return boolOp(a.float() > b.float()), nil
	case "<=":
		return boolOp(a.float() <= b.float()), nil
	case ">=":
		return boolOp(a.float() >= b.float()), nil
	}

	if a.kind == kindInt && b.kind == kindInt {
		return intArith(op, a, b, mismatch)
	}
	x, y := a.float(), b.float()
	switch op {
	case "+":
		return floatOp(x + y), nil
	case "-":
		return floatOp(x - y), nil
	case "*":
		return floatOp(x * y), nil
	case "/":
		return floatOp(x / y), nil
	case "%":
		return floatOp(math.Mod(x, y)), nil
	}
	return operand{}, mismatch
}

// intArith follows Java: int results wrap at 32 bits unless either side
// is a long, and shift counts are masked to the width of the left side.
func intArith(op string, a, b operand, mismatch error) (operand, error) {
	x, y, long := a.i, b.i, a.long || b.long
	switch op {
	case "+":
		return javaInt(x+y, long), nil
	case "-":
		return javaInt(x-y, long), nil
	case "*":
		return javaInt(x*y, long), nil
	case "/", "%":
		if y == 0 {
			return operand{}, errors.New("division by zero")
		}
		if op == "/" {
			return javaInt(x/y, long), nil
		}
		return javaInt(x%y, long), nil
	case "&":
		return javaInt(x&y, long), nil
	case "|":
		return javaInt(x|y, long), nil
	case "^":
		return javaInt(x^y, long), nil
	}

	mask := int64(31)
	if a.long {
		mask = 63
	}
	s := y & mask
	switch op {
	case "<<":
		return javaInt(x<<s, a.long), nil
	case ">>":
		return javaInt(x>>s, a.long), nil
	case ">>>":
		if a.long {
			return javaInt(int64(uint64(x)>>s), true), nil
		}
		return javaInt(int64(uint32(x)>>s), false), nil
	}
	return operand{}, mismatch
}
