package action

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PaesslerAG/gval"

	"github.com/cuongceg/fluxmux/internal/core"
)

// Filter and transform expressions are evaluated by a gval language whose
// operators and functions all work on core.Value, so integers stay exact
// and numeric strings compare as numbers.
//
// An identifier names a field; dots reach into nested maps. A missing field
// on the left of a comparison makes it false and a bare word on the right
// of one reads as text, so `city==Hanoi` works unquoted. Anywhere else a
// missing field is an evaluation error. `=` compares like `==`.

// missing is what an identifier evaluates to when no field matches.
type missing string

var arity = map[string][2]int{
	"upper": {1, 1},
	"lower": {1, 1},
	"trim":  {1, 1},
	"len":   {1, 1},
	"abs":   {1, 1},
	"round": {1, 2},
	"str":   {1, 1},
	"num":   {1, 1},
}

var lang = newLanguage()

func newLanguage() gval.Language {
	parts := []gval.Language{
		gval.Base(),
		gval.Constant("null", nil),
		gval.VariableSelector(selectField),
		gval.PrefixOperator("-", negate),
		gval.PrefixOperator("!", not),
		gval.InfixShortCircuit("&&", shortCircuit(false)),
		gval.InfixOperator("&&", logic("&&")),
		gval.InfixShortCircuit("||", shortCircuit(true)),
		gval.InfixOperator("||", logic("||")),
		gval.InfixOperator("=", comparison("==")),
	}
	for _, op := range []string{"==", "!=", "<", "<=", ">", ">="} {
		parts = append(parts, gval.InfixOperator(op, comparison(op)))
	}
	for _, op := range []string{"+", "-", "*", "/", "%"} {
		parts = append(parts, gval.InfixOperator(op, arithmetic(op)))
	}
	for name := range arity {
		parts = append(parts, gval.Function(name, function(name)))
	}
	return gval.NewLanguage(append(parts,
		gval.Precedence("||", 20),
		gval.Precedence("&&", 21),
		gval.Precedence("=", 40),
		gval.Precedence("==", 40),
		gval.Precedence("!=", 40),
		gval.Precedence("<", 40),
		gval.Precedence("<=", 40),
		gval.Precedence(">", 40),
		gval.Precedence(">=", 40),
		gval.Precedence("+", 120),
		gval.Precedence("-", 120),
		gval.Precedence("*", 150),
		gval.Precedence("/", 150),
		gval.Precedence("%", 150),
	)...)
}

type expr struct {
	eval gval.Evaluable
}

// compile parses src once; evaluation happens per record.
func compile(src string) (expr, error) {
	if strings.TrimSpace(src) == "" {
		return expr{}, fmt.Errorf("empty expression")
	}
	norm, err := doubleQuoted(src)
	if err != nil {
		return expr{}, err
	}
	if err := checkCalls(norm); err != nil {
		return expr{}, err
	}
	e, err := lang.NewEvaluable(norm)
	if err != nil {
		return expr{}, err
	}
	return expr{eval: e}, nil
}

func (e expr) value(ctx context.Context, rec core.Record) (core.Value, error) {
	x, err := e.eval(ctx, rec)
	if err != nil {
		return core.Value{}, err
	}
	return operand(x)
}

func selectField(path gval.Evaluables) gval.Evaluable {
	return func(ctx context.Context, param any) (any, error) {
		keys := make([]string, len(path))
		for i, k := range path {
			var err error
			if keys[i], err = k.EvalString(ctx, param); err != nil {
				return nil, err
			}
		}
		rec, _ := param.(core.Record)
		if v, ok := lookup(rec, keys); ok {
			return v, nil
		}
		return missing(strings.Join(keys, ".")), nil
	}
}

// lookup tries the dotted name as one field first, then walks nested maps.
func lookup(rec core.Record, keys []string) (core.Value, bool) {
	if v, ok := rec.Get(strings.Join(keys, ".")); ok || len(keys) < 2 {
		return v, ok
	}
	v, ok := rec.Get(keys[0])
	for _, k := range keys[1:] {
		m, isMap := v.AsMap()
		if !ok || !isMap {
			return core.Value{}, false
		}
		v, ok = m.Get(k)
	}
	return v, ok
}

// operand converts what gval hands an operator back into a Value.
func operand(x any) (core.Value, error) {
	switch t := x.(type) {
	case missing:
		return core.Value{}, fmt.Errorf("unknown field %s", string(t))
	case core.Value:
		return t, nil
	}
	return core.FromInterface(x)
}

func comparison(op string) func(a, b any) (any, error) {
	return func(a, b any) (any, error) {
		if _, ok := a.(missing); ok {
			return core.Bool(false), nil
		}
		l, err := operand(a)
		if err != nil {
			return nil, err
		}
		var r core.Value
		if word, ok := b.(missing); ok {
			r = core.String(string(word))
		} else if r, err = operand(b); err != nil {
			return nil, err
		}
		ok, err := compare(op, l, r)
		return core.Bool(ok), err
	}
}

func arithmetic(op string) func(a, b any) (any, error) {
	return func(a, b any) (any, error) {
		l, err := operand(a)
		if err != nil {
			return nil, err
		}
		r, err := operand(b)
		if err != nil {
			return nil, err
		}
		return arith(op, l, r)
	}
}

func logic(op string) func(a, b any) (any, error) {
	return func(a, b any) (any, error) {
		l, err := operand(a)
		if err != nil {
			return nil, err
		}
		r, err := operand(b)
		if err != nil {
			return nil, err
		}
		if op == "&&" {
			return core.Bool(truthy(l) && truthy(r)), nil
		}
		return core.Bool(truthy(l) || truthy(r)), nil
	}
}

// shortCircuit ends && on a false left side and || on a true one.
func shortCircuit(stopOn bool) func(a any) (any, bool) {
	return func(a any) (any, bool) {
		v, err := operand(a)
		if err != nil || truthy(v) != stopOn {
			return nil, false
		}
		return core.Bool(stopOn), true
	}
}

func not(_ context.Context, x any) (any, error) {
	v, err := operand(x)
	if err != nil {
		return nil, err
	}
	return core.Bool(!truthy(v)), nil
}

func negate(_ context.Context, x any) (any, error) {
	v, err := operand(x)
	if err != nil {
		return nil, err
	}
	if i, isInt := v.AsInt(); isInt {
		return core.Int(-i), nil
	}
	f, ok := v.AsFloat()
	if !ok {
		return nil, fmt.Errorf("cannot negate %s", v.Kind())
	}
	return core.RawFloat(-f), nil
}

func function(name string) func(args ...any) (any, error) {
	return func(args ...any) (any, error) {
		vals := make([]core.Value, len(args))
		for i, a := range args {
			v, err := operand(a)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return apply(name, vals)
	}
}

// doubleQuoted rewrites 'single quoted' text as Go string literals, the
// quoting gval reads for strings longer than one rune.
func doubleQuoted(src string) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch c {
		case '"', '`':
			j := closing(src, i)
			if j < 0 {
				return "", fmt.Errorf("unterminated string at offset %d", i)
			}
			sb.WriteString(src[i : j+1])
			i = j
		case '\'':
			var lit strings.Builder
			j := i + 1
			for ; j < len(src) && src[j] != '\''; j++ {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				lit.WriteByte(src[j])
			}
			if j >= len(src) {
				return "", fmt.Errorf("unterminated string at offset %d", i)
			}
			sb.WriteString(strconv.Quote(lit.String()))
			i = j
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), nil
}

// closing returns the index of the quote ending the string that opens at
// i, or -1.
func closing(s string, i int) int {
	q := s[i]
	for j := i + 1; j < len(s); j++ {
		switch {
		case s[j] == q:
			return j
		case s[j] == '\\' && q != '`':
			j++
		}
	}
	return -1
}

// checkCalls fails unknown functions and bad argument counts at parse
// time. It also rejects characters no operator uses.
func checkCalls(src string) error {
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '"' || c == '`':
			if i = closing(src, i); i < 0 {
				return fmt.Errorf("unterminated string")
			}
		case isIdentStart(src, i):
			j := i
			for j < len(src) && isIdentPart(src, j) {
				_, n := utf8.DecodeRuneInString(src[j:])
				j += n
			}
			name := src[i:j]
			k := j
			for k < len(src) && src[k] == ' ' {
				k++
			}
			i = j - 1
			if k == len(src) || src[k] != '(' {
				continue
			}
			bounds, ok := arity[name]
			if !ok {
				return fmt.Errorf("unknown function %s", name)
			}
			if n, closed := countArgs(src, k); closed && (n < bounds[0] || n > bounds[1]) {
				return fmt.Errorf("%s takes %d to %d arguments, got %d", name, bounds[0], bounds[1], n)
			}
		case !strings.ContainsRune(" \t\r\n0123456789.()[],+-*/%=!<>&|", rune(c)):
			return fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	return nil
}

// countArgs counts the top level arguments of the call whose "(" is at
// open. closed is false when the parenthesis is never closed.
func countArgs(s string, open int) (n int, closed bool) {
	depth, empty := 0, true
	for j := open; j < len(s); j++ {
		switch c := s[j]; c {
		case '"', '`':
			if j = closing(s, j); j < 0 {
				return 0, false
			}
			empty = false
		case '(', '[':
			if depth++; depth > 1 {
				empty = false
			}
		case ')', ']':
			if depth--; depth == 0 {
				if empty {
					return 0, true
				}
				return n + 1, true
			}
		case ',':
			if depth == 1 {
				n++
			}
		case ' ', '\t', '\r', '\n':
		default:
			empty = false
		}
	}
	return 0, false
}

func isIdentStart(s string, i int) bool {
	r, _ := utf8.DecodeRuneInString(s[i:])
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(s string, i int) bool {
	r, _ := utf8.DecodeRuneInString(s[i:])
	return r == '_' || r == '$' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

type assignment struct {
	field string
	expr  expr
}

// parseAssignments parses `a=expr, b=expr`. Commas inside calls and
// strings belong to the expression.
func parseAssignments(src string) ([]assignment, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("no assignments")
	}
	parts, err := splitTopLevel(src)
	if err != nil {
		return nil, err
	}
	out := make([]assignment, 0, len(parts))
	for _, part := range parts {
		eq := strings.IndexByte(part, '=')
		if eq < 0 || strings.HasPrefix(part[eq:], "==") {
			return nil, fmt.Errorf("expected name = expression in %q", strings.TrimSpace(part))
		}
		name := strings.TrimSpace(part[:eq])
		if uq, err := strconv.Unquote(name); err == nil {
			name = uq
		} else if !validName(name) {
			return nil, fmt.Errorf("invalid field name %q", name)
		}
		x, err := compile(part[eq+1:])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, assignment{name, x})
	}
	return out, nil
}

// splitTopLevel splits on commas outside strings and brackets.
func splitTopLevel(src string) ([]string, error) {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(src); i++ {
		switch src[i] {
		case '"', '`', '\'':
			j := closing(src, i)
			if j < 0 {
				return nil, fmt.Errorf("unterminated string at offset %d", i)
			}
			i = j
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, src[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, src[start:]), nil
}

func validName(s string) bool {
	if s == "" || !isIdentStart(s, 0) {
		return false
	}
	for i := 0; i < len(s); {
		if !isIdentPart(s, i) {
			return false
		}
		_, n := utf8.DecodeRuneInString(s[i:])
		i += n
	}
	return true
}

func apply(fn string, args []core.Value) (core.Value, error) {
	x := args[0]
	switch fn {
	case "upper":
		return core.String(strings.ToUpper(x.Text())), nil
	case "lower":
		return core.String(strings.ToLower(x.Text())), nil
	case "trim":
		return core.String(strings.TrimSpace(x.Text())), nil
	case "str":
		return core.String(x.Text()), nil
	case "len":
		switch x.Kind() {
		case core.KindString:
			s, _ := x.AsString()
			return core.Int(int64(utf8.RuneCountInString(s))), nil
		case core.KindList:
			l, _ := x.AsList()
			return core.Int(int64(len(l))), nil
		case core.KindMap:
			m, _ := x.AsMap()
			return core.Int(int64(m.Len())), nil
		}
		return core.Value{}, fmt.Errorf("len of %s", x.Kind())
	case "num":
		f, ok := number(x)
		if !ok {
			return core.Value{}, fmt.Errorf("%q is not a number", x.Text())
		}
		return f, nil
	}

	num, ok := number(x)
	if !ok {
		return core.Value{}, fmt.Errorf("%s expects a number, got %s", fn, x.Kind())
	}
	f, _ := num.AsFloat()
	switch fn {
	case "abs":
		if i, isInt := num.AsInt(); isInt {
			if i < 0 {
				i = -i
			}
			return core.Int(i), nil
		}
		return core.Float(math.Abs(f)), nil
	case "round":
		digits := 0.0
		if len(args) == 2 {
			d, ok := args[1].AsFloat()
			if !ok {
				return core.Value{}, fmt.Errorf("round digits must be a number")
			}
			digits = math.Trunc(d)
		}
		p := math.Pow(10, digits)
		return core.Float(math.Round(f*p) / p), nil
	}
	return core.Value{}, fmt.Errorf("unknown function %s", fn)
}

// number reads v as a number, accepting numeric strings.
func number(v core.Value) (core.Value, bool) {
	if v.Kind() == core.KindNumber {
		return v, true
	}
	if s, ok := v.AsString(); ok {
		return core.ParseNumber(strings.TrimSpace(s))
	}
	return core.Value{}, false
}

func truthy(v core.Value) bool {
	switch v.Kind() {
	case core.KindNull:
		return false
	case core.KindBool:
		b, _ := v.AsBool()
		return b
	case core.KindNumber:
		f, _ := v.AsFloat()
		return f != 0
	case core.KindString:
		s, _ := v.AsString()
		return s != ""
	case core.KindList:
		l, _ := v.AsList()
		return len(l) > 0
	default:
		m, _ := v.AsMap()
		return m.Len() > 0
	}
}

// compare orders numbers numerically (numeric strings included) and
// strings lexically. Equality falls back to content equality.
func compare(op string, l, r core.Value) (bool, error) {
	ln, lok := number(l)
	rn, rok := number(r)
	if lok && rok && (l.Kind() == core.KindNumber || r.Kind() == core.KindNumber) {
		a, _ := ln.AsFloat()
		b, _ := rn.AsFloat()
		return order(op, cmpFloat(a, b)), nil
	}
	if op == "==" || op == "!=" {
		eq := l.Equal(r)
		if !eq && l.Kind() == core.KindString && r.Kind() != core.KindString {
			eq = l.Text() == r.Text()
		}
		return eq == (op == "=="), nil
	}
	ls, lIsStr := l.AsString()
	rs, rIsStr := r.AsString()
	if lIsStr && rIsStr {
		return order(op, strings.Compare(ls, rs)), nil
	}
	return false, fmt.Errorf("cannot compare %s %s %s", l.Kind(), op, r.Kind())
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func order(op string, c int) bool {
	switch op {
	case "==":
		return c == 0
	case "!=":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	default:
		return c >= 0
	}
}

func arith(op string, l, r core.Value) (core.Value, error) {
	lf, lok := l.AsFloat()
	rf, rok := r.AsFloat()
	if op == "+" && (!lok || !rok) {
		if l.Kind() == core.KindString || r.Kind() == core.KindString {
			return core.String(l.Text() + r.Text()), nil
		}
	}
	if !lok || !rok {
		return core.Value{}, fmt.Errorf("operator %s needs numbers, got %s and %s", op, l.Kind(), r.Kind())
	}
	li, lInt := l.AsInt()
	ri, rInt := r.AsInt()
	ints := lInt && rInt
	switch op {
	case "+":
		if ints {
			return core.Int(li + ri), nil
		}
		return core.RawFloat(lf + rf), nil
	case "-":
		if ints {
			return core.Int(li - ri), nil
		}
		return core.RawFloat(lf - rf), nil
	case "*":
		if ints {
			return core.Int(li * ri), nil
		}
		return core.RawFloat(lf * rf), nil
	case "/":
		if rf == 0 {
			return core.Value{}, fmt.Errorf("division by zero")
		}
		return core.Float(lf / rf), nil
	case "%":
		if rf == 0 {
			return core.Value{}, fmt.Errorf("modulo by zero")
		}
		if ints {
			return core.Int(li % ri), nil
		}
		return core.RawFloat(math.Mod(lf, rf)), nil
	}
	return core.Value{}, fmt.Errorf("unknown operator %s", op)
}
