package database

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Op is the comparison applied by a Condition.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
	OpIn
	OpLike
	OpIsNull
)

var opSymbols = map[Op]string{
	OpEq:     "=",
	OpNe:     "!=",
	OpGt:     ">",
	OpGte:    ">=",
	OpLt:     "<",
	OpLte:    "<=",
	OpIn:     "IN",
	OpLike:   "LIKE",
	OpIsNull: "IS NULL",
}

func (o Op) String() string {
	if s, ok := opSymbols[o]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// Condition is one predicate on a column. Column names are emitted into SQL
// verbatim and must come from trusted code; values are always bound.
type Condition struct {
	Column string
	Op     Op
	Value  any
}

func Eq(column string, value any) Condition  { return Condition{Column: column, Op: OpEq, Value: value} }
func Ne(column string, value any) Condition  { return Condition{Column: column, Op: OpNe, Value: value} }
func Gt(column string, value any) Condition  { return Condition{Column: column, Op: OpGt, Value: value} }
func Gte(column string, value any) Condition { return Condition{Column: column, Op: OpGte, Value: value} }
func Lt(column string, value any) Condition  { return Condition{Column: column, Op: OpLt, Value: value} }
func Lte(column string, value any) Condition { return Condition{Column: column, Op: OpLte, Value: value} }
func IsNull(column string) Condition         { return Condition{Column: column, Op: OpIsNull} }

// In matches any of values. An empty list matches nothing; a non-slice
// Value in a hand-built Condition is treated as a one-element list.
func In(column string, values ...any) Condition {
	return Condition{Column: column, Op: OpIn, Value: values}
}

// Like matches pattern using SQL LIKE wildcards.
func Like(column, pattern string) Condition {
	return Condition{Column: column, Op: OpLike, Value: pattern}
}

// Contains matches rows whose column contains substr.
func Contains(column string, substr any) Condition {
	return Like(column, fmt.Sprintf("%%%v%%", substr))
}

// Filter is an ordered conjunction of conditions.
type Filter []Condition

// legacySuffixes is checked longest first so ">=" is not read as ">".
var legacySuffixes = []struct {
	suffix string
	op     Op
}{
	{" >=", OpGte},
	{" <=", OpLte},
	{" !=", OpNe},
	{" >", OpGt},
	{" <", OpLt},
}

// ParseCondition translates a key/value pair in the request grammar used by
// the admin API: a trailing " >=", " <=", " >", " <" or " !=" on the key
// selects the comparison, a nil value means IS NULL, a slice means IN and a
// string wrapped in '%' means LIKE. Anything else is equality.
func ParseCondition(key string, value any) Condition {
	for _, s := range legacySuffixes {
		if strings.HasSuffix(key, s.suffix) {
			return Condition{Column: strings.TrimSpace(strings.TrimSuffix(key, s.suffix)), Op: s.op, Value: value}
		}
	}

	column := strings.TrimSpace(key)
	if value == nil {
		return IsNull(column)
	}
	if str, ok := value.(string); ok && len(str) >= 2 && strings.HasPrefix(str, "%") && strings.HasSuffix(str, "%") {
		return Like(column, str)
	}
	if values, ok := toSlice(value); ok {
		return In(column, values...)
	}
	return Eq(column, value)
}

// FilterFromMap builds a Filter from request-style key/value pairs, in
// sorted key order.
func FilterFromMap(m map[string]any) Filter {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	filter := make(Filter, 0, len(keys))
	for _, k := range keys {
		filter = append(filter, ParseCondition(k, m[k]))
	}
	return filter
}

// build renders the filter as a WHERE clause. An empty filter yields an
// empty clause.
func (f Filter) build() (string, []any) {
	if len(f) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(f))
	var args []any
	for _, c := range f {
		switch c.Op {
		case OpIsNull:
			parts = append(parts, c.Column+" IS NULL")
		case OpIn:
			values, ok := toSlice(c.Value)
			if !ok && c.Value != nil {
				values = []any{c.Value}
			}
			if len(values) == 0 {
				parts = append(parts, "1 = 0")
				continue
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
			parts = append(parts, fmt.Sprintf("%s IN (%s)", c.Column, placeholders))
			args = append(args, values...)
		default:
			parts = append(parts, fmt.Sprintf("%s %s ?", c.Column, c.Op))
			args = append(args, c.Value)
		}
	}

	return "WHERE " + strings.Join(parts, " AND "), args
}

// toSlice flattens any slice or array except []byte into []any.
func toSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if values, ok := v.([]any); ok {
		return values, true
	}
	if _, ok := v.([]byte); ok {
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
