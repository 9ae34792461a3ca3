package database

import (
	"fmt"
	"sort"
	"strings"
)

// OrderDirection is the sort order of a query.
type OrderDirection string

const (
	Asc  OrderDirection = "ASC"
	Desc OrderDirection = "DESC"
)

// ParseOrderDirection reads "asc"/"desc" in any case. Anything else is ASC.
func ParseOrderDirection(s string) OrderDirection {
	if strings.EqualFold(strings.TrimSpace(s), string(Desc)) {
		return Desc
	}
	return Asc
}

// QuerySpec describes a SELECT. Zero values mean: all columns, no filter,
// no ordering, no limit.
type QuerySpec struct {
	Select   []string
	Where    Filter
	OrderBy  string
	OrderDir OrderDirection
	Limit    *int
	Offset   *int
}

// Page bounds accepted by PageRequest.Validate.
const (
	MaxPageSize     = 1000
	DefaultPageSize = 20
)

// PageRequest is a 1-based page selector.
type PageRequest struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// Validate checks page >= 1 and 1 <= pageSize <= MaxPageSize.
func (p PageRequest) Validate() error {
	if p.Page < 1 {
		return validationErrorf("page must be at least 1, got %d", p.Page)
	}
	if p.PageSize < 1 || p.PageSize > MaxPageSize {
		return validationErrorf("page size must be between 1 and %d, got %d", MaxPageSize, p.PageSize)
	}
	return nil
}

// Offset returns the number of rows preceding the page.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// PageQuery is a paginated SELECT.
type PageQuery struct {
	PageRequest
	Select   []string
	Where    Filter
	OrderBy  string
	OrderDir OrderDirection
}

// PageResult is one page of rows plus pagination metadata.
type PageResult struct {
	Items       []Row `json:"items"`
	Total       int64 `json:"total"`
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalPages  int   `json:"total_pages"`
	HasNext     bool  `json:"has_next"`
	HasPrev     bool  `json:"has_prev"`
}

// NewPageResult computes pagination metadata. TotalPages is at least 1,
// even for an empty result.
func NewPageResult(items []Row, page, pageSize int, total int64) *PageResult {
	if items == nil {
		items = []Row{}
	}

	totalPages := 1
	if pageSize > 0 && total > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}

	return &PageResult{
		Items:       items,
		Total:       total,
		CurrentPage: page,
		PageSize:    pageSize,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrev:     page > 1,
	}
}

// InsertResult is returned by Operator.Insert.
type InsertResult struct {
	Success      bool   `json:"success"`
	AffectedRows int64  `json:"affected_rows"`
	LastInsertID *int64 `json:"last_insert_id,omitempty"`
}

// MutationResult is returned by Operator.Update and Operator.Delete.
type MutationResult struct {
	Success      bool  `json:"success"`
	AffectedRows int64 `json:"affected_rows"`
}

// Value assigns Value to Column in an INSERT or UPDATE.
type Value struct {
	Column string
	Value  any
}

// Values is an ordered column assignment list.
type Values []Value

// ValuesFromMap builds Values in sorted column order.
func ValuesFromMap(m map[string]any) Values {
	columns := make([]string, 0, len(m))
	for k := range m {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	values := make(Values, 0, len(columns))
	for _, c := range columns {
		values = append(values, Value{Column: c, Value: m[c]})
	}
	return values
}

func (v Values) columns() []string {
	out := make([]string, len(v))
	for i, val := range v {
		out[i] = val.Column
	}
	return out
}

func (v Values) args() []any {
	out := make([]any, len(v))
	for i, val := range v {
		out[i] = val.Value
	}
	return out
}

func buildSelect(table string, spec QuerySpec) (string, []any) {
	columns := "*"
	if len(spec.Select) > 0 {
		columns = strings.Join(spec.Select, ", ")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", columns, table)

	where, args := spec.Where.build()
	if where != "" {
		sb.WriteString(" ")
		sb.WriteString(where)
	}

	if spec.OrderBy != "" {
		dir := spec.OrderDir
		if dir == "" {
			dir = Asc
		}
		fmt.Fprintf(&sb, " ORDER BY %s %s", spec.OrderBy, dir)
	}

	switch {
	case spec.Limit != nil:
		fmt.Fprintf(&sb, " LIMIT %d", *spec.Limit)
		if spec.Offset != nil {
			fmt.Fprintf(&sb, " OFFSET %d", *spec.Offset)
		}
	case spec.Offset != nil:
		// SQLite requires LIMIT before OFFSET; -1 means unbounded.
		fmt.Fprintf(&sb, " LIMIT -1 OFFSET %d", *spec.Offset)
	}

	return sb.String(), args
}
