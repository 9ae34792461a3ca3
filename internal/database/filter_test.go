package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCondition(t *testing.T) {
	tests := []struct {
		key   string
		value any
		want  Condition
	}{
		{"score >=", 5, Condition{Column: "score", Op: OpGte, Value: 5}},
		{"score <=", 5, Condition{Column: "score", Op: OpLte, Value: 5}},
		{"score >", 5, Condition{Column: "score", Op: OpGt, Value: 5}},
		{"score <", 5, Condition{Column: "score", Op: OpLt, Value: 5}},
		{"name !=", "a", Condition{Column: "name", Op: OpNe, Value: "a"}},
		{"note", nil, Condition{Column: "note", Op: OpIsNull}},
		{"name", []string{"a", "b"}, Condition{Column: "name", Op: OpIn, Value: []any{"a", "b"}}},
		{"name", "%ab%", Condition{Column: "name", Op: OpLike, Value: "%ab%"}},
		{"name", "%", Condition{Column: "name", Op: OpEq, Value: "%"}},
		{"name", "ab", Condition{Column: "name", Op: OpEq, Value: "ab"}},
		{"blob", []byte("x"), Condition{Column: "blob", Op: OpEq, Value: []byte("x")}},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCondition(tt.key, tt.value))
		})
	}
}

func TestFilterBuild(t *testing.T) {
	where, args := Filter{
		Eq("chat_id", "c1"),
		IsNull("deleted_at"),
		In("type", "style", "grammar"),
		Contains("situation", "hi"),
		Gte("count", 2),
	}.build()

	assert.Equal(t, "WHERE chat_id = ? AND deleted_at IS NULL AND type IN (?, ?) AND situation LIKE ? AND count >= ?", where)
	assert.Equal(t, []any{"c1", "style", "grammar", "%hi%", 2}, args)

	where, args = Filter(nil).build()
	assert.Empty(t, where)
	assert.Nil(t, args)
}

func TestFilterBuildInValues(t *testing.T) {
	tests := []struct {
		name      string
		cond      Condition
		wantWhere string
		wantArgs  []any
	}{
		{"scalar", Condition{Column: "id", Op: OpIn, Value: 5}, "WHERE id IN (?)", []any{5}},
		{"typed slice", Condition{Column: "id", Op: OpIn, Value: []int{1, 2}}, "WHERE id IN (?, ?)", []any{1, 2}},
		{"empty", In("id"), "WHERE 1 = 0", nil},
		{"nil", Condition{Column: "id", Op: OpIn}, "WHERE 1 = 0", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := Filter{tt.cond}.build()
			assert.Equal(t, tt.wantWhere, where)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestFilterFromMapIsSorted(t *testing.T) {
	f := FilterFromMap(map[string]any{"z": 1, "a": 2, "m >": 3})
	assert.Equal(t, Filter{Eq("a", 2), Gt("m", 3), Eq("z", 1)}, f)
}

func TestBuildSelect(t *testing.T) {
	limit, offset := 10, 20
	query, args := buildSelect("expression", QuerySpec{
		Select:   []string{"id", "style"},
		Where:    Filter{Eq("chat_id", "c1")},
		OrderBy:  "count",
		OrderDir: Desc,
		Limit:    &limit,
		Offset:   &offset,
	})
	assert.Equal(t, "SELECT id, style FROM expression WHERE chat_id = ? ORDER BY count DESC LIMIT 10 OFFSET 20", query)
	assert.Equal(t, []any{"c1"}, args)

	query, _ = buildSelect("expression", QuerySpec{OrderBy: "id"})
	assert.Equal(t, "SELECT * FROM expression ORDER BY id ASC", query)
}

func TestParseOrderDirection(t *testing.T) {
	assert.Equal(t, Desc, ParseOrderDirection("desc"))
	assert.Equal(t, Desc, ParseOrderDirection(" DESC "))
	assert.Equal(t, Asc, ParseOrderDirection("asc"))
	assert.Equal(t, Asc, ParseOrderDirection("sideways"))
}

func TestNewPageResult(t *testing.T) {
	tests := []struct {
		total      int64
		page       int
		pageSize   int
		totalPages int
		hasNext    bool
		hasPrev    bool
	}{
		{0, 1, 10, 1, false, false},
		{1, 1, 10, 1, false, false},
		{10, 1, 10, 1, false, false},
		{11, 1, 10, 2, true, false},
		{11, 2, 10, 2, false, true},
		{3, 1, 2, 2, true, false},
		{1000, 5, 1, 1000, true, true},
	}

	for _, tt := range tests {
		res := NewPageResult(nil, tt.page, tt.pageSize, tt.total)
		assert.Equal(t, tt.totalPages, res.TotalPages, "total=%d size=%d", tt.total, tt.pageSize)
		assert.Equal(t, tt.hasNext, res.HasNext, "total=%d page=%d", tt.total, tt.page)
		assert.Equal(t, tt.hasPrev, res.HasPrev, "page=%d", tt.page)
		assert.NotNil(t, res.Items)
	}
}

func TestPageRequestValidate(t *testing.T) {
	assert.NoError(t, PageRequest{Page: 1, PageSize: 1}.Validate())
	assert.NoError(t, PageRequest{Page: 3, PageSize: MaxPageSize}.Validate())
	assert.ErrorIs(t, PageRequest{Page: 0, PageSize: 10}.Validate(), ErrValidation)
	assert.ErrorIs(t, PageRequest{Page: 1, PageSize: 0}.Validate(), ErrValidation)
	assert.ErrorIs(t, PageRequest{Page: 1, PageSize: MaxPageSize + 1}.Validate(), ErrValidation)
	assert.Equal(t, 20, PageRequest{Page: 3, PageSize: 10}.Offset())
}
