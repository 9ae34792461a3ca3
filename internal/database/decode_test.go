package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scoreRecord struct {
	ID     int64   `db:"id"`
	Name   string  `db:"name"`
	Score  int     `db:"score"`
	Note   *string `db:"note"`
	Active bool    `db:"active"`
}

func TestDecodeRow(t *testing.T) {
	var rec scoreRecord
	err := DecodeRow(Row{"id": int64(7), "name": []byte("a"), "score": int64(5), "note": nil, "active": int64(1)}, &rec)
	require.NoError(t, err)

	assert.Equal(t, int64(7), rec.ID)
	assert.Equal(t, "a", rec.Name)
	assert.Equal(t, 5, rec.Score)
	assert.Nil(t, rec.Note)
	assert.True(t, rec.Active)
}

func TestDecodeRowsFromOperator(t *testing.T) {
	op := seedScores(t)

	rows, err := op.FindMany("scores", QuerySpec{OrderBy: "score", OrderDir: Desc})
	require.NoError(t, err)

	records, err := DecodeRows[scoreRecord](rows)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "c", records[0].Name)
	assert.Equal(t, 9, records[0].Score)
}

func TestDecodePage(t *testing.T) {
	op := seedScores(t)

	result, err := op.FindWithPagination("scores", PageQuery{
		PageRequest: PageRequest{Page: 2, PageSize: 2},
		OrderBy:     "score",
	})
	require.NoError(t, err)

	page, err := DecodePage[scoreRecord](result)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "c", page.Items[0].Name)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 2, page.Size)
	assert.Equal(t, 2, page.TotalPages)
	assert.False(t, page.HasNext)
	assert.True(t, page.HasPrev)
}

func TestValuesFromStruct(t *testing.T) {
	type patch struct {
		Name  *string `db:"name,omitempty"`
		Score *int    `db:"score,omitempty"`
		Note  *string `db:"note"`
	}

	name := "z"
	values, err := ValuesFromStruct(patch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, Values{{Column: "name", Value: "z"}, {Column: "note", Value: nil}}, values)

	values, err = ValuesFromStruct(patch{})
	require.NoError(t, err)
	assert.Equal(t, Values{{Column: "note", Value: nil}}, values)

	type row struct {
		Name  string `db:"name"`
		Score int    `db:"score"`
	}
	values, err = ValuesFromStruct(&row{Name: "y", Score: 4})
	require.NoError(t, err)
	assert.Equal(t, Values{{Column: "name", Value: "y"}, {Column: "score", Value: 4}}, values)

	op := seedScores(t)
	upd, err := ValuesFromStruct(patch{Score: new(int)})
	require.NoError(t, err)
	res, err := op.Update("scores", upd, Filter{Eq("name", "b")})
	require.NoError(t, err)
	assert.True(t, res.Success)

	got, err := op.FindOne("scores", Filter{Eq("name", "b")})
	require.NoError(t, err)
	assert.Equal(t, int64(0), got["score"])
}
