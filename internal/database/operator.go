package database

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Operator builds parameterized SQL for one Connection. It holds no state
// of its own and adds no locking.
type Operator struct {
	conn *Connection
}

// NewOperator binds an Operator to conn.
func NewOperator(conn *Connection) *Operator {
	return &Operator{conn: conn}
}

// Connection returns the bound Connection.
func (o *Operator) Connection() *Connection {
	return o.conn
}

func (o *Operator) ensureConnected() error {
	if o.conn == nil || !o.conn.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (o *Operator) query(query string, args []any) ([]Row, error) {
	log.Debug().Str("sql", query).Interface("args", args).Msg("Executing query")
	return o.conn.QueryRows(query, args...)
}

func (o *Operator) exec(query string, args []any) (ExecResult, error) {
	log.Debug().Str("sql", query).Interface("args", args).Msg("Executing update")
	return o.conn.ExecuteUpdate(query, args...)
}

// FindOne returns the first row matching filter, or nil when nothing
// matches. An empty selectCols selects every column.
func (o *Operator) FindOne(table string, filter Filter, selectCols ...string) (Row, error) {
	if err := o.ensureConnected(); err != nil {
		return nil, err
	}

	limit := 1
	query, args := buildSelect(table, QuerySpec{Select: selectCols, Where: filter, Limit: &limit})
	rows, err := o.query(query, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// FindMany returns every row described by spec.
func (o *Operator) FindMany(table string, spec QuerySpec) ([]Row, error) {
	if err := o.ensureConnected(); err != nil {
		return nil, err
	}

	query, args := buildSelect(table, spec)
	return o.query(query, args)
}

// FindWithPagination runs a COUNT and a bounded SELECT. The two statements
// are not isolated from each other, so a concurrent writer can make the
// total disagree with the page contents.
func (o *Operator) FindWithPagination(table string, q PageQuery) (*PageResult, error) {
	if err := q.PageRequest.Validate(); err != nil {
		return nil, err
	}
	if err := o.ensureConnected(); err != nil {
		return nil, err
	}

	total, err := o.Count(table, q.Where)
	if err != nil {
		return nil, err
	}

	limit, offset := q.PageSize, q.Offset()
	items, err := o.FindMany(table, QuerySpec{
		Select:   q.Select,
		Where:    q.Where,
		OrderBy:  q.OrderBy,
		OrderDir: q.OrderDir,
		Limit:    &limit,
		Offset:   &offset,
	})
	if err != nil {
		return nil, err
	}

	return NewPageResult(items, q.Page, q.PageSize, total), nil
}

// Insert adds one row.
func (o *Operator) Insert(table string, data Values) (*InsertResult, error) {
	if len(data) == 0 {
		return nil, validationErrorf("insert into %s requires at least one column", table)
	}
	if err := o.ensureConnected(); err != nil {
		return nil, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(data)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(data.columns(), ", "), placeholders)

	res, err := o.exec(query, data.args())
	if err != nil {
		return nil, err
	}

	return &InsertResult{
		Success:      res.AffectedRows > 0,
		AffectedRows: res.AffectedRows,
		LastInsertID: res.LastInsertID,
	}, nil
}

// Update assigns data on every row matching filter. An empty filter is
// rejected so a whole table cannot be rewritten by omission.
func (o *Operator) Update(table string, data Values, filter Filter) (*MutationResult, error) {
	if len(data) == 0 {
		return nil, validationErrorf("update of %s requires at least one column", table)
	}
	if len(filter) == 0 {
		return nil, validationErrorf("update of %s requires a filter", table)
	}
	if err := o.ensureConnected(); err != nil {
		return nil, err
	}

	sets := make([]string, len(data))
	for i, col := range data.columns() {
		sets[i] = col + " = ?"
	}
	where, whereArgs := filter.build()
	query := fmt.Sprintf("UPDATE %s SET %s %s", table, strings.Join(sets, ", "), where)

	res, err := o.exec(query, append(data.args(), whereArgs...))
	if err != nil {
		return nil, err
	}

	return &MutationResult{Success: res.AffectedRows > 0, AffectedRows: res.AffectedRows}, nil
}

// Delete removes every row matching filter. An empty filter is rejected.
func (o *Operator) Delete(table string, filter Filter) (*MutationResult, error) {
	if len(filter) == 0 {
		return nil, validationErrorf("delete from %s requires a filter", table)
	}
	if err := o.ensureConnected(); err != nil {
		return nil, err
	}

	where, args := filter.build()
	res, err := o.exec(fmt.Sprintf("DELETE FROM %s %s", table, where), args)
	if err != nil {
		return nil, err
	}

	return &MutationResult{Success: res.AffectedRows > 0, AffectedRows: res.AffectedRows}, nil
}

// Count returns the number of rows matching filter.
func (o *Operator) Count(table string, filter Filter) (int64, error) {
	if err := o.ensureConnected(); err != nil {
		return 0, err
	}

	query := "SELECT COUNT(*) AS count FROM " + table
	where, args := filter.build()
	if where != "" {
		query += " " + where
	}

	rows, err := o.query(query, args)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return asInt64(rows[0]["count"]), nil
}

// CountBy counts rows per distinct value of column, largest groups first.
// A NULL group is keyed "". A positive limit keeps only the largest groups.
func (o *Operator) CountBy(table, column string, limit int) (map[string]int64, error) {
	if err := o.ensureConnected(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s AS grp, COUNT(*) AS n FROM %s GROUP BY %s ORDER BY n DESC", column, table, column)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := o.query(query, nil)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[asString(row["grp"])] += asInt64(row["n"])
	}
	return counts, nil
}

// ExecuteRaw runs caller-supplied SQL and returns the open cursor. Nothing
// is validated. The caller must close the rows.
func (o *Operator) ExecuteRaw(query string, args ...any) (*sql.Rows, error) {
	if err := o.ensureConnected(); err != nil {
		return nil, err
	}
	log.Debug().Str("sql", query).Interface("args", args).Msg("Executing raw query")
	return o.conn.ExecuteQuery(query, args...)
}

// QueryRaw runs caller-supplied SQL and materializes the result.
func (o *Operator) QueryRaw(query string, args ...any) ([]Row, error) {
	if err := o.ensureConnected(); err != nil {
		return nil, err
	}
	return o.query(query, args)
}

// ExecuteRawUpdate runs caller-supplied mutating SQL, for expressions the
// filter grammar cannot express such as "count = count + 1".
func (o *Operator) ExecuteRawUpdate(query string, args ...any) (ExecResult, error) {
	if err := o.ensureConnected(); err != nil {
		return ExecResult{}, err
	}
	return o.exec(query, args)
}
