// Package expression manages the expression table of the primary database:
// the learned situation/style pairs the bot draws on when replying.
package expression

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DrSmoothl/HMML2/internal/database"
)

const (
	// Table is the expression table name.
	Table = "expression"

	DefaultListLimit   = 10
	DefaultSearchLimit = 20
	MaxListLimit       = 100

	recentWindow = 24 * time.Hour
)

// ErrNotFound is returned when the addressed expression does not exist.
var ErrNotFound = errors.New("expression not found")

// Type values used by the companion application.
const (
	TypeStyle   = "style"
	TypeGrammar = "grammar"
)

// sortable lists the columns a caller may order by.
var sortable = map[string]bool{
	"id": true, "situation": true, "style": true, "count": true,
	"last_active_time": true, "chat_id": true, "type": true, "create_date": true,
}

// Expression is one row of the expression table.
type Expression struct {
	ID             int64   `db:"id" json:"id"`
	Situation      string  `db:"situation" json:"situation"`
	Style          string  `db:"style" json:"style"`
	Count          float64 `db:"count" json:"count"`
	LastActiveTime float64 `db:"last_active_time" json:"last_active_time"`
	ChatID         string  `db:"chat_id" json:"chat_id"`
	Type           string  `db:"type" json:"type"`
	CreateDate     float64 `db:"create_date" json:"create_date"`
}

// InsertData is the payload of Insert. Zero timestamps default to now.
type InsertData struct {
	Situation      string   `json:"situation"`
	Style          string   `json:"style"`
	Count          *float64 `json:"count"`
	LastActiveTime *float64 `json:"last_active_time"`
	ChatID         string   `json:"chat_id"`
	Type           string   `json:"type"`
	CreateDate     *float64 `json:"create_date"`
}

// UpdateData is a partial update. Nil fields are left unchanged.
type UpdateData struct {
	Situation      *string  `json:"situation"`
	Style          *string  `json:"style"`
	Count          *float64 `json:"count"`
	LastActiveTime *float64 `json:"last_active_time"`
	ChatID         *string  `json:"chat_id"`
	Type           *string  `json:"type"`
	CreateDate     *float64 `json:"create_date"`
}

// FilterOptions narrows List. Situation and Style match substrings.
type FilterOptions struct {
	Situation string
	Style     string
	ChatID    string
	Type      string
	MinCount  *float64
	MaxCount  *float64
	StartDate *float64
	EndDate   *float64
}

func (f FilterOptions) filter() database.Filter {
	var out database.Filter
	if f.Situation != "" {
		out = append(out, database.Contains("situation", f.Situation))
	}
	if f.Style != "" {
		out = append(out, database.Contains("style", f.Style))
	}
	if f.ChatID != "" {
		out = append(out, database.Eq("chat_id", f.ChatID))
	}
	if f.Type != "" {
		out = append(out, database.Eq("type", f.Type))
	}
	if f.MinCount != nil {
		out = append(out, database.Gte("count", *f.MinCount))
	}
	if f.MaxCount != nil {
		out = append(out, database.Lte("count", *f.MaxCount))
	}
	if f.StartDate != nil {
		out = append(out, database.Gte("create_date", *f.StartDate))
	}
	if f.EndDate != nil {
		out = append(out, database.Lte("create_date", *f.EndDate))
	}
	return out
}

// ListParams selects one page of expressions.
type ListParams struct {
	database.PageRequest
	OrderBy  string
	OrderDir database.OrderDirection
	Filter   FilterOptions
}

// Page is one page of typed expressions.
type Page = database.Page[Expression]

// Stats aggregates the expression table.
type Stats struct {
	Total        int64            `json:"total"`
	ByType       map[string]int64 `json:"byType"`
	ByChatID     map[string]int64 `json:"byChatId"`
	AvgCount     float64          `json:"avgCount"`
	TotalCount   float64          `json:"totalCount"`
	RecentActive int64            `json:"recentActive"`
}

// OperatorSource hands out operators by connection name.
type OperatorSource interface {
	GetOperator(name string) *database.Operator
}

// Service implements expression queries on the primary database.
type Service struct {
	source OperatorSource
	now    func() time.Time
}

// NewService creates a Service reading the primary connection from source.
func NewService(source OperatorSource) *Service {
	return &Service{source: source, now: time.Now}
}

func (s *Service) operator() (*database.Operator, error) {
	op := s.source.GetOperator(database.PrimaryName)
	if op == nil {
		return nil, fmt.Errorf("%w: %s", database.ErrConnectionNotFound, database.PrimaryName)
	}
	return op, nil
}

func (s *Service) timestamp() float64 {
	return float64(s.now().UnixNano()) / float64(time.Second)
}

// List returns one page of expressions, ordered by id unless told otherwise.
func (s *Service) List(p ListParams) (*Page, error) {
	orderBy := p.OrderBy
	if orderBy == "" {
		orderBy = "id"
	}
	if !sortable[orderBy] {
		return nil, fmt.Errorf("%w: cannot order by %q", database.ErrValidation, orderBy)
	}

	op, err := s.operator()
	if err != nil {
		return nil, err
	}

	result, err := op.FindWithPagination(Table, database.PageQuery{
		PageRequest: p.PageRequest,
		Where:       p.Filter.filter(),
		OrderBy:     orderBy,
		OrderDir:    p.OrderDir,
	})
	if err != nil {
		return nil, err
	}

	return database.DecodePage[Expression](result)
}

// Get returns the expression with id, or nil when it does not exist.
func (s *Service) Get(id int64) (*Expression, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: expression id must be positive", database.ErrValidation)
	}

	op, err := s.operator()
	if err != nil {
		return nil, err
	}

	row, err := op.FindOne(Table, database.Filter{database.Eq("id", id)})
	if err != nil || row == nil {
		return nil, err
	}

	var e Expression
	if err := database.DecodeRow(row, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Insert stores a new expression and returns its id.
func (s *Service) Insert(data InsertData) (int64, error) {
	for field, value := range map[string]string{
		"situation": data.Situation, "style": data.Style, "chat_id": data.ChatID, "type": data.Type,
	} {
		if strings.TrimSpace(value) == "" {
			return 0, fmt.Errorf("%w: %s must not be empty", database.ErrValidation, field)
		}
	}
	if data.Count != nil && *data.Count < 0 {
		return 0, fmt.Errorf("%w: count must not be negative", database.ErrValidation)
	}

	op, err := s.operator()
	if err != nil {
		return 0, err
	}

	now := s.timestamp()
	res, err := op.Insert(Table, database.Values{
		{Column: "situation", Value: data.Situation},
		{Column: "style", Value: data.Style},
		{Column: "count", Value: valueOr(data.Count, 0)},
		{Column: "last_active_time", Value: valueOr(data.LastActiveTime, now)},
		{Column: "chat_id", Value: data.ChatID},
		{Column: "type", Value: data.Type},
		{Column: "create_date", Value: valueOr(data.CreateDate, now)},
	})
	if err != nil {
		return 0, err
	}
	if !res.Success || res.LastInsertID == nil {
		return 0, fmt.Errorf("failed to insert expression")
	}

	log.Info().Int64("id", *res.LastInsertID).Msg("Expression inserted")
	return *res.LastInsertID, nil
}

// Update applies the non-nil fields of data. It returns false when data
// has nothing to change.
func (s *Service) Update(id int64, data UpdateData) (bool, error) {
	values, err := data.values()
	if err != nil {
		return false, err
	}

	existing, err := s.Get(id)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if len(values) == 0 {
		log.Warn().Int64("id", id).Msg("Expression update has no fields")
		return false, nil
	}

	op, err := s.operator()
	if err != nil {
		return false, err
	}

	res, err := op.Update(Table, values, database.Filter{database.Eq("id", id)})
	if err != nil {
		return false, err
	}

	log.Info().Int64("id", id).Int("fields", len(values)).Msg("Expression updated")
	return res.Success, nil
}

func (d UpdateData) values() (database.Values, error) {
	var values database.Values
	text := []struct {
		column string
		value  *string
	}{
		{"situation", d.Situation}, {"style", d.Style}, {"chat_id", d.ChatID}, {"type", d.Type},
	}
	for _, f := range text {
		if f.value == nil {
			continue
		}
		if strings.TrimSpace(*f.value) == "" {
			return nil, fmt.Errorf("%w: %s must not be empty", database.ErrValidation, f.column)
		}
		values = append(values, database.Value{Column: f.column, Value: *f.value})
	}

	if d.Count != nil {
		if *d.Count < 0 {
			return nil, fmt.Errorf("%w: count must not be negative", database.ErrValidation)
		}
		values = append(values, database.Value{Column: "count", Value: *d.Count})
	}
	if d.LastActiveTime != nil {
		values = append(values, database.Value{Column: "last_active_time", Value: *d.LastActiveTime})
	}
	if d.CreateDate != nil {
		values = append(values, database.Value{Column: "create_date", Value: *d.CreateDate})
	}
	return values, nil
}

// Delete removes the expression with id.
func (s *Service) Delete(id int64) error {
	existing, err := s.Get(id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	op, err := s.operator()
	if err != nil {
		return err
	}
	if _, err := op.Delete(Table, database.Filter{database.Eq("id", id)}); err != nil {
		return err
	}

	log.Info().Int64("id", id).Msg("Expression deleted")
	return nil
}

// ByChatID returns the most recently active expressions of a chat.
func (s *Service) ByChatID(chatID string, limit int) ([]Expression, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, fmt.Errorf("%w: chat id must not be empty", database.ErrValidation)
	}
	return s.findMany(database.Filter{database.Eq("chat_id", chatID)}, "last_active_time", limit)
}

// ByType returns the most used expressions of a type.
func (s *Service) ByType(exprType string, limit int) ([]Expression, error) {
	exprType = strings.TrimSpace(exprType)
	if exprType == "" {
		return nil, fmt.Errorf("%w: type must not be empty", database.ErrValidation)
	}
	return s.findMany(database.Filter{database.Eq("type", exprType)}, "count", limit)
}

// Search returns expressions whose situation or style contains keyword,
// most used first.
func (s *Service) Search(keyword string, limit int) ([]Expression, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, fmt.Errorf("%w: keyword must not be empty", database.ErrValidation)
	}

	bySituation, err := s.findMany(database.Filter{database.Contains("situation", keyword)}, "count", limit)
	if err != nil {
		return nil, err
	}
	byStyle, err := s.findMany(database.Filter{database.Contains("style", keyword)}, "count", limit)
	if err != nil {
		return nil, err
	}

	// Filters are AND-only, so the OR is the union of two queries.
	seen := make(map[int64]bool, len(bySituation)+len(byStyle))
	merged := make([]Expression, 0, len(bySituation)+len(byStyle))
	for _, e := range append(bySituation, byStyle...) {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		merged = append(merged, e)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Count != merged[j].Count {
			return merged[i].Count > merged[j].Count
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func (s *Service) findMany(filter database.Filter, orderBy string, limit int) ([]Expression, error) {
	if limit <= 0 || limit > MaxListLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", database.ErrValidation, MaxListLimit)
	}

	op, err := s.operator()
	if err != nil {
		return nil, err
	}

	rows, err := op.FindMany(Table, database.QuerySpec{
		Where:    filter,
		OrderBy:  orderBy,
		OrderDir: database.Desc,
		Limit:    &limit,
	})
	if err != nil {
		return nil, err
	}
	return database.DecodeRows[Expression](rows)
}

// Stats aggregates the table.
func (s *Service) Stats() (*Stats, error) {
	op, err := s.operator()
	if err != nil {
		return nil, err
	}

	stats := &Stats{}

	totals, err := op.QueryRaw("SELECT COUNT(*) AS total, AVG(count) AS avg_count, SUM(count) AS total_count FROM " + Table)
	if err != nil {
		return nil, err
	}
	if len(totals) > 0 {
		var agg struct {
			Total      int64    `db:"total"`
			AvgCount   *float64 `db:"avg_count"`
			TotalCount *float64 `db:"total_count"`
		}
		if err := database.DecodeRow(totals[0], &agg); err != nil {
			return nil, err
		}
		stats.Total = agg.Total
		stats.AvgCount = valueOr(agg.AvgCount, 0)
		stats.TotalCount = valueOr(agg.TotalCount, 0)
	}

	if stats.ByType, err = op.CountBy(Table, "type", 0); err != nil {
		return nil, err
	}
	if stats.ByChatID, err = op.CountBy(Table, "chat_id", 10); err != nil {
		return nil, err
	}

	since := float64(s.now().Add(-recentWindow).UnixNano()) / float64(time.Second)
	stats.RecentActive, err = op.Count(Table, database.Filter{database.Gte("last_active_time", since)})
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// IncrementCount adds one use to an expression and marks it active now.
func (s *Service) IncrementCount(id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: expression id must be positive", database.ErrValidation)
	}

	op, err := s.operator()
	if err != nil {
		return err
	}

	res, err := op.ExecuteRawUpdate(
		"UPDATE "+Table+" SET count = count + 1, last_active_time = ? WHERE id = ?",
		s.timestamp(), id,
	)
	if err != nil {
		return err
	}
	if res.AffectedRows == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	log.Debug().Int64("id", id).Msg("Expression count incremented")
	return nil
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
