// Package chatstream manages the chat_streams table of the primary database.
package chatstream

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DrSmoothl/HMML2/internal/database"
)

const (
	// Table is the chat stream table name.
	Table = "chat_streams"

	// MaxPageSize bounds List pages.
	MaxPageSize = 100
)

// ErrNotFound is returned when the addressed chat stream does not exist.
var ErrNotFound = errors.New("chat stream not found")

// Stream is one row of the chat_streams table.
type Stream struct {
	ID             int64   `db:"id" json:"id"`
	StreamID       string  `db:"stream_id" json:"stream_id"`
	CreateTime     float64 `db:"create_time" json:"create_time"`
	GroupPlatform  *string `db:"group_platform" json:"group_platform"`
	GroupID        *string `db:"group_id" json:"group_id"`
	GroupName      *string `db:"group_name" json:"group_name"`
	LastActiveTime float64 `db:"last_active_time" json:"last_active_time"`
	Platform       string  `db:"platform" json:"platform"`
	UserPlatform   *string `db:"user_platform" json:"user_platform"`
	UserID         string  `db:"user_id" json:"user_id"`
	UserNickname   *string `db:"user_nickname" json:"user_nickname"`
	UserCardname   *string `db:"user_cardname" json:"user_cardname"`
}

// Data is the payload of Create and Update. On Update, nil fields are left
// unchanged. On Create, missing timestamps default to now.
type Data struct {
	StreamID       *string  `db:"stream_id,omitempty" json:"stream_id"`
	CreateTime     *float64 `db:"create_time,omitempty" json:"create_time"`
	GroupPlatform  *string  `db:"group_platform,omitempty" json:"group_platform"`
	GroupID        *string  `db:"group_id,omitempty" json:"group_id"`
	GroupName      *string  `db:"group_name,omitempty" json:"group_name"`
	LastActiveTime *float64 `db:"last_active_time,omitempty" json:"last_active_time"`
	Platform       *string  `db:"platform,omitempty" json:"platform"`
	UserPlatform   *string  `db:"user_platform,omitempty" json:"user_platform"`
	UserID         *string  `db:"user_id,omitempty" json:"user_id"`
	UserNickname   *string  `db:"user_nickname,omitempty" json:"user_nickname"`
	UserCardname   *string  `db:"user_cardname,omitempty" json:"user_cardname"`
}

func (d Data) required() map[string]*string {
	return map[string]*string{"stream_id": d.StreamID, "platform": d.Platform, "user_id": d.UserID}
}

// FilterOptions narrows List. The platform fields match exactly, the rest
// match substrings.
type FilterOptions struct {
	StreamID      string
	GroupPlatform string
	GroupID       string
	GroupName     string
	Platform      string
	UserPlatform  string
	UserID        string
	UserNickname  string
	UserCardname  string
}

func (f FilterOptions) filter() database.Filter {
	var out database.Filter
	for _, c := range []struct {
		column, value string
		exact         bool
	}{
		{"stream_id", f.StreamID, false},
		{"group_platform", f.GroupPlatform, true},
		{"group_id", f.GroupID, false},
		{"group_name", f.GroupName, false},
		{"platform", f.Platform, true},
		{"user_platform", f.UserPlatform, true},
		{"user_id", f.UserID, false},
		{"user_nickname", f.UserNickname, false},
		{"user_cardname", f.UserCardname, false},
	} {
		switch {
		case c.value == "":
		case c.exact:
			out = append(out, database.Eq(c.column, c.value))
		default:
			out = append(out, database.Contains(c.column, c.value))
		}
	}
	return out
}

// ListParams selects one page of chat streams, newest first.
type ListParams struct {
	database.PageRequest
	Filter FilterOptions
}

// Page is one page of typed chat streams.
type Page = database.Page[Stream]

// OperatorSource hands out operators by connection name.
type OperatorSource interface {
	GetOperator(name string) *database.Operator
}

// Service implements chat stream queries on the primary database.
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

// List returns one page of chat streams ordered by id, newest first.
func (s *Service) List(p ListParams) (*Page, error) {
	if p.PageSize > MaxPageSize {
		return nil, fmt.Errorf("%w: page size must be at most %d", database.ErrValidation, MaxPageSize)
	}

	op, err := s.operator()
	if err != nil {
		return nil, err
	}

	result, err := op.FindWithPagination(Table, database.PageQuery{
		PageRequest: p.PageRequest,
		Where:       p.Filter.filter(),
		OrderBy:     "id",
		OrderDir:    database.Desc,
	})
	if err != nil {
		return nil, err
	}
	return database.DecodePage[Stream](result)
}

// Get returns the chat stream with id, or nil when it does not exist.
func (s *Service) Get(id int64) (*Stream, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: chat stream id must be positive", database.ErrValidation)
	}

	op, err := s.operator()
	if err != nil {
		return nil, err
	}

	row, err := op.FindOne(Table, database.Filter{database.Eq("id", id)})
	if err != nil || row == nil {
		return nil, err
	}

	var st Stream
	if err := database.DecodeRow(row, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Create stores a new chat stream and returns its id.
func (s *Service) Create(data Data) (int64, error) {
	for column, value := range data.required() {
		if value == nil || strings.TrimSpace(*value) == "" {
			return 0, fmt.Errorf("%w: %s must not be empty", database.ErrValidation, column)
		}
	}

	now := float64(s.now().UnixNano()) / float64(time.Second)
	if data.CreateTime == nil {
		data.CreateTime = &now
	}
	if data.LastActiveTime == nil {
		data.LastActiveTime = &now
	}

	values, err := database.ValuesFromStruct(data)
	if err != nil {
		return 0, err
	}

	op, err := s.operator()
	if err != nil {
		return 0, err
	}

	res, err := op.Insert(Table, values)
	if err != nil {
		return 0, err
	}
	if !res.Success || res.LastInsertID == nil {
		return 0, fmt.Errorf("failed to insert chat stream")
	}

	log.Info().Int64("id", *res.LastInsertID).Str("stream_id", *data.StreamID).Msg("Chat stream created")
	return *res.LastInsertID, nil
}

// Update applies the non-nil fields of data. It returns false when data
// has nothing to change.
func (s *Service) Update(id int64, data Data) (bool, error) {
	for column, value := range data.required() {
		if value != nil && strings.TrimSpace(*value) == "" {
			return false, fmt.Errorf("%w: %s must not be empty", database.ErrValidation, column)
		}
	}
	values, err := database.ValuesFromStruct(data)
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
		log.Warn().Int64("id", id).Msg("Chat stream update has no fields")
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

	log.Info().Int64("id", id).Int("fields", len(values)).Msg("Chat stream updated")
	return res.Success, nil
}

// Delete removes the chat stream with id.
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

	log.Info().Int64("id", id).Msg("Chat stream deleted")
	return nil
}
