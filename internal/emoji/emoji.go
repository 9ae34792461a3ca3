// Package emoji manages the emoji table of the primary database and the
// image files it points at under the main root.
package emoji

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/DrSmoothl/HMML2/internal/database"
)

// Table is the emoji table name.
const Table = "emoji"

var (
	// ErrNotFound is returned when the addressed emoji does not exist.
	ErrNotFound = errors.New("emoji not found")
	// ErrFileNotFound is returned when an emoji image is missing on disk.
	ErrFileNotFound = errors.New("emoji file not found")
	// ErrNoMainRoot is returned for file operations before the main root is set.
	ErrNoMainRoot = errors.New("main root is not set")
)

var sortable = map[string]bool{
	"id": true, "query_count": true, "usage_count": true,
	"last_used_time": true, "record_time": true, "register_time": true,
}

// Emoji is one row of the emoji table.
type Emoji struct {
	ID           int64   `db:"id" json:"id"`
	FullPath     string  `db:"full_path" json:"full_path"`
	Format       string  `db:"format" json:"format"`
	EmojiHash    string  `db:"emoji_hash" json:"emoji_hash"`
	Description  string  `db:"description" json:"description"`
	QueryCount   int64   `db:"query_count" json:"query_count"`
	IsRegistered int     `db:"is_registered" json:"is_registered"`
	IsBanned     int     `db:"is_banned" json:"is_banned"`
	Emotion      string  `db:"emotion" json:"emotion"`
	RecordTime   float64 `db:"record_time" json:"record_time"`
	RegisterTime float64 `db:"register_time" json:"register_time"`
	UsageCount   int64   `db:"usage_count" json:"usage_count"`
	LastUsedTime float64 `db:"last_used_time" json:"last_used_time"`
}

// InsertData is the payload of Insert.
type InsertData struct {
	FullPath     string  `db:"full_path" json:"full_path"`
	Format       string  `db:"format" json:"format"`
	EmojiHash    string  `db:"emoji_hash" json:"emoji_hash"`
	Description  string  `db:"description" json:"description"`
	QueryCount   int64   `db:"query_count" json:"query_count"`
	IsRegistered int     `db:"is_registered" json:"is_registered"`
	IsBanned     int     `db:"is_banned" json:"is_banned"`
	Emotion      string  `db:"emotion" json:"emotion"`
	RecordTime   float64 `db:"record_time" json:"record_time"`
	RegisterTime float64 `db:"register_time" json:"register_time"`
	UsageCount   int64   `db:"usage_count" json:"usage_count"`
	LastUsedTime float64 `db:"last_used_time" json:"last_used_time"`
}

// UpdateData is a partial update. Nil fields are left unchanged.
type UpdateData struct {
	FullPath     *string  `db:"full_path,omitempty" json:"full_path"`
	Format       *string  `db:"format,omitempty" json:"format"`
	EmojiHash    *string  `db:"emoji_hash,omitempty" json:"emoji_hash"`
	Description  *string  `db:"description,omitempty" json:"description"`
	QueryCount   *int64   `db:"query_count,omitempty" json:"query_count"`
	IsRegistered *int     `db:"is_registered,omitempty" json:"is_registered"`
	IsBanned     *int     `db:"is_banned,omitempty" json:"is_banned"`
	Emotion      *string  `db:"emotion,omitempty" json:"emotion"`
	RecordTime   *float64 `db:"record_time,omitempty" json:"record_time"`
	RegisterTime *float64 `db:"register_time,omitempty" json:"register_time"`
	UsageCount   *int64   `db:"usage_count,omitempty" json:"usage_count"`
	LastUsedTime *float64 `db:"last_used_time,omitempty" json:"last_used_time"`
}

// FilterOptions narrows List. Emotion and Description match substrings.
type FilterOptions struct {
	Format       string
	Emotion      string
	Description  string
	EmojiHash    string
	IsRegistered *int
	IsBanned     *int
}

func (f FilterOptions) filter() database.Filter {
	var out database.Filter
	if f.Format != "" {
		out = append(out, database.Eq("format", f.Format))
	}
	if f.Emotion != "" {
		out = append(out, database.Contains("emotion", f.Emotion))
	}
	if f.Description != "" {
		out = append(out, database.Contains("description", f.Description))
	}
	if f.EmojiHash != "" {
		out = append(out, database.Eq("emoji_hash", f.EmojiHash))
	}
	if f.IsRegistered != nil {
		out = append(out, database.Eq("is_registered", *f.IsRegistered))
	}
	if f.IsBanned != nil {
		out = append(out, database.Eq("is_banned", *f.IsBanned))
	}
	return out
}

// ListParams selects one page of emojis.
type ListParams struct {
	database.PageRequest
	OrderBy  string
	OrderDir database.OrderDirection
	Filter   FilterOptions
}

// Page is one page of typed emojis.
type Page = database.Page[Emoji]

// Stats aggregates the emoji table.
type Stats struct {
	Total        int64            `json:"total_count"`
	ByFormat     map[string]int64 `json:"format_stats"`
	Registered   int64            `json:"registered_count"`
	Unregistered int64            `json:"unregistered_count"`
	Banned       int64            `json:"banned_count"`
	Active       int64            `json:"active_count"`
}

// OperatorSource hands out operators by connection name.
type OperatorSource interface {
	GetOperator(name string) *database.Operator
}

// RootSource resolves the main application root that image paths are
// relative to.
type RootSource interface {
	MainRoot() (string, bool)
}

// Service implements emoji queries on the primary database.
type Service struct {
	source OperatorSource
	roots  RootSource
}

// NewService creates a Service. roots may be nil, in which case the file
// operations fail with ErrNoMainRoot.
func NewService(source OperatorSource, roots RootSource) *Service {
	return &Service{source: source, roots: roots}
}

func (s *Service) operator() (*database.Operator, error) {
	op := s.source.GetOperator(database.PrimaryName)
	if op == nil {
		return nil, fmt.Errorf("%w: %s", database.ErrConnectionNotFound, database.PrimaryName)
	}
	return op, nil
}

// List returns one page of emojis, ordered by id unless told otherwise.
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
	return database.DecodePage[Emoji](result)
}

// Get returns the emoji with id, or nil when it does not exist.
func (s *Service) Get(id int64) (*Emoji, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: emoji id must be positive", database.ErrValidation)
	}
	return s.findOne(database.Filter{database.Eq("id", id)})
}

// GetByHash returns the emoji with the given content hash, or nil.
func (s *Service) GetByHash(hash string) (*Emoji, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, fmt.Errorf("%w: emoji hash must not be empty", database.ErrValidation)
	}
	return s.findOne(database.Filter{database.Eq("emoji_hash", hash)})
}

func (s *Service) findOne(where database.Filter) (*Emoji, error) {
	op, err := s.operator()
	if err != nil {
		return nil, err
	}

	row, err := op.FindOne(Table, where)
	if err != nil || row == nil {
		return nil, err
	}

	var e Emoji
	if err := database.DecodeRow(row, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Insert stores a new emoji and returns its id.
func (s *Service) Insert(data InsertData) (int64, error) {
	for field, value := range map[string]string{
		"full_path": data.FullPath, "format": data.Format, "emoji_hash": data.EmojiHash,
	} {
		if strings.TrimSpace(value) == "" {
			return 0, fmt.Errorf("%w: %s must not be empty", database.ErrValidation, field)
		}
	}
	if err := validateFlags(&data.IsRegistered, &data.IsBanned); err != nil {
		return 0, err
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
		return 0, fmt.Errorf("failed to insert emoji")
	}

	log.Info().Int64("id", *res.LastInsertID).Str("hash", data.EmojiHash).Msg("Emoji inserted")
	return *res.LastInsertID, nil
}

// Update applies the non-nil fields of data. It returns false when data
// has nothing to change.
func (s *Service) Update(id int64, data UpdateData) (bool, error) {
	if err := validateFlags(data.IsRegistered, data.IsBanned); err != nil {
		return false, err
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
		log.Warn().Int64("id", id).Msg("Emoji update has no fields")
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

	log.Info().Int64("id", id).Int("fields", len(values)).Msg("Emoji updated")
	return res.Success, nil
}

func validateFlags(flags ...*int) error {
	for _, f := range flags {
		if f != nil && *f != 0 && *f != 1 {
			return fmt.Errorf("%w: flag must be 0 or 1", database.ErrValidation)
		}
	}
	return nil
}

// Delete removes the emoji with id. The image file is left in place.
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

	log.Info().Int64("id", id).Msg("Emoji deleted")
	return nil
}

// IncrementQueryCount counts one lookup of an emoji.
func (s *Service) IncrementQueryCount(id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: emoji id must be positive", database.ErrValidation)
	}

	op, err := s.operator()
	if err != nil {
		return err
	}

	res, err := op.ExecuteRawUpdate("UPDATE "+Table+" SET query_count = query_count + 1 WHERE id = ?", id)
	if err != nil {
		return err
	}
	if res.AffectedRows == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// Stats aggregates the emoji table.
func (s *Service) Stats() (*Stats, error) {
	op, err := s.operator()
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	if stats.Total, err = op.Count(Table, nil); err != nil {
		return nil, err
	}
	if stats.ByFormat, err = op.CountBy(Table, "format", 0); err != nil {
		return nil, err
	}
	if stats.Registered, err = op.Count(Table, database.Filter{database.Eq("is_registered", 1)}); err != nil {
		return nil, err
	}
	if stats.Banned, err = op.Count(Table, database.Filter{database.Eq("is_banned", 1)}); err != nil {
		return nil, err
	}
	stats.Unregistered = stats.Total - stats.Registered
	stats.Active = stats.Total - stats.Banned
	return stats, nil
}

// Image returns the image file of an emoji, base64 encoded.
func (s *Service) Image(id int64) (string, error) {
	e, err := s.Get(id)
	if err != nil {
		return "", err
	}
	if e == nil {
		return "", fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	data, err := s.readFile(e.FullPath)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Hash returns the hex MD5 of the image at rel, a path under the main root.
// Emoji hashes are stored in this form.
func (s *Service) Hash(rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", fmt.Errorf("%w: image path must not be empty", database.ErrValidation)
	}

	data, err := s.readFile(rel)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

func (s *Service) readFile(rel string) ([]byte, error) {
	path, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, rel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read emoji file: %w", err)
	}
	return data, nil
}

// resolve joins rel onto the main root. Stored paths may carry a leading
// separator; paths escaping the root are rejected.
func (s *Service) resolve(rel string) (string, error) {
	if s.roots == nil {
		return "", ErrNoMainRoot
	}
	root, ok := s.roots.MainRoot()
	if !ok {
		return "", ErrNoMainRoot
	}

	path := filepath.Join(root, filepath.FromSlash(strings.TrimLeft(rel, `/\`)))
	inside, err := filepath.Rel(root, path)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside the main root", database.ErrValidation, rel)
	}
	return path, nil
}
