// Package personinfo manages the person_info table of the primary database:
// what the bot knows and thinks about the people it talks to.
package personinfo

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DrSmoothl/HMML2/internal/database"
)

const (
	// Table is the person_info table name.
	Table = "person_info"

	// MaxPageSize bounds List pages.
	MaxPageSize = 100

	recentWindow = 7 * 24 * time.Hour
	topLimit     = 5
)

// ErrNotFound is returned when the addressed person does not exist.
var ErrNotFound = errors.New("person not found")

// Person is one row of the person_info table.
type Person struct {
	ID                          int64    `db:"id" json:"id"`
	IsKnown                     int      `db:"is_known" json:"is_known"`
	PersonID                    string   `db:"person_id" json:"person_id"`
	PersonName                  string   `db:"person_name" json:"person_name"`
	NameReason                  *string  `db:"name_reason" json:"name_reason"`
	Platform                    string   `db:"platform" json:"platform"`
	UserID                      string   `db:"user_id" json:"user_id"`
	Nickname                    string   `db:"nickname" json:"nickname"`
	Impression                  *string  `db:"impression" json:"impression"`
	ShortImpression             *string  `db:"short_impression" json:"short_impression"`
	Points                      *string  `db:"points" json:"points"`
	ForgottenPoints             *string  `db:"forgotten_points" json:"forgotten_points"`
	InfoList                    *string  `db:"info_list" json:"info_list"`
	KnowTimes                   *float64 `db:"know_times" json:"know_times"`
	KnowSince                   *float64 `db:"know_since" json:"know_since"`
	LastKnow                    *float64 `db:"last_know" json:"last_know"`
	AttitudeToMe                *string  `db:"attitude_to_me" json:"attitude_to_me"`
	AttitudeToMeConfidence      *float64 `db:"attitude_to_me_confidence" json:"attitude_to_me_confidence"`
	FriendlyValue               *float64 `db:"friendly_value" json:"friendly_value"`
	FriendlyValueConfidence     *float64 `db:"friendly_value_confidence" json:"friendly_value_confidence"`
	Rudeness                    *string  `db:"rudeness" json:"rudeness"`
	RudenessConfidence          *float64 `db:"rudeness_confidence" json:"rudeness_confidence"`
	Neuroticism                 *string  `db:"neuroticism" json:"neuroticism"`
	NeuroticismConfidence       *float64 `db:"neuroticism_confidence" json:"neuroticism_confidence"`
	Conscientiousness           *string  `db:"conscientiousness" json:"conscientiousness"`
	ConscientiousnessConfidence *float64 `db:"conscientiousness_confidence" json:"conscientiousness_confidence"`
	Likeness                    *string  `db:"likeness" json:"likeness"`
	LikenessConfidence          *float64 `db:"likeness_confidence" json:"likeness_confidence"`
}

// Data is the payload of Create and Update. On Update, nil fields are left
// unchanged; on Create they are stored as NULL, except the point lists
// which default to "[]" and know_times which defaults to 0.
type Data struct {
	PersonID                    *string  `db:"person_id,omitempty" json:"person_id"`
	PersonName                  *string  `db:"person_name,omitempty" json:"person_name"`
	NameReason                  *string  `db:"name_reason,omitempty" json:"name_reason"`
	Platform                    *string  `db:"platform,omitempty" json:"platform"`
	UserID                      *string  `db:"user_id,omitempty" json:"user_id"`
	Nickname                    *string  `db:"nickname,omitempty" json:"nickname"`
	Impression                  *string  `db:"impression,omitempty" json:"impression"`
	ShortImpression             *string  `db:"short_impression,omitempty" json:"short_impression"`
	Points                      *string  `db:"points,omitempty" json:"points"`
	ForgottenPoints             *string  `db:"forgotten_points,omitempty" json:"forgotten_points"`
	InfoList                    *string  `db:"info_list,omitempty" json:"info_list"`
	KnowTimes                   *float64 `db:"know_times,omitempty" json:"know_times"`
	KnowSince                   *float64 `db:"know_since,omitempty" json:"know_since"`
	LastKnow                    *float64 `db:"last_know,omitempty" json:"last_know"`
	AttitudeToMe                *string  `db:"attitude_to_me,omitempty" json:"attitude_to_me"`
	AttitudeToMeConfidence      *float64 `db:"attitude_to_me_confidence,omitempty" json:"attitude_to_me_confidence"`
	FriendlyValue               *float64 `db:"friendly_value,omitempty" json:"friendly_value"`
	FriendlyValueConfidence     *float64 `db:"friendly_value_confidence,omitempty" json:"friendly_value_confidence"`
	Rudeness                    *string  `db:"rudeness,omitempty" json:"rudeness"`
	RudenessConfidence          *float64 `db:"rudeness_confidence,omitempty" json:"rudeness_confidence"`
	Neuroticism                 *string  `db:"neuroticism,omitempty" json:"neuroticism"`
	NeuroticismConfidence       *float64 `db:"neuroticism_confidence,omitempty" json:"neuroticism_confidence"`
	Conscientiousness           *string  `db:"conscientiousness,omitempty" json:"conscientiousness"`
	ConscientiousnessConfidence *float64 `db:"conscientiousness_confidence,omitempty" json:"conscientiousness_confidence"`
	Likeness                    *string  `db:"likeness,omitempty" json:"likeness"`
	LikenessConfidence          *float64 `db:"likeness_confidence,omitempty" json:"likeness_confidence"`
}

// required lists the identity columns Create insists on and Update refuses
// to blank.
func (d Data) required() map[string]*string {
	return map[string]*string{
		"person_id": d.PersonID, "person_name": d.PersonName, "platform": d.Platform,
		"user_id": d.UserID, "nickname": d.Nickname,
	}
}

// FilterOptions narrows List. Everything but Platform matches substrings.
type FilterOptions struct {
	PersonID   string
	PersonName string
	Platform   string
	UserID     string
}

func (f FilterOptions) filter() database.Filter {
	var out database.Filter
	if f.PersonID != "" {
		out = append(out, database.Contains("person_id", f.PersonID))
	}
	if f.PersonName != "" {
		out = append(out, database.Contains("person_name", f.PersonName))
	}
	if f.Platform != "" {
		out = append(out, database.Eq("platform", f.Platform))
	}
	if f.UserID != "" {
		out = append(out, database.Contains("user_id", f.UserID))
	}
	return out
}

// ListParams selects one page of persons, newest first.
type ListParams struct {
	database.PageRequest
	Filter FilterOptions
}

// Page is one page of typed persons.
type Page = database.Page[Person]

// TopPerson is one entry of Stats.TopByKnowTimes.
type TopPerson struct {
	ID         int64   `db:"id" json:"id"`
	PersonName string  `db:"person_name" json:"person_name"`
	KnowTimes  float64 `db:"know_times" json:"know_times"`
}

// Stats aggregates the person_info table.
type Stats struct {
	Total               int64            `json:"total"`
	ByPlatform          map[string]int64 `json:"byPlatform"`
	ByFriendlyValue     map[string]int64 `json:"byFriendlyValue"`
	ByAttitudeToMe      map[string]int64 `json:"byAttitudeToMe"`
	ByRudeness          map[string]int64 `json:"byRudeness"`
	ByNeuroticism       map[string]int64 `json:"byNeuroticism"`
	ByConscientiousness map[string]int64 `json:"byConscientiousness"`
	ByLikeness          map[string]int64 `json:"byLikeness"`
	AvgKnowTimes        float64          `json:"avgKnowTimes"`
	AvgFriendlyValue    float64          `json:"avgFriendlyValue"`
	TotalKnowTimes      float64          `json:"totalKnowTimes"`
	RecentActive        int64            `json:"recentActive"`
	TopByKnowTimes      []TopPerson      `json:"topPersons"`
}

// levels names the buckets of a 0-10 trait score, lowest first.
type levels [4]string

var (
	scoreLevels    = levels{"low", "medium", "high", "very_high"}
	attitudeLevels = levels{"negative", "neutral", "positive", "very_positive"}
)

// OperatorSource hands out operators by connection name.
type OperatorSource interface {
	GetOperator(name string) *database.Operator
}

// Service implements person queries on the primary database.
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

// List returns one page of persons ordered by id, newest first.
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
	return database.DecodePage[Person](result)
}

// Get returns the person with id, or nil when it does not exist.
func (s *Service) Get(id int64) (*Person, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: person id must be positive", database.ErrValidation)
	}

	op, err := s.operator()
	if err != nil {
		return nil, err
	}

	row, err := op.FindOne(Table, database.Filter{database.Eq("id", id)})
	if err != nil || row == nil {
		return nil, err
	}

	var p Person
	if err := database.DecodeRow(row, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Create stores a new person and returns its id.
func (s *Service) Create(data Data) (int64, error) {
	for column, value := range data.required() {
		if value == nil || strings.TrimSpace(*value) == "" {
			return 0, fmt.Errorf("%w: %s must not be empty", database.ErrValidation, column)
		}
	}

	empty, zero := "[]", 0.0
	if data.ForgottenPoints == nil || *data.ForgottenPoints == "" {
		data.ForgottenPoints = &empty
	}
	if data.InfoList == nil || *data.InfoList == "" {
		data.InfoList = &empty
	}
	if data.KnowTimes == nil {
		data.KnowTimes = &zero
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
		return 0, fmt.Errorf("failed to insert person")
	}

	log.Info().Int64("id", *res.LastInsertID).Str("person_id", *data.PersonID).Msg("Person created")
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
		log.Warn().Int64("id", id).Msg("Person update has no fields")
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

	log.Info().Int64("id", id).Int("fields", len(values)).Msg("Person updated")
	return res.Success, nil
}

// Delete removes the person with id.
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

	log.Info().Int64("id", id).Msg("Person deleted")
	return nil
}

// Platforms lists the distinct platforms, alphabetically.
func (s *Service) Platforms() ([]string, error) {
	op, err := s.operator()
	if err != nil {
		return nil, err
	}

	rows, err := op.QueryRaw("SELECT DISTINCT platform FROM " + Table + " WHERE platform IS NOT NULL AND platform != '' ORDER BY platform")
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(rows))
	for _, row := range rows {
		var p struct {
			Platform string `db:"platform"`
		}
		if err := database.DecodeRow(row, &p); err != nil {
			return nil, err
		}
		out = append(out, p.Platform)
	}
	return out, nil
}

// Stats aggregates the person_info table.
func (s *Service) Stats() (*Stats, error) {
	op, err := s.operator()
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	if stats.Total, err = op.Count(Table, nil); err != nil {
		return nil, err
	}
	if stats.ByPlatform, err = op.CountBy(Table, "platform", 0); err != nil {
		return nil, err
	}

	for _, g := range []struct {
		column string
		names  levels
		dst    *map[string]int64
	}{
		{"friendly_value", scoreLevels, &stats.ByFriendlyValue},
		{"attitude_to_me", attitudeLevels, &stats.ByAttitudeToMe},
		{"rudeness", scoreLevels, &stats.ByRudeness},
		{"neuroticism", scoreLevels, &stats.ByNeuroticism},
		{"conscientiousness", scoreLevels, &stats.ByConscientiousness},
		{"likeness", scoreLevels, &stats.ByLikeness},
	} {
		if *g.dst, err = levelCounts(op, g.column, g.names); err != nil {
			return nil, err
		}
	}

	aggs, err := op.QueryRaw(`SELECT
		AVG(CAST(know_times AS REAL)) AS avg_know_times,
		SUM(CAST(know_times AS REAL)) AS total_know_times,
		AVG(CAST(friendly_value AS REAL)) AS avg_friendly
		FROM ` + Table)
	if err != nil {
		return nil, err
	}
	if len(aggs) > 0 {
		var agg struct {
			AvgKnowTimes   *float64 `db:"avg_know_times"`
			TotalKnowTimes *float64 `db:"total_know_times"`
			AvgFriendly    *float64 `db:"avg_friendly"`
		}
		if err := database.DecodeRow(aggs[0], &agg); err != nil {
			return nil, err
		}
		stats.AvgKnowTimes = valueOr(agg.AvgKnowTimes)
		stats.TotalKnowTimes = valueOr(agg.TotalKnowTimes)
		stats.AvgFriendlyValue = valueOr(agg.AvgFriendly)
	}

	since := float64(s.now().Add(-recentWindow).UnixNano()) / float64(time.Second)
	if stats.RecentActive, err = op.Count(Table, database.Filter{database.Gt("last_know", since)}); err != nil {
		return nil, err
	}

	top, err := op.QueryRaw(fmt.Sprintf(
		"SELECT id, person_name, CAST(know_times AS REAL) AS know_times FROM %s WHERE know_times IS NOT NULL ORDER BY CAST(know_times AS REAL) DESC LIMIT %d",
		Table, topLimit))
	if err != nil {
		return nil, err
	}
	if stats.TopByKnowTimes, err = database.DecodeRows[TopPerson](top); err != nil {
		return nil, err
	}

	return stats, nil
}

// levelCounts buckets a 0-10 score column: <=2, <=5, <=8, above. NULL
// scores count as "unknown".
func levelCounts(op *database.Operator, column string, names levels) (map[string]int64, error) {
	rows, err := op.QueryRaw(fmt.Sprintf(`SELECT
		CASE
			WHEN %[1]s IS NULL THEN 'unknown'
			WHEN CAST(%[1]s AS INTEGER) <= 2 THEN '%[3]s'
			WHEN CAST(%[1]s AS INTEGER) <= 5 THEN '%[4]s'
			WHEN CAST(%[1]s AS INTEGER) <= 8 THEN '%[5]s'
			ELSE '%[6]s'
		END AS level,
		COUNT(*) AS n
		FROM %[2]s GROUP BY level`, column, Table, names[0], names[1], names[2], names[3]))
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		var c struct {
			Level string `db:"level"`
			N     int64  `db:"n"`
		}
		if err := database.DecodeRow(row, &c); err != nil {
			return nil, err
		}
		out[c.Level] = c.N
	}
	return out, nil
}

func valueOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
