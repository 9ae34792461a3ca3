package database

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// DecodeRow decodes row into out, a pointer to a struct whose fields carry
// `db` tags. SQLite stores values loosely, so integers decode into bools and
// strings decode into numbers where the field type asks for it.
func DecodeRow(row Row, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "db",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook:       bytesToStringHook,
	})
	if err != nil {
		return fmt.Errorf("failed to create row decoder: %w", err)
	}
	if err := decoder.Decode(map[string]any(row)); err != nil {
		return fmt.Errorf("failed to decode row: %w", err)
	}
	return nil
}

// DecodeRows decodes rows into a slice of T.
func DecodeRows[T any](rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		var item T
		if err := DecodeRow(row, &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// bytesToStringHook turns TEXT columns the driver returned as []byte into
// strings.
func bytesToStringHook(from, to reflect.Type, data any) (any, error) {
	if from == reflect.TypeOf([]byte(nil)) && to.Kind() == reflect.String {
		return string(data.([]byte)), nil
	}
	return data, nil
}

// Page is a PageResult whose rows are decoded into T.
type Page[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Size       int   `json:"size"`
	TotalPages int   `json:"totalPages"`
	HasNext    bool  `json:"hasNext"`
	HasPrev    bool  `json:"hasPrev"`
}

// DecodePage decodes the rows of result into T.
func DecodePage[T any](result *PageResult) (*Page[T], error) {
	items, err := DecodeRows[T](result.Items)
	if err != nil {
		return nil, err
	}
	return &Page[T]{
		Items:      items,
		Total:      result.Total,
		Page:       result.CurrentPage,
		Size:       result.PageSize,
		TotalPages: result.TotalPages,
		HasNext:    result.HasNext,
		HasPrev:    result.HasPrev,
	}, nil
}

// ValuesFromStruct turns the `db`-tagged fields of v into Values in column
// order. Pointer fields are dereferenced; a nil pointer is NULL unless the
// tag carries omitempty, in which case the column is left out.
func ValuesFromStruct(v any) (Values, error) {
	m := map[string]any{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "db",
		Result:  &m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create value encoder: %w", err)
	}
	if err := decoder.Decode(v); err != nil {
		return nil, fmt.Errorf("failed to encode values: %w", err)
	}

	for column, value := range m {
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Pointer {
			continue
		}
		if rv.IsNil() {
			m[column] = nil
		} else {
			m[column] = rv.Elem().Interface()
		}
	}
	return ValuesFromMap(m), nil
}
