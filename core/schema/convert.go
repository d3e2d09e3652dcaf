package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// ToDocument converts a struct into a Document through a JSON round
// trip, honoring json tags. Nested structs become nested maps, so the
// result is what a backend would hand back for the same data. The input
// must be a struct or a non-nil pointer to one.
func ToDocument[T any](record T) (Document, error) {
	val := reflect.ValueOf(record)
	if !val.IsValid() {
		return nil, fmt.Errorf("record cannot be nil")
	}
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, fmt.Errorf("record cannot be a nil pointer")
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return nil, fmt.Errorf("record must be a struct, got %s", val.Kind())
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode record into document: %w", err)
	}
	return doc, nil
}

// FromDocument converts a Document into a value of type T, the inverse
// of ToDocument. T must be a struct type or a pointer to one.
func FromDocument[T any](doc Document) (T, error) {
	var result T
	if doc == nil {
		return result, fmt.Errorf("document cannot be nil")
	}
	typ := reflect.TypeOf(result)
	if typ != nil && typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ == nil || typ.Kind() != reflect.Struct {
		return result, fmt.Errorf("target must be a struct type, got %v", typ)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return result, fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("decode document into %s: %w", typ.Name(), err)
	}
	return result, nil
}
