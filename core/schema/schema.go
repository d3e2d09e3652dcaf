package schema

import "sort"

// LogicalOperator combines filter conditions.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "and" // All conditions must be true
	LogicalOr  LogicalOperator = "or"  // At least one condition must be true
	LogicalNot LogicalOperator = "not" // Negates a single condition or group
)

// FieldType represents the basic field types supported by object metadata.
type FieldType string

const (
	FieldTypeString  FieldType = "string"  // Text data
	FieldTypeNumber  FieldType = "number"  // Floating-point numeric data
	FieldTypeInteger FieldType = "integer" // Whole-number numeric data
	FieldTypeDecimal FieldType = "decimal" // Fixed-precision numeric data
	FieldTypeBoolean FieldType = "boolean" // True/false values
	FieldTypeArray   FieldType = "array"   // Ordered list of items
	FieldTypeEnum    FieldType = "enum"    // One out of a set of pre-defined values
	FieldTypeObject  FieldType = "object"  // Structured data with nested fields
	FieldTypeRecord  FieldType = "record"  // Free-form key-value object, resolves to map[string]any
)

// IndexType represents index types for optimizing different query patterns.
type IndexType string

const (
	IndexTypeNormal   IndexType = "normal"   // General-purpose index
	IndexTypeUnique   IndexType = "unique"   // Unique index
	IndexTypePrimary  IndexType = "primary"  // Primary key index (implies unique)
	IndexTypeFullText IndexType = "fulltext" // Full-text search index
)

// ComputedField declares a virtual field derived from stored fields at read
// time. Expression is evaluated against a row containing the DependsOn fields;
// computed fields are never stored and never writable.
type ComputedField struct {
	Expression string   `json:"expression"`
	DependsOn  []string `json:"dependsOn"`
}

// FieldDefinition defines a single field of an object.
type FieldDefinition struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
	// Required indicates the field is mandatory on create.
	Required *bool `json:"required,omitempty"`
	// Unique indicates the field must hold unique values.
	Unique *bool `json:"unique,omitempty"`
	// Default provides a value used when the field is absent on create.
	Default any `json:"default,omitempty"`
	// Values lists the allowed values for an 'enum' field.
	Values []any `json:"values,omitempty"`
	// ItemsType specifies the element type of an 'array' field.
	ItemsType *FieldType `json:"itemsType,omitempty"`
	// Computed marks the field as virtual; see ComputedField.
	Computed    *ComputedField `json:"computed,omitempty"`
	Deprecated  *bool          `json:"deprecated,omitempty"`
	Description *string        `json:"description,omitempty"`
}

// IsComputed reports whether the field is virtual.
func (f *FieldDefinition) IsComputed() bool {
	return f != nil && f.Computed != nil
}

// IndexDefinition defines an index over one or more fields.
type IndexDefinition struct {
	Name        string    `json:"name"`
	Fields      []string  `json:"fields"`
	Type        IndexType `json:"type"`
	Unique      *bool     `json:"unique,omitempty"`
	Description *string   `json:"description,omitempty"`
}

// Object is the resolved metadata for one queryable collection: its fields,
// indexes and primary key. Instances are treated as read-only once resolved.
type Object struct {
	Name        string                      `json:"name"`
	Version     string                      `json:"version"`
	Description *string                     `json:"description,omitempty"`
	PrimaryKey  string                      `json:"primaryKey"`
	Fields      map[string]*FieldDefinition `json:"fields"`
	Indexes     []IndexDefinition           `json:"indexes,omitempty"`
	Metadata    map[string]any              `json:"metadata,omitempty"`
}

// Field returns the definition for name, or nil when the object does not
// declare it.
func (o *Object) Field(name string) *FieldDefinition {
	if o == nil {
		return nil
	}
	return o.Fields[name]
}

// HasField reports whether the object declares name.
func (o *Object) HasField(name string) bool {
	return o.Field(name) != nil
}

// FieldNames returns all declared field names in sorted order.
func (o *Object) FieldNames() []string {
	names := make([]string, 0, len(o.Fields))
	for name := range o.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StoredFieldNames returns the sorted names of all non-computed fields.
func (o *Object) StoredFieldNames() []string {
	names := make([]string, 0, len(o.Fields))
	for name, def := range o.Fields {
		if !def.IsComputed() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// IndexFor returns the first index whose leading field is name, or nil.
func (o *Object) IndexFor(name string) *IndexDefinition {
	for i := range o.Indexes {
		idx := &o.Indexes[i]
		if len(idx.Fields) > 0 && idx.Fields[0] == name {
			return idx
		}
	}
	if name == o.PrimaryKey {
		return &IndexDefinition{Name: o.Name + "_pk", Fields: []string{o.PrimaryKey}, Type: IndexTypePrimary}
	}
	return nil
}

// Document is a single record as it crosses the execution boundary.
type Document map[string]any

// Issue represents a validation problem found in a payload.
type Issue struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Path     string `json:"path,omitempty"`
	Severity string `json:"severity,omitempty"` // "error" or "warning"
}

// ValidationResult aggregates the issues found while validating a payload.
type ValidationResult struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}
