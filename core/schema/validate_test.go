package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issueCodes(result *ValidationResult) []string {
	codes := make([]string, 0, len(result.Issues))
	for _, issue := range result.Issues {
		codes = append(codes, issue.Code)
	}
	return codes
}

func TestValidatePayload_Valid(t *testing.T) {
	obj := taskObject()
	result := ValidatePayload(obj, Document{
		"id":       "t-1",
		"title":    "write report",
		"priority": "high",
		"estimate": 2.5,
	}, false)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Issues)
}

func TestValidatePayload_Issues(t *testing.T) {
	obj := taskObject()

	tests := []struct {
		name    string
		doc     Document
		partial bool
		codes   []string
	}{
		{
			name:  "unknown field",
			doc:   Document{"id": "t-1", "title": "x", "color": "red"},
			codes: []string{"field:unknown"},
		},
		{
			name:  "computed field rejected",
			doc:   Document{"id": "t-1", "title": "x", "label": "x (high)"},
			codes: []string{"field:computed"},
		},
		{
			name:  "type mismatch",
			doc:   Document{"id": "t-1", "title": 42},
			codes: []string{"field:type"},
		},
		{
			name:  "enum out of range",
			doc:   Document{"id": "t-1", "title": "x", "priority": "urgent"},
			codes: []string{"field:type"},
		},
		{
			name:  "missing required on create",
			doc:   Document{"id": "t-1"},
			codes: []string{"field:required"},
		},
		{
			name:    "missing required allowed on partial update",
			doc:     Document{"priority": "low"},
			partial: true,
			codes:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidatePayload(obj, tt.doc, tt.partial)
			assert.ElementsMatch(t, tt.codes, issueCodes(result))
			assert.Equal(t, len(tt.codes) == 0, result.Valid)
		})
	}
}

func TestValidatePayload_IntegerAcceptsWholeFloats(t *testing.T) {
	obj := &Object{
		Name:       "metric",
		PrimaryKey: "id",
		Fields: map[string]*FieldDefinition{
			"id":    {Name: "id", Type: FieldTypeString},
			"count": {Name: "count", Type: FieldTypeInteger},
		},
	}

	result := ValidatePayload(obj, Document{"id": "m-1", "count": float64(3)}, false)
	assert.True(t, result.Valid, "JSON-decoded whole number should pass integer check")

	result = ValidatePayload(obj, Document{"id": "m-1", "count": 3.5}, false)
	require.False(t, result.Valid)
	assert.Equal(t, "field:type", result.Issues[0].Code)
}

func TestValidatePayload_DeprecatedIsWarning(t *testing.T) {
	deprecated := true
	obj := &Object{
		Name:       "legacy",
		PrimaryKey: "id",
		Fields: map[string]*FieldDefinition{
			"id":  {Name: "id", Type: FieldTypeString},
			"old": {Name: "old", Type: FieldTypeString, Deprecated: &deprecated},
		},
	}

	result := ValidatePayload(obj, Document{"id": "l-1", "old": "still here"}, false)
	assert.True(t, result.Valid)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "warning", result.Issues[0].Severity)
}
