package schema

import "fmt"

// ValidatePayload checks a write payload against an object definition. When
// partial is true (updates), required fields may be absent; unknown, computed
// and type-mismatched fields are always issues. Warnings (deprecated fields)
// do not affect Valid.
func ValidatePayload(obj *Object, doc Document, partial bool) *ValidationResult {
	result := &ValidationResult{Valid: true}
	report := func(issue Issue) {
		if issue.Severity == "" {
			issue.Severity = "error"
		}
		if issue.Severity == "error" {
			result.Valid = false
		}
		result.Issues = append(result.Issues, issue)
	}

	for name, value := range doc {
		def := obj.Field(name)
		if def == nil {
			report(Issue{
				Code:    "field:unknown",
				Message: fmt.Sprintf("object %q has no field %q", obj.Name, name),
				Path:    name,
			})
			continue
		}
		if def.IsComputed() {
			report(Issue{
				Code:    "field:computed",
				Message: fmt.Sprintf("field %q is computed and cannot be written", name),
				Path:    name,
			})
			continue
		}
		if def.Deprecated != nil && *def.Deprecated {
			report(Issue{
				Code:     "field:deprecated",
				Message:  fmt.Sprintf("field %q is deprecated", name),
				Path:     name,
				Severity: "warning",
			})
		}
		if value == nil {
			continue
		}
		if ok, want := matchesType(def, value); !ok {
			report(Issue{
				Code:    "field:type",
				Message: fmt.Sprintf("field %q expects %s, got %T", name, want, value),
				Path:    name,
			})
		}
	}

	if !partial {
		for name, def := range obj.Fields {
			if def.IsComputed() {
				continue
			}
			if def.Required == nil || !*def.Required || def.Default != nil {
				continue
			}
			if _, present := doc[name]; !present {
				report(Issue{
					Code:    "field:required",
					Message: fmt.Sprintf("field %q is required", name),
					Path:    name,
				})
			}
		}
	}
	return result
}

func matchesType(def *FieldDefinition, value any) (bool, FieldType) {
	switch def.Type {
	case FieldTypeString:
		_, ok := value.(string)
		return ok, def.Type
	case FieldTypeBoolean:
		_, ok := value.(bool)
		return ok, def.Type
	case FieldTypeInteger:
		switch v := value.(type) {
		case int, int32, int64:
			return true, def.Type
		case float64:
			return v == float64(int64(v)), def.Type
		case float32:
			return v == float32(int64(v)), def.Type
		}
		return false, def.Type
	case FieldTypeNumber, FieldTypeDecimal:
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true, def.Type
		}
		return false, def.Type
	case FieldTypeArray:
		_, ok := value.([]any)
		return ok, def.Type
	case FieldTypeObject, FieldTypeRecord:
		switch value.(type) {
		case map[string]any, Document:
			return true, def.Type
		}
		return false, def.Type
	case FieldTypeEnum:
		for _, allowed := range def.Values {
			if allowed == value {
				return true, def.Type
			}
		}
		return false, def.Type
	default:
		return true, def.Type
	}
}
