package access

import (
	"fmt"
	"strings"
)

// ObjectAccessDeniedError reports that no grant allows the subject to
// perform the operation on the object at all. Compilation stops before any
// row or field logic runs.
type ObjectAccessDeniedError struct {
	Subject   string
	Object    string
	Operation Operation
}

func (e *ObjectAccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: subject %q cannot %s object %q", e.Subject, e.Operation, e.Object)
}

// FieldEditDeniedError reports a write that touches fields the subject may
// not modify. Denied fields are enumerated; writes are never silently
// stripped down to the permitted subset.
type FieldEditDeniedError struct {
	Subject string
	Object  string
	Fields  []string
}

func (e *FieldEditDeniedError) Error() string {
	return fmt.Sprintf("edit denied: subject %q cannot modify fields [%s] of object %q",
		e.Subject, strings.Join(e.Fields, ", "), e.Object)
}

// PlaceholderError reports a row-filter placeholder that could not be bound
// from the identity. Unresolvable placeholders fail closed.
type PlaceholderError struct {
	Placeholder string
	Object      string
}

func (e *PlaceholderError) Error() string {
	return fmt.Sprintf("cannot bind placeholder %q in row filter for object %q", e.Placeholder, e.Object)
}
