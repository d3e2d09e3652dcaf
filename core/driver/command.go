package driver

import (
	"github.com/asaidimu/go-daraja/core/query"
	"github.com/asaidimu/go-daraja/core/schema"
)

// CommandKind discriminates the mutation union.
type CommandKind string

// Supported mutation kinds.
const (
	CommandCreate     CommandKind = "create"
	CommandUpdate     CommandKind = "update"
	CommandDelete     CommandKind = "delete"
	CommandBulkCreate CommandKind = "bulk_create"
	CommandBulkUpdate CommandKind = "bulk_update"
	CommandBulkDelete CommandKind = "bulk_delete"
)

// IsBulk reports whether the kind carries per-record entries.
func (k CommandKind) IsBulk() bool {
	switch k {
	case CommandBulkCreate, CommandBulkUpdate, CommandBulkDelete:
		return true
	}
	return false
}

// BulkEntry is one record of a bulk command. Creates carry a Document,
// updates a Document (the patch) and a Filter (the target), deletes a
// Filter.
type BulkEntry struct {
	Document schema.Document    `json:"document,omitempty"`
	Filter   *query.QueryFilter `json:"filter,omitempty"`
}

// Command is the mutation union handed to a backend. Exactly the fields of
// the declared Kind are meaningful: Document for create/update, Filter for
// update/delete, Entries for bulk kinds. A set Transaction scopes the
// command to it.
type Command struct {
	Kind        CommandKind        `json:"kind"`
	Object      *schema.Object     `json:"-"`
	Document    schema.Document    `json:"document,omitempty"`
	Filter      *query.QueryFilter `json:"filter,omitempty"`
	Entries     []BulkEntry        `json:"entries,omitempty"`
	Transaction *Transaction       `json:"-"`
}

// RecordResult is the outcome of one entry of a bulk command. A bulk
// command keeps going after individual failures; every entry gets exactly
// one result, in entry order.
type RecordResult struct {
	Index    int   `json:"index"`
	Affected int64 `json:"affected"`
	Err      error `json:"-"`
}

// Failed reports whether the entry failed.
func (r RecordResult) Failed() bool {
	return r.Err != nil
}

// CommandResult is the uniform result of a mutation.
type CommandResult struct {
	Kind     CommandKind     `json:"kind"`
	Affected int64           `json:"affected"`
	Document schema.Document `json:"document,omitempty"`
	Records  []RecordResult  `json:"records,omitempty"`
}

// FailedRecords returns the bulk entries that failed, in entry order.
func (r *CommandResult) FailedRecords() []RecordResult {
	var failed []RecordResult
	for _, record := range r.Records {
		if record.Failed() {
			failed = append(failed, record)
		}
	}
	return failed
}
