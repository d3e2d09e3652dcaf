package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/asaidimu/go-daraja/core/driver"
	"github.com/asaidimu/go-daraja/core/schema"
)

// EnsureObject creates the table and indexes backing obj when missing.
// Computed fields are virtual and get no column; full-text indexes would
// need FTS virtual tables and are skipped.
func (b *Backend) EnsureObject(ctx context.Context, obj *schema.Object) error {
	stmt, err := b.createTableSQL(obj)
	if err != nil {
		return errors.Wrapf(err, "table DDL for %q", obj.Name)
	}
	if _, err := b.db.ExecContext(ctx, stmt); err != nil {
		return driver.NewBackendError(b.Name(), "create table", err)
	}
	if !b.opts.CreateIndexes {
		return nil
	}
	for _, index := range obj.Indexes {
		stmt, err := b.createIndexSQL(obj, index)
		if err != nil {
			return errors.Wrapf(err, "index DDL for %q", index.Name)
		}
		if stmt == "" {
			continue
		}
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return driver.NewBackendError(b.Name(), "create index", err)
		}
	}
	return nil
}

func (b *Backend) createTableSQL(obj *schema.Object) (string, error) {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	if b.opts.IfNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(quoteIdentifier(b.opts.TablePrefix + obj.Name))
	sb.WriteString(" (\n")

	stored := obj.StoredFieldNames()
	if len(stored) == 0 {
		return "", errors.Newf("object %q has no stored fields", obj.Name)
	}
	columns := make([]string, 0, len(stored))
	for _, name := range stored {
		def, err := columnDefinition(name, obj.Fields[name])
		if err != nil {
			return "", errors.Wrapf(err, "field %q", name)
		}
		columns = append(columns, "    "+def)
	}
	sb.WriteString(strings.Join(columns, ",\n"))
	if obj.PrimaryKey != "" {
		sb.WriteString(",\n    PRIMARY KEY (" + quoteIdentifier(obj.PrimaryKey) + ")")
	}
	sb.WriteString("\n);")
	return sb.String(), nil
}

func columnDefinition(name string, field *schema.FieldDefinition) (string, error) {
	parts := []string{quoteIdentifier(name), columnType(field.Type)}
	if field.Required != nil && *field.Required {
		parts = append(parts, "NOT NULL")
	}
	if field.Default != nil {
		formatted, err := formatDefault(field.Default, field.Type)
		if err != nil {
			return "", err
		}
		parts = append(parts, "DEFAULT "+formatted)
	}
	if field.Unique != nil && *field.Unique {
		parts = append(parts, "UNIQUE")
	}
	if field.Type == schema.FieldTypeEnum && len(field.Values) > 0 {
		values := make([]string, 0, len(field.Values))
		for _, v := range field.Values {
			formatted, err := formatDefault(v, schema.FieldTypeString)
			if err != nil {
				return "", err
			}
			values = append(values, formatted)
		}
		parts = append(parts, fmt.Sprintf("CHECK(%s IN (%s))",
			quoteIdentifier(name), strings.Join(values, ", ")))
	}
	return strings.Join(parts, " "), nil
}

func columnType(fieldType schema.FieldType) string {
	switch fieldType {
	case schema.FieldTypeString, schema.FieldTypeEnum:
		return "TEXT"
	case schema.FieldTypeNumber, schema.FieldTypeDecimal:
		return "REAL"
	case schema.FieldTypeInteger:
		return "INTEGER"
	case schema.FieldTypeBoolean:
		return "INTEGER"
	case schema.FieldTypeObject, schema.FieldTypeArray, schema.FieldTypeRecord:
		return "TEXT"
	default:
		return "BLOB"
	}
}

func formatDefault(value any, fieldType schema.FieldType) (string, error) {
	if value == nil {
		return "NULL", nil
	}
	switch fieldType {
	case schema.FieldTypeString, schema.FieldTypeEnum:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", value), "'", "''") + "'", nil
	case schema.FieldTypeNumber, schema.FieldTypeInteger, schema.FieldTypeDecimal:
		return fmt.Sprintf("%v", value), nil
	case schema.FieldTypeBoolean:
		if b, ok := value.(bool); ok && b {
			return "1", nil
		}
		return "0", nil
	case schema.FieldTypeObject, schema.FieldTypeArray, schema.FieldTypeRecord:
		raw, err := json.Marshal(value)
		if err != nil {
			return "", errors.Wrap(err, "encode default")
		}
		return "'" + strings.ReplaceAll(string(raw), "'", "''") + "'", nil
	default:
		return "", errors.Newf("no DDL default rendering for type %q", fieldType)
	}
}

func (b *Backend) createIndexSQL(obj *schema.Object, index schema.IndexDefinition) (string, error) {
	if index.Type == schema.IndexTypePrimary || index.Type == schema.IndexTypeFullText {
		return "", nil
	}
	if len(index.Fields) == 0 {
		return "", errors.Newf("index %q has no fields", index.Name)
	}
	table := b.opts.TablePrefix + obj.Name
	name := index.Name
	if name == "" {
		name = fmt.Sprintf("idx_%s_%s", table, strings.Join(index.Fields, "_"))
	}

	var sb strings.Builder
	sb.WriteString("CREATE ")
	if (index.Unique != nil && *index.Unique) || index.Type == schema.IndexTypeUnique {
		sb.WriteString("UNIQUE ")
	}
	sb.WriteString("INDEX ")
	if b.opts.IfNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(quoteIdentifier(name))
	sb.WriteString(" ON ")
	sb.WriteString(quoteIdentifier(table))

	fields := make([]string, len(index.Fields))
	for i, field := range index.Fields {
		if !obj.HasField(field) {
			return "", errors.Newf("index %q names unknown field %q", name, field)
		}
		fields[i] = quoteIdentifier(field)
	}
	sb.WriteString(" (" + strings.Join(fields, ", ") + ");")
	return sb.String(), nil
}

// DropObject removes the table backing an object. Meant for tooling and
// tests.
func (b *Backend) DropObject(ctx context.Context, name string) error {
	stmt := "DROP TABLE IF EXISTS " + quoteIdentifier(b.opts.TablePrefix+name) + ";"
	if _, err := b.db.ExecContext(ctx, stmt); err != nil {
		return driver.NewBackendError(b.Name(), "drop table", err)
	}
	return nil
}

// ObjectExists reports whether a table backing the object exists.
func (b *Backend) ObjectExists(ctx context.Context, name string) (bool, error) {
	const stmt = "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?;"
	var found string
	err := b.db.QueryRowContext(ctx, stmt, b.opts.TablePrefix+name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, driver.NewBackendError(b.Name(), "inspect", err)
	}
	return true, nil
}
