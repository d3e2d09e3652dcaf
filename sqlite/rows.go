package sqlite

import (
	"database/sql"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/asaidimu/go-daraja/core/driver"
	"github.com/asaidimu/go-daraja/core/schema"
)

// readRows decodes a result set into documents, converting SQLite storage
// representations back to declared field types: integers to booleans, JSON
// text to structured values, byte slices to strings.
func readRows(logger *zap.Logger, obj *schema.Object, rows *sql.Rows) ([]schema.Document, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "read columns")
	}

	var docs []schema.Document
	for rows.Next() {
		values := make([]any, len(columns))
		scan := make([]any, len(columns))
		for i := range values {
			scan[i] = &values[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, errors.Wrap(err, "scan row")
		}

		doc := make(schema.Document, len(columns))
		for i, column := range columns {
			doc[column] = decodeColumn(logger, obj, column, values[i])
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate rows")
	}
	return docs, nil
}

func decodeColumn(logger *zap.Logger, obj *schema.Object, column string, value any) any {
	if value == nil {
		return nil
	}
	def := obj.Field(column)
	if def == nil {
		logger.Warn("column missing from object metadata",
			zap.String("object", obj.Name), zap.String("column", column))
		return value
	}

	switch def.Type {
	case schema.FieldTypeBoolean:
		switch v := value.(type) {
		case int64:
			return v != 0
		case bool:
			return v
		}
	case schema.FieldTypeString, schema.FieldTypeEnum:
		switch v := value.(type) {
		case []byte:
			return string(v)
		case string:
			return v
		}
	case schema.FieldTypeInteger:
		switch v := value.(type) {
		case int64:
			return v
		case float64:
			return int64(v)
		}
	case schema.FieldTypeNumber, schema.FieldTypeDecimal:
		switch v := value.(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		}
	case schema.FieldTypeObject, schema.FieldTypeArray, schema.FieldTypeRecord:
		var raw []byte
		switch v := value.(type) {
		case []byte:
			raw = v
		case string:
			raw = []byte(v)
		}
		if raw != nil {
			var decoded any
			if err := json.Unmarshal(raw, &decoded); err == nil {
				return decoded
			}
		}
	}
	return value
}

// readAggregates decodes the single row an aggregate select produces into
// an alias-keyed map.
func readAggregates(rows *sql.Rows) (*driver.QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "read columns")
	}
	aggregates := make(map[string]any, len(columns))
	if rows.Next() {
		values := make([]any, len(columns))
		scan := make([]any, len(columns))
		for i := range values {
			scan[i] = &values[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, errors.Wrap(err, "scan aggregates")
		}
		for i, column := range columns {
			aggregates[column] = values[i]
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate rows")
	}
	return &driver.QueryResult{Aggregates: aggregates}, nil
}
