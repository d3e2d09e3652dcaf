package postgres

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/asaidimu/go-daraja/core/driver"
	"github.com/asaidimu/go-daraja/core/schema"
)

// readRows decodes a result set into documents. pgx hands back native Go
// values for most types; NUMERIC columns arrive as pgtype.Numeric and fold
// to float64, JSONB columns arrive already decoded.
func readRows(logger *zap.Logger, obj *schema.Object, rows pgx.Rows) ([]schema.Document, error) {
	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = fd.Name
	}

	var docs []schema.Document
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.Wrap(err, "read row")
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
		return normalizeScalar(value)
	}

	switch def.Type {
	case schema.FieldTypeString, schema.FieldTypeEnum:
		switch v := value.(type) {
		case string:
			return v
		case []byte:
			return string(v)
		}
	case schema.FieldTypeInteger:
		switch v := value.(type) {
		case int64:
			return v
		case int32:
			return int64(v)
		case int16:
			return int64(v)
		case float64:
			return int64(v)
		}
	case schema.FieldTypeNumber, schema.FieldTypeDecimal:
		switch v := value.(type) {
		case float64:
			return v
		case float32:
			return float64(v)
		case int64:
			return float64(v)
		case pgtype.Numeric:
			if f, err := v.Float64Value(); err == nil && f.Valid {
				return f.Float64
			}
		}
	case schema.FieldTypeObject, schema.FieldTypeArray, schema.FieldTypeRecord:
		switch v := value.(type) {
		case map[string]any, []any:
			return v
		case []byte:
			var decoded any
			if err := json.Unmarshal(v, &decoded); err == nil {
				return decoded
			}
		case string:
			var decoded any
			if err := json.Unmarshal([]byte(v), &decoded); err == nil {
				return decoded
			}
		}
	}
	return normalizeScalar(value)
}

// normalizeScalar folds pgx wrapper types to plain Go values.
func normalizeScalar(value any) any {
	if n, ok := value.(pgtype.Numeric); ok {
		if f, err := n.Float64Value(); err == nil && f.Valid {
			return f.Float64
		}
	}
	return value
}

// readAggregates decodes the single row an aggregate select produces into
// an alias-keyed map. SUM and AVG over integer columns come back NUMERIC
// and are folded like any other scalar.
func readAggregates(rows pgx.Rows) (*driver.QueryResult, error) {
	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = fd.Name
	}

	aggregates := make(map[string]any, len(columns))
	if rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.Wrap(err, "read aggregates")
		}
		for i, column := range columns {
			aggregates[column] = normalizeScalar(values[i])
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate rows")
	}
	return &driver.QueryResult{Aggregates: aggregates}, nil
}
