package pebble

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/asaidimu/go-daraja/core/schema"
)

// Row keys are the object name, a NUL separator, then the canonical text of
// the primary key value. Object names never contain NUL, so every object
// owns a disjoint key range and a scan over [prefix, prefixEnd) visits
// exactly its rows. Keys order bytewise; result ordering comes from the
// query's sort, not from the scan.

func rowKey(object string, pk any) []byte {
	return append(prefix(object), canonicalKey(pk)...)
}

func prefix(object string) []byte {
	return append([]byte(object), 0x00)
}

func prefixEnd(object string) []byte {
	return append([]byte(object), 0x01)
}

func canonicalKey(pk any) []byte {
	switch v := pk.(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return []byte(fmt.Sprintf("%v", v))
	}
}

func encodeDocument(doc schema.Document) ([]byte, error) {
	value, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "encode document")
	}
	return value, nil
}

func decodeDocument(value []byte) (schema.Document, error) {
	var doc schema.Document
	if err := json.Unmarshal(value, &doc); err != nil {
		return nil, errors.Wrap(err, "decode document")
	}
	return doc, nil
}
