package memory

import (
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/asaidimu/go-daraja/core/schema"
)

const btreeDegree = 16

// rowKey orders primary-key values inside the index. Numeric keys order
// numerically among themselves and sort before everything else; remaining
// values order by string form.
type rowKey struct {
	numeric bool
	num     float64
	str     string
}

func keyOf(value any) rowKey {
	switch v := value.(type) {
	case int:
		return rowKey{numeric: true, num: float64(v)}
	case int32:
		return rowKey{numeric: true, num: float64(v)}
	case int64:
		return rowKey{numeric: true, num: float64(v)}
	case float32:
		return rowKey{numeric: true, num: float64(v)}
	case float64:
		return rowKey{numeric: true, num: v}
	case string:
		return rowKey{str: v}
	default:
		return rowKey{str: fmt.Sprintf("%v", v)}
	}
}

func (k rowKey) less(other rowKey) bool {
	if k.numeric != other.numeric {
		return k.numeric
	}
	if k.numeric {
		return k.num < other.num
	}
	return k.str < other.str
}

// row is one indexed record. A deleted row stays in the tree as a tombstone
// with its document dropped, so the key keeps its slot and its version
// history until a create reclaims it.
type row struct {
	key     rowKey
	doc     schema.Document
	version uint64
	deleted bool
}

// Less implements btree.Item.
func (r *row) Less(than btree.Item) bool {
	return r.key.less(than.(*row).key)
}

// store holds one object's rows. The mutex covers the tree and the version
// counter; callers hold it across a whole operation.
type store struct {
	mu      sync.RWMutex
	tree    *btree.BTree
	version uint64
}

func newStore() *store {
	return &store{tree: btree.New(btreeDegree)}
}

func (s *store) nextVersion() uint64 {
	s.version++
	return s.version
}

// get returns the live row stored under key.
func (s *store) get(key rowKey) (*row, bool) {
	item := s.tree.Get(&row{key: key})
	if item == nil {
		return nil, false
	}
	r := item.(*row)
	if r.deleted {
		return nil, false
	}
	return r, true
}

// scanLive walks live rows in key order until fn returns false.
func (s *store) scanLive(fn func(r *row) bool) {
	s.tree.Ascend(func(item btree.Item) bool {
		r := item.(*row)
		if r.deleted {
			return true
		}
		return fn(r)
	})
}

func cloneDoc(doc schema.Document) schema.Document {
	out := make(schema.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
