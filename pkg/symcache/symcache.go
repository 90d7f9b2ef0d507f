// Package symcache memoizes symbolic type lookups against a target.Target:
// FieldOffset and TypeSize are queried once per (type, field) pair over the
// course of a walk, no matter how many LFH subsegments or backend entries
// consult them.
package symcache

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/go-heapstat/heapstat/pkg/target"
)

const defaultSize = 256

type key struct {
	fieldLookup bool
	typeName    string
	fieldName   string
}

type offsetResult struct {
	offset uint32
	err    error
}

type sizeResult struct {
	size uint32
	err  error
}

// Target wraps a target.Target, caching its FieldOffset and TypeSize
// results. Every other method is delegated unchanged.
type Target struct {
	target.Target
	cache *lru.Cache
}

// New wraps t with an LRU cache holding up to size entries. size<=0 uses a
// default of 256, comfortably larger than the type/field vocabulary a
// single walk ever touches.
func New(t target.Target, size int) (*Target, error) {
	if size <= 0 {
		size = defaultSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Target{Target: t, cache: cache}, nil
}

func (t *Target) FieldOffset(typeName, fieldName string) (uint32, error) {
	k := key{fieldLookup: true, typeName: typeName, fieldName: fieldName}
	if v, ok := t.cache.Get(k); ok {
		r := v.(offsetResult)
		return r.offset, r.err
	}
	offset, err := t.Target.FieldOffset(typeName, fieldName)
	t.cache.Add(k, offsetResult{offset, err})
	return offset, err
}

func (t *Target) TypeSize(typeName string) (uint32, error) {
	k := key{typeName: typeName}
	if v, ok := t.cache.Get(k); ok {
		r := v.(sizeResult)
		return r.size, r.err
	}
	size, err := t.Target.TypeSize(typeName)
	t.cache.Add(k, sizeResult{size, err})
	return size, err
}

var _ target.Target = (*Target)(nil)
