// Package dotpath reads and writes numeric values addressed by dotted path
// strings inside an object graph.
//
// A path such as "groups.0.lr" is resolved one segment at a time against a
// closed set of container views: index-addressed sequences (Seq),
// key-addressed mappings (Map), and field-addressed objects (Obj). Terminal
// values are float64 or int. Schedule logic depends only on these views,
// never on concrete container types.
//
// Lookup fails closed: any absent segment yields the caller's default
// rather than an error. Set does not create intermediate structure; the
// full path up to the final segment must already resolve.
package dotpath

import (
	"fmt"
	"strconv"
	"strings"
)

// Sep separates path segments.
const Sep = "."

// Seq is an index-addressed container view. Path segments are parsed as
// integer indices.
type Seq interface {
	Len() int
	Index(i int) any
	// SetIndex writes a numeric value at i. Returns false if the index is
	// out of range or the element cannot hold a float64.
	SetIndex(i int, v float64) bool
}

// Map is a key-addressed container view. Path segments are used as string
// keys. Store may create the key if it is absent, matching mapping
// semantics.
type Map interface {
	Lookup(key string) (any, bool)
	Store(key string, v float64) bool
}

// Obj is a field-addressed container view for plain objects. Implementations
// typically switch on a fixed field set and may fall back to an auxiliary
// key/value store for fields they do not expose directly.
type Obj interface {
	Field(name string) (any, bool)
	// SetField writes a numeric value into the named field. Returns false
	// if the object cannot hold it.
	SetField(name string, v float64) bool
}

// step resolves a single segment against one of the closed container views.
func step(cur any, seg string) (any, bool) {
	switch c := cur.(type) {
	case Seq:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= c.Len() {
			return nil, false
		}
		return c.Index(i), true
	case Map:
		return c.Lookup(seg)
	case Obj:
		return c.Field(seg)
	default:
		return nil, false
	}
}

// asNumber converts a terminal value to float64.
func asNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

// Lookup resolves path against root and returns the addressed numeric value.
// The second result is false if any segment is absent or the terminal value
// is not numeric.
func Lookup(root any, path string) (float64, bool) {
	cur := root
	for _, seg := range strings.Split(path, Sep) {
		next, ok := step(cur, seg)
		if !ok {
			return 0, false
		}
		cur = next
	}
	return asNumber(cur)
}

// Get resolves path against root, returning def if resolution fails.
func Get(root any, path string, def float64) float64 {
	if v, ok := Lookup(root, path); ok {
		return v
	}
	return def
}

// Set writes v at the addressed location, mutating shared state in place.
// All segments before the last must already resolve; Set never creates
// intermediate structure.
func Set(root any, path string, v float64) error {
	segs := strings.Split(path, Sep)
	last := segs[len(segs)-1]

	parent := root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := step(parent, seg)
		if !ok {
			return fmt.Errorf("dotpath: cannot resolve %q: segment %q is absent", path, seg)
		}
		parent = next
	}

	var ok bool
	switch c := parent.(type) {
	case Seq:
		i, err := strconv.Atoi(last)
		if err != nil {
			return fmt.Errorf("dotpath: cannot set %q: %q is not an index", path, last)
		}
		ok = c.SetIndex(i, v)
	case Map:
		ok = c.Store(last, v)
	case Obj:
		ok = c.SetField(last, v)
	default:
		return fmt.Errorf("dotpath: cannot set %q: parent is not a container", path)
	}
	if !ok {
		return fmt.Errorf("dotpath: cannot set %q: no writable slot %q", path, last)
	}
	return nil
}
