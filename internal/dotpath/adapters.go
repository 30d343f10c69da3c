package dotpath

// List adapts a []any to the Seq view. Elements may be nested containers or
// numeric leaves. SetIndex replaces the element with the written value.
type List []any

func (l List) Len() int { return len(l) }

func (l List) Index(i int) any { return l[i] }

func (l List) SetIndex(i int, v float64) bool {
	if i < 0 || i >= len(l) {
		return false
	}
	l[i] = v
	return true
}

// Dict adapts a map[string]any to the Map view. Store creates absent keys,
// matching mapping semantics.
type Dict map[string]any

func (d Dict) Lookup(key string) (any, bool) {
	v, ok := d[key]
	return v, ok
}

func (d Dict) Store(key string, v float64) bool {
	d[key] = v
	return true
}

// Floats adapts a map[string]float64 to the Map view.
type Floats map[string]float64

func (f Floats) Lookup(key string) (any, bool) {
	v, ok := f[key]
	return v, ok
}

func (f Floats) Store(key string, v float64) bool {
	f[key] = v
	return true
}

// Slice adapts a typed slice to the Seq view. Elements are exposed as-is,
// so a []*Group whose element type implements Obj yields a two-level path
// like "0.lr". Writes succeed only when the element type is float64.
func Slice[T any](s []T) Seq { return sliceView[T]{s} }

type sliceView[T any] struct {
	s []T
}

func (v sliceView[T]) Len() int { return len(v.s) }

func (v sliceView[T]) Index(i int) any { return v.s[i] }

func (v sliceView[T]) SetIndex(i int, x float64) bool {
	if i < 0 || i >= len(v.s) {
		return false
	}
	if elem, ok := any(x).(T); ok {
		v.s[i] = elem
		return true
	}
	return false
}
