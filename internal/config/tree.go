package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Pair is one dotted-path assignment such as ("src.table", "events").
type Pair struct {
	Key   string
	Value any
}

// MakeConfig converts dotted-path pairs into a nested tree.
// Keys are split on "." only; later pairs overwrite earlier ones.
func MakeConfig(pairs []Pair) map[string]any {
	res := make(map[string]any)
	for _, p := range pairs {
		keys := strings.Split(p.Key, ".")
		cur := res
		for _, k := range keys[:len(keys)-1] {
			next, ok := asMap(cur[k])
			if !ok {
				next = make(map[string]any)
			}
			cur[k] = next
			cur = next
		}
		cur[keys[len(keys)-1]] = p.Value
	}
	return res
}

// MergeConfigs folds configs left to right. When both sides hold a mapping
// the merge recurses; otherwise the later value replaces the earlier one only
// if it is non-empty. Merging {"a": 1} with {"a": 0} keeps 1. A falsy value
// for a key the earlier config lacks is kept.
func MergeConfigs(configs ...map[string]any) map[string]any {
	var acc any = map[string]any{}
	for _, c := range configs {
		acc = mergeValue(acc, c)
	}
	m, _ := asMap(acc)
	return m
}

func mergeValue(earlier, later any) any {
	m1, ok1 := asMap(earlier)
	m2, ok2 := asMap(later)
	if ok1 && ok2 {
		out := make(map[string]any, len(m1)+len(m2))
		for k, v := range m1 {
			out[k] = mergeValue(v, m2[k])
		}
		for k, v := range m2 {
			if _, seen := m1[k]; !seen {
				out[k] = mergeValue(nil, v)
			}
		}
		return out
	}
	if truthy(later) || earlier == nil {
		return clone(later)
	}
	return clone(earlier)
}

// FlattenConfig maps every leaf of cfg to its dotted path. Mappings are never
// leaves, so an empty nested mapping disappears.
func FlattenConfig(cfg map[string]any) map[string]any {
	res := make(map[string]any)
	flattenInto(res, "", cfg)
	return res
}

func flattenInto(dst map[string]any, prefix string, cfg map[string]any) {
	for k, v := range cfg {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if m, ok := asMap(v); ok {
			flattenInto(dst, key, m)
			continue
		}
		dst[key] = v
	}
}

// UnflattenConfig is the inverse of FlattenConfig. Dotted keys found inside
// nested mappings and inside lists of mappings are expanded as well.
func UnflattenConfig(flat map[string]any) (map[string]any, error) {
	res := make(map[string]any)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		v, err := unflattenValue(flat[key])
		if err != nil {
			return nil, err
		}
		parts := strings.Split(key, ".")
		cur := res
		for i, part := range parts[:len(parts)-1] {
			existing, present := cur[part]
			if !present {
				next := make(map[string]any)
				cur[part] = next
				cur = next
				continue
			}
			next, ok := asMap(existing)
			if !ok {
				return nil, newError(strings.Join(parts[:i+1], "."), ErrPathConflict, "")
			}
			cur = next
		}

		leaf := parts[len(parts)-1]
		existing, present := cur[leaf]
		if !present {
			cur[leaf] = v
			continue
		}
		em, ok1 := asMap(existing)
		vm, ok2 := asMap(v)
		if !ok1 || !ok2 {
			return nil, newError(key, ErrPathConflict, "")
		}
		for k, x := range vm {
			if _, dup := em[k]; dup {
				return nil, newError(key+"."+k, ErrPathConflict, "")
			}
			em[k] = x
		}
	}
	return res, nil
}

func unflattenValue(v any) (any, error) {
	if m, ok := asMap(v); ok {
		return UnflattenConfig(m)
	}
	if list, ok := v.([]any); ok {
		out := make([]any, len(list))
		for i, item := range list {
			x, err := unflattenValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = x
		}
		return out, nil
	}
	return v, nil
}

// Lookup returns the value at a dotted path.
func Lookup(cfg map[string]any, path string) (any, bool) {
	var cur any = cfg
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// asMap accepts both decoder shapes yaml can produce for a mapping.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, x := range m {
			out[fmt.Sprint(k)] = x
		}
		return out, true
	default:
		return nil, false
	}
}

// truthy reports whether v counts as "non-empty" for merging.
func truthy(v any) bool {
	if v == nil {
		return false
	}
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Map, reflect.Slice, reflect.Array, reflect.String:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

func clone(v any) any {
	if m, ok := asMap(v); ok {
		out := make(map[string]any, len(m))
		for k, x := range m {
			out[k] = clone(x)
		}
		return out
	}
	if list, ok := v.([]any); ok {
		out := make([]any, len(list))
		for i, x := range list {
			out[i] = clone(x)
		}
		return out
	}
	return v
}
