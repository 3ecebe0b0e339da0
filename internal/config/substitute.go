package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MaxSubstitutionPasses bounds the fixed-point iteration of SubstituteConfig.
const MaxSubstitutionPasses = 100

// placeholderRe matches "$$" (an escaped dollar) or "${dotted.path}".
var placeholderRe = regexp.MustCompile(`\$(?:\$|\{([_A-Za-z][_A-Za-z0-9.@\-]*)\})`)

// LookupFunc resolves a placeholder that has no matching leaf in the config.
type LookupFunc func(key string) (string, bool)

// EnvLookup resolves ${env.NAME} from the process environment.
func EnvLookup(key string) (string, bool) {
	name, ok := strings.CutPrefix(key, "env.")
	if !ok {
		return "", false
	}
	return os.LookupEnv(name)
}

// SubstituteConfig replaces ${a.b.c} placeholders in every string leaf with
// the value found at that path. Placeholders may reference leaves that hold
// placeholders themselves; resolution iterates until nothing changes.
func SubstituteConfig(cfg map[string]any) (map[string]any, error) {
	return SubstituteConfigWith(cfg, nil)
}

// SubstituteConfigWith is SubstituteConfig with a fallback for placeholders
// that match no leaf.
func SubstituteConfigWith(cfg map[string]any, fallback LookupFunc) (map[string]any, error) {
	if len(cfg) == 0 {
		return map[string]any{}, nil
	}

	flat := FlattenConfig(cfg)
	if err := checkPlaceholderCycles(flat); err != nil {
		return nil, err
	}

	converged := false
	for pass := 0; pass < MaxSubstitutionPasses; pass++ {
		next := make(map[string]any, len(flat))
		for k, v := range flat {
			s, ok := v.(string)
			if !ok {
				next[k] = v
				continue
			}
			out, err := expandString(k, s, flat, fallback)
			if err != nil {
				return nil, err
			}
			next[k] = out
		}
		if reflect.DeepEqual(next, flat) {
			converged = true
			break
		}
		flat = next
	}
	if !converged {
		return nil, newError("", ErrSubstitutionLimit, "still changing after %d passes", MaxSubstitutionPasses)
	}

	out, err := applyResolved(cfg, "", flat, fallback)
	if err != nil {
		return nil, err
	}
	m, _ := asMap(out)
	return m, nil
}

// applyResolved rebuilds cfg using the resolved flat values for string leaves.
func applyResolved(v any, path string, flat map[string]any, fallback LookupFunc) (any, error) {
	if m, ok := asMap(v); ok {
		out := make(map[string]any, len(m))
		for k, x := range m {
			r, err := applyResolved(x, joinPath(path, k), flat, fallback)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	}
	switch x := v.(type) {
	case string:
		if resolved, ok := flat[path].(string); ok {
			return unescapeDollars(resolved), nil
		}
		s, err := expandString(path, x, flat, fallback)
		if err != nil {
			return nil, err
		}
		return unescapeDollars(s), nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			r, err := applyResolved(item, fmt.Sprintf("%s[%d]", path, i), flat, fallback)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return v, nil
}

// expandString performs one substitution pass over s. Escaped dollars are
// left in place so repeated passes stay stable.
func expandString(key, s string, flat map[string]any, fallback LookupFunc) (string, error) {
	matches := placeholderRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		last = m[1]
		if m[2] < 0 {
			b.WriteString("$$")
			continue
		}
		name := s[m[2]:m[3]]
		if v, ok := flat[name]; ok {
			b.WriteString(stringify(v))
			continue
		}
		if fallback != nil {
			if v, ok := fallback(name); ok {
				b.WriteString(v)
				continue
			}
		}
		return "", newError(key, ErrUnresolvedPlaceholder, "${%s}", name)
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func unescapeDollars(s string) string {
	return strings.ReplaceAll(s, "$$", "$")
}

// placeholderRefs lists the paths referenced by s, ignoring escaped dollars.
func placeholderRefs(s string) []string {
	var refs []string
	for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
		if m[1] != "" {
			refs = append(refs, m[1])
		}
	}
	return refs
}

// checkPlaceholderCycles walks the placeholder graph and fails on the first cycle.
func checkPlaceholderCycles(flat map[string]any) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(flat))
	var path []string

	var visit func(key string) error
	visit = func(key string) error {
		switch state[key] {
		case visiting:
			start := 0
			for i, p := range path {
				if p == key {
					start = i
					break
				}
			}
			cycle := append(append([]string(nil), path[start:]...), key)
			return newError(key, ErrSubstitutionCycle, "%s", strings.Join(cycle, " -> "))
		case done:
			return nil
		}
		s, ok := flat[key].(string)
		if !ok {
			state[key] = done
			return nil
		}
		state[key] = visiting
		path = append(path, key)
		for _, ref := range placeholderRefs(s) {
			if _, exists := flat[ref]; !exists {
				continue
			}
			if err := visit(ref); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[key] = done
		return nil
	}

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := visit(k); err != nil {
			return err
		}
	}
	return nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}
