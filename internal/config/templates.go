package config

import (
	"sort"
	"strings"
)

// DefaultTemplateKeywords are the keys that name templates inside a config.
var DefaultTemplateKeywords = []string{"template", "templates"}

// InstantiateTemplates merges the templates named by cfg's template keywords
// into cfg. Later templates override earlier ones and cfg overrides them all.
// Template bodies are expanded before use and nested mappings are expanded
// recursively. The keyword entries are kept in the result.
func InstantiateTemplates(cfg, templates map[string]any, keywords ...string) (map[string]any, error) {
	if len(keywords) == 0 {
		keywords = DefaultTemplateKeywords
	}
	x := &instantiator{
		templates: templates,
		keywords:  keywords,
		resolved:  make(map[string]map[string]any),
	}
	return x.expand(cfg, "", nil)
}

type instantiator struct {
	templates map[string]any
	keywords  []string
	resolved  map[string]map[string]any
}

func (x *instantiator) expand(cfg map[string]any, path string, stack []string) (map[string]any, error) {
	if len(cfg) == 0 {
		return cfg, nil
	}

	names, err := x.referenced(cfg, path)
	if err != nil {
		return nil, err
	}

	result := cfg
	if len(names) > 0 {
		bodies := make([]map[string]any, 0, len(names)+1)
		for _, name := range names {
			body, err := x.template(name, stack)
			if err != nil {
				return nil, err
			}
			bodies = append(bodies, body)
		}
		bodies = append(bodies, cfg)
		result = MergeConfigs(bodies...)
	}

	keys := make([]string, 0, len(result))
	for k := range result {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(result))
	for _, k := range keys {
		v := result[k]
		if m, ok := asMap(v); ok {
			expanded, err := x.expand(m, joinPath(path, k), stack)
			if err != nil {
				return nil, err
			}
			out[k] = expanded
			continue
		}
		out[k] = v
	}
	return out, nil
}

// template returns the fully expanded body of a named template.
func (x *instantiator) template(name string, stack []string) (map[string]any, error) {
	for _, s := range stack {
		if s == name {
			return nil, newError("templates."+name, ErrTemplateCycle, "%s", strings.Join(append(append([]string(nil), stack...), name), " -> "))
		}
	}
	if body, ok := x.resolved[name]; ok {
		return body, nil
	}

	raw, ok := x.templates[name]
	if !ok {
		return nil, newError("templates."+name, ErrTemplateNotFound, "")
	}
	body, ok := asMap(raw)
	if !ok {
		if raw == nil {
			body = map[string]any{}
		} else {
			return nil, newError("templates."+name, ErrInvalidValue, "template body must be a mapping, got %T", raw)
		}
	}

	inner := append(append([]string(nil), stack...), name)
	expanded, err := x.expand(body, "templates."+name, inner)
	if err != nil {
		return nil, err
	}
	x.resolved[name] = expanded
	return expanded, nil
}

// referenced collects template names from every keyword present in cfg.
func (x *instantiator) referenced(cfg map[string]any, path string) ([]string, error) {
	var names []string
	for _, kw := range x.keywords {
		v, ok := cfg[kw]
		if !ok {
			continue
		}
		switch ref := v.(type) {
		case string:
			names = append(names, ref)
		case []string:
			names = append(names, ref...)
		case []any:
			for _, item := range ref {
				s, ok := item.(string)
				if !ok {
					return nil, newError(joinPath(path, kw), ErrTemplateType, "list holds %T", item)
				}
				names = append(names, s)
			}
		default:
			return nil, newError(joinPath(path, kw), ErrTemplateType, "got %T", v)
		}
	}
	return names, nil
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
