package config

import (
	"errors"
	"reflect"
	"testing"
)

func TestInstantiateTemplates(t *testing.T) {
	templates := map[string]any{
		"pg":     map[string]any{"conn": "pg", "batch_size": 500},
		"events": map[string]any{"table": "events", "rid": "id"},
		"big":    map[string]any{"template": "pg", "batch_size": 5000},
		"empty":  nil,
	}
	tests := []struct {
		name string
		cfg  map[string]any
		want map[string]any
	}{
		{
			"no reference",
			map[string]any{"a": 1},
			map[string]any{"a": 1},
		},
		{
			"single template, config wins",
			map[string]any{"template": "pg", "batch_size": 10},
			map[string]any{"template": "pg", "conn": "pg", "batch_size": 10},
		},
		{
			"list, later template wins",
			map[string]any{"templates": []any{"pg", "events"}},
			map[string]any{"templates": []any{"pg", "events"}, "conn": "pg", "batch_size": 500, "table": "events", "rid": "id"},
		},
		{
			"nested mapping",
			map[string]any{"src": map[string]any{"template": "events"}},
			map[string]any{"src": map[string]any{"template": "events", "table": "events", "rid": "id"}},
		},
		{
			"transitive",
			map[string]any{"template": "big"},
			map[string]any{"template": "big", "conn": "pg", "batch_size": 5000},
		},
		{
			"empty template",
			map[string]any{"template": "empty", "a": 1},
			map[string]any{"template": "empty", "a": 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InstantiateTemplates(tt.cfg, templates)
			if err != nil {
				t.Fatalf("InstantiateTemplates() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("InstantiateTemplates() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInstantiateTemplatesCustomKeyword(t *testing.T) {
	templates := map[string]any{"t": map[string]any{"x": 1}}
	got, err := InstantiateTemplates(map[string]any{"use": "t"}, templates, "use")
	if err != nil {
		t.Fatalf("InstantiateTemplates() error = %v", err)
	}
	if got["x"] != 1 {
		t.Errorf("x = %v, want 1", got["x"])
	}
}

func TestInstantiateTemplatesErrors(t *testing.T) {
	templates := map[string]any{
		"a":      map[string]any{"template": "b"},
		"b":      map[string]any{"template": "a"},
		"self":   map[string]any{"template": "self"},
		"scalar": 5,
	}
	tests := []struct {
		name string
		cfg  map[string]any
		want error
	}{
		{"missing", map[string]any{"template": "nope"}, ErrTemplateNotFound},
		{"number reference", map[string]any{"template": 5}, ErrTemplateType},
		{"mixed list", map[string]any{"templates": []any{"a", 1}}, ErrTemplateType},
		{"cycle", map[string]any{"template": "a"}, ErrTemplateCycle},
		{"self cycle", map[string]any{"template": "self"}, ErrTemplateCycle},
		{"scalar body", map[string]any{"template": "scalar"}, ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := InstantiateTemplates(tt.cfg, templates)
			if !errors.Is(err, tt.want) {
				t.Errorf("InstantiateTemplates() error = %v, want %v", err, tt.want)
			}
		})
	}
}
