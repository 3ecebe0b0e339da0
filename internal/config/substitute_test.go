package config

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestSubstituteConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]any
		want map[string]any
	}{
		{"empty", nil, map[string]any{}},
		{"no placeholders", map[string]any{"a": 1, "b": map[string]any{"a": 2}}, map[string]any{"a": 1, "b": map[string]any{"a": 2}}},
		{"simple", map[string]any{"a": "${b}", "b": 2}, map[string]any{"a": "2", "b": 2}},
		{
			"nested path",
			map[string]any{"a": "${b.a}", "b": map[string]any{"a": 2, "b": 3}},
			map[string]any{"a": "2", "b": map[string]any{"a": 2, "b": 3}},
		},
		{
			"chain",
			map[string]any{"a": "x-${b}", "b": "${c}-y", "c": "z"},
			map[string]any{"a": "x-z-y", "b": "z-y", "c": "z"},
		},
		{"escaped dollar", map[string]any{"a": "$${b}", "b": 1}, map[string]any{"a": "${b}", "b": 1}},
		{"invalid name left alone", map[string]any{"a": "${a+b}"}, map[string]any{"a": "${a+b}"}},
		{"special characters", map[string]any{"a": "${x@y-z}", "x@y-z": "ok"}, map[string]any{"a": "ok", "x@y-z": "ok"}},
		{"float and bool", map[string]any{"a": "${f}/${t}", "f": 1.5, "t": true}, map[string]any{"a": "1.5/true", "f": 1.5, "t": true}},
		{"list items", map[string]any{"l": []any{"${b}", 3}, "b": "v"}, map[string]any{"l": []any{"v", 3}, "b": "v"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SubstituteConfig(tt.cfg)
			if err != nil {
				t.Fatalf("SubstituteConfig() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SubstituteConfig() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSubstituteConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]any
		want error
	}{
		{"unresolved", map[string]any{"a": "${missing}"}, ErrUnresolvedPlaceholder},
		{"self reference", map[string]any{"a": "${a}"}, ErrSubstitutionCycle},
		{"two cycle", map[string]any{"a": "${b}", "b": "x${a}"}, ErrSubstitutionCycle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SubstituteConfig(tt.cfg)
			if !errors.Is(err, tt.want) {
				t.Fatalf("SubstituteConfig() error = %v, want %v", err, tt.want)
			}
			var cfgErr *Error
			if !errors.As(err, &cfgErr) {
				t.Errorf("error %T is not *config.Error", err)
			}
		})
	}
}

func TestSubstituteConfigWithEnv(t *testing.T) {
	t.Setenv("DBREP_TEST_PASSWORD", "s3cret")
	got, err := SubstituteConfigWith(map[string]any{"pw": "${env.DBREP_TEST_PASSWORD}"}, EnvLookup)
	if err != nil {
		t.Fatalf("SubstituteConfigWith() error = %v", err)
	}
	if got["pw"] != "s3cret" {
		t.Errorf("pw = %v, want s3cret", got["pw"])
	}

	if _, err := SubstituteConfigWith(map[string]any{"pw": "${env.DBREP_TEST_UNSET_VAR}"}, EnvLookup); !errors.Is(err, ErrUnresolvedPlaceholder) {
		t.Errorf("unset env var error = %v, want ErrUnresolvedPlaceholder", err)
	}
}

func TestSubstituteConfigLongChain(t *testing.T) {
	chain := map[string]any{}
	n := MaxSubstitutionPasses + 20
	for i := 0; i < n; i++ {
		chain[fmt.Sprintf("k%d", i)] = fmt.Sprintf("${k%d}", i+1)
	}
	chain[fmt.Sprintf("k%d", n)] = "end"

	got, err := SubstituteConfig(chain)
	if err != nil {
		t.Fatalf("SubstituteConfig() error = %v", err)
	}
	if got["k0"] != "end" {
		t.Errorf("k0 = %v, want end", got["k0"])
	}
}

func TestSubstituteConfigPassLimit(t *testing.T) {
	// Each lookup yields a new placeholder, so expansion never settles.
	grow := func(key string) (string, bool) { return "${" + key + "x}", true }

	_, err := SubstituteConfigWith(map[string]any{"a": "${b}"}, grow)
	if !errors.Is(err, ErrSubstitutionLimit) {
		t.Fatalf("SubstituteConfigWith() error = %v, want ErrSubstitutionLimit", err)
	}
	var cfgErr *Error
	if !errors.As(err, &cfgErr) {
		t.Errorf("error %T is not *config.Error", err)
	}
}
