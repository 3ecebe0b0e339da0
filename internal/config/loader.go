package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/johndauphine/dbrep/internal/logging"
	"github.com/johndauphine/dbrep/internal/secrets"
)

// Default file names inside a config directory.
const (
	DefaultKeyFile         = "dbrep.key"
	DefaultCredentialsFile = "credentials.yaml"
	DefaultConnectionsFile = "connections.yaml"
	DefaultTemplatesGlob   = "template_*.yaml"
	DefaultJobsGlob        = "job_*.yaml"
)

// Layers names the files a Document is assembled from. Empty entries are
// skipped.
type Layers struct {
	KeyFile     string
	Credentials string // plain YAML, or encrypted when it ends in ".crypto"
	Connections string
	Templates   []string // globs
	Jobs        []string // globs
	Overrides   []Pair

	// SuppressWarnings silences file permission warnings.
	SuppressWarnings bool
}

// DefaultLayers returns the layers found in dir under their default names.
// Files that do not exist are left out.
func DefaultLayers(dir string) Layers {
	l := Layers{
		Templates: []string{filepath.Join(dir, DefaultTemplatesGlob)},
		Jobs:      []string{filepath.Join(dir, DefaultJobsGlob)},
	}
	if p := filepath.Join(dir, DefaultKeyFile); exists(p) {
		l.KeyFile = p
	}
	if p := filepath.Join(dir, DefaultCredentialsFile+secrets.Suffix); exists(p) {
		l.Credentials = p
	} else if p := filepath.Join(dir, DefaultCredentialsFile); exists(p) {
		l.Credentials = p
	}
	if p := filepath.Join(dir, DefaultConnectionsFile); exists(p) {
		l.Connections = p
	}
	return l
}

// Document is the unresolved configuration: every section as read from disk.
type Document struct {
	Credentials map[string]any
	Connections map[string]any
	Templates   map[string]any
	Jobs        map[string]any
	Overrides   []Pair
}

// Load reads every layer into a Document.
func Load(l Layers) (*Document, error) {
	doc := &Document{Overrides: l.Overrides}

	if l.Credentials != "" {
		creds, err := loadCredentials(l)
		if err != nil {
			return nil, err
		}
		doc.Credentials = creds
	}
	if l.Connections != "" {
		conns, err := readYAMLFile(l.Connections, l.SuppressWarnings)
		if err != nil {
			return nil, err
		}
		doc.Connections = conns
	}

	var err error
	if doc.Templates, err = ReadMulti(l.Templates, "templates", false); err != nil {
		return nil, err
	}
	if doc.Jobs, err = ReadMulti(l.Jobs, "jobs", true); err != nil {
		return nil, err
	}
	return doc, nil
}

func loadCredentials(l Layers) (map[string]any, error) {
	if !secrets.IsEncrypted(l.Credentials) {
		return readYAMLFile(l.Credentials, l.SuppressWarnings)
	}
	if l.KeyFile == "" {
		return nil, newError(l.Credentials, ErrMissingField, "encrypted credentials need a key file")
	}
	if warning := checkFilePermissions(l.KeyFile); warning != "" && !l.SuppressWarnings {
		fmt.Fprint(os.Stderr, warning)
	}
	key, err := secrets.LoadKey(l.KeyFile)
	if err != nil {
		return nil, newError(l.KeyFile, ErrInvalidValue, "%v", err)
	}
	plaintext, err := secrets.DecryptFile(key, l.Credentials)
	if err != nil {
		return nil, newError(l.Credentials, ErrInvalidValue, "%v", err)
	}
	return parseYAML(l.Credentials, plaintext)
}

func readYAMLFile(path string, quiet bool) (map[string]any, error) {
	if warning := checkFilePermissions(path); warning != "" && !quiet {
		fmt.Fprint(os.Stderr, warning)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return parseYAML(path, data)
}

func parseYAML(path string, data []byte) (map[string]any, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, newError(path, ErrInvalidValue, "parsing yaml: %v", err)
	}
	if raw == nil {
		return map[string]any{}, nil
	}
	m, ok := asMap(raw)
	if !ok {
		return nil, newError(path, ErrInvalidValue, "top level must be a mapping, got %T", raw)
	}
	return m, nil
}

// ReadMulti reads every file matched by globs, in sorted order, and merges
// their top-level entries; a later file replaces an entry of an earlier one.
// A file holding the section key contributes only that section. With
// singleJob set, a file with top-level src and dst is one entry named after
// the file.
func ReadMulti(globs []string, section string, singleJob bool) (map[string]any, error) {
	var files []string
	seen := make(map[string]bool)
	for _, g := range globs {
		matches, err := filepath.Glob(g)
		if err != nil {
			return nil, newError(g, ErrInvalidValue, "bad glob: %v", err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)

	res := make(map[string]any)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		m, err := parseYAML(f, data)
		if err != nil {
			return nil, err
		}

		entries := m
		if sec, ok := m[section]; ok {
			if entries, ok = asMap(sec); !ok {
				return nil, newError(f, ErrInvalidValue, "%s must be a mapping", section)
			}
		} else if singleJob && hasKeys(m, "src", "dst") {
			entries = map[string]any{baseName(f): m}
		}
		for k, v := range entries {
			res[k] = v
		}
		logging.Debug("Loaded %d %s from %s", len(entries), section, f)
	}
	return res, nil
}

// JobNames returns the sorted names of all jobs.
func (d *Document) JobNames() []string {
	names := make([]string, 0, len(d.Jobs))
	for k := range d.Jobs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the fully resolved tree of a job: credentials and
// connections, then the job body, then overrides are merged; templates are
// instantiated and placeholders substituted.
func (d *Document) Resolve(name string, overrides []Pair) (map[string]any, error) {
	raw, ok := d.Jobs[name]
	if !ok {
		return nil, newError("jobs."+name, ErrMissingField, "job not found (available: %v)", d.JobNames())
	}
	body, ok := asMap(raw)
	if !ok {
		return nil, newError("jobs."+name, ErrInvalidValue, "must be a mapping, got %T", raw)
	}

	tree := MergeConfigs(
		map[string]any{"credentials": d.Credentials, "connections": d.Connections},
		body,
		MakeConfig(d.Overrides),
		MakeConfig(overrides),
	)
	tree, err := InstantiateTemplates(tree, d.Templates)
	if err != nil {
		return nil, err
	}
	return SubstituteConfigWith(tree, EnvLookup)
}

// Job resolves and validates one job.
func (d *Document) Job(name string, overrides []Pair) (*Job, error) {
	tree, err := d.Resolve(name, overrides)
	if err != nil {
		return nil, err
	}
	return NewJob(name, tree)
}

// ParseOverrides reads KEY.PATH=value lines. Blank lines and lines starting
// with # are skipped.
func ParseOverrides(r io.Reader) ([]Pair, error) {
	var pairs []Pair
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		p, err := ParseOverride(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		pairs = append(pairs, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading overrides: %w", err)
	}
	return pairs, nil
}

// ParseOverride parses one KEY.PATH=value assignment. The value is decoded
// as a YAML scalar, so "500" becomes an int and "true" a bool.
func ParseOverride(s string) (Pair, error) {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return Pair{}, newError(s, ErrInvalidValue, "override must look like key.path=value")
	}
	value = strings.TrimSpace(value)

	var v any
	if err := yaml.Unmarshal([]byte(value), &v); err != nil {
		v = value
	}
	switch v.(type) {
	case map[string]any, []any:
		v = value
	}
	return Pair{Key: key, Value: v}, nil
}

func hasKeys(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}

func baseName(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return strings.TrimPrefix(name, "job_")
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
