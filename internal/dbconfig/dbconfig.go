// Package dbconfig describes how to reach one database. Values are decoded
// from the resolved configuration tree (usually the "connections" section).
package dbconfig

import (
	"fmt"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"
)

// Connection is a single named database connection.
type Connection struct {
	Name     string `yaml:"-"`
	Type     string `yaml:"type"`
	ConnStr  string `yaml:"conn-str"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// Path is the database file for embedded engines.
	Path string `yaml:"path"`

	SSLMode                string `yaml:"sslmode"`
	Encrypt                *bool  `yaml:"encrypt"`
	TrustServerCertificate bool   `yaml:"trust_server_certificate"`

	MaxConns int `yaml:"max_conns"`

	// Params are appended to DSNs built from discrete fields.
	Params map[string]string `yaml:"params"`
}

// Decode converts a resolved config mapping into a Connection.
func Decode(name string, raw any) (Connection, error) {
	var c Connection
	data, err := yaml.Marshal(raw)
	if err != nil {
		return c, fmt.Errorf("encoding connection %q: %w", name, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("decoding connection %q: %w", name, err)
	}
	c.Name = name
	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	return c, nil
}

// Validate checks that the connection names an engine and a target.
func (c Connection) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("connection %q: type is required", c.Name)
	}
	if c.ConnStr == "" && c.Host == "" && c.Path == "" {
		return fmt.Errorf("connection %q: one of conn-str, host or path is required", c.Name)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("connection %q: port %d out of range", c.Name, c.Port)
	}
	return nil
}

// Sanitized returns a copy safe to print: passwords are masked, including
// any password embedded in a URL-style conn-str.
func (c Connection) Sanitized() Connection {
	out := c
	if out.Password != "" {
		out.Password = "********"
	}
	out.ConnStr = RedactDSN(out.ConnStr)
	if len(c.Params) > 0 {
		out.Params = make(map[string]string, len(c.Params))
		for k, v := range c.Params {
			if isSecretKey(k) {
				v = "********"
			}
			out.Params[k] = v
		}
	}
	return out
}

// RedactDSN masks the password of URL and key=value style DSNs.
func RedactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
			return strings.Replace(u.String(), "xxxxx", "********", 1)
		}
		return dsn
	}
	parts := strings.FieldsFunc(dsn, func(r rune) bool { return r == ';' || r == ' ' })
	changed := false
	for i, p := range parts {
		k, _, ok := strings.Cut(p, "=")
		if ok && isSecretKey(k) {
			parts[i] = strings.TrimSpace(k) + "=********"
			changed = true
		}
	}
	if !changed {
		return dsn
	}
	sep := " "
	if strings.Contains(dsn, ";") {
		sep = ";"
	}
	return strings.Join(parts, sep)
}

func isSecretKey(k string) bool {
	k = strings.ToLower(strings.TrimSpace(k))
	return k == "password" || k == "pwd" || k == "secret" || k == "token"
}
