package postgres

import (
	"strings"
	"testing"

	"github.com/johndauphine/dbrep/internal/dbconfig"
	"github.com/johndauphine/dbrep/internal/engine"
)

func TestQuoteTable(t *testing.T) {
	d := &Dialect{}
	tests := []struct {
		input string
		want  string
	}{
		{"users", `"users"`},
		{"public.users", `"public"."users"`},
		{`user"name`, `"user""name"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := d.QuoteTable(tt.input); got != tt.want {
				t.Errorf("QuoteTable(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestPlaceholder(t *testing.T) {
	d := &Dialect{}
	if got := d.Placeholder(3); got != "$3" {
		t.Errorf("Placeholder(3) = %q, want $3", got)
	}
}

func TestColumnDDL(t *testing.T) {
	d := &Dialect{}
	tests := map[engine.ColumnType]string{
		engine.TypeInteger:   "BIGINT",
		engine.TypeFloat:     "DOUBLE PRECISION",
		engine.TypeTimestamp: "TIMESTAMP",
		engine.TypeBytes:     "BYTEA",
		engine.TypeText:      "TEXT",
	}
	for typ, want := range tests {
		if got := d.ColumnDDL(typ); got != want {
			t.Errorf("ColumnDDL(%s) = %q, want %q", typ, got, want)
		}
	}
}

func TestBuildDSNURLEncoding(t *testing.T) {
	d := &Dialect{}
	tests := []struct {
		name     string
		conn     dbconfig.Connection
		contains []string
	}{
		{
			name: "special characters in password",
			conn: dbconfig.Connection{Host: "db", User: "app", Password: "p@ss:w/rd", Database: "src"},
			contains: []string{
				"postgres://app:p%40ss%3Aw%2Frd@db:5432/src",
				"sslmode=prefer",
			},
		},
		{
			name:     "explicit sslmode and port",
			conn:     dbconfig.Connection{Host: "db", Port: 6543, User: "app", Database: "src", SSLMode: "disable"},
			contains: []string{"@db:6543/src", "sslmode=disable"},
		},
		{
			name:     "extra params",
			conn:     dbconfig.Connection{Host: "db", User: "app", Database: "src", Params: map[string]string{"application_name": "dbrep"}},
			contains: []string{"application_name=dbrep"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn := d.BuildDSN(tt.conn)
			for _, want := range tt.contains {
				if !strings.Contains(dsn, want) {
					t.Errorf("BuildDSN() = %q, want it to contain %q", dsn, want)
				}
			}
		})
	}
}

func TestBuildDSNConnStrWins(t *testing.T) {
	d := &Dialect{}
	conn := dbconfig.Connection{ConnStr: "postgres://u:p@h/db", Host: "ignored"}
	if got := d.BuildDSN(conn); got != conn.ConnStr {
		t.Errorf("BuildDSN() = %q, want %q", got, conn.ConnStr)
	}
}

func TestIdentifier(t *testing.T) {
	id := identifier("public.users")
	if len(id) != 2 || id[0] != "public" || id[1] != "users" {
		t.Errorf("identifier() = %v, want [public users]", id)
	}
}
