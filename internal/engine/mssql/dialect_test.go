package mssql

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
		{"users", "[users]"},
		{"dbo.users", "[dbo].[users]"},
		{"user]name", "[user]]name]"},
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
	if got := d.Placeholder(2); got != "@p2" {
		t.Errorf("Placeholder(2) = %q, want @p2", got)
	}
}

func TestColumnDDL(t *testing.T) {
	d := &Dialect{}
	if got := d.ColumnDDL(engine.TypeText); got != "NVARCHAR(MAX)" {
		t.Errorf("ColumnDDL(text) = %q", got)
	}
	if got := d.ColumnDDL(engine.TypeBool); got != "BIT" {
		t.Errorf("ColumnDDL(bool) = %q", got)
	}
}

func TestBuildDSN(t *testing.T) {
	d := &Dialect{}
	yes := true
	tests := []struct {
		name     string
		conn     dbconfig.Connection
		contains []string
		excludes []string
	}{
		{
			name:     "special characters",
			conn:     dbconfig.Connection{Host: "db", User: "sa", Password: "p&ss=w;rd", Database: "my db"},
			contains: []string{"sqlserver://sa:p%26ss%3Dw%3Brd@db:1433?database=my+db"},
			excludes: []string{"encrypt"},
		},
		{
			name:     "encrypt and trust",
			conn:     dbconfig.Connection{Host: "db", Port: 14330, User: "sa", Database: "x", Encrypt: &yes, TrustServerCertificate: true},
			contains: []string{"@db:14330", "&encrypt=true", "&TrustServerCertificate=true"},
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
			for _, bad := range tt.excludes {
				if strings.Contains(dsn, bad) {
					t.Errorf("BuildDSN() = %q, should not contain %q", dsn, bad)
				}
			}
		})
	}
}
