package sqlserver

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
)

func TestOpenRequiresServerAndDatabase(t *testing.T) {
	_, err := Open(context.Background(), ConnParams{}, PoolConfig{})
	if err == nil {
		t.Fatal("expected error for empty params")
	}
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("error = %v, want ErrConnection", err)
	}
}

func TestDSNWithNamedInstance(t *testing.T) {
	params := ConnParams{
		Server:                 `localhost\SQLEXPRESS`,
		User:                   "sa",
		Password:               "p@ss word",
		Database:               "TPC_H",
		TrustServerCertificate: true,
	}

	parsed, err := url.Parse(params.DSN())
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	if parsed.Scheme != "sqlserver" {
		t.Fatalf("scheme = %q", parsed.Scheme)
	}
	if parsed.Host != "localhost" {
		t.Fatalf("host = %q", parsed.Host)
	}
	if parsed.Path != "/SQLEXPRESS" {
		t.Fatalf("path = %q", parsed.Path)
	}
	if password, _ := parsed.User.Password(); password != "p@ss word" {
		t.Fatalf("password = %q", password)
	}
	if got := parsed.Query().Get("database"); got != "TPC_H" {
		t.Fatalf("database = %q", got)
	}
	if got := parsed.Query().Get("TrustServerCertificate"); got != "true" {
		t.Fatalf("TrustServerCertificate = %q", got)
	}
}

func TestDSNWithODBCPort(t *testing.T) {
	params := ConnParams{Server: "db.internal,14330", Database: "sales"}
	parsed, err := url.Parse(params.DSN())
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	if parsed.Host != "db.internal:14330" {
		t.Fatalf("host = %q", parsed.Host)
	}
	if parsed.User != nil {
		t.Fatalf("user = %v, want none", parsed.User)
	}
}

func TestDSNExplicitPortWins(t *testing.T) {
	params := ConnParams{Server: "db.internal,14330", Port: 1433, Database: "sales"}
	if !strings.Contains(params.DSN(), "db.internal:1433?") {
		t.Fatalf("DSN() = %q", params.DSN())
	}
}

func TestStringRedactsPassword(t *testing.T) {
	params := ConnParams{Server: "localhost", User: "sa", Password: "secret", Database: "TPC_H"}
	if strings.Contains(params.String(), "secret") {
		t.Fatalf("String() leaks password: %q", params.String())
	}
	if !strings.Contains(params.String(), "sa:***@") {
		t.Fatalf("String() = %q", params.String())
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	if err := (ConnParams{Server: "a", Database: "b", Port: 70000}).Validate(); err == nil {
		t.Fatal("expected port validation error")
	}
}
