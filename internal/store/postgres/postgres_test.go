package postgres

import (
	"reflect"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

func TestApplyListOpts(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	tests := []struct {
		name      string
		opts      domain.ListOpts
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "no options",
			wantQuery: "SELECT * FROM t WHERE 1=1 ORDER BY ts DESC",
		},
		{
			name:      "bounds and paging",
			opts:      domain.ListOpts{Since: &since, Until: &until, Limit: 10, Offset: 20},
			wantQuery: "SELECT * FROM t WHERE 1=1 AND ts >= $1 AND ts <= $2 ORDER BY ts DESC LIMIT $3 OFFSET $4",
			wantArgs:  []any{since, until, 10, 20},
		},
		{
			name:      "limit only",
			opts:      domain.ListOpts{Limit: 5},
			wantQuery: "SELECT * FROM t WHERE 1=1 ORDER BY ts DESC LIMIT $1",
			wantArgs:  []any{5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := applyListOpts("SELECT * FROM t WHERE 1=1", nil, "ts", tt.opts)
			if q != tt.wantQuery {
				t.Errorf("query = %q, want %q", q, tt.wantQuery)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %v, want %v", args, tt.wantArgs)
			}
		})
	}
}

func TestApplyListOptsContinuesPlaceholders(t *testing.T) {
	q, args := applyListOpts("SELECT * FROM t WHERE pair = $1", []any{"ETH/USD"}, "ts", domain.ListOpts{Limit: 3})
	if q != "SELECT * FROM t WHERE pair = $1 ORDER BY ts DESC LIMIT $2" {
		t.Fatalf("query = %q", q)
	}
	if len(args) != 2 || args[1] != 3 {
		t.Fatalf("args = %v", args)
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://x", Host: "ignored"},
			want: "postgres://x",
		},
		{
			name: "defaults port and sslmode",
			cfg:  ClientConfig{Host: "db", Database: "arbcore", User: "arb", Password: "pw"},
			want: "postgres://arb:pw@db:5432/arbcore?sslmode=disable",
		},
		{
			name: "escapes credentials",
			cfg:  ClientConfig{Host: "db", Database: "arbcore", User: "arb", Password: "p@ss/word"},
			want: "postgres://arb:p%40ss%2Fword@db:5432/arbcore?sslmode=disable",
		},
		{
			name: "explicit port and sslmode",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "arbcore", User: "arb", Password: "pw", SSLMode: "require"},
			want: "postgres://arb:pw@db:6543/arbcore?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_init.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	for _, table := range []string{"trades", "orders", "opportunities", "audit_log"} {
		if !strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("migration does not create %s", table)
		}
	}
}

func TestPoolConfig(t *testing.T) {
	cfg, err := poolConfig(ClientConfig{
		Host: "db", Database: "arbcore", User: "arb", Password: "pw",
		MinConns:         8,
		ConnectTimeout:   3 * time.Second,
		StatementTimeout: 1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("poolConfig: %v", err)
	}
	if cfg.MaxConns != 4 || cfg.MinConns != 4 {
		t.Errorf("conns = %d/%d, want 4/4", cfg.MinConns, cfg.MaxConns)
	}
	if cfg.ConnConfig.ConnectTimeout != 3*time.Second {
		t.Errorf("connect timeout = %v", cfg.ConnConfig.ConnectTimeout)
	}
	params := cfg.ConnConfig.RuntimeParams
	if params["application_name"] != "arbcore" || params["statement_timeout"] != "1500" {
		t.Errorf("runtime params = %v", params)
	}
}

func TestPendingMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_more.sql": {Data: []byte("SELECT 2")},
		"migrations/001_init.sql": {Data: []byte("SELECT 1")},
		"migrations/README.md":    {Data: []byte("notes")},
		"migrations/003_last.sql": {Data: []byte("SELECT 3")},
	}
	got, err := pendingMigrations(fsys, map[string]bool{"002_more.sql": true})
	if err != nil {
		t.Fatalf("pendingMigrations: %v", err)
	}
	if len(got) != 2 || got[0] != "001_init.sql" || got[1] != "003_last.sql" {
		t.Errorf("pending = %v", got)
	}

	got, err = pendingMigrations(migrationsFS, nil)
	if err != nil || len(got) == 0 || got[0] != "001_init.sql" {
		t.Errorf("embedded pending = %v, %v", got, err)
	}
}
