package infra

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestMigrateURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/dispatch?sslmode=disable":   "pgx5://u:p@localhost:5432/dispatch?sslmode=disable",
		"postgresql://u:p@localhost:5432/dispatch?sslmode=disable": "pgx5://u:p@localhost:5432/dispatch?sslmode=disable",
		"pgx5://u:p@db/dispatch":                                   "pgx5://u:p@db/dispatch",
	}
	for in, want := range cases {
		if got := migrateURL(in); got != want {
			t.Errorf("migrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())
	NewLogger("nonsense", false)
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("global level = %s, want info", zerolog.GlobalLevel())
	}
	NewLogger("debug", false)
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("global level = %s, want debug", zerolog.GlobalLevel())
	}
}
