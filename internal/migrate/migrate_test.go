package migrate

import "testing"

func TestSourceURL(t *testing.T) {
	tests := map[string]string{
		"":                    "file://migrations",
		"/srv/migrations":     "file:///srv/migrations",
		"file://migrations":   "file://migrations",
		"s3://bucket/schemas": "s3://bucket/schemas",
	}
	for in, want := range tests {
		if got := SourceURL(in); got != want {
			t.Fatalf("SourceURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDatabaseURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@db/app":   "postgres://u:p@db/app",
		"postgresql://u:p@db/app": "postgres://u:p@db/app",
		"pgx5://u:p@db/app":       "postgres://u:p@db/app",
	}
	for in, want := range tests {
		if got := DatabaseURL(in); got != want {
			t.Fatalf("DatabaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
