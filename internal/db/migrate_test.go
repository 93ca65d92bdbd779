package db

import (
	"io/fs"
	"strings"
	"testing"

	dbembed "github.com/memohai/chathub/db"
	"github.com/memohai/chathub/internal/config"
)

func TestRunMigrateRejectsBadInput(t *testing.T) {
	cfg := config.PostgresConfig{Host: "localhost", Port: 5432, User: "chathub", Database: "chathub", SSLMode: "disable"}
	tests := []struct {
		name    string
		command string
		args    []string
		wantErr string
	}{
		{"unknown command", "sideways", nil, "unknown migrate command"},
		{"force without version", "force", nil, "force requires"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RunMigrate(nil, cfg, nil, tt.command, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("RunMigrate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(dbembed.MigrationsFS(), ".")
	if err != nil {
		t.Fatal(err)
	}
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		t.Fatal("no migrations embedded")
	}
	for version := range ups {
		if !downs[version] {
			t.Errorf("migration %s has no down file", version)
		}
	}
}
