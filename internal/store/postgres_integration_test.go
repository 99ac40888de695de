//go:build postgres_integration

package store

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"pmedians/internal/model"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer p.Close()
	if err := p.Ping(t.Context()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := p.MigrateDir("../../db/migrations"); err != nil {
		t.Fatalf("MigrateDir: %v", err)
	}

	rec := model.RunRecord{ID: uuid.NewString(), Status: "optimal", CreatedAt: time.Now().UTC()}
	if err := p.SaveRun(t.Context(), rec); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	got, err := p.GetRun(t.Context(), rec.ID)
	if err != nil || got.Status != "optimal" {
		t.Fatalf("GetRun: %+v %v", got, err)
	}
	if _, _, err := p.ListRuns(t.Context(), "", "", 1); err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
}
