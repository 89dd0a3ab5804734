// cmd/catalogctl/main_test.go
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/animeverse/catalog-go/internal/catalog"
	"github.com/animeverse/catalog-go/internal/model"
)

func setupCLITestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CATALOG_JWT_SECRET", "cli-secret")
	t.Setenv("CATALOG_DB_DSN", "")
	t.Setenv("CATALOG_CONFIG_FILE", "")
	t.Setenv("CATALOG_SQLITE_PATH", filepath.Join(t.TempDir(), "catalog.db"))
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSeedThenStats(t *testing.T) {
	setupCLITestEnv(t)

	out, err := runCLI(t, "seed")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !strings.Contains(out, "5 works, 4 comments, 3 favorites") {
		t.Errorf("seed output = %q", out)
	}

	if _, err := runCLI(t, "seed"); err == nil || !strings.Contains(err.Error(), "already") {
		t.Errorf("second seed error = %v, want already seeded", err)
	}

	out, err = runCLI(t, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var stats struct {
		Overview       map[string]float64       `json:"overview"`
		RecentActivity []map[string]interface{} `json:"recentActivity"`
		TopWorks       []map[string]interface{} `json:"topWorks"`
	}
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("stats output is not JSON: %v\n%s", err, out)
	}
	want := map[string]float64{"totalUsers": 2, "totalWorks": 5, "totalVideos": 4, "totalNovels": 1, "totalViews": 0, "newUsersLast30Days": 2}
	for k, v := range want {
		if stats.Overview[k] != v {
			t.Errorf("overview[%s] = %v, want %v", k, stats.Overview[k], v)
		}
	}
	// one registration, five uploads, four comments, three favorites
	if len(stats.RecentActivity) != 13 {
		t.Errorf("recent activity = %d entries, want 13", len(stats.RecentActivity))
	}
	if len(stats.TopWorks) != 5 {
		t.Errorf("top works = %d, want 5", len(stats.TopWorks))
	}
}

func TestSeedRemovesPartialData(t *testing.T) {
	setupCLITestEnv(t)
	cc := newCommandContext(nil)
	defer cc.close()
	store, err := cc.open()
	if err != nil {
		t.Fatal(err)
	}
	svc, err := cc.services()
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	// The second work has no video, so seeding stops after the accounts and one work exist.
	broken := []catalog.WorkInput{
		sampleWorks[0],
		{Title: "Broken", Description: "no media", Kind: string(model.KindVideo), Category: "Action"},
	}
	if _, err := seedStore(ctx, store, svc, "admin@example.com", "admin123", broken); err == nil || !strings.Contains(err.Error(), "removed") {
		t.Fatalf("seed with a broken work = %v, want an error reporting cleanup", err)
	}
	ov, err := store.Overview(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if ov.TotalUsers != 0 || ov.TotalWorks != 0 {
		t.Errorf("after failed seed: %d accounts, %d works remain", ov.TotalUsers, ov.TotalWorks)
	}

	sum, err := seedStore(ctx, store, svc, "admin@example.com", "admin123", sampleWorks)
	if err != nil {
		t.Fatalf("retry after cleanup: %v", err)
	}
	if sum.works != 5 || sum.comments != 4 || sum.favorites != 3 {
		t.Errorf("retry summary = %+v", sum)
	}
}

func TestCreateAdmin(t *testing.T) {
	setupCLITestEnv(t)

	out, err := runCLI(t, "create-admin", "--username", "root_admin", "--email", "Root@Example.com", "--password", "changeme")
	if err != nil {
		t.Fatalf("create-admin: %v", err)
	}
	if !strings.Contains(out, "created admin root_admin") || !strings.Contains(out, "root@example.com") {
		t.Errorf("create-admin output = %q", out)
	}

	if _, err := runCLI(t, "create-admin", "--username", "second", "--email", "root@example.com", "--password", "changeme"); err == nil {
		t.Error("duplicate email accepted")
	}
	if _, err := runCLI(t, "create-admin", "--email", "short@example.com", "--password", "123"); err == nil {
		t.Error("short password accepted")
	}
	if _, err := runCLI(t, "create-admin", "--username", "nopass"); err == nil {
		t.Error("missing required flags accepted")
	}
}

func TestMigrateRequiresPersistentStore(t *testing.T) {
	setupCLITestEnv(t)
	if out, err := runCLI(t, "migrate"); err != nil || !strings.Contains(out, "up to date") {
		t.Errorf("migrate = %q, %v", out, err)
	}

	t.Setenv("CATALOG_SQLITE_PATH", "")
	if _, err := runCLI(t, "migrate"); err == nil || !strings.Contains(err.Error(), "SQLITE_PATH") {
		t.Errorf("migrate without a database = %v, want configuration error", err)
	}
}

func TestRenderStatsTable(t *testing.T) {
	setupCLITestEnv(t)
	if _, err := runCLI(t, "seed"); err != nil {
		t.Fatal(err)
	}
	ctx := newCommandContext(nil)
	defer ctx.close()
	svc, err := ctx.services()
	if err != nil {
		t.Fatal(err)
	}
	stats, err := svc.accounts.Stats(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	rendered := renderStats(stats)
	for _, want := range []string{"Overview", "Top works", "Recent activity", "Attack on Titan", "comment_added"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("rendered stats missing %q", want)
		}
	}
}
