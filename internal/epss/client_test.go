package epss

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/AnaaaKareem/devsecops-pipeline/internal/config"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/database"
	"github.com/AnaaaKareem/devsecops-pipeline/models"
)

func newTestStore(t *testing.T) *database.Store {
	t.Helper()
	db, err := database.NewSQLite(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "epss.db")})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return database.NewStore(db)
}

func TestSyncStoresScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("cve"); got == "" {
			t.Error("missing cve query parameter")
		}
		w.Write([]byte(`{"data": [
			{"cve": "CVE-2021-44228", "epss": "0.97565", "percentile": "0.99988"},
			{"cve": "CVE-2023-1234", "epss": "0.00055", "percentile": "0.21000"}
		]}`))
	}))
	t.Cleanup(srv.Close)

	store := newTestStore(t)
	client := New(store, srv.URL)

	synced := client.Sync(context.Background(), []string{"CVE-2021-44228", "CVE-2023-1234", "CVE-2021-44228"})
	if synced != 2 {
		t.Errorf("synced = %d, want 2", synced)
	}

	score, err := store.GetEPSS(context.Background(), "CVE-2021-44228")
	if err != nil {
		t.Fatalf("fetching score: %v", err)
	}
	if score.Probability < 0.97 || score.Probability > 0.98 {
		t.Errorf("probability = %v", score.Probability)
	}
}

func TestSyncToleratesAPIFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	client := New(newTestStore(t), srv.URL)
	if synced := client.Sync(context.Background(), []string{"CVE-2021-44228"}); synced != 0 {
		t.Errorf("synced = %d, want 0", synced)
	}
}

func TestCVEIDsFiltersAndDedupes(t *testing.T) {
	findings := []models.Finding{
		{RuleID: "CVE-2021-44228"},
		{RuleID: "python.flask.sqli"},
		{RuleID: "CVE-2021-44228"},
		{RuleID: "CVE-2023-9999"},
	}
	ids := CVEIDs(findings)
	if len(ids) != 2 {
		t.Fatalf("ids = %v, want 2 unique CVEs", ids)
	}
	if ids[0] != "CVE-2021-44228" || ids[1] != "CVE-2023-9999" {
		t.Errorf("unexpected ids: %v", ids)
	}
}
