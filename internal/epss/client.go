package epss

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AnaaaKareem/devsecops-pipeline/internal/database"
	"github.com/AnaaaKareem/devsecops-pipeline/models"
)

// DefaultAPIURL is the FIRST.org exploit-prediction scoring endpoint.
const DefaultAPIURL = "https://api.first.org/data/v1/epss"

// batchSize bounds CVE ids per API request.
const batchSize = 50

// Client fetches exploit-prediction scores and caches them in the
// finding store so risk scoring works offline.
type Client struct {
	apiURL string
	store  *database.Store
	client *http.Client
}

// New builds an EPSS client backed by store. apiURL may be empty.
func New(store *database.Store, apiURL string) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Client{
		apiURL: apiURL,
		store:  store,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type apiResponse struct {
	Data []struct {
		CVE        string `json:"cve"`
		EPSS       string `json:"epss"`
		Percentile string `json:"percentile"`
	} `json:"data"`
}

// Sync fetches scores for cveIDs and upserts them. Best effort: API
// failures are logged and skipped so a dead scoring service never
// blocks a scan.
func (c *Client) Sync(ctx context.Context, cveIDs []string) int {
	cveIDs = dedupe(cveIDs)
	synced := 0
	for start := 0; start < len(cveIDs); start += batchSize {
		end := start + batchSize
		if end > len(cveIDs) {
			end = len(cveIDs)
		}
		n, err := c.syncBatch(ctx, cveIDs[start:end])
		if err != nil {
			slog.Warn("EPSS batch sync failed", "batch", start/batchSize, "error", err)
			continue
		}
		synced += n
	}
	if synced > 0 {
		slog.Info("EPSS scores synced", "count", synced)
	}
	return synced
}

func (c *Client) syncBatch(ctx context.Context, cveIDs []string) (int, error) {
	q := url.Values{"cve": {strings.Join(cveIDs, ",")}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("creating EPSS request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("calling EPSS API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("reading EPSS response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("EPSS API returned %d", resp.StatusCode)
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("parsing EPSS response: %w", err)
	}

	synced := 0
	for _, row := range parsed.Data {
		prob, _ := strconv.ParseFloat(row.EPSS, 64)
		pct, _ := strconv.ParseFloat(row.Percentile, 64)
		score := models.EPSSScore{
			CVEID:       row.CVE,
			Probability: prob,
			Percentile:  pct,
			LastUpdated: time.Now().UTC(),
		}
		if err := c.store.UpsertEPSS(ctx, score); err != nil {
			slog.Warn("EPSS upsert failed", "cve", row.CVE, "error", err)
			continue
		}
		synced++
	}
	return synced, nil
}

// CVEIDs extracts the CVE-prefixed rule ids from findings.
func CVEIDs(findings []models.Finding) []string {
	var ids []string
	for _, f := range findings {
		if strings.HasPrefix(f.RuleID, "CVE-") {
			ids = append(ids, f.RuleID)
		}
	}
	return dedupe(ids)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
