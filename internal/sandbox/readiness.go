package sandbox

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AnaaaKareem/devsecops-pipeline/internal/config"
)

// probeInterval is a var so tests can tighten the poll loop.
var probeInterval = 5 * time.Second

// Service is one dependent AI service probed before a scan starts.
type Service struct {
	Name string
	URL  string // readiness endpoint
}

// ServicesFromConfig lists the readiness endpoints of the analysis and
// remediation services.
func ServicesFromConfig(cfg config.ServicesConfig) []Service {
	return []Service{
		{Name: "Analysis", URL: strings.TrimRight(cfg.AnalysisURL, "/") + "/readiness"},
		{Name: "Remediation", URL: strings.TrimRight(cfg.RemediationURL, "/") + "/readiness"},
	}
}

// WaitReady polls every service's readiness endpoint until all report
// ready or the timeout elapses. Model loading can take minutes on cold
// start, hence the generous default budget.
func WaitReady(ctx context.Context, services []Service, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: probeInterval}

	pending := make(map[string]Service, len(services))
	for _, s := range services {
		pending[s.Name] = s
	}

	slog.Info("Waiting for AI services", "count", len(pending), "timeout", timeout)
	for len(pending) > 0 {
		for name, svc := range pending {
			if probe(ctx, client, svc.URL) {
				slog.Info("Service ready", "service", name)
				delete(pending, name)
			}
		}
		if len(pending) == 0 {
			break
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			for name := range pending {
				slog.Error("Service never became ready", "service", name)
			}
			return false
		}
		if err := sleepCtx(ctx, probeInterval); err != nil {
			return false
		}
	}
	return true
}

func probe(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
