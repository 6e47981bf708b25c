package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/revaplatform/reva/pkg/observability"
)

// Prober drives the periodic health check loop over the catalog.
type Prober struct {
	catalog          *Catalog
	client           *http.Client
	interval         time.Duration
	timeout          time.Duration
	evictionFailures int
	metrics          *observability.Metrics
}

// NewProber creates a probe loop over the catalog. metrics may be nil.
func NewProber(catalog *Catalog, interval, timeout time.Duration, evictionFailures int, metrics *observability.Metrics) *Prober {
	return &Prober{
		catalog:          catalog,
		client:           &http.Client{Timeout: timeout},
		interval:         interval,
		timeout:          timeout,
		evictionFailures: evictionFailures,
		metrics:          metrics,
	}
}

// Run probes every interval until ctx is cancelled. The first sweep
// happens after one full interval so freshly started services get a
// grace period before their first check.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	slog.Info("health probe loop started",
		"interval", p.interval,
		"timeout", p.timeout,
		"eviction_failures", p.evictionFailures,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("health probe loop stopped")
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep probes all registered services in parallel and applies the
// results. Exported so tests and an initial eager check can drive it
// directly.
func (p *Prober) Sweep(ctx context.Context) {
	records := p.catalog.List("", "")
	if len(records) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, rec := range records {
		g.Go(func() error {
			p.probeOne(ctx, rec)
			return nil
		})
	}
	// Workers never return errors; Wait is just the join point.
	_ = g.Wait()
}

type healthBody struct {
	Status string `json:"status"`
}

func (p *Prober) probeOne(ctx context.Context, rec ServiceRecord) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, rec.URL+"/health", nil)
	if err != nil {
		p.handleUnreachable(rec, err)
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		// Transport error or timeout: no HTTP response came back.
		p.handleUnreachable(rec, err)
		return
	}
	defer resp.Body.Close()

	// Any HTTP response resets the unreachable streak, even a 500.
	status := StatusUnhealthy
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var body healthBody
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Status == "healthy" {
			status = StatusHealthy
		}
	}
	p.catalog.setStatus(rec.Name, status)
	if p.metrics != nil {
		p.metrics.RecordProbe(context.WithoutCancel(ctx), rec.Name, string(status))
	}
}

func (p *Prober) handleUnreachable(rec ServiceRecord, err error) {
	failures := p.catalog.recordUnreachable(rec.Name)
	slog.Warn("service unreachable",
		"service", rec.Name,
		"url", rec.URL,
		"consecutive_failures", failures,
		"error", err,
	)
	if p.metrics != nil {
		p.metrics.RecordProbe(context.Background(), rec.Name, "unreachable")
	}
	if failures >= p.evictionFailures {
		slog.Warn("evicting unreachable service",
			"service", rec.Name,
			"failures", failures,
		)
		p.catalog.Deregister(rec.Name)
	}
}
