package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/revaplatform/reva/pkg/breaker"
	"github.com/revaplatform/reva/pkg/config"
	"github.com/revaplatform/reva/pkg/httpclient"
	"github.com/revaplatform/reva/pkg/observability"
)

// Gateway resolves logical model tags to provider routes and executes
// calls with per-route circuit breaking and ordered fallback.
type Gateway struct {
	cfg      config.LLMGatewayConfig
	pooled   *http.Client
	breakers *breaker.Group
	metrics  *observability.Metrics

	mu        sync.Mutex
	providers map[string]*Provider
}

// NewGateway assembles the routing core. metrics may be nil.
func NewGateway(cfg config.LLMGatewayConfig, metrics *observability.Metrics) *Gateway {
	g := &Gateway{
		cfg:       cfg,
		pooled:    httpclient.NewPooledHTTPClient(cfg.Pool.MaxConns, cfg.Pool.MaxIdleConns, cfg.Pool.IdleTimeout(), cfg.RequestTimeout()),
		metrics:   metrics,
		providers: make(map[string]*Provider),
	}
	g.breakers = breaker.NewGroup(cfg.Breaker.FailThreshold, cfg.Breaker.ResetTimeout(),
		breaker.WithStateChange(g.onBreakerChange))
	return g
}

func (g *Gateway) onBreakerChange(route string, from, to breaker.State) {
	if g.metrics != nil {
		g.metrics.RecordBreakerState(context.Background(), route, int(to))
	}
}

// Models lists the routing table for GET /models.
func (g *Gateway) Models() []ModelInfo {
	out := make([]ModelInfo, 0, len(g.cfg.Routes))
	for tag, route := range g.cfg.Routes {
		info := ModelInfo{Tag: tag, Primary: route.Primary.Name()}
		for _, fb := range route.Fallbacks {
			info.Fallbacks = append(info.Fallbacks, fb.Name())
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b ModelInfo) int {
		if a.Tag < b.Tag {
			return -1
		}
		if a.Tag > b.Tag {
			return 1
		}
		return 0
	})
	return out
}

// resolve maps the requested model to an ordered candidate list: a
// logical tag resolves through the routing table, an explicit
// provider/model pair is used as-is.
func (g *Gateway) resolve(model string) ([]config.ProviderRoute, error) {
	if route, ok := g.cfg.Routes[model]; ok {
		return route.Candidates(), nil
	}
	explicit, err := config.ParseProviderSpec(model)
	if err != nil {
		return nil, &RouteError{Route: model, Kind: KindBadRequest, Err: err}
	}
	return []config.ProviderRoute{explicit}, nil
}

func (g *Gateway) provider(route config.ProviderRoute) *Provider {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.providers[route.Name()]; ok {
		return p
	}
	p := NewProvider(route, g.pooled, g.cfg.Retry)
	g.providers[route.Name()] = p
	return p
}

// Chat routes a chat completion through the candidates. ModelActual is
// set on the response when a fallback answered.
func (g *Gateway) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp *ChatResponse
	fallback, err := g.route(ctx, req.Model, func(ctx context.Context, p *Provider) error {
		r, err := p.Chat(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if fallback {
		resp.ModelActual = resp.Model
	}
	resp.Model = req.Model
	return resp, nil
}

// Embed routes an embedding request the same way.
func (g *Gateway) Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	var resp *EmbeddingResponse
	fallback, err := g.route(ctx, req.Model, func(ctx context.Context, p *Provider) error {
		r, err := p.Embed(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if fallback {
		resp.ModelActual = resp.Model
	}
	resp.Model = req.Model
	return resp, nil
}

// route walks the candidate list: open breakers are skipped without
// counting as failures, request-shaped errors (400/401/403) abort the
// whole call, everything else falls through to the next candidate.
// Reports whether a non-primary candidate answered.
func (g *Gateway) route(ctx context.Context, model string, call func(context.Context, *Provider) error) (bool, error) {
	candidates, err := g.resolve(model)
	if err != nil {
		return false, err
	}

	var lastErr error
	for i, route := range candidates {
		b := g.breakers.Get(route.Name())
		if err := b.Allow(); err != nil {
			slog.Debug("skipping route, breaker open", "route", route.Name())
			continue
		}

		start := time.Now()
		callErr := call(ctx, g.provider(route))
		// A dead caller context says nothing about the route's health;
		// only errors the provider produced may move the breaker.
		if ctx.Err() == nil {
			b.Record(callErr)
		}
		g.recordCall(ctx, model, route, callErr, time.Since(start))

		if callErr == nil {
			if i > 0 {
				slog.Info("fallback route answered", "requested", model, "route", route.Name())
			}
			return i > 0, nil
		}

		if isBadRequestStatus(callErr) {
			return false, &RouteError{Route: route.Name(), Kind: KindBadRequest, Err: callErr}
		}
		if errors.Is(callErr, context.Canceled) || errors.Is(callErr, context.DeadlineExceeded) {
			return false, callErr
		}

		slog.Warn("route failed, trying next", "route", route.Name(), "error", callErr)
		lastErr = &RouteError{Route: route.Name(), Kind: KindRouteFailed, Err: callErr}
	}

	return false, &RouteError{Route: model, Kind: KindProviderUnavailable, Err: lastErr}
}

func (g *Gateway) recordCall(ctx context.Context, requested string, route config.ProviderRoute, err error, elapsed time.Duration) {
	if g.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	g.metrics.RecordLLMCall(context.WithoutCancel(ctx), requested, route.Model, route.Provider, outcome, elapsed)
}

// isBadRequestStatus reports whether the error carries a status that
// makes retrying with another provider pointless.
func isBadRequestStatus(err error) bool {
	var se *httpclient.StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return true
		}
	}
	return false
}

// BreakerSnapshots exposes breaker states for the stats surface.
func (g *Gateway) BreakerSnapshots() []breaker.Snapshot {
	return g.breakers.Snapshots()
}
