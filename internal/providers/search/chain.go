package search

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/jobpilot/browserd/internal/infrastructure/logging"
	"github.com/jobpilot/browserd/internal/infrastructure/resilience"
)

// Provider is one search adapter.
type Provider interface {
	Name() string
	Search(ctx context.Context, params Params) ([]Opportunity, error)
}

// Metrics is the optional instrumentation surface.
type Metrics interface {
	RecordCacheHit()
	RecordCacheMiss()
	RecordProviderFailure(provider string)
}

// Chain runs providers in priority order behind a cache. Provider failures
// never surface to the caller: the chain falls through to the next adapter
// and finally to manual-search-link records.
type Chain struct {
	providers []Provider
	cache     Cache
	policy    resilience.Policy
	breakers  map[string]*resilience.Breaker
	logger    *logging.Logger
	metrics   Metrics
}

// NewChain creates a chain over the given providers. Nil providers (absent
// capabilities) are skipped.
func NewChain(providers []Provider, cache Cache, logger *logging.Logger) *Chain {
	log := logger.Named("search")

	active := make([]Provider, 0, len(providers))
	breakers := make(map[string]*resilience.Breaker, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		active = append(active, p)
		breakers[p.Name()] = resilience.NewBreaker(p.Name(), resilience.BreakerConfig{
			OnStateChange: func(name string, from, to resilience.BreakerState) {
				log.Warn("provider circuit state changed",
					zap.String("provider", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		})
	}

	return &Chain{
		providers: active,
		cache:     cache,
		policy:    resilience.DefaultPolicy(),
		breakers:  breakers,
		logger:    log,
	}
}

// WithPolicy overrides the per-provider retry policy.
func (c *Chain) WithPolicy(p resilience.Policy) *Chain {
	c.policy = p
	return c
}

// WithMetrics attaches instrumentation.
func (c *Chain) WithMetrics(m Metrics) *Chain {
	c.metrics = m
	return c
}

// Providers lists the active adapter names.
func (c *Chain) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Search resolves a query through the cache, the provider chain, and finally
// the manual-link fallback. It never returns an error and never returns an
// empty list: a total failure yields fallback-tagged records, and that
// degraded result is cached too so a flapping upstream is not hammered.
func (c *Chain) Search(ctx context.Context, params Params) []Opportunity {
	key := params.CacheKey()
	if cached, ok := c.cache.Get(key); ok {
		if c.metrics != nil {
			c.metrics.RecordCacheHit()
		}
		return cached
	}
	if c.metrics != nil {
		c.metrics.RecordCacheMiss()
	}

	records, errs := c.tryProviders(ctx, params)
	if len(records) == 0 {
		records = fallbackRecords(params, errors.Join(errs...))
		c.logger.Warn("search degraded to fallback links",
			zap.String("query", key),
			zap.Int("providers_tried", len(errs)),
		)
	}

	c.cache.Set(key, records)
	return records
}

func (c *Chain) tryProviders(ctx context.Context, params Params) ([]Opportunity, []error) {
	var errs []error
	for _, provider := range c.providers {
		breaker := c.breakers[provider.Name()]

		records, err := resilience.DoValue(ctx, c.policy, func(ctx context.Context) ([]Opportunity, error) {
			var out []Opportunity
			execErr := breaker.Execute(func() error {
				var searchErr error
				out, searchErr = provider.Search(ctx, params)
				return searchErr
			})
			return out, execErr
		})
		if err != nil {
			if c.metrics != nil {
				c.metrics.RecordProviderFailure(provider.Name())
			}
			c.logger.Warn("provider failed, falling through",
				zap.String("provider", provider.Name()),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		if len(records) == 0 {
			// A genuine empty answer; let the next provider try.
			errs = append(errs, errors.New(provider.Name()+": no results"))
			continue
		}
		return records, errs
	}
	return nil, errs
}
