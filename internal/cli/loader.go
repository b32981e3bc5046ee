package cli

import (
	"log/slog"

	"github.com/roach88/livestore/internal/domain"
	"github.com/roach88/livestore/internal/registry"
	"github.com/roach88/livestore/internal/schema"
	"github.com/roach88/livestore/internal/store"
)

// StoreSummary describes one store after a run or replay.
type StoreSummary struct {
	Name     string `json:"name"`
	Records  int    `json:"records"`
	Ready    bool   `json:"ready"`
	Deferred int    `json:"deferred,omitempty"`
}

// loadDeclarations loads the CUE schema in dir, or the built-in domain
// catalog when dir is empty.
func loadDeclarations(dir string) (*schema.Result, error) {
	if dir == "" {
		return domain.Declarations()
	}
	return schema.LoadDir(dir)
}

// registryConfig collects what commands add on top of the declarations.
type registryConfig struct {
	logger        *slog.Logger
	orphans       string
	fetcher       store.Fetcher
	fetchEndpoint string // for fetch policies that name none
	resyncer      registry.Resyncer
}

// buildRegistry wires declarations into a registry. A nil fetcher leaves
// the declared fetch policies unbound, and so does a policy left without
// an endpoint.
func buildRegistry(decls *schema.Result, cfg registryConfig) (*registry.Registry, error) {
	if cfg.fetcher != nil {
		bindFetchEndpoints(decls, cfg.fetchEndpoint, cfg.logger)
	}
	opts := decls.Options(cfg.fetcher)
	if cfg.logger != nil {
		opts = append(opts, registry.WithLogger(cfg.logger))
	}
	if cfg.resyncer != nil {
		opts = append(opts, registry.WithResyncer(cfg.resyncer))
	}
	if cfg.orphans != "" {
		policy, err := store.ParseOrphanPolicy(cfg.orphans)
		if err != nil {
			return nil, err
		}
		opts = append(opts, registry.WithOrphanPolicy(policy))
	}
	return registry.New(decls.Schemas, opts...)
}

// bindFetchEndpoints gives endpoint to the fetch policies that declare
// none and drops the policies still left without one.
func bindFetchEndpoints(decls *schema.Result, endpoint string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for name, policy := range decls.Fetch {
		if policy.Endpoint == "" {
			policy.Endpoint = endpoint
		}
		if policy.Endpoint == "" {
			logger.Debug("fetch disabled: no endpoint", "store", name)
			delete(decls.Fetch, name)
			continue
		}
		decls.Fetch[name] = policy
	}
}

// summarize lists the registry's stores in dependency order.
func summarize(reg *registry.Registry) []StoreSummary {
	order := reg.Order()
	out := make([]StoreSummary, 0, len(order))
	for _, name := range order {
		s := reg.MustStore(name)
		out = append(out, StoreSummary{
			Name:     name,
			Records:  s.Len(),
			Ready:    reg.Ready(name),
			Deferred: reg.Deferred(name),
		})
	}
	return out
}
