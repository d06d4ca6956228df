package unidata

import "go.uber.org/zap"

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the diagnostic logger.
// If not specified, logging is disabled.
func WithLogger(log *zap.Logger) Option {
	return func(p *Provider) {
		p.log = log
	}
}

// WithCollections sets the full collection list targeted by ResetDatabase.
func WithCollections(names ...string) Option {
	return func(p *Provider) {
		p.collections = names
	}
}

// WithBusinessCollections sets the subset of collections wiped by
// ClearBusinessData. Defaults to every collection except settings.
func WithBusinessCollections(names ...string) Option {
	return func(p *Provider) {
		p.business = names
	}
}

// WithSeedData sets the default records re-inserted per collection when
// ClearBusinessData is called with seedDefaults true.
func WithSeedData(seeds map[string][]Record) Option {
	return func(p *Provider) {
		p.seeds = seeds
	}
}
