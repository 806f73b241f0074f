package punchlog

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"pointage/internal/model"
)

// Resolver hands out the punch source of a city.
type Resolver interface {
	Source(ctx context.Context, city string) (Source, error)
}

// Factory opens a source from its descriptor.
type Factory func(cfg SourceConfig) (Source, error)

// MySQLFactory opens sources with OpenMySQL.
func MySQLFactory(timeout time.Duration) Factory {
	return func(cfg SourceConfig) (Source, error) {
		return OpenMySQL(cfg, timeout)
	}
}

// Pool lazily opens one source per city and keeps it for reuse. Failed
// opens are not cached, so the next call tries again.
type Pool struct {
	catalog map[string]SourceConfig
	open    Factory
	// opening serializes opens per city; it is fixed after NewPool.
	opening map[string]*sync.Mutex

	mu      sync.Mutex
	sources map[string]Source
}

// NewPool builds a pool over the catalogue.
func NewPool(catalog []SourceConfig, open Factory) *Pool {
	p := &Pool{
		catalog: make(map[string]SourceConfig, len(catalog)),
		open:    open,
		opening: make(map[string]*sync.Mutex, len(catalog)),
		sources: map[string]Source{},
	}
	for _, c := range catalog {
		c.applyDefaults()
		key := normalizeCity(c.City)
		p.catalog[key] = c
		p.opening[key] = &sync.Mutex{}
	}
	return p
}

// Source implements Resolver. An unknown city is a validation error; a
// failed open is a source error.
func (p *Pool) Source(ctx context.Context, city string) (Source, error) {
	key := normalizeCity(city)
	cfg, ok := p.catalog[key]
	if !ok {
		return nil, model.Invalid("city", "no punch source configured for %q", city)
	}
	if s, ok := p.cached(key); ok {
		return s, nil
	}

	// Only callers for the same city wait on a slow open.
	lock := p.opening[key]
	lock.Lock()
	defer lock.Unlock()
	if s, ok := p.cached(key); ok {
		return s, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, &model.SourceError{City: city, Err: err}
	}
	s, err := p.open(cfg)
	if err != nil {
		return nil, &model.SourceError{City: city, Err: err}
	}
	p.mu.Lock()
	p.sources[key] = s
	p.mu.Unlock()
	return s, nil
}

func (p *Pool) cached(key string) (Source, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sources[key]
	return s, ok
}

// Cities lists configured cities.
func (p *Pool) Cities() []string {
	out := make([]string, 0, len(p.catalog))
	for _, c := range p.catalog {
		out = append(out, c.City)
	}
	return out
}

// Close closes every opened source.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for k, s := range p.sources {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		delete(p.sources, k)
	}
	return errors.Join(errs...)
}
