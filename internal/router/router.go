// Package router resolves which venue holds a mint and tracks each mint's
// venue through its lifecycle.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/coldbell/dex/trader/internal/venue"
	"github.com/gagliardetto/solana-go"
)

const (
	DefaultTTL              = 5 * time.Minute
	DefaultNegativeTTL      = 30 * time.Second
	DefaultDiscoveryTimeout = 30 * time.Second
)

type Config struct {
	Priority []dex.VenueKind
	TTL      time.Duration
	// NegativeTTL bounds how long an exhausted probe is remembered; new pools
	// appear at any time.
	NegativeTTL time.Duration
	// DiscoveryTimeout bounds a shared discovery run. The run outlives any
	// single caller, so no caller's cancellation fails the others.
	DiscoveryTimeout time.Duration
	Now              func() time.Time
}

type Resolution struct {
	Venue  venue.Venue
	Pool   *dex.PoolDescriptor
	Cached bool
}

type ResolveOptions struct {
	// Hint skips probing and discovers on this venue only.
	Hint dex.VenueKind
	// Known is an optional user-controlled address passed to discovery.
	Known solana.PublicKey
}

type Router struct {
	registry         *venue.Registry
	priority         []dex.VenueKind
	ttl              time.Duration
	negativeTTL      time.Duration
	discoveryTimeout time.Duration
	cache            *DiscoveryCache
	group            singleflight.Group
	logger           *slog.Logger
}

func New(registry *venue.Registry, cfg Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Priority) == 0 {
		cfg.Priority = dex.DefaultVenuePriority
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = DefaultNegativeTTL
	}
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	return &Router{
		registry:         registry,
		priority:         append([]dex.VenueKind(nil), cfg.Priority...),
		ttl:              cfg.TTL,
		negativeTTL:      cfg.NegativeTTL,
		discoveryTimeout: cfg.DiscoveryTimeout,
		cache:            NewDiscoveryCache(cfg.Now),
		logger:           logger.With("component", "router"),
	}
}

// Venues lists the registered venues in probe order.
func (r *Router) Venues() []dex.VenueKind {
	ordered := r.registry.Ordered(r.priority)
	out := make([]dex.VenueKind, 0, len(ordered))
	for _, v := range ordered {
		out = append(out, v.Kind())
	}
	return out
}

// State reports where mint is in its resolution lifecycle.
func (r *Router) State(mint solana.PublicKey) State {
	entry, ok := r.cache.Get(mint)
	if !ok {
		return StateUnknown
	}
	return entry.State
}

// ResolveVenue returns the venue and pool for mint. A confirmed cache entry
// answers without any discovery call; concurrent misses for the same mint
// share one probe.
func (r *Router) ResolveVenue(ctx context.Context, mint solana.PublicKey, opts ResolveOptions) (Resolution, error) {
	if opts.Hint != "" {
		return r.resolveHint(ctx, mint, opts)
	}

	candidates := r.priority
	restricted := false
	if entry, ok := r.cache.Get(mint); ok {
		switch entry.State {
		case StateConfirmed:
			if v, ok := r.registry.Get(entry.Venue); ok {
				return Resolution{Venue: v, Pool: entry.Pool, Cached: true}, nil
			}
		case StateExhausted:
			return Resolution{}, fmt.Errorf("%w: no venue holds %s", dex.ErrNotFound, mint)
		case StateProbing:
			if len(entry.Candidates) > 0 {
				candidates = entry.Candidates
				restricted = true
			}
		}
	}

	ch := r.group.DoChan(mint.String(), func() (any, error) {
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.discoveryTimeout)
		defer cancel()
		return r.probe(sharedCtx, mint, opts.Known, candidates, restricted)
	})
	select {
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Resolution{}, res.Err
		}
		out := res.Val.(Resolution)
		out.Pool = out.Pool.Clone()
		return out, nil
	}
}

func (r *Router) probe(ctx context.Context, mint, known solana.PublicKey, candidates []dex.VenueKind, restricted bool) (Resolution, error) {
	venues := r.registry.Ordered(candidates)
	if restricted {
		venues = r.registry.Select(candidates)
	}
	marker := Entry{Mint: mint, State: StateProbing}
	if restricted {
		marker.Candidates = candidates
	}
	r.cache.Put(marker, r.ttl)

	var lastErr error
	for _, v := range venues {
		desc, err := discover(ctx, v, mint, known)
		if err == nil {
			r.cache.Put(Entry{Mint: mint, State: StateConfirmed, Venue: v.Kind(), Pool: desc}, r.ttl)
			r.logger.Info("venue resolved", "mint", mint, "venue", v.Kind(), "pool", desc.Pool)
			return Resolution{Venue: v, Pool: desc}, nil
		}
		if ctx.Err() != nil {
			r.forgetProbe(mint, restricted)
			return Resolution{}, ctx.Err()
		}
		switch {
		case errors.Is(err, dex.ErrNotFound), errors.Is(err, dex.ErrVenueMigrated):
			r.logger.Debug("venue probe missed", "mint", mint, "venue", v.Kind(), "err", err)
		default:
			r.logger.Warn("venue probe failed", "mint", mint, "venue", v.Kind(), "err", err)
			lastErr = err
		}
	}

	if lastErr != nil {
		// A transient failure may have hidden the right venue; do not remember
		// the miss.
		r.forgetProbe(mint, restricted)
		return Resolution{}, fmt.Errorf("resolve venue for %s: %w", mint, lastErr)
	}
	r.cache.Put(Entry{Mint: mint, State: StateExhausted}, r.negativeTTL)
	return Resolution{}, fmt.Errorf("%w: no venue holds %s", dex.ErrNotFound, mint)
}

// forgetProbe drops an unrestricted probe marker; a restricted one stays so
// the next attempt still skips the venue the mint migrated away from.
func (r *Router) forgetProbe(mint solana.PublicKey, restricted bool) {
	if !restricted {
		r.cache.Invalidate(mint)
	}
}

func (r *Router) resolveHint(ctx context.Context, mint solana.PublicKey, opts ResolveOptions) (Resolution, error) {
	v, ok := r.registry.Get(opts.Hint)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s is not registered", dex.ErrUnsupportedVenue, opts.Hint)
	}
	if entry, ok := r.cache.Get(mint); ok && entry.State == StateConfirmed && entry.Venue == opts.Hint {
		return Resolution{Venue: v, Pool: entry.Pool, Cached: true}, nil
	}
	desc, err := discover(ctx, v, mint, opts.Known)
	if err != nil {
		return Resolution{}, err
	}
	r.cache.Put(Entry{Mint: mint, State: StateConfirmed, Venue: v.Kind(), Pool: desc}, r.ttl)
	return Resolution{Venue: v, Pool: desc.Clone()}, nil
}

// discover runs one venue's discovery. A descriptor that fails validation is
// a miss and never reaches the cache.
func discover(ctx context.Context, v venue.Venue, mint, known solana.PublicKey) (*dex.PoolDescriptor, error) {
	desc, err := v.Discover(ctx, mint, known)
	if err != nil {
		return nil, err
	}
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", dex.ErrNotFound, err)
	}
	return desc, nil
}

// RecordVenueOutcome feeds a trade result back into the mint's state. A
// migrated venue sends the mint back to probing over the venue's lifecycle
// successors only; a vanished pool forgets the mint. Other failures leave the
// venue confirmed.
func (r *Router) RecordVenueOutcome(mint solana.PublicKey, kind dex.VenueKind, outcome error) {
	entry, ok := r.cache.Get(mint)
	switch {
	case outcome == nil:
		if ok && entry.State == StateConfirmed && entry.Venue == kind {
			r.cache.Put(entry, r.ttl)
		}
	case errors.Is(outcome, dex.ErrVenueMigrated):
		successors := dex.Layouts[kind].Successors
		if len(successors) == 0 {
			r.cache.Invalidate(mint)
			return
		}
		r.logger.Info("venue migrated, re-probing successors", "mint", mint, "venue", kind, "successors", successors)
		r.cache.Put(Entry{Mint: mint, State: StateProbing, Candidates: successors}, r.ttl)
	case errors.Is(outcome, dex.ErrNotFound):
		if ok && entry.Venue == kind {
			r.cache.Invalidate(mint)
		}
	}
}
