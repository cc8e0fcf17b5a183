package venue

import (
	"github.com/coldbell/dex/trader/internal/dex"
)

type Registry struct {
	venues map[dex.VenueKind]Venue
	order  []dex.VenueKind
}

func NewRegistry(venues ...Venue) *Registry {
	r := &Registry{venues: make(map[dex.VenueKind]Venue, len(venues))}
	for _, v := range venues {
		if _, ok := r.venues[v.Kind()]; !ok {
			r.order = append(r.order, v.Kind())
		}
		r.venues[v.Kind()] = v
	}
	return r
}

func (r *Registry) Get(kind dex.VenueKind) (Venue, bool) {
	v, ok := r.venues[kind]
	return v, ok
}

// Ordered returns registered venues in priority order, then any remaining
// venues in registration order.
func (r *Registry) Ordered(priority []dex.VenueKind) []Venue {
	out := make([]Venue, 0, len(r.venues))
	seen := make(map[dex.VenueKind]struct{}, len(r.venues))
	for _, kind := range append(append([]dex.VenueKind(nil), priority...), r.order...) {
		if _, ok := seen[kind]; ok {
			continue
		}
		if v, ok := r.venues[kind]; ok {
			seen[kind] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// Select returns the registered venues among kinds, in the order given.
func (r *Registry) Select(kinds []dex.VenueKind) []Venue {
	out := make([]Venue, 0, len(kinds))
	seen := make(map[dex.VenueKind]struct{}, len(kinds))
	for _, kind := range kinds {
		if _, ok := seen[kind]; ok {
			continue
		}
		seen[kind] = struct{}{}
		if v, ok := r.venues[kind]; ok {
			out = append(out, v)
		}
	}
	return out
}
