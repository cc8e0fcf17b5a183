package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coldbell/dex/trader/internal/chain"
	"github.com/coldbell/dex/trader/internal/chain/chaintest"
	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/coldbell/dex/trader/internal/venue"
	"github.com/coldbell/dex/trader/internal/venue/venuetest"
	"github.com/gagliardetto/solana-go"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func fakes(kinds ...dex.VenueKind) (map[dex.VenueKind]*venuetest.Fake, *venue.Registry) {
	out := make(map[dex.VenueKind]*venuetest.Fake, len(kinds))
	list := make([]venue.Venue, 0, len(kinds))
	for _, kind := range kinds {
		f := venuetest.New(kind)
		out[kind] = f
		list = append(list, f)
	}
	return out, venue.NewRegistry(list...)
}

func TestResolveVenueProbesInPriorityOrder(t *testing.T) {
	byKind, registry := fakes(dex.VenueJupiter, dex.VenuePumpFun, dex.VenuePumpSwap)
	byKind[dex.VenueJupiter].NotFound()
	r := New(registry, Config{Priority: []dex.VenueKind{dex.VenueJupiter, dex.VenuePumpFun, dex.VenuePumpSwap}}, nil)

	mint := newKey()
	got, err := r.ResolveVenue(context.Background(), mint, ResolveOptions{})
	if err != nil {
		t.Fatalf("ResolveVenue() error = %v", err)
	}
	if got.Venue.Kind() != dex.VenuePumpFun || got.Cached {
		t.Fatalf("ResolveVenue() = %s cached=%v, want pumpfun uncached", got.Venue.Kind(), got.Cached)
	}
	if byKind[dex.VenuePumpSwap].Calls("discover") != 0 {
		t.Fatalf("probing did not short-circuit after the first hit")
	}
	if r.State(mint) != StateConfirmed {
		t.Fatalf("State() = %s, want confirmed", r.State(mint))
	}
}

func TestResolveVenueCacheHitMakesNoLedgerCalls(t *testing.T) {
	ledger := chaintest.NewLedger()
	mint, creator := newKey(), newKey()
	curve, _, err := dex.DerivePumpFunBondingCurvePDA(dex.PumpFunProgramID, mint)
	if err != nil {
		t.Fatalf("derive curve: %v", err)
	}
	layout := dex.Layouts[dex.VenuePumpFun]
	data := make([]byte, layout.MinDataSize)
	copy(data, layout.Discriminator[:])
	copy(data[layout.CreatorOffset:], creator[:])
	ledger.Put(&chain.Account{Address: curve, Owner: dex.PumpFunProgramID, Data: data})
	ledger.PutMint(mint, dex.TokenProgramID)

	r := New(venue.NewRegistry(venue.NewPumpFun(ledger, nil)), Config{}, nil)
	ctx := context.Background()
	if _, err := r.ResolveVenue(ctx, mint, ResolveOptions{}); err != nil {
		t.Fatalf("first ResolveVenue() error = %v", err)
	}
	before := ledger.Calls("getAccountInfo") + ledger.Calls("getMultipleAccounts") + ledger.Calls("getProgramAccounts")

	got, err := r.ResolveVenue(ctx, mint, ResolveOptions{})
	if err != nil {
		t.Fatalf("second ResolveVenue() error = %v", err)
	}
	after := ledger.Calls("getAccountInfo") + ledger.Calls("getMultipleAccounts") + ledger.Calls("getProgramAccounts")
	if after != before {
		t.Fatalf("cache hit made %d ledger calls, want 0", after-before)
	}
	if !got.Cached || !got.Pool.Pool.Equals(curve) {
		t.Fatalf("second ResolveVenue() = cached=%v pool=%s, want cached %s", got.Cached, got.Pool.Pool, curve)
	}
}

func TestResolveVenueExpiresAfterTTL(t *testing.T) {
	byKind, registry := fakes(dex.VenuePumpSwap)
	clock := newFakeClock()
	r := New(registry, Config{Priority: []dex.VenueKind{dex.VenuePumpSwap}, TTL: time.Minute, Now: clock.Now}, nil)
	mint := newKey()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := r.ResolveVenue(ctx, mint, ResolveOptions{}); err != nil {
			t.Fatalf("ResolveVenue() error = %v", err)
		}
	}
	if got := byKind[dex.VenuePumpSwap].Calls("discover"); got != 1 {
		t.Fatalf("discover calls within TTL = %d, want 1", got)
	}

	clock.Advance(59 * time.Second)
	if _, err := r.ResolveVenue(ctx, mint, ResolveOptions{}); err != nil {
		t.Fatalf("ResolveVenue() error = %v", err)
	}
	if got := byKind[dex.VenuePumpSwap].Calls("discover"); got != 1 {
		t.Fatalf("discover calls before expiry = %d, want 1", got)
	}

	clock.Advance(time.Second)
	if _, err := r.ResolveVenue(ctx, mint, ResolveOptions{}); err != nil {
		t.Fatalf("ResolveVenue() error = %v", err)
	}
	if got := byKind[dex.VenuePumpSwap].Calls("discover"); got != 2 {
		t.Fatalf("discover calls after expiry = %d, want 2", got)
	}
}

func TestResolveVenueDeduplicatesConcurrentProbes(t *testing.T) {
	byKind, registry := fakes(dex.VenueMeteoraDBC)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	byKind[dex.VenueMeteoraDBC].DiscoverFunc = func(_ context.Context, mint solana.PublicKey) (*dex.PoolDescriptor, error) {
		once.Do(func() { close(entered) })
		<-release
		return venuetest.Found(dex.VenueMeteoraDBC, mint), nil
	}
	r := New(registry, Config{Priority: []dex.VenueKind{dex.VenueMeteoraDBC}}, nil)
	mint := newKey()

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	resolve := func() {
		defer wg.Done()
		_, err := r.ResolveVenue(context.Background(), mint, ResolveOptions{})
		errs <- err
	}
	wg.Add(1)
	go resolve()
	<-entered
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go resolve()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("ResolveVenue() error = %v", err)
		}
	}
	if got := byKind[dex.VenueMeteoraDBC].Calls("discover"); got != 1 {
		t.Fatalf("discover calls = %d, want 1", got)
	}
}

func TestResolveVenueSharedDiscoverySurvivesCallerCancel(t *testing.T) {
	byKind, registry := fakes(dex.VenuePumpSwap)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	byKind[dex.VenuePumpSwap].DiscoverFunc = func(ctx context.Context, mint solana.PublicKey) (*dex.PoolDescriptor, error) {
		once.Do(func() { close(entered) })
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return venuetest.Found(dex.VenuePumpSwap, mint), nil
	}
	r := New(registry, Config{Priority: []dex.VenueKind{dex.VenuePumpSwap}}, nil)
	mint := newKey()

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.ResolveVenue(firstCtx, mint, ResolveOptions{})
		firstErr <- err
	}()
	<-entered

	secondErr := make(chan error, 1)
	go func() {
		_, err := r.ResolveVenue(context.Background(), mint, ResolveOptions{})
		secondErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller error = %v, want context.Canceled", err)
	}
	close(release)
	if err := <-secondErr; err != nil {
		t.Fatalf("joined caller error = %v, want nil", err)
	}
	if got := byKind[dex.VenuePumpSwap].Calls("discover"); got != 1 {
		t.Fatalf("discover calls = %d, want 1", got)
	}
	if r.State(mint) != StateConfirmed {
		t.Fatalf("State() = %s, want confirmed", r.State(mint))
	}
}

func TestResolveVenueDiscoveryTimeout(t *testing.T) {
	byKind, registry := fakes(dex.VenuePumpSwap)
	byKind[dex.VenuePumpSwap].DiscoverFunc = func(ctx context.Context, _ solana.PublicKey) (*dex.PoolDescriptor, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r := New(registry, Config{Priority: []dex.VenueKind{dex.VenuePumpSwap}, DiscoveryTimeout: 20 * time.Millisecond}, nil)

	_, err := r.ResolveVenue(context.Background(), newKey(), ResolveOptions{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ResolveVenue() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestResolveVenueRejectsIncompleteDescriptor(t *testing.T) {
	byKind, registry := fakes(dex.VenuePumpSwap, dex.VenueRaydiumCPMM)
	byKind[dex.VenuePumpSwap].DiscoverFunc = func(_ context.Context, mint solana.PublicKey) (*dex.PoolDescriptor, error) {
		desc := venuetest.Found(dex.VenuePumpSwap, mint)
		desc.NativeVault = desc.TokenVault
		return desc, nil
	}
	r := New(registry, Config{Priority: []dex.VenueKind{dex.VenuePumpSwap, dex.VenueRaydiumCPMM}}, nil)
	mint := newKey()

	got, err := r.ResolveVenue(context.Background(), mint, ResolveOptions{})
	if err != nil {
		t.Fatalf("ResolveVenue() error = %v", err)
	}
	if got.Venue.Kind() != dex.VenueRaydiumCPMM {
		t.Fatalf("ResolveVenue() = %s, want raydium_cpmm past the invalid pumpswap pool", got.Venue.Kind())
	}

	if _, err := r.ResolveVenue(context.Background(), newKey(), ResolveOptions{Hint: dex.VenuePumpSwap}); !errors.Is(err, dex.ErrNotFound) {
		t.Fatalf("hinted ResolveVenue() error = %v, want ErrNotFound", err)
	}
}

func TestResolveVenueExhausted(t *testing.T) {
	byKind, registry := fakes(dex.VenueJupiter, dex.VenuePumpFun)
	byKind[dex.VenueJupiter].NotFound()
	byKind[dex.VenuePumpFun].NotFound()
	r := New(registry, Config{}, nil)
	mint := newKey()

	for i := 0; i < 2; i++ {
		if _, err := r.ResolveVenue(context.Background(), mint, ResolveOptions{}); !errors.Is(err, dex.ErrNotFound) {
			t.Fatalf("ResolveVenue() error = %v, want ErrNotFound", err)
		}
	}
	if r.State(mint) != StateExhausted {
		t.Fatalf("State() = %s, want exhausted", r.State(mint))
	}
	if got := byKind[dex.VenuePumpFun].Calls("discover"); got != 1 {
		t.Fatalf("discover calls = %d, want 1 (negative cache)", got)
	}
}

func TestResolveVenueTransientFailureIsNotCached(t *testing.T) {
	byKind, registry := fakes(dex.VenueJupiter, dex.VenuePumpFun)
	transient := errors.New("rpc unavailable")
	byKind[dex.VenueJupiter].DiscoverFunc = func(context.Context, solana.PublicKey) (*dex.PoolDescriptor, error) {
		return nil, transient
	}
	byKind[dex.VenuePumpFun].NotFound()
	r := New(registry, Config{}, nil)
	mint := newKey()

	_, err := r.ResolveVenue(context.Background(), mint, ResolveOptions{})
	if !errors.Is(err, transient) || errors.Is(err, dex.ErrNotFound) {
		t.Fatalf("ResolveVenue() error = %v, want the transient failure", err)
	}
	if r.State(mint) != StateUnknown {
		t.Fatalf("State() = %s, want unknown", r.State(mint))
	}
}

func TestRecordVenueOutcomeMigratedProbesSuccessors(t *testing.T) {
	byKind, registry := fakes(dex.VenueJupiter, dex.VenuePumpFun, dex.VenuePumpSwap, dex.VenueLaunchLab)
	byKind[dex.VenueJupiter].NotFound()
	r := New(registry, Config{}, nil)
	mint := newKey()
	ctx := context.Background()

	first, err := r.ResolveVenue(ctx, mint, ResolveOptions{})
	if err != nil || first.Venue.Kind() != dex.VenuePumpFun {
		t.Fatalf("ResolveVenue() = %v, %v; want pumpfun", first.Venue, err)
	}

	byKind[dex.VenuePumpFun].NotFound()
	r.RecordVenueOutcome(mint, dex.VenuePumpFun, dex.ErrVenueMigrated)
	if r.State(mint) != StateProbing {
		t.Fatalf("State() after migration = %s, want probing", r.State(mint))
	}

	next, err := r.ResolveVenue(ctx, mint, ResolveOptions{})
	if err != nil {
		t.Fatalf("ResolveVenue() after migration error = %v", err)
	}
	if next.Venue.Kind() != dex.VenuePumpSwap {
		t.Fatalf("successor = %s, want pumpswap", next.Venue.Kind())
	}
	if got := byKind[dex.VenuePumpFun].Calls("discover"); got != 1 {
		t.Fatalf("migrated venue re-probed %d times, want only the original probe", got)
	}
	if got := byKind[dex.VenueLaunchLab].Calls("discover"); got != 0 {
		t.Fatalf("unrelated venue probed %d times, want 0", got)
	}
}

func TestResolveVenueHintSkipsProbing(t *testing.T) {
	byKind, registry := fakes(dex.VenueJupiter, dex.VenueRaydiumCPMM)
	r := New(registry, Config{}, nil)
	mint := newKey()

	got, err := r.ResolveVenue(context.Background(), mint, ResolveOptions{Hint: dex.VenueRaydiumCPMM})
	if err != nil {
		t.Fatalf("ResolveVenue() error = %v", err)
	}
	if got.Venue.Kind() != dex.VenueRaydiumCPMM {
		t.Fatalf("venue = %s, want raydium_cpmm", got.Venue.Kind())
	}
	if byKind[dex.VenueJupiter].Calls("discover") != 0 {
		t.Fatalf("hint still probed the priority list")
	}
	if _, err := r.ResolveVenue(context.Background(), mint, ResolveOptions{Hint: "orca"}); !errors.Is(err, dex.ErrUnsupportedVenue) {
		t.Fatalf("unknown hint error = %v, want ErrUnsupportedVenue", err)
	}
}

func TestDiscoveryCacheReturnsCopies(t *testing.T) {
	c := NewDiscoveryCache(nil)
	mint := newKey()
	pool := venuetest.Found(dex.VenuePumpSwap, mint)
	pool.Extra = map[dex.AccountRole]solana.PublicKey{dex.RoleConfig: newKey()}
	c.Put(Entry{Mint: mint, State: StateConfirmed, Venue: dex.VenuePumpSwap, Pool: pool}, 0)

	got, _ := c.Get(mint)
	got.Pool.Extra[dex.RoleConfig] = solana.PublicKey{}
	again, _ := c.Get(mint)
	if again.Pool.Extra[dex.RoleConfig].IsZero() {
		t.Fatalf("mutating a returned descriptor changed the cache")
	}
}

func TestVenuesFollowsPriority(t *testing.T) {
	_, registry := fakes(dex.VenueJupiter, dex.VenuePumpFun, dex.VenueMeteoraDBC)
	r := New(registry, Config{Priority: []dex.VenueKind{dex.VenueMeteoraDBC, dex.VenuePumpFun}}, nil)

	got := r.Venues()
	want := []dex.VenueKind{dex.VenueMeteoraDBC, dex.VenuePumpFun, dex.VenueJupiter}
	if len(got) != len(want) {
		t.Fatalf("Venues() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Venues() = %v, want %v", got, want)
		}
	}
}
