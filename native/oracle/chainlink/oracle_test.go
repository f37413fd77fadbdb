package chainlink

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"lendoracle/core/events"
	nativecommon "lendoracle/native/common"
	"lendoracle/native/oracle"
)

var (
	admin      = common.HexToAddress("0xad")
	asset      = common.HexToAddress("0x10")
	underlying = common.HexToAddress("0x20")
	feed       = common.HexToAddress("0xf0")
)

type fakeFeeds struct {
	rounds   map[common.Address]RoundData
	decimals map[common.Address]uint8
}

func (f *fakeFeeds) LatestRoundData(_ context.Context, feed common.Address) (RoundData, error) {
	round, ok := f.rounds[feed]
	if !ok {
		return RoundData{}, errors.New("unknown feed")
	}
	return round, nil
}

func (f *fakeFeeds) Decimals(_ context.Context, feed common.Address) (uint8, error) {
	return f.decimals[feed], nil
}

type staticMetadata map[common.Address]uint8

func (m staticMetadata) Decimals(_ context.Context, token common.Address) (uint8, error) {
	d, ok := m[token]
	if !ok {
		return 0, errors.New("unknown token")
	}
	return d, nil
}

type captureEmitter struct{ events []events.Event }

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func newAccess() *nativecommon.StaticAccessControl {
	acm := nativecommon.NewStaticAccessControl()
	acm.Grant(oracle.SigSetTokenConfig, admin)
	acm.Grant(oracle.SigSetDirectPrice, admin)
	return acm
}

func newDirect(t *testing.T, feeds *fakeFeeds, now uint64, emitter events.Emitter) *Oracle {
	t.Helper()
	clock := oracle.ClockFunc(func(context.Context) (uint64, error) { return now, nil })
	o, err := NewDirect(feeds, staticMetadata{asset: 6, underlying: 18}, clock, oracle.WithEmitter(emitter))
	if err != nil {
		t.Fatalf("new direct oracle: %v", err)
	}
	if err := o.Initialize(newAccess()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return o
}

func TestSetTokenConfigValidation(t *testing.T) {
	o := newDirect(t, &fakeFeeds{}, 0, nil)
	ctx := context.Background()
	if err := o.SetTokenConfig(ctx, admin, TokenConfig{Feed: feed, MaxStalePeriod: 1}); !errors.Is(err, oracle.ErrZeroAddress) {
		t.Fatalf("expected zero asset, got %v", err)
	}
	if err := o.SetTokenConfig(ctx, admin, TokenConfig{Asset: asset, MaxStalePeriod: 1}); !errors.Is(err, oracle.ErrZeroAddress) {
		t.Fatalf("expected zero feed, got %v", err)
	}
	if err := o.SetTokenConfig(ctx, admin, TokenConfig{Asset: asset, Feed: feed}); !errors.Is(err, ErrInvalidStalePeriod) {
		t.Fatalf("expected invalid stale period, got %v", err)
	}
	if err := o.SetTokenConfigs(ctx, admin, nil); !errors.Is(err, oracle.ErrEmptyConfigs) {
		t.Fatalf("expected empty configs, got %v", err)
	}
	// Direct configs do not need an underlying.
	if err := o.SetTokenConfig(ctx, admin, TokenConfig{Asset: asset, Feed: feed, MaxStalePeriod: 60}); err != nil {
		t.Fatalf("set token config: %v", err)
	}

	oneJump, err := NewOneJump(&fakeFeeds{}, oracle.PriceOracleFunc(func(context.Context, common.Address) (*big.Int, error) {
		return big.NewInt(1), nil
	}), staticMetadata{}, oracle.ClockFunc(func(context.Context) (uint64, error) { return 0, nil }))
	if err != nil {
		t.Fatalf("new one jump: %v", err)
	}
	if err := oneJump.Initialize(newAccess()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := oneJump.SetTokenConfig(ctx, admin, TokenConfig{Asset: asset, Feed: feed, MaxStalePeriod: 60}); !errors.Is(err, oracle.ErrZeroAddress) {
		t.Fatalf("expected zero underlying, got %v", err)
	}
}

func TestGetPriceStaleness(t *testing.T) {
	feeds := &fakeFeeds{
		rounds:   map[common.Address]RoundData{feed: {Answer: big.NewInt(100_000_000), UpdatedAt: 1_000}},
		decimals: map[common.Address]uint8{feed: 8},
	}
	ctx := context.Background()
	cfg := TokenConfig{Asset: asset, Feed: feed, MaxStalePeriod: 100}

	cases := []struct {
		name string
		now  uint64
		want error
	}{
		{name: "fresh", now: 1_050},
		{name: "boundary", now: 1_100},
		{name: "stale", now: 1_101, want: ErrStalePrice},
		{name: "future", now: 999, want: ErrFuturePrice},
	}
	for _, tc := range cases {
		o := newDirect(t, feeds, tc.now, nil)
		if err := o.SetTokenConfig(ctx, admin, cfg); err != nil {
			t.Fatalf("%s: set token config: %v", tc.name, err)
		}
		price, err := o.GetPrice(ctx, asset)
		if tc.want != nil {
			if !errors.Is(err, tc.want) {
				t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: get price: %v", tc.name, err)
		}
		// $1 for a 6 decimal asset: 1e30 per raw unit.
		if price.Cmp(oracle.Pow10(30)) != 0 {
			t.Fatalf("%s: unexpected price %s", tc.name, price)
		}
	}
}

func TestGetPriceRejectsNonPositiveAnswer(t *testing.T) {
	ctx := context.Background()
	for _, answer := range []int64{0, -5} {
		feeds := &fakeFeeds{
			rounds:   map[common.Address]RoundData{feed: {Answer: big.NewInt(answer), UpdatedAt: 10}},
			decimals: map[common.Address]uint8{feed: 8},
		}
		o := newDirect(t, feeds, 10, nil)
		if err := o.SetTokenConfig(ctx, admin, TokenConfig{Asset: asset, Feed: feed, MaxStalePeriod: 60}); err != nil {
			t.Fatalf("set token config: %v", err)
		}
		if _, err := o.GetPrice(ctx, asset); !errors.Is(err, oracle.ErrInvalidPrice) {
			t.Fatalf("answer %d: expected invalid price, got %v", answer, err)
		}
	}
}

func TestDirectPriceOverridesFeed(t *testing.T) {
	emitter := &captureEmitter{}
	// The feed is stale; the override must not consult it.
	feeds := &fakeFeeds{
		rounds:   map[common.Address]RoundData{feed: {Answer: big.NewInt(1), UpdatedAt: 0}},
		decimals: map[common.Address]uint8{feed: 8},
	}
	o := newDirect(t, feeds, 10_000, emitter)
	ctx := context.Background()

	if _, err := o.GetPrice(ctx, asset); !errors.Is(err, oracle.ErrUnconfiguredAsset) {
		t.Fatalf("expected unconfigured asset, got %v", err)
	}
	if err := o.SetTokenConfig(ctx, admin, TokenConfig{Asset: asset, Feed: feed, MaxStalePeriod: 60}); err != nil {
		t.Fatalf("set token config: %v", err)
	}
	if err := o.SetDirectPrice(ctx, common.HexToAddress("0xbad"), asset, big.NewInt(1)); !errors.Is(err, nativecommon.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	twoDollars := new(big.Int).Mul(big.NewInt(2), oracle.ExpScale)
	if err := o.SetDirectPrice(ctx, admin, asset, twoDollars); err != nil {
		t.Fatalf("set direct price: %v", err)
	}
	price, err := o.GetPrice(ctx, asset)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if want := new(big.Int).Mul(big.NewInt(2), oracle.Pow10(30)); price.Cmp(want) != 0 {
		t.Fatalf("unexpected price %s want %s", price, want)
	}

	var posted *events.PricePosted
	for _, evt := range emitter.events {
		if p, ok := evt.(events.PricePosted); ok {
			posted = &p
		}
	}
	if posted == nil || posted.Previous.Sign() != 0 || posted.Price.Cmp(twoDollars) != 0 {
		t.Fatalf("unexpected price posted event %+v", posted)
	}

	// Clearing the override falls back to the stale feed.
	if err := o.SetDirectPrice(ctx, admin, asset, big.NewInt(0)); err != nil {
		t.Fatalf("clear direct price: %v", err)
	}
	if _, err := o.GetPrice(ctx, asset); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected stale price after clearing override, got %v", err)
	}
}

func TestOneJumpPrice(t *testing.T) {
	// Asset (6 decimals) trades at 1.5 underlying; underlying (18 decimals) at $2000.
	feeds := &fakeFeeds{
		rounds:   map[common.Address]RoundData{feed: {Answer: big.NewInt(150_000_000), UpdatedAt: 100}},
		decimals: map[common.Address]uint8{feed: 8},
	}
	underlyingUSD := new(big.Int).Mul(big.NewInt(2000), oracle.Pow10(18))
	downstream := oracle.PriceOracleFunc(func(_ context.Context, a common.Address) (*big.Int, error) {
		if a != underlying {
			return nil, oracle.ErrUnconfiguredAsset
		}
		return new(big.Int).Set(underlyingUSD), nil
	})
	clock := oracle.ClockFunc(func(context.Context) (uint64, error) { return 100, nil })
	o, err := NewOneJump(feeds, downstream, staticMetadata{asset: 6, underlying: 18}, clock)
	if err != nil {
		t.Fatalf("new one jump: %v", err)
	}
	if err := o.Initialize(newAccess()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	ctx := context.Background()
	if err := o.SetTokenConfig(ctx, admin, TokenConfig{Asset: asset, Feed: feed, MaxStalePeriod: 60, Underlying: underlying}); err != nil {
		t.Fatalf("set token config: %v", err)
	}
	price, err := o.GetPrice(ctx, asset)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	// $3000 per whole asset with 6 decimals: 3000 * 1e30.
	if want := new(big.Int).Mul(big.NewInt(3000), oracle.Pow10(30)); price.Cmp(want) != 0 {
		t.Fatalf("unexpected price %s want %s", price, want)
	}
}

func TestSetTokenConfigsAllOrNothing(t *testing.T) {
	emitter := &captureEmitter{}
	o := newDirect(t, &fakeFeeds{}, 0, emitter)
	ctx := context.Background()

	batch := []TokenConfig{
		{Asset: asset, Feed: feed, MaxStalePeriod: 60},
		{Asset: underlying, MaxStalePeriod: 60},
	}
	if err := o.SetTokenConfigs(ctx, admin, batch); !errors.Is(err, oracle.ErrZeroAddress) {
		t.Fatalf("expected zero feed, got %v", err)
	}
	if _, ok := o.TokenConfig(asset); ok {
		t.Fatalf("valid entry of a rejected batch was stored")
	}
	for _, evt := range emitter.events {
		if evt.EventType() == events.TypeOracleTokenConfigAdded {
			t.Fatalf("rejected batch emitted %+v", evt)
		}
	}
}
