package pendle

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
	ptToken    = common.HexToAddress("0x10")
	market     = common.HexToAddress("0x20")
	underlying = common.HexToAddress("0x30")
	coldMarket = common.HexToAddress("0x40")
	otherPt    = common.HexToAddress("0x50")
)

type fakePtOracle struct {
	state     OracleState
	markets   map[common.Address]OracleState
	assetRate *big.Int
	syRate    *big.Int
}

func (f *fakePtOracle) GetOracleState(_ context.Context, market common.Address, _ uint32) (OracleState, error) {
	if state, ok := f.markets[market]; ok {
		return state, nil
	}
	return f.state, nil
}

func (f *fakePtOracle) GetPtToAssetRate(context.Context, common.Address, uint32) (*big.Int, error) {
	return f.assetRate, nil
}

func (f *fakePtOracle) GetPtToSyRate(context.Context, common.Address, uint32) (*big.Int, error) {
	return f.syRate, nil
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

func newOracle(t *testing.T, pt *fakePtOracle, underlyingUSD *big.Int, opts ...oracle.Option) *Oracle {
	t.Helper()
	downstream := oracle.PriceOracleFunc(func(_ context.Context, asset common.Address) (*big.Int, error) {
		if asset != underlying {
			return nil, oracle.ErrUnconfiguredAsset
		}
		return new(big.Int).Set(underlyingUSD), nil
	})
	o, err := New(pt, downstream, staticMetadata{ptToken: 18, underlying: 18}, opts...)
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}
	acm := nativecommon.NewStaticAccessControl()
	acm.Grant(oracle.SigSetTokenConfig, admin)
	if err := o.Initialize(acm); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return o
}

func readyState() OracleState {
	return OracleState{OldestObservationSatisfied: true}
}

func TestSetTokenConfigRequiresWarmBuffer(t *testing.T) {
	pt := &fakePtOracle{state: OracleState{IncreaseCardinalityRequired: true, CardinalityRequired: 90}}
	o := newOracle(t, pt, big.NewInt(1))
	ctx := context.Background()
	cfg := TokenConfig{Asset: ptToken, Market: market, Underlying: underlying, TwapDuration: 1800}

	if err := o.SetTokenConfig(ctx, admin, cfg); !errors.Is(err, ErrOracleNotReady) {
		t.Fatalf("expected cardinality failure, got %v", err)
	}
	pt.state = OracleState{}
	if err := o.SetTokenConfig(ctx, admin, cfg); !errors.Is(err, ErrOracleNotReady) {
		t.Fatalf("expected oldest observation failure, got %v", err)
	}
	if _, ok := o.TokenConfig(ptToken); ok {
		t.Fatalf("rejected config was stored")
	}
	pt.state = readyState()
	if err := o.SetTokenConfig(ctx, admin, cfg); err != nil {
		t.Fatalf("set token config: %v", err)
	}
}

func TestSetTokenConfigValidation(t *testing.T) {
	o := newOracle(t, &fakePtOracle{state: readyState()}, big.NewInt(1))
	ctx := context.Background()
	cases := []struct {
		name string
		cfg  TokenConfig
		want error
	}{
		{name: "zero asset", cfg: TokenConfig{Market: market, Underlying: underlying, TwapDuration: 1}, want: oracle.ErrZeroAddress},
		{name: "zero market", cfg: TokenConfig{Asset: ptToken, Underlying: underlying, TwapDuration: 1}, want: oracle.ErrZeroAddress},
		{name: "zero underlying", cfg: TokenConfig{Asset: ptToken, Market: market, TwapDuration: 1}, want: oracle.ErrZeroAddress},
		{name: "zero duration", cfg: TokenConfig{Asset: ptToken, Market: market, Underlying: underlying}, want: ErrInvalidDuration},
		{name: "bad rate kind", cfg: TokenConfig{Asset: ptToken, Market: market, Underlying: underlying, TwapDuration: 1, RateKind: 7}, want: ErrInvalidRateKind},
	}
	for _, tc := range cases {
		if err := o.SetTokenConfig(ctx, admin, tc.cfg); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if err := o.SetTokenConfigs(ctx, admin, []TokenConfig{}); !errors.Is(err, oracle.ErrEmptyConfigs) {
		t.Fatalf("expected empty configs, got %v", err)
	}
}

func TestGetPrice(t *testing.T) {
	pt := &fakePtOracle{
		state:     readyState(),
		assetRate: big.NewInt(950_000_000_000_000_000),
		syRate:    big.NewInt(900_000_000_000_000_000),
	}
	underlyingUSD := new(big.Int).Mul(big.NewInt(2000), oracle.Pow10(18))
	o := newOracle(t, pt, underlyingUSD)
	ctx := context.Background()

	if _, err := o.GetPrice(ctx, ptToken); !errors.Is(err, oracle.ErrUnconfiguredAsset) {
		t.Fatalf("expected unconfigured asset, got %v", err)
	}
	cfg := TokenConfig{Asset: ptToken, Market: market, Underlying: underlying, TwapDuration: 1800}
	if err := o.SetTokenConfig(ctx, admin, cfg); err != nil {
		t.Fatalf("set token config: %v", err)
	}
	price, err := o.GetPrice(ctx, ptToken)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if want := new(big.Int).Mul(big.NewInt(1900), oracle.Pow10(18)); price.Cmp(want) != 0 {
		t.Fatalf("unexpected PT price %s want %s", price, want)
	}

	cfg.RateKind = PtToSy
	if err := o.SetTokenConfig(ctx, admin, cfg); err != nil {
		t.Fatalf("set token config: %v", err)
	}
	price, err = o.GetPrice(ctx, ptToken)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if want := new(big.Int).Mul(big.NewInt(1800), oracle.Pow10(18)); price.Cmp(want) != 0 {
		t.Fatalf("unexpected PT/SY price %s want %s", price, want)
	}

	pt.syRate = big.NewInt(0)
	if _, err := o.GetPrice(ctx, ptToken); !errors.Is(err, oracle.ErrInvalidPrice) {
		t.Fatalf("expected invalid price, got %v", err)
	}
}

func TestParseRateKind(t *testing.T) {
	for _, kind := range []RateKind{PtToAsset, PtToSy} {
		parsed, err := ParseRateKind(kind.String())
		if err != nil || parsed != kind {
			t.Fatalf("parse %s: %v %v", kind, parsed, err)
		}
	}
	if _, err := ParseRateKind("bogus"); !errors.Is(err, ErrInvalidRateKind) {
		t.Fatalf("expected invalid rate kind, got %v", err)
	}
}

func TestSetTokenConfigsAllOrNothing(t *testing.T) {
	pt := &fakePtOracle{
		state:   readyState(),
		markets: map[common.Address]OracleState{coldMarket: {IncreaseCardinalityRequired: true, CardinalityRequired: 90}},
	}
	emitter := &captureEmitter{}
	o := newOracle(t, pt, big.NewInt(1), oracle.WithEmitter(emitter))
	ctx := context.Background()

	batch := []TokenConfig{
		{Asset: ptToken, Market: market, Underlying: underlying, TwapDuration: 1800},
		{Asset: otherPt, Market: coldMarket, Underlying: underlying, TwapDuration: 1800},
	}
	if err := o.SetTokenConfigs(ctx, admin, batch); !errors.Is(err, ErrOracleNotReady) {
		t.Fatalf("expected cold buffer failure, got %v", err)
	}
	if _, ok := o.TokenConfig(ptToken); ok {
		t.Fatalf("valid entry of a rejected batch was stored")
	}
	for _, evt := range emitter.events {
		if evt.EventType() == events.TypeOracleTokenConfigAdded {
			t.Fatalf("rejected batch emitted %+v", evt)
		}
	}
}
