package pendle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"lendoracle/core/events"
	"lendoracle/native/oracle"
	"lendoracle/observability"
)

// Name identifies the adapter in logs, metrics and events.
const Name = "pendle"

var (
	ErrInvalidDuration = errors.New("pendle: twap duration must be positive")
	ErrOracleNotReady  = errors.New("pendle: pt oracle buffer not ready")
	ErrInvalidRateKind = errors.New("pendle: unknown rate kind")
)

// RateKind selects which PT oracle rate prices the token.
type RateKind uint8

const (
	// PtToAsset converts PT into the market's accounting asset.
	PtToAsset RateKind = iota
	// PtToSy converts PT into the market's SY token.
	PtToSy
)

func (k RateKind) String() string {
	switch k {
	case PtToAsset:
		return "pt_to_asset"
	case PtToSy:
		return "pt_to_sy"
	default:
		return "unknown"
	}
}

// ParseRateKind accepts the names produced by RateKind.String. An empty
// string selects PtToAsset.
func ParseRateKind(s string) (RateKind, error) {
	switch s {
	case "", "pt_to_asset":
		return PtToAsset, nil
	case "pt_to_sy":
		return PtToSy, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidRateKind, s)
	}
}

// OracleState mirrors PendlePYLpOracle.getOracleState.
type OracleState struct {
	IncreaseCardinalityRequired bool
	CardinalityRequired         uint16
	OldestObservationSatisfied  bool
}

// PtOracle is the external Pendle PT/LP oracle.
type PtOracle interface {
	GetOracleState(ctx context.Context, market common.Address, duration uint32) (OracleState, error)
	GetPtToAssetRate(ctx context.Context, market common.Address, duration uint32) (*big.Int, error)
	GetPtToSyRate(ctx context.Context, market common.Address, duration uint32) (*big.Int, error)
}

// TokenConfig prices the PT token Asset from Market over TwapDuration seconds.
type TokenConfig struct {
	Asset        common.Address
	Market       common.Address
	Underlying   common.Address
	TwapDuration uint32
	RateKind     RateKind
}

// Oracle prices Pendle principal tokens through their underlying.
type Oracle struct {
	*oracle.Base

	pt         PtOracle
	downstream oracle.PriceOracle

	mu      sync.RWMutex
	configs map[common.Address]TokenConfig
}

func New(pt PtOracle, downstream oracle.PriceOracle, metadata oracle.TokenMetadata, opts ...oracle.Option) (*Oracle, error) {
	if pt == nil || downstream == nil {
		return nil, fmt.Errorf("%w: pt oracle and downstream oracle are required", oracle.ErrNilDependency)
	}
	base, err := oracle.NewBase(Name, metadata, nil, opts...)
	if err != nil {
		return nil, err
	}
	return &Oracle{
		Base:       base,
		pt:         pt,
		downstream: downstream,
		configs:    make(map[common.Address]TokenConfig),
	}, nil
}

func (o *Oracle) SetTokenConfig(ctx context.Context, caller common.Address, cfg TokenConfig) error {
	return o.SetTokenConfigs(ctx, caller, []TokenConfig{cfg})
}

// SetTokenConfigs validates every config, including the PT oracle's buffer
// health, before storing any of them.
func (o *Oracle) SetTokenConfigs(ctx context.Context, caller common.Address, cfgs []TokenConfig) error {
	if len(cfgs) == 0 {
		return oracle.ErrEmptyConfigs
	}
	if err := o.Authorize(caller, oracle.SigSetTokenConfig); err != nil {
		return err
	}
	for _, cfg := range cfgs {
		if err := o.validate(ctx, cfg); err != nil {
			return err
		}
	}

	o.mu.Lock()
	for _, cfg := range cfgs {
		o.configs[cfg.Asset] = cfg
	}
	o.mu.Unlock()

	for _, cfg := range cfgs {
		observability.Oracle().RecordConfig(Name)
		o.Emit(events.TokenConfigAdded{
			Oracle: Name,
			Asset:  cfg.Asset,
			Fields: map[string]string{
				"market":       cfg.Market.Hex(),
				"underlying":   cfg.Underlying.Hex(),
				"twapDuration": strconv.FormatUint(uint64(cfg.TwapDuration), 10),
				"rateKind":     cfg.RateKind.String(),
			},
		})
	}
	return nil
}

func (o *Oracle) validate(ctx context.Context, cfg TokenConfig) error {
	if err := oracle.RequireAddress("asset", cfg.Asset); err != nil {
		return err
	}
	if err := oracle.RequireAddress("market", cfg.Market); err != nil {
		return err
	}
	if err := oracle.RequireAddress("underlying", cfg.Underlying); err != nil {
		return err
	}
	if cfg.TwapDuration == 0 {
		return ErrInvalidDuration
	}
	if cfg.RateKind != PtToAsset && cfg.RateKind != PtToSy {
		return fmt.Errorf("%w: %d", ErrInvalidRateKind, cfg.RateKind)
	}
	state, err := o.pt.GetOracleState(ctx, cfg.Market, cfg.TwapDuration)
	if err != nil {
		return fmt.Errorf("pt oracle state for %s: %w", cfg.Market.Hex(), err)
	}
	if state.IncreaseCardinalityRequired {
		return fmt.Errorf("%w: cardinality must grow to %d", ErrOracleNotReady, state.CardinalityRequired)
	}
	if !state.OldestObservationSatisfied {
		return fmt.Errorf("%w: oldest observation does not cover %ds", ErrOracleNotReady, cfg.TwapDuration)
	}
	return nil
}

// TokenConfig returns the stored configuration for asset.
func (o *Oracle) TokenConfig(asset common.Address) (TokenConfig, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	cfg, ok := o.configs[asset]
	return cfg, ok
}

// GetPrice returns the USD price of one raw unit of asset scaled by 1e36.
func (o *Oracle) GetPrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	cfg, ok := o.TokenConfig(asset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", oracle.ErrUnconfiguredAsset, asset.Hex())
	}
	rate, err := o.rate(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if rate == nil || rate.Sign() <= 0 {
		return nil, fmt.Errorf("%w: pt rate %v", oracle.ErrInvalidPrice, rate)
	}
	decimals, err := o.Decimals(ctx, asset)
	if err != nil {
		return nil, err
	}
	underlyingPrice, err := o.downstream.GetPrice(ctx, cfg.Underlying)
	if err != nil {
		return nil, fmt.Errorf("underlying %s price: %w", cfg.Underlying.Hex(), err)
	}
	// PT shares its underlying's decimals, so the rate converts raw units 1:1.
	return oracle.CorrelatedPrice(rate, decimals, decimals, underlyingPrice)
}

func (o *Oracle) rate(ctx context.Context, cfg TokenConfig) (*big.Int, error) {
	var (
		rate *big.Int
		err  error
	)
	switch cfg.RateKind {
	case PtToSy:
		rate, err = o.pt.GetPtToSyRate(ctx, cfg.Market, cfg.TwapDuration)
	default:
		rate, err = o.pt.GetPtToAssetRate(ctx, cfg.Market, cfg.TwapDuration)
	}
	if err != nil {
		return nil, fmt.Errorf("pt rate for %s: %w", cfg.Market.Hex(), err)
	}
	return rate, nil
}

var _ oracle.PriceOracle = (*Oracle)(nil)
