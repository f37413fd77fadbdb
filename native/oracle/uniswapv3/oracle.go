package uniswapv3

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendoracle/core/events"
	"lendoracle/native/oracle"
	"lendoracle/observability"
)

// Name identifies the adapter in logs, metrics and events.
const Name = "uniswapv3"

// MinWindow is the shortest accepted TWAP window in seconds.
const MinWindow = 5 * 60

var (
	ErrInvalidFee     = errors.New("uniswapv3: unsupported fee tier")
	ErrInvalidWindow  = errors.New("uniswapv3: invalid twap window")
	ErrPoolNotFound   = errors.New("uniswapv3: pool not found")
	ErrAmountTooLarge = errors.New("uniswapv3: amount exceeds uint128")
	ErrBadObservation = errors.New("uniswapv3: malformed observation")
)

// FeeTiers lists the accepted pool fees in hundredths of a bip. 2500 is the
// PancakeSwap V3 tier.
var FeeTiers = map[uint32]struct{}{
	100:   {},
	500:   {},
	2500:  {},
	3000:  {},
	10000: {},
}

// TokenConfig prices BaseToken in QuoteToken through the pool for Fee.
type TokenConfig struct {
	BaseToken  common.Address
	QuoteToken common.Address
	Fee        uint32
	// Window is the TWAP look-back in seconds.
	Window uint64
	// Pool is resolved from the factory when the config is accepted.
	Pool common.Address
}

// Factory resolves pools by token pair and fee.
type Factory interface {
	GetPool(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error)
}

// PoolObserver reads tick cumulatives for the given seconds ago.
type PoolObserver interface {
	Observe(ctx context.Context, pool common.Address, secondsAgos []uint32) ([]int64, error)
}

// Oracle prices assets from Uniswap V3 pool TWAPs.
type Oracle struct {
	*oracle.Base

	factory    Factory
	pools      PoolObserver
	downstream oracle.PriceOracle

	mu      sync.RWMutex
	configs map[common.Address]TokenConfig
}

func New(factory Factory, pools PoolObserver, downstream oracle.PriceOracle, metadata oracle.TokenMetadata, opts ...oracle.Option) (*Oracle, error) {
	if factory == nil || pools == nil || downstream == nil {
		return nil, fmt.Errorf("%w: factory, pool observer and downstream oracle are required", oracle.ErrNilDependency)
	}
	base, err := oracle.NewBase(Name, metadata, nil, opts...)
	if err != nil {
		return nil, err
	}
	return &Oracle{
		Base:       base,
		factory:    factory,
		pools:      pools,
		downstream: downstream,
		configs:    make(map[common.Address]TokenConfig),
	}, nil
}

func (o *Oracle) SetTokenConfig(ctx context.Context, caller common.Address, cfg TokenConfig) error {
	return o.SetTokenConfigs(ctx, caller, []TokenConfig{cfg})
}

// SetTokenConfigs validates every config before storing any of them.
func (o *Oracle) SetTokenConfigs(ctx context.Context, caller common.Address, cfgs []TokenConfig) error {
	if len(cfgs) == 0 {
		return oracle.ErrEmptyConfigs
	}
	if err := o.Authorize(caller, oracle.SigSetTokenConfig); err != nil {
		return err
	}
	staged := make([]TokenConfig, 0, len(cfgs))
	for _, cfg := range cfgs {
		resolved, err := o.resolve(ctx, cfg)
		if err != nil {
			return err
		}
		staged = append(staged, resolved)
	}

	o.mu.Lock()
	for _, cfg := range staged {
		o.configs[cfg.BaseToken] = cfg
	}
	o.mu.Unlock()

	for _, cfg := range staged {
		observability.Oracle().RecordConfig(Name)
		o.Emit(events.TokenConfigAdded{
			Oracle: Name,
			Asset:  cfg.BaseToken,
			Fields: map[string]string{
				"quoteToken": cfg.QuoteToken.Hex(),
				"pool":       cfg.Pool.Hex(),
				"fee":        strconv.FormatUint(uint64(cfg.Fee), 10),
				"window":     strconv.FormatUint(cfg.Window, 10),
			},
		})
	}
	return nil
}

func (o *Oracle) resolve(ctx context.Context, cfg TokenConfig) (TokenConfig, error) {
	if err := oracle.RequireAddress("baseToken", cfg.BaseToken); err != nil {
		return TokenConfig{}, err
	}
	if err := oracle.RequireAddress("quoteToken", cfg.QuoteToken); err != nil {
		return TokenConfig{}, err
	}
	if _, ok := FeeTiers[cfg.Fee]; !ok {
		return TokenConfig{}, fmt.Errorf("%w: %d", ErrInvalidFee, cfg.Fee)
	}
	if cfg.Window < MinWindow || cfg.Window > math.MaxInt32 {
		return TokenConfig{}, fmt.Errorf("%w: %d seconds", ErrInvalidWindow, cfg.Window)
	}
	pool, err := o.factory.GetPool(ctx, cfg.BaseToken, cfg.QuoteToken, cfg.Fee)
	if err != nil {
		return TokenConfig{}, fmt.Errorf("resolve pool: %w", err)
	}
	if pool == (common.Address{}) {
		return TokenConfig{}, fmt.Errorf("%w: %s/%s fee %d", ErrPoolNotFound, cfg.BaseToken.Hex(), cfg.QuoteToken.Hex(), cfg.Fee)
	}
	cfg.Pool = pool
	return cfg, nil
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
	decimals, err := o.Decimals(ctx, cfg.BaseToken)
	if err != nil {
		return nil, err
	}
	baseAmount, overflow := uint256.FromBig(oracle.Pow10(decimals))
	if overflow || baseAmount.Gt(maxUint128) {
		return nil, fmt.Errorf("%w: 10^%d", ErrAmountTooLarge, decimals)
	}

	tick, err := o.meanTick(ctx, cfg)
	if err != nil {
		return nil, err
	}
	quoteAmount, err := QuoteAtTick(tick, baseAmount, cfg.BaseToken, cfg.QuoteToken)
	if err != nil {
		return nil, err
	}
	quotePrice, err := o.downstream.GetPrice(ctx, cfg.QuoteToken)
	if err != nil {
		return nil, fmt.Errorf("quote token %s price: %w", cfg.QuoteToken.Hex(), err)
	}
	price := new(big.Int).Mul(quoteAmount.ToBig(), quotePrice)
	return price.Quo(price, baseAmount.ToBig()), nil
}

func (o *Oracle) meanTick(ctx context.Context, cfg TokenConfig) (int32, error) {
	cumulatives, err := o.pools.Observe(ctx, cfg.Pool, []uint32{uint32(cfg.Window), 0})
	if err != nil {
		return 0, fmt.Errorf("observe pool %s: %w", cfg.Pool.Hex(), err)
	}
	if len(cumulatives) != 2 {
		return 0, fmt.Errorf("%w: expected 2 tick cumulatives, got %d", ErrBadObservation, len(cumulatives))
	}
	tick := MeanTick(cumulatives[1]-cumulatives[0], int64(cfg.Window))
	if tick < MinTick || tick > MaxTick {
		return 0, fmt.Errorf("%w: %d", ErrTickOutOfRange, tick)
	}
	return int32(tick), nil
}

// MeanTick divides a tick cumulative delta by the window, rounding toward
// negative infinity.
func MeanTick(delta, window int64) int64 {
	tick := delta / window
	if delta < 0 && delta%window != 0 {
		tick--
	}
	return tick
}

var _ oracle.PriceOracle = (*Oracle)(nil)
