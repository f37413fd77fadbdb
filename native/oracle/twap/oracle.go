package twap

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"lendoracle/core/events"
	"lendoracle/native/oracle"
	"lendoracle/observability"
)

// Name identifies the adapter in logs, metrics and events.
const Name = "twap"

// Params fixes the pairing assets of the oracle.
type Params struct {
	WETH common.Address
	// ETHBaseUnit is the base unit of WETH (1e18).
	ETHBaseUnit *big.Int
	// StableBaseUnit is the base unit of the stablecoin non-ETH pairs are quoted in.
	StableBaseUnit *big.Int
}

// Oracle computes time weighted average prices from V2 cumulative price
// accumulators and keeps its own observation log per asset.
type Oracle struct {
	*oracle.Base

	params Params
	pairs  PairReader
	store  Store

	mu sync.Mutex
}

func New(params Params, pairs PairReader, metadata oracle.TokenMetadata, clock oracle.Clock, store Store, opts ...oracle.Option) (*Oracle, error) {
	if err := oracle.RequireAddress("weth", params.WETH); err != nil {
		return nil, err
	}
	if params.ETHBaseUnit == nil || params.ETHBaseUnit.Sign() <= 0 {
		return nil, fmt.Errorf("%w: eth base unit", ErrInvalidConfig)
	}
	if params.StableBaseUnit == nil || params.StableBaseUnit.Sign() <= 0 {
		return nil, fmt.Errorf("%w: stable base unit", ErrInvalidConfig)
	}
	if pairs == nil || clock == nil || store == nil {
		return nil, fmt.Errorf("%w: pair reader, clock and store are required", oracle.ErrNilDependency)
	}
	base, err := oracle.NewBase(Name, metadata, clock, opts...)
	if err != nil {
		return nil, err
	}
	params.ETHBaseUnit = new(big.Int).Set(params.ETHBaseUnit)
	params.StableBaseUnit = new(big.Int).Set(params.StableBaseUnit)
	return &Oracle{
		Base:   base,
		params: params,
		pairs:  pairs,
		store:  store,
	}, nil
}

// SetTokenConfig validates cfg and seeds the asset's observation log with the
// pair's current cumulative price.
func (o *Oracle) SetTokenConfig(ctx context.Context, caller common.Address, cfg TokenConfig) error {
	return o.SetTokenConfigs(ctx, caller, []TokenConfig{cfg})
}

// SetTokenConfigs applies every config or none of them.
func (o *Oracle) SetTokenConfigs(ctx context.Context, caller common.Address, cfgs []TokenConfig) error {
	if len(cfgs) == 0 {
		return oracle.ErrEmptyConfigs
	}
	if err := o.Authorize(caller, oracle.SigSetTokenConfig); err != nil {
		return err
	}
	ctx, err := o.Pin(ctx)
	if err != nil {
		return err
	}
	now, err := o.Now(ctx)
	if err != nil {
		return fmt.Errorf("block time: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	tx := o.begin()
	for _, cfg := range cfgs {
		if err := o.stageTokenConfig(ctx, tx, cfg, now); err != nil {
			return err
		}
	}
	if err := tx.commit(); err != nil {
		return err
	}
	for range cfgs {
		observability.Oracle().RecordConfig(Name)
	}
	return nil
}

func (o *Oracle) validateConfig(ctx context.Context, cfg TokenConfig) error {
	if err := oracle.RequireAddress("asset", cfg.Asset); err != nil {
		return err
	}
	if err := oracle.RequireAddress("pool", cfg.Pool); err != nil {
		return err
	}
	if cfg.AnchorPeriod == 0 {
		return ErrInvalidAnchorPeriod
	}
	if cfg.Asset == o.params.WETH && cfg.IsEthBased {
		return fmt.Errorf("%w: WETH cannot be ETH based", ErrInvalidConfig)
	}
	decimals, err := o.Decimals(ctx, cfg.Asset)
	if err != nil {
		return err
	}
	if cfg.BaseUnit == nil || cfg.BaseUnit.Cmp(oracle.Pow10(decimals)) != 0 {
		return fmt.Errorf("%w: %s has %d decimals", ErrBaseUnitMismatch, cfg.Asset.Hex(), decimals)
	}
	return nil
}

func (o *Oracle) stageTokenConfig(ctx context.Context, tx *txn, cfg TokenConfig, now uint64) error {
	if err := o.validateConfig(ctx, cfg); err != nil {
		return err
	}
	cfg = cfg.Clone()
	cumulative, err := o.currentCumulative(ctx, cfg, now)
	if err != nil {
		return err
	}
	state, ok, err := tx.lookup(cfg.Asset)
	if err != nil {
		return err
	}
	if !ok {
		state = &AssetState{Price: big.NewInt(0)}
		tx.stage(cfg.Asset, state)
	}
	state.Config = cfg
	state.Log = append(state.Log, Observation{Timestamp: now, Cumulative: cumulative})

	tx.emit(events.TokenConfigAdded{
		Oracle: Name,
		Asset:  cfg.Asset,
		Fields: map[string]string{
			"pool":           cfg.Pool.Hex(),
			"baseUnit":       cfg.BaseUnit.String(),
			"anchorPeriod":   strconv.FormatUint(cfg.AnchorPeriod, 10),
			"isEthBased":     strconv.FormatBool(cfg.IsEthBased),
			"isReversedPool": strconv.FormatBool(cfg.IsReversedPool),
		},
	})
	return nil
}

func (o *Oracle) currentCumulative(ctx context.Context, cfg TokenConfig, now uint64) (*big.Int, error) {
	snap, err := o.pairs.Snapshot(ctx, cfg.Pool)
	if err != nil {
		return nil, fmt.Errorf("pair %s snapshot: %w", cfg.Pool.Hex(), err)
	}
	cumulative, err := cumulativeFor(cfg, snap, now)
	if err != nil {
		return nil, fmt.Errorf("pair %s: %w", cfg.Pool.Hex(), err)
	}
	return cumulative, nil
}

// UpdateTwap refreshes the asset's TWAP price and returns it (USD per whole
// token, 18 decimals). ETH based assets refresh WETH first. Calls within the
// same block time after the window start return the stored price.
func (o *Oracle) UpdateTwap(ctx context.Context, asset common.Address) (*big.Int, error) {
	ctx, err := o.Pin(ctx)
	if err != nil {
		return nil, err
	}
	now, err := o.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("block time: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	tx := o.begin()
	price, err := o.updateTwap(ctx, tx, asset, now)
	if err != nil {
		observability.Oracle().RecordTwapUpdate(asset.Hex(), "error")
		o.Logger().Warn("twap update failed", slog.String("asset", asset.Hex()), slog.Any("error", err))
		return nil, err
	}
	if err := tx.commit(); err != nil {
		observability.Oracle().RecordTwapUpdate(asset.Hex(), "error")
		return nil, err
	}
	for _, state := range tx.states() {
		observability.Oracle().RecordWindow(state.Config.Asset.Hex(), tx.pruned[state.Config.Asset], len(state.Log))
	}
	return price, nil
}

func (o *Oracle) updateTwap(ctx context.Context, tx *txn, asset common.Address, now uint64) (*big.Int, error) {
	state, ok, err := tx.lookup(asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", oracle.ErrUnconfiguredAsset, asset.Hex())
	}
	cfg := state.Config
	if cfg.IsEthBased && asset != o.params.WETH {
		if _, err := o.updateTwap(ctx, tx, o.params.WETH, now); err != nil {
			return nil, fmt.Errorf("update WETH: %w", err)
		}
	}

	cumulative, err := o.currentCumulative(ctx, cfg, now)
	if err != nil {
		return nil, err
	}
	window, err := pokeWindowValues(state, now, cumulative)
	if err != nil {
		return nil, err
	}
	tx.pruned[asset] += window.pruned
	tx.emit(events.TwapWindowUpdated{
		Oracle:        o.Name(),
		Asset:         asset,
		WindowStart:   state.WindowStart,
		OldTimestamp:  window.startTimestamp,
		OldCumulative: window.startCumulative,
		NewTimestamp:  now,
		NewCumulative: window.cumulative,
	})

	if now == window.startTimestamp {
		observability.Oracle().RecordTwapUpdate(asset.Hex(), "noop")
		return new(big.Int).Set(state.Price), nil
	}
	if now < window.startTimestamp {
		return nil, fmt.Errorf("%w: now %d, window start %d", ErrClockSkew, now, window.startTimestamp)
	}

	price, err := meanPrice(window.cumulative, window.startCumulative, now-window.startTimestamp)
	if err != nil {
		return nil, err
	}
	paired := o.params.StableBaseUnit
	if cfg.IsEthBased {
		paired = o.params.ETHBaseUnit
	}
	price.Mul(price, cfg.BaseUnit)
	price.Quo(price, paired)

	if cfg.IsEthBased {
		weth, ok, err := tx.lookup(o.params.WETH)
		if err != nil {
			return nil, err
		}
		if !ok || weth.Price == nil || weth.Price.Sign() == 0 {
			return nil, ErrWethPriceUnavailable
		}
		price.Mul(price, weth.Price)
		price.Quo(price, o.params.ETHBaseUnit)
	}
	if price.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s", oracle.ErrZeroPrice, asset.Hex())
	}

	state.Price = new(big.Int).Set(price)
	tx.emit(events.AnchorPriceUpdated{
		Oracle:       o.Name(),
		Asset:        asset,
		Price:        new(big.Int).Set(price),
		OldTimestamp: window.startTimestamp,
		NewTimestamp: now,
	})
	observability.Oracle().RecordTwapUpdate(asset.Hex(), "updated")
	return price, nil
}

// GetPrice returns the last computed price of asset in the 10^(36-decimals)
// convention.
func (o *Oracle) GetPrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	state, ok, err := o.store.Load(asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", oracle.ErrUnconfiguredAsset, asset.Hex())
	}
	if state.Price == nil || state.Price.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPriceNotAvailable, asset.Hex())
	}
	decimals, err := o.Decimals(ctx, asset)
	if err != nil {
		return nil, err
	}
	return oracle.ToAssetScale(state.Price, decimals)
}

// TokenConfig returns the stored configuration for asset.
func (o *Oracle) TokenConfig(asset common.Address) (TokenConfig, bool, error) {
	state, ok, err := o.store.Load(asset)
	if err != nil || !ok {
		return TokenConfig{}, ok, err
	}
	return state.Config, true, nil
}

// Observations returns the retained observations and the absolute index of
// the first one (the window start).
func (o *Oracle) Observations(asset common.Address) ([]Observation, uint64, error) {
	state, ok, err := o.store.Load(asset)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", oracle.ErrUnconfiguredAsset, asset.Hex())
	}
	return state.Log, state.WindowStart, nil
}

// Assets lists every configured asset.
func (o *Oracle) Assets() ([]common.Address, error) {
	return o.store.Assets()
}

func (o *Oracle) begin() *txn {
	return &txn{
		store:  o.store,
		staged: make(map[common.Address]*AssetState),
		pruned: make(map[common.Address]int),
		base:   o.Base,
	}
}

// txn stages state changes and events until commit.
type txn struct {
	store  Store
	base   *oracle.Base
	staged map[common.Address]*AssetState
	order  []common.Address
	pruned map[common.Address]int
	events []events.Event
}

func (tx *txn) lookup(asset common.Address) (*AssetState, bool, error) {
	if state, ok := tx.staged[asset]; ok {
		return state, true, nil
	}
	state, ok, err := tx.store.Load(asset)
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", asset.Hex(), err)
	}
	if !ok {
		return nil, false, nil
	}
	tx.stage(asset, state)
	return state, true, nil
}

func (tx *txn) stage(asset common.Address, state *AssetState) {
	if _, ok := tx.staged[asset]; !ok {
		tx.order = append(tx.order, asset)
	}
	tx.staged[asset] = state
}

func (tx *txn) emit(evt events.Event) {
	tx.events = append(tx.events, evt)
}

func (tx *txn) states() []*AssetState {
	states := make([]*AssetState, 0, len(tx.order))
	for _, asset := range tx.order {
		states = append(states, tx.staged[asset])
	}
	return states
}

func (tx *txn) commit() error {
	if err := tx.store.Commit(tx.states()); err != nil {
		return fmt.Errorf("commit twap state: %w", err)
	}
	for _, evt := range tx.events {
		tx.base.Emit(evt)
	}
	return nil
}

var _ oracle.PriceOracle = (*Oracle)(nil)
