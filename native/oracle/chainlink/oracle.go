package chainlink

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lendoracle/core/events"
	"lendoracle/native/oracle"
	"lendoracle/observability"
)

const (
	// NameDirect identifies the adapter that prices assets straight from USD feeds.
	NameDirect = "chainlink"
	// NameOneJump identifies the adapter that prices assets through an underlying.
	NameOneJump = "chainlink_onejump"
)

var (
	ErrInvalidStalePeriod = errors.New("chainlink: max stale period must be positive")
	ErrStalePrice         = errors.New("chainlink: stale price")
	ErrFuturePrice        = errors.New("chainlink: price updated in the future")
)

// RoundData mirrors AggregatorV3Interface.latestRoundData.
type RoundData struct {
	RoundID         *big.Int
	Answer          *big.Int
	StartedAt       uint64
	UpdatedAt       uint64
	AnsweredInRound *big.Int
}

// FeedReader reads aggregator feeds.
type FeedReader interface {
	LatestRoundData(ctx context.Context, feed common.Address) (RoundData, error)
	Decimals(ctx context.Context, feed common.Address) (uint8, error)
}

// TokenConfig binds an asset to its feed. Underlying is required for the
// one-jump variant, where the feed quotes Asset in Underlying.
type TokenConfig struct {
	Asset          common.Address
	Feed           common.Address
	MaxStalePeriod uint64
	Underlying     common.Address
}

// Oracle relays Chainlink style feeds. The one-jump variant converts the feed
// price through the downstream oracle's price of the underlying.
type Oracle struct {
	*oracle.Base

	feeds      FeedReader
	downstream oracle.PriceOracle

	mu      sync.RWMutex
	configs map[common.Address]TokenConfig
	prices  map[common.Address]*big.Int
}

// NewDirect constructs an adapter whose feeds quote assets in USD.
func NewDirect(feeds FeedReader, metadata oracle.TokenMetadata, clock oracle.Clock, opts ...oracle.Option) (*Oracle, error) {
	return newOracle(NameDirect, feeds, nil, metadata, clock, opts...)
}

// NewOneJump constructs an adapter whose feeds quote assets in an underlying
// that downstream prices in USD.
func NewOneJump(feeds FeedReader, downstream oracle.PriceOracle, metadata oracle.TokenMetadata, clock oracle.Clock, opts ...oracle.Option) (*Oracle, error) {
	if downstream == nil {
		return nil, fmt.Errorf("%w: downstream oracle", oracle.ErrNilDependency)
	}
	return newOracle(NameOneJump, feeds, downstream, metadata, clock, opts...)
}

func newOracle(name string, feeds FeedReader, downstream oracle.PriceOracle, metadata oracle.TokenMetadata, clock oracle.Clock, opts ...oracle.Option) (*Oracle, error) {
	if feeds == nil || clock == nil {
		return nil, fmt.Errorf("%w: feed reader and clock are required", oracle.ErrNilDependency)
	}
	base, err := oracle.NewBase(name, metadata, clock, opts...)
	if err != nil {
		return nil, err
	}
	return &Oracle{
		Base:       base,
		feeds:      feeds,
		downstream: downstream,
		configs:    make(map[common.Address]TokenConfig),
		prices:     make(map[common.Address]*big.Int),
	}, nil
}

// OneJump reports whether prices are converted through an underlying.
func (o *Oracle) OneJump() bool { return o.downstream != nil }

func (o *Oracle) SetTokenConfig(ctx context.Context, caller common.Address, cfg TokenConfig) error {
	return o.SetTokenConfigs(ctx, caller, []TokenConfig{cfg})
}

// SetTokenConfigs validates every config before storing any of them.
func (o *Oracle) SetTokenConfigs(_ context.Context, caller common.Address, cfgs []TokenConfig) error {
	if len(cfgs) == 0 {
		return oracle.ErrEmptyConfigs
	}
	if err := o.Authorize(caller, oracle.SigSetTokenConfig); err != nil {
		return err
	}
	for _, cfg := range cfgs {
		if err := o.validate(cfg); err != nil {
			return err
		}
	}

	o.mu.Lock()
	for _, cfg := range cfgs {
		o.configs[cfg.Asset] = cfg
	}
	o.mu.Unlock()

	for _, cfg := range cfgs {
		observability.Oracle().RecordConfig(o.Name())
		fields := map[string]string{
			"feed":           cfg.Feed.Hex(),
			"maxStalePeriod": strconv.FormatUint(cfg.MaxStalePeriod, 10),
		}
		if o.OneJump() {
			fields["underlying"] = cfg.Underlying.Hex()
		}
		o.Emit(events.TokenConfigAdded{Oracle: o.Name(), Asset: cfg.Asset, Fields: fields})
	}
	return nil
}

func (o *Oracle) validate(cfg TokenConfig) error {
	if err := oracle.RequireAddress("asset", cfg.Asset); err != nil {
		return err
	}
	if err := oracle.RequireAddress("feed", cfg.Feed); err != nil {
		return err
	}
	if o.OneJump() {
		if err := oracle.RequireAddress("underlying", cfg.Underlying); err != nil {
			return err
		}
	}
	if cfg.MaxStalePeriod == 0 {
		return ErrInvalidStalePeriod
	}
	return nil
}

// SetDirectPrice overrides the feed for asset with an 18 decimal USD price.
// A zero price removes the override.
func (o *Oracle) SetDirectPrice(_ context.Context, caller, asset common.Address, price *big.Int) error {
	if err := o.Authorize(caller, oracle.SigSetDirectPrice); err != nil {
		return err
	}
	if err := oracle.RequireAddress("asset", asset); err != nil {
		return err
	}
	if price == nil || price.Sign() < 0 {
		return fmt.Errorf("%w: %v", oracle.ErrInvalidPrice, price)
	}

	o.mu.Lock()
	previous := o.prices[asset]
	if previous == nil {
		previous = big.NewInt(0)
	}
	o.prices[asset] = new(big.Int).Set(price)
	o.mu.Unlock()

	o.Emit(events.PricePosted{
		Oracle:   o.Name(),
		Asset:    asset,
		Previous: previous,
		Price:    new(big.Int).Set(price),
	})
	return nil
}

// TokenConfig returns the stored configuration for asset.
func (o *Oracle) TokenConfig(asset common.Address) (TokenConfig, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	cfg, ok := o.configs[asset]
	return cfg, ok
}

// DirectPrice returns the manual override for asset, zero when unset.
func (o *Oracle) DirectPrice(asset common.Address) *big.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if price, ok := o.prices[asset]; ok {
		return new(big.Int).Set(price)
	}
	return big.NewInt(0)
}

// GetPrice returns the USD price of one raw unit of asset scaled by 1e36.
func (o *Oracle) GetPrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	cfg, ok := o.TokenConfig(asset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", oracle.ErrUnconfiguredAsset, asset.Hex())
	}
	price, err := o.price18(ctx, cfg)
	if err != nil {
		return nil, err
	}
	decimals, err := o.Decimals(ctx, asset)
	if err != nil {
		return nil, err
	}
	if !o.OneJump() {
		return oracle.ToAssetScale(price, decimals)
	}

	underlyingDecimals, err := o.Decimals(ctx, cfg.Underlying)
	if err != nil {
		return nil, err
	}
	underlyingPrice, err := o.downstream.GetPrice(ctx, cfg.Underlying)
	if err != nil {
		return nil, fmt.Errorf("underlying %s price: %w", cfg.Underlying.Hex(), err)
	}
	return oracle.CorrelatedPrice(price, underlyingDecimals, decimals, underlyingPrice)
}

// price18 returns the manual override when set, otherwise the validated feed
// answer rescaled to 18 decimals.
func (o *Oracle) price18(ctx context.Context, cfg TokenConfig) (*big.Int, error) {
	if manual := o.DirectPrice(cfg.Asset); manual.Sign() > 0 {
		return manual, nil
	}
	ctx, err := o.Pin(ctx)
	if err != nil {
		return nil, err
	}
	round, err := o.feeds.LatestRoundData(ctx, cfg.Feed)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", cfg.Feed.Hex(), err)
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return nil, fmt.Errorf("%w: feed %s answered %v", oracle.ErrInvalidPrice, cfg.Feed.Hex(), round.Answer)
	}
	now, err := o.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("block time: %w", err)
	}
	if round.UpdatedAt > now {
		return nil, fmt.Errorf("%w: updated at %d, now %d", ErrFuturePrice, round.UpdatedAt, now)
	}
	age := now - round.UpdatedAt
	observability.Oracle().RecordFeedAge(cfg.Asset.Hex(), time.Duration(age)*time.Second)
	if age > cfg.MaxStalePeriod {
		return nil, fmt.Errorf("%w: %s is %ds old, max %ds", ErrStalePrice, cfg.Feed.Hex(), age, cfg.MaxStalePeriod)
	}
	feedDecimals, err := o.feeds.Decimals(ctx, cfg.Feed)
	if err != nil {
		return nil, fmt.Errorf("feed %s decimals: %w", cfg.Feed.Hex(), err)
	}
	return oracle.Rescale(round.Answer, feedDecimals, oracle.PriceDecimals), nil
}

var _ oracle.PriceOracle = (*Oracle)(nil)
