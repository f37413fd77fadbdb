package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"lendoracle/core/events"
	nativecommon "lendoracle/native/common"
	"lendoracle/native/oracle"
	"lendoracle/native/oracle/chainlink"
	"lendoracle/native/oracle/pendle"
	"lendoracle/native/oracle/twap"
	"lendoracle/native/oracle/uniswapv3"
	"lendoracle/services/oracled/config"
)

// chainReaders bundles the on-chain dependencies of every adapter.
type chainReaders struct {
	Metadata oracle.TokenMetadata
	Clock    oracle.Clock
	Feeds    chainlink.FeedReader
	Factory  uniswapv3.Factory
	Pools    uniswapv3.PoolObserver
	Pt       pendle.PtOracle
	Pairs    twap.PairReader
}

type initializer interface {
	Initialize(acm nativecommon.AccessController) error
}

type oracles struct {
	Router  *oracle.Router
	Direct  *chainlink.Oracle
	OneJump *chainlink.Oracle
	V3      *uniswapv3.Oracle
	Pendle  *pendle.Oracle
	Twap    *twap.Oracle
}

// buildOracles constructs the adapters, routes every configured asset and
// applies the token configurations as the operator.
func buildOracles(ctx context.Context, cfg config.Config, readers chainReaders, store twap.Store, emitter events.Emitter, logger *slog.Logger) (*oracles, error) {
	operator := config.Address(cfg.Operator)
	acm := nativecommon.NewStaticAccessControl()
	acm.Grant(oracle.SigSetTokenConfig, operator)
	acm.Grant(oracle.SigSetDirectPrice, operator)

	opts := []oracle.Option{oracle.WithLogger(logger), oracle.WithEmitter(emitter)}
	out := &oracles{Router: oracle.NewRouter()}

	var err error
	if out.Direct, err = chainlink.NewDirect(readers.Feeds, readers.Metadata, readers.Clock, opts...); err != nil {
		return nil, fmt.Errorf("chainlink: %w", err)
	}
	if out.OneJump, err = chainlink.NewOneJump(readers.Feeds, out.Router, readers.Metadata, readers.Clock, opts...); err != nil {
		return nil, fmt.Errorf("chainlink one-jump: %w", err)
	}
	if len(cfg.UniswapV3.Tokens) > 0 {
		if out.V3, err = uniswapv3.New(readers.Factory, readers.Pools, out.Router, readers.Metadata, opts...); err != nil {
			return nil, fmt.Errorf("uniswap v3: %w", err)
		}
	}
	if len(cfg.Pendle.Tokens) > 0 {
		if out.Pendle, err = pendle.New(readers.Pt, out.Router, readers.Metadata, opts...); err != nil {
			return nil, fmt.Errorf("pendle: %w", err)
		}
	}
	if len(cfg.Twap.Tokens) > 0 {
		params := twap.Params{
			WETH:           config.Address(cfg.Twap.WETH),
			ETHBaseUnit:    oracle.Pow10(18),
			StableBaseUnit: oracle.Pow10(cfg.Twap.StableDecimals),
		}
		if out.Twap, err = twap.New(params, readers.Pairs, readers.Metadata, readers.Clock, store, opts...); err != nil {
			return nil, fmt.Errorf("twap: %w", err)
		}
	}
	adapters := []initializer{out.Direct, out.OneJump}
	if out.V3 != nil {
		adapters = append(adapters, out.V3)
	}
	if out.Pendle != nil {
		adapters = append(adapters, out.Pendle)
	}
	if out.Twap != nil {
		adapters = append(adapters, out.Twap)
	}
	for _, adapter := range adapters {
		if err := adapter.Initialize(acm); err != nil {
			return nil, err
		}
	}

	if err := configureChainlink(ctx, out, cfg.Chainlink, operator); err != nil {
		return nil, err
	}
	if out.V3 != nil {
		if err := configureUniswapV3(ctx, out, cfg.UniswapV3, operator); err != nil {
			return nil, err
		}
	}
	if out.Pendle != nil {
		if err := configurePendle(ctx, out, cfg.Pendle, operator); err != nil {
			return nil, err
		}
	}
	if out.Twap != nil {
		if err := configureTwap(ctx, out, cfg.Twap, readers.Metadata, operator); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func feedConfigs(tokens []config.FeedToken) []chainlink.TokenConfig {
	cfgs := make([]chainlink.TokenConfig, 0, len(tokens))
	for _, tok := range tokens {
		cfg := chainlink.TokenConfig{
			Asset:          config.Address(tok.Asset),
			Feed:           config.Address(tok.Feed),
			MaxStalePeriod: tok.MaxStalePeriod.Seconds(),
		}
		if strings.TrimSpace(tok.Underlying) != "" {
			cfg.Underlying = config.Address(tok.Underlying)
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs
}

func configureChainlink(ctx context.Context, out *oracles, cfg config.ChainlinkConfig, operator common.Address) error {
	variants := []struct {
		adapter *chainlink.Oracle
		tokens  []config.FeedToken
	}{
		{out.Direct, cfg.Direct},
		{out.OneJump, cfg.OneJump},
	}
	for _, v := range variants {
		if len(v.tokens) == 0 {
			continue
		}
		if err := v.adapter.SetTokenConfigs(ctx, operator, feedConfigs(v.tokens)); err != nil {
			return fmt.Errorf("%s: %w", v.adapter.Name(), err)
		}
		for _, tok := range v.tokens {
			asset := config.Address(tok.Asset)
			if err := out.Router.Route(asset, v.adapter); err != nil {
				return err
			}
			if strings.TrimSpace(tok.DirectPrice) == "" {
				continue
			}
			price, err := config.ParseAmount(tok.DirectPrice)
			if err != nil {
				return err
			}
			if err := v.adapter.SetDirectPrice(ctx, operator, asset, price); err != nil {
				return fmt.Errorf("%s: direct price %s: %w", v.adapter.Name(), asset.Hex(), err)
			}
		}
	}
	return nil
}

func configureUniswapV3(ctx context.Context, out *oracles, cfg config.UniswapV3Config, operator common.Address) error {
	cfgs := make([]uniswapv3.TokenConfig, 0, len(cfg.Tokens))
	for _, tok := range cfg.Tokens {
		cfgs = append(cfgs, uniswapv3.TokenConfig{
			BaseToken:  config.Address(tok.Base),
			QuoteToken: config.Address(tok.Quote),
			Fee:        tok.Fee,
			Window:     tok.Window.Seconds(),
		})
	}
	if err := out.V3.SetTokenConfigs(ctx, operator, cfgs); err != nil {
		return fmt.Errorf("%s: %w", out.V3.Name(), err)
	}
	for _, c := range cfgs {
		if err := out.Router.Route(c.BaseToken, out.V3); err != nil {
			return err
		}
	}
	return nil
}

func configurePendle(ctx context.Context, out *oracles, cfg config.PendleConfig, operator common.Address) error {
	cfgs := make([]pendle.TokenConfig, 0, len(cfg.Tokens))
	for _, tok := range cfg.Tokens {
		kind, err := pendle.ParseRateKind(strings.TrimSpace(tok.RateKind))
		if err != nil {
			return err
		}
		cfgs = append(cfgs, pendle.TokenConfig{
			Asset:        config.Address(tok.Asset),
			Market:       config.Address(tok.Market),
			Underlying:   config.Address(tok.Underlying),
			TwapDuration: uint32(tok.TwapDuration.Seconds()),
			RateKind:     kind,
		})
	}
	if err := out.Pendle.SetTokenConfigs(ctx, operator, cfgs); err != nil {
		return fmt.Errorf("%s: %w", out.Pendle.Name(), err)
	}
	for _, c := range cfgs {
		if err := out.Router.Route(c.Asset, out.Pendle); err != nil {
			return err
		}
	}
	return nil
}

// configureTwap applies only configs that differ from the persisted ones so
// restarts do not append seed observations.
func configureTwap(ctx context.Context, out *oracles, cfg config.TwapConfig, metadata oracle.TokenMetadata, operator common.Address) error {
	var changed []twap.TokenConfig
	for _, tok := range cfg.Tokens {
		asset := config.Address(tok.Asset)
		decimals, err := metadata.Decimals(ctx, asset)
		if err != nil {
			return fmt.Errorf("twap: decimals of %s: %w", asset.Hex(), err)
		}
		want := twap.TokenConfig{
			Asset:          asset,
			BaseUnit:       oracle.Pow10(decimals),
			Pool:           config.Address(tok.Pool),
			IsEthBased:     tok.EthBased,
			IsReversedPool: tok.Reversed,
			AnchorPeriod:   tok.AnchorPeriod.Seconds(),
		}
		have, ok, err := out.Twap.TokenConfig(asset)
		if err != nil {
			return err
		}
		if !ok || !sameTwapConfig(have, want) {
			changed = append(changed, want)
		}
		if err := out.Router.Route(asset, out.Twap); err != nil {
			return err
		}
	}
	if len(changed) == 0 {
		return nil
	}
	if err := out.Twap.SetTokenConfigs(ctx, operator, changed); err != nil {
		return fmt.Errorf("%s: %w", out.Twap.Name(), err)
	}
	return nil
}

func sameTwapConfig(a, b twap.TokenConfig) bool {
	if a.BaseUnit == nil || b.BaseUnit == nil {
		return false
	}
	return a.Asset == b.Asset &&
		a.BaseUnit.Cmp(b.BaseUnit) == 0 &&
		a.Pool == b.Pool &&
		a.IsEthBased == b.IsEthBased &&
		a.IsReversedPool == b.IsReversedPool &&
		a.AnchorPeriod == b.AnchorPeriod
}
