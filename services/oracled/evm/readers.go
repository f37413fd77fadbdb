package evm

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"lendoracle/native/oracle"
	"lendoracle/native/oracle/chainlink"
	"lendoracle/native/oracle/pendle"
	"lendoracle/native/oracle/twap"
	"lendoracle/native/oracle/uniswapv3"
)

// Feeds reads Chainlink AggregatorV3 feeds.
type Feeds struct {
	contract contract
}

func NewFeeds(caller Caller) (*Feeds, error) {
	c, err := newContract("aggregator", aggregatorV3ABI, caller)
	if err != nil {
		return nil, err
	}
	return &Feeds{contract: c}, nil
}

func (f *Feeds) LatestRoundData(ctx context.Context, feed common.Address) (chainlink.RoundData, error) {
	values, err := f.contract.call(ctx, feed, "latestRoundData")
	if err != nil {
		return chainlink.RoundData{}, err
	}
	if len(values) != 5 {
		return chainlink.RoundData{}, unexpected("latestRoundData", values)
	}
	roundID, ok1 := values[0].(*big.Int)
	answer, ok2 := values[1].(*big.Int)
	startedAt, ok3 := values[2].(*big.Int)
	updatedAt, ok4 := values[3].(*big.Int)
	answeredIn, ok5 := values[4].(*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return chainlink.RoundData{}, unexpected("latestRoundData", values)
	}
	if !startedAt.IsUint64() || !updatedAt.IsUint64() {
		return chainlink.RoundData{}, fmt.Errorf("evm: feed %s timestamps exceed uint64", feed.Hex())
	}
	return chainlink.RoundData{
		RoundID:         roundID,
		Answer:          answer,
		StartedAt:       startedAt.Uint64(),
		UpdatedAt:       updatedAt.Uint64(),
		AnsweredInRound: answeredIn,
	}, nil
}

func (f *Feeds) Decimals(ctx context.Context, feed common.Address) (uint8, error) {
	return callUint8(ctx, f.contract, feed, "decimals")
}

// TokenMetadata reads and caches ERC20 decimals.
type TokenMetadata struct {
	contract contract

	mu    sync.RWMutex
	cache map[common.Address]uint8
}

func NewTokenMetadata(caller Caller) (*TokenMetadata, error) {
	c, err := newContract("erc20", erc20MetadataABI, caller)
	if err != nil {
		return nil, err
	}
	return &TokenMetadata{contract: c, cache: make(map[common.Address]uint8)}, nil
}

func (m *TokenMetadata) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	m.mu.RLock()
	decimals, ok := m.cache[token]
	m.mu.RUnlock()
	if ok {
		return decimals, nil
	}
	decimals, err := callUint8(ctx, m.contract, token, "decimals")
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.cache[token] = decimals
	m.mu.Unlock()
	return decimals, nil
}

func callUint8(ctx context.Context, c contract, to common.Address, method string) (uint8, error) {
	values, err := c.call(ctx, to, method)
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, unexpected(method, values)
	}
	v, ok := values[0].(uint8)
	if !ok {
		return 0, unexpected(method, values)
	}
	return v, nil
}

// UniswapV3 reads the V3 factory and pools.
type UniswapV3 struct {
	factoryAddr common.Address
	factory     contract
	pool        contract
}

func NewUniswapV3(caller Caller, factory common.Address) (*UniswapV3, error) {
	f, err := newContract("uniswapV3Factory", uniswapV3FactoryABI, caller)
	if err != nil {
		return nil, err
	}
	p, err := newContract("uniswapV3Pool", uniswapV3PoolABI, caller)
	if err != nil {
		return nil, err
	}
	return &UniswapV3{factoryAddr: factory, factory: f, pool: p}, nil
}

func (u *UniswapV3) GetPool(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	values, err := u.factory.call(ctx, u.factoryAddr, "getPool", tokenA, tokenB, new(big.Int).SetUint64(uint64(fee)))
	if err != nil {
		return common.Address{}, err
	}
	if len(values) != 1 {
		return common.Address{}, unexpected("getPool", values)
	}
	pool, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, unexpected("getPool", values)
	}
	return pool, nil
}

func (u *UniswapV3) Observe(ctx context.Context, pool common.Address, secondsAgos []uint32) ([]int64, error) {
	values, err := u.pool.call(ctx, pool, "observe", secondsAgos)
	if err != nil {
		return nil, err
	}
	if len(values) != 2 {
		return nil, unexpected("observe", values)
	}
	cumulatives, ok := values[0].([]*big.Int)
	if !ok {
		return nil, unexpected("observe", values)
	}
	out := make([]int64, len(cumulatives))
	for i, v := range cumulatives {
		if !v.IsInt64() {
			return nil, fmt.Errorf("evm: tick cumulative %s exceeds int64", v)
		}
		out[i] = v.Int64()
	}
	return out, nil
}

// UniswapV2Pairs reads V2 pair reserves and cumulative prices.
type UniswapV2Pairs struct {
	contract contract
}

func NewUniswapV2Pairs(caller Caller) (*UniswapV2Pairs, error) {
	c, err := newContract("uniswapV2Pair", uniswapV2PairABI, caller)
	if err != nil {
		return nil, err
	}
	return &UniswapV2Pairs{contract: c}, nil
}

func (p *UniswapV2Pairs) Snapshot(ctx context.Context, pair common.Address) (twap.PairSnapshot, error) {
	reserves, err := p.contract.call(ctx, pair, "getReserves")
	if err != nil {
		return twap.PairSnapshot{}, err
	}
	if len(reserves) != 3 {
		return twap.PairSnapshot{}, unexpected("getReserves", reserves)
	}
	reserve0, ok0 := reserves[0].(*big.Int)
	reserve1, ok1 := reserves[1].(*big.Int)
	last, ok2 := reserves[2].(uint32)
	if !ok0 || !ok1 || !ok2 {
		return twap.PairSnapshot{}, unexpected("getReserves", reserves)
	}
	price0, err := callBig(ctx, p.contract, pair, "price0CumulativeLast")
	if err != nil {
		return twap.PairSnapshot{}, err
	}
	price1, err := callBig(ctx, p.contract, pair, "price1CumulativeLast")
	if err != nil {
		return twap.PairSnapshot{}, err
	}
	return twap.PairSnapshot{
		Price0Cumulative:   price0,
		Price1Cumulative:   price1,
		Reserve0:           reserve0,
		Reserve1:           reserve1,
		BlockTimestampLast: last,
	}, nil
}

func callBig(ctx context.Context, c contract, to common.Address, method string, args ...any) (*big.Int, error) {
	values, err := c.call(ctx, to, method, args...)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, unexpected(method, values)
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, unexpected(method, values)
	}
	return v, nil
}

// PtOracle reads the Pendle PY/LP oracle.
type PtOracle struct {
	address  common.Address
	contract contract
}

func NewPtOracle(caller Caller, address common.Address) (*PtOracle, error) {
	c, err := newContract("pendlePtOracle", pendlePtOracleABI, caller)
	if err != nil {
		return nil, err
	}
	return &PtOracle{address: address, contract: c}, nil
}

func (p *PtOracle) GetOracleState(ctx context.Context, market common.Address, duration uint32) (pendle.OracleState, error) {
	values, err := p.contract.call(ctx, p.address, "getOracleState", market, duration)
	if err != nil {
		return pendle.OracleState{}, err
	}
	if len(values) != 3 {
		return pendle.OracleState{}, unexpected("getOracleState", values)
	}
	increase, ok0 := values[0].(bool)
	cardinality, ok1 := values[1].(uint16)
	satisfied, ok2 := values[2].(bool)
	if !ok0 || !ok1 || !ok2 {
		return pendle.OracleState{}, unexpected("getOracleState", values)
	}
	return pendle.OracleState{
		IncreaseCardinalityRequired: increase,
		CardinalityRequired:         cardinality,
		OldestObservationSatisfied:  satisfied,
	}, nil
}

func (p *PtOracle) GetPtToAssetRate(ctx context.Context, market common.Address, duration uint32) (*big.Int, error) {
	return callBig(ctx, p.contract, p.address, "getPtToAssetRate", market, duration)
}

func (p *PtOracle) GetPtToSyRate(ctx context.Context, market common.Address, duration uint32) (*big.Int, error) {
	return callBig(ctx, p.contract, p.address, "getPtToSyRate", market, duration)
}

var (
	_ chainlink.FeedReader   = (*Feeds)(nil)
	_ uniswapv3.Factory      = (*UniswapV3)(nil)
	_ uniswapv3.PoolObserver = (*UniswapV3)(nil)
	_ twap.PairReader        = (*UniswapV2Pairs)(nil)
	_ pendle.PtOracle        = (*PtOracle)(nil)
	_ oracle.Clock           = (*HeaderClock)(nil)
	_ oracle.BlockPinner     = (*HeaderClock)(nil)
)
