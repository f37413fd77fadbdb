package twap

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidAnchorPeriod  = errors.New("twap: anchor period must be positive")
	ErrBaseUnitMismatch     = errors.New("twap: base unit does not match asset decimals")
	ErrInvalidConfig        = errors.New("twap: invalid token config")
	ErrClockSkew            = errors.New("twap: block time precedes window start")
	ErrWethPriceUnavailable = errors.New("twap: WETH price not available")
	ErrPriceNotAvailable    = errors.New("twap: price not available")
	ErrEmptyReserves        = errors.New("twap: pair has empty reserves")
	ErrInvalidSnapshot      = errors.New("twap: invalid pair snapshot")
	ErrSnapshotAhead        = errors.New("twap: pair snapshot newer than block time")
	ErrEmptyLog             = errors.New("twap: observation log empty")
)

// TokenConfig describes how an asset is priced from a V2 style pair.
type TokenConfig struct {
	Asset common.Address
	// BaseUnit must equal 10^decimals(Asset).
	BaseUnit *big.Int
	Pool     common.Address
	// IsEthBased marks pairs quoted in WETH rather than a stablecoin.
	IsEthBased bool
	// IsReversedPool selects price1CumulativeLast instead of price0.
	IsReversedPool bool
	// AnchorPeriod is the look-back window in seconds.
	AnchorPeriod uint64
}

// Clone returns a deep copy of the config.
func (c TokenConfig) Clone() TokenConfig {
	clone := c
	if c.BaseUnit != nil {
		clone.BaseUnit = new(big.Int).Set(c.BaseUnit)
	}
	return clone
}

// Observation is a cumulative price sample.
type Observation struct {
	Timestamp  uint64
	Cumulative *big.Int
}

func (o Observation) Clone() Observation {
	clone := o
	if o.Cumulative != nil {
		clone.Cumulative = new(big.Int).Set(o.Cumulative)
	}
	return clone
}

// AssetState is everything the oracle keeps for one asset. Log[0] sits at the
// absolute index WindowStart; entries before it have been discarded.
type AssetState struct {
	Config      TokenConfig
	WindowStart uint64
	Log         []Observation
	// Price is the last computed USD price of one whole token, 18 decimals.
	Price *big.Int
}

// End returns the absolute index one past the newest observation.
func (s *AssetState) End() uint64 {
	if s == nil {
		return 0
	}
	return s.WindowStart + uint64(len(s.Log))
}

// Clone returns a deep copy of the state.
func (s *AssetState) Clone() *AssetState {
	if s == nil {
		return nil
	}
	clone := &AssetState{
		Config:      s.Config.Clone(),
		WindowStart: s.WindowStart,
		Log:         make([]Observation, len(s.Log)),
		Price:       big.NewInt(0),
	}
	for i, obs := range s.Log {
		clone.Log[i] = obs.Clone()
	}
	if s.Price != nil {
		clone.Price.Set(s.Price)
	}
	return clone
}

// PairSnapshot is the subset of V2 pair state needed to derive the current
// cumulative prices.
type PairSnapshot struct {
	Price0Cumulative   *big.Int
	Price1Cumulative   *big.Int
	Reserve0           *big.Int
	Reserve1           *big.Int
	BlockTimestampLast uint32
}

// PairReader loads pair state from the chain.
type PairReader interface {
	Snapshot(ctx context.Context, pair common.Address) (PairSnapshot, error)
}
