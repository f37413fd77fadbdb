package oracle

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAsset is the sentinel used for the chain's native currency. It always
// has 18 decimals and is never queried for metadata.
var NativeAsset = common.HexToAddress("0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB")

const (
	// PriceDecimals is the scale of every feed price after normalisation.
	PriceDecimals uint8 = 18
	// MaxAssetDecimals bounds the decimals an asset may report; prices are
	// returned scaled by 10^(36-decimals).
	MaxAssetDecimals uint8 = 36

	// SigSetTokenConfig is the access-control signature for configuration calls.
	SigSetTokenConfig = "setTokenConfig(TokenConfig)"
	// SigSetDirectPrice is the access-control signature for manual price overrides.
	SigSetDirectPrice = "setDirectPrice(address,uint256)"
)

var (
	ErrUnconfiguredAsset  = errors.New("oracle: asset not configured")
	ErrZeroAddress        = errors.New("oracle: zero address")
	ErrEmptyConfigs       = errors.New("oracle: empty token configs")
	ErrAlreadyInitialized = errors.New("oracle: already initialized")
	ErrNotInitialized     = errors.New("oracle: not initialized")
	ErrDecimalsOutOfRange = errors.New("oracle: asset decimals out of range")
	ErrInvalidPrice       = errors.New("oracle: invalid price")
	ErrZeroPrice          = errors.New("oracle: zero price")
	ErrNilDependency      = errors.New("oracle: missing dependency")
	ErrRouteDepth         = errors.New("oracle: price route too deep")
)

// PriceOracle returns the USD price of one raw unit of asset scaled by 1e36.
type PriceOracle interface {
	GetPrice(ctx context.Context, asset common.Address) (*big.Int, error)
}

// PriceOracleFunc adapts a function to the PriceOracle interface.
type PriceOracleFunc func(ctx context.Context, asset common.Address) (*big.Int, error)

func (f PriceOracleFunc) GetPrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	return f(ctx, asset)
}

// Clock reports the current block time in unix seconds.
type Clock interface {
	Now(ctx context.Context) (uint64, error)
}

// BlockPinner is implemented by clocks that can fix every chain read made
// with the returned context to the block whose time Now then reports.
type BlockPinner interface {
	Pin(ctx context.Context) (context.Context, error)
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func(ctx context.Context) (uint64, error)

func (f ClockFunc) Now(ctx context.Context) (uint64, error) { return f(ctx) }

// TokenMetadata resolves ERC20 decimals.
type TokenMetadata interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// RequireAddress rejects the zero address for the named configuration field.
func RequireAddress(field string, addr common.Address) error {
	if addr == (common.Address{}) {
		return &FieldError{Field: field, Err: ErrZeroAddress}
	}
	return nil
}

// FieldError annotates a configuration failure with the offending field.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	if e == nil {
		return ""
	}
	return e.Err.Error() + " (" + e.Field + ")"
}

func (e *FieldError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
