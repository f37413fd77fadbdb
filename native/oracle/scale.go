package oracle

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
)

var (
	pow10Mu    sync.RWMutex
	pow10Cache = map[uint8]*big.Int{}

	// ExpScale is 1e18, the fixed-point scale used by feeds and rates.
	ExpScale = Pow10(PriceDecimals)
)

// Pow10 returns a fresh copy of 10^n.
func Pow10(n uint8) *big.Int {
	pow10Mu.RLock()
	cached, ok := pow10Cache[n]
	pow10Mu.RUnlock()
	if !ok {
		cached = new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
		pow10Mu.Lock()
		pow10Cache[n] = cached
		pow10Mu.Unlock()
	}
	return new(big.Int).Set(cached)
}

// Rescale converts value from a fixed-point scale of 10^from to 10^to.
// Downscaling truncates toward zero.
func Rescale(value *big.Int, from, to uint8) *big.Int {
	if value == nil {
		return big.NewInt(0)
	}
	switch {
	case from == to:
		return new(big.Int).Set(value)
	case from < to:
		return new(big.Int).Mul(value, Pow10(to-from))
	default:
		return new(big.Int).Quo(value, Pow10(from-to))
	}
}

// ToAssetScale converts an 18 decimal USD price for one whole token into the
// per-raw-unit convention, i.e. scaled by 10^(36-decimals).
func ToAssetScale(price18 *big.Int, decimals uint8) (*big.Int, error) {
	if decimals > MaxAssetDecimals {
		return nil, fmt.Errorf("%w: %d", ErrDecimalsOutOfRange, decimals)
	}
	return Rescale(price18, PriceDecimals, MaxAssetDecimals-decimals), nil
}

// UnderlyingAmount converts an 18 decimal exchange rate (underlying per whole
// asset) into an amount of underlying expressed with amountDecimals.
func UnderlyingAmount(rate18 *big.Int, amountDecimals uint8) *big.Int {
	if rate18 == nil {
		return big.NewInt(0)
	}
	amount := new(big.Int).Mul(rate18, Pow10(amountDecimals))
	return amount.Quo(amount, ExpScale)
}

// CorrelatedPrice prices an asset through its underlying: the amount of
// underlying per whole asset times the underlying's per-raw-unit USD price,
// normalised by the asset's decimals.
func CorrelatedPrice(rate18 *big.Int, amountDecimals, assetDecimals uint8, underlyingUSD *big.Int) (*big.Int, error) {
	if assetDecimals > MaxAssetDecimals {
		return nil, fmt.Errorf("%w: %d", ErrDecimalsOutOfRange, assetDecimals)
	}
	if underlyingUSD == nil || underlyingUSD.Sign() <= 0 {
		return nil, fmt.Errorf("%w: underlying price %v", ErrInvalidPrice, underlyingUSD)
	}
	amount := UnderlyingAmount(rate18, amountDecimals)
	price := new(big.Int).Mul(amount, underlyingUSD)
	return price.Quo(price, Pow10(assetDecimals)), nil
}

// MulDiv computes floor(a*b/denominator) with a 512-bit intermediate product.
// The bool reports whether the result overflowed 256 bits.
func MulDiv(a, b, denominator *uint256.Int) (*uint256.Int, bool) {
	if denominator.IsZero() {
		return new(uint256.Int), true
	}
	return new(uint256.Int).MulDivOverflow(a, b, denominator)
}
