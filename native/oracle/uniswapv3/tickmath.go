package uniswapv3

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"lendoracle/native/oracle"
)

const (
	MinTick = -887272
	MaxTick = 887272
)

var (
	ErrTickOutOfRange = errors.New("uniswapv3: tick out of range")

	maxUint128 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))
	q64        = new(uint256.Int).Lsh(uint256.NewInt(1), 64)
	q128       = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	q192       = new(uint256.Int).Lsh(uint256.NewInt(1), 192)
	maxUint256 = new(uint256.Int).SetAllOne()

	// sqrt(1.0001)^-(2^i) in Q128.128 for i = 1..19.
	tickRatios = [...]*uint256.Int{
		uint256.MustFromHex("0xfff97272373d413259a46990580e213a"),
		uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
		uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
		uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644"),
		uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
		uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
		uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
		uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
		uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
		uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
		uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
		uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
		uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
		uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
		uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6"),
		uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
		uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604"),
		uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98"),
		uint256.MustFromHex("0x48a170391f7dc42444e8fa2"),
	}
	oddTickRatio = uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001")
)

// SqrtRatioAtTick returns sqrt(1.0001^tick) as a Q64.96 value.
func SqrtRatioAtTick(tick int32) (*uint256.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("%w: %d", ErrTickOutOfRange, tick)
	}
	absTick := uint32(tick)
	if tick < 0 {
		absTick = uint32(-int64(tick))
	}

	ratio := new(uint256.Int).Set(q128)
	if absTick&0x1 != 0 {
		ratio.Set(oddTickRatio)
	}
	for i, factor := range tickRatios {
		if absTick&(uint32(2)<<i) != 0 {
			ratio.Mul(ratio, factor)
			ratio.Rsh(ratio, 128)
		}
	}
	if tick > 0 {
		ratio.Div(maxUint256, ratio)
	}

	// Round up when converting from Q128.128 to Q64.96.
	remainder := new(uint256.Int).And(ratio, uint256.NewInt(0xffffffff))
	sqrtPrice := new(uint256.Int).Rsh(ratio, 32)
	if !remainder.IsZero() {
		sqrtPrice.AddUint64(sqrtPrice, 1)
	}
	return sqrtPrice, nil
}

// QuoteAtTick returns the amount of quoteToken received for baseAmount of
// baseToken at the given tick. Token order decides the price direction.
func QuoteAtTick(tick int32, baseAmount *uint256.Int, baseToken, quoteToken [20]byte) (*uint256.Int, error) {
	if baseAmount.Gt(maxUint128) {
		return nil, fmt.Errorf("%w: %s", ErrAmountTooLarge, baseAmount.Dec())
	}
	sqrtRatio, err := SqrtRatioAtTick(tick)
	if err != nil {
		return nil, err
	}
	baseFirst := lessAddress(baseToken, quoteToken)

	var (
		quote    *uint256.Int
		overflow bool
	)
	if !sqrtRatio.Gt(maxUint128) {
		ratioX192 := new(uint256.Int).Mul(sqrtRatio, sqrtRatio)
		if baseFirst {
			quote, overflow = oracle.MulDiv(ratioX192, baseAmount, q192)
		} else {
			quote, overflow = oracle.MulDiv(q192, baseAmount, ratioX192)
		}
	} else {
		ratioX128, ratioOverflow := oracle.MulDiv(sqrtRatio, sqrtRatio, q64)
		if ratioOverflow {
			return nil, fmt.Errorf("%w: ratio overflow at tick %d", ErrTickOutOfRange, tick)
		}
		if baseFirst {
			quote, overflow = oracle.MulDiv(ratioX128, baseAmount, q128)
		} else {
			quote, overflow = oracle.MulDiv(q128, baseAmount, ratioX128)
		}
	}
	if overflow {
		return nil, fmt.Errorf("%w: quote overflow at tick %d", ErrAmountTooLarge, tick)
	}
	return quote, nil
}

func lessAddress(a, b [20]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
