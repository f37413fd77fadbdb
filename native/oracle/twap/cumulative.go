package twap

import (
	"fmt"
	"math"
	"math/big"

	"github.com/holiman/uint256"

	"lendoracle/native/oracle"
)

const reserveBits = 112

func toUint256(field string, v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative %s", ErrInvalidSnapshot, field)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: %s exceeds 256 bits", ErrInvalidSnapshot, field)
	}
	return out, nil
}

// CurrentCumulativePrices returns the pair's cumulative prices as of now,
// adding the counterfactual accumulation since the pair's last update.
// Accumulators wrap modulo 2^256 like the on-chain values.
func CurrentCumulativePrices(snap PairSnapshot, now uint64) (*uint256.Int, *uint256.Int, error) {
	price0, err := toUint256("price0Cumulative", snap.Price0Cumulative)
	if err != nil {
		return nil, nil, err
	}
	price1, err := toUint256("price1Cumulative", snap.Price1Cumulative)
	if err != nil {
		return nil, nil, err
	}
	blockTimestamp := uint32(now)
	if snap.BlockTimestampLast == blockTimestamp {
		return price0, price1, nil
	}
	// uint32 subtraction wraps the same way the pair's timestamp does. A
	// forward distance past 2^31 means the pair was read at a later block.
	since := blockTimestamp - snap.BlockTimestampLast
	if since > math.MaxInt32 {
		return nil, nil, fmt.Errorf("%w: last update %d, now %d", ErrSnapshotAhead, snap.BlockTimestampLast, now)
	}
	reserve0, err := toUint256("reserve0", snap.Reserve0)
	if err != nil {
		return nil, nil, err
	}
	reserve1, err := toUint256("reserve1", snap.Reserve1)
	if err != nil {
		return nil, nil, err
	}
	if reserve0.IsZero() || reserve1.IsZero() {
		return nil, nil, ErrEmptyReserves
	}
	if reserve0.BitLen() > reserveBits || reserve1.BitLen() > reserveBits {
		return nil, nil, fmt.Errorf("%w: reserves exceed uint112", ErrInvalidSnapshot)
	}
	elapsed := uint256.NewInt(uint64(since))

	fraction0 := new(uint256.Int).Lsh(reserve1, reserveBits)
	fraction0.Div(fraction0, reserve0)
	price0.Add(price0, fraction0.Mul(fraction0, elapsed))

	fraction1 := new(uint256.Int).Lsh(reserve0, reserveBits)
	fraction1.Div(fraction1, reserve1)
	price1.Add(price1, fraction1.Mul(fraction1, elapsed))
	return price0, price1, nil
}

func cumulativeFor(cfg TokenConfig, snap PairSnapshot, now uint64) (*big.Int, error) {
	price0, price1, err := CurrentCumulativePrices(snap, now)
	if err != nil {
		return nil, err
	}
	if cfg.IsReversedPool {
		return price1.ToBig(), nil
	}
	return price0.ToBig(), nil
}

// meanPrice returns (current-start)/elapsed, wrapping the subtraction modulo
// 2^256, decoded from UQ112x112 into an 18 decimal mantissa.
func meanPrice(current, start *big.Int, elapsed uint64) (*big.Int, error) {
	cur, err := toUint256("cumulative", current)
	if err != nil {
		return nil, err
	}
	old, err := toUint256("cumulative", start)
	if err != nil {
		return nil, err
	}
	delta := new(uint256.Int).Sub(cur, old)
	delta.Div(delta, uint256.NewInt(elapsed))
	return decodeUQ112x112(delta), nil
}

func decodeUQ112x112(x *uint256.Int) *big.Int {
	v := x.ToBig()
	v.Mul(v, oracle.ExpScale)
	return v.Rsh(v, reserveBits)
}
