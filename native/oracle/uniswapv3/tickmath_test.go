package uniswapv3

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestSqrtRatioAtTickBounds(t *testing.T) {
	cases := []struct {
		tick int32
		want string
	}{
		{tick: 0, want: "79228162514264337593543950336"},
		{tick: MinTick, want: "4295128739"},
		{tick: MaxTick, want: "1461446703485210103287273052203988822378723970342"},
	}
	for _, tc := range cases {
		got, err := SqrtRatioAtTick(tc.tick)
		if err != nil {
			t.Fatalf("tick %d: %v", tc.tick, err)
		}
		if got.Dec() != tc.want {
			t.Fatalf("tick %d: got %s want %s", tc.tick, got.Dec(), tc.want)
		}
	}
	if _, err := SqrtRatioAtTick(MaxTick + 1); !errors.Is(err, ErrTickOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
	if _, err := SqrtRatioAtTick(MinTick - 1); !errors.Is(err, ErrTickOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestSqrtRatioAtTickIsMonotonic(t *testing.T) {
	prev, err := SqrtRatioAtTick(-1000)
	if err != nil {
		t.Fatalf("tick -1000: %v", err)
	}
	for tick := int32(-999); tick <= 1000; tick += 37 {
		cur, err := SqrtRatioAtTick(tick)
		if err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		if !cur.Gt(prev) {
			t.Fatalf("ratio not increasing at tick %d", tick)
		}
		prev = cur
	}
}

func TestQuoteAtTick(t *testing.T) {
	low := common.HexToAddress("0x01")
	high := common.HexToAddress("0x02")
	one := uint256.NewInt(1_000_000_000_000_000_000)

	quote, err := QuoteAtTick(0, one, low, high)
	if err != nil {
		t.Fatalf("quote at tick 0: %v", err)
	}
	if !quote.Eq(one) {
		t.Fatalf("expected 1:1 at tick 0, got %s", quote.Dec())
	}

	// 1.0001^6932 ~= 2.00003
	quote, err = QuoteAtTick(6932, one, low, high)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q := quote.ToBig(); q.Cmp(big.NewInt(2_000_000_000_000_000_000)) <= 0 || q.Cmp(big.NewInt(2_000_100_000_000_000_000)) >= 0 {
		t.Fatalf("unexpected quote %s", quote.Dec())
	}
	inverse, err := QuoteAtTick(6932, one, high, low)
	if err != nil {
		t.Fatalf("inverse quote: %v", err)
	}
	if q := inverse.ToBig(); q.Cmp(big.NewInt(499_900_000_000_000_000)) <= 0 || q.Cmp(big.NewInt(500_000_000_000_000_000)) >= 0 {
		t.Fatalf("unexpected inverse quote %s", inverse.Dec())
	}

	// Large ticks use the Q128 branch.
	if _, err := QuoteAtTick(MaxTick-1, uint256.NewInt(1), low, high); err != nil {
		t.Fatalf("quote near max tick: %v", err)
	}

	tooLarge := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	if _, err := QuoteAtTick(0, tooLarge, low, high); !errors.Is(err, ErrAmountTooLarge) {
		t.Fatalf("expected amount too large, got %v", err)
	}
}

func TestMeanTickRoundsDown(t *testing.T) {
	cases := []struct {
		delta, window, want int64
	}{
		{delta: -7, window: 2, want: -4},
		{delta: -6, window: 2, want: -3},
		{delta: 7, window: 2, want: 3},
		{delta: 0, window: 1800, want: 0},
		{delta: -1, window: 1800, want: -1},
	}
	for _, tc := range cases {
		if got := MeanTick(tc.delta, tc.window); got != tc.want {
			t.Fatalf("MeanTick(%d, %d) = %d want %d", tc.delta, tc.window, got, tc.want)
		}
	}
}
