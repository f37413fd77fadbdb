package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "lendoracle/native/common"
)

type staticMetadata map[common.Address]uint8

func (m staticMetadata) Decimals(_ context.Context, token common.Address) (uint8, error) {
	d, ok := m[token]
	if !ok {
		return 0, errors.New("unknown token")
	}
	return d, nil
}

func TestBaseInitializeOnce(t *testing.T) {
	base, err := NewBase("test", staticMetadata{}, nil)
	if err != nil {
		t.Fatalf("new base: %v", err)
	}
	admin := common.HexToAddress("0xad")
	if err := base.Authorize(admin, SigSetTokenConfig); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	acm := nativecommon.NewStaticAccessControl()
	acm.Grant(SigSetTokenConfig, admin)
	if err := base.Initialize(acm); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := base.Initialize(acm); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}
	if err := base.Authorize(admin, SigSetTokenConfig); err != nil {
		t.Fatalf("authorize admin: %v", err)
	}
	if err := base.Authorize(common.HexToAddress("0xbe"), SigSetTokenConfig); !errors.Is(err, nativecommon.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
}

func TestBaseDecimals(t *testing.T) {
	token := common.HexToAddress("0x01")
	wide := common.HexToAddress("0x02")
	base, err := NewBase("test", staticMetadata{token: 6, wide: 40}, nil)
	if err != nil {
		t.Fatalf("new base: %v", err)
	}
	ctx := context.Background()
	if d, err := base.Decimals(ctx, NativeAsset); err != nil || d != 18 {
		t.Fatalf("native asset decimals: %d %v", d, err)
	}
	if d, err := base.Decimals(ctx, token); err != nil || d != 6 {
		t.Fatalf("token decimals: %d %v", d, err)
	}
	if _, err := base.Decimals(ctx, wide); !errors.Is(err, ErrDecimalsOutOfRange) {
		t.Fatalf("expected decimals out of range, got %v", err)
	}
	if _, err := base.Now(ctx); !errors.Is(err, ErrNilDependency) {
		t.Fatalf("expected missing clock, got %v", err)
	}
}

func TestRequireAddress(t *testing.T) {
	err := RequireAddress("feed", common.Address{})
	if !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected zero address error, got %v", err)
	}
	var fieldErr *FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "feed" {
		t.Fatalf("expected field error for feed, got %v", err)
	}
}

type namedFixed struct {
	name  string
	price *big.Int
}

func (n namedFixed) Name() string { return n.name }

func (n namedFixed) GetPrice(context.Context, common.Address) (*big.Int, error) {
	return new(big.Int).Set(n.price), nil
}

func TestRouter(t *testing.T) {
	router := NewRouter()
	a := common.HexToAddress("0x0a")
	b := common.HexToAddress("0x0b")
	if err := router.Route(b, namedFixed{name: "feed", price: big.NewInt(2)}); err != nil {
		t.Fatalf("route: %v", err)
	}
	if err := router.Route(a, namedFixed{name: "twap", price: big.NewInt(1)}); err != nil {
		t.Fatalf("route: %v", err)
	}
	if err := router.Route(common.Address{}, namedFixed{}); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected zero address, got %v", err)
	}

	price, err := router.GetPrice(context.Background(), b)
	if err != nil || price.Int64() != 2 {
		t.Fatalf("unexpected price %v err %v", price, err)
	}
	if _, err := router.GetPrice(context.Background(), common.HexToAddress("0x0c")); !errors.Is(err, ErrUnconfiguredAsset) {
		t.Fatalf("expected unconfigured asset, got %v", err)
	}
	assets := router.Assets()
	if len(assets) != 2 || assets[0] != a || assets[1] != b {
		t.Fatalf("unexpected assets %v", assets)
	}
}
