package common

import (
	"errors"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

func TestGuardNilControllerDenies(t *testing.T) {
	if err := Guard(nil, ethcommon.HexToAddress("0x01"), "setTokenConfig(TokenConfig)"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
}

func TestStaticAccessControl(t *testing.T) {
	admin := ethcommon.HexToAddress("0x0a")
	ops := ethcommon.HexToAddress("0x0b")
	acm := NewStaticAccessControl()
	acm.Grant("setTokenConfig(TokenConfig)", admin)
	acm.Grant("*", ops)

	if err := Guard(acm, admin, "setTokenConfig(TokenConfig)"); err != nil {
		t.Fatalf("admin should be allowed: %v", err)
	}
	if err := Guard(acm, admin, "setDirectPrice(address,uint256)"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("admin should not be allowed to post prices, got %v", err)
	}
	if err := Guard(acm, ops, "setDirectPrice(address,uint256)"); err != nil {
		t.Fatalf("wildcard grant should allow: %v", err)
	}

	acm.Revoke("setTokenConfig(TokenConfig)", admin)
	if err := Guard(acm, admin, "setTokenConfig(TokenConfig)"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("revoked grant should deny, got %v", err)
	}
}
