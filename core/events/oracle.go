package events

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"lendoracle/core/types"
)

const (
	// TypeOracleTokenConfigAdded is emitted whenever an adapter accepts a token configuration.
	TypeOracleTokenConfigAdded = "oracle.token_config_added"
	// TypeOraclePricePosted is emitted when a manual price override is set.
	TypeOraclePricePosted = "oracle.price_posted"
	// TypeOracleTwapWindowUpdated is emitted whenever the TWAP window start moves or a sample is appended.
	TypeOracleTwapWindowUpdated = "oracle.twap_window_updated"
	// TypeOracleAnchorPriceUpdated is emitted after a TWAP price has been recomputed and stored.
	TypeOracleAnchorPriceUpdated = "oracle.anchor_price_updated"
)

// TokenConfigAdded describes a configuration accepted by one of the adapters.
// Fields carries adapter specific parameters (pool, feed, window, ...).
type TokenConfigAdded struct {
	Oracle string
	Asset  common.Address
	Fields map[string]string
}

func (TokenConfigAdded) EventType() string { return TypeOracleTokenConfigAdded }

func (e TokenConfigAdded) Event() *types.Event {
	attrs := map[string]string{
		"oracle": strings.TrimSpace(e.Oracle),
		"asset":  e.Asset.Hex(),
	}
	for k, v := range e.Fields {
		key := strings.TrimSpace(k)
		if key == "" || key == "oracle" || key == "asset" {
			continue
		}
		attrs[key] = v
	}
	return &types.Event{Type: TypeOracleTokenConfigAdded, Attributes: attrs}
}

type PricePosted struct {
	Oracle   string
	Asset    common.Address
	Previous *big.Int
	Price    *big.Int
}

func (PricePosted) EventType() string { return TypeOraclePricePosted }

func (e PricePosted) Event() *types.Event {
	return &types.Event{
		Type: TypeOraclePricePosted,
		Attributes: map[string]string{
			"oracle":   strings.TrimSpace(e.Oracle),
			"asset":    e.Asset.Hex(),
			"previous": amountString(e.Previous),
			"price":    amountString(e.Price),
		},
	}
}

// TwapWindowUpdated captures a window advance. OldTimestamp/OldCumulative
// identify the window start, NewTimestamp/NewCumulative the appended sample.
type TwapWindowUpdated struct {
	Oracle        string
	Asset         common.Address
	WindowStart   uint64
	OldTimestamp  uint64
	OldCumulative *big.Int
	NewTimestamp  uint64
	NewCumulative *big.Int
}

func (TwapWindowUpdated) EventType() string { return TypeOracleTwapWindowUpdated }

func (e TwapWindowUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeOracleTwapWindowUpdated,
		Attributes: map[string]string{
			"oracle":        strings.TrimSpace(e.Oracle),
			"asset":         e.Asset.Hex(),
			"windowStart":   strconv.FormatUint(e.WindowStart, 10),
			"oldTimestamp":  strconv.FormatUint(e.OldTimestamp, 10),
			"oldCumulative": amountString(e.OldCumulative),
			"newTimestamp":  strconv.FormatUint(e.NewTimestamp, 10),
			"newCumulative": amountString(e.NewCumulative),
		},
	}
}

type AnchorPriceUpdated struct {
	Oracle       string
	Asset        common.Address
	Price        *big.Int
	OldTimestamp uint64
	NewTimestamp uint64
}

func (AnchorPriceUpdated) EventType() string { return TypeOracleAnchorPriceUpdated }

func (e AnchorPriceUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeOracleAnchorPriceUpdated,
		Attributes: map[string]string{
			"oracle":       strings.TrimSpace(e.Oracle),
			"asset":        e.Asset.Hex(),
			"price":        amountString(e.Price),
			"oldTimestamp": strconv.FormatUint(e.OldTimestamp, 10),
			"newTimestamp": strconv.FormatUint(e.NewTimestamp, 10),
		},
	}
}

// Source returns the name of the adapter that emitted evt, or "" when the
// event does not carry one.
func Source(evt Event) string {
	switch e := evt.(type) {
	case TokenConfigAdded:
		return strings.TrimSpace(e.Oracle)
	case PricePosted:
		return strings.TrimSpace(e.Oracle)
	case TwapWindowUpdated:
		return strings.TrimSpace(e.Oracle)
	case AnchorPriceUpdated:
		return strings.TrimSpace(e.Oracle)
	}
	return ""
}
