package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestTokenConfigAddedEvent(t *testing.T) {
	asset := common.HexToAddress("0x10")
	evt := TokenConfigAdded{
		Oracle: "chainlink",
		Asset:  asset,
		Fields: map[string]string{"feed": "0xf0", "asset": "override"},
	}.Event()
	if evt.Type != TypeOracleTokenConfigAdded {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["asset"] != asset.Hex() {
		t.Fatalf("asset attribute overridden: %s", evt.Attributes["asset"])
	}
	if evt.Attributes["feed"] != "0xf0" || evt.Attributes["oracle"] != "chainlink" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
}

func TestTwapEvents(t *testing.T) {
	asset := common.HexToAddress("0x10")
	window := TwapWindowUpdated{
		Asset:         asset,
		WindowStart:   3,
		OldTimestamp:  100,
		OldCumulative: big.NewInt(7),
		NewTimestamp:  200,
	}.Event()
	if window.Attributes["windowStart"] != "3" || window.Attributes["newCumulative"] != "0" {
		t.Fatalf("unexpected window attrs: %+v", window.Attributes)
	}

	price := AnchorPriceUpdated{Oracle: "twap", Asset: asset, Price: big.NewInt(42), OldTimestamp: 100, NewTimestamp: 200}.Event()
	if price.Type != TypeOracleAnchorPriceUpdated || price.Attributes["price"] != "42" || price.Attributes["oracle"] != "twap" {
		t.Fatalf("unexpected price event: %+v", price)
	}

	posted := PricePosted{Oracle: "chainlink", Asset: asset, Price: big.NewInt(5)}.Event()
	if posted.Attributes["previous"] != "0" || posted.Attributes["price"] != "5" {
		t.Fatalf("unexpected posted attrs: %+v", posted.Attributes)
	}
}

func TestSource(t *testing.T) {
	cases := []struct {
		evt  Event
		want string
	}{
		{evt: TokenConfigAdded{Oracle: " chainlink "}, want: "chainlink"},
		{evt: PricePosted{Oracle: "chainlink"}, want: "chainlink"},
		{evt: TwapWindowUpdated{Oracle: "twap"}, want: "twap"},
		{evt: AnchorPriceUpdated{Oracle: "twap"}, want: "twap"},
		{evt: AnchorPriceUpdated{}, want: ""},
		{evt: namedEvent("custom"), want: ""},
	}
	for _, tc := range cases {
		if got := Source(tc.evt); got != tc.want {
			t.Fatalf("%T: expected %q, got %q", tc.evt, tc.want, got)
		}
	}
}
