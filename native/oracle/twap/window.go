package twap

import "math/big"

type windowValues struct {
	cumulative      *big.Int
	startCumulative *big.Int
	startTimestamp  uint64
	pruned          int
}

// pokeWindowValues advances the window start to the oldest observation that
// is still inside the anchor period (or the newest one when none is),
// discards everything before it and appends the current sample.
func pokeWindowValues(state *AssetState, now uint64, cumulative *big.Int) (windowValues, error) {
	if state == nil || len(state.Log) == 0 {
		return windowValues{}, ErrEmptyLog
	}
	var boundary uint64
	if now > state.Config.AnchorPeriod {
		boundary = now - state.Config.AnchorPeriod
	}

	skip := 0
	for skip < len(state.Log)-1 && state.Log[skip].Timestamp < boundary {
		skip++
	}
	if skip > 0 {
		state.Log = state.Log[skip:]
		state.WindowStart += uint64(skip)
	}

	start := state.Log[0]
	state.Log = append(state.Log, Observation{Timestamp: now, Cumulative: new(big.Int).Set(cumulative)})
	return windowValues{
		cumulative:      new(big.Int).Set(cumulative),
		startCumulative: new(big.Int).Set(start.Cumulative),
		startTimestamp:  start.Timestamp,
		pruned:          skip,
	}, nil
}
