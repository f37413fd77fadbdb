package twap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"lendoracle/storage"
)

var (
	twapStatePrefix       = []byte("twap/state/")
	twapObservationPrefix = []byte("twap/obs/")
	twapAssetIndexKey     = []byte("twap/assets")
)

func twapStateKey(asset common.Address) []byte {
	buf := make([]byte, len(twapStatePrefix)+common.AddressLength)
	copy(buf, twapStatePrefix)
	copy(buf[len(twapStatePrefix):], asset[:])
	return buf
}

func twapObservationKey(asset common.Address, index uint64) []byte {
	buf := make([]byte, len(twapObservationPrefix)+common.AddressLength+8)
	copy(buf, twapObservationPrefix)
	copy(buf[len(twapObservationPrefix):], asset[:])
	binary.BigEndian.PutUint64(buf[len(twapObservationPrefix)+common.AddressLength:], index)
	return buf
}

type storedAssetState struct {
	Asset          common.Address
	BaseUnit       *big.Int
	Pool           common.Address
	IsEthBased     bool
	IsReversedPool bool
	AnchorPeriod   uint64
	WindowStart    uint64
	Length         uint64
	Price          *big.Int
}

type storedObservation struct {
	Timestamp  uint64
	Cumulative *big.Int
}

// KVStore persists TWAP state in a key-value database. Each observation is
// stored under its absolute index so an update writes the appended sample and
// deletes the pruned ones in a single batch.
type KVStore struct {
	mu sync.Mutex
	db storage.Database
}

func NewKVStore(db storage.Database) *KVStore {
	return &KVStore{db: db}
}

func (s *KVStore) loadMeta(asset common.Address) (*storedAssetState, bool, error) {
	raw, err := s.db.Get(twapStateKey(asset))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	meta := new(storedAssetState)
	if err := rlp.DecodeBytes(raw, meta); err != nil {
		return nil, false, fmt.Errorf("decode twap state %s: %w", asset.Hex(), err)
	}
	return meta, true, nil
}

func (s *KVStore) Load(asset common.Address) (*AssetState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok, err := s.loadMeta(asset)
	if err != nil || !ok {
		return nil, ok, err
	}
	state := &AssetState{
		Config: TokenConfig{
			Asset:          meta.Asset,
			BaseUnit:       meta.BaseUnit,
			Pool:           meta.Pool,
			IsEthBased:     meta.IsEthBased,
			IsReversedPool: meta.IsReversedPool,
			AnchorPeriod:   meta.AnchorPeriod,
		},
		WindowStart: meta.WindowStart,
		Log:         make([]Observation, 0, meta.Length),
		Price:       meta.Price,
	}
	if state.Price == nil {
		state.Price = big.NewInt(0)
	}
	for i := meta.WindowStart; i < meta.WindowStart+meta.Length; i++ {
		raw, err := s.db.Get(twapObservationKey(asset, i))
		if err != nil {
			return nil, false, fmt.Errorf("load observation %d for %s: %w", i, asset.Hex(), err)
		}
		var obs storedObservation
		if err := rlp.DecodeBytes(raw, &obs); err != nil {
			return nil, false, fmt.Errorf("decode observation %d for %s: %w", i, asset.Hex(), err)
		}
		if obs.Cumulative == nil {
			obs.Cumulative = big.NewInt(0)
		}
		state.Log = append(state.Log, Observation{Timestamp: obs.Timestamp, Cumulative: obs.Cumulative})
	}
	return state, true, nil
}

func (s *KVStore) Commit(states []*AssetState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	indexChanged := false
	for _, state := range states {
		if state == nil {
			continue
		}
		asset := state.Config.Asset
		prev, existed, err := s.loadMeta(asset)
		if err != nil {
			return err
		}
		first := state.WindowStart
		if existed {
			prevEnd := prev.WindowStart + prev.Length
			for i := prev.WindowStart; i < state.WindowStart && i < prevEnd; i++ {
				batch.Delete(twapObservationKey(asset, i))
			}
			if prevEnd > first {
				first = prevEnd
			}
		} else {
			index = append(index, asset)
			indexChanged = true
		}
		for i := first; i < state.End(); i++ {
			obs := state.Log[i-state.WindowStart]
			encoded, err := rlp.EncodeToBytes(storedObservation{Timestamp: obs.Timestamp, Cumulative: nonNil(obs.Cumulative)})
			if err != nil {
				return fmt.Errorf("encode observation %d for %s: %w", i, asset.Hex(), err)
			}
			batch.Put(twapObservationKey(asset, i), encoded)
		}
		encoded, err := rlp.EncodeToBytes(storedAssetState{
			Asset:          asset,
			BaseUnit:       nonNil(state.Config.BaseUnit),
			Pool:           state.Config.Pool,
			IsEthBased:     state.Config.IsEthBased,
			IsReversedPool: state.Config.IsReversedPool,
			AnchorPeriod:   state.Config.AnchorPeriod,
			WindowStart:    state.WindowStart,
			Length:         uint64(len(state.Log)),
			Price:          nonNil(state.Price),
		})
		if err != nil {
			return fmt.Errorf("encode twap state %s: %w", asset.Hex(), err)
		}
		batch.Put(twapStateKey(asset), encoded)
	}
	if indexChanged {
		encoded, err := rlp.EncodeToBytes(index)
		if err != nil {
			return fmt.Errorf("encode twap asset index: %w", err)
		}
		batch.Put(twapAssetIndexKey, encoded)
	}
	return batch.Write()
}

func (s *KVStore) loadIndex() ([]common.Address, error) {
	raw, err := s.db.Get(twapAssetIndexKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var index []common.Address
	if err := rlp.DecodeBytes(raw, &index); err != nil {
		return nil, fmt.Errorf("decode twap asset index: %w", err)
	}
	return index, nil
}

func (s *KVStore) Assets() ([]common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	sort.Slice(index, func(i, j int) bool { return index[i].Cmp(index[j]) < 0 })
	return index, nil
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
