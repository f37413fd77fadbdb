package twap

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Store persists per-asset TWAP state. Load returns a copy the caller may
// mutate; Commit replaces every supplied state atomically.
type Store interface {
	Load(asset common.Address) (*AssetState, bool, error)
	Commit(states []*AssetState) error
	Assets() ([]common.Address, error)
}

// MemoryStore keeps state in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[common.Address]*AssetState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[common.Address]*AssetState)}
}

func (s *MemoryStore) Load(asset common.Address) (*AssetState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[asset]
	if !ok {
		return nil, false, nil
	}
	return state.Clone(), true, nil
}

func (s *MemoryStore) Commit(states []*AssetState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, state := range states {
		if state == nil {
			continue
		}
		s.states[state.Config.Asset] = state.Clone()
	}
	return nil
}

func (s *MemoryStore) Assets() ([]common.Address, error) {
	s.mu.RLock()
	assets := make([]common.Address, 0, len(s.states))
	for asset := range s.states {
		assets = append(assets, asset)
	}
	s.mu.RUnlock()
	sort.Slice(assets, func(i, j int) bool { return assets[i].Cmp(assets[j]) < 0 })
	return assets, nil
}
