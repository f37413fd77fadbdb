package common

import (
	"errors"
	"strings"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var ErrAccessDenied = errors.New("access denied")

// AccessController decides whether caller may invoke the function identified
// by signature, e.g. "setTokenConfig(TokenConfig)".
type AccessController interface {
	IsAllowedToCall(caller ethcommon.Address, signature string) bool
}

func Guard(acm AccessController, caller ethcommon.Address, signature string) error {
	if acm == nil {
		return ErrAccessDenied
	}
	if !acm.IsAllowedToCall(caller, strings.TrimSpace(signature)) {
		return ErrAccessDenied
	}
	return nil
}

// StaticAccessControl is an in-memory allowlist keyed by function signature.
type StaticAccessControl struct {
	mu     sync.RWMutex
	grants map[string]map[ethcommon.Address]struct{}
}

func NewStaticAccessControl() *StaticAccessControl {
	return &StaticAccessControl{grants: make(map[string]map[ethcommon.Address]struct{})}
}

// Grant allows account to call signature. The "*" signature grants every call.
func (s *StaticAccessControl) Grant(signature string, account ethcommon.Address) {
	if s == nil {
		return
	}
	signature = strings.TrimSpace(signature)
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts, ok := s.grants[signature]
	if !ok {
		accounts = make(map[ethcommon.Address]struct{})
		s.grants[signature] = accounts
	}
	accounts[account] = struct{}{}
}

func (s *StaticAccessControl) Revoke(signature string, account ethcommon.Address) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants[strings.TrimSpace(signature)], account)
}

func (s *StaticAccessControl) IsAllowedToCall(caller ethcommon.Address, signature string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.grants[signature][caller]; ok {
		return true
	}
	_, ok := s.grants["*"][caller]
	return ok
}
