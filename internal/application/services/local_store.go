package services

import (
	"sync"

	"github.com/holiman/uint256"

	"github.com/Marketen/poi-radio/internal/application/domain"
)

// LocalStore keeps the POIs we computed ourselves, keyed by identifier and block.
type LocalStore struct {
	mu           sync.Mutex
	attestations domain.LocalAttestationsMap
}

func NewLocalStore() *LocalStore {
	return &LocalStore{attestations: make(domain.LocalAttestationsMap)}
}

// Record creates or overwrites our attestation for identifier at block.
func (s *LocalStore) Record(identifier string, block uint64, value string, ownStake *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blocks, ok := s.attestations[identifier]
	if !ok {
		blocks = make(map[uint64]domain.Attestation)
		s.attestations[identifier] = blocks
	}
	blocks[block] = domain.NewAttestation(value, ownStake, "")
}

// Has reports whether a claim was already produced for identifier at block.
func (s *LocalStore) Has(identifier string, block uint64) bool {
	_, ok := s.Get(identifier, block)
	return ok
}

func (s *LocalStore) Get(identifier string, block uint64) (domain.Attestation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	att, ok := s.attestations[identifier][block]
	return att, ok
}

// View runs fn with exclusive access to the backing map. fn must not retain it.
func (s *LocalStore) View(fn func(domain.LocalAttestationsMap)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.attestations)
}
