package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"schoolreg/pkg/platform/sentinel"
)

// InMemoryStore keeps tokens in memory for tests and development. The mutex
// makes Redeem's check-and-consume atomic, matching the SQL implementation's
// single-statement update.
type InMemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]*VerificationToken
}

// NewInMemoryStore constructs an empty in-memory token store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{tokens: make(map[string]*VerificationToken)}
}

func (s *InMemoryStore) Issue(_ context.Context, applicationID uuid.UUID, purpose Purpose, ttl time.Duration, now time.Time) (*VerificationToken, error) {
	if !purpose.Valid() {
		return nil, fmt.Errorf("unknown token purpose %q: %w", purpose, sentinel.ErrInvalidState)
	}
	tokenStr, err := generateToken()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tokens {
		if existing.ApplicationID == applicationID && existing.Purpose == purpose && existing.ConsumedAt == nil {
			existing.Superseded = true
		}
	}

	tok := &VerificationToken{
		Token:         tokenStr,
		ApplicationID: applicationID,
		Purpose:       purpose,
		IssuedAt:      now,
		ExpiresAt:     now.Add(ttl),
	}
	s.tokens[tokenStr] = tok
	clone := *tok
	return &clone, nil
}

func (s *InMemoryStore) Redeem(_ context.Context, tokenStr string, purpose Purpose, now time.Time) (*VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[tokenStr]
	if !ok {
		return nil, fmt.Errorf("token not found: %w", sentinel.ErrNotFound)
	}
	if err := tok.ValidateForRedeem(purpose, now); err != nil {
		return nil, err
	}
	consumedAt := now
	tok.ConsumedAt = &consumedAt
	clone := *tok
	return &clone, nil
}

func (s *InMemoryStore) FindByToken(_ context.Context, tokenStr string) (*VerificationToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[tokenStr]
	if !ok {
		return nil, fmt.Errorf("token not found: %w", sentinel.ErrNotFound)
	}
	clone := *tok
	return &clone, nil
}

func (s *InMemoryStore) FindCurrent(_ context.Context, applicationID uuid.UUID, purpose Purpose) (*VerificationToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var current *VerificationToken
	for _, tok := range s.tokens {
		if tok.ApplicationID != applicationID || tok.Purpose != purpose || tok.ConsumedAt != nil || tok.Superseded {
			continue
		}
		if current == nil || tok.IssuedAt.After(current.IssuedAt) {
			current = tok
		}
	}
	if current == nil {
		return nil, fmt.Errorf("no outstanding %s token for application %s: %w", purpose, applicationID, sentinel.ErrNotFound)
	}
	clone := *current
	return &clone, nil
}
