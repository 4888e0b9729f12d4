package store

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/consometers/data-connect-proxy/models"
)

// ErrTokenNotFound indicates a token id with no stored entry. Grants always
// reference an existing token, so hitting this means a dangling reference,
// not a user mistake.
var ErrTokenNotFound = errors.New("token not found")

// TokenStore maps token ids to access/refresh token pairs (in-memory,
// snapshot-persisted).
type TokenStore struct {
	sync.RWMutex
	data   map[string]models.Token
	nextID int
}

// NewTokenStore creates an empty token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{data: make(map[string]models.Token)}
}

// Put stores or overwrites the token at id, generating a fresh sequential id
// when id is empty. expires_at is computed from the provider-declared
// lifetime. Token values are opaque; no shape validation happens here.
func (s *TokenStore) Put(accessToken, refreshToken string, expiresIn int, env models.Environment, id string) string {
	s.Lock()
	defer s.Unlock()

	if id == "" {
		id = strconv.Itoa(s.nextID)
		s.nextID++
	}
	s.data[id] = models.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(expiresIn) * time.Second),
		Environment:  env,
	}
	return id
}

// Get returns a copy of the token at id.
func (s *TokenStore) Get(id string) (models.Token, error) {
	s.RLock()
	defer s.RUnlock()

	t, ok := s.data[id]
	if !ok {
		return models.Token{}, ErrTokenNotFound
	}
	return t, nil
}

// Snapshot returns a copy of the underlying map for persistence.
func (s *TokenStore) Snapshot() map[string]models.Token {
	s.RLock()
	defer s.RUnlock()

	out := make(map[string]models.Token, len(s.data))
	for id, t := range s.data {
		out[id] = t
	}
	return out
}

// Restore replaces the store contents with a previously saved snapshot and
// re-seeds the id sequence past the highest numeric id seen.
func (s *TokenStore) Restore(data map[string]models.Token) {
	s.Lock()
	defer s.Unlock()

	s.data = make(map[string]models.Token, len(data))
	s.nextID = 0
	for id, t := range data {
		s.data[id] = t
		if n, err := strconv.Atoi(id); err == nil && n >= s.nextID {
			s.nextID = n + 1
		}
	}
}
