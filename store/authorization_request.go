package store

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/consometers/data-connect-proxy/models"
)

// ErrAuthorizeRequestNotFound indicates no pending consent flow matches a
// state value. The callback path treats this as a no-op rather than an
// error: stale or foreign state values legitimately reach the endpoint.
var ErrAuthorizeRequestNotFound = errors.New("authorize request not found")

// stateLength is the number of uuid characters kept for a state value. Short
// enough to stay readable in consent URLs, wide enough that collisions are
// practically impossible.
const stateLength = 8

// sandboxStateTag is appended to state values bound to the sandbox
// environment. The provider echoes the state back on the redirect, so the
// tag lets the callback route to the right upstream client without any other
// context. Only Add and Get ever look at it; the rest of the system treats
// state values as opaque.
const sandboxStateTag = "s"

// AuthorizeRequestStore correlates one-time state values with pending
// consent flows.
type AuthorizeRequestStore struct {
	sync.RWMutex
	data map[string]models.AuthorizeRequest
}

// NewAuthorizeRequestStore creates an empty store.
func NewAuthorizeRequestStore() *AuthorizeRequestStore {
	return &AuthorizeRequestStore{data: make(map[string]models.AuthorizeRequest)}
}

// Add registers a pending consent flow and returns its fresh state value.
// Uniqueness is enforced by regenerating on collision.
func (s *AuthorizeRequestStore) Add(jid, userState, redirectURI string, env models.Environment) string {
	s.Lock()
	defer s.Unlock()

	var state string
	for {
		state = uuid.NewString()[:stateLength]
		if env == models.EnvironmentSandbox {
			state += sandboxStateTag
		}
		if _, exists := s.data[state]; !exists {
			break
		}
	}

	s.data[state] = models.AuthorizeRequest{
		JID:         jid,
		UserState:   userState,
		RedirectURI: redirectURI,
		Environment: env,
	}
	return state
}

// Get returns the pending consent flow for a state value. The entry stays in
// place: replays of the same state fail later, at the code exchange.
func (s *AuthorizeRequestStore) Get(state string) (models.AuthorizeRequest, error) {
	s.RLock()
	defer s.RUnlock()

	req, ok := s.data[state]
	if !ok {
		return models.AuthorizeRequest{}, ErrAuthorizeRequestNotFound
	}
	return req, nil
}

// Snapshot returns a copy of the underlying map for persistence.
func (s *AuthorizeRequestStore) Snapshot() map[string]models.AuthorizeRequest {
	s.RLock()
	defer s.RUnlock()

	out := make(map[string]models.AuthorizeRequest, len(s.data))
	for state, req := range s.data {
		out[state] = req
	}
	return out
}

// Restore replaces the store contents with a previously saved snapshot.
func (s *AuthorizeRequestStore) Restore(data map[string]models.AuthorizeRequest) {
	s.Lock()
	defer s.Unlock()

	s.data = make(map[string]models.AuthorizeRequest, len(data))
	for state, req := range data {
		s.data[state] = req
	}
}
