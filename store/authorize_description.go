package store

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/consometers/data-connect-proxy/models"
	"github.com/consometers/data-connect-proxy/utils/sanitize"
)

// ErrAuthorizeDescriptionNotFound indicates no consent description exists
// for an id.
var ErrAuthorizeDescriptionNotFound = errors.New("authorize description not found")

// AuthorizeDescriptionStore holds reusable consent page definitions, keyed
// by an opaque id.
type AuthorizeDescriptionStore struct {
	sync.RWMutex
	data map[string]models.AuthorizeDescription
}

// NewAuthorizeDescriptionStore creates an empty store.
func NewAuthorizeDescriptionStore() *AuthorizeDescriptionStore {
	return &AuthorizeDescriptionStore{data: make(map[string]models.AuthorizeDescription)}
}

// Add stores a consent description and returns its id. The description body
// is sanitized before storage; disallowed markup ends up escaped, still
// visible on the consent page.
func (s *AuthorizeDescriptionStore) Add(jid, name, descriptionHTML, logoURL string) string {
	s.Lock()
	defer s.Unlock()

	id := uuid.NewString()
	s.data[id] = models.AuthorizeDescription{
		JID:         jid,
		Name:        name,
		Description: sanitize.HTML(descriptionHTML),
		LogoURL:     logoURL,
	}
	return id
}

// Get returns the consent description for an id.
func (s *AuthorizeDescriptionStore) Get(id string) (models.AuthorizeDescription, error) {
	s.RLock()
	defer s.RUnlock()

	desc, ok := s.data[id]
	if !ok {
		return models.AuthorizeDescription{}, ErrAuthorizeDescriptionNotFound
	}
	return desc, nil
}

// Snapshot returns a copy of the underlying map for persistence.
func (s *AuthorizeDescriptionStore) Snapshot() map[string]models.AuthorizeDescription {
	s.RLock()
	defer s.RUnlock()

	out := make(map[string]models.AuthorizeDescription, len(s.data))
	for id, desc := range s.data {
		out[id] = desc
	}
	return out
}

// Restore replaces the store contents with a previously saved snapshot.
func (s *AuthorizeDescriptionStore) Restore(data map[string]models.AuthorizeDescription) {
	s.Lock()
	defer s.Unlock()

	s.data = make(map[string]models.AuthorizeDescription, len(data))
	for id, desc := range data {
		s.data[id] = desc
	}
}
