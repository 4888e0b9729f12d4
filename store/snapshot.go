package store

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/consometers/data-connect-proxy/models"
)

// Stores bundles the four durable maps owned by the broker. They are
// persisted together as one atomic JSON snapshot, loaded once at startup and
// written once at clean shutdown. A crash between snapshots loses the
// mutations since the last save; there is no incremental persistence.
type Stores struct {
	Tokens                *TokenStore
	UsagePoints           *UsagePointIndex
	AuthorizeRequests     *AuthorizeRequestStore
	AuthorizeDescriptions *AuthorizeDescriptionStore
}

// NewStores creates the four stores, all empty.
func NewStores() *Stores {
	return &Stores{
		Tokens:                NewTokenStore(),
		UsagePoints:           NewUsagePointIndex(),
		AuthorizeRequests:     NewAuthorizeRequestStore(),
		AuthorizeDescriptions: NewAuthorizeDescriptionStore(),
	}
}

// snapshot is the on-disk layout: one document, one key per store.
type snapshot struct {
	Tokens                map[string]models.Token                `json:"tokens"`
	UsagePoints           map[string]map[string]string           `json:"usage_points"`
	AuthorizeDescriptions map[string]models.AuthorizeDescription `json:"authorize_descriptions"`
	AuthorizeRequests     map[string]models.AuthorizeRequest     `json:"authorize_requests"`
}

// Save writes the four stores to path as a single JSON document.
func (s *Stores) Save(path string) error {
	snap := snapshot{
		Tokens:                s.Tokens.Snapshot(),
		UsagePoints:           s.UsagePoints.Snapshot(),
		AuthorizeDescriptions: s.AuthorizeDescriptions.Snapshot(),
		AuthorizeRequests:     s.AuthorizeRequests.Snapshot(),
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Load restores the four stores from a snapshot written by Save. A missing
// file leaves all stores empty.
func (s *Stores) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	s.Tokens.Restore(snap.Tokens)
	s.UsagePoints.Restore(snap.UsagePoints)
	s.AuthorizeDescriptions.Restore(snap.AuthorizeDescriptions)
	s.AuthorizeRequests.Restore(snap.AuthorizeRequests)
	return nil
}
