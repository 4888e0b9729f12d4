package store

import "sync"

// UsagePointIndex records which usage points a JID has been granted and which
// token each grant resolves to. Several usage points may share one token id
// when a single consent covered them all.
type UsagePointIndex struct {
	sync.RWMutex
	data map[string]map[string]string
}

// NewUsagePointIndex creates an empty index.
func NewUsagePointIndex() *UsagePointIndex {
	return &UsagePointIndex{data: make(map[string]map[string]string)}
}

// Set grants a usage point to a JID. Upserts silently: a later consent flow
// regranting the same point overwrites the previous token reference.
func (s *UsagePointIndex) Set(jid, usagePointID, tokenID string) {
	s.Lock()
	defer s.Unlock()

	points, ok := s.data[jid]
	if !ok {
		points = make(map[string]string)
		s.data[jid] = points
	}
	points[usagePointID] = tokenID
}

// Get returns the usage points granted to a JID, or nil when the JID was
// never granted anything. The nil return lets callers tell an unknown JID
// apart from one with zero points.
func (s *UsagePointIndex) Get(jid string) map[string]string {
	s.RLock()
	defer s.RUnlock()

	points, ok := s.data[jid]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(points))
	for id, tokenID := range points {
		out[id] = tokenID
	}
	return out
}

// Snapshot returns a deep copy of the index for persistence.
func (s *UsagePointIndex) Snapshot() map[string]map[string]string {
	s.RLock()
	defer s.RUnlock()

	out := make(map[string]map[string]string, len(s.data))
	for jid, points := range s.data {
		cp := make(map[string]string, len(points))
		for id, tokenID := range points {
			cp[id] = tokenID
		}
		out[jid] = cp
	}
	return out
}

// Restore replaces the index contents with a previously saved snapshot.
func (s *UsagePointIndex) Restore(data map[string]map[string]string) {
	s.Lock()
	defer s.Unlock()

	s.data = make(map[string]map[string]string, len(data))
	for jid, points := range data {
		cp := make(map[string]string, len(points))
		for id, tokenID := range points {
			cp[id] = tokenID
		}
		s.data[jid] = cp
	}
}
