package core

import (
	"sort"
	"time"
)

// PresenceRecord is the ephemeral "I am here" broadcast of one client in
// one context. It is owned by the originating client and only mirrored by
// peers for the lifetime of the subscription; nothing here is persisted.
type PresenceRecord struct {
	UserID    int64
	Name      string
	Avatar    string
	InCall    bool
	SessionID string // active call reference when InCall
	LastSeen  time.Time
}

// presenceSet is the merged view of all peers' presence in one context,
// keyed by identity. Republishing overwrites: the last record wins.
type presenceSet struct {
	records map[int64]PresenceRecord
}

func newPresenceSet() *presenceSet {
	return &presenceSet{records: make(map[int64]PresenceRecord)}
}

// track inserts or refreshes a record. Returns true if the merged set
// changed in a way peers should observe.
func (s *presenceSet) track(rec PresenceRecord) bool {
	prev, exists := s.records[rec.UserID]
	s.records[rec.UserID] = rec
	if !exists {
		return true
	}
	return prev.InCall != rec.InCall || prev.SessionID != rec.SessionID ||
		prev.Name != rec.Name || prev.Avatar != rec.Avatar
}

// untrack removes an identity. Returns true if it was present.
func (s *presenceSet) untrack(userID int64) bool {
	if _, exists := s.records[userID]; !exists {
		return false
	}
	delete(s.records, userID)
	return true
}

// snapshot returns all records ordered by identity for deterministic syncs.
func (s *presenceSet) snapshot() []PresenceRecord {
	out := make([]PresenceRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// onlineCount is the number of distinct tracked identities.
func (s *presenceSet) onlineCount() int {
	return len(s.records)
}

// inCall returns the records flagged as in a call, deduplicated by
// identity because the set is keyed by it.
func (s *presenceSet) inCall() []PresenceRecord {
	var out []PresenceRecord
	for _, rec := range s.snapshot() {
		if rec.InCall {
			out = append(out, rec)
		}
	}
	return out
}
