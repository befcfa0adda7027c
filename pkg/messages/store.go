package messages

import (
	"sort"
	"sync"
)

// Store is the append-only, idempotent-upsert-by-id message store spec.md
// §4.3 describes. It holds the full conversation history in memory for the
// lifetime of a run; a host wires persistence (e.g. an ent-backed table) by
// calling Upsert from the same call site, or by subscribing to the pkg/events
// notifications the Emitter also produces — the store itself owns no
// database handle, matching §3's "Message Store is shared append-only"
// ownership note without duplicating H3's persistence layer.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*Message
	seen    map[string][]string // conversation_id -> message ids, insertion order
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		byID: make(map[string]*Message),
		seen: make(map[string][]string),
	}
}

// Upsert inserts a new message or replaces an existing one with the same ID
// in place — the "upsert_append" semantics spec.md §3 names (used when a
// tool message's status transitions from running to completed).
func (s *Store) Upsert(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[msg.ID]; !exists {
		s.seen[msg.ConversationID] = append(s.seen[msg.ConversationID], msg.ID)
	}
	s.byID[msg.ID] = msg
}

// Get returns the message with the given id, if present.
func (s *Store) Get(id string) (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	return m, ok
}

// ByConversation returns every message in the conversation, ordered by
// timestamp (ties broken by insertion order) — the ordering guarantee
// spec.md §4.3 promises consumers: "a message_id's events arrive in
// emission order; the store never renders out-of-order by design because
// segment timestamps precede tool-call timestamps."
func (s *Store) ByConversation(conversationID string) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.seen[conversationID]
	out := make([]*Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.byID[id]; ok {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TimestampMs < out[j].TimestampMs
	})
	return out
}

// Len returns the total number of distinct message ids stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
