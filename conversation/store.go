////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"sort"

	jww "github.com/spf13/jwalterweatherman"
)

// messageStore is the canonical, deduplicated, ordered message sequence for
// one open conversation. It merges push events, backfill pages, and local
// optimistic entries. It is not safe for concurrent use; the Manager
// serializes every caller.
//
// Two invariants hold at all times:
//   - no two entries share the same canonical ID, and
//   - iteration order is non-decreasing by CreatedAt, with canonical ID as
//     the tiebreak.
type messageStore struct {
	entries []*Message

	// index maps both dedup keys (canonical and temp) to the entry's slot,
	// so duplicate suppression is a lookup instead of a scan.
	index map[string]int
}

func newMessageStore() *messageStore {
	return &messageStore{
		index: make(map[string]int),
	}
}

// Insert merges any number of messages from any source into the ordered set.
// Returns the number of messages that changed the store (inserted or
// promoted). Malformed messages are dropped and logged; confirmed duplicates
// and stale pending replays are dropped silently.
func (ms *messageStore) Insert(msgs ...*Message) int {
	merged := 0
	appended := false

	for _, m := range msgs {
		if err := m.validate(); err != nil {
			jww.WARN.Printf("[CONV] Dropping malformed message "+
				"(id %s, temp %q): %+v", m.ID, m.TempID, err)
			continue
		}
		// A canonical ID is only ever assigned by the server, so carrying one
		// means the message is confirmed regardless of what the caller set.
		if m.ID != 0 {
			m.Status = Confirmed
		}

		pos, exists := ms.lookup(m)
		if !exists {
			ms.entries = append(ms.entries, m)
			// Index immediately so a duplicate later in the same batch
			// resolves to this slot.
			ms.indexEntry(len(ms.entries) - 1)
			appended = true
			merged++
			continue
		}

		cur := ms.entries[pos]
		switch {
		case cur.ID == 0 && m.ID != 0:
			// The authoritative copy of an optimistic entry wins its slot.
			ms.promoteAt(pos, m)
			merged++
		case cur.ID != 0 && m.ID == 0:
			// Stale replay of an already-confirmed message.
			jww.TRACE.Printf("[CONV] Dropping stale pending replay for %s",
				cur.Key())
		default:
			// Idempotent re-delivery.
			jww.TRACE.Printf("[CONV] Dropping redundant copy of %s",
				cur.Key())
		}
	}

	if appended {
		ms.sortAndReindex()
	}
	return merged
}

// Promote replaces the pending entry matching tempID with its authoritative
// counterpart in the same logical slot, so the UI position does not jump.
// Returns false when no pending entry matches, which the caller treats as a
// redundant acknowledgment.
func (ms *messageStore) Promote(tempID string, canonical *Message) bool {
	pos, ok := ms.index[tempKeyPrefix+tempID]
	if !ok {
		return false
	}
	if ms.entries[pos].ID != 0 {
		return false
	}

	ms.promoteAt(pos, canonical)
	return true
}

// promoteAt installs the confirmed copy in the given slot, preserving the
// correlation key and the reply reference of the optimistic original when
// the server omitted them.
func (ms *messageStore) promoteAt(pos int, confirmed *Message) {
	old := ms.entries[pos]

	c := *confirmed
	if c.TempID == "" {
		c.TempID = old.TempID
	}
	if c.ReplyTo == "" {
		c.ReplyTo = old.ReplyTo
	}
	c.Status = Confirmed

	ms.entries[pos] = &c
	ms.indexEntry(pos)
}

// Remove deletes the entry with the given dedup key. This is the one
// operation that removes a pending message instead of promoting it, used
// when a send is explicitly rejected and discarded.
func (ms *messageStore) Remove(key string) bool {
	pos, ok := ms.index[key]
	if !ok {
		return false
	}

	gone := ms.entries[pos]
	ms.entries = append(ms.entries[:pos], ms.entries[pos+1:]...)

	delete(ms.index, gone.idKey())
	delete(ms.index, gone.tempKey())
	// Entries after the removed slot shifted down by one.
	for i := pos; i < len(ms.entries); i++ {
		ms.indexEntry(i)
	}
	return true
}

// Recall replaces a message's content with its tombstoned version in place.
// ID, CreatedAt, and slot are untouched.
func (ms *messageStore) Recall(m *Message) bool {
	pos, exists := ms.lookup(m)
	if !exists {
		return false
	}

	cur := ms.entries[pos]
	cur.Content = m.Content
	cur.MediaRef = m.MediaRef
	cur.Deleted = true
	return true
}

// SetStatus updates the lifecycle state of the entry with the given dedup
// key.
func (ms *messageStore) SetStatus(key string, status SentStatus) bool {
	pos, ok := ms.index[key]
	if !ok {
		return false
	}
	ms.entries[pos].Status = status
	return true
}

// Get returns the entry with the given dedup key.
func (ms *messageStore) Get(key string) (*Message, bool) {
	pos, ok := ms.index[key]
	if !ok {
		return nil, false
	}
	return ms.entries[pos], true
}

// Len returns the number of entries in the store.
func (ms *messageStore) Len() int {
	return len(ms.entries)
}

// Snapshot returns a copy of the ordered entries. Mutating the result does
// not affect the store.
func (ms *messageStore) Snapshot() []Message {
	out := make([]Message, len(ms.entries))
	for i, m := range ms.entries {
		out[i] = *m
	}
	return out
}

// ascending returns the live entries in store order. Callers must not hold
// the slice across mutations.
func (ms *messageStore) ascending() []*Message {
	return ms.entries
}

// lookup resolves an incoming message to an existing slot by either of its
// dedup keys.
func (ms *messageStore) lookup(m *Message) (int, bool) {
	if m.ID != 0 {
		if pos, ok := ms.index[m.idKey()]; ok {
			return pos, true
		}
	}
	if m.TempID != "" {
		if pos, ok := ms.index[m.tempKey()]; ok {
			return pos, true
		}
	}
	return 0, false
}

// indexEntry records both dedup keys of the entry at the given slot.
func (ms *messageStore) indexEntry(pos int) {
	m := ms.entries[pos]
	if m.ID != 0 {
		ms.index[m.idKey()] = pos
	}
	if m.TempID != "" {
		ms.index[m.tempKey()] = pos
	}
}

func (ms *messageStore) sortAndReindex() {
	sort.SliceStable(ms.entries, func(i, j int) bool {
		return ms.entries[i].before(ms.entries[j])
	})

	ms.index = make(map[string]int, len(ms.entries))
	for i := range ms.entries {
		ms.indexEntry(i)
	}
}
