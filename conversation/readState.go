////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"time"

	jww "github.com/spf13/jwalterweatherman"
)

// ReadState is the single most-recently-read message known for one
// participant.
type ReadState struct {
	LastRead MessageID
	ReadAt   time.Time
}

// readTracker derives per-participant last-read markers from two inputs with
// different ordering guarantees: bulk page data, which is chronological by
// construction of the query, and discrete live read events, which are not.
// It is not safe for concurrent use; the Manager serializes every caller.
type readTracker struct {
	byUser map[string]ReadState
}

func newReadTracker() *readTracker {
	return &readTracker{
		byUser: make(map[string]ReadState),
	}
}

// ApplyBulk walks messages in ascending CreatedAt order and unconditionally
// overwrites each user's marker with every receipt encountered. Because the
// traversal is chronological, the final value per user is their latest read
// message; no numeric comparison is needed. Messages without a canonical ID
// are skipped, as a read marker on an unacknowledged message is meaningless.
func (rt *readTracker) ApplyBulk(msgs []*Message) {
	for _, m := range msgs {
		if m.ID == 0 {
			continue
		}
		for _, r := range m.ReadBy {
			rt.byUser[r.UserID] = ReadState{LastRead: m.ID, ReadAt: r.ReadAt}
		}
	}
}

// ApplyEvent applies a discrete read event. Events can arrive in any order,
// so the marker only moves when the incoming message ID is numerically at or
// beyond the stored one; a user's last-read marker never regresses. Returns
// true when the marker changed.
func (rt *readTracker) ApplyEvent(
	userID string, msgID MessageID, readAt time.Time) bool {
	cur, ok := rt.byUser[userID]
	if ok && msgID < cur.LastRead {
		jww.TRACE.Printf("[CONV] Ignoring stale read event for %q: "+
			"%s < %s", userID, msgID, cur.LastRead)
		return false
	}

	rt.byUser[userID] = ReadState{LastRead: msgID, ReadAt: readAt}
	return true
}

// LastRead returns the marker for the given user.
func (rt *readTracker) LastRead(userID string) (ReadState, bool) {
	rs, ok := rt.byUser[userID]
	return rs, ok
}

// Snapshot returns a copy of all markers.
func (rt *readTracker) Snapshot() map[string]ReadState {
	out := make(map[string]ReadState, len(rt.byUser))
	for k, v := range rt.byUser {
		out[k] = v
	}
	return out
}
