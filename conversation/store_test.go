////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Tests that messages inserted out of order come back ordered by CreatedAt
// with canonical ID as the tiebreak.
func TestMessageStore_Insert_Order(t *testing.T) {
	ms := newMessageStore()

	tied := testMessage(4, "bob", "tied late")
	tied.CreatedAt = testEpoch.Add(3 * time.Minute)

	ms.Insert(
		testMessage(3, "alice", "third"),
		testMessage(1, "alice", "first"),
		tied,
		testMessage(2, "bob", "second"),
	)

	snap := ms.Snapshot()
	require.Len(t, snap, 4)
	expected := []MessageID{1, 2, 3, 4}
	for i, m := range snap {
		require.Equal(t, expected[i], m.ID)
	}
}

// Tests that the same message arriving from a push event and a backfill page
// lands exactly once, whichever order the sources deliver in. The duplicate
// carries no explicit status, which must not matter: a canonical ID alone
// marks it confirmed.
func TestMessageStore_Insert_Dedup(t *testing.T) {
	ms := newMessageStore()

	require.Equal(t, 1, ms.Insert(testMessage(7, "alice", "hello")))
	require.Equal(t, 0, ms.Insert(testMessage(7, "alice", "hello")))
	require.Equal(t, 1, ms.Len())

	got, ok := ms.Get(idKeyPrefix + "7")
	require.True(t, ok)
	require.Equal(t, Confirmed, got.Status)
}

// Tests that duplicates inside a single Insert batch collapse to one entry,
// the way a repeated record on one history page must.
func TestMessageStore_Insert_BatchDuplicates(t *testing.T) {
	ms := newMessageStore()

	merged := ms.Insert(
		testMessage(5, "alice", "hello"),
		testMessage(5, "alice", "hello"),
		testMessage(6, "bob", "hi"),
	)
	require.Equal(t, 2, merged)
	require.Equal(t, 2, ms.Len())

	// A pending entry and its confirmed copy in the same batch still promote
	// in place rather than landing twice.
	ms = newMessageStore()
	pending := &Message{
		TempID:    "tmp-c",
		SenderID:  "self",
		Content:   "mine",
		CreatedAt: testEpoch,
		Status:    Pending,
	}
	confirmed := &Message{
		ID:        8,
		TempID:    "tmp-c",
		SenderID:  "self",
		Content:   "mine",
		CreatedAt: testEpoch.Add(time.Second),
	}
	require.Equal(t, 2, ms.Insert(pending, confirmed))
	require.Equal(t, 1, ms.Len())

	got, ok := ms.Get(idKeyPrefix + "8")
	require.True(t, ok)
	require.Equal(t, Confirmed, got.Status)
}

// Tests the full optimistic-send interleaving: a pending entry is promoted in
// place by its confirmed copy, a later replay of the pending copy is dropped,
// and a second confirmed copy is dropped.
func TestMessageStore_Insert_PendingPromotion(t *testing.T) {
	ms := newMessageStore()

	pending := &Message{
		TempID:         "tmp-a",
		ConversationID: "conv-1",
		SenderID:       "self",
		Content:        "optimistic",
		ReplyTo:        "tmp-parent",
		CreatedAt:      testEpoch,
		Status:         Pending,
	}
	require.Equal(t, 1, ms.Insert(pending))

	// Confirmed copy; the server echoes the correlation key but drops the
	// reply reference.
	confirmed := &Message{
		ID:             9,
		TempID:         "tmp-a",
		ConversationID: "conv-1",
		SenderID:       "self",
		Content:        "optimistic",
		CreatedAt:      testEpoch.Add(time.Second),
		Status:         Confirmed,
	}
	require.Equal(t, 1, ms.Insert(confirmed))
	require.Equal(t, 1, ms.Len())

	got, ok := ms.Get(idKeyPrefix + "9")
	require.True(t, ok)
	require.Equal(t, Confirmed, got.Status)
	require.Equal(t, "tmp-parent", got.ReplyTo,
		"reply reference of the optimistic original must survive promotion")

	// Stale replay of the pending copy.
	replay := *pending
	require.Equal(t, 0, ms.Insert(&replay))
	require.Equal(t, 1, ms.Len())

	// Redundant confirmed re-delivery.
	redelivery := *confirmed
	require.Equal(t, 0, ms.Insert(&redelivery))
	require.Equal(t, 1, ms.Len())
}

// Tests that Promote keeps the entry in its original slot even when the
// canonical timestamp would sort it elsewhere.
func TestMessageStore_Promote_PreservesSlot(t *testing.T) {
	ms := newMessageStore()

	ms.Insert(testMessage(1, "alice", "first"))
	pending := &Message{
		TempID:    "tmp-b",
		SenderID:  "self",
		Content:   "mine",
		CreatedAt: testEpoch.Add(90 * time.Second),
		Status:    Pending,
	}
	ms.Insert(pending, testMessage(2, "bob", "second"))

	canonical := &Message{
		ID:        5,
		TempID:    "tmp-b",
		SenderID:  "self",
		Content:   "mine",
		CreatedAt: testEpoch.Add(10 * time.Minute),
	}
	require.True(t, ms.Promote("tmp-b", canonical))

	snap := ms.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, MessageID(5), snap[1].ID,
		"promoted entry must keep its slot between messages 1 and 2")
	require.Equal(t, Confirmed, snap[1].Status)

	// A second promotion for the same temp ID is redundant.
	require.False(t, ms.Promote("tmp-b", canonical))
}

// Tests that malformed payloads never enter the store.
func TestMessageStore_Insert_Malformed(t *testing.T) {
	ms := newMessageStore()

	noTimestamp := &Message{ID: 1, SenderID: "alice", Content: "hi"}
	empty := &Message{ID: 2, CreatedAt: testEpoch}

	require.Equal(t, 0, ms.Insert(noTimestamp, empty))
	require.Equal(t, 0, ms.Len())
}

// Tests that Remove deletes the entry and keeps the index consistent for the
// entries that shifted down.
func TestMessageStore_Remove(t *testing.T) {
	ms := newMessageStore()
	ms.Insert(
		testMessage(1, "alice", "first"),
		testMessage(2, "bob", "second"),
		testMessage(3, "alice", "third"),
	)

	require.True(t, ms.Remove(idKeyPrefix+"2"))
	require.False(t, ms.Remove(idKeyPrefix+"2"))
	require.Equal(t, 2, ms.Len())

	got, ok := ms.Get(idKeyPrefix + "3")
	require.True(t, ok)
	require.Equal(t, MessageID(3), got.ID)
}

// Tests that Recall tombstones the entry in place without moving it.
func TestMessageStore_Recall(t *testing.T) {
	ms := newMessageStore()
	ms.Insert(
		testMessage(1, "alice", "first"),
		testMessage(2, "bob", "regretted"),
		testMessage(3, "alice", "third"),
	)

	recall := testMessage(2, "bob", "")
	require.True(t, ms.Recall(recall))

	snap := ms.Snapshot()
	require.Equal(t, MessageID(2), snap[1].ID)
	require.True(t, snap[1].Deleted)
	require.Empty(t, snap[1].Content)

	unknown := testMessage(99, "bob", "")
	require.False(t, ms.Recall(unknown))
}
