////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/netTime"
	"go.uber.org/ratelimit"

	"gitlab.com/tessera/chatsync/storage/versioned"
)

const (
	outboxStorageKey     = "pendingOutbox"
	outboxStorageVersion = 0

	// Resubmission pacing during a flush.
	flushRatePerSecond = 8
)

// SendPayload is the user-authored portion of an outgoing message.
type SendPayload struct {
	Content  string `json:"content"`
	MediaRef string `json:"mediaRef,omitempty"`
	ReplyTo  string `json:"replyTo,omitempty"`
}

// OutboxEntry is one not-yet-acknowledged outgoing message. Entries are
// created on submit and removed only on acknowledgment or explicit
// rejection-discard.
type OutboxEntry struct {
	TempID         string       `json:"clientTempId"`
	ConversationID string       `json:"conversationId"`
	Payload        SendPayload  `json:"payload"`
	CreatedAt      time.Time    `json:"createdAt"`
	Status         OutboxStatus `json:"status"`
}

// outbox is the durable, per-conversation queue of unacknowledged sends. It
// persists every mutation to the KV, so user-authored messages survive a
// process restart. It is not safe for concurrent use; the Manager serializes
// every caller.
type outbox struct {
	kv      *versioned.KV
	entries map[string]*OutboxEntry
	limiter ratelimit.Limiter
}

// newOutbox loads the outbox from the KV. Entries that were inflight when
// the previous process died fall back to queued so the next flush resubmits
// them.
func newOutbox(kv *versioned.KV) *outbox {
	ob := &outbox{
		kv:      kv,
		entries: make(map[string]*OutboxEntry),
		limiter: ratelimit.New(flushRatePerSecond),
	}

	if err := ob.load(); err != nil && kv.Exists(err) {
		jww.FATAL.Panicf("Failed to load pending outbox: %+v", err)
	}

	requeued := 0
	for _, e := range ob.entries {
		if e.Status == Inflight {
			e.Status = Queued
			requeued++
		}
	}
	if requeued > 0 {
		jww.INFO.Printf("[CONV] Requeued %d interrupted sends", requeued)
		ob.persist()
	}

	return ob
}

// Enqueue records a new outgoing message and returns its client temp ID.
func (ob *outbox) Enqueue(conversationID string, p SendPayload) string {
	tempID := uuid.NewString()
	ob.entries[tempID] = &OutboxEntry{
		TempID:         tempID,
		ConversationID: conversationID,
		Payload:        p,
		CreatedAt:      netTime.Now(),
		Status:         Queued,
	}
	ob.persist()
	return tempID
}

// Acknowledge removes the entry matched by the canonical store. Returns
// false when no entry matches, which happens when a rejection already
// cleared it or the acknowledgment is a duplicate; callers drop that case
// silently.
func (ob *outbox) Acknowledge(tempID string) bool {
	e, ok := ob.entries[tempID]
	if !ok {
		return false
	}
	e.Status = Acknowledged
	delete(ob.entries, tempID)
	ob.persist()
	return true
}

// Reject removes the entry for a send the user discarded after an explicit
// server rejection.
func (ob *outbox) Reject(tempID string) bool {
	if _, ok := ob.entries[tempID]; !ok {
		return false
	}
	delete(ob.entries, tempID)
	ob.persist()
	return true
}

// Get returns the entry with the given temp ID.
func (ob *outbox) Get(tempID string) (*OutboxEntry, bool) {
	e, ok := ob.entries[tempID]
	return e, ok
}

// MarkInflight flags the entry as handed to the transport.
func (ob *outbox) MarkInflight(tempID string) bool {
	e, ok := ob.entries[tempID]
	if !ok {
		return false
	}
	e.Status = Inflight
	ob.persist()
	return true
}

// MarkFailed flags the entry after an explicit rejection or a failed
// submission; the next flush retries it.
func (ob *outbox) MarkFailed(tempID string) bool {
	e, ok := ob.entries[tempID]
	if !ok {
		return false
	}
	e.Status = FailedSend
	ob.persist()
	return true
}

// List returns the entries for a conversation in creation order.
func (ob *outbox) List(conversationID string) []*OutboxEntry {
	out := make([]*OutboxEntry, 0, len(ob.entries))
	for _, e := range ob.entries {
		if e.ConversationID == conversationID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].TempID < out[j].TempID
	})
	return out
}

// Flush resubmits every queued and failed entry for the conversation, in
// creation order, through the given submit function. Entries stay in the
// outbox until acknowledged; a submit error marks the entry failed and the
// flush continues with the rest. Returns the last submit error, if any.
func (ob *outbox) Flush(
	conversationID string, submit func(*OutboxEntry) error) error {
	var lastErr error

	for _, e := range ob.List(conversationID) {
		if e.Status != Queued && e.Status != FailedSend {
			continue
		}

		ob.limiter.Take()
		e.Status = Inflight
		ob.persist()

		if err := submit(e); err != nil {
			jww.WARN.Printf("[CONV] Resubmission of %s failed: %+v",
				e.TempID, err)
			// The entry may have been acknowledged and removed while the
			// submit was in flight.
			if cur, ok := ob.entries[e.TempID]; ok {
				cur.Status = FailedSend
				ob.persist()
			}
			lastErr = errors.Wrapf(err, "failed to resubmit %s", e.TempID)
		}
	}

	return lastErr
}

// persist writes the whole outbox to the KV. Failing to persist means user
// messages can be lost on restart, which the client treats as fatal.
func (ob *outbox) persist() {
	data, err := json.Marshal(ob.entries)
	if err != nil {
		jww.FATAL.Panicf("Failed to marshal pending outbox: %+v", err)
	}

	err = ob.kv.Set(outboxStorageKey, &versioned.Object{
		Version:   outboxStorageVersion,
		Timestamp: netTime.Now(),
		Data:      data,
	})
	if err != nil {
		jww.FATAL.Panicf("Failed to store pending outbox: %+v", err)
	}
}

func (ob *outbox) load() error {
	obj, err := ob.kv.Get(outboxStorageKey, outboxStorageVersion)
	if err != nil {
		return err
	}
	return json.Unmarshal(obj.Data, &ob.entries)
}
