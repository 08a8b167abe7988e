////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"strconv"
	"time"
)

// MessageID is the canonical identifier assigned by the authoritative store.
// Zero means the message has not been acknowledged yet.
type MessageID int64

// String adheres to the fmt.Stringer interface.
func (mid MessageID) String() string {
	return strconv.FormatInt(int64(mid), 10)
}

// ReadReceipt is a single {user, time} read marker reported inline by bulk
// history loads.
type ReadReceipt struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Message is one conversation entry. The same struct is used on the wire
// (event channel payloads and history pages) and in the store.
type Message struct {
	// ID is assigned by the authoritative store; zero on a message that has
	// been sent but not yet acknowledged.
	ID MessageID `json:"id,omitempty"`

	// TempID is the client-generated correlation key. It is present on every
	// message this client originates and is used to match a later canonical
	// ID back to the optimistic entry that produced it.
	TempID string `json:"clientTempId,omitempty"`

	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`

	// Content may be empty when the message is media-only.
	Content  string `json:"content"`
	MediaRef string `json:"mediaRef,omitempty"`

	// ReplyTo is a back-reference to another message, by canonical ID or by
	// temp ID when the referenced message was itself optimistic.
	ReplyTo string `json:"replyTo,omitempty"`

	// CreatedAt is client-assigned at creation for optimistic entries and
	// server-assigned once acknowledged.
	CreatedAt time.Time `json:"createdAt"`

	// Reactions maps reaction kind to the users who reacted. Bulk loads
	// carry it inline; live updates arrive as full replacements.
	Reactions map[string][]string `json:"reactions,omitempty"`

	// ReadBy carries inline read markers on bulk loads only.
	ReadBy []ReadReceipt `json:"readBy,omitempty"`

	Pinned  bool `json:"isPinned,omitempty"`
	Deleted bool `json:"isDeleted,omitempty"`

	// Status is local bookkeeping, never serialized.
	Status SentStatus `json:"-"`
}

// Dedup key prefixes. A canonical ID and a temp ID can never collide because
// the key space is partitioned.
const (
	idKeyPrefix   = "id:"
	tempKeyPrefix = "tmp:"
)

// Key returns the dedup key for the message: the canonical ID when present,
// else the client temp ID.
func (m *Message) Key() string {
	if m.ID != 0 {
		return m.idKey()
	}
	return m.tempKey()
}

func (m *Message) idKey() string {
	return idKeyPrefix + m.ID.String()
}

func (m *Message) tempKey() string {
	return tempKeyPrefix + m.TempID
}

// validate rejects partially-formed transport payloads: a message whose
// sender, content, and media reference are all empty, or whose timestamp is
// unusable. This is a defensive check, not a normal flow.
func (m *Message) validate() error {
	if m.SenderID == "" && m.Content == "" && m.MediaRef == "" {
		return ErrMalformedMessage
	}
	if m.CreatedAt.IsZero() {
		return ErrMalformedMessage
	}
	return nil
}

// before reports whether m sorts ahead of other: non-decreasing CreatedAt
// with canonical ID as the tiebreak for equal timestamps.
func (m *Message) before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}
