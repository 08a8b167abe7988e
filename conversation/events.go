////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"encoding/json"
	"time"
)

// Inbound event types delivered by the event channel.
const (
	// EventMessageReceived carries a new Message, possibly with a
	// clientTempId for correlation with an optimistic send.
	EventMessageReceived = "message.received"

	// EventMessageAcknowledged confirms an optimistic send with its
	// canonical fields.
	EventMessageAcknowledged = "message.acknowledged"

	// EventMessageSendFailed is the explicit rejection of an optimistic
	// send.
	EventMessageSendFailed = "message.failed"

	// EventMessageRead reports one user reading one message.
	EventMessageRead = "message.read"

	// EventReactionChanged is an authoritative full replacement of a
	// message's reaction map, not a delta.
	EventReactionChanged = "reaction.changed"

	// EventMessageRecalled replaces a message's content with a tombstoned
	// version.
	EventMessageRecalled = "message.recalled"
)

// Envelope is the wire format for all event-channel traffic.
type Envelope struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId"`
	Payload        json.RawMessage `json:"payload"`
}

// AckPayload is the body of an EventMessageAcknowledged envelope.
type AckPayload struct {
	TempID  string   `json:"clientTempId"`
	Message *Message `json:"message"`
}

// SendFailedPayload is the body of an EventMessageSendFailed envelope.
type SendFailedPayload struct {
	TempID string `json:"clientTempId"`
}

// ReadPayload is the body of an EventMessageRead envelope.
type ReadPayload struct {
	UserID    string    `json:"userId"`
	MessageID MessageID `json:"messageId"`
	ReadAt    time.Time `json:"readAt"`
}

// ReactionPayload is the body of an EventReactionChanged envelope.
type ReactionPayload struct {
	MessageID MessageID           `json:"messageId"`
	Reactions map[string][]string `json:"reactions"`
}
