////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package conversation keeps a single conversation's message list consistent
// and correctly ordered while messages arrive from three independent,
// unordered sources: the push event channel, paginated history backfill, and
// the local user's own optimistic sends. It also derives per-user last-read
// markers and per-message reaction tallies from out-of-band events.
//
// One Manager instance owns all mutable state for one open conversation.
// Every mutation is funneled through a single ordered task queue, so
// handlers never interleave their read-modify-write sequences. Multiple open
// conversations are fully independent.
package conversation

import "context"

// Listener receives inbound event-channel traffic for one conversation. The
// Manager implements it; the transport delivers to it.
type Listener interface {
	Receive(env Envelope)
}

// Transport is the push/event channel. It is an external collaborator;
// connection establishment and retry are outside this package.
type Transport interface {
	// IsConnected reports whether the event channel is currently healthy.
	// When it is not, the Manager falls back to the Requestor.
	IsConnected() bool

	// Listen registers the listener for a conversation's events. The
	// returned function unregisters it.
	Listen(conversationID string, l Listener) func()

	// SendMessage submits an outgoing message. The acknowledgment arrives
	// later as an EventMessageAcknowledged envelope.
	SendMessage(ctx context.Context, conversationID, tempID string,
		p SendPayload) error

	// SendReaction submits a reaction toggle intent.
	SendReaction(ctx context.Context, conversationID string,
		messageID MessageID, kind string, add bool) error

	// SendReadMarker reports that the local user read up to the given
	// message.
	SendReadMarker(ctx context.Context, conversationID string,
		messageID MessageID) error
}

// Requestor is the synchronous request path used when the event channel is
// unavailable.
type Requestor interface {
	// SendMessage submits an outgoing message and returns its canonical
	// form.
	SendMessage(ctx context.Context, conversationID, tempID string,
		p SendPayload) (*Message, error)

	AddReaction(ctx context.Context, messageID MessageID, kind string) error
	RemoveReaction(ctx context.Context, messageID MessageID,
		kind string) error
	MarkRead(ctx context.Context, messageID MessageID) error
}

// HistoryResponse is one page of conversation history. Page numbering is
// 1-based, ascending from oldest. Whether pages remain is derived from the
// page number and the total, never taken from the response.
type HistoryResponse struct {
	Messages   []*Message `json:"messages"`
	TotalCount int        `json:"totalCount"`
}

// History is the paged history endpoint consumed by the pagination
// controller.
type History interface {
	FetchPage(ctx context.Context, conversationID string, page,
		pageSize int) (*HistoryResponse, error)
}

// UpdateCallback notifies the presentation layer that the merged view
// changed. It is called off the Manager's task queue; implementations read
// fresh state through the Manager's snapshot accessors.
type UpdateCallback func()
