////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// testMessage builds a confirmed message with a timestamp offset from the
// shared epoch by id minutes, so canonical order matches ID order.
func testMessage(id MessageID, sender, content string) *Message {
	return &Message{
		ID:             id,
		ConversationID: "conv-1",
		SenderID:       sender,
		Content:        content,
		CreatedAt:      testEpoch.Add(time.Duration(id) * time.Minute),
	}
}

// testHistory serves pages out of an ascending in-memory message list.
type testHistory struct {
	sync.Mutex
	msgs []*Message

	// totalOverride, when nonzero, is reported instead of len(msgs) so tests
	// can make the count probe and the page fetch disagree.
	totalOverride int

	// noPaginate makes every fetch return the entire history regardless of
	// the requested page, imitating a server that ignores paging parameters.
	noPaginate bool

	failNext bool
	fetches  []int
}

func (h *testHistory) FetchPage(_ context.Context, _ string, page,
	pageSize int) (*HistoryResponse, error) {
	h.Lock()
	defer h.Unlock()

	if h.failNext {
		h.failNext = false
		return nil, errors.New("history unavailable")
	}
	h.fetches = append(h.fetches, page)

	total := len(h.msgs)
	if h.totalOverride != 0 {
		total = h.totalOverride
	}

	if h.noPaginate {
		return &HistoryResponse{Messages: h.msgs, TotalCount: total}, nil
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(h.msgs) {
		start = len(h.msgs)
	}
	if end > len(h.msgs) {
		end = len(h.msgs)
	}

	return &HistoryResponse{
		Messages:   h.msgs[start:end],
		TotalCount: total,
	}, nil
}

type sentRecord struct {
	tempID  string
	payload SendPayload
}

// testTransport is an in-memory event channel that records every outbound
// command and lets tests deliver inbound envelopes to the registered
// listener.
type testTransport struct {
	sync.Mutex
	connected bool
	sendErr   error

	listener Listener

	sent        []sentRecord
	reactions   []string
	readMarkers []MessageID
}

func (tr *testTransport) IsConnected() bool {
	tr.Lock()
	defer tr.Unlock()
	return tr.connected
}

func (tr *testTransport) Listen(_ string, l Listener) func() {
	tr.Lock()
	defer tr.Unlock()
	tr.listener = l
	return func() {
		tr.Lock()
		defer tr.Unlock()
		tr.listener = nil
	}
}

func (tr *testTransport) SendMessage(
	_ context.Context, _, tempID string, p SendPayload) error {
	tr.Lock()
	defer tr.Unlock()
	if tr.sendErr != nil {
		return tr.sendErr
	}
	tr.sent = append(tr.sent, sentRecord{tempID: tempID, payload: p})
	return nil
}

func (tr *testTransport) SendReaction(_ context.Context, _ string,
	messageID MessageID, kind string, add bool) error {
	tr.Lock()
	defer tr.Unlock()
	tr.reactions = append(tr.reactions,
		fmt.Sprintf("%s/%s/%t", messageID, kind, add))
	return nil
}

func (tr *testTransport) SendReadMarker(
	_ context.Context, _ string, messageID MessageID) error {
	tr.Lock()
	defer tr.Unlock()
	tr.readMarkers = append(tr.readMarkers, messageID)
	return nil
}

// deliver pushes an inbound envelope through the registered listener, the way
// the websocket read loop would.
func (tr *testTransport) deliver(env Envelope) {
	tr.Lock()
	l := tr.listener
	tr.Unlock()
	if l != nil {
		l.Receive(env)
	}
}

func (tr *testTransport) sentCount() int {
	tr.Lock()
	defer tr.Unlock()
	return len(tr.sent)
}

// testRequestor is the synchronous request path. SendMessage assigns
// canonical IDs from nextID upward.
type testRequestor struct {
	sync.Mutex
	nextID  MessageID
	sendErr error

	sent        []sentRecord
	reactionOps []string
	readMarkers []MessageID
}

func (rq *testRequestor) SendMessage(_ context.Context,
	conversationID, tempID string, p SendPayload) (*Message, error) {
	rq.Lock()
	defer rq.Unlock()
	if rq.sendErr != nil {
		return nil, rq.sendErr
	}

	id := rq.nextID
	rq.nextID++
	rq.sent = append(rq.sent, sentRecord{tempID: tempID, payload: p})

	return &Message{
		ID:             id,
		TempID:         tempID,
		ConversationID: conversationID,
		SenderID:       "self",
		Content:        p.Content,
		MediaRef:       p.MediaRef,
		ReplyTo:        p.ReplyTo,
		CreatedAt:      testEpoch.Add(time.Duration(id) * time.Minute),
	}, nil
}

func (rq *testRequestor) AddReaction(
	_ context.Context, messageID MessageID, kind string) error {
	rq.Lock()
	defer rq.Unlock()
	rq.reactionOps = append(rq.reactionOps, "add/"+kind)
	return nil
}

func (rq *testRequestor) RemoveReaction(
	_ context.Context, messageID MessageID, kind string) error {
	rq.Lock()
	defer rq.Unlock()
	rq.reactionOps = append(rq.reactionOps, "remove/"+kind)
	return nil
}

func (rq *testRequestor) MarkRead(
	_ context.Context, messageID MessageID) error {
	rq.Lock()
	defer rq.Unlock()
	rq.readMarkers = append(rq.readMarkers, messageID)
	return nil
}
