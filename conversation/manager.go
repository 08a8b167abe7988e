////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/tessera/chatsync/stoppable"
	"gitlab.com/tessera/chatsync/storage/versioned"
)

// Capacity of the per-conversation task queue. Event bursts beyond this
// block the transport's delivery goroutine instead of being dropped.
const cmdQueueLen = 256

// Params configures a Manager.
type Params struct {
	ConversationID string
	UserID         string

	// PageSize is the backfill window size.
	PageSize int

	// CloseTimeout bounds how long Close waits for the teardown flush
	// before letting it continue detached.
	CloseTimeout time.Duration
}

// DefaultParams returns the recommended defaults.
func DefaultParams() Params {
	return Params{
		PageSize:     50,
		CloseTimeout: 5 * time.Second,
	}
}

// Manager is the composition point for one open conversation. It owns the
// message store, the pending outbox, the read-state tracker, and the
// reaction table; nothing else mutates them. Every mutation — push events,
// pagination results, sends, toggles — runs on a single task queue, so
// read-modify-write sequences never interleave.
type Manager struct {
	params Params

	store     *messageStore
	outbox    *outbox
	reads     *readTracker
	reactions *reactionTable
	pager     *paginator

	net  Transport
	rest Requestor

	onUpdate UpdateCallback

	cmds chan func()
	stop *stoppable.Single

	// closedMux orders queue submissions against Close: once Close flips
	// closed, nothing new can land behind the drained teardown flush.
	closedMux sync.RWMutex
	closed    bool

	unlisten func()

	moreHistory bool
}

// NewManager creates a Manager for one conversation. All durable state lands
// under the conversation's prefix of the given KV.
func NewManager(params Params, kv *versioned.KV, net Transport,
	rest Requestor, history History, onUpdate UpdateCallback) *Manager {
	if params.PageSize <= 0 {
		params.PageSize = DefaultParams().PageSize
	}
	if params.CloseTimeout <= 0 {
		params.CloseTimeout = DefaultParams().CloseTimeout
	}

	kv = kv.Prefix(versioned.MakeConversationPrefix(params.ConversationID))

	return &Manager{
		params:    params,
		store:     newMessageStore(),
		outbox:    newOutbox(kv),
		reads:     newReadTracker(),
		reactions: newReactionTable(),
		pager: newPaginator(
			history, params.ConversationID, params.PageSize),
		net:      net,
		rest:     rest,
		onUpdate: onUpdate,
		cmds:     make(chan func(), cmdQueueLen),
	}
}

// StartProcesses registers for transport events and launches the task
// queue. The returned Stoppable reports when the queue has drained after
// Close.
func (m *Manager) StartProcesses() (stoppable.Stoppable, error) {
	if m.stop != nil {
		return nil, errors.New("conversation manager already started")
	}

	m.stop = stoppable.NewSingle(
		"conversationSync-" + m.params.ConversationID)
	m.unlisten = m.net.Listen(m.params.ConversationID, m)
	go m.process(m.stop)
	return m.stop, nil
}

// process is the single consumer of the task queue. On quit it drains every
// queued task, the teardown flush included, before reporting stopped.
func (m *Manager) process(stop *stoppable.Single) {
	jww.DEBUG.Printf("[CONV] Task queue for %s started",
		m.params.ConversationID)
	for {
		select {
		case f := <-m.cmds:
			f()
		case <-stop.Quit():
			for {
				select {
				case f := <-m.cmds:
					f()
				default:
					jww.DEBUG.Printf("[CONV] Task queue for %s stopped",
						m.params.ConversationID)
					stop.ToStopped()
					return
				}
			}
		}
	}
}

// do runs f on the task queue and waits for it to finish.
func (m *Manager) do(f func()) error {
	done := make(chan struct{})

	m.closedMux.RLock()
	if m.closed {
		m.closedMux.RUnlock()
		return ErrClosed
	}
	m.cmds <- func() {
		f()
		close(done)
	}
	m.closedMux.RUnlock()

	<-done
	return nil
}

// Receive implements Listener. Events are queued behind whatever bulk load
// is in progress, which is what makes the chronological bulk walk safe.
func (m *Manager) Receive(env Envelope) {
	m.closedMux.RLock()
	defer m.closedMux.RUnlock()
	if m.closed {
		jww.TRACE.Printf("[CONV] Dropping %s event after close", env.Type)
		return
	}
	m.cmds <- func() { m.handleEnvelope(env) }
}

// Open performs the newest-first initial load, restores optimistic entries
// from the durable outbox, and resubmits them.
func (m *Manager) Open(ctx context.Context) error {
	var err error
	if doErr := m.do(func() { err = m.openLocked(ctx) }); doErr != nil {
		return doErr
	}
	return err
}

func (m *Manager) openLocked(ctx context.Context) error {
	res, err := m.pager.LoadInitial(ctx)
	if err != nil {
		return errors.Wrap(err, "initial load failed")
	}
	m.mergePage(res.Messages)
	m.moreHistory = res.HasMore

	// Reconstruct the optimistic view of sends that never got acknowledged,
	// then resubmit them. Losing these would lose user-authored messages.
	for _, e := range m.outbox.List(m.params.ConversationID) {
		m.store.Insert(&Message{
			TempID:         e.TempID,
			ConversationID: e.ConversationID,
			SenderID:       m.params.UserID,
			Content:        e.Payload.Content,
			MediaRef:       e.Payload.MediaRef,
			ReplyTo:        e.Payload.ReplyTo,
			CreatedAt:      e.CreatedAt,
			Status:         Pending,
		})
	}
	if err = m.flushLocked(ctx); err != nil {
		jww.WARN.Printf("[CONV] Flush on open incomplete: %+v", err)
	}

	m.notify()
	return nil
}

// LoadOlder backfills one older page and re-merges it, so a message that
// arrived live while paging is never duplicated or lost. Returns whether
// more history remains.
func (m *Manager) LoadOlder(ctx context.Context) (bool, error) {
	var (
		hasMore bool
		err     error
	)
	doErr := m.do(func() {
		var res *PageResult
		res, err = m.pager.LoadOlder(ctx)
		if err != nil {
			return
		}
		m.mergePage(res.Messages)
		m.moreHistory = res.HasMore
		hasMore = res.HasMore
		m.notify()
	})
	if doErr != nil {
		return false, doErr
	}
	return hasMore, err
}

// Send enqueues an optimistic message, inserts it into the view, and
// submits it over the event channel or, when disconnected, the request
// path. The returned temp ID identifies the message until acknowledgment.
// A submission error leaves the message queued with a Failed state; the
// next flush retries it.
func (m *Manager) Send(ctx context.Context, p SendPayload) (string, error) {
	var (
		tempID string
		err    error
	)
	if doErr := m.do(func() {
		tempID, err = m.sendLocked(ctx, p)
	}); doErr != nil {
		return "", doErr
	}
	return tempID, err
}

func (m *Manager) sendLocked(ctx context.Context, p SendPayload) (
	string, error) {
	tempID := m.outbox.Enqueue(m.params.ConversationID, p)
	m.store.Insert(&Message{
		TempID:         tempID,
		ConversationID: m.params.ConversationID,
		SenderID:       m.params.UserID,
		Content:        p.Content,
		MediaRef:       p.MediaRef,
		ReplyTo:        p.ReplyTo,
		CreatedAt:      netTime.Now(),
		Status:         Pending,
	})
	m.notify()

	e, _ := m.outbox.Get(tempID)
	if err := m.submit(ctx, e); err != nil {
		m.outbox.MarkFailed(tempID)
		m.store.SetStatus(tempKeyPrefix+tempID, Failed)
		m.notify()
		return tempID, errors.Wrap(err, "send submission failed")
	}
	return tempID, nil
}

// submit hands one outbox entry to the event channel, or to the request
// path when the channel is down. The request path acknowledges inline.
func (m *Manager) submit(ctx context.Context, e *OutboxEntry) error {
	m.outbox.MarkInflight(e.TempID)

	if m.net.IsConnected() {
		return m.net.SendMessage(
			ctx, m.params.ConversationID, e.TempID, e.Payload)
	}

	msg, err := m.rest.SendMessage(
		ctx, m.params.ConversationID, e.TempID, e.Payload)
	if err != nil {
		return err
	}
	m.applyAck(e.TempID, msg)
	return nil
}

// applyAck reconciles an acknowledgment with the outbox and the store. An
// acknowledgment naming an unknown temp ID is dropped silently; it occurs
// when a rejection cleared the entry first or the acknowledgment is a
// duplicate.
func (m *Manager) applyAck(tempID string, canonical *Message) {
	if canonical == nil || canonical.ID == 0 {
		jww.WARN.Printf("[CONV] Acknowledgment for %q carries no canonical "+
			"ID; dropped", tempID)
		return
	}
	canonical.Status = Confirmed

	if !m.outbox.Acknowledge(tempID) {
		jww.DEBUG.Printf("[CONV] Acknowledgment for unknown send %q dropped",
			tempID)
		return
	}

	if !m.store.Promote(tempID, canonical) {
		// The push copy won the slot first; make sure the canonical fields
		// are present, then treat the rest as redundant.
		m.store.Insert(canonical)
	}
}

// ToggleReaction optimistically flips the local user's reaction and sends
// the intent upstream. The authoritative broadcast that follows fully
// replaces the local map, which resolves any concurrent toggles.
func (m *Manager) ToggleReaction(
	ctx context.Context, msgID MessageID, kind string) error {
	var err error
	if doErr := m.do(func() {
		err = m.toggleLocked(ctx, msgID, kind)
	}); doErr != nil {
		return doErr
	}
	return err
}

func (m *Manager) toggleLocked(
	ctx context.Context, msgID MessageID, kind string) error {
	if _, ok := m.store.Get(idKeyPrefix + msgID.String()); !ok {
		return ErrUnknownMessage
	}

	added, err := m.reactions.Toggle(msgID, m.params.UserID, kind)
	if err != nil {
		return err
	}
	m.notify()

	if m.net.IsConnected() {
		return m.net.SendReaction(
			ctx, m.params.ConversationID, msgID, kind, added)
	}
	if added {
		return m.rest.AddReaction(ctx, msgID, kind)
	}
	return m.rest.RemoveReaction(ctx, msgID, kind)
}

// MarkReadUpTo records that the local user read up to the given message and
// reports it upstream. The local marker moves through the same monotonic
// path as remote events.
func (m *Manager) MarkReadUpTo(ctx context.Context, msgID MessageID) error {
	var err error
	if doErr := m.do(func() {
		if m.reads.ApplyEvent(m.params.UserID, msgID, netTime.Now()) {
			m.notify()
		}
		if m.net.IsConnected() {
			err = m.net.SendReadMarker(
				ctx, m.params.ConversationID, msgID)
		} else {
			err = m.rest.MarkRead(ctx, msgID)
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// DiscardFailed removes a rejected send: the outbox entry and the
// optimistic message both go away. This is the only path that deletes a
// pending message instead of promoting it.
func (m *Manager) DiscardFailed(tempID string) error {
	var err error
	if doErr := m.do(func() {
		m.outbox.Reject(tempID)
		if !m.store.Remove(tempKeyPrefix + tempID) {
			err = ErrUnknownMessage
			return
		}
		m.notify()
	}); doErr != nil {
		return doErr
	}
	return err
}

// Close flushes the outbox and tears the Manager down. The flush is awaited
// up to CloseTimeout; past that it continues detached, because silently
// dropping a user-authored message is a correctness bug, not an acceptable
// edge case.
func (m *Manager) Close() error {
	m.closedMux.Lock()
	if m.closed {
		m.closedMux.Unlock()
		return ErrClosed
	}
	m.closed = true

	if m.unlisten != nil {
		m.unlisten()
	}

	// Never started: there is no task queue running to flush or drain.
	if m.stop == nil {
		m.closedMux.Unlock()
		return nil
	}

	done := make(chan struct{})
	m.cmds <- func() {
		if err := m.flushLocked(context.Background()); err != nil {
			jww.WARN.Printf("[CONV] Teardown flush incomplete: %+v", err)
		}
		close(done)
	}
	if err := m.stop.Close(); err != nil {
		jww.WARN.Printf("[CONV] %+v", err)
	}
	m.closedMux.Unlock()

	select {
	case <-done:
	case <-time.After(m.params.CloseTimeout):
		jww.WARN.Printf("[CONV] Teardown flush for %s still running after "+
			"%s; continuing in background", m.params.ConversationID,
			m.params.CloseTimeout)
	}
	return nil
}

func (m *Manager) flushLocked(ctx context.Context) error {
	return m.outbox.Flush(m.params.ConversationID,
		func(e *OutboxEntry) error {
			return m.submit(ctx, e)
		})
}

// handleEnvelope applies one inbound event. A malformed event never
// invalidates the rest of the view; failures are scoped to the single
// message they name.
func (m *Manager) handleEnvelope(env Envelope) {
	switch env.Type {
	case EventMessageReceived:
		var msg Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			jww.WARN.Printf("[CONV] Undecodable %s payload: %+v",
				env.Type, err)
			return
		}
		m.handleMessageReceived(&msg)

	case EventMessageAcknowledged:
		var p AckPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			jww.WARN.Printf("[CONV] Undecodable %s payload: %+v",
				env.Type, err)
			return
		}
		m.applyAck(p.TempID, p.Message)
		m.notify()

	case EventMessageSendFailed:
		var p SendFailedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			jww.WARN.Printf("[CONV] Undecodable %s payload: %+v",
				env.Type, err)
			return
		}
		if !m.outbox.MarkFailed(p.TempID) {
			jww.DEBUG.Printf("[CONV] Rejection for unknown send %q",
				p.TempID)
		}
		m.store.SetStatus(tempKeyPrefix+p.TempID, Failed)
		m.notify()

	case EventMessageRead:
		var p ReadPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			jww.WARN.Printf("[CONV] Undecodable %s payload: %+v",
				env.Type, err)
			return
		}
		if m.reads.ApplyEvent(p.UserID, p.MessageID, p.ReadAt) {
			m.notify()
		}

	case EventReactionChanged:
		var p ReactionPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			jww.WARN.Printf("[CONV] Undecodable %s payload: %+v",
				env.Type, err)
			return
		}
		m.reactions.Replace(p.MessageID, p.Reactions)
		m.notify()

	case EventMessageRecalled:
		var msg Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			jww.WARN.Printf("[CONV] Undecodable %s payload: %+v",
				env.Type, err)
			return
		}
		if m.store.Recall(&msg) {
			m.notify()
		}

	default:
		jww.WARN.Printf("[CONV] Unknown event type %q dropped", env.Type)
	}
}

func (m *Manager) handleMessageReceived(msg *Message) {
	if err := msg.validate(); err != nil {
		jww.WARN.Printf("[CONV] Dropping malformed %s event: %+v",
			EventMessageReceived, err)
		return
	}
	if msg.ID != 0 {
		msg.Status = Confirmed
	}

	// A push copy of our own send doubles as its acknowledgment; whichever
	// arrives first wins the slot and the other is redundant.
	if msg.TempID != "" && m.outbox.Acknowledge(msg.TempID) {
		jww.DEBUG.Printf("[CONV] Send %q confirmed by push delivery",
			msg.TempID)
	}

	if m.store.Insert(msg) > 0 {
		if msg.ID != 0 && len(msg.Reactions) > 0 {
			m.reactions.Replace(msg.ID, msg.Reactions)
		}
		m.notify()
	}
}

// mergePage folds one history page into the store and re-derives the views
// that bulk data feeds: inline reactions and the chronological read-state
// walk over the merged sequence.
func (m *Manager) mergePage(msgs []*Message) {
	for _, msg := range msgs {
		if msg.ID != 0 {
			msg.Status = Confirmed
			if len(msg.Reactions) > 0 {
				m.reactions.Replace(msg.ID, msg.Reactions)
			}
		}
	}
	m.store.Insert(msgs...)
	m.reads.ApplyBulk(m.store.ascending())
}

func (m *Manager) notify() {
	if m.onUpdate != nil {
		go m.onUpdate()
	}
}

// Messages returns the ordered, read-only snapshot of the conversation with
// reaction summaries attached.
func (m *Manager) Messages() []Message {
	var out []Message
	if err := m.do(func() {
		out = m.store.Snapshot()
		for i := range out {
			if out[i].ID != 0 {
				out[i].Reactions = m.reactions.Summary(out[i].ID)
			}
		}
	}); err != nil {
		return nil
	}
	return out
}

// LastRead returns the last-read marker for one participant.
func (m *Manager) LastRead(userID string) (ReadState, bool) {
	var (
		rs ReadState
		ok bool
	)
	if err := m.do(func() {
		rs, ok = m.reads.LastRead(userID)
	}); err != nil {
		return ReadState{}, false
	}
	return rs, ok
}

// ReadStates returns all last-read markers.
func (m *Manager) ReadStates() map[string]ReadState {
	var out map[string]ReadState
	if err := m.do(func() { out = m.reads.Snapshot() }); err != nil {
		return nil
	}
	return out
}

// Reactions returns the reaction summary for one message.
func (m *Manager) Reactions(msgID MessageID) map[string][]string {
	var out map[string][]string
	if err := m.do(func() { out = m.reactions.Summary(msgID) }); err != nil {
		return nil
	}
	return out
}

// HasMoreHistory reports whether older pages remain to backfill.
func (m *Manager) HasMoreHistory() bool {
	var more bool
	if err := m.do(func() { more = m.moreHistory }); err != nil {
		return false
	}
	return more
}
