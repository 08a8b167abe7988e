////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package transport provides the two collaborator paths the sync core
// consumes: the websocket event channel and the REST request fallback.
// Connection retry policy lives with the caller; when the channel drops,
// the core routes through REST until reconnected.
package transport

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"nhooyr.io/websocket"

	"gitlab.com/tessera/chatsync/conversation"
	"gitlab.com/tessera/chatsync/stoppable"
)

// Outbound command types.
const (
	cmdSendMessage    = "message.send"
	cmdAddReaction    = "reaction.add"
	cmdRemoveReaction = "reaction.remove"
	cmdMarkRead       = "read.mark"
)

// command is the wire format for client-to-server traffic.
type command struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversationId"`
	Payload        interface{} `json:"payload"`
}

type sendMessagePayload struct {
	TempID   string `json:"clientTempId"`
	Content  string `json:"content"`
	MediaRef string `json:"mediaRef,omitempty"`
	ReplyTo  string `json:"replyTo,omitempty"`
}

type reactionPayload struct {
	MessageID conversation.MessageID `json:"messageId"`
	Kind      string                 `json:"kind"`
}

type readMarkerPayload struct {
	MessageID conversation.MessageID `json:"messageId"`
}

// WSClient is the websocket event channel. Inbound envelopes are dispatched
// to per-conversation listeners in arrival order, preserving the event
// stream ordering the sync core depends on.
type WSClient struct {
	url   string
	token string

	conn      *websocket.Conn
	connected uint32

	mux       sync.RWMutex
	listeners map[string]map[uint64]conversation.Listener
	nextID    uint64

	readDone chan struct{}
}

// NewWSClient returns an unconnected event channel client for the given
// server base URL.
func NewWSClient(serverURL, token string) *WSClient {
	return &WSClient{
		url:       serverURL,
		token:     token,
		listeners: make(map[string]map[uint64]conversation.Listener),
	}
}

// Connect dials the event channel and starts the read loop. The returned
// Stoppable closes the connection and reports once the loop has exited.
func (ws *WSClient) Connect(ctx context.Context) (stoppable.Stoppable, error) {
	wsURL := strings.Replace(ws.url, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/v1/events?token=" + ws.token

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "event channel dial failed")
	}

	ws.conn = conn
	ws.readDone = make(chan struct{})
	atomic.StoreUint32(&ws.connected, 1)

	stop := stoppable.NewSingle("wsEventChannel")
	readCtx, cancel := context.WithCancel(context.Background())
	go ws.readLoop(readCtx)
	go ws.watch(stop, cancel)

	jww.INFO.Printf("[WS] Event channel connected to %s", ws.url)
	return stop, nil
}

// IsConnected implements conversation.Transport.
func (ws *WSClient) IsConnected() bool {
	return atomic.LoadUint32(&ws.connected) == 1
}

// Listen implements conversation.Transport.
func (ws *WSClient) Listen(
	conversationID string, l conversation.Listener) func() {
	ws.mux.Lock()
	defer ws.mux.Unlock()

	id := ws.nextID
	ws.nextID++
	if ws.listeners[conversationID] == nil {
		ws.listeners[conversationID] = make(map[uint64]conversation.Listener)
	}
	ws.listeners[conversationID][id] = l

	return func() {
		ws.mux.Lock()
		defer ws.mux.Unlock()
		delete(ws.listeners[conversationID], id)
	}
}

// SendMessage implements conversation.Transport.
func (ws *WSClient) SendMessage(ctx context.Context, conversationID,
	tempID string, p conversation.SendPayload) error {
	return ws.write(ctx, command{
		Type:           cmdSendMessage,
		ConversationID: conversationID,
		Payload: sendMessagePayload{
			TempID:   tempID,
			Content:  p.Content,
			MediaRef: p.MediaRef,
			ReplyTo:  p.ReplyTo,
		},
	})
}

// SendReaction implements conversation.Transport.
func (ws *WSClient) SendReaction(ctx context.Context, conversationID string,
	messageID conversation.MessageID, kind string, add bool) error {
	cmdType := cmdRemoveReaction
	if add {
		cmdType = cmdAddReaction
	}
	return ws.write(ctx, command{
		Type:           cmdType,
		ConversationID: conversationID,
		Payload:        reactionPayload{MessageID: messageID, Kind: kind},
	})
}

// SendReadMarker implements conversation.Transport.
func (ws *WSClient) SendReadMarker(ctx context.Context,
	conversationID string, messageID conversation.MessageID) error {
	return ws.write(ctx, command{
		Type:           cmdMarkRead,
		ConversationID: conversationID,
		Payload:        readMarkerPayload{MessageID: messageID},
	})
}

func (ws *WSClient) write(ctx context.Context, cmd command) error {
	if !ws.IsConnected() {
		return conversation.ErrNotConnected
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to marshal command")
	}
	if err = ws.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return errors.Wrapf(err, "failed to write %s command", cmd.Type)
	}
	return nil
}

// readLoop decodes envelopes until the connection drops or is closed.
func (ws *WSClient) readLoop(ctx context.Context) {
	defer close(ws.readDone)

	for {
		_, data, err := ws.conn.Read(ctx)
		if err != nil {
			atomic.StoreUint32(&ws.connected, 0)
			jww.WARN.Printf("[WS] Event channel read ended: %v", err)
			return
		}

		var env conversation.Envelope
		if err = json.Unmarshal(data, &env); err != nil {
			jww.WARN.Printf("[WS] Undecodable envelope dropped: %+v", err)
			continue
		}
		ws.dispatch(env)
	}
}

// dispatch delivers one envelope to the listeners of its conversation,
// inline on the read loop so per-conversation ordering is preserved.
func (ws *WSClient) dispatch(env conversation.Envelope) {
	ws.mux.RLock()
	defer ws.mux.RUnlock()

	ls := ws.listeners[env.ConversationID]
	if len(ls) == 0 {
		jww.TRACE.Printf("[WS] No listener for conversation %q; %s event "+
			"dropped", env.ConversationID, env.Type)
		return
	}
	for _, l := range ls {
		l.Receive(env)
	}
}

// watch ties the Stoppable to the connection lifetime.
func (ws *WSClient) watch(stop *stoppable.Single, cancel context.CancelFunc) {
	<-stop.Quit()

	atomic.StoreUint32(&ws.connected, 0)
	cancel()
	_ = ws.conn.Close(websocket.StatusNormalClosure, "client closing")
	<-ws.readDone
	stop.ToStopped()
}
