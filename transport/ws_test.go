////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"gitlab.com/tessera/chatsync/conversation"
	"gitlab.com/tessera/chatsync/stoppable"
)

// recordingListener collects delivered envelopes.
type recordingListener struct {
	sync.Mutex
	got []conversation.Envelope
}

func (rl *recordingListener) Receive(env conversation.Envelope) {
	rl.Lock()
	defer rl.Unlock()
	rl.got = append(rl.got, env)
}

func (rl *recordingListener) count() int {
	rl.Lock()
	defer rl.Unlock()
	return len(rl.got)
}

// Tests that dispatch routes an envelope to every listener of its
// conversation and nowhere else, and that the unregister closure works.
func TestWSClient_Dispatch(t *testing.T) {
	ws := NewWSClient("http://chat.test", "")

	a1 := &recordingListener{}
	a2 := &recordingListener{}
	b := &recordingListener{}
	unregister := ws.Listen("conv-a", a1)
	ws.Listen("conv-a", a2)
	ws.Listen("conv-b", b)

	env := conversation.Envelope{
		Type:           conversation.EventMessageRead,
		ConversationID: "conv-a",
		Payload:        json.RawMessage(`{}`),
	}
	ws.dispatch(env)

	require.Equal(t, 1, a1.count())
	require.Equal(t, 1, a2.count())
	require.Zero(t, b.count())

	unregister()
	ws.dispatch(env)
	require.Equal(t, 1, a1.count())
	require.Equal(t, 2, a2.count())
}

// Tests that outbound commands are rejected while disconnected.
func TestWSClient_Write_NotConnected(t *testing.T) {
	ws := NewWSClient("http://chat.test", "")

	err := ws.SendMessage(context.Background(), "conv-1", "tmp-1",
		conversation.SendPayload{Content: "hi"})
	require.ErrorIs(t, err, conversation.ErrNotConnected)

	err = ws.SendReadMarker(context.Background(), "conv-1", 4)
	require.ErrorIs(t, err, conversation.ErrNotConnected)
}

// Tests the full round trip against an in-process websocket server: connect,
// receive a pushed envelope, send a command, then tear down cleanly.
func TestWSClient_RoundTrip(t *testing.T) {
	received := make(chan []byte, 1)
	push, err := json.Marshal(conversation.Envelope{
		Type:           conversation.EventMessageReceived,
		ConversationID: "conv-1",
		Payload:        json.RawMessage(`{"id":7}`),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			c, acceptErr := websocket.Accept(w, r, nil)
			if acceptErr != nil {
				return
			}
			defer c.Close(websocket.StatusNormalClosure, "")

			if writeErr := c.Write(
				r.Context(), websocket.MessageText, push); writeErr != nil {
				return
			}

			_, data, readErr := c.Read(r.Context())
			if readErr != nil {
				return
			}
			received <- data

			// Hold the connection until the client closes it.
			_, _, _ = c.Read(r.Context())
		}))
	defer srv.Close()

	ws := NewWSClient(srv.URL, "secret")
	listener := &recordingListener{}
	ws.Listen("conv-1", listener)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stop, err := ws.Connect(ctx)
	require.NoError(t, err)
	require.True(t, ws.IsConnected())

	require.Eventually(t, func() bool { return listener.count() == 1 },
		2*time.Second, 10*time.Millisecond)
	listener.Lock()
	require.Equal(t, conversation.EventMessageReceived, listener.got[0].Type)
	listener.Unlock()

	err = ws.SendMessage(ctx, "conv-1", "tmp-1",
		conversation.SendPayload{Content: "hello"})
	require.NoError(t, err)

	select {
	case data := <-received:
		var cmd command
		require.NoError(t, json.Unmarshal(data, &cmd))
		require.Equal(t, cmdSendMessage, cmd.Type)
		require.Equal(t, "conv-1", cmd.ConversationID)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the command")
	}

	require.NoError(t, stop.Close())
	require.True(t, stoppable.WaitForStopped(stop, 5*time.Second))
	require.False(t, ws.IsConnected())
}
