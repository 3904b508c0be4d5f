package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/itiky/collaborate-doc/model"
)

// socketServer sends the document on connect and forwards received messages to the returned channel.
func socketServer(t *testing.T, doc string) (*httptest.Server, chan []byte, chan *websocket.Conn) {
	received := make(chan []byte, 8)
	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		if err := ws.WriteMessage(websocket.TextMessage, []byte(doc)); err != nil {
			return
		}
		conns <- ws

		for {
			_, message, err := ws.ReadMessage()
			if err != nil {
				return
			}
			received <- message
		}
	}))

	return server, received, conns
}

func Test_SocketTransport_Exchange(t *testing.T) {
	server, received, conns := socketServer(t, `{"val": 100}`)
	defer server.Close()

	tr, err := NewSocketTransport(context.Background(), server.URL, "session-1", nil)
	require.NoError(t, err)
	defer tr.Close()

	require.ErrorIs(t, tr.SendPatch([]byte(`[]`)), model.ErrNotConnected)

	require.NoError(t, tr.Connect())
	msg := nextMessage(t, tr)
	require.Equal(t, MessageDocument, msg.Kind)
	require.JSONEq(t, `{"val": 100}`, string(msg.Data))

	ws := <-conns
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`[{"op":"replace","path":"/val","value":1}]`)))
	msg = nextMessage(t, tr)
	require.Equal(t, MessagePatch, msg.Kind)
	require.Equal(t, `[{"op":"replace","path":"/val","value":1}]`, string(msg.Data))

	require.NoError(t, tr.SendPatch([]byte(`[{"op":"add","path":"/x","value":2}]`)))
	require.Equal(t, MessageAck, nextMessage(t, tr).Kind)
	select {
	case data := <-received:
		require.Equal(t, `[{"op":"add","path":"/x","value":2}]`, string(data))
	case <-time.After(5 * time.Second):
		require.FailNow(t, "patch not received by server")
	}
}

func Test_SocketTransport_ServerClose(t *testing.T) {
	server, _, conns := socketServer(t, `{}`)
	defer server.Close()

	tr, err := NewSocketTransport(context.Background(), server.URL, "", nil)
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Connect())
	require.Equal(t, MessageDocument, nextMessage(t, tr).Kind)

	ws := <-conns
	closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart")
	require.NoError(t, ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second)))

	msg := nextMessage(t, tr)
	require.Equal(t, MessageError, msg.Kind)
	require.Equal(t, RequestSocket, msg.Err.Request)
	require.Equal(t, websocket.CloseGoingAway, msg.Err.Status)
	require.Equal(t, ClassConnection, Classify(msg.Err))
}

func Test_SocketTransport_DialFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	tr, err := NewSocketTransport(context.Background(), server.URL, "", nil)
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Connect())
	msg := nextMessage(t, tr)
	require.Equal(t, MessageError, msg.Kind)
	require.Equal(t, http.StatusForbidden, msg.Err.Status)
}

func Test_SocketUrl(t *testing.T) {
	type testCase struct {
		in, out string
		fail    bool
	}

	for _, tc := range []testCase{
		{in: "http://localhost/testURL", out: "ws://localhost/testURL"},
		{in: "https://example.com:8443/doc?x=1", out: "wss://example.com:8443/doc?x=1"},
		{in: "ws://localhost/doc", out: "ws://localhost/doc"},
		{in: "ftp://localhost/doc", fail: true},
	} {
		out, err := SocketUrl(tc.in)
		if tc.fail {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.out, out)
	}
}
