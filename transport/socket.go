package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/itiky/collaborate-doc/model"
)

// SocketTransport implements Transport over a persistent websocket.
// The first message received after open is the document, the following ones are patches.
type SocketTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	socketUrl string
	header    http.Header
	dialer    *websocket.Dialer
	settings  *Settings

	messages chan Message

	stateLock  sync.Mutex
	connCancel context.CancelFunc
	send       chan []byte
}

// NewSocketTransport creates a new SocketTransport object, remoteUrl may use any of the http(s) / ws(s) schemes.
func NewSocketTransport(ctx context.Context, remoteUrl, sessionId string, settings *Settings) (*SocketTransport, error) {
	socketUrl, err := SocketUrl(remoteUrl)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		settings = DefaultSettings()
	}

	header := http.Header{}
	if sessionId != "" {
		header.Set(HeaderSessionId, sessionId)
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	return &SocketTransport{
		ctx:       cancelCtx,
		cancel:    cancel,
		socketUrl: socketUrl,
		header:    header,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: settings.WsHandshakeTimeout,
		},
		settings: settings,
		messages: make(chan Message, MessageBufferSize),
	}, nil
}

// Connect implements Transport interface.
// An existing connection is dropped.
func (t *SocketTransport) Connect() error {
	if t.ctx.Err() != nil {
		return model.ErrClosed
	}

	t.stateLock.Lock()
	if t.connCancel != nil {
		t.connCancel()
	}
	connCtx, connCancel := context.WithCancel(t.ctx)
	t.connCancel = connCancel
	t.send = nil
	t.stateLock.Unlock()

	go t.run(connCtx, connCancel)

	return nil
}

// SendPatch implements Transport interface.
// The patch is acknowledged as soon as the socket write returns.
func (t *SocketTransport) SendPatch(data []byte) error {
	if t.ctx.Err() != nil {
		return model.ErrClosed
	}

	t.stateLock.Lock()
	send := t.send
	t.stateLock.Unlock()

	if send == nil {
		return model.ErrNotConnected
	}

	select {
	case send <- data:
		return nil
	default:
		return model.ErrRequestInFlight
	}
}

// Messages implements Transport interface.
func (t *SocketTransport) Messages() <-chan Message {
	return t.messages
}

// Close implements Transport interface.
func (t *SocketTransport) Close() error {
	t.cancel()
	return nil
}

// run dials and serves a single connection until it fails or ctx is cancelled.
func (t *SocketTransport) run(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	t.post(ctx, Message{Kind: MessageState, State: model.StateConnecting})

	ws, res, err := t.dialer.DialContext(ctx, t.socketUrl, t.header)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		status := 0
		if res != nil {
			status = res.StatusCode
		}
		glog.Infof("[ws]dial %s error = %s\n", t.socketUrl, err)
		t.post(ctx, Message{Kind: MessageError, Err: &Error{Request: RequestSocket, Status: status, Err: err}})
		return
	}
	defer ws.Close()

	send := make(chan []byte, 1)
	t.stateLock.Lock()
	t.send = send
	t.stateLock.Unlock()
	defer func() {
		t.stateLock.Lock()
		if t.send == send {
			t.send = nil
		}
		t.stateLock.Unlock()
	}()

	t.post(ctx, Message{Kind: MessageState, State: model.StateOpen})

	go t.write(ctx, cancel, ws, send)

	first := true
	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				glog.V(1).Infof("[wr]%s closed by server\n", t.socketUrl)
				t.post(ctx, Message{Kind: MessageState, State: model.StateClosed})
				return
			}

			status := 0
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				status = closeErr.Code
			}
			glog.Infof("[wr]%s<- error = %s\n", t.socketUrl, err)
			t.post(ctx, Message{Kind: MessageError, Err: &Error{Request: RequestSocket, Status: status, Err: err}})
			return
		}

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			kind := MessagePatch
			if first {
				kind = MessageDocument
				first = false
			}
			glog.V(2).Infof("[wr]%s<- %s\n", t.socketUrl, kind)
			t.post(ctx, Message{Kind: kind, Data: message})
		default:
			glog.V(2).Infof("[wr]other=%d %s<-\n", messageType, t.socketUrl)
		}
	}
}

// write serves outgoing patches, it closes the connection once ctx is cancelled.
func (t *SocketTransport) write(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, send chan []byte) {
	defer func() {
		cancel()
		// unblocks the reader
		ws.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(t.settings.WriteTimeout))
			return
		case data := <-send:
			ws.SetWriteDeadline(time.Now().Add(t.settings.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				// a websocket write deadline timeout cannot be recovered
				glog.Infof("[ws]%s-> error = %s\n", t.socketUrl, err)
				t.post(ctx, Message{Kind: MessageError, Err: &Error{Request: RequestSocket, Err: err}})
				return
			}
			glog.V(2).Infof("[ws]%s-> %d bytes\n", t.socketUrl, len(data))
			t.post(ctx, Message{Kind: MessageAck})
		}
	}
}

// post delivers a message unless the connection is gone.
func (t *SocketTransport) post(ctx context.Context, msg Message) {
	select {
	case <-ctx.Done():
	case t.messages <- msg:
	}
}

// SocketUrl converts an http(s) document url to its ws(s) counterpart.
func SocketUrl(remoteUrl string) (string, error) {
	u, err := url.Parse(remoteUrl)
	if err != nil {
		return "", fmt.Errorf("remoteUrl (%s): %w", remoteUrl, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("remoteUrl (%s): unsupported scheme %q", remoteUrl, u.Scheme)
	}

	return u.String(), nil
}
