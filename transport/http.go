package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/itiky/collaborate-doc/model"
)

// HTTPTransport implements Transport over request/response: GET fetches the document, PATCH submits patches.
type HTTPTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	remoteUrl string
	sessionId string
	client    *http.Client
	settings  *Settings

	messages chan Message
	inFlight int32
}

// NewHTTPTransport creates a new HTTPTransport object.
func NewHTTPTransport(ctx context.Context, remoteUrl, sessionId string, client *http.Client, settings *Settings) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	if settings == nil {
		settings = DefaultSettings()
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	return &HTTPTransport{
		ctx:       cancelCtx,
		cancel:    cancel,
		remoteUrl: remoteUrl,
		sessionId: sessionId,
		client:    client,
		settings:  settings,
		messages:  make(chan Message, MessageBufferSize),
	}
}

// Connect implements Transport interface.
func (t *HTTPTransport) Connect() error {
	if t.ctx.Err() != nil {
		return model.ErrClosed
	}

	go t.fetchDocument()

	return nil
}

// SendPatch implements Transport interface.
func (t *HTTPTransport) SendPatch(data []byte) error {
	if t.ctx.Err() != nil {
		return model.ErrClosed
	}
	if !atomic.CompareAndSwapInt32(&t.inFlight, 0, 1) {
		return model.ErrRequestInFlight
	}

	go func() {
		msg := t.sendPatch(data)
		atomic.StoreInt32(&t.inFlight, 0)
		t.post(msg)
	}()

	return nil
}

// Messages implements Transport interface.
func (t *HTTPTransport) Messages() <-chan Message {
	return t.messages
}

// Close implements Transport interface.
func (t *HTTPTransport) Close() error {
	t.cancel()
	return nil
}

// fetchDocument requests the full remote document.
func (t *HTTPTransport) fetchDocument() {
	t.post(Message{Kind: MessageState, State: model.StateConnecting})

	status, body, err := t.do(http.MethodGet, nil, MIMEJSON, "")
	if err != nil {
		t.post(Message{Kind: MessageError, Err: &Error{Request: RequestDocument, Err: err}})
		return
	}
	if !isSuccess(status) {
		t.post(Message{Kind: MessageError, Err: &Error{Request: RequestDocument, Status: status, Body: body}})
		return
	}

	t.post(Message{Kind: MessageState, State: model.StateOpen})
	t.post(Message{Kind: MessageDocument, Data: body})
}

// sendPatch submits the patch, the response body is the authoritative patch to apply.
func (t *HTTPTransport) sendPatch(data []byte) Message {
	status, body, err := t.do(http.MethodPatch, data, MIMEJSONPatch, MIMEJSONPatch)
	if err != nil {
		return Message{Kind: MessageError, Err: &Error{Request: RequestPatch, Err: err}}
	}
	if !isSuccess(status) {
		return Message{Kind: MessageError, Err: &Error{Request: RequestPatch, Status: status, Body: body}}
	}

	return Message{Kind: MessageAck, Data: body}
}

// do performs a single request returning the status code and body.
func (t *HTTPTransport) do(method string, data []byte, accept, contentType string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(t.ctx, t.settings.RequestTimeout)
	defer cancel()

	var reqBody io.Reader
	if data != nil {
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.remoteUrl, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("request build: %w", err)
	}
	req.Header.Set("Accept", accept)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if t.sessionId != "" {
		req.Header.Set(HeaderSessionId, t.sessionId)
	}

	glog.V(2).Infof("[http]%s %s %d bytes\n", method, t.remoteUrl, len(data))

	res, err := t.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("response read: %w", err)
	}

	glog.V(2).Infof("[http]%s %s <- %d\n", method, t.remoteUrl, res.StatusCode)

	return res.StatusCode, body, nil
}

// post delivers a message unless the transport is closed.
func (t *HTTPTransport) post(msg Message) {
	select {
	case <-t.ctx.Done():
	case t.messages <- msg:
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
