package transport

import (
	"fmt"
	"time"

	"github.com/itiky/collaborate-doc/model"
)

const (
	MIMEJSON      = "application/json"
	MIMEJSONPatch = "application/json-patch+json"

	HeaderSessionId = "X-Session-Id"

	// MessageBufferSize is the inbound Messages channel capacity.
	MessageBufferSize = 16
)

type (
	// Transport is a uniform send/receive contract over HTTP or a websocket.
	// Results of Connect and SendPatch are delivered asynchronously through Messages.
	Transport interface {
		// Connect fetches (HTTP) or dials (socket) the remote document.
		Connect() error
		// SendPatch submits an encoded outgoing patch; model.ErrRequestInFlight if one is pending.
		SendPatch(data []byte) error
		// Messages returns the inbound message stream.
		Messages() <-chan Message
		// Close cancels all pending I/O.
		Close() error
	}

	MessageKind int

	// Message is an inbound transport event.
	Message struct {
		Kind MessageKind
		// Document / patch body (MessageDocument, MessagePatch, MessageAck)
		Data []byte
		// MessageState only
		State model.ConnectionState
		// MessageError only
		Err *Error
	}

	// Settings keeps transport timeouts.
	Settings struct {
		RequestTimeout     time.Duration
		WsHandshakeTimeout time.Duration
		WriteTimeout       time.Duration
	}
)

const (
	MessageState MessageKind = iota
	MessageDocument
	MessagePatch
	MessageAck
	MessageError
)

// String implements the stringer interface.
func (k MessageKind) String() string {
	switch k {
	case MessageState:
		return "state"
	case MessageDocument:
		return "document"
	case MessagePatch:
		return "patch"
	case MessageAck:
		return "ack"
	case MessageError:
		return "error"
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// DefaultSettings returns the default transport timeouts.
func DefaultSettings() *Settings {
	return &Settings{
		RequestTimeout:     15 * time.Second,
		WsHandshakeTimeout: 5 * time.Second,
		WriteTimeout:       5 * time.Second,
	}
}
