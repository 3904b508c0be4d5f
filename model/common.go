package model

type (
	// Document is the synchronized JSON document; its root is always an object.
	Document map[string]interface{}

	ConnectionState string

	Direction string
)

const (
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateError      ConnectionState = "error"
	StateClosed     ConnectionState = "closed"
)

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

type OperationType string

const (
	AddOperationType     OperationType = "add"
	RemoveOperationType  OperationType = "remove"
	ReplaceOperationType OperationType = "replace"
	MoveOperationType    OperationType = "move"
	CopyOperationType    OperationType = "copy"
	TestOperationType    OperationType = "test"
)

// HasValue reports whether operations of this type carry a value.
func (t OperationType) HasValue() bool {
	switch t {
	case AddOperationType, ReplaceOperationType, TestOperationType:
		return true
	}

	return false
}
