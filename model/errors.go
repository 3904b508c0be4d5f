package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

const (
	// MaxSafeInteger is the largest integer a double represents exactly (2^53 - 1).
	MaxSafeInteger = 1<<53 - 1
	// MinSafeInteger is -MaxSafeInteger.
	MinSafeInteger = -MaxSafeInteger
)

var (
	// ErrClosed is returned when operating on a stopped session.
	ErrClosed = errors.New("session is closed")

	// ErrRequestInFlight is returned when a patch is submitted while another one is pending.
	ErrRequestInFlight = errors.New("outgoing patch already in flight")

	// ErrNotConnected is returned when a patch is submitted without an open connection.
	ErrNotConnected = errors.New("transport is not connected")
)

// RangeError reports a number that cannot be represented identically on both ends.
type RangeError struct {
	Value     interface{}
	Path      string
	Direction Direction
}

// Error implements the error interface.
func (e *RangeError) Error() string {
	return fmt.Sprintf(
		"A number that is either bigger than %d or smaller than %d has been encountered in a patch, value is: %s, variable path is: %s",
		MaxSafeInteger, MinSafeInteger, FormatNumber(e.Value), e.Path,
	)
}

// FormatNumber renders a decoded JSON number the way it appears on the wire.
func FormatNumber(v interface{}) string {
	switch n := v.(type) {
	case json.Number:
		return n.String()
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	default:
		return fmt.Sprintf("%v", v)
	}
}
