package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Classify(t *testing.T) {
	type testCase struct {
		name  string
		err   *Error
		class Class
	}

	testCases := []testCase{
		{"document: no response", &Error{Request: RequestDocument, Err: errors.New("dial tcp: refused")}, ClassConnection},
		{"document: 400", &Error{Request: RequestDocument, Status: 400}, ClassConnection},
		{"document: 404", &Error{Request: RequestDocument, Status: 404}, ClassConnection},
		{"document: 500", &Error{Request: RequestDocument, Status: 500}, ClassConnection},
		{"document: 599", &Error{Request: RequestDocument, Status: 599}, ClassConnection},
		{"patch: no response", &Error{Request: RequestPatch, Err: errors.New("timeout")}, ClassConnection},
		{"patch: 400", &Error{Request: RequestPatch, Status: 400}, ClassRejected},
		{"patch: 409", &Error{Request: RequestPatch, Status: 409}, ClassRejected},
		{"patch: 499", &Error{Request: RequestPatch, Status: 499}, ClassRejected},
		{"patch: 500", &Error{Request: RequestPatch, Status: 500}, ClassConnection},
		{"patch: 599", &Error{Request: RequestPatch, Status: 599}, ClassConnection},
		{"patch: 700", &Error{Request: RequestPatch, Status: 700}, ClassConnection},
		{"socket: abnormal close", &Error{Request: RequestSocket, Status: 1006}, ClassConnection},
		{"socket: 400 handshake", &Error{Request: RequestSocket, Status: 400}, ClassConnection},
		{"nil", nil, ClassConnection},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.class, Classify(tc.err))
		})
	}
}

func Test_Error(t *testing.T) {
	cause := errors.New("connection refused")
	err := &Error{Request: RequestDocument, Err: cause}
	require.True(t, errors.Is(err, cause))
	require.Equal(t, "document request: connection refused", err.Error())

	err = &Error{Request: RequestPatch, Status: 400}
	require.Equal(t, "patch request: status 400 (Bad Request)", err.Error())
}
