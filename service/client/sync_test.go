package client

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itiky/collaborate-doc/model"
	"github.com/itiky/collaborate-doc/transport"
)

// fakeTransport serves a fixed document and records outgoing patches.
// Remote patches and acks are injected by the test through push.
type fakeTransport struct {
	doc      string
	messages chan transport.Message
	connects int32
	closed   int32
	lock     sync.Mutex
	sent     []string
}

func newFakeTransport(doc string) *fakeTransport {
	return &fakeTransport{
		doc:      doc,
		messages: make(chan transport.Message, transport.MessageBufferSize),
	}
}

func (f *fakeTransport) Connect() error {
	atomic.AddInt32(&f.connects, 1)
	f.messages <- transport.Message{Kind: transport.MessageDocument, Data: []byte(f.doc)}

	return nil
}

func (f *fakeTransport) SendPatch(data []byte) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.sent = append(f.sent, string(data))

	return nil
}

func (f *fakeTransport) Messages() <-chan transport.Message {
	return f.messages
}

func (f *fakeTransport) Close() error {
	atomic.StoreInt32(&f.closed, 1)

	return nil
}

func (f *fakeTransport) Sent() []string {
	f.lock.Lock()
	defer f.lock.Unlock()

	return append([]string(nil), f.sent...)
}

func (f *fakeTransport) Connects() int {
	return int(atomic.LoadInt32(&f.connects))
}

func (f *fakeTransport) push(kind transport.MessageKind, data string) {
	f.messages <- transport.Message{Kind: kind, Data: []byte(data)}
}

func (f *fakeTransport) waitSent(t *testing.T, n int) []string {
	require.Eventually(t, func() bool {
		return len(f.Sent()) >= n
	}, waitFor, tick)

	return f.Sent()
}

func fakeConfig(f *fakeTransport, intervals ...time.Duration) Config {
	cfg := DefaultConfig("")
	cfg.Transport = f
	cfg.Intervals = intervals

	return cfg
}

// Test checks that a remote patch received while a local patch is in flight
// is not sent back once the local patch is acknowledged.
func Test_Client_RemotePatchWhilePending(t *testing.T) {
	f := newFakeTransport(`{"hello": 0}`)
	c := startTestClient(t, fakeConfig(f, 5*time.Millisecond, time.Hour))

	require.NoError(t, c.Mutate(func(doc model.Document) {
		doc["hello"] = 1
	}))
	sent := f.waitSent(t, 1)
	require.Equal(t, `[{"op":"replace","path":"/hello","value":1}]`, sent[0])

	f.push(transport.MessagePatch, `[{"op":"add","path":"/remote","value":true}]`)
	require.NoError(t, c.Mutate(func(doc model.Document) {
		doc["local"] = 1
	}))
	f.push(transport.MessageAck, `[]`)

	sent = f.waitSent(t, 2)
	require.Equal(t, `[{"op":"add","path":"/local","value":1}]`, sent[1])

	f.push(transport.MessageAck, `[]`)
	require.Never(t, func() bool {
		return len(f.Sent()) > 2
	}, quiet, tick)

	doc := c.Document()
	require.Equal(t, true, doc["remote"])
	require.EqualValues(t, 1, doc["hello"])
	require.EqualValues(t, 1, doc["local"])
	require.Equal(t, model.StateOpen, c.State())
}

// Test checks that a remote patch conflicting with unsent local changes
// replaces the working document with the remote state.
func Test_Client_RemotePatchConflict(t *testing.T) {
	f := newFakeTransport(`{"item": {"a": 1}, "keep": 0}`)
	c := startTestClient(t, fakeConfig(f, time.Hour))

	require.NoError(t, c.Mutate(func(doc model.Document) {
		delete(doc, "item")
		doc["keep"] = 5
	}))
	f.push(transport.MessagePatch, `[{"op":"replace","path":"/item/a","value":2}]`)

	require.Eventually(t, func() bool {
		_, ok := c.Document()["item"]
		return ok
	}, waitFor, tick)
	require.Equal(t, model.Document{"item": map[string]interface{}{"a": 2.0}, "keep": 0.0}, c.Document())
	require.Empty(t, f.Sent())
	require.Equal(t, 1, f.Connects())
}

// Test checks that a remote patch not applicable to the agreed state triggers a refetch.
func Test_Client_RemotePatchRefetch(t *testing.T) {
	f := newFakeTransport(`{"hello": 0}`)

	var resetCnt int32
	c := newTestClient(t, fakeConfig(f, time.Hour))
	c.AddEventListener(EventStateReset, func(ev Event) {
		atomic.AddInt32(&resetCnt, 1)
	})
	c.Start()
	waitDocument(t, c)

	f.push(transport.MessagePatch, `[{"op":"replace","path":"/missing","value":1}]`)
	require.Eventually(t, func() bool {
		return f.Connects() == 2 && atomic.LoadInt32(&resetCnt) == 2
	}, waitFor, tick)

	require.Equal(t, model.Document{"hello": 0.0}, c.Document())
	require.Empty(t, f.Sent())
}

// Test checks that changes still coalescing when the session stops are never sent.
func Test_Client_StopDiscardsUnsent(t *testing.T) {
	f := newFakeTransport(`{"hello": 0}`)
	c := startTestClient(t, fakeConfig(f, time.Hour))

	require.NoError(t, c.Mutate(func(doc model.Document) {
		doc["hello"] = 1
	}))
	c.Stop()

	require.EqualValues(t, 1, atomic.LoadInt32(&f.closed))
	require.Never(t, func() bool {
		return len(f.Sent()) > 0
	}, quiet, tick)
	require.Equal(t, model.StateClosed, c.State())
}
