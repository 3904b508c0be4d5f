package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/itiky/collaborate-doc/model"
	"github.com/itiky/collaborate-doc/patch"
	"github.com/itiky/collaborate-doc/transport"
)

// DefaultIntervals is the default reconnection schedule, the first entry is also the mutation coalescing window.
var DefaultIntervals = []time.Duration{10 * time.Millisecond, time.Second, 3 * time.Second, 10 * time.Second}

type (
	// Config keeps the Client options.
	Config struct {
		// Document URL (http(s) or ws(s))
		RemoteURL string
		// Use a persistent websocket instead of HTTP request/response
		UseWebSocket bool
		// Paths excluded from outgoing patches
		IgnoreRules patch.IgnoreRules
		// Retry schedule, Intervals[0] is the mutation coalescing window
		Intervals []time.Duration
		// Called before EventIncomingPatchValidationError listeners
		OnIncomingPatchValidationError func(err *model.RangeError)
		// Called before EventOutgoingPatchValidationError listeners
		OnOutgoingPatchValidationError func(err *model.RangeError)
		// HTTP transport client (http.DefaultClient if nil)
		HTTPClient *http.Client
		// Transport timeouts (transport.DefaultSettings if nil)
		Settings *transport.Settings
		// Monitor report period, reports are disabled if 0
		MonitorPeriod time.Duration
		// Custom transport, RemoteURL / UseWebSocket / HTTPClient are ignored if set
		Transport transport.Transport
	}

	// Client keeps a local Document synchronized with the remote one.
	Client struct {
		id  string
		cfg Config
		//
		transport   transport.Transport
		bus         *EventBus
		monitor     *Monitor
		observer    *observer
		reconnector *reconnector
		// Worker state
		doc          model.Document // working document, mutated by the application
		snapshot     model.Document // last state both ends agree on
		pending      *pendingPatch  // patch in flight
		dirty        bool           // mutated while a patch was in flight
		needsConnect bool           // next retry must fetch the document again
		//
		stateLock sync.RWMutex
		state     model.ConnectionState
		//
		mutateCh chan mutation
		docReqCh chan chan model.Document
		started  int32
		stopOnce sync.Once
		stopCh   chan struct{}
		doneCh   chan struct{}
	}

	pendingPatch struct {
		state  model.Document // working document captured at diff time
		ops    int
		sentAt time.Time
	}

	mutation struct {
		fn    func(doc model.Document)
		errCh chan error
	}
)

// DefaultConfig returns a Config for the remote document URL with the default options.
func DefaultConfig(remoteUrl string) Config {
	return Config{
		RemoteURL: remoteUrl,
		Intervals: DefaultIntervals,
		Settings:  transport.DefaultSettings(),
	}
}

// String implements the stringer interface.
func (c *Client) String() string {
	return fmt.Sprintf("Client (%s)", c.id)
}

// ID returns the session id sent to the server.
func (c *Client) ID() string {
	return c.id
}

// State returns the current connection state.
func (c *Client) State() model.ConnectionState {
	c.stateLock.RLock()
	defer c.stateLock.RUnlock()

	return c.state
}

// Monitor returns the session Monitor.
func (c *Client) Monitor() *Monitor {
	return c.monitor
}

// AddEventListener registers a listener for the event type.
// Listeners run on the worker goroutine and must not call Mutate or Document.
func (c *Client) AddEventListener(evType EventType, l Listener) {
	c.bus.Subscribe(evType, l)
}

// Start starts the Client worker, the remote document is requested right away.
func (c *Client) Start() {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return
	}

	go c.worker()
}

// Stop stops the Client worker; the session can't be restarted.
// Unsent local changes are discarded.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})

	if atomic.LoadInt32(&c.started) == 1 {
		<-c.doneCh
		return
	}

	c.transport.Close()
	c.setState(model.StateClosed)
}

// Mutate runs fn against the working document on the worker goroutine.
// Changes are coalesced and sent once the observer window expires.
func (c *Client) Mutate(fn func(doc model.Document)) error {
	if fn == nil {
		return fmt.Errorf("%s: nil", "fn")
	}
	if atomic.LoadInt32(&c.started) == 0 {
		return model.ErrNotConnected
	}

	req := mutation{fn: fn, errCh: make(chan error, 1)}
	select {
	case <-c.stopCh:
		return model.ErrClosed
	case c.mutateCh <- req:
	}

	select {
	case err := <-req.errCh:
		return err
	case <-c.doneCh:
		return model.ErrClosed
	}
}

// Document returns a deep copy of the working document (nil if it hasn't been received yet).
func (c *Client) Document() model.Document {
	if atomic.LoadInt32(&c.started) == 0 {
		return nil
	}

	resCh := make(chan model.Document, 1)
	select {
	case <-c.stopCh:
		return nil
	case c.docReqCh <- resCh:
	}

	select {
	case doc := <-resCh:
		return doc
	case <-c.doneCh:
		return nil
	}
}

// worker does the actual job.
func (c *Client) worker() {
	defer close(c.doneCh)

	select {
	case <-c.stopCh:
		c.shutdown()
		return
	default:
	}

	glog.Infof("%s: start", c.String())
	glog.V(1).Infof("%s: remoteUrl: %s", c.String(), c.cfg.RemoteURL)
	glog.V(1).Infof("%s: webSocket: %v", c.String(), c.cfg.UseWebSocket)
	glog.V(1).Infof("%s: intervals: %v", c.String(), c.cfg.Intervals)

	c.monitor.Start()
	c.connect()

	for {
		select {
		case req := <-c.mutateCh:
			// Apply a local mutation
			req.errCh <- c.mutate(req.fn)
		case resCh := <-c.docReqCh:
			// Read the working document
			doc, err := patch.Copy(c.doc)
			if err != nil {
				glog.Errorf("%s: document copy: %v", c.String(), err)
			}
			resCh <- doc
		case <-c.observer.C():
			// Diff and send the local changes
			c.observer.fired()
			c.flush()
		case <-c.reconnector.C():
			// Retry the failed request
			c.reconnector.fired()
			c.retry()
		case msg := <-c.transport.Messages():
			// Handle the remote end
			c.handleMessage(msg)
		case <-c.stopCh:
			// Stop the client
			c.shutdown()
			return
		}
	}
}

// mutate runs fn recovering from a panic and arms the observer.
func (c *Client) mutate(fn func(doc model.Document)) (retErr error) {
	if c.State() == model.StateClosed {
		return model.ErrClosed
	}
	if c.doc == nil {
		return model.ErrNotConnected
	}

	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("%s: mutation panic: %v\n%s", c.String(), r, debug.Stack())
			retErr = fmt.Errorf("mutation panic: %v", r)
		}
		c.changed()
	}()
	fn(c.doc)

	return nil
}

// changed schedules a diff cycle unless one is in flight.
func (c *Client) changed() {
	if c.pending != nil {
		c.dirty = true
		return
	}
	c.observer.arm()
}

// flush diffs the working document against the snapshot and sends the result.
func (c *Client) flush() {
	if c.doc == nil || c.pending != nil || c.State() == model.StateClosed {
		return
	}
	c.dirty = false

	captured, err := patch.Copy(c.doc)
	if err != nil {
		glog.Errorf("%s: document copy: %v", c.String(), err)
		return
	}

	ops, err := patch.Diff(c.snapshot, captured)
	if err != nil {
		glog.Errorf("%s: diff: %v", c.String(), err)
		return
	}

	ops = patch.FilterOutgoing(ops, c.cfg.IgnoreRules)
	if len(ops) == 0 {
		c.snapshot = captured
		return
	}

	if err := patch.Validate(ops, model.DirectionOutgoing); err != nil {
		// the offending changes are dropped for good
		c.snapshot = captured
		glog.Infof("%s: outgoing patch dropped: %v", c.String(), err)
		c.bus.Emit(Event{Type: EventOutgoingPatchValidationError, Err: err})
		return
	}

	data, err := ops.Encode()
	if err != nil {
		glog.Errorf("%s: patch encode: %v", c.String(), err)
		return
	}

	now := time.Now()
	c.pending = &pendingPatch{state: captured, ops: len(ops), sentAt: now}
	c.monitor.ConsistencyReset(now)

	if err := c.transport.SendPatch(data); err != nil {
		c.pending = nil
		if errors.Is(err, model.ErrClosed) {
			return
		}
		delay := c.reconnector.schedule()
		glog.Infof("%s: patch send: %v (retry in %v)", c.String(), err, delay)
		return
	}
	glog.V(2).Infof("%s: -> %s", c.String(), data)
}

// handleMessage routes a transport message.
func (c *Client) handleMessage(msg transport.Message) {
	if c.State() == model.StateClosed {
		glog.V(2).Infof("%s: %s message on a closed session", c.String(), msg.Kind)
		return
	}

	switch msg.Kind {
	case transport.MessageState:
		c.setState(msg.State)
		if msg.State == model.StateClosed {
			glog.Infof("%s: closed by the remote end", c.String())
			c.observer.stop()
			c.reconnector.stop()
			c.pending, c.dirty = nil, false
		}
	case transport.MessageDocument:
		c.resetState(msg.Data)
	case transport.MessagePatch:
		c.applyRemote(msg.Data)
	case transport.MessageAck:
		c.handleAck(msg.Data)
	case transport.MessageError:
		c.handleError(msg.Err)
	}
}

// resetState replaces the local state with the received document.
func (c *Client) resetState(data []byte) {
	doc, raw, err := model.DecodeDocument(data)
	if err != nil {
		c.handleError(&transport.Error{Request: transport.RequestDocument, Body: data, Err: err})
		return
	}

	if err := patch.ValidateDocument(raw, model.DirectionIncoming); err != nil {
		glog.Infof("%s: document rejected: %v", c.String(), err)
		c.bus.Emit(Event{Type: EventIncomingPatchValidationError, Err: err})
		return
	}

	working, err := patch.Copy(doc)
	if err != nil {
		glog.Errorf("%s: document copy: %v", c.String(), err)
		return
	}

	c.observer.stop()
	c.reconnector.reset()
	c.pending, c.dirty, c.needsConnect = nil, false, false
	c.snapshot = doc
	c.doc = working
	if c.State() != model.StateOpen {
		c.setState(model.StateOpen)
	}

	glog.V(1).Infof("%s: state reset (%d bytes)", c.String(), len(data))
	c.bus.Emit(Event{Type: EventStateReset, Document: c.doc})
	// listeners may have changed the document
	c.observer.arm()
}

// applyRemote applies an inbound patch without triggering a local diff.
func (c *Client) applyRemote(data []byte) {
	if len(bytes.TrimSpace(data)) == 0 {
		return
	}

	p, err := model.DecodePatch(data)
	if err != nil {
		glog.Infof("%s: inbound patch: %v", c.String(), err)
		c.connect()
		return
	}
	if len(p) == 0 {
		return
	}

	if err := patch.Validate(p, model.DirectionIncoming); err != nil {
		glog.Infof("%s: inbound patch rejected: %v", c.String(), err)
		c.bus.Emit(Event{Type: EventIncomingPatchValidationError, Err: err})
		return
	}
	c.monitor.PatchReceived(len(p))

	if c.doc == nil {
		glog.V(1).Infof("%s: inbound patch without a document", c.String())
		return
	}

	snapshot, err := patch.Apply(c.snapshot, p)
	if err != nil {
		glog.Infof("%s: inbound patch apply: %v, fetching the document", c.String(), err)
		c.connect()
		return
	}
	c.snapshot = snapshot

	if c.pending != nil {
		if state, err := patch.Apply(c.pending.state, p); err == nil {
			c.pending.state = state
		} else {
			c.pending.state = snapshot
		}
	}

	doc, err := patch.Apply(c.doc, p)
	if err != nil {
		// conflicting local change, the remote end wins
		glog.Infof("%s: inbound patch conflicts with local changes: %v", c.String(), err)
		if doc, err = patch.Copy(snapshot); err != nil {
			glog.Errorf("%s: document copy: %v", c.String(), err)
			return
		}
	}
	c.doc = doc

	glog.V(2).Infof("%s: <- %s", c.String(), p)
}

// handleAck advances the snapshot to the acknowledged state.
func (c *Client) handleAck(data []byte) {
	if c.pending == nil {
		glog.V(1).Infof("%s: unexpected ack", c.String())
		return
	}

	now := time.Now()
	c.snapshot = c.pending.state
	c.monitor.PatchSent(c.pending.ops, now.Sub(c.pending.sentAt))
	c.pending = nil
	c.reconnector.reset()
	if c.State() == model.StateError {
		c.setState(model.StateOpen)
	}

	c.applyRemote(data)

	if c.dirty {
		c.dirty = false
		c.observer.arm()
		return
	}
	c.monitor.ConsistencyAchieved(now)
}

// handleError reacts to a transport failure according to its class.
func (c *Client) handleError(e *transport.Error) {
	if e == nil {
		return
	}

	if transport.Classify(e) == transport.ClassRejected {
		glog.Warningf("%s: patch rejected: %v", c.String(), e)
		if c.pending != nil {
			c.snapshot = c.pending.state
			c.pending = nil
		}
		if c.dirty {
			c.dirty = false
			c.observer.arm()
		}
		return
	}

	if e.Request == transport.RequestSocket && c.needsConnect && c.reconnector.C() != nil {
		// the reader and the writer of a broken socket both report it
		glog.V(1).Infof("%s: %v (already reconnecting)", c.String(), e)
		return
	}

	if e.Request != transport.RequestPatch || c.doc == nil {
		c.needsConnect = true
	}
	c.pending, c.dirty = nil, false
	c.setState(model.StateError)
	c.bus.Emit(Event{Type: EventConnectionError, Err: e})

	delay := c.reconnector.schedule()
	glog.Infof("%s: %v (retry in %v)", c.String(), e, delay)
}

// retry re-runs the failed request.
func (c *Client) retry() {
	if c.needsConnect || c.doc == nil {
		c.connect()
		return
	}
	c.flush()
}

// connect (re)requests the remote document.
func (c *Client) connect() {
	c.needsConnect = false
	c.pending = nil
	if err := c.transport.Connect(); err != nil {
		glog.Errorf("%s: connect: %v", c.String(), err)
	}
}

// shutdown releases the session resources.
func (c *Client) shutdown() {
	c.observer.stop()
	c.reconnector.stop()
	if err := c.transport.Close(); err != nil {
		glog.Errorf("%s: transport close: %v", c.String(), err)
	}
	c.pending, c.dirty = nil, false
	c.setState(model.StateClosed)
	c.monitor.Stop()

	glog.Infof("%s: stop", c.String())
}

func (c *Client) setState(state model.ConnectionState) {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	c.state = state
}

// NewClient creates a new Client object.
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Intervals) == 0 {
		cfg.Intervals = DefaultIntervals
	}
	for i, interval := range cfg.Intervals {
		if interval <= 0 {
			return nil, fmt.Errorf("%s[%d]: must be GT 0", "intervals", i)
		}
	}
	if cfg.Transport == nil && cfg.RemoteURL == "" {
		return nil, fmt.Errorf("%s: empty", "remoteUrl")
	}
	if cfg.MonitorPeriod < 0 {
		return nil, fmt.Errorf("%s: must be GTE 0", "monitorPeriod")
	}

	c := Client{
		id:  uuid.New().String(),
		cfg: cfg,
		//
		bus:         NewEventBus(),
		observer:    newObserver(cfg.Intervals[0]),
		reconnector: newReconnector(cfg.Intervals),
		state:       model.StateConnecting,
		//
		mutateCh: make(chan mutation),
		docReqCh: make(chan chan model.Document),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	c.monitor = NewMonitor(c.String(), cfg.MonitorPeriod)

	if cb := cfg.OnIncomingPatchValidationError; cb != nil {
		c.bus.Subscribe(EventIncomingPatchValidationError, rangeErrorListener(cb))
	}
	if cb := cfg.OnOutgoingPatchValidationError; cb != nil {
		c.bus.Subscribe(EventOutgoingPatchValidationError, rangeErrorListener(cb))
	}

	switch {
	case cfg.Transport != nil:
		c.transport = cfg.Transport
	case cfg.UseWebSocket:
		t, err := transport.NewSocketTransport(context.Background(), cfg.RemoteURL, c.id, cfg.Settings)
		if err != nil {
			return nil, fmt.Errorf("socket transport: %w", err)
		}
		c.transport = t
	default:
		c.transport = transport.NewHTTPTransport(context.Background(), cfg.RemoteURL, c.id, cfg.HTTPClient, cfg.Settings)
	}

	return &c, nil
}

func rangeErrorListener(cb func(err *model.RangeError)) Listener {
	return func(ev Event) {
		var rangeErr *model.RangeError
		if errors.As(ev.Err, &rangeErr) {
			cb(rangeErr)
		}
	}
}
