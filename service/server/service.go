package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	restful "github.com/emicklei/go-restful"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/itiky/collaborate-doc/model"
	"github.com/itiky/collaborate-doc/storage"
	"github.com/itiky/collaborate-doc/transport"
)

const (
	// socketBufferSize is the per socket session outgoing queue limit, a slower session is dropped.
	socketBufferSize = 64

	defaultMonitorPeriod = 5 * time.Second
	socketWriteTimeout   = 5 * time.Second
)

var (
	// ErrInvalidPatch is returned for malformed / out-of-range patches.
	ErrInvalidPatch = errors.New("invalid patch")

	// ErrPatchConflict is returned for patches which can't be applied on the current document.
	ErrPatchConflict = errors.New("patch conflict")
)

type (
	// DocumentService serves a shared Document over HTTP (GET / PATCH) and websockets.
	DocumentService struct {
		// Config
		path       string
		savePeriod time.Duration
		// State
		docHistory   *storage.DocumentHistory
		store        *storage.Store
		savedVersion int
		sessionsLock sync.Mutex
		versions     map[string]int            // last version seen by HTTP sessions
		sockets      map[string]*socketSession // open websocket sessions
		//
		container *restful.Container
		upgrader  websocket.Upgrader
		monitor   *Monitor
		stopCh    chan struct{}
		doneCh    chan struct{}
	}

	socketSession struct {
		id     string
		sendCh chan []byte
	}
)

// ServeHTTP implements the http.Handler interface.
func (s *DocumentService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == s.path && websocket.IsWebSocketUpgrade(r) {
		s.serveSocket(w, r)
		return
	}

	s.container.ServeHTTP(w, r)
}

// Path returns the document route.
func (s *DocumentService) Path() string {
	return s.path
}

// GetDocument returns a full document snapshot.
// The version query parameter selects a past version, the session version is not updated then.
func (s *DocumentService) GetDocument(req *restful.Request, res *restful.Response) {
	if versionRaw := req.QueryParameter("version"); versionRaw != "" {
		s.getDocumentVersion(req, res, versionRaw)
		return
	}
	sessionId := req.HeaderParameter(transport.HeaderSessionId)

	version, doc, err := s.docHistory.GetOutputSnapshot()
	if err != nil {
		s.fail(req, res, err)
		return
	}
	data, err := doc.Encode()
	if err != nil {
		s.fail(req, res, err)
		return
	}

	if sessionId != "" {
		s.sessionsLock.Lock()
		s.versions[sessionId] = version
		s.sessionsLock.Unlock()
	}
	s.monitor.SnapshotServed()

	res.Header().Set("Content-Type", transport.MIMEJSON)
	res.WriteHeader(http.StatusOK)
	res.Write(data)
}

// getDocumentVersion rebuilds the document at the requested version.
func (s *DocumentService) getDocumentVersion(req *restful.Request, res *restful.Response, versionRaw string) {
	version, err := strconv.Atoi(versionRaw)
	if err != nil {
		res.WriteErrorString(http.StatusBadRequest, fmt.Sprintf("version: %v", err))
		return
	}
	if !s.docHistory.IsVersionValid(version) {
		http.NotFound(res.ResponseWriter, req.Request)
		return
	}

	versionStorage, err := s.docHistory.BuildStorage(version)
	if err != nil {
		s.fail(req, res, err)
		return
	}
	doc, err := versionStorage.Export()
	if err != nil {
		s.fail(req, res, err)
		return
	}
	data, err := doc.Encode()
	if err != nil {
		s.fail(req, res, err)
		return
	}

	res.Header().Set("Content-Type", transport.MIMEJSON)
	res.WriteHeader(http.StatusOK)
	res.Write(data)
}

// GetProperty returns the top-level property metadata: last author, update time and removal flag.
func (s *DocumentService) GetProperty(req *restful.Request, res *restful.Response) {
	item, found := s.docHistory.GetItem(req.PathParameter("key"))
	if !found {
		http.NotFound(res.ResponseWriter, req.Request)
		return
	}

	res.WriteEntity(item)
}

// PatchDocument applies a session patch and responds with the patches
// committed by other sessions since the session last seen version.
func (s *DocumentService) PatchDocument(req *restful.Request, res *restful.Response) {
	sessionId := req.HeaderParameter(transport.HeaderSessionId)
	author := sessionId
	if author == "" {
		author = "anonymous-" + uuid.New().String()
	}

	body, err := io.ReadAll(req.Request.Body)
	if err != nil {
		res.WriteErrorString(http.StatusBadRequest, fmt.Sprintf("body read: %v", err))
		return
	}

	version, err := s.applyPatch(author, body)
	switch {
	case errors.Is(err, ErrInvalidPatch):
		glog.Infof("DocumentService: %s: %v", author, err)
		res.WriteErrorString(http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ErrPatchConflict):
		glog.Infof("DocumentService: %s: %v", author, err)
		res.WriteErrorString(http.StatusConflict, err.Error())
		return
	case err != nil:
		s.fail(req, res, err)
		return
	}

	diff := model.Patch{}
	if sessionId != "" {
		s.sessionsLock.Lock()
		lastVersion, found := s.versions[sessionId]
		s.sessionsLock.Unlock()

		if found {
			start := time.Now()
			version, diff = s.docHistory.GetOutputDiffWithLatest(lastVersion, author)
			s.monitor.DiffRequestServed(time.Since(start))
		}

		s.sessionsLock.Lock()
		s.versions[sessionId] = version
		s.sessionsLock.Unlock()
	}

	data, err := diff.Encode()
	if err != nil {
		s.fail(req, res, err)
		return
	}

	res.Header().Set("Content-Type", transport.MIMEJSONPatch)
	res.WriteHeader(http.StatusOK)
	res.Write(data)
}

// applyPatch validates and applies the patch, then pushes it to the socket sessions except the author.
func (s *DocumentService) applyPatch(author string, data []byte) (int, error) {
	start := time.Now()

	p, err := model.DecodePatch(data)
	if err != nil {
		s.monitor.PatchHandled(resultInvalid, 0, time.Since(start))
		return 0, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	op, err := storage.NewPatchOperation(author, p, time.Now().UTC())
	if err != nil {
		s.monitor.PatchHandled(resultInvalid, len(p), time.Since(start))
		return 0, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}

	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()

	version, err := s.docHistory.AddVersion(op)
	if err != nil {
		s.monitor.PatchHandled(resultConflict, len(p), time.Since(start))
		return version, fmt.Errorf("%w: %v", ErrPatchConflict, err)
	}
	s.monitor.PatchHandled(resultApplied, len(p), time.Since(start))

	if len(s.sockets) > 0 {
		out, err := p.Encode()
		if err != nil {
			return version, fmt.Errorf("patch encode: %w", err)
		}
		for id, session := range s.sockets {
			if id == author {
				continue
			}
			select {
			case session.sendCh <- out:
			default:
				glog.Infof("DocumentService: socket %s: send queue overflow, dropping", id)
				s.dropSocket(session)
			}
		}
	}

	return version, nil
}

// serveSocket serves a websocket session: the document first, then the patches of other sessions.
func (s *DocumentService) serveSocket(w http.ResponseWriter, r *http.Request) {
	sessionId := r.Header.Get(transport.HeaderSessionId)
	if sessionId == "" {
		sessionId = uuid.New().String()
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("DocumentService: socket %s: upgrade: %v", sessionId, err)
		return
	}
	defer ws.Close()

	session, err := s.openSocket(sessionId)
	if err != nil {
		glog.Errorf("DocumentService: socket %s: %v", sessionId, err)
		return
	}
	defer s.closeSocket(session)

	go s.writeSocket(ws, session)

	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			glog.V(1).Infof("DocumentService: socket %s: read: %v", sessionId, err)
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		if _, err := s.applyPatch(sessionId, message); err != nil {
			glog.Infof("DocumentService: socket %s: %v", sessionId, err)
		}
	}
}

// openSocket registers the session, the current snapshot is queued first.
func (s *DocumentService) openSocket(sessionId string) (*socketSession, error) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()

	if prev, found := s.sockets[sessionId]; found {
		s.dropSocket(prev)
	}

	_, doc, err := s.docHistory.GetOutputSnapshot()
	if err != nil {
		return nil, err
	}
	data, err := doc.Encode()
	if err != nil {
		return nil, err
	}

	session := &socketSession{
		id:     sessionId,
		sendCh: make(chan []byte, socketBufferSize),
	}
	session.sendCh <- data
	s.sockets[sessionId] = session
	s.monitor.SocketOpened()
	s.monitor.SnapshotServed()

	return session, nil
}

// closeSocket unregisters the session (if still registered).
func (s *DocumentService) closeSocket(session *socketSession) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()

	if s.sockets[session.id] == session {
		s.dropSocket(session)
	}
}

// dropSocket must be called with sessionsLock held.
func (s *DocumentService) dropSocket(session *socketSession) {
	delete(s.sockets, session.id)
	close(session.sendCh)
	s.monitor.SocketClosed()
}

// writeSocket serves the session queue, the connection is closed once the queue is closed.
func (s *DocumentService) writeSocket(ws *websocket.Conn, session *socketSession) {
	defer ws.Close()

	for data := range session.sendCh {
		ws.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			glog.Infof("DocumentService: socket %s: write: %v", session.id, err)
			return
		}
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(socketWriteTimeout))
}

// fail responds with the internal error.
func (s *DocumentService) fail(req *restful.Request, res *restful.Response, err error) {
	glog.Errorf("DocumentService: %s %s: failed: %v", req.Request.Method, req.Request.URL.Path, err)
	res.WriteErrorString(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}

// Start starts the service worker.
func (s *DocumentService) Start() {
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	s.monitor.Start()
	go s.worker(s.stopCh, s.doneCh)
}

// Stop stops the service worker and drops the socket sessions.
func (s *DocumentService) Stop() {
	if s.stopCh == nil {
		return
	}

	close(s.stopCh)
	<-s.doneCh
	s.stopCh = nil
	s.monitor.Stop()

	s.sessionsLock.Lock()
	for _, session := range s.sockets {
		s.dropSocket(session)
	}
	s.sessionsLock.Unlock()
}

// worker does the actual job.
func (s *DocumentService) worker(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	glog.Infof("DocumentService: start (%s)", s.path)

	var saveCh <-chan time.Time
	if s.store != nil {
		ticker := time.NewTicker(s.savePeriod)
		defer ticker.Stop()
		saveCh = ticker.C
	}

	for {
		select {
		case <-stopCh:
			// Service stop
			s.save()
			glog.Infof("DocumentService: stop")
			return
		case <-saveCh:
			// Persist the latest snapshot
			s.save()
		}
	}
}

// save persists the latest snapshot if it has changed.
func (s *DocumentService) save() {
	if s.store == nil || s.docHistory.LatestVersion() == s.savedVersion {
		return
	}

	version, doc, err := s.docHistory.GetOutputSnapshot()
	if err != nil {
		glog.Errorf("DocumentService: snapshot: %v", err)
		return
	}
	if err := s.store.Save(version, doc); err != nil {
		glog.Errorf("DocumentService: snapshot save: %v", err)
		return
	}
	s.savedVersion = version

	glog.V(1).Infof("DocumentService: snapshot v%d saved", version)
}

// NewDocumentService creates a new DocumentService object serving docHistory at path.
// The latest snapshot is saved to store every savePeriod (store is optional).
func NewDocumentService(docHistory *storage.DocumentHistory, store *storage.Store, path string, savePeriod time.Duration) (*DocumentService, error) {
	if docHistory == nil {
		return nil, fmt.Errorf("%s: nil", "docHistory")
	}
	if path == "" || path[0] != '/' {
		return nil, fmt.Errorf("%s: must start with /", "path")
	}
	if store != nil && savePeriod <= 0 {
		return nil, fmt.Errorf("%s: must be GT 0", "savePeriod")
	}

	s := &DocumentService{
		path:         path,
		savePeriod:   savePeriod,
		docHistory:   docHistory,
		store:        store,
		savedVersion: docHistory.LatestVersion(),
		versions:     make(map[string]int),
		sockets:      make(map[string]*socketSession),
		container:    restful.NewContainer(),
		monitor:      NewMonitor(defaultMonitorPeriod),
	}

	ws := &restful.WebService{}
	ws.Path(path)
	ws.Route(ws.GET("").To(s.GetDocument).
		Param(ws.QueryParameter("version", "Past document version")).
		Produces(restful.MIME_JSON))
	ws.Route(ws.GET("/properties/{key}").To(s.GetProperty).
		Param(ws.PathParameter("key", "Top-level property name")).
		Produces(restful.MIME_JSON))
	ws.Route(ws.PATCH("").To(s.PatchDocument).
		Consumes(transport.MIMEJSONPatch, restful.MIME_JSON).
		Produces(transport.MIMEJSONPatch, restful.MIME_JSON))
	s.container.Add(ws)

	return s, nil
}
