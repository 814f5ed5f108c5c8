package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSSession wraps a *websocket.Conn as a Session: gorilla's native message
// types map directly onto §6's "text and binary frames".
type WSSession struct {
	conn     *websocket.Conn
	remoteID string
	mu       sync.Mutex
}

func newWSSession(conn *websocket.Conn) *WSSession {
	return &WSSession{conn: conn, remoteID: uuid.New().String()}
}

func (s *WSSession) ReadFrame(ctx context.Context) ([]byte, bool, error) {
	msgType, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, false, err
	}
	return data, msgType == websocket.BinaryMessage, nil
}

func (s *WSSession) WriteText(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *WSSession) WriteBinary(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (s *WSSession) Close() error { return s.conn.Close() }

func (s *WSSession) RemoteID() string { return s.remoteID }

// WSListener serves Chum connections over a single ws:// endpoint, mounted
// on a chi router alongside the debug/metrics routes (§B of the expanded
// spec). Accept blocks until an inbound upgrade completes.
type WSListener struct {
	addr   string
	server *http.Server
	log    *logrus.Logger

	incoming chan Session
	closed   chan struct{}
	once     sync.Once
}

// NewWSListener mounts the Chum upgrade handler at path on router and starts
// listening on addr. Callers typically pass the same chi.Mux used for
// /healthz and /metrics so one process serves everything on one port.
func NewWSListener(addr, path string, router chi.Router, log *logrus.Logger) *WSListener {
	if log == nil {
		log = logrus.StandardLogger()
	}
	l := &WSListener{
		addr:     addr,
		log:      log,
		incoming: make(chan Session, 16),
		closed:   make(chan struct{}),
	}
	router.Get(path, l.handleUpgrade)
	l.server = &http.Server{Addr: addr, Handler: router}
	return l
}

func (l *WSListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Warnf("chum ws upgrade failed: %v", err)
		return
	}
	select {
	case l.incoming <- newWSSession(conn):
	case <-l.closed:
		_ = conn.Close()
	}
}

// ListenAndServe runs the HTTP server; it blocks like http.Server's method
// of the same name.
func (l *WSListener) ListenAndServe() error {
	err := l.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (l *WSListener) Accept(ctx context.Context) (Session, error) {
	select {
	case s := <-l.incoming:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *WSListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.server.Shutdown(ctx)
}

func (l *WSListener) Addr() string { return l.addr }

// WSDialer opens outbound Chum connections over ws://.
type WSDialer struct{}

func (WSDialer) Dial(ctx context.Context, addr string) (Session, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, err
	}
	return newWSSession(conn), nil
}
