package main

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pointsarena/server/internal/auth"
	"pointsarena/server/internal/config"
	"pointsarena/server/internal/ledger"
	"pointsarena/server/internal/logging"
	"pointsarena/server/internal/room"
	"pointsarena/server/internal/session"
)

// client is one live websocket connection with its outbound queue.
type client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	closed    atomic.Bool
	closeOnce sync.Once
}

// shutdown closes the outbound queue exactly once; the write pump reacts by
// emitting a close frame and tearing the connection down. The closed flag is
// raised first so queued frames dispatched after teardown cannot write to the
// closed channel.
func (c *client) shutdown() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.send)
	})
}

// inboundEvent is one unit of work for the dispatch loop. Either frame holds
// a decoded-but-unrouted websocket message, or disconnect marks the
// connection as gone.
type inboundEvent struct {
	client     *client
	frame      []byte
	disconnect bool
}

type serverOption func(*Server)

// WithRoomIDs overrides the room id generator; primarily used in tests.
func WithRoomIDs(newID func() string) serverOption {
	return func(s *Server) {
		if newID != nil {
			s.rooms = room.NewManager(newID)
		}
	}
}

// Server owns every live connection plus the session, room, and ledger
// collaborators. All game state is mutated from the single dispatch
// goroutine, so handlers never lock session or room records themselves.
type Server struct {
	cfg      *config.Config
	log      *logging.Logger
	store    ledger.Store
	verifier auth.Verifier

	sessions *session.Registry
	rooms    *room.Manager

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client

	inbox chan inboundEvent
	done  chan struct{}

	startedAt      time.Time
	startupErr     error
	matchesSettled atomic.Int64
	pointsMoved    atomic.Int64
}

// NewServer wires the collaborators together. Run must be started before the
// first websocket upgrade for frames to be dispatched.
func NewServer(cfg *config.Config, logger *logging.Logger, store ledger.Store, verifier auth.Verifier, opts ...serverOption) *Server {
	if logger == nil {
		logger = logging.L()
	}
	s := &Server{
		cfg:       cfg,
		log:       logger,
		store:     store,
		verifier:  verifier,
		sessions:  session.NewRegistry(cfg.MaxClients, store),
		rooms:     room.NewManager(uuid.NewString),
		clients:   make(map[string]*client),
		inbox:     make(chan inboundEvent, 256),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// checkOrigin admits any origin when no allowlist was configured, otherwise
// requires an exact match against the configured entries.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Run drains the inbox until Stop is called, applying events strictly one at
// a time. Disconnects travel through the same channel as frames so teardown
// can never race a handler for the same connection.
func (s *Server) Run() {
	for {
		select {
		case ev := <-s.inbox:
			s.dispatch(ev)
		case <-s.done:
			return
		}
	}
}

// Stop terminates the dispatch loop. Live connections are closed by their
// pumps when the process exits; Stop does not drain the inbox.
func (s *Server) Stop() {
	close(s.done)
}

func (s *Server) dispatch(ev inboundEvent) {
	if ev.disconnect {
		s.handleDisconnect(ev.client)
		return
	}
	s.handleFrame(ev.client, ev.frame)
}

// ServeWS upgrades the HTTP request and starts the per-connection pumps.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", logging.String("remote", r.RemoteAddr), logging.Error(err))
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.log.Info("connection opened", logging.String("conn_id", c.id), logging.String("remote", r.RemoteAddr))

	go s.readPump(c)
	go s.writePump(c)
}

// readPump feeds raw frames into the shared inbox and reports the
// connection's death exactly once when reading fails.
func (s *Server) readPump(c *client) {
	defer func() {
		c.conn.Close()
		s.inbox <- inboundEvent{client: c, disconnect: true}
	}()
	c.conn.SetReadLimit(s.cfg.MaxPayloadBytes)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		s.inbox <- inboundEvent{client: c, frame: msg}
	}
}

// writePump drains the outbound queue and keeps the connection alive with
// periodic pings.
func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.WriteMessage(websocket.TextMessage, msg)
		case <-ticker.C:
			_ = c.conn.WriteMessage(websocket.PingMessage, []byte{})
		}
	}
}

// sendTo queues a frame for one connection; a client that cannot keep up is
// dropped rather than allowed to stall the dispatch loop.
func (s *Server) sendTo(c *client, payload []byte) {
	//1.- Frames queued behind a logout or a slow-client drop still reach the
	// dispatch loop holding this pointer; writing past shutdown would panic.
	if c.closed.Load() {
		return
	}
	select {
	case c.send <- payload:
	default:
		s.log.Warn("dropping slow client", logging.String("conn_id", c.id))
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		c.shutdown()
	}
}

func (s *Server) sendToConn(connID string, payload []byte) {
	s.mu.RLock()
	c, ok := s.clients[connID]
	s.mu.RUnlock()
	if ok {
		s.sendTo(c, payload)
	}
}

// broadcastRoom fans a frame out to every member of the room snapshot.
func (s *Server) broadcastRoom(snap room.Snapshot, payload []byte) {
	for _, connID := range snap.Members {
		s.sendToConn(connID, payload)
	}
}

// broadcastAll fans a frame out to every authenticated connection.
func (s *Server) broadcastAll(payload []byte) {
	s.mu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		if s.sessions.ByConnection(c.id) != nil {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()
	for _, c := range targets {
		s.sendTo(c, payload)
	}
}

// pushRoster broadcasts the current online roster to every session.
func (s *Server) pushRoster() {
	s.broadcastAll(envelope(eventRoster, struct {
		Players []session.RosterEntry `json:"players"`
	}{Players: s.sessions.Roster()}))
}

// pushRoomList broadcasts the open (joinable) rooms to every session.
func (s *Server) pushRoomList() {
	s.broadcastAll(envelope(eventRoomList, struct {
		Rooms []roomView `json:"rooms"`
	}{Rooms: s.openRoomViews()}))
}

func (s *Server) openRoomViews() []roomView {
	open := s.rooms.Open()
	views := make([]roomView, 0, len(open))
	for _, snap := range open {
		views = append(views, s.viewOfRoom(snap))
	}
	return views
}

// viewOfRoom renders a snapshot for the wire, resolving connection ids into
// display names so internals never leak to clients.
func (s *Server) viewOfRoom(snap room.Snapshot) roomView {
	members := make([]string, 0, len(snap.Members))
	for _, connID := range snap.Members {
		if sess := s.sessions.ByConnection(connID); sess != nil {
			members = append(members, sess.DisplayName)
		}
	}
	return roomView{
		ID:      snap.ID,
		Game:    snap.GameKind,
		Status:  string(snap.Status),
		Stake:   snap.Stake,
		Members: members,
	}
}

// handleDisconnect tears down whatever the connection still holds: room
// membership first, then the session, then the client record. Safe to call
// twice; the second invocation finds nothing to remove and goes quiet.
func (s *Server) handleDisconnect(c *client) {
	s.mu.Lock()
	_, known := s.clients[c.id]
	delete(s.clients, c.id)
	s.mu.Unlock()
	if !known {
		return
	}
	c.shutdown()

	departure, left := s.rooms.Leave(c.id)
	sess := s.sessions.ByConnection(c.id)
	s.sessions.Remove(c.id)

	if left && !departure.Deleted {
		name := c.id
		if sess != nil {
			name = sess.DisplayName
		}
		s.broadcastRoom(departure.Room, envelope(eventMemberLeft, struct {
			Room   roomView `json:"room"`
			Player string   `json:"player"`
			Reason string   `json:"reason"`
		}{Room: s.viewOfRoom(departure.Room), Player: name, Reason: "disconnected"}))
	}
	if sess != nil {
		s.log.Info("session closed",
			logging.String("conn_id", c.id),
			logging.String("account_id", sess.AccountID))
		s.pushRoster()
	}
	if left {
		s.pushRoomList()
	}
}

// SnapshotCounts reports live session and room totals for readiness checks.
func (s *Server) SnapshotCounts() (int, int) {
	return s.sessions.Count(), s.rooms.Count()
}

// StartupError surfaces a boot failure to the readiness endpoint.
func (s *Server) StartupError() error {
	return s.startupErr
}

// Uptime reports time elapsed since the server was constructed.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// Stats reports cumulative settlement counters for the stats endpoint.
func (s *Server) Stats() (int64, int64) {
	return s.matchesSettled.Load(), s.pointsMoved.Load()
}

// listenerURL returns a human-friendly URL for the arena listener address.
// 1.- Pick the advertised scheme from TLS configuration.
// 2.- Normalise the configured address so the message always shows a reachable host:port pair.
func listenerURL(address string, tlsEnabled bool) string {
	scheme := "ws"
	if tlsEnabled {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, normaliseHostPort(address))
}

func normaliseHostPort(address string) string {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "localhost"
	}
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		if strings.HasPrefix(trimmed, ":") {
			return "localhost" + trimmed
		}
		return trimmed
	}
	host = strings.TrimSpace(host)
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
