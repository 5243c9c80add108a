package dispatch

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/consultora1700/mubitt-san-juan/internal/models"
)

// WSSession represents a connected driver session.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// WSRegistry holds driver websocket sessions and is the primary
// OfferChannel: offers and trip updates are pushed over the driver's
// open socket.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[driverID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[driverID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(driverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[driverID]; ok {
		_ = s.conn.Close()
		delete(r.sessions, driverID)
	}
}

// RemoveConn drops the session only if conn is still the active one,
// so a dead connection's read pump cannot evict its replacement.
func (r *WSRegistry) RemoveConn(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[driverID]; ok && s.conn == conn {
		_ = s.conn.Close()
		delete(r.sessions, driverID)
	}
}

func (r *WSRegistry) Deliver(offer models.MatchOffer) error {
	return r.push(offer.DriverID, wsMessage{Type: "match_offer", Payload: offer})
}

// Notify sends an out-of-band message (trip updates, cancellations) to
// a connected driver. Best-effort.
func (r *WSRegistry) Notify(driverID string, msgType string, payload any) error {
	return r.push(driverID, wsMessage{Type: msgType, Payload: payload})
}

func (r *WSRegistry) push(driverID string, msg wsMessage) error {
	r.mu.RLock()
	s, ok := r.sessions[driverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.send(msg)
}

type wsMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
