package collab

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrAlreadyJoined is returned when a connection attempts a second join
// while still registered to a room. The rejected join leaves the existing
// registration untouched; clients must leave (or reconnect) before joining
// another document.
var ErrAlreadyJoined = errors.New("connection already joined to a document")

type (
	// Locus is a cursor position inside a document, mirroring an editor
	// selection range.
	Locus struct {
		Index  int `json:"index" mapstructure:"index"`
		Length int `json:"length" mapstructure:"length"`
	}

	// Participant is one live connection's membership within a room. It
	// exists only while the connection is open and joined.
	Participant struct {
		ConnID      string
		DocumentID  string
		DisplayName string
		Cursor      *Locus
		JoinedAt    time.Time
	}

	// room holds the member set for one document id, with its own lock so
	// traffic on one document never contends with another.
	room struct {
		mu      sync.RWMutex
		members map[string]*Participant
	}

	// Registry tracks which connections are joined to which documents. It
	// is purely ephemeral state, rebuilt from nothing on restart. All
	// methods are safe for concurrent use from independent connections.
	Registry struct {
		mu     sync.RWMutex
		byConn map[string]*room          // connection id -> room it belongs to
		rooms  map[string]*room          // document id -> room
		docs   map[*room]string          // room -> document id, for logging on leave
	}
)

// NewRegistry returns an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]*room),
		rooms:  make(map[string]*room),
		docs:   make(map[*room]string),
	}
}

// Join registers a connection under documentID and returns its Participant.
// A connection may belong to at most one room; any join while already
// registered fails with ErrAlreadyJoined.
func (r *Registry) Join(documentID, connID, displayName string) (*Participant, error) {
	r.mu.Lock()
	if _, joined := r.byConn[connID]; joined {
		r.mu.Unlock()
		return nil, ErrAlreadyJoined
	}
	rm, ok := r.rooms[documentID]
	if !ok {
		rm = &room{members: make(map[string]*Participant)}
		r.rooms[documentID] = rm
		r.docs[rm] = documentID
	}
	r.byConn[connID] = rm

	p := &Participant{
		ConnID:      connID,
		DocumentID:  documentID,
		DisplayName: displayName,
		JoinedAt:    time.Now(),
	}

	// Insert under the registry lock so a concurrent Leave cannot retire
	// the room between lookup and insertion.
	rm.mu.Lock()
	rm.members[connID] = p
	rm.mu.Unlock()
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"document_id": documentID,
		"conn_id":     connID,
		"name":        displayName,
	}).Info("Participant joined room")

	return p, nil
}

// Leave removes the connection's Participant and returns it. Idempotent:
// leaving twice, or with an unknown handle, is a no-op reporting false.
func (r *Registry) Leave(connID string) (*Participant, bool) {
	r.mu.Lock()
	rm, ok := r.byConn[connID]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	delete(r.byConn, connID)

	rm.mu.Lock()
	p := rm.members[connID]
	delete(rm.members, connID)
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	docID := r.docs[rm]
	if empty {
		delete(r.rooms, docID)
		delete(r.docs, rm)
	}
	r.mu.Unlock()

	if p == nil {
		return nil, false
	}

	logrus.WithFields(logrus.Fields{
		"document_id": docID,
		"conn_id":     connID,
	}).Info("Participant left room")

	return p, true
}

// MembersOf returns a snapshot of the Participants joined to documentID,
// excluding excludeConn. The returned copies are safe to read without
// holding any registry lock.
func (r *Registry) MembersOf(documentID, excludeConn string) []*Participant {
	r.mu.RLock()
	rm, ok := r.rooms[documentID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()

	members := make([]*Participant, 0, len(rm.members))
	for id, p := range rm.members {
		if id == excludeConn {
			continue
		}
		cp := *p
		if p.Cursor != nil {
			c := *p.Cursor
			cp.Cursor = &c
		}
		members = append(members, &cp)
	}
	return members
}

// UpdateCursor records the latest cursor locus for a connection. The latest
// write wins; an unknown handle (a cursor event racing a disconnect) is a
// silent no-op.
func (r *Registry) UpdateCursor(connID string, locus Locus) {
	r.mu.RLock()
	rm, ok := r.byConn[connID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	rm.mu.Lock()
	if p, ok := rm.members[connID]; ok {
		p.Cursor = &locus
	}
	rm.mu.Unlock()
}

// DocumentOf returns the document id a connection is currently joined to.
func (r *Registry) DocumentOf(connID string) (string, bool) {
	r.mu.RLock()
	rm, ok := r.byConn[connID]
	if !ok {
		r.mu.RUnlock()
		return "", false
	}
	docID := r.docs[rm]
	r.mu.RUnlock()
	return docID, true
}
