package websocket

import (
	"context"
	"sync"

	"collabdocs/collab"
	"collabdocs/metrics"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// TokenParser resolves a bearer credential to a principal id and display
// name, or fails. The auth package provides the real implementation.
type TokenParser func(token string) (principalID, displayName string, err error)

// emitFunc delivers one event back to the session's own connection.
type emitFunc func(event string, payload any)

// session is the per-connection lifecycle state: Connected (no participant),
// Joined (participant set, autosave running), Closed (torn down). There is
// no transition back from Joined to Connected; a new document needs a new
// connection.
type session struct {
	mu             sync.Mutex
	principalID    string
	displayName    string
	participant    *collab.Participant
	loop           *collab.AutosaveLoop
	cancelAutosave context.CancelFunc
}

// hub bundles the collaborators every connection's event handlers share.
type hub struct {
	registry   *collab.Registry
	saver      *collab.Saver
	relay      *collab.Relay
	parseToken TokenParser
}

// serverSender addresses a single connection through its private room.
type serverSender struct {
	srv *socketio.Server
}

func (s *serverSender) Send(connID string, event string, payload any) error {
	return s.srv.To(socketio.Room(connID)).Emit(event, payload)
}

// join authenticates the credential, registers the connection and starts its
// autosave loop. The credential is resolved before any registry mutation; a
// rejected join leaves the registry exactly as it was.
func (h *hub) join(sess *session, connID, credential string, raw any, emit emitFunc, log *logrus.Entry) {
	ev, err := collab.DecodeJoinDocument(raw)
	if err != nil {
		log.WithError(err).Warn("Rejected malformed join-document")
		emit("error-event", collab.EventError{Event: "join-document", Error: err.Error()})
		return
	}

	principalID, displayName, err := h.parseToken(credential)
	if err != nil {
		log.WithError(err).Warn("Rejected unauthenticated join")
		emit("unauthorized", collab.EventError{Event: "join-document", Error: "invalid or missing credential"})
		return
	}
	// The payload name wins over the credential's name.
	if ev.DisplayName != "" {
		displayName = ev.DisplayName
	}
	if displayName == "" {
		displayName = "Anonymous"
	}

	participant, err := h.registry.Join(ev.DocumentID, connID, displayName)
	if err != nil {
		log.WithError(err).Warn("Rejected join")
		emit("error-event", collab.EventError{Event: "join-document", Error: err.Error()})
		return
	}
	metrics.ParticipantsActive.Inc()

	h.relay.NotifyPresence(ev.DocumentID, connID, displayName, "user-joined")

	// Start the joining session from the durable snapshot; live members
	// converge via relay, not via this load.
	if content, err := h.saver.Load(context.Background(), ev.DocumentID, principalID); err != nil {
		log.WithError(err).WithField("document_id", ev.DocumentID).Warn("Initial load failed")
	} else {
		emit("doc-load", collab.DocLoad{Content: content})
	}

	loop := h.saver.NewAutosaveLoop(ev.DocumentID, principalID, func(status collab.SaveStatus) {
		emit("save-status", status)
	})
	ctx, cancel := context.WithCancel(context.Background())

	sess.mu.Lock()
	sess.principalID = principalID
	sess.displayName = displayName
	sess.participant = participant
	sess.loop = loop
	sess.cancelAutosave = cancel
	sess.mu.Unlock()

	go loop.Run(ctx)

	log.WithFields(logrus.Fields{
		"document_id": ev.DocumentID,
		"name":        displayName,
	}).Info("Session joined document")
}

// teardown cancels the session's autosave timer, removes its registry entry
// and notifies the remaining room members. Idempotent: a leave followed by
// the transport-level disconnect is a no-op the second time.
func (h *hub) teardown(sess *session, connID string, log *logrus.Entry) {
	sess.mu.Lock()
	participant := sess.participant
	cancel := sess.cancelAutosave
	name := sess.displayName
	sess.participant = nil
	sess.loop = nil
	sess.cancelAutosave = nil
	sess.mu.Unlock()

	if participant == nil {
		return
	}
	if cancel != nil {
		cancel()
	}

	if _, removed := h.registry.Leave(connID); removed {
		metrics.ParticipantsActive.Dec()
		h.relay.NotifyPresence(participant.DocumentID, connID, name, "user-left")
		log.WithField("document_id", participant.DocumentID).Info("Session closed")
	}
}

func joinedTo(sess *session, documentID string) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.participant != nil && sess.participant.DocumentID == documentID
}

// Setup builds the socket.io server and wires the realtime session
// lifecycle: authenticated join, delta/cursor relay, snapshot sync,
// presence teardown on disconnect.
func Setup(registry *collab.Registry, saver *collab.Saver, parseToken TokenParser, clientOrigin string) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      clientOrigin,
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)
	h := &hub{
		registry:   registry,
		saver:      saver,
		relay:      collab.NewRelay(registry, &serverSender{srv: srv}),
		parseToken: parseToken,
	}

	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		me := string(socket.Id())
		sess := &session{}
		log := logrus.WithField("conn_id", me)
		log.Info("Connection established")

		emit := func(event string, payload any) {
			_ = socket.Emit(event, payload)
		}

		socket.On("join-document", func(datas ...any) {
			if len(datas) == 0 {
				emit("error-event", collab.EventError{Event: "join-document", Error: "payload is required"})
				return
			}
			h.join(sess, me, handshakeToken(socket), datas[0], emit, log)
		})

		socket.On("text-change", func(datas ...any) {
			if len(datas) == 0 {
				return
			}
			ev, err := collab.DecodeTextChange(datas[0])
			if err != nil {
				log.WithError(err).Warn("Rejected malformed text-change")
				emit("error-event", collab.EventError{Event: "text-change", Error: err.Error()})
				return
			}
			if !joinedTo(sess, ev.DocumentID) {
				emit("error-event", collab.EventError{Event: "text-change", Error: "not joined to this document"})
				return
			}
			h.relay.RelayDelta(me, ev)
		})

		socket.On("cursor-move", func(datas ...any) {
			if len(datas) == 0 {
				return
			}
			ev, err := collab.DecodeCursorMove(datas[0])
			if err != nil {
				log.WithError(err).Warn("Rejected malformed cursor-move")
				emit("error-event", collab.EventError{Event: "cursor-move", Error: err.Error()})
				return
			}
			if !joinedTo(sess, ev.DocumentID) {
				return
			}
			sess.mu.Lock()
			name := sess.displayName
			sess.mu.Unlock()
			h.relay.RelayCursor(me, name, ev)
		})

		socket.On("content-sync", func(datas ...any) {
			if len(datas) == 0 {
				return
			}
			ev, err := collab.DecodeContentSync(datas[0])
			if err != nil {
				log.WithError(err).Warn("Rejected malformed content-sync")
				emit("error-event", collab.EventError{Event: "content-sync", Error: err.Error()})
				return
			}
			if !joinedTo(sess, ev.DocumentID) {
				return
			}
			sess.mu.Lock()
			loop := sess.loop
			sess.mu.Unlock()
			if loop != nil {
				loop.Update(ev.Content)
			}
		})

		socket.On("leave-document", func(datas ...any) {
			h.teardown(sess, me, log)
		})

		socket.On("disconnecting", func(datas ...any) {
			h.teardown(sess, me, log)
		})

		socket.On("disconnect", func(datas ...any) {
			socket.RemoveAllListeners("")
			socket.Disconnect(true)
		})
	})

	return srv
}

// handshakeToken reads the bearer credential from the socket handshake.
func handshakeToken(socket *socketio.Socket) string {
	if hs := socket.Handshake(); hs != nil {
		if auth, ok := hs.Auth.(map[string]any); ok {
			token, _ := auth["token"].(string)
			return token
		}
	}
	return ""
}
