package collab

import (
	"collabdocs/metrics"

	"github.com/sirupsen/logrus"
)

// Sender delivers one event to one connection handle. The socket layer
// provides the real implementation; tests substitute a recording fake.
type Sender interface {
	Send(connID string, event string, payload any) error
}

// Relay routes edit and cursor events from one participant to every other
// participant in the same room. Deliveries are fire-and-forget: a target
// whose connection closed since the member snapshot was taken is skipped,
// and a failed send never fails the relay operation or reaches the sender.
type Relay struct {
	registry *Registry
	sender   Sender
}

// NewRelay wires a relay over a presence registry and an outbound sender.
func NewRelay(registry *Registry, sender Sender) *Relay {
	return &Relay{registry: registry, sender: sender}
}

// RelayDelta delivers a text-change delta verbatim to every other member of
// the sender's room. The sender never receives an echo of its own edit.
func (r *Relay) RelayDelta(senderConn string, ev *TextChange) {
	targets := r.registry.MembersOf(ev.DocumentID, senderConn)
	r.fanOut(senderConn, targets, "receive-changes", ReceiveChanges{Delta: ev.Delta})
	metrics.DeltasRelayed.Inc()
}

// RelayCursor records the sender's latest locus and delivers it to every
// other member of the room. Receivers treat the latest locus per sender as
// superseding all earlier ones.
func (r *Relay) RelayCursor(senderConn, displayName string, ev *CursorMove) {
	r.registry.UpdateCursor(senderConn, ev.Cursor)

	targets := r.registry.MembersOf(ev.DocumentID, senderConn)
	r.fanOut(senderConn, targets, "cursor-update", CursorUpdate{
		SenderID:    senderConn,
		DisplayName: displayName,
		Cursor:      ev.Cursor,
	})
	metrics.CursorsRelayed.Inc()
}

// NotifyPresence broadcasts a joined/left notification to the current
// members of a room, excluding the subject connection. Best-effort,
// at-most-once.
func (r *Relay) NotifyPresence(documentID, connID, displayName, event string) {
	targets := r.registry.MembersOf(documentID, connID)
	r.fanOut(connID, targets, event, PresenceChange{
		SenderID:    connID,
		DisplayName: displayName,
	})
}

func (r *Relay) fanOut(senderConn string, targets []*Participant, event string, payload any) {
	for _, target := range targets {
		if err := r.sender.Send(target.ConnID, event, payload); err != nil {
			// Target raced a disconnect; drop this single delivery.
			metrics.RelayDrops.Inc()
			logrus.WithFields(logrus.Fields{
				"event": event,
				"from":  senderConn,
				"to":    target.ConnID,
			}).Debug("Dropped relay delivery to closed connection")
		}
	}
}
