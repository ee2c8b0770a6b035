package collab

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"collabdocs/core"
	"collabdocs/metrics"

	"github.com/sirupsen/logrus"
)

// Saver coordinates persistence of session content against the document
// store. The consistency model is last-write-wins with no merge: when two
// sessions save the same document, the later write as observed by the store
// fully overwrites the earlier one. The relay keeps live editors converging
// during the session; persistence only races to capture a snapshot.
type Saver struct {
	store    core.DocumentStore
	interval time.Duration
}

// NewSaver returns a Saver flushing dirty snapshots every interval.
func NewSaver(store core.DocumentStore, interval time.Duration) *Saver {
	return &Saver{store: store, interval: interval}
}

// Load fetches the durable content of an owned document. Returns
// core.ErrNotFound when the document is absent or not owned by ownerID.
func (s *Saver) Load(ctx context.Context, documentID, ownerID string) (json.RawMessage, error) {
	doc, err := s.store.GetByIDAndOwner(ctx, documentID, ownerID)
	if err != nil {
		return nil, err
	}
	return doc.Content, nil
}

// ManualSave writes a content snapshot on explicit user request and reports
// the outcome immediately.
func (s *Saver) ManualSave(ctx context.Context, documentID, ownerID string, content json.RawMessage, title string) (*core.Document, error) {
	doc, err := s.store.UpdateByIDAndOwner(ctx, documentID, ownerID, content, title)
	if err != nil {
		metrics.SavesTotal.WithLabelValues("manual", "error").Inc()
		return nil, err
	}
	metrics.SavesTotal.WithLabelValues("manual", "ok").Inc()
	return doc, nil
}

// Autosave writes a content snapshot on behalf of the periodic loop. The
// outcome is reported but never fatal; the caller's timer continues on its
// next tick regardless.
func (s *Saver) Autosave(ctx context.Context, documentID, ownerID string, content json.RawMessage) error {
	_, err := s.store.UpdateByIDAndOwner(ctx, documentID, ownerID, content, "")
	if err != nil {
		metrics.SavesTotal.WithLabelValues("auto", "error").Inc()
		return err
	}
	metrics.SavesTotal.WithLabelValues("auto", "ok").Inc()
	return nil
}

// StatusFunc receives the outcome of each autosave tick, so the session can
// surface a save indicator to its client.
type StatusFunc func(status SaveStatus)

// AutosaveLoop owns the periodic persistence of one session's snapshot. The
// session feeds it snapshots as the client reports them; the loop flushes
// the latest one on each tick while dirty. Cancelling the context stops the
// ticker immediately; an in-flight save is allowed to complete but its
// result is discarded.
type AutosaveLoop struct {
	saver      *Saver
	documentID string
	ownerID    string
	status     StatusFunc

	mu       sync.Mutex
	snapshot json.RawMessage
	dirty    bool
}

// NewAutosaveLoop prepares an autosave loop for one joined session.
func (s *Saver) NewAutosaveLoop(documentID, ownerID string, status StatusFunc) *AutosaveLoop {
	return &AutosaveLoop{
		saver:      s,
		documentID: documentID,
		ownerID:    ownerID,
		status:     status,
	}
}

// Update records the client's latest full content snapshot. Last write wins.
func (l *AutosaveLoop) Update(content json.RawMessage) {
	l.mu.Lock()
	l.snapshot = content
	l.dirty = true
	l.mu.Unlock()
}

// Run ticks until ctx is cancelled. It never holds a registry lock and
// performs store I/O outside the snapshot lock.
func (l *AutosaveLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.saver.interval)
	defer ticker.Stop()

	log := logrus.WithFields(logrus.Fields{
		"document_id": l.documentID,
		"owner_id":    l.ownerID,
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			if !l.dirty {
				l.mu.Unlock()
				continue
			}
			snapshot := l.snapshot
			l.dirty = false
			l.mu.Unlock()

			err := l.saver.Autosave(ctx, l.documentID, l.ownerID, snapshot)
			if ctx.Err() != nil {
				// Session is gone; the save result is discarded.
				return
			}
			if err != nil {
				log.WithError(err).Warn("Autosave failed, will retry on next tick")
				// Keep the snapshot dirty so the next tick retries it,
				// unless a newer one arrived meanwhile.
				l.mu.Lock()
				if !l.dirty {
					l.snapshot = snapshot
					l.dirty = true
				}
				l.mu.Unlock()
				l.report(SaveStatus{Status: "error", Error: err.Error()})
				continue
			}
			log.Debug("Autosaved document snapshot")
			l.report(SaveStatus{Status: "saved"})
		}
	}
}

func (l *AutosaveLoop) report(status SaveStatus) {
	if l.status != nil {
		l.status(status)
	}
}
