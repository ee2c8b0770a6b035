package collab

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// Inbound realtime events form a closed set of typed payloads. Raw socket
// arguments are decoded and validated here; nothing malformed reaches the
// registry or the relay.
type (
	// JoinDocument asks to enter the room for a document.
	JoinDocument struct {
		DocumentID  string `mapstructure:"docId" validate:"required"`
		DisplayName string `mapstructure:"userName"`
	}

	// TextChange carries one opaque edit operation. The delta is relayed
	// verbatim; the server never interprets it.
	TextChange struct {
		DocumentID string `mapstructure:"docId" validate:"required"`
		Delta      any    `mapstructure:"delta" validate:"required"`
	}

	// CursorMove carries the sender's latest cursor locus.
	CursorMove struct {
		DocumentID string `mapstructure:"docId" validate:"required"`
		Cursor     Locus  `mapstructure:"cursor"`
	}

	// ContentSync reports the sender's current full content snapshot, which
	// feeds that session's autosave loop.
	ContentSync struct {
		DocumentID string          `mapstructure:"docId" validate:"required"`
		Content    json.RawMessage `mapstructure:"-"`
	}
)

// Outbound event payloads.
type (
	ReceiveChanges struct {
		Delta any `json:"delta"`
	}

	CursorUpdate struct {
		SenderID    string `json:"socketId"`
		DisplayName string `json:"name"`
		Cursor      Locus  `json:"cursor"`
	}

	PresenceChange struct {
		SenderID    string `json:"socketId"`
		DisplayName string `json:"name"`
	}

	DocLoad struct {
		Content json.RawMessage `json:"content"`
	}

	SaveStatus struct {
		Status string `json:"status"` // "saved" or "error"
		Error  string `json:"error,omitempty"`
	}

	EventError struct {
		Event string `json:"event"`
		Error string `json:"error"`
	}
)

var validate = validator.New()

// decodeEvent maps a raw socket argument onto a typed payload and validates
// it. Unknown fields are ignored; missing required fields are an error.
func decodeEvent(raw any, out any) error {
	m, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("payload must be an object, got %T", raw)
	}
	if err := mapstructure.Decode(m, out); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// DecodeJoinDocument parses a join-document payload. An absent display name
// is left empty; the session layer picks the fallback.
func DecodeJoinDocument(raw any) (*JoinDocument, error) {
	var ev JoinDocument
	if err := decodeEvent(raw, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// DecodeTextChange parses a text-change payload.
func DecodeTextChange(raw any) (*TextChange, error) {
	var ev TextChange
	if err := decodeEvent(raw, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// DecodeCursorMove parses a cursor-move payload.
func DecodeCursorMove(raw any) (*CursorMove, error) {
	var ev CursorMove
	if err := decodeEvent(raw, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// DecodeContentSync parses a content-sync payload. The content blob is
// re-serialized as-is; the server treats it as opaque.
func DecodeContentSync(raw any) (*ContentSync, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("payload must be an object, got %T", raw)
	}

	var ev ContentSync
	if err := mapstructure.Decode(m, &ev); err != nil {
		return nil, fmt.Errorf("malformed payload: %w", err)
	}
	if err := validate.Struct(&ev); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	content, present := m["content"]
	if !present {
		return nil, fmt.Errorf("invalid payload: content is required")
	}
	// Rich-text snapshots embed HTML; keep it verbatim instead of letting
	// the encoder escape angle brackets.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(content); err != nil {
		return nil, fmt.Errorf("malformed content: %w", err)
	}
	ev.Content = json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n"))
	return &ev, nil
}
