package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"
)

// ShareRole is the access level attached to a share grant.
type ShareRole string

const (
	RoleViewer ShareRole = "viewer"
	RoleEditor ShareRole = "editor"
)

// ValidRole reports whether r is one of the two supported share roles.
func ValidRole(r ShareRole) bool {
	return r == RoleViewer || r == RoleEditor
}

type (
	// ShareGrant is an owner-issued token granting non-owner access to a
	// document. Tokens are unique within a document's grant list and are
	// never revoked.
	ShareGrant struct {
		Token     string    `json:"token"`
		Role      ShareRole `json:"role"`
		CreatedAt time.Time `json:"createdAt"`
	}

	// Document is a durable rich-text document. Content is an opaque
	// serialized blob (e.g. rendered markup) that the server stores and
	// returns verbatim, never inspecting or diffing it.
	Document struct {
		ID          string          `json:"id"`
		OwnerID     string          `json:"-"` // Not exposed in JSON responses, used internally.
		Title       string          `json:"title"`
		Content     json.RawMessage `json:"content,omitempty"`
		ShareGrants []ShareGrant    `json:"shareGrants,omitempty"`
		CreatedAt   time.Time       `json:"createdAt"`
		UpdatedAt   time.Time       `json:"updatedAt"`
	}

	// DocumentStore defines the persistence layer for user-owned documents.
	// Every operation is scoped to an owner id; a bare document id is never
	// enough to touch stored state. This doubles as the authorization check.
	DocumentStore interface {
		// Create stores a new document and returns it with its assigned id.
		Create(ctx context.Context, ownerID, title string, content json.RawMessage) (*Document, error)

		// ListByOwner returns all documents owned by a user, most recently
		// updated first. The Content field is omitted to keep list responses
		// light.
		ListByOwner(ctx context.Context, ownerID string) ([]*Document, error)

		// GetByIDAndOwner returns a single document, ensuring it belongs to
		// the owner. Returns ErrNotFound otherwise.
		GetByIDAndOwner(ctx context.Context, id, ownerID string) (*Document, error)

		// UpdateByIDAndOwner overwrites content (and title, when non-empty)
		// of an owned document. The previous content is fully replaced; there
		// is no merge. Returns ErrNotFound if no matching id/owner pair
		// exists.
		UpdateByIDAndOwner(ctx context.Context, id, ownerID string, content json.RawMessage, title string) (*Document, error)

		// AddShareGrant appends a new {token, role} grant to an owned
		// document and returns the grant. Returns ErrNotFound if the
		// document is missing or not owned by ownerID.
		AddShareGrant(ctx context.Context, id, ownerID string, role ShareRole) (*ShareGrant, error)
	}
)

// NewShareToken returns an opaque, high-entropy share token.
func NewShareToken() string {
	b := make([]byte, 12)
	rand.Read(b)
	return hex.EncodeToString(b)
}
