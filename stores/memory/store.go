package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"collabdocs/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// memStore implements DocumentStore and UserStore for in-memory storage.
// State is instance-scoped so tests can run stores side by side.
type memStore struct {
	mu           sync.RWMutex
	documents    map[string]*core.Document
	usersByEmail map[string]*core.User
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		documents:    make(map[string]*core.Document),
		usersByEmail: make(map[string]*core.User),
	}
}

func cloneDocument(doc *core.Document, withContent bool) *core.Document {
	cp := *doc
	if withContent {
		cp.Content = append(json.RawMessage(nil), doc.Content...)
	} else {
		cp.Content = nil
	}
	cp.ShareGrants = append([]core.ShareGrant(nil), doc.ShareGrants...)
	return &cp
}

func (s *memStore) Create(ctx context.Context, ownerID, title string, content json.RawMessage) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	doc := &core.Document{
		ID:        ulid.Make().String(),
		OwnerID:   ownerID,
		Title:     title,
		Content:   append(json.RawMessage(nil), content...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.documents[doc.ID] = doc

	logrus.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"owner_id":    ownerID,
	}).Info("Document created successfully")

	return cloneDocument(doc, true), nil
}

func (s *memStore) ListByOwner(ctx context.Context, ownerID string) ([]*core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]*core.Document, 0)
	for _, doc := range s.documents {
		if doc.OwnerID == ownerID {
			docs = append(docs, cloneDocument(doc, false))
		}
	}

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})

	logrus.WithField("owner_id", ownerID).Infof("Listed %d documents", len(docs))
	return docs, nil
}

func (s *memStore) GetByIDAndOwner(ctx context.Context, id, ownerID string) (*core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok || doc.OwnerID != ownerID {
		logrus.WithFields(logrus.Fields{
			"document_id": id,
			"owner_id":    ownerID,
		}).Warn("Document not found for owner")
		return nil, core.ErrNotFound
	}
	return cloneDocument(doc, true), nil
}

func (s *memStore) UpdateByIDAndOwner(ctx context.Context, id, ownerID string, content json.RawMessage, title string) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok || doc.OwnerID != ownerID {
		return nil, core.ErrNotFound
	}

	doc.Content = append(json.RawMessage(nil), content...)
	if title != "" {
		doc.Title = title
	}
	doc.UpdatedAt = time.Now()

	logrus.WithFields(logrus.Fields{
		"document_id": id,
		"owner_id":    ownerID,
		"data_length": len(content),
	}).Info("Document updated successfully")

	return cloneDocument(doc, true), nil
}

func (s *memStore) AddShareGrant(ctx context.Context, id, ownerID string, role core.ShareRole) (*core.ShareGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok || doc.OwnerID != ownerID {
		return nil, core.ErrNotFound
	}

	grant := core.ShareGrant{
		Token:     core.NewShareToken(),
		Role:      role,
		CreatedAt: time.Now(),
	}
	doc.ShareGrants = append(doc.ShareGrants, grant)

	logrus.WithFields(logrus.Fields{
		"document_id": id,
		"role":        role,
	}).Info("Share grant created")

	return &grant, nil
}

func (s *memStore) CreateUser(ctx context.Context, email, passwordHash string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByEmail[email]; exists {
		return nil, core.ErrUserExists
	}

	user := &core.User{
		ID:           ulid.Make().String(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	s.usersByEmail[email] = user

	logrus.WithField("user_id", user.ID).Info("User created successfully")

	cp := *user
	return &cp, nil
}

func (s *memStore) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByEmail[email]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *user
	return &cp, nil
}
