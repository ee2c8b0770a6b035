package filesystem

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"collabdocs/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// fsStore keeps each owner's documents as JSON files under
// <base>/docs/<owner>/<id> and users under <base>/users/<hex(email)>.
// A single instance-level mutex serializes writers; concurrent sessions of
// the same document go through the store one at a time, last write wins.
type fsStore struct {
	basePath string
	mu       sync.Mutex
}

type storedDocument struct {
	core.Document
	OwnerID string          `json:"ownerId"`
	Content json.RawMessage `json:"content"`
}

// NewStore creates a new filesystem-based store.
func NewStore(basePath string) *fsStore {
	for _, dir := range []string{basePath, filepath.Join(basePath, "docs"), filepath.Join(basePath, "users")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("failed to create storage directory: %v", err)
		}
	}
	return &fsStore{basePath: basePath}
}

func (s *fsStore) ownerPath(ownerID string) string {
	return filepath.Join(s.basePath, "docs", hex.EncodeToString([]byte(ownerID)))
}

func (s *fsStore) documentPath(ownerID, id string) (string, error) {
	if id == "" || filepath.Base(id) != id || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("invalid document id")
	}
	return filepath.Join(s.ownerPath(ownerID), id), nil
}

func (s *fsStore) userPath(email string) string {
	return filepath.Join(s.basePath, "users", hex.EncodeToString([]byte(email)))
}

func (s *fsStore) readDocument(path string) (*storedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	var doc storedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *fsStore) writeDocument(path string, doc *storedDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func toDocument(sd *storedDocument, withContent bool) *core.Document {
	doc := sd.Document
	doc.OwnerID = sd.OwnerID
	if withContent {
		doc.Content = sd.Content
	} else {
		doc.Content = nil
	}
	return &doc
}

// DocumentStore implementation

func (s *fsStore) Create(ctx context.Context, ownerID, title string, content json.RawMessage) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.ownerPath(ownerID), 0755); err != nil {
		return nil, err
	}

	now := time.Now()
	sd := &storedDocument{
		Document: core.Document{
			ID:        ulid.Make().String(),
			Title:     title,
			CreatedAt: now,
			UpdatedAt: now,
		},
		OwnerID: ownerID,
		Content: content,
	}

	path, err := s.documentPath(ownerID, sd.ID)
	if err != nil {
		return nil, err
	}
	if err := s.writeDocument(path, sd); err != nil {
		logrus.WithError(err).Error("Failed to write document file")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"document_id": sd.ID,
		"path":        path,
	}).Info("Document created successfully")

	return toDocument(sd, true), nil
}

func (s *fsStore) ListByOwner(ctx context.Context, ownerID string) ([]*core.Document, error) {
	ownerPath := s.ownerPath(ownerID)
	files, err := os.ReadDir(ownerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []*core.Document{}, nil
		}
		return nil, err
	}

	docs := make([]*core.Document, 0, len(files))
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		sd, err := s.readDocument(filepath.Join(ownerPath, file.Name()))
		if err != nil {
			logrus.WithError(err).Warnf("Failed to read document file %s, skipping", file.Name())
			continue
		}
		docs = append(docs, toDocument(sd, false))
	}

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})
	return docs, nil
}

func (s *fsStore) GetByIDAndOwner(ctx context.Context, id, ownerID string) (*core.Document, error) {
	path, err := s.documentPath(ownerID, id)
	if err != nil {
		return nil, core.ErrNotFound
	}
	sd, err := s.readDocument(path)
	if err != nil {
		return nil, err
	}
	return toDocument(sd, true), nil
}

func (s *fsStore) UpdateByIDAndOwner(ctx context.Context, id, ownerID string, content json.RawMessage, title string) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.documentPath(ownerID, id)
	if err != nil {
		return nil, core.ErrNotFound
	}
	sd, err := s.readDocument(path)
	if err != nil {
		return nil, err
	}

	sd.Content = content
	if title != "" {
		sd.Title = title
	}
	sd.UpdatedAt = time.Now()

	if err := s.writeDocument(path, sd); err != nil {
		return nil, err
	}
	return toDocument(sd, true), nil
}

func (s *fsStore) AddShareGrant(ctx context.Context, id, ownerID string, role core.ShareRole) (*core.ShareGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.documentPath(ownerID, id)
	if err != nil {
		return nil, core.ErrNotFound
	}
	sd, err := s.readDocument(path)
	if err != nil {
		return nil, err
	}

	grant := core.ShareGrant{
		Token:     core.NewShareToken(),
		Role:      role,
		CreatedAt: time.Now(),
	}
	sd.ShareGrants = append(sd.ShareGrants, grant)

	if err := s.writeDocument(path, sd); err != nil {
		return nil, err
	}
	return &grant, nil
}

// UserStore implementation

func (s *fsStore) CreateUser(ctx context.Context, email, passwordHash string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.userPath(email)
	if _, err := os.Stat(path); err == nil {
		return nil, core.ErrUserExists
	}

	user := &core.User{
		ID:           ulid.Make().String(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	data, err := json.Marshal(struct {
		core.User
		PasswordHash string `json:"passwordHash"`
	}{User: *user, PasswordHash: passwordHash})
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, err
	}

	logrus.WithField("user_id", user.ID).Info("User created successfully")
	return user, nil
}

func (s *fsStore) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	data, err := os.ReadFile(s.userPath(email))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}

	var stored struct {
		core.User
		PasswordHash string `json:"passwordHash"`
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	user := stored.User
	user.PasswordHash = stored.PasswordHash
	return &user, nil
}
