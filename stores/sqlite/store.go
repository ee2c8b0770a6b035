package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"time"

	"collabdocs/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based store.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	usersTableStmt := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME
	);`
	if _, err = db.Exec(usersTableStmt); err != nil {
		log.Fatalf("failed to create users table: %v", err)
	}

	documentsTableStmt := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT,
		content BLOB,
		created_at DATETIME,
		updated_at DATETIME
	);`
	if _, err = db.Exec(documentsTableStmt); err != nil {
		log.Fatalf("failed to create documents table: %v", err)
	}

	grantsTableStmt := `
	CREATE TABLE IF NOT EXISTS share_grants (
		token TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at DATETIME
	);`
	if _, err = db.Exec(grantsTableStmt); err != nil {
		log.Fatalf("failed to create share_grants table: %v", err)
	}

	return &sqliteStore{db}
}

// DocumentStore implementation

func (s *sqliteStore) Create(ctx context.Context, ownerID, title string, content json.RawMessage) (*core.Document, error) {
	id := ulid.Make().String()
	now := time.Now()
	log := logrus.WithFields(logrus.Fields{
		"document_id": id,
		"owner_id":    ownerID,
	})

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (id, owner_id, title, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, ownerID, title, []byte(content), now, now)
	if err != nil {
		log.WithError(err).Error("Failed to create document")
		return nil, err
	}
	log.Info("Document created successfully")

	return &core.Document{
		ID:        id,
		OwnerID:   ownerID,
		Title:     title,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *sqliteStore) ListByOwner(ctx context.Context, ownerID string) ([]*core.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, created_at, updated_at FROM documents WHERE owner_id = ? ORDER BY updated_at DESC",
		ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*core.Document
	for rows.Next() {
		doc := core.Document{OwnerID: ownerID}
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

func (s *sqliteStore) GetByIDAndOwner(ctx context.Context, id, ownerID string) (*core.Document, error) {
	doc := core.Document{ID: id, OwnerID: ownerID}
	var content []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT title, content, created_at, updated_at FROM documents WHERE id = ? AND owner_id = ?",
		id, ownerID).Scan(&doc.Title, &content, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	doc.Content = content

	grants, err := s.grantsFor(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.ShareGrants = grants
	return &doc, nil
}

func (s *sqliteStore) UpdateByIDAndOwner(ctx context.Context, id, ownerID string, content json.RawMessage, title string) (*core.Document, error) {
	now := time.Now()

	var res sql.Result
	var err error
	if title != "" {
		res, err = s.db.ExecContext(ctx,
			"UPDATE documents SET content = ?, title = ?, updated_at = ? WHERE id = ? AND owner_id = ?",
			[]byte(content), title, now, id, ownerID)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE documents SET content = ?, updated_at = ? WHERE id = ? AND owner_id = ?",
			[]byte(content), now, id, ownerID)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"document_id": id,
			"owner_id":    ownerID,
		}).WithError(err).Error("Failed to update document")
		return nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, core.ErrNotFound
	}

	return s.GetByIDAndOwner(ctx, id, ownerID)
}

func (s *sqliteStore) AddShareGrant(ctx context.Context, id, ownerID string, role core.ShareRole) (*core.ShareGrant, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM documents WHERE id = ? AND owner_id = ?", id, ownerID).Scan(&exists)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, err
	}

	grant := core.ShareGrant{
		Token:     core.NewShareToken(),
		Role:      role,
		CreatedAt: time.Now(),
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO share_grants (token, document_id, role, created_at) VALUES (?, ?, ?, ?)",
		grant.Token, id, string(grant.Role), grant.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

func (s *sqliteStore) grantsFor(ctx context.Context, documentID string) ([]core.ShareGrant, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT token, role, created_at FROM share_grants WHERE document_id = ? ORDER BY created_at",
		documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []core.ShareGrant
	for rows.Next() {
		var g core.ShareGrant
		var role string
		if err := rows.Scan(&g.Token, &role, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.Role = core.ShareRole(role)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// UserStore implementation

func (s *sqliteStore) CreateUser(ctx context.Context, email, passwordHash string) (*core.User, error) {
	user := &core.User{
		ID:           ulid.Make().String(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	// The UNIQUE column is the duplicate check; concurrent registrations
	// race at the insert and the loser gets the constraint error.
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)",
		user.ID, user.Email, user.PasswordHash, user.CreatedAt)
	if err != nil {
		var liteErr *sqlite.Error
		if errors.As(err, &liteErr) && liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return nil, core.ErrUserExists
		}
		return nil, err
	}

	logrus.WithField("user_id", user.ID).Info("User created successfully")
	return user, nil
}

func (s *sqliteStore) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	var user core.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE email = ?",
		email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}
