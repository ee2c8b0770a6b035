package aws

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"sort"
	"time"

	"collabdocs/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
)

// s3Store keeps documents as JSON objects under docs/<owner>/<id> and users
// under users/<hex(email)>. Concurrent writers race at the object level;
// the later PutObject fully overwrites the earlier one.
type s3Store struct {
	s3Client *s3.Client
	bucket   string
}

type storedDocument struct {
	core.Document
	OwnerID string          `json:"ownerId"`
	Content json.RawMessage `json:"content"`
}

// NewStore creates a new S3-based store.
func NewStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	return &s3Store{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucketName,
	}
}

func (s *s3Store) documentKey(ownerID, id string) (string, error) {
	if id == "" || path.Base(id) != id || id == "." || id == ".." {
		return "", fmt.Errorf("invalid document id")
	}
	return path.Join("docs", hex.EncodeToString([]byte(ownerID)), id), nil
}

func (s *s3Store) userKey(email string) string {
	return path.Join("users", hex.EncodeToString([]byte(email)))
}

func (s *s3Store) getObject(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object %s: %v", key, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *s3Store) putObject(ctx context.Context, key string, data []byte) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %v", key, err)
	}
	return nil
}

func (s *s3Store) readDocument(ctx context.Context, key string) (*storedDocument, error) {
	data, err := s.getObject(ctx, key)
	if err != nil {
		return nil, err
	}
	var doc storedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document %s: %v", key, err)
	}
	return &doc, nil
}

func (s *s3Store) writeDocument(ctx context.Context, key string, doc *storedDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %v", err)
	}
	return s.putObject(ctx, key, data)
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

func (s *s3Store) Create(ctx context.Context, ownerID, title string, content json.RawMessage) (*core.Document, error) {
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

	key, err := s.documentKey(ownerID, sd.ID)
	if err != nil {
		return nil, err
	}
	if err := s.writeDocument(ctx, key, sd); err != nil {
		return nil, err
	}
	return toDocument(sd, true), nil
}

func (s *s3Store) ListByOwner(ctx context.Context, ownerID string) ([]*core.Document, error) {
	prefix := path.Join("docs", hex.EncodeToString([]byte(ownerID))) + "/"
	output, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %v", err)
	}

	docs := make([]*core.Document, 0, len(output.Contents))
	for _, object := range output.Contents {
		sd, err := s.readDocument(ctx, *object.Key)
		if err != nil {
			log.Printf("warn: failed to read object %s: %v", *object.Key, err)
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

func (s *s3Store) GetByIDAndOwner(ctx context.Context, id, ownerID string) (*core.Document, error) {
	key, err := s.documentKey(ownerID, id)
	if err != nil {
		return nil, core.ErrNotFound
	}
	sd, err := s.readDocument(ctx, key)
	if err != nil {
		return nil, err
	}
	return toDocument(sd, true), nil
}

func (s *s3Store) UpdateByIDAndOwner(ctx context.Context, id, ownerID string, content json.RawMessage, title string) (*core.Document, error) {
	key, err := s.documentKey(ownerID, id)
	if err != nil {
		return nil, core.ErrNotFound
	}
	sd, err := s.readDocument(ctx, key)
	if err != nil {
		return nil, err
	}

	sd.Content = content
	if title != "" {
		sd.Title = title
	}
	sd.UpdatedAt = time.Now()

	if err := s.writeDocument(ctx, key, sd); err != nil {
		return nil, err
	}
	return toDocument(sd, true), nil
}

func (s *s3Store) AddShareGrant(ctx context.Context, id, ownerID string, role core.ShareRole) (*core.ShareGrant, error) {
	key, err := s.documentKey(ownerID, id)
	if err != nil {
		return nil, core.ErrNotFound
	}
	sd, err := s.readDocument(ctx, key)
	if err != nil {
		return nil, err
	}

	grant := core.ShareGrant{
		Token:     core.NewShareToken(),
		Role:      role,
		CreatedAt: time.Now(),
	}
	sd.ShareGrants = append(sd.ShareGrants, grant)

	if err := s.writeDocument(ctx, key, sd); err != nil {
		return nil, err
	}
	return &grant, nil
}

// UserStore implementation

func (s *s3Store) CreateUser(ctx context.Context, email, passwordHash string) (*core.User, error) {
	key := s.userKey(email)
	if _, err := s.getObject(ctx, key); err == nil {
		return nil, core.ErrUserExists
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
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
	if err := s.putObject(ctx, key, data); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *s3Store) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	data, err := s.getObject(ctx, s.userKey(email))
	if err != nil {
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
