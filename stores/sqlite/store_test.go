package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"collabdocs/core"
)

func newTestStore(t *testing.T) *sqliteStore {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "test.db"))
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	content := json.RawMessage(`{"html":"<p>persisted</p>"}`)
	doc, err := store.Create(ctx, "owner1", "Notes", content)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	got, err := store.GetByIDAndOwner(ctx, doc.ID, "owner1")
	if err != nil {
		t.Fatalf("GetByIDAndOwner() failed: %v", err)
	}
	if string(got.Content) != string(content) {
		t.Errorf("content mismatch: got %s, want %s", got.Content, content)
	}
	if got.Title != "Notes" {
		t.Errorf("title mismatch: got %q", got.Title)
	}
}

func TestGet_WrongOwner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc, _ := store.Create(ctx, "owner1", "Doc", json.RawMessage(`{}`))
	if _, err := store.GetByIDAndOwner(ctx, doc.ID, "intruder"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("fetch by non-owner: got %v, want ErrNotFound", err)
	}
}

func TestUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc, _ := store.Create(ctx, "owner1", "Doc", json.RawMessage(`{"html":"v1"}`))

	updated, err := store.UpdateByIDAndOwner(ctx, doc.ID, "owner1", json.RawMessage(`{"html":"v2"}`), "Renamed")
	if err != nil {
		t.Fatalf("UpdateByIDAndOwner() failed: %v", err)
	}
	if string(updated.Content) != `{"html":"v2"}` || updated.Title != "Renamed" {
		t.Errorf("update not applied: %s %q", updated.Content, updated.Title)
	}

	if _, err := store.UpdateByIDAndOwner(ctx, doc.ID, "intruder", json.RawMessage(`{"html":"v3"}`), ""); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("update by non-owner: got %v, want ErrNotFound", err)
	}
	got, _ := store.GetByIDAndOwner(ctx, doc.ID, "owner1")
	if string(got.Content) != `{"html":"v2"}` {
		t.Errorf("rejected update mutated the document: %s", got.Content)
	}
}

func TestListByOwner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older, _ := store.Create(ctx, "owner1", "Older", json.RawMessage(`{}`))
	store.Create(ctx, "owner1", "Newer", json.RawMessage(`{}`))
	store.Create(ctx, "other", "Theirs", json.RawMessage(`{}`))

	time.Sleep(5 * time.Millisecond)
	if _, err := store.UpdateByIDAndOwner(ctx, older.ID, "owner1", json.RawMessage(`{"html":"x"}`), ""); err != nil {
		t.Fatalf("UpdateByIDAndOwner() failed: %v", err)
	}

	docs, err := store.ListByOwner(ctx, "owner1")
	if err != nil {
		t.Fatalf("ListByOwner() failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("ListByOwner() returned %d docs, want 2", len(docs))
	}
	if docs[0].ID != older.ID {
		t.Errorf("most recently updated document should come first, got %q", docs[0].Title)
	}
}

func TestShareGrants(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc, _ := store.Create(ctx, "owner1", "Doc", json.RawMessage(`{}`))

	grant, err := store.AddShareGrant(ctx, doc.ID, "owner1", core.RoleEditor)
	if err != nil {
		t.Fatalf("AddShareGrant() failed: %v", err)
	}
	if grant.Token == "" {
		t.Error("grant token is empty")
	}

	if _, err := store.AddShareGrant(ctx, doc.ID, "intruder", core.RoleEditor); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("grant by non-owner: got %v, want ErrNotFound", err)
	}

	got, _ := store.GetByIDAndOwner(ctx, doc.ID, "owner1")
	if len(got.ShareGrants) != 1 {
		t.Fatalf("document carries %d grants, want 1", len(got.ShareGrants))
	}
	if got.ShareGrants[0].Token != grant.Token || got.ShareGrants[0].Role != core.RoleEditor {
		t.Errorf("stored grant mismatch: %+v", got.ShareGrants[0])
	}
}

func TestUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateUser(ctx, "a@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}

	if _, err := store.CreateUser(ctx, "a@example.com", "other"); !errors.Is(err, core.ErrUserExists) {
		t.Errorf("duplicate email: got %v, want ErrUserExists", err)
	}

	got, err := store.GetUserByEmail(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail() failed: %v", err)
	}
	if got.ID != created.ID || got.PasswordHash != "hash" {
		t.Errorf("user mismatch: %+v", got)
	}

	if _, err := store.GetUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown email: got %v, want ErrNotFound", err)
	}
}

func TestCreateUser_ConcurrentDuplicate(t *testing.T) {
	store := newTestStore(t)
	store.db.SetMaxOpenConns(1)
	ctx := context.Background()

	numGoroutines := 8
	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreateUser(ctx, "race@example.com", "hash")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, core.ErrUserExists):
		default:
			t.Errorf("duplicate registration leaked a raw store error: %v", err)
		}
	}
	if created != 1 {
		t.Errorf("%d registrations succeeded, want exactly 1", created)
	}
}
