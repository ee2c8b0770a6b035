package collab

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestJoin_Success(t *testing.T) {
	reg := NewRegistry()

	p, err := reg.Join("doc1", "conn1", "Alice")
	if err != nil {
		t.Fatalf("Join() failed: %v", err)
	}
	if p.ConnID != "conn1" || p.DocumentID != "doc1" || p.DisplayName != "Alice" {
		t.Errorf("Join() returned wrong participant: %+v", p)
	}
	if p.Cursor != nil {
		t.Errorf("New participant should have no cursor, got %+v", p.Cursor)
	}
}

func TestJoin_SecondJoinRejected(t *testing.T) {
	reg := NewRegistry()

	if _, err := reg.Join("doc1", "conn1", "Alice"); err != nil {
		t.Fatalf("Join() failed: %v", err)
	}

	// Same connection, different document.
	if _, err := reg.Join("doc2", "conn1", "Alice"); !errors.Is(err, ErrAlreadyJoined) {
		t.Errorf("Join() to a second document: got %v, want ErrAlreadyJoined", err)
	}

	// Same connection, same document.
	if _, err := reg.Join("doc1", "conn1", "Alice"); !errors.Is(err, ErrAlreadyJoined) {
		t.Errorf("Repeat Join() to same document: got %v, want ErrAlreadyJoined", err)
	}

	// The original registration must be untouched.
	if doc, ok := reg.DocumentOf("conn1"); !ok || doc != "doc1" {
		t.Errorf("DocumentOf() after rejected join: got %q, %v; want doc1, true", doc, ok)
	}
}

func TestLeave_Idempotent(t *testing.T) {
	reg := NewRegistry()

	if _, err := reg.Join("doc1", "conn1", "Alice"); err != nil {
		t.Fatalf("Join() failed: %v", err)
	}

	if _, removed := reg.Leave("conn1"); !removed {
		t.Error("Leave() should remove a joined connection")
	}
	if _, removed := reg.Leave("conn1"); removed {
		t.Error("Second Leave() should be a no-op")
	}
	if _, removed := reg.Leave("never-joined"); removed {
		t.Error("Leave() on an unknown handle should be a no-op")
	}
}

func TestLeave_AllowsRejoin(t *testing.T) {
	reg := NewRegistry()

	if _, err := reg.Join("doc1", "conn1", "Alice"); err != nil {
		t.Fatalf("Join() failed: %v", err)
	}
	reg.Leave("conn1")

	if _, err := reg.Join("doc2", "conn1", "Alice"); err != nil {
		t.Errorf("Join() after Leave() should succeed, got %v", err)
	}
}

func TestMembersOf_ExcludesHandle(t *testing.T) {
	reg := NewRegistry()

	reg.Join("doc1", "conn1", "Alice")
	reg.Join("doc1", "conn2", "Bob")
	reg.Join("doc1", "conn3", "Carol")

	members := reg.MembersOf("doc1", "conn2")
	if len(members) != 2 {
		t.Fatalf("MembersOf() returned %d members, want 2", len(members))
	}
	for _, m := range members {
		if m.ConnID == "conn2" {
			t.Error("MembersOf() must exclude the given handle")
		}
	}
}

func TestMembersOf_NeverContainsLeftHandle(t *testing.T) {
	reg := NewRegistry()

	reg.Join("doc1", "conn1", "Alice")
	reg.Join("doc1", "conn2", "Bob")
	reg.Leave("conn1")

	for _, m := range reg.MembersOf("doc1", "") {
		if m.ConnID == "conn1" {
			t.Error("MembersOf() contains a handle that has left")
		}
	}
}

func TestMembersOf_RoomIsolation(t *testing.T) {
	reg := NewRegistry()

	reg.Join("doc1", "conn1", "Alice")
	reg.Join("doc2", "conn2", "Bob")

	members := reg.MembersOf("doc1", "")
	if len(members) != 1 || members[0].ConnID != "conn1" {
		t.Errorf("MembersOf(doc1) = %+v, want only conn1", members)
	}
	if got := reg.MembersOf("doc3", ""); len(got) != 0 {
		t.Errorf("MembersOf() on an unknown document should be empty, got %d", len(got))
	}
}

func TestUpdateCursor_LastWriteWins(t *testing.T) {
	reg := NewRegistry()

	reg.Join("doc1", "conn1", "Alice")
	reg.Join("doc1", "conn2", "Bob")

	reg.UpdateCursor("conn1", Locus{Index: 1, Length: 0})
	reg.UpdateCursor("conn1", Locus{Index: 7, Length: 3})

	members := reg.MembersOf("doc1", "conn2")
	if len(members) != 1 {
		t.Fatalf("MembersOf() returned %d members, want 1", len(members))
	}
	cursor := members[0].Cursor
	if cursor == nil || cursor.Index != 7 || cursor.Length != 3 {
		t.Errorf("Cursor = %+v, want {Index:7 Length:3}", cursor)
	}
}

func TestUpdateCursor_UnknownHandleIsNoop(t *testing.T) {
	reg := NewRegistry()

	// A cursor event racing a disconnect must not panic or register state.
	reg.UpdateCursor("ghost", Locus{Index: 1})

	if got := reg.MembersOf("doc1", ""); len(got) != 0 {
		t.Errorf("UpdateCursor on unknown handle should not create members, got %d", len(got))
	}
}

func TestMembersOf_SnapshotIsolation(t *testing.T) {
	reg := NewRegistry()

	reg.Join("doc1", "conn1", "Alice")
	reg.UpdateCursor("conn1", Locus{Index: 5, Length: 1})

	members := reg.MembersOf("doc1", "")
	if len(members) != 1 {
		t.Fatalf("MembersOf() returned %d members, want 1", len(members))
	}

	// Mutating the snapshot must not leak into the registry.
	members[0].Cursor.Index = 99
	members[0].DisplayName = "Mallory"

	fresh := reg.MembersOf("doc1", "")
	if fresh[0].Cursor.Index != 5 || fresh[0].DisplayName != "Alice" {
		t.Errorf("Registry state mutated through snapshot: %+v", fresh[0])
	}
}

func TestConcurrentJoinLeave(t *testing.T) {
	reg := NewRegistry()

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			conn := fmt.Sprintf("conn-%d", n)
			doc := fmt.Sprintf("doc-%d", n%4)
			if _, err := reg.Join(doc, conn, "user"); err != nil {
				t.Errorf("concurrent Join() failed: %v", err)
				return
			}
			reg.UpdateCursor(conn, Locus{Index: n})
			if n%2 == 0 {
				reg.Leave(conn)
			}
		}(i)
	}
	wg.Wait()

	// Every even connection left, every odd one stayed.
	total := 0
	for d := 0; d < 4; d++ {
		for _, m := range reg.MembersOf(fmt.Sprintf("doc-%d", d), "") {
			total++
			if _, ok := reg.DocumentOf(m.ConnID); !ok {
				t.Errorf("member %s missing from connection index", m.ConnID)
			}
		}
	}
	if total != workers/2 {
		t.Errorf("expected %d remaining members, got %d", workers/2, total)
	}
}
