package contacts

import (
	"context"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/weclaw/internal/protocol"
)

type fakeDirectory struct {
	peers []protocol.Peer
	rooms []protocol.Room
	err   error
}

func (f *fakeDirectory) ListPeers(ctx context.Context) ([]protocol.Peer, error) {
	return f.peers, f.err
}

func (f *fakeDirectory) ListRooms(ctx context.Context) ([]protocol.Room, error) {
	return f.rooms, f.err
}

func testDirectory() *fakeDirectory {
	return &fakeDirectory{
		peers: []protocol.Peer{
			{ID: "wxid_ada", DisplayName: "Ada Lovelace", Remark: "math"},
			{ID: "wxid_bob", DisplayName: "Bob"},
		},
		rooms: []protocol.Room{
			{ID: "room1", Name: "Engine Crew", Members: []string{"wxid_ada"}},
		},
	}
}

// TestRebuildAndSearch verifies that a rebuild produces nodes carrying
// shared-group memberships and that search matches across name, remark, id,
// and group names, case-insensitively.
func TestRebuildAndSearch(t *testing.T) {
	ix := NewIndex(t.TempDir())
	if err := ix.Rebuild(context.Background(), "main", testDirectory()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	all := ix.Search("", "main")
	if len(all) != 2 {
		t.Fatalf("empty query returned %d nodes, want 2", len(all))
	}

	cases := map[string]string{
		"ada":    "wxid_ada", // display name
		"MATH":   "wxid_ada", // remark, case-insensitive
		"_bob":   "wxid_bob", // peer id substring
		"engine": "wxid_ada", // shared group name
	}
	for query, wantPeer := range cases {
		got := ix.Search(query, "main")
		if len(got) != 1 || got[0].PeerID != wantPeer {
			t.Errorf("Search(%q) = %v, want single %s", query, got, wantPeer)
		}
	}

	if got := ix.Search("nomatch", "main"); len(got) != 0 {
		t.Errorf("Search(nomatch) = %v, want empty", got)
	}
}

// TestSearch_UnknownAccount verifies that an unknown account returns an
// empty result, never an error or panic.
func TestSearch_UnknownAccount(t *testing.T) {
	ix := NewIndex(t.TempDir())
	if got := ix.Search("anything", "ghost"); len(got) != 0 {
		t.Errorf("unknown account returned %v, want empty", got)
	}
}

// TestSearch_LazyLoadFromDisk verifies that a fresh index lazily loads the
// persisted snapshot of a prior rebuild.
func TestSearch_LazyLoadFromDisk(t *testing.T) {
	dir := t.TempDir()

	ix1 := NewIndex(dir)
	if err := ix1.Rebuild(context.Background(), "main", testDirectory()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	ix2 := NewIndex(dir)
	got := ix2.Search("ada", "main")
	if len(got) != 1 || got[0].PeerID != "wxid_ada" {
		t.Errorf("lazy load failed: %v", got)
	}
	if got[0].SharedGroupNames[0] != "Engine Crew" {
		t.Errorf("group memberships not persisted: %+v", got[0])
	}
}

// TestRebuild_ReplacesSnapshot verifies that a rebuild supersedes the old
// snapshot instead of merging into it.
func TestRebuild_ReplacesSnapshot(t *testing.T) {
	ix := NewIndex(t.TempDir())
	if err := ix.Rebuild(context.Background(), "main", testDirectory()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	smaller := &fakeDirectory{peers: []protocol.Peer{{ID: "wxid_new", DisplayName: "New"}}}
	if err := ix.Rebuild(context.Background(), "main", smaller); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}

	all := ix.Search("", "main")
	if len(all) != 1 || all[0].PeerID != "wxid_new" {
		t.Errorf("snapshot not replaced: %v", all)
	}
}

// TestRebuild_DirectoryError verifies that enumeration failures surface and
// leave the previous snapshot in place.
func TestRebuild_DirectoryError(t *testing.T) {
	ix := NewIndex(t.TempDir())
	if err := ix.Rebuild(context.Background(), "main", testDirectory()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	broken := &fakeDirectory{err: errors.New("bridge down")}
	if err := ix.Rebuild(context.Background(), "main", broken); err == nil {
		t.Fatal("expected rebuild error")
	}
	if got := ix.Search("", "main"); len(got) != 2 {
		t.Errorf("failed rebuild clobbered the snapshot: %v", got)
	}
}
