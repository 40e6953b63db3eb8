// Package contacts maintains a searchable per-account directory of peers
// and their shared group memberships, rebuilt from the protocol client and
// persisted as a JSON snapshot.
package contacts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nextlevelbuilder/weclaw/internal/protocol"
)

// ContactNode is one entry in the contact graph.
type ContactNode struct {
	PeerID           string   `json:"peer_id"`
	DisplayName      string   `json:"display_name"`
	Remark           string   `json:"remark,omitempty"`
	SharedGroupIDs   []string `json:"shared_group_ids,omitempty"`
	SharedGroupNames []string `json:"shared_group_names,omitempty"`
}

// Directory is the protocol-client subset the index enumerates from.
type Directory interface {
	ListPeers(ctx context.Context) ([]protocol.Peer, error)
	ListRooms(ctx context.Context) ([]protocol.Room, error)
}

// Index holds the in-memory contact graph for all accounts. Rebuilds swap
// the whole per-account snapshot; readers never observe partial state.
type Index struct {
	dir string

	mu    sync.RWMutex
	nodes map[string][]ContactNode // account id → snapshot

	rebuilds singleflight.Group
}

// NewIndex creates an index persisting snapshots under dir
// (one <account>.json per account).
func NewIndex(dir string) *Index {
	return &Index{dir: dir, nodes: make(map[string][]ContactNode)}
}

// Rebuild enumerates peers and rooms, builds a fresh snapshot, swaps it in,
// and persists it. Concurrent rebuilds for the same account are coalesced.
func (ix *Index) Rebuild(ctx context.Context, accountID string, d Directory) error {
	_, err, _ := ix.rebuilds.Do(accountID, func() (any, error) {
		return nil, ix.rebuild(ctx, accountID, d)
	})
	return err
}

func (ix *Index) rebuild(ctx context.Context, accountID string, d Directory) error {
	peers, err := d.ListPeers(ctx)
	if err != nil {
		return fmt.Errorf("contacts: list peers: %w", err)
	}
	rooms, err := d.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("contacts: list rooms: %w", err)
	}

	// Invert room membership so each peer carries its shared groups.
	groupIDs := make(map[string][]string)
	groupNames := make(map[string][]string)
	for _, room := range rooms {
		for _, member := range room.Members {
			groupIDs[member] = append(groupIDs[member], room.ID)
			groupNames[member] = append(groupNames[member], room.Name)
		}
	}

	snapshot := make([]ContactNode, 0, len(peers))
	for _, p := range peers {
		snapshot = append(snapshot, ContactNode{
			PeerID:           p.ID,
			DisplayName:      p.DisplayName,
			Remark:           p.Remark,
			SharedGroupIDs:   groupIDs[p.ID],
			SharedGroupNames: groupNames[p.ID],
		})
	}

	ix.mu.Lock()
	ix.nodes[accountID] = snapshot
	ix.mu.Unlock()

	if err := ix.persist(accountID, snapshot); err != nil {
		// In-memory snapshot stays authoritative until the next write succeeds.
		slog.Warn("contacts: persist snapshot failed",
			"account", accountID, "error", err)
	}

	slog.Info("contacts: index rebuilt",
		"account", accountID, "peers", len(peers), "groups", len(rooms))
	return nil
}

// Search returns nodes matching query for the account. An empty query
// returns the full snapshot; matching is case-insensitive substring over
// display name, remark, peer id, and shared group names. An unknown account
// returns an empty result.
func (ix *Index) Search(query, accountID string) []ContactNode {
	ix.mu.RLock()
	snapshot, ok := ix.nodes[accountID]
	ix.mu.RUnlock()

	if !ok {
		snapshot = ix.load(accountID)
		if snapshot != nil {
			ix.mu.Lock()
			if _, exists := ix.nodes[accountID]; !exists {
				ix.nodes[accountID] = snapshot
			} else {
				snapshot = ix.nodes[accountID]
			}
			ix.mu.Unlock()
		}
	}
	if len(snapshot) == 0 {
		return nil
	}

	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		out := make([]ContactNode, len(snapshot))
		copy(out, snapshot)
		return out
	}

	var out []ContactNode
	for _, n := range snapshot {
		if matches(n, query) {
			out = append(out, n)
		}
	}
	return out
}

func matches(n ContactNode, query string) bool {
	if strings.Contains(strings.ToLower(n.DisplayName), query) ||
		strings.Contains(strings.ToLower(n.Remark), query) ||
		strings.Contains(strings.ToLower(n.PeerID), query) {
		return true
	}
	for _, g := range n.SharedGroupNames {
		if strings.Contains(strings.ToLower(g), query) {
			return true
		}
	}
	return false
}

func (ix *Index) path(accountID string) string {
	return filepath.Join(ix.dir, accountID+".json")
}

func (ix *Index) persist(accountID string, snapshot []ContactNode) error {
	if err := os.MkdirAll(ix.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	tmp := ix.path(accountID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, ix.path(accountID))
}

// load reads the persisted snapshot, returning nil when absent or unreadable.
func (ix *Index) load(accountID string) []ContactNode {
	data, err := os.ReadFile(ix.path(accountID))
	if err != nil {
		return nil
	}
	var snapshot []ContactNode
	if err := json.Unmarshal(data, &snapshot); err != nil {
		slog.Warn("contacts: corrupt snapshot ignored",
			"account", accountID, "error", err)
		return nil
	}
	return snapshot
}

// Drop removes the in-memory snapshot for an account. The persisted file is
// kept so searches keep working after a logout.
func (ix *Index) Drop(accountID string) {
	ix.mu.Lock()
	delete(ix.nodes, accountID)
	ix.mu.Unlock()
}
