// Package store provides the persistent stores backing the adapter:
// currently the pairing store (pending requests + approved senders).
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// pairingTTL is how long an unapproved request stays redeemable.
const pairingTTL = time.Hour

// PairingRequest is a pending pairing code.
type PairingRequest struct {
	Code      string `json:"code"`
	SenderID  string `json:"sender_id"`
	Channel   string `json:"channel"`
	ChatID    string `json:"chat_id"`
	AccountID string `json:"account_id"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// PairedSender is an approved pairing.
type PairedSender struct {
	SenderID string `json:"sender_id"`
	Channel  string `json:"channel"`
	ChatID   string `json:"chat_id"`
	PairedAt int64  `json:"paired_at"`
	PairedBy string `json:"paired_by"`
}

// PairingStore manages sender pairing.
type PairingStore interface {
	// RequestPairing returns the active code for (sender, channel), creating
	// one if none exists. created reports whether a new request was issued —
	// the caller sends the pairing reply only in that case.
	RequestPairing(senderID, channel, chatID, accountID string) (code string, created bool, err error)
	ApprovePairing(code, approvedBy string) (*PairedSender, error)
	RevokePairing(senderID, channel string) error
	IsPaired(senderID, channel string) bool
	ListPending() ([]PairingRequest, error)
	ListPaired() ([]PairedSender, error)
	Close() error
}

// SQLitePairingStore is the file-backed PairingStore.
type SQLitePairingStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenPairingStore opens (and bootstraps) the pairing database at path.
func OpenPairingStore(path string) (*SQLitePairingStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open pairing db: %w", err)
	}
	// Serialize writers; sqlite handles one writer at a time.
	db.SetMaxOpenConns(1)

	schema := `
CREATE TABLE IF NOT EXISTS pairing_requests (
	code       TEXT PRIMARY KEY,
	sender_id  TEXT NOT NULL,
	channel    TEXT NOT NULL,
	chat_id    TEXT NOT NULL,
	account_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	UNIQUE(channel, sender_id)
);
CREATE TABLE IF NOT EXISTS paired_senders (
	sender_id TEXT NOT NULL,
	channel   TEXT NOT NULL,
	chat_id   TEXT NOT NULL,
	paired_at INTEGER NOT NULL,
	paired_by TEXT NOT NULL,
	PRIMARY KEY(channel, sender_id)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap pairing schema: %w", err)
	}

	return &SQLitePairingStore{db: db, now: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *SQLitePairingStore) Close() error { return s.db.Close() }

// RequestPairing returns the active code for the sender, issuing a new one
// only when no unexpired request exists.
func (s *SQLitePairingStore) RequestPairing(senderID, channel, chatID, accountID string) (string, bool, error) {
	now := s.now().Unix()

	var code string
	err := s.db.QueryRow(
		`SELECT code FROM pairing_requests WHERE channel = ? AND sender_id = ? AND expires_at > ?`,
		channel, senderID, now,
	).Scan(&code)
	if err == nil {
		return code, false, nil
	}
	if err != sql.ErrNoRows {
		return "", false, fmt.Errorf("lookup pairing request: %w", err)
	}

	// Clear any expired request for this sender before issuing a fresh one.
	if _, err := s.db.Exec(
		`DELETE FROM pairing_requests WHERE channel = ? AND sender_id = ?`,
		channel, senderID,
	); err != nil {
		return "", false, fmt.Errorf("prune expired pairing request: %w", err)
	}

	code = newPairingCode()
	if _, err := s.db.Exec(
		`INSERT INTO pairing_requests (code, sender_id, channel, chat_id, account_id, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		code, senderID, channel, chatID, accountID, now, now+int64(pairingTTL.Seconds()),
	); err != nil {
		return "", false, fmt.Errorf("insert pairing request: %w", err)
	}
	return code, true, nil
}

// ApprovePairing redeems a code, moving the sender to the approved set.
func (s *SQLitePairingStore) ApprovePairing(code, approvedBy string) (*PairedSender, error) {
	now := s.now().Unix()

	var req PairingRequest
	err := s.db.QueryRow(
		`SELECT code, sender_id, channel, chat_id, account_id, created_at, expires_at
		 FROM pairing_requests WHERE code = ?`, code,
	).Scan(&req.Code, &req.SenderID, &req.Channel, &req.ChatID, &req.AccountID, &req.CreatedAt, &req.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pairing code not found: %s", code)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup pairing code: %w", err)
	}
	if req.ExpiresAt <= now {
		return nil, fmt.Errorf("pairing code expired: %s", code)
	}

	paired := &PairedSender{
		SenderID: req.SenderID,
		Channel:  req.Channel,
		ChatID:   req.ChatID,
		PairedAt: now,
		PairedBy: approvedBy,
	}
	if _, err := s.db.Exec(
		`INSERT OR REPLACE INTO paired_senders (sender_id, channel, chat_id, paired_at, paired_by)
		 VALUES (?, ?, ?, ?, ?)`,
		paired.SenderID, paired.Channel, paired.ChatID, paired.PairedAt, paired.PairedBy,
	); err != nil {
		return nil, fmt.Errorf("insert paired sender: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM pairing_requests WHERE code = ?`, code); err != nil {
		return nil, fmt.Errorf("clear pairing request: %w", err)
	}
	return paired, nil
}

// RevokePairing removes an approved sender.
func (s *SQLitePairingStore) RevokePairing(senderID, channel string) error {
	_, err := s.db.Exec(
		`DELETE FROM paired_senders WHERE channel = ? AND sender_id = ?`, channel, senderID)
	if err != nil {
		return fmt.Errorf("revoke pairing: %w", err)
	}
	return nil
}

// IsPaired reports whether the sender has an approved pairing.
func (s *SQLitePairingStore) IsPaired(senderID, channel string) bool {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM paired_senders WHERE channel = ? AND sender_id = ?`, channel, senderID,
	).Scan(&one)
	return err == nil
}

// ListPending returns all unexpired pairing requests.
func (s *SQLitePairingStore) ListPending() ([]PairingRequest, error) {
	rows, err := s.db.Query(
		`SELECT code, sender_id, channel, chat_id, account_id, created_at, expires_at
		 FROM pairing_requests WHERE expires_at > ? ORDER BY created_at`, s.now().Unix())
	if err != nil {
		return nil, fmt.Errorf("list pending pairings: %w", err)
	}
	defer rows.Close()

	var out []PairingRequest
	for rows.Next() {
		var r PairingRequest
		if err := rows.Scan(&r.Code, &r.SenderID, &r.Channel, &r.ChatID, &r.AccountID, &r.CreatedAt, &r.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListPaired returns all approved senders.
func (s *SQLitePairingStore) ListPaired() ([]PairedSender, error) {
	rows, err := s.db.Query(
		`SELECT sender_id, channel, chat_id, paired_at, paired_by FROM paired_senders ORDER BY paired_at`)
	if err != nil {
		return nil, fmt.Errorf("list paired senders: %w", err)
	}
	defer rows.Close()

	var out []PairedSender
	for rows.Next() {
		var p PairedSender
		if err := rows.Scan(&p.SenderID, &p.Channel, &p.ChatID, &p.PairedAt, &p.PairedBy); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// newPairingCode generates a short human-readable code.
func newPairingCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:8])
}
