package store

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLitePairingStore {
	t.Helper()
	s, err := OpenPairingStore(filepath.Join(t.TempDir(), "pairing.db"))
	if err != nil {
		t.Fatalf("open pairing store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestRequestPairing_CreatesOnce verifies that repeated requests for the
// same sender return the same code and only the first reports created.
func TestRequestPairing_CreatesOnce(t *testing.T) {
	s := openTestStore(t)

	code1, created1, err := s.RequestPairing("wxid_a", "wechat", "chat1", "main")
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if !created1 {
		t.Error("first request should report created")
	}
	if len(code1) != 8 {
		t.Errorf("code %q should be 8 chars", code1)
	}

	code2, created2, err := s.RequestPairing("wxid_a", "wechat", "chat1", "main")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if created2 {
		t.Error("second request must not report created")
	}
	if code2 != code1 {
		t.Errorf("second request returned %q, want the existing %q", code2, code1)
	}
}

// TestRequestPairing_ExpiryReissues verifies that an expired request is
// replaced by a fresh one, which again reports created.
func TestRequestPairing_ExpiryReissues(t *testing.T) {
	s := openTestStore(t)

	base := time.Now()
	s.now = func() time.Time { return base }

	code1, _, err := s.RequestPairing("wxid_a", "wechat", "chat1", "main")
	if err != nil {
		t.Fatalf("first request: %v", err)
	}

	s.now = func() time.Time { return base.Add(pairingTTL + time.Minute) }

	code2, created, err := s.RequestPairing("wxid_a", "wechat", "chat1", "main")
	if err != nil {
		t.Fatalf("request after expiry: %v", err)
	}
	if !created {
		t.Error("expired request should be re-issued as created")
	}
	if code2 == code1 {
		t.Error("re-issued request should carry a new code")
	}
}

// TestApprovePairing verifies the approve flow: the sender becomes paired,
// the pending request disappears, and the code cannot be redeemed twice.
func TestApprovePairing(t *testing.T) {
	s := openTestStore(t)

	code, _, err := s.RequestPairing("wxid_a", "wechat", "chat1", "main")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	paired, err := s.ApprovePairing(code, "cli")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if paired.SenderID != "wxid_a" || paired.PairedBy != "cli" {
		t.Errorf("unexpected paired record: %+v", paired)
	}
	if !s.IsPaired("wxid_a", "wechat") {
		t.Error("sender should be paired after approval")
	}

	pending, err := s.ListPending()
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending requests, got %d", len(pending))
	}

	if _, err := s.ApprovePairing(code, "cli"); err == nil {
		t.Error("approving a redeemed code should fail")
	}
}

// TestApprovePairing_Expired verifies that an expired code cannot be
// approved.
func TestApprovePairing_Expired(t *testing.T) {
	s := openTestStore(t)

	base := time.Now()
	s.now = func() time.Time { return base }
	code, _, err := s.RequestPairing("wxid_a", "wechat", "chat1", "main")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	s.now = func() time.Time { return base.Add(pairingTTL + time.Minute) }
	if _, err := s.ApprovePairing(code, "cli"); err == nil {
		t.Error("approving an expired code should fail")
	}
}

// TestRevokePairing verifies that a revoked sender is no longer paired.
func TestRevokePairing(t *testing.T) {
	s := openTestStore(t)

	code, _, _ := s.RequestPairing("wxid_a", "wechat", "chat1", "main")
	if _, err := s.ApprovePairing(code, "cli"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if err := s.RevokePairing("wxid_a", "wechat"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if s.IsPaired("wxid_a", "wechat") {
		t.Error("sender should not be paired after revoke")
	}
}

// TestListPending_SkipsExpired verifies that expired requests are not
// listed.
func TestListPending_SkipsExpired(t *testing.T) {
	s := openTestStore(t)

	base := time.Now()
	s.now = func() time.Time { return base }
	if _, _, err := s.RequestPairing("wxid_old", "wechat", "chat1", "main"); err != nil {
		t.Fatalf("request: %v", err)
	}

	s.now = func() time.Time { return base.Add(pairingTTL + time.Minute) }
	if _, _, err := s.RequestPairing("wxid_new", "wechat", "chat2", "main"); err != nil {
		t.Fatalf("request: %v", err)
	}

	pending, err := s.ListPending()
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].SenderID != "wxid_new" {
		t.Errorf("expected only the fresh request, got %+v", pending)
	}
}
