package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/carriermax/orderflow/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(WithDSN(filepath.Join(t.TempDir(), "orderflow.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteRequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(); err == nil {
		t.Error("Expected error when DSN is not set")
	}
}

func TestSQLiteFlowContextRoundtrip(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetFlowContext("missing")
	if err != nil {
		t.Fatalf("GetFlowContext failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for missing context, got %+v", got)
	}

	fc := models.FlowContext{SessionID: "s1"}
	fc.ResizeLines(2)
	fc.Lines[0].PlanSelected = true
	fc.Lines[0].PlanID = "plan-40"
	fc.RecomputeFlags()
	if err := st.SaveFlowContext(fc); err != nil {
		t.Fatalf("SaveFlowContext failed: %v", err)
	}

	got, err = st.GetFlowContext("s1")
	if err != nil {
		t.Fatalf("GetFlowContext failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected stored context")
	}
	if got.LineCount != 2 || !got.Lines[0].PlanSelected || got.Lines[0].PlanID != "plan-40" {
		t.Errorf("Roundtrip mismatch: %+v", got)
	}

	// Upsert replaces rather than duplicating.
	fc.ResizeLines(3)
	fc.RecomputeFlags()
	if err := st.SaveFlowContext(fc); err != nil {
		t.Fatalf("SaveFlowContext upsert failed: %v", err)
	}
	got, _ = st.GetFlowContext("s1")
	if got.LineCount != 3 {
		t.Errorf("Expected upserted line count 3, got %d", got.LineCount)
	}

	if err := st.DeleteFlowContext("s1"); err != nil {
		t.Fatalf("DeleteFlowContext failed: %v", err)
	}
	got, _ = st.GetFlowContext("s1")
	if got != nil {
		t.Error("Expected nil after delete")
	}
}

func TestSQLiteCartExpiry(t *testing.T) {
	st := newTestSQLiteStore(t)

	expired := models.Cart{SessionID: "s1", ExpiresAt: time.Now().Add(-time.Minute)}
	if err := st.SaveCart(expired); err != nil {
		t.Fatalf("SaveCart failed: %v", err)
	}
	got, err := st.GetCart("s1")
	if err != nil {
		t.Fatalf("GetCart failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected expired cart swept on read, got %+v", got)
	}

	live := models.Cart{SessionID: "s2", ExpiresAt: time.Now().Add(time.Hour)}
	live.Line(1).Plan = &models.CartItem{ID: "p1", Price: 40}
	live.Recalculate()
	if err := st.SaveCart(live); err != nil {
		t.Fatalf("SaveCart failed: %v", err)
	}
	got, err = st.GetCart("s2")
	if err != nil {
		t.Fatalf("GetCart failed: %v", err)
	}
	if got == nil || got.Total != 40 {
		t.Errorf("Expected live cart with total 40, got %+v", got)
	}
}

func TestSQLiteLastActiveSession(t *testing.T) {
	st := newTestSQLiteStore(t)

	id, err := st.GetLastActiveSession()
	if err != nil {
		t.Fatalf("GetLastActiveSession failed: %v", err)
	}
	if id != "" {
		t.Errorf("Expected empty last active session, got %q", id)
	}

	if err := st.SetLastActiveSession("s1"); err != nil {
		t.Fatalf("SetLastActiveSession failed: %v", err)
	}
	if err := st.SetLastActiveSession("s2"); err != nil {
		t.Fatalf("SetLastActiveSession failed: %v", err)
	}
	id, _ = st.GetLastActiveSession()
	if id != "s2" {
		t.Errorf("Expected s2, got %q", id)
	}
}
