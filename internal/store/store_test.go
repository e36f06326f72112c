package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/gatewatch/gatewatch/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore(\"\") failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(device, action string, receivedAt time.Time) *model.Record {
	return &model.Record{
		ReceivedAt: receivedAt,
		Timestamp:  "2025-06-01T12:00:00",
		SourceAddr: "192.168.1.99",
		Device:     device,
		SrcIP:      "10.0.0.5",
		DstIP:      "93.184.216.34",
		Hostname:   "example.com",
		DstPort:    443,
		Action:     action,
		LogType:    "traffic",
		Subtype:    "forward",
		Category:   "traffic_forward",
		Raw:        `date=2025-06-01 time=12:00:00 srcip=10.0.0.5 action=` + action,
		Fields: map[string]any{
			"srcport":  int64(51234),
			"proto":    int64(6),
			"service":  "HTTPS",
			"policyid": int64(7),
		},
	}
}

func insertTestRecords(t *testing.T, store *Store, records []*model.Record) {
	t.Helper()
	if err := store.InsertLogBatch(records); err != nil {
		t.Fatalf("InsertLogBatch failed: %v", err)
	}
}

func TestInsertLogBatch(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	insertTestRecords(t, store, []*model.Record{
		testRecord("fw-hq", "accept", now),
		testRecord("fw-hq", "deny", now),
		testRecord("fw-branch", "accept", now),
	})

	count, err := store.TotalLogCount("")
	if err != nil {
		t.Fatalf("TotalLogCount: %v", err)
	}
	if count != 3 {
		t.Errorf("TotalLogCount = %d, want 3", count)
	}

	count, err = store.TotalLogCount("fw-hq")
	if err != nil {
		t.Fatalf("TotalLogCount(fw-hq): %v", err)
	}
	if count != 2 {
		t.Errorf("TotalLogCount(fw-hq) = %d, want 2", count)
	}
}

func TestInsertLogBatch_Empty(t *testing.T) {
	store := newTestStore(t)
	if err := store.InsertLogBatch(nil); err != nil {
		t.Fatalf("InsertLogBatch(nil) = %v, want nil", err)
	}
}

func TestInsertLogBatch_SparseRecord(t *testing.T) {
	store := newTestStore(t)

	// A record that failed kv parsing carries only raw text and metadata.
	rec := &model.Record{
		ReceivedAt: time.Now().UTC(),
		SourceAddr: "172.16.0.1",
		Device:     "fw-lab",
		Category:   "_",
		Raw:        "not a key value line",
		Fields:     map[string]any{},
	}
	insertTestRecords(t, store, []*model.Record{rec})

	logs, err := store.RecentLogs("fw-lab", 10)
	if err != nil {
		t.Fatalf("RecentLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("RecentLogs returned %d rows, want 1", len(logs))
	}
	if logs[0].Raw != rec.Raw {
		t.Errorf("Raw = %q, want %q", logs[0].Raw, rec.Raw)
	}
	if logs[0].SrcIP != "" || logs[0].DstPort != 0 {
		t.Errorf("sparse record stored non-empty fields: %+v", logs[0])
	}
}

func TestRecentLogs_OrderAndLimit(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UTC()

	var batch []*model.Record
	for i := 0; i < 5; i++ {
		r := testRecord("fw-hq", "accept", base.Add(time.Duration(i)*time.Second))
		r.SrcIP = fmt.Sprintf("10.0.0.%d", i+1)
		batch = append(batch, r)
	}
	insertTestRecords(t, store, batch)

	logs, err := store.RecentLogs("fw-hq", 3)
	if err != nil {
		t.Fatalf("RecentLogs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("RecentLogs returned %d rows, want 3", len(logs))
	}
	// Newest first.
	if !logs[0].ReceivedAt.After(logs[2].ReceivedAt) {
		t.Errorf("RecentLogs not newest-first: %v before %v", logs[0].ReceivedAt, logs[2].ReceivedAt)
	}
}

func TestDeleteExpired_PerDeviceCounts(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	insertTestRecords(t, store, []*model.Record{
		testRecord("fw-hq", "accept", now.Add(-48*time.Hour)),
		testRecord("fw-hq", "accept", now.Add(-36*time.Hour)),
		testRecord("fw-branch", "deny", now.Add(-48*time.Hour)),
		testRecord("fw-hq", "accept", now),
	})

	expired, err := store.DeleteExpired(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if len(expired) != 2 {
		t.Fatalf("DeleteExpired reported %d devices, want 2: %v", len(expired), expired)
	}
	if expired["fw-hq"] != 2 {
		t.Errorf("expired[fw-hq] = %d, want 2", expired["fw-hq"])
	}
	if expired["fw-branch"] != 1 {
		t.Errorf("expired[fw-branch] = %d, want 1", expired["fw-branch"])
	}

	count, err := store.TotalLogCount("")
	if err != nil {
		t.Fatalf("TotalLogCount: %v", err)
	}
	if count != 1 {
		t.Errorf("after cleanup TotalLogCount = %d, want 1", count)
	}
}

func TestDeleteExpired_NothingToDelete(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	insertTestRecords(t, store, []*model.Record{
		testRecord("fw-hq", "accept", now),
	})

	expired, err := store.DeleteExpired(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("DeleteExpired reported %v, want empty", expired)
	}
}

func TestRetentionCleaner_DisabledWhenZero(t *testing.T) {
	store := newTestStore(t)
	if rc := NewRetentionCleaner(store, RetentionConfig{RetentionDays: 0}); rc != nil {
		rc.Stop()
		t.Error("NewRetentionCleaner with 0 days should return nil")
	}
}

func TestRetentionCleaner_StartupCleanup(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	insertTestRecords(t, store, []*model.Record{
		testRecord("fw-hq", "accept", now.Add(-10*24*time.Hour)),
		testRecord("fw-hq", "accept", now),
	})

	rc := NewRetentionCleaner(store, RetentionConfig{RetentionDays: 7})
	if rc == nil {
		t.Fatal("NewRetentionCleaner returned nil")
	}
	defer rc.Stop()

	count, err := store.TotalLogCount("")
	if err != nil {
		t.Fatalf("TotalLogCount: %v", err)
	}
	if count != 1 {
		t.Errorf("after startup cleanup TotalLogCount = %d, want 1", count)
	}
}

func TestRetentionCleaner_PeriodicSweep(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	rc := NewRetentionCleaner(store, RetentionConfig{
		RetentionDays: 7,
		SweepInterval: 20 * time.Millisecond,
	})
	if rc == nil {
		t.Fatal("NewRetentionCleaner returned nil")
	}
	defer rc.Stop()

	// Arrives after the startup sweep, so only a later tick can expire it.
	insertTestRecords(t, store, []*model.Record{
		testRecord("fw-hq", "accept", now.Add(-10*24*time.Hour)),
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		count, err := store.TotalLogCount("")
		if err != nil {
			t.Fatalf("TotalLogCount: %v", err)
		}
		if count == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("periodic sweep never expired the old log")
}

func TestRetentionCleaner_StopIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	rc := NewRetentionCleaner(store, RetentionConfig{RetentionDays: 7})
	if rc == nil {
		t.Fatal("NewRetentionCleaner returned nil")
	}
	rc.Stop()
	rc.Stop()
}
