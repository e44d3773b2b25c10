package store

import (
	"testing"
	"time"

	"chatsync/pkg/models"
)

func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func msg(id, thread, author string, createdAt int64) models.Message {
	return models.Message{
		ID:        id,
		Thread:    thread,
		AuthorID:  author,
		Content:   "content-" + id,
		Kind:      models.KindText,
		CreatedAt: createdAt,
	}
}

func TestAppendAndLoadOrdering(t *testing.T) {
	s := openTestStore(t, Options{})

	// append out of order; LoadThread must come back sorted by (created_at, id)
	if err := s.Append(msg("m2", "t1", "alice", 2000)); err != nil {
		t.Fatalf("Append m2: %v", err)
	}
	if err := s.Append(msg("m1", "t1", "alice", 1000)); err != nil {
		t.Fatalf("Append m1: %v", err)
	}
	if err := s.Append(msg("m3", "t1", "alice", 2000)); err != nil {
		t.Fatalf("Append m3: %v", err)
	}

	msgs, err := s.LoadThread("t1")
	if err != nil {
		t.Fatalf("LoadThread: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages; got %d", len(msgs))
	}
	want := []string{"m1", "m2", "m3"} // m2 < m3 by id at equal timestamp
	for i, id := range want {
		if msgs[i].ID != id {
			t.Fatalf("position %d: expected %s; got %s", i, id, msgs[i].ID)
		}
	}
}

func TestLoadUnknownThreadIsEmpty(t *testing.T) {
	s := openTestStore(t, Options{})
	msgs, err := s.LoadThread("nope")
	if err != nil {
		t.Fatalf("LoadThread: %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Fatalf("expected empty (not missing) slice; got %v", msgs)
	}
}

func TestAppendIdempotentByID(t *testing.T) {
	s := openTestStore(t, Options{})
	m := msg("dup", "t1", "alice", 1000)
	if err := s.Append(m); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if !s.Exists("dup") {
		t.Fatalf("expected Exists after append")
	}
	// second insert of the same id leaves the log unchanged
	m.Content = "changed"
	if err := s.Append(m); err != nil {
		t.Fatalf("Append dup: %v", err)
	}
	msgs, err := s.LoadThread("t1")
	if err != nil {
		t.Fatalf("LoadThread: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message; got %d", len(msgs))
	}
	if msgs[0].Content != "content-dup" {
		t.Fatalf("duplicate append overwrote the row: %q", msgs[0].Content)
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	s := openTestStore(t, Options{})
	if err := s.Append(msg("a1", "t1", "alice", 1000)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(msg("a2", "t1", "alice", 2000)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// bob's own message must not be flipped for bob
	if err := s.Append(msg("b1", "t1", "bob", 3000)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	n, err := s.MarkRead("t1", "bob")
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 updated; got %d", n)
	}
	n, err = s.MarkRead("t1", "bob")
	if err != nil {
		t.Fatalf("MarkRead again: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected idempotent second call; got %d", n)
	}
	msgs, _ := s.LoadThread("t1")
	for _, m := range msgs {
		if m.AuthorID != "bob" && !m.Read {
			t.Fatalf("message %s should be read", m.ID)
		}
		if m.AuthorID == "bob" && m.Read {
			t.Fatalf("bob's own message should be untouched")
		}
	}
}

func TestMarkSyncedAndSetPending(t *testing.T) {
	s := openTestStore(t, Options{})
	m := msg("p1", "t1", "alice", 1000)
	m.PendingSync = true
	if err := s.Append(m); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.MarkSynced("p1"); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	msgs, _ := s.LoadThread("t1")
	if msgs[0].PendingSync {
		t.Fatalf("expected pending_sync=false after MarkSynced")
	}
	if err := s.SetPending("p1"); err != nil {
		t.Fatalf("SetPending: %v", err)
	}
	msgs, _ = s.LoadThread("t1")
	if !msgs[0].PendingSync {
		t.Fatalf("expected pending_sync=true after SetPending")
	}
}

func TestEvictByHorizon(t *testing.T) {
	s := openTestStore(t, Options{})
	old := time.Now().UTC().Add(-48 * time.Hour).UnixNano()
	young := time.Now().UTC().UnixNano()
	if err := s.Append(msg("old", "t1", "alice", old)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(msg("young", "t1", "alice", young)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	before := time.Now().UTC().Add(-24 * time.Hour).UnixNano()
	n, err := s.Evict(before)
	if err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 evicted; got %d", n)
	}
	msgs, _ := s.LoadThread("t1")
	if len(msgs) != 1 || msgs[0].ID != "young" {
		t.Fatalf("expected only young to survive; got %v", msgs)
	}
	if s.Exists("old") {
		t.Fatalf("identity index should be cleaned up with the row")
	}
}

func TestEvictProtectsPending(t *testing.T) {
	s := openTestStore(t, Options{ProtectPending: true, MaxPendingAge: 7 * 24 * time.Hour})
	old := time.Now().UTC().Add(-48 * time.Hour).UnixNano()
	ancient := time.Now().UTC().Add(-8 * 24 * time.Hour).UnixNano()

	expired := msg("expired", "t1", "alice", old)
	pending := msg("pending", "t1", "alice", old)
	pending.PendingSync = true
	hardExpired := msg("hard", "t1", "alice", ancient)
	hardExpired.PendingSync = true
	for _, m := range []models.Message{expired, pending, hardExpired} {
		if err := s.Append(m); err != nil {
			t.Fatalf("Append %s: %v", m.ID, err)
		}
	}

	before := time.Now().UTC().Add(-24 * time.Hour).UnixNano()
	n, err := s.Evict(before)
	if err != nil {
		t.Fatalf("Evict: %v", err)
	}
	// expired goes, pending survives, hard-expired pending goes
	if n != 2 {
		t.Fatalf("expected 2 evicted; got %d", n)
	}
	msgs, _ := s.LoadThread("t1")
	if len(msgs) != 1 || msgs[0].ID != "pending" {
		t.Fatalf("expected pending to survive eviction; got %v", msgs)
	}
}

func TestEvictProtectsPendingWithDefaultAge(t *testing.T) {
	// ProtectPending without an explicit age must still protect; a zero age
	// would otherwise make the hard cutoff "now" and delete everything
	s := openTestStore(t, Options{ProtectPending: true})
	old := time.Now().UTC().Add(-48 * time.Hour).UnixNano()
	pending := msg("pending", "t1", "alice", old)
	pending.PendingSync = true
	if err := s.Append(pending); err != nil {
		t.Fatalf("Append: %v", err)
	}

	n, err := s.Evict(time.Now().UTC().UnixNano())
	if err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 evicted; got %d", n)
	}
	if !s.Exists("pending") {
		t.Fatalf("expired pending message should survive under the default age")
	}
}

func TestChangeNotifications(t *testing.T) {
	s := openTestStore(t, Options{})
	var changes []Change
	s.Watch(func(c Change) { changes = append(changes, c) })

	if err := s.Append(msg("n1", "t1", "alice", 1000)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.MarkRead("t1", "bob"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if _, err := s.Evict(time.Now().UTC().UnixNano()); err != nil {
		t.Fatalf("Evict: %v", err)
	}

	if len(changes) != 3 {
		t.Fatalf("expected 3 changes; got %d: %v", len(changes), changes)
	}
	if changes[0].Kind != ChangeAppend || changes[1].Kind != ChangeRead || changes[2].Kind != ChangeEvict {
		t.Fatalf("unexpected change kinds: %v", changes)
	}
}

func TestLatestSyncedCreatedAt(t *testing.T) {
	s := openTestStore(t, Options{})
	if ts, err := s.LatestSyncedCreatedAt("t1"); err != nil || ts != 0 {
		t.Fatalf("empty thread watermark: ts=%d err=%v", ts, err)
	}
	_ = s.Append(msg("w1", "t1", "alice", 500))
	_ = s.Append(msg("w2", "t1", "alice", 1500))
	ts, err := s.LatestSyncedCreatedAt("t1")
	if err != nil {
		t.Fatalf("LatestSyncedCreatedAt: %v", err)
	}
	if ts != 1500 {
		t.Fatalf("expected watermark 1500; got %d", ts)
	}

	// pending messages never raise the watermark; the backend has not seen
	// them, so they must not hide older remote messages behind since_ts
	p := msg("w3", "t1", "alice", 2500)
	p.PendingSync = true
	_ = s.Append(p)
	ts, err = s.LatestSyncedCreatedAt("t1")
	if err != nil {
		t.Fatalf("LatestSyncedCreatedAt: %v", err)
	}
	if ts != 1500 {
		t.Fatalf("pending message raised the watermark: got %d", ts)
	}

	// a pending-only thread has no synced watermark at all
	q := msg("x1", "t2", "alice", 900)
	q.PendingSync = true
	_ = s.Append(q)
	if ts, err := s.LatestSyncedCreatedAt("t2"); err != nil || ts != 0 {
		t.Fatalf("pending-only thread watermark: ts=%d err=%v", ts, err)
	}
}

func TestThreadMetadataRoundTrip(t *testing.T) {
	s := openTestStore(t, Options{})
	th := models.Thread{
		ID:               "t1",
		DisplayName:      "Dr. Smith",
		CounterpartyName: "Smith",
		Category:         models.CategoryProfessional,
		Presence:         models.PresenceOnline,
	}
	if err := s.SaveThread(th); err != nil {
		t.Fatalf("SaveThread: %v", err)
	}
	got, ok, err := s.GetThread("t1")
	if err != nil || !ok {
		t.Fatalf("GetThread: ok=%v err=%v", ok, err)
	}
	if got.DisplayName != th.DisplayName || got.Category != th.Category {
		t.Fatalf("thread mismatch: %+v", got)
	}
	if _, ok, err := s.GetThread("missing"); err != nil || ok {
		t.Fatalf("unknown thread should be (zero,false,nil); ok=%v err=%v", ok, err)
	}
	all, err := s.Threads()
	if err != nil || len(all) != 1 {
		t.Fatalf("Threads: %v len=%d", err, len(all))
	}
}

func TestKnownThreadIDsUnion(t *testing.T) {
	s := openTestStore(t, Options{})
	_ = s.SaveThread(models.Thread{ID: "meta-only"})
	_ = s.Append(msg("k1", "log-only", "alice", 1000))
	ids, err := s.KnownThreadIDs()
	if err != nil {
		t.Fatalf("KnownThreadIDs: %v", err)
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen["meta-only"] || !seen["log-only"] {
		t.Fatalf("expected union of meta and log threads; got %v", ids)
	}
}
