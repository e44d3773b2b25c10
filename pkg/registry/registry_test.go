package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/pkg/models"
	"chatsync/pkg/store"
)

func setup(t *testing.T) (*store.Store, *Registry) {
	t.Helper()
	st, err := store.Open(t.TempDir(), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	r, err := New(st, "me")
	require.NoError(t, err)
	return st, r
}

func thread(id, name, counterparty string, cat models.Category) models.Thread {
	return models.Thread{
		ID: id, DisplayName: name, CounterpartyName: counterparty,
		Category: cat, Presence: models.PresenceOffline,
	}
}

func TestUnreadFollowsStoreChanges(t *testing.T) {
	st, r := setup(t)
	require.NoError(t, r.Add(thread("t1", "Dr. Smith", "Smith", models.CategoryProfessional)))

	assert.Equal(t, 0, r.UnreadCount("t1"))

	// incoming messages raise the counter; own messages do not
	require.NoError(t, st.Append(models.Message{ID: "m1", Thread: "t1", AuthorID: "smith", Kind: models.KindText, CreatedAt: 1000}))
	require.NoError(t, st.Append(models.Message{ID: "m2", Thread: "t1", AuthorID: "smith", Kind: models.KindText, CreatedAt: 2000}))
	require.NoError(t, st.Append(models.Message{ID: "m3", Thread: "t1", AuthorID: "me", Kind: models.KindText, CreatedAt: 3000}))
	assert.Equal(t, 2, r.UnreadCount("t1"))

	n, err := st.MarkRead("t1", "me")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, r.UnreadCount("t1"), "MarkRead must drive the counter to zero")

	n, err = st.MarkRead("t1", "me")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second MarkRead updates nothing")
}

func TestUnreadUnknownThreadIsZero(t *testing.T) {
	_, r := setup(t)
	assert.Equal(t, 0, r.UnreadCount("missing"))
}

func TestListFiltering(t *testing.T) {
	_, r := setup(t)
	require.NoError(t, r.Add(thread("t1", "Dr. Smith", "Jane Smith", models.CategoryProfessional)))
	require.NoError(t, r.Add(thread("t2", "Physics 101", "Alan Turing", models.CategoryStudent)))
	require.NoError(t, r.Add(thread("t3", "Checkup", "John Doe", models.CategoryPatient)))

	all := r.List(Filter{})
	assert.Len(t, all, 3)

	students := r.List(Filter{Category: models.CategoryStudent})
	require.Len(t, students, 1)
	assert.Equal(t, "t2", students[0].ID)

	// case-insensitive substring over display and counterparty names
	smith := r.List(Filter{Query: "sMiTh"})
	require.Len(t, smith, 1)
	assert.Equal(t, "t1", smith[0].ID)

	none := r.List(Filter{Category: models.CategoryPatient, Query: "turing"})
	assert.Empty(t, none)
}

func TestListOrdersByRecency(t *testing.T) {
	st, r := setup(t)
	require.NoError(t, r.Add(thread("t1", "A", "", models.CategoryStudent)))
	require.NoError(t, r.Add(thread("t2", "B", "", models.CategoryStudent)))

	now := time.Now().UTC().UnixNano()
	require.NoError(t, st.Append(models.Message{ID: "m1", Thread: "t2", AuthorID: "x", Kind: models.KindText, CreatedAt: now}))

	got := r.List(Filter{})
	require.Len(t, got, 2)
	assert.Equal(t, "t2", got[0].ID, "thread with newer activity sorts first")
}

func TestSelectionCursor(t *testing.T) {
	_, r := setup(t)
	if _, ok := r.CurrentSelection(); ok {
		t.Fatalf("expected no initial selection")
	}
	r.Select("t1")
	id, ok := r.CurrentSelection()
	require.True(t, ok)
	assert.Equal(t, "t1", id)
	r.ClearSelection()
	if _, ok := r.CurrentSelection(); ok {
		t.Fatalf("expected cleared selection")
	}
}

func TestApplyPresence(t *testing.T) {
	st, r := setup(t)
	require.NoError(t, r.Add(thread("t1", "Dr. Smith", "Smith", models.CategoryProfessional)))

	seen := time.Now().UTC().UnixNano()
	require.NoError(t, r.ApplyPresence("t1", models.PresenceBusy, seen))

	th, ok := r.Get("t1")
	require.True(t, ok)
	assert.Equal(t, models.PresenceBusy, th.Presence)
	assert.Equal(t, seen, th.LastSeenAt)

	// persisted for the next bootstrap
	stored, ok, err := st.GetThread("t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.PresenceBusy, stored.Presence)

	// unknown thread updates are dropped, not errors
	require.NoError(t, r.ApplyPresence("missing", models.PresenceOnline, seen))
}

func TestBootstrapFromStore(t *testing.T) {
	st, err := store.Open(t.TempDir(), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.SaveThread(thread("t1", "Dr. Smith", "Smith", models.CategoryProfessional)))
	require.NoError(t, st.Append(models.Message{ID: "m1", Thread: "t1", AuthorID: "smith", Kind: models.KindText, CreatedAt: 1000}))

	r, err := New(st, "me")
	require.NoError(t, err)
	assert.Equal(t, 1, r.UnreadCount("t1"), "bootstrap derives unread from the log")
}
