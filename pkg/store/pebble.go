package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Options tune store behavior beyond the DB path.
type Options struct {
	// ProtectPending excludes unsynced messages from eviction until they are
	// older than MaxPendingAge (defaulted when left zero).
	ProtectPending bool
	MaxPendingAge  time.Duration
}

const defaultMaxPendingAge = 7 * 24 * time.Hour

// Store is a durable, append-only per-thread message log on Pebble. One
// instance is constructed per user session and passed by handle; there is
// no package-global database.
type Store struct {
	db     *pebble.DB
	opts   Options
	locks  *threadLocks
	notify notifier
}

// Key layout:
//
//	thread:<threadID>:msg:<%020d created_at>-<id>  -> message JSON
//	msgid:<id>                                     -> log key (identity index)
//	thread:<threadID>:meta                         -> thread JSON
func msgKey(threadID string, createdAt int64, id string) []byte {
	return []byte(fmt.Sprintf("thread:%s:msg:%020d-%s", threadID, createdAt, id))
}

func msgPrefix(threadID string) []byte {
	return []byte("thread:" + threadID + ":msg:")
}

func idKey(id string) []byte {
	return []byte("msgid:" + id)
}

func metaKey(threadID string) []byte {
	return []byte("thread:" + threadID + ":meta")
}

// Open opens (or creates) a Pebble database at the given path.
func Open(path string, opts Options) (*Store, error) {
	if opts.ProtectPending && opts.MaxPendingAge <= 0 {
		// a zero age would make hardBefore "now" and disable protection
		opts.MaxPendingAge = defaultMaxPendingAge
	}
	logger.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, storageFault("open", err)
	}
	logger.Info("pebble_opened", "path", path)
	return &Store{db: db, opts: opts, locks: newThreadLocks()}, nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return storageFault("close", err)
	}
	s.db = nil
	logger.Info("pebble_closed")
	return nil
}

// Append appends msg to its thread's log. The write is atomic: the log row
// and the identity index land in one synced batch, so a crash leaves the
// store either with or without the message. Appending an id that already
// exists is a no-op.
func (s *Store) Append(msg models.Message) error {
	if s.db == nil {
		return ErrClosed
	}
	if msg.ID == "" || msg.Thread == "" {
		return fmt.Errorf("append requires message id and thread")
	}
	lock := s.locks.get(msg.Thread)
	lock.Lock()
	defer lock.Unlock()

	if s.exists(msg.ID) {
		dedupHitsTotal.Inc()
		logger.Debug("append_dedup_hit", "thread", msg.Thread, "id", msg.ID)
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	key := msgKey(msg.Thread, msg.CreatedAt, msg.ID)
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(key, data, nil); err != nil {
		return storageFault("append", err)
	}
	if err := batch.Set(idKey(msg.ID), key, nil); err != nil {
		return storageFault("append", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("append_failed", "thread", msg.Thread, "id", msg.ID, "error", err)
		return storageFault("append", err)
	}
	appendsTotal.Inc()
	logger.Debug("message_appended", "thread", msg.Thread, "id", msg.ID, "pending", msg.PendingSync)
	s.notify.emit(Change{Kind: ChangeAppend, Thread: msg.Thread, ID: msg.ID, Count: 1})
	return nil
}

// LoadThread returns all retained messages for a thread ordered by
// (created_at, id). An unknown thread yields an empty slice, not an error.
func (s *Store) LoadThread(threadID string) ([]models.Message, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	prefix := msgPrefix(threadID)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, storageFault("load", err)
	}
	defer iter.Close()
	out := []models.Message{}
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Error("load_invalid_message_json", "thread", threadID, "key", string(iter.Key()), "error", err)
			return nil, storageFault("load", err)
		}
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		return nil, storageFault("load", err)
	}
	return out, nil
}

// Exists reports whether a message id is already present. SyncCoordinator
// calls it before inserting remotely-sourced messages.
func (s *Store) Exists(id string) bool {
	if s.db == nil {
		return false
	}
	return s.exists(id)
}

func (s *Store) exists(id string) bool {
	_, closer, err := s.db.Get(idKey(id))
	if err != nil {
		return false
	}
	if closer != nil {
		_ = closer.Close()
	}
	return true
}

// MarkRead flips read=true on all unread messages in the thread addressed
// to readerID (i.e. authored by someone else). It returns how many were
// updated; a second call returns 0.
func (s *Store) MarkRead(threadID, readerID string) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	lock := s.locks.get(threadID)
	lock.Lock()
	defer lock.Unlock()

	prefix := msgPrefix(threadID)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, storageFault("mark_read", err)
	}
	defer iter.Close()
	batch := s.db.NewBatch()
	defer batch.Close()
	updated := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return 0, storageFault("mark_read", err)
		}
		if m.Read || m.AuthorID == readerID {
			continue
		}
		m.Read = true
		nb, err := json.Marshal(m)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal message: %w", err)
		}
		k := append([]byte(nil), iter.Key()...)
		if err := batch.Set(k, nb, nil); err != nil {
			return 0, storageFault("mark_read", err)
		}
		updated++
	}
	if err := iter.Error(); err != nil {
		return 0, storageFault("mark_read", err)
	}
	if updated == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("mark_read_failed", "thread", threadID, "error", err)
		return 0, storageFault("mark_read", err)
	}
	readMarkedTotal.Add(float64(updated))
	logger.Debug("messages_marked_read", "thread", threadID, "reader", readerID, "count", updated)
	s.notify.emit(Change{Kind: ChangeRead, Thread: threadID, Count: updated})
	return updated, nil
}

// MarkSynced flips pending_sync=false on the message with the given id,
// called after the backend store acks a push.
func (s *Store) MarkSynced(id string) error {
	return s.updateByID(id, ChangeSynced, func(m *models.Message) bool {
		if !m.PendingSync {
			return false
		}
		m.PendingSync = false
		return true
	})
}

// SetPending flips pending_sync=true, used when an optimistic online
// dispatch fails after the local append already succeeded.
func (s *Store) SetPending(id string) error {
	return s.updateByID(id, ChangeSynced, func(m *models.Message) bool {
		if m.PendingSync {
			return false
		}
		m.PendingSync = true
		return true
	})
}

func (s *Store) updateByID(id string, kind ChangeKind, mutate func(*models.Message) bool) error {
	if s.db == nil {
		return ErrClosed
	}
	kv, closer, err := s.db.Get(idKey(id))
	if err != nil {
		return storageFault("lookup", err)
	}
	logKey := append([]byte(nil), kv...)
	if closer != nil {
		_ = closer.Close()
	}
	// Peek at the row to learn its thread, then mutate under that thread's
	// lock re-reading the current value.
	v, closer, err := s.db.Get(logKey)
	if err != nil {
		return storageFault("lookup", err)
	}
	var peek models.Message
	uerr := json.Unmarshal(v, &peek)
	if closer != nil {
		_ = closer.Close()
	}
	if uerr != nil {
		return storageFault("lookup", uerr)
	}

	lock := s.locks.get(peek.Thread)
	lock.Lock()
	defer lock.Unlock()

	v2, closer2, err := s.db.Get(logKey)
	if err != nil {
		return storageFault("update", err)
	}
	var m models.Message
	uerr = json.Unmarshal(v2, &m)
	if closer2 != nil {
		_ = closer2.Close()
	}
	if uerr != nil {
		return storageFault("update", uerr)
	}
	if !mutate(&m) {
		return nil
	}
	nb, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := s.db.Set(logKey, nb, pebble.Sync); err != nil {
		logger.Error("update_message_failed", "id", id, "error", err)
		return storageFault("update", err)
	}
	s.notify.emit(Change{Kind: kind, Thread: m.Thread, ID: m.ID, Count: 1})
	return nil
}

// PendingMessages returns the thread's messages still awaiting backend
// delivery, oldest first.
func (s *Store) PendingMessages(threadID string) ([]models.Message, error) {
	msgs, err := s.LoadThread(threadID)
	if err != nil {
		return nil, err
	}
	out := msgs[:0]
	for _, m := range msgs {
		if m.PendingSync {
			out = append(out, m)
		}
	}
	return out, nil
}

// LatestSyncedCreatedAt returns the newest created_at among the thread's
// synced (pending_sync=false) messages, or 0 when none exist. This is the
// pull watermark during reconciliation; locally-pending messages must not
// raise it, since the backend has never seen them and a counterparty message
// older than the local pending newest would otherwise sit below the
// watermark and never be fetched.
func (s *Store) LatestSyncedCreatedAt(threadID string) (int64, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	prefix := msgPrefix(threadID)
	upper := append(append([]byte(nil), prefix...), 0xff)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return 0, storageFault("latest", err)
	}
	defer iter.Close()
	for ok := iter.Last(); ok; ok = iter.Prev() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return 0, storageFault("latest", err)
		}
		if m.PendingSync {
			continue
		}
		return m.CreatedAt, nil
	}
	return 0, iter.Error()
}

// Evict removes messages with created_at < before across all threads and
// returns how many were removed. When pending protection is on, unsynced
// messages survive until they are older than the configured hard limit.
func (s *Store) Evict(before int64) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	hardBefore := int64(0)
	if s.opts.ProtectPending {
		hardBefore = time.Now().UTC().Add(-s.opts.MaxPendingAge).UnixNano()
	}
	threads, err := s.logThreadIDs()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, tid := range threads {
		n, err := s.evictThread(tid, before, hardBefore)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	if removed > 0 {
		evictedTotal.Add(float64(removed))
		logger.Info("messages_evicted", "count", removed, "before", before)
		s.notify.emit(Change{Kind: ChangeEvict, Count: removed})
	}
	return removed, nil
}

func (s *Store) evictThread(threadID string, before, hardBefore int64) (int, error) {
	lock := s.locks.get(threadID)
	lock.Lock()
	defer lock.Unlock()

	prefix := msgPrefix(threadID)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, storageFault("evict", err)
	}
	defer iter.Close()
	batch := s.db.NewBatch()
	defer batch.Close()
	removed := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return 0, storageFault("evict", err)
		}
		if m.CreatedAt >= before {
			// log keys are time-ordered inside a thread
			break
		}
		if s.opts.ProtectPending && m.PendingSync && m.CreatedAt >= hardBefore {
			pendingProtectedTotal.Inc()
			continue
		}
		k := append([]byte(nil), iter.Key()...)
		if err := batch.Delete(k, nil); err != nil {
			return 0, storageFault("evict", err)
		}
		if err := batch.Delete(idKey(m.ID), nil); err != nil {
			return 0, storageFault("evict", err)
		}
		removed++
	}
	if err := iter.Error(); err != nil {
		return 0, storageFault("evict", err)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("evict_failed", "thread", threadID, "error", err)
		return 0, storageFault("evict", err)
	}
	return removed, nil
}

// logThreadIDs returns the distinct thread ids present in the message log.
func (s *Store) logThreadIDs() ([]string, error) {
	prefix := []byte("thread:")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, storageFault("scan", err)
	}
	defer iter.Close()
	var out []string
	last := ""
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		rest := k[len(prefix):]
		idx := bytes.IndexByte(rest, ':')
		if idx < 0 {
			continue
		}
		tid := string(rest[:idx])
		if tid != last {
			out = append(out, tid)
			last = tid
		}
	}
	return out, iter.Error()
}

// KnownThreadIDs returns the union of threads that have metadata and
// threads that have log rows.
func (s *Store) KnownThreadIDs() ([]string, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	ids, err := s.logThreadIDs()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	threads, err := s.Threads()
	if err != nil {
		return nil, err
	}
	for _, th := range threads {
		if _, ok := seen[th.ID]; !ok {
			seen[th.ID] = struct{}{}
			ids = append(ids, th.ID)
		}
	}
	return ids, nil
}

// SaveThread stores thread metadata under a reserved key.
func (s *Store) SaveThread(th models.Thread) error {
	if s.db == nil {
		return ErrClosed
	}
	if th.ID == "" {
		return fmt.Errorf("thread id required")
	}
	data, err := json.Marshal(th)
	if err != nil {
		return fmt.Errorf("failed to marshal thread: %w", err)
	}
	if err := s.db.Set(metaKey(th.ID), data, pebble.Sync); err != nil {
		logger.Error("save_thread_failed", "thread", th.ID, "error", err)
		return storageFault("save_thread", err)
	}
	logger.Debug("thread_saved", "thread", th.ID)
	return nil
}

// GetThread returns stored thread metadata. ok is false for an unknown
// thread; absence is not an error.
func (s *Store) GetThread(threadID string) (models.Thread, bool, error) {
	if s.db == nil {
		return models.Thread{}, false, ErrClosed
	}
	v, closer, err := s.db.Get(metaKey(threadID))
	if err == pebble.ErrNotFound {
		return models.Thread{}, false, nil
	}
	if err != nil {
		return models.Thread{}, false, storageFault("get_thread", err)
	}
	var th models.Thread
	uerr := json.Unmarshal(v, &th)
	if closer != nil {
		_ = closer.Close()
	}
	if uerr != nil {
		return models.Thread{}, false, storageFault("get_thread", uerr)
	}
	return th, true, nil
}

// Threads returns all saved thread metadata records.
func (s *Store) Threads() ([]models.Thread, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	prefix := []byte("thread:")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, storageFault("threads", err)
	}
	defer iter.Close()
	var out []models.Thread
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		if !bytes.HasSuffix(k, []byte(":meta")) {
			continue
		}
		var th models.Thread
		if err := json.Unmarshal(iter.Value(), &th); err != nil {
			return nil, storageFault("threads", err)
		}
		out = append(out, th)
	}
	return out, iter.Error()
}
