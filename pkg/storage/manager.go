package storage

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
)

// TransactionManager owns the shared timestamp generator, the set of
// active and recently-committed transactions, and the watermark-driven
// garbage collector (§4.5, §4.6). One manager serves one GraphStore.
type TransactionManager struct {
	ts    *TimestampGenerator
	store *GraphStore
	log   logr.Logger
	wal   *WAL // nil when the engine is opened without durability

	commitMu sync.Mutex   // serializes the whole commit critical section
	quiesce  sync.RWMutex // Begin holds RLock; checkpoint briefly takes Lock to capture a consistent (latest commit ts, lsn) pair

	mu               sync.Mutex
	active           map[Timestamp]*Transaction // keyed by TxnID
	committed        []*commitRecord            // ordered by commit order, oldest first
	gcTriggerEvery   int
	commitsSinceGC   int
	telemetry        *telemetry
}

type commitRecord struct {
	txnID    Timestamp
	commitTS Timestamp
	touched  []*UndoEntry
}

func NewTransactionManager(store *GraphStore, ts *TimestampGenerator, wal *WAL, log logr.Logger, gcTriggerEvery int, tel *telemetry) *TransactionManager {
	if gcTriggerEvery <= 0 {
		gcTriggerEvery = 256
	}
	return &TransactionManager{
		ts:             ts,
		store:          store,
		log:            log,
		wal:            wal,
		active:         make(map[Timestamp]*Transaction),
		gcTriggerEvery: gcTriggerEvery,
		telemetry:      tel,
	}
}

// Begin starts a new transaction with a fresh txn id and a start
// timestamp equal to the most recently issued commit timestamp (§4.4 step
// 1: the transaction's snapshot is everything committed before it began).
func (m *TransactionManager) Begin(iso IsolationLevel) (*Transaction, error) {
	m.quiesce.RLock()
	defer m.quiesce.RUnlock()

	txnID, err := m.ts.NextTxnID()
	if err != nil {
		return nil, err
	}
	startTS := m.ts.PeekNextCommitTS() - 1

	txn := newTransaction(m, m.store, txnID, startTS, iso, m.log)

	m.mu.Lock()
	m.active[txnID] = txn
	m.mu.Unlock()

	if m.wal != nil && !txn.skipWAL {
		if _, err := m.wal.Append(RedoEntry{TxnID: txnID, Iso: iso, Op: RedoBegin, StartTS: startTS}); err != nil {
			m.log.Error(err, "wal append failed for BeginTransaction", "txn_id", txnID)
		}
	}
	return txn, nil
}

// beginReplay constructs a transaction used only while replaying the WAL
// during recovery: its id, start timestamp and isolation are all taken
// verbatim from the log rather than freshly allocated, and it never
// itself appends to the WAL.
func (m *TransactionManager) beginReplay(txnID, startTS Timestamp, iso IsolationLevel) *Transaction {
	txn := newTransaction(m, m.store, txnID, startTS, iso, m.log)
	txn.skipWAL = true
	m.mu.Lock()
	m.active[txnID] = txn
	m.mu.Unlock()
	return txn
}

// commit runs the five-step protocol of §4.4: certify (Serializable
// only), assign a commit timestamp, stamp every touched chain, append the
// commit record (and its preceding deltas) to the WAL, then retire the
// transaction from the active set and recompute the watermark.
func (m *TransactionManager) commit(t *Transaction) error {
	_, span := m.telemetry.startSpan(context.Background(), "Commit")
	defer span.End()

	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	if t.Isolation == Serializable {
		if err := m.certify(t); err != nil {
			_ = m.abort(t)
			return err
		}
	}

	commitTS, err := m.ts.NextCommitTS()
	if err != nil {
		return err
	}
	t.commitTS.Store(uint64(commitTS))
	t.state.Store(int32(txnCommitted))

	t.bufMu.Lock()
	entries := append([]*UndoEntry(nil), t.undoBuffer...)
	deltas := append([]DeltaOp(nil), t.redoBuffer...)
	t.bufMu.Unlock()

	for _, e := range entries {
		stampEntryCommit(m.store, e, commitTS)
	}

	if m.wal != nil && !t.skipWAL {
		for _, d := range deltas {
			if _, err := m.wal.Append(RedoEntry{TxnID: t.TxnID, Iso: t.Isolation, Op: RedoDelta, Delta: d}); err != nil {
				m.log.Error(err, "wal append failed for delta", "txn_id", t.TxnID)
			}
		}
		if _, err := m.wal.Append(RedoEntry{TxnID: t.TxnID, Iso: t.Isolation, Op: RedoCommit, CommitTS: commitTS}); err != nil {
			m.log.Error(err, "wal append failed for CommitTransaction", "txn_id", t.TxnID)
		}
		if err := m.wal.Flush(); err != nil {
			m.log.Error(err, "wal flush failed at commit", "txn_id", t.TxnID)
			return newErr(KindDurabilityError, "commit", err)
		}
	}

	m.mu.Lock()
	delete(m.active, t.TxnID)
	m.committed = append(m.committed, &commitRecord{txnID: t.TxnID, commitTS: commitTS, touched: entries})
	m.commitsSinceGC++
	runGC := m.commitsSinceGC >= m.gcTriggerEvery
	if runGC {
		m.commitsSinceGC = 0
	}
	m.mu.Unlock()

	if m.telemetry != nil {
		m.telemetry.recordCommit()
	}
	if runGC {
		m.GarbageCollect()
	}
	return nil
}

// commitReplay finalizes a replay-only transaction at the exact commit
// timestamp recorded in the WAL, instead of minting a fresh one. It skips
// certification, WAL append, and the GC trigger entirely: replay runs
// once, single-threaded, before the engine accepts any live transaction
// (§4.8 step 4, "CommitTransaction(commit_ts)").
func (m *TransactionManager) commitReplay(t *Transaction, commitTS Timestamp) {
	t.commitTS.Store(uint64(commitTS))
	t.state.Store(int32(txnCommitted))

	t.bufMu.Lock()
	entries := append([]*UndoEntry(nil), t.undoBuffer...)
	t.bufMu.Unlock()

	for _, e := range entries {
		stampEntryCommit(m.store, e, commitTS)
	}

	m.ts.UpdateIfGreater(commitTS)

	m.mu.Lock()
	delete(m.active, t.TxnID)
	m.committed = append(m.committed, &commitRecord{txnID: t.TxnID, commitTS: commitTS, touched: entries})
	m.mu.Unlock()
}

// stampEntryCommit replaces an UndoEntry's owning chain's provisional
// txn-id stamp with the real commit timestamp (§4.4 step 5); it has no
// effect on the entry itself, which always remembers the prior value for
// readers still walking an older snapshot.
func stampEntryCommit(store *GraphStore, e *UndoEntry, commitTS Timestamp) {
	if e.Delta.isVertex() {
		id := e.Delta.VertexID
		if chain, ok := store.vertexChain(id); ok {
			chain.stampCommitTS(commitTS)
		}
		return
	}
	id := e.Delta.EdgeID
	if chain, ok := store.edgeChain(id); ok {
		chain.stampCommitTS(commitTS)
	}
}

// certify implements Serializable's commit-time read validation: every
// entity this transaction read must still be at the same commit
// timestamp it was when read, i.e. nothing it depended on was committed
// over after its snapshot began.
func (m *TransactionManager) certify(t *Transaction) error {
	t.readsMu.Lock()
	verts := make([]VertexId, 0, len(t.readVerts))
	for id := range t.readVerts {
		verts = append(verts, id)
	}
	edges := make([]EdgeId, 0, len(t.readEdges))
	for id := range t.readEdges {
		edges = append(edges, id)
	}
	t.readsMu.Unlock()

	for _, id := range verts {
		chain, ok := t.store.vertexChain(id)
		if !ok {
			continue
		}
		cur, _ := chain.snapshot()
		if cur.commitTS.IsCommitTS() && cur.commitTS > t.StartTS {
			return newErr(KindConflict, "certify", ErrReadWriteConflict)
		}
	}
	for _, id := range edges {
		chain, ok := t.store.edgeChain(id)
		if !ok {
			continue
		}
		cur, _ := chain.snapshot()
		if cur.commitTS.IsCommitTS() && cur.commitTS > t.StartTS {
			return newErr(KindConflict, "certify", ErrReadWriteConflict)
		}
	}
	return nil
}

// abort reverses every write the transaction made, newest first, and
// retires it from the active set (§4.4 "Abort protocol").
func (m *TransactionManager) abort(t *Transaction) error {
	t.bufMu.Lock()
	entries := t.undoBuffer
	t.undoBuffer = nil
	t.redoBuffer = nil
	t.bufMu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		m.store.undoOne(entries[i])
	}

	t.state.Store(int32(txnAborted))

	m.mu.Lock()
	delete(m.active, t.TxnID)
	m.mu.Unlock()

	if m.wal != nil && !t.skipWAL {
		if _, err := m.wal.Append(RedoEntry{TxnID: t.TxnID, Op: RedoAbort}); err != nil {
			m.log.Error(err, "wal append failed for AbortTransaction", "txn_id", t.TxnID)
		}
		if err := m.wal.Flush(); err != nil {
			m.log.Error(err, "wal flush failed at abort", "txn_id", t.TxnID)
		}
	}
	if m.telemetry != nil {
		m.telemetry.recordAbort()
	}
	return nil
}

// Watermark returns the oldest StartTS among active transactions, or the
// next commit timestamp to be issued (one past the most recent commit) if
// none are active; GC reclaims only records committed strictly below it.
// No version
// older than the watermark can be visible to any present or future
// transaction, so GC may reclaim undo history up to it (§4.5).
func (m *TransactionManager) Watermark() Timestamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	wm := m.ts.PeekNextCommitTS()
	for _, txn := range m.active {
		if txn.StartTS < wm {
			wm = txn.StartTS
		}
	}
	return wm
}

// GarbageCollect drops the manager's bookkeeping for commit records whose
// commitTS is below the watermark and physically reaps tombstoned
// vertices/edges no longer reachable by any live snapshot. This is the
// cooperative GC of §4.5: it runs on the commit path rather than a
// background goroutine, bounding its own cost by the number of entries
// swept per call.
func (m *TransactionManager) GarbageCollect() {
	_, span := m.telemetry.startSpan(context.Background(), "garbageCollect")
	defer span.End()

	wm := m.Watermark()

	m.mu.Lock()
	keep := m.committed[:0:0]
	var reclaimed []*commitRecord
	for _, rec := range m.committed {
		if rec.commitTS < wm {
			reclaimed = append(reclaimed, rec)
		} else {
			keep = append(keep, rec)
		}
	}
	m.committed = keep
	m.mu.Unlock()

	reapedVerts := 0
	reapedEdges := 0
	for _, rec := range reclaimed {
		for _, e := range rec.touched {
			switch e.Delta.Kind {
			case DeltaDeleteVertex:
				if m.reapVertexIfTombstoned(e.Delta.VertexID, wm) {
					reapedVerts++
				}
			case DeltaDeleteEdge:
				if m.reapEdgeIfTombstoned(e.Delta.EdgeID, wm) {
					reapedEdges++
				}
			}
		}
	}
	if m.telemetry != nil && (reapedVerts > 0 || reapedEdges > 0) {
		m.telemetry.recordReclaimed(reapedVerts + reapedEdges)
	}
	if reapedVerts > 0 || reapedEdges > 0 {
		m.log.Info("garbage collection reclaimed entities", "vertices", reapedVerts, "edges", reapedEdges, "watermark", wm)
	}
}

// reapVertexIfTombstoned physically removes a vertex whose chain's
// current state is a tombstone committed below the watermark, cascading
// to drop its own adjacency container and, on each neighbor's opposing
// side, the Neighbor entries that pointed at it (§A.3).
func (m *TransactionManager) reapVertexIfTombstoned(id VertexId, wm Timestamp) bool {
	chain, ok := m.store.vertexChain(id)
	if !ok {
		return false
	}
	cur, _ := chain.snapshot()
	if cur.vertex == nil || !cur.vertex.Tombstoned() || cur.commitTS.IsTxnID() || cur.commitTS >= wm {
		return false
	}
	adj, ok := m.store.adjacencyFor(id)
	if ok {
		for _, n := range adj.Outgoing.Snapshot() {
			m.store.reapNeighbor(n.EdgeID, id, n.OtherID)
		}
		for _, n := range adj.Incoming.Snapshot() {
			m.store.reapNeighbor(n.EdgeID, n.OtherID, id)
		}
	}
	m.store.vertices.Delete(uint64(id))
	m.store.adjacency.Delete(uint64(id))
	return true
}

func (m *TransactionManager) reapEdgeIfTombstoned(id EdgeId, wm Timestamp) bool {
	chain, ok := m.store.edgeChain(id)
	if !ok {
		return false
	}
	cur, _ := chain.snapshot()
	if cur.edge == nil || !cur.edge.Tombstoned() || cur.commitTS.IsTxnID() || cur.commitTS >= wm {
		return false
	}
	m.store.reapNeighbor(id, cur.edge.Src, cur.edge.Dst)
	m.store.edges.Delete(uint64(id))
	return true
}

// QuiesceForCheckpoint takes the checkpoint write-lock, briefly excluding
// new transactions from starting (§4.7), and captures the latest
// assigned commit timestamp together with the next WAL LSN before
// releasing it, per §4.7 step 2 ("Snapshot latest_commit_ts and next_lsn
// atomically"). This is deliberately the generator's true latest commit,
// not GC's watermark (with no transaction active the watermark is one
// past it, and an active older transaction holds it further back) — an operator reading the
// checkpoint header needs to know what was actually last committed, not
// how far back GC could safely reclaim. In-flight transactions are not
// aborted; their effects land either in this snapshot or in the replay
// log, never both. The caller (CheckpointManager) is then free to walk
// the store while new transactions resume concurrently: the checkpoint
// is fuzzy with respect to commits racing this instant, and recovery
// relies on replaying every WAL record at or after lsn to make the
// checkpoint exact again.
func (m *TransactionManager) QuiesceForCheckpoint() (latestCommitTS Timestamp, lsn uint64) {
	m.quiesce.Lock()
	defer m.quiesce.Unlock()
	latestCommitTS = m.ts.LatestCommitTS()
	if m.wal != nil {
		lsn = m.wal.NextLSN()
	}
	return latestCommitTS, lsn
}

// ActiveCount reports the number of currently active transactions, used
// by Stats() and the miniguctl CLI.
func (m *TransactionManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
