package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/klauspost/compress/zstd"
)

const checkpointMagic = "MGUCKPT1"

// CheckpointConfig configures a CheckpointManager: where snapshots live,
// how many to retain, and how often commits should auto-trigger a new one
// (§4.7).
type CheckpointConfig struct {
	Dir                 string
	FilePrefix          string // defaults to "checkpoint"
	MaxCheckpoints      int    // defaults to 3
	AutoIntervalSeconds int64  // 0 disables auto-trigger
}

func (c CheckpointConfig) prefix() string {
	if c.FilePrefix == "" {
		return "checkpoint"
	}
	return c.FilePrefix
}

func (c CheckpointConfig) maxCheckpoints() int {
	if c.MaxCheckpoints <= 0 {
		return 3
	}
	return c.MaxCheckpoints
}

// checkpointHeader is the fixed-layout header described in §4.7: magic,
// version, creation timestamp, and the generator state the snapshot
// captures, all needed to resume correctly without having replayed a
// single WAL record yet.
type checkpointHeader struct {
	Magic      string    `json:"magic"`
	Version    int       `json:"version"`
	CreationTS Timestamp `json:"creation_ts"`
	// LatestCommitTSAtSnap is the most recently issued commit timestamp
	// at the instant the checkpoint quiesce lock was held (§4.7 step 2),
	// from TimestampGenerator.LatestCommitTS — not the GC watermark,
	// which can sit earlier while a long-running transaction is active.
	LatestCommitTSAtSnap Timestamp `json:"latest_commit_ts_at_snapshot"`
	NextVertexID         uint64    `json:"next_vid"`
	NextEdgeID           uint64    `json:"next_eid"`
	NextLSNAtSnapshot    uint64    `json:"next_lsn_at_snapshot"`
}

// checkpointBody is the part of the file that gets zstd-compressed: the
// live vertex and edge dumps. The adjacency index is deliberately absent
// (§4.7 marks it optional) since it's cheaper to reconstruct from the edge
// dump on load than to carry a second redundant copy through compression.
type checkpointBody struct {
	Vertices []VertexSnapshot `json:"vertices"`
	Edges    []EdgeSnapshot   `json:"edges"`
}

// CheckpointManager owns periodic, fuzzy snapshots of a GraphStore's live
// state plus retention and WAL-truncation bookkeeping (C8, §4.7). It
// cooperates with a TransactionManager's checkpoint lock rather than
// taking any lock of its own on the store.
type CheckpointManager struct {
	cfg     CheckpointConfig
	store   *GraphStore
	mgr     *TransactionManager
	wal     *WAL
	log     logr.Logger
	tel     *telemetry
	stampFn func() Timestamp

	mu             sync.Mutex // serializes checkpoint creation; at most one in flight
	lastCheckpoint time.Time
}

// NewCheckpointManager wires a CheckpointManager over an already-open
// store/manager/wal trio. stampFn supplies the "creation_ts" header field
// (the timestamp generator's current commit-ts peek); passing the
// generator's PeekNextCommitTS keeps CheckpointManager from needing its
// own notion of time.
func NewCheckpointManager(cfg CheckpointConfig, store *GraphStore, mgr *TransactionManager, wal *WAL, stampFn func() Timestamp, log logr.Logger, tel *telemetry) *CheckpointManager {
	return &CheckpointManager{cfg: cfg, store: store, mgr: mgr, wal: wal, stampFn: stampFn, log: log, tel: tel}
}

// ShouldAutoTrigger reports whether enough time has passed since the last
// checkpoint for the auto-checkpoint interval to fire, called from the
// commit path (§4.7 "Auto-trigger").
func (cm *CheckpointManager) ShouldAutoTrigger() bool {
	if cm.cfg.AutoIntervalSeconds <= 0 {
		return false
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.lastCheckpoint.IsZero() {
		return true
	}
	return time.Since(cm.lastCheckpoint) >= time.Duration(cm.cfg.AutoIntervalSeconds)*time.Second
}

// CreateCheckpoint runs the five-step procedure of §4.7: quiesce new
// begins just long enough to read a consistent (latest commit timestamp,
// next-lsn) pair, serialize every live vertex/edge to a temp file, fsync and rename
// it into place, truncate the WAL below the captured LSN, and prune old
// checkpoint files down to the retention limit. At most one checkpoint
// runs at a time; a concurrent caller blocks on cm.mu rather than racing
// a second snapshot.
func (cm *CheckpointManager) CreateCheckpoint(ctx context.Context) (path string, err error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	_, span := cm.tel.startSpan(ctx, "CreateCheckpoint")
	defer span.End()
	start := time.Now()
	defer func() {
		if cm.tel != nil {
			cm.tel.recordCheckpointDuration(time.Since(start).Seconds())
		}
	}()

	latestCommitTS, nextLSN := cm.mgr.QuiesceForCheckpoint()

	header := checkpointHeader{
		Magic:                checkpointMagic,
		Version:              1,
		CreationTS:           cm.stampFn(),
		LatestCommitTSAtSnap: latestCommitTS,
		NextVertexID:         cm.store.nextVertexID.Load() + 1,
		NextEdgeID:           cm.store.nextEdgeID.Load() + 1,
		NextLSNAtSnapshot:    nextLSN,
	}
	body := checkpointBody{
		Vertices: cm.store.SnapshotVertices(),
		Edges:    cm.store.SnapshotEdges(),
	}

	finalPath, err := cm.writeFile(header, body)
	if err != nil {
		return "", err
	}

	if cm.wal != nil {
		if err := cm.wal.TruncateUntil(nextLSN); err != nil {
			cm.log.Error(err, "wal truncation failed after checkpoint", "path", finalPath)
		}
	}

	cm.lastCheckpoint = time.Now()
	if err := cm.prune(); err != nil {
		cm.log.Error(err, "checkpoint retention pruning failed")
	}

	cm.log.Info("checkpoint created", "path", finalPath, "vertices", len(body.Vertices), "edges", len(body.Edges), "latest_commit_ts", latestCommitTS, "next_lsn", nextLSN)
	return finalPath, nil
}

// writeFile serializes header+body to disk as `<prefix>.<ts>.tmp`, fsyncs
// it, then renames it to `<prefix>.<ts>` (§4.7 step 4). The header travels
// as a length-prefixed JSON block ahead of a zstd-compressed JSON body and
// a trailing CRC32 of everything written before it, so a torn or
// bit-flipped checkpoint is detectable at load time without needing to
// decompress first.
func (cm *CheckpointManager) writeFile(header checkpointHeader, body checkpointBody) (string, error) {
	if err := os.MkdirAll(cm.cfg.Dir, 0o755); err != nil {
		return "", newErr(KindDurabilityError, "CreateCheckpoint", err)
	}

	headerBytes, err := json.Marshal(&header)
	if err != nil {
		return "", newErr(KindSerialization, "CreateCheckpoint", err)
	}
	bodyJSON, err := json.Marshal(&body)
	if err != nil {
		return "", newErr(KindSerialization, "CreateCheckpoint", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return "", newErr(KindDurabilityError, "CreateCheckpoint", err)
	}
	compressedBody := enc.EncodeAll(bodyJSON, nil)
	_ = enc.Close()

	var buf bytes.Buffer
	var lenHdr [8]byte
	binary.LittleEndian.PutUint32(lenHdr[0:4], uint32(len(headerBytes)))
	binary.LittleEndian.PutUint32(lenHdr[4:8], uint32(len(compressedBody)))
	buf.Write(lenHdr[:])
	buf.Write(headerBytes)
	buf.Write(compressedBody)
	crc := crc32.ChecksumIEEE(buf.Bytes())
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc)
	buf.Write(crcBuf[:])

	ts := uint64(header.CreationTS)
	tmpPath := filepath.Join(cm.cfg.Dir, fmt.Sprintf("%s.%d.tmp", cm.cfg.prefix(), ts))
	finalPath := filepath.Join(cm.cfg.Dir, fmt.Sprintf("%s.%d", cm.cfg.prefix(), ts))

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", newErr(KindDurabilityError, "CreateCheckpoint", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return "", newErr(KindDurabilityError, "CreateCheckpoint", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", newErr(KindDurabilityError, "CreateCheckpoint", err)
	}
	if err := f.Close(); err != nil {
		return "", newErr(KindDurabilityError, "CreateCheckpoint", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", newErr(KindDurabilityError, "CreateCheckpoint", err)
	}
	return finalPath, nil
}

// prune retains only the newest max_checkpoints files under this
// manager's prefix, oldest-first by the embedded creation timestamp
// (§4.7 step 6).
func (cm *CheckpointManager) prune() error {
	files, err := cm.listCheckpoints()
	if err != nil {
		return err
	}
	keep := cm.cfg.maxCheckpoints()
	if len(files) <= keep {
		return nil
	}
	for _, f := range files[:len(files)-keep] {
		if err := os.Remove(f); err != nil {
			cm.log.Error(err, "failed removing stale checkpoint", "path", f)
		}
	}
	return nil
}

// listCheckpoints returns every checkpoint file for this manager's
// prefix, oldest first. Temp files (not yet renamed into place) are
// excluded.
func (cm *CheckpointManager) listCheckpoints() ([]string, error) {
	entries, err := os.ReadDir(cm.cfg.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, newErr(KindDurabilityError, "listCheckpoints", err)
	}
	prefix := cm.cfg.prefix() + "."
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) {
			names = append(names, filepath.Join(cm.cfg.Dir, e.Name()))
		}
	}
	// Order by the embedded ts as a number: a plain string sort would put
	// "<prefix>.10" before "<prefix>.9".
	tsOf := func(p string) uint64 {
		n, _ := strconv.ParseUint(strings.TrimPrefix(filepath.Base(p), prefix), 10, 64)
		return n
	}
	sort.Slice(names, func(i, j int) bool { return tsOf(names[i]) < tsOf(names[j]) })
	return names, nil
}

// LatestCheckpoint returns the path of the newest checkpoint file, or ""
// if none exist (§4.8 step 1).
func (cm *CheckpointManager) LatestCheckpoint() (string, error) {
	files, err := cm.listCheckpoints()
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", nil
	}
	return files[len(files)-1], nil
}

// LoadCheckpoint reads and verifies a checkpoint file, decompressing its
// body and returning both pieces for recovery.go to install into a fresh
// GraphStore. An intact-but-unreadable file (CRC mismatch) is reported as
// a *Error wrapping ErrChecksumMismatch rather than silently treated as
// absent, since a corrupt newest checkpoint is a durability problem the
// caller needs to know about, not something to paper over.
func LoadCheckpoint(path string) (checkpointHeader, checkpointBody, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return checkpointHeader{}, checkpointBody{}, newErr(KindDurabilityError, "LoadCheckpoint", err)
	}
	if len(raw) < 12 {
		return checkpointHeader{}, checkpointBody{}, newErr(KindSerialization, "LoadCheckpoint", ErrCorruptFrame)
	}
	payload, gotCRC := raw[:len(raw)-4], raw[len(raw)-4:]
	wantCRC := binary.LittleEndian.Uint32(gotCRC)
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return checkpointHeader{}, checkpointBody{}, newErr(KindSerialization, "LoadCheckpoint", ErrChecksumMismatch)
	}

	headerLen := binary.LittleEndian.Uint32(payload[0:4])
	bodyLen := binary.LittleEndian.Uint32(payload[4:8])
	rest := payload[8:]
	if uint32(len(rest)) < headerLen+bodyLen {
		return checkpointHeader{}, checkpointBody{}, newErr(KindSerialization, "LoadCheckpoint", ErrCorruptFrame)
	}
	headerBytes := rest[:headerLen]
	compressedBody := rest[headerLen : headerLen+bodyLen]

	var header checkpointHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return checkpointHeader{}, checkpointBody{}, newErr(KindSerialization, "LoadCheckpoint", err)
	}
	if header.Magic != checkpointMagic {
		return checkpointHeader{}, checkpointBody{}, newErr(KindSerialization, "LoadCheckpoint", ErrCorruptFrame)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return checkpointHeader{}, checkpointBody{}, newErr(KindDurabilityError, "LoadCheckpoint", err)
	}
	defer dec.Close()
	bodyJSON, err := dec.DecodeAll(compressedBody, nil)
	if err != nil {
		return checkpointHeader{}, checkpointBody{}, newErr(KindSerialization, "LoadCheckpoint", err)
	}
	var body checkpointBody
	if err := json.Unmarshal(bodyJSON, &body); err != nil {
		return checkpointHeader{}, checkpointBody{}, newErr(KindSerialization, "LoadCheckpoint", err)
	}
	return header, body, nil
}
