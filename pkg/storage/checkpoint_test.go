package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
)

func TestCreateCheckpointAndLoad(t *testing.T) {
	store, mgr := newTestManager(t)
	txn, _ := mgr.Begin(Snapshot)
	v, _ := txn.CreateVertex(LabelId(1), PropertyRecord{Int64Value(5)})
	if _, err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	dir := t.TempDir()
	cm := NewCheckpointManager(CheckpointConfig{Dir: dir, MaxCheckpoints: 3}, store, mgr, nil, mgr.ts.PeekNextCommitTS, logr.Discard(), nil)

	path, err := cm.CreateCheckpoint(context.Background())
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	header, body, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if header.NextVertexID != uint64(v.ID)+1 {
		t.Fatalf("expected next_vid %d, got %d", uint64(v.ID)+1, header.NextVertexID)
	}
	if len(body.Vertices) != 1 || body.Vertices[0].Vertex.ID != v.ID {
		t.Fatalf("expected checkpoint to contain the committed vertex, got %+v", body.Vertices)
	}
}

func TestCheckpointRetentionPrunesOldFiles(t *testing.T) {
	store, mgr := newTestManager(t)
	dir := t.TempDir()
	cm := NewCheckpointManager(CheckpointConfig{Dir: dir, MaxCheckpoints: 2}, store, mgr, nil, mgr.ts.PeekNextCommitTS, logr.Discard(), nil)

	var paths []string
	for i := 0; i < 4; i++ {
		txn, _ := mgr.Begin(Snapshot)
		if _, err := txn.CreateVertex(LabelId(1), nil); err != nil {
			t.Fatalf("CreateVertex: %v", err)
		}
		if _, err := txn.Commit(); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		path, err := cm.CreateCheckpoint(context.Background())
		if err != nil {
			t.Fatalf("CreateCheckpoint: %v", err)
		}
		paths = append(paths, path)
	}

	files, err := cm.listCheckpoints()
	if err != nil {
		t.Fatalf("listCheckpoints: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected retention to keep 2 checkpoints, got %d: %v", len(files), files)
	}
	_ = paths
}

func TestLatestCheckpointEmptyDirReturnsNoError(t *testing.T) {
	store, mgr := newTestManager(t)
	dir := filepath.Join(t.TempDir(), "nonexistent")
	cm := NewCheckpointManager(CheckpointConfig{Dir: dir}, store, mgr, nil, mgr.ts.PeekNextCommitTS, logr.Discard(), nil)
	path, err := cm.LatestCheckpoint()
	if err != nil {
		t.Fatalf("LatestCheckpoint: %v", err)
	}
	if path != "" {
		t.Fatalf("expected empty path with no checkpoints, got %q", path)
	}
}
