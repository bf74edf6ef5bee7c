package catalog

import (
	"fmt"
	"sync"
	"testing"
)

type fakeResolver struct {
	mu     sync.Mutex
	byName map[string]uint32
	byID   map[uint32]string
	calls  int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{byName: map[string]uint32{}, byID: map[uint32]string{}}
}

func (f *fakeResolver) ResolveLabel(name string) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if id, ok := f.byName[name]; ok {
		return id, nil
	}
	id := uint32(len(f.byName) + 1)
	f.byName[name] = id
	f.byID[id] = name
	return id, nil
}

func (f *fakeResolver) LabelName(id uint32) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.byID[id]
	if !ok {
		return "", fmt.Errorf("no such id %d", id)
	}
	return name, nil
}

func TestCacheResolvesThroughToUpstreamOnce(t *testing.T) {
	dir := t.TempDir()
	upstream := newFakeResolver()
	c, err := Open(dir, upstream, 16)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	id1, err := c.ResolveLabel("Person")
	if err != nil {
		t.Fatalf("ResolveLabel: %v", err)
	}
	id2, err := c.ResolveLabel("Person")
	if err != nil {
		t.Fatalf("ResolveLabel: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("id1=%d id2=%d, want equal", id1, id2)
	}
	if upstream.calls != 1 {
		t.Fatalf("upstream.calls = %d, want 1 (second call should hit the mem/disk cache)", upstream.calls)
	}
}

func TestCacheSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	upstream := newFakeResolver()

	c, err := Open(dir, upstream, 16)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := c.ResolveLabel("Company")
	if err != nil {
		t.Fatalf("ResolveLabel: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir, upstream, 16)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	name, err := reopened.LabelName(id)
	if err != nil {
		t.Fatalf("LabelName: %v", err)
	}
	if name != "Company" {
		t.Fatalf("LabelName(%d) = %q, want Company", id, name)
	}
	if upstream.calls != 1 {
		t.Fatalf("upstream.calls = %d, want 1 (reopen should be served from disk, not upstream)", upstream.calls)
	}
}
