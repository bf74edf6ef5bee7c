package storage

import "testing"

func TestBitsetFilterMask(t *testing.T) {
	mask := NewBitsetFilterMask([]VertexId{1, 2, 3}, 10)
	if !mask.Test(2) {
		t.Fatal("Test(2) = false, want true")
	}
	if mask.Test(4) {
		t.Fatal("Test(4) = true, want false")
	}
	if got := mask.Selectivity(); got != 0.3 {
		t.Fatalf("Selectivity() = %v, want 0.3", got)
	}
}

func TestShouldBruteForceFilter(t *testing.T) {
	mask := NewBitsetFilterMask([]VertexId{1, 2, 3, 4, 5}, 10)
	if !ShouldBruteForceFilter(mask, 0.4) {
		t.Fatal("expected brute force above threshold")
	}
	if ShouldBruteForceFilter(mask, 0.6) {
		t.Fatal("expected index probe below threshold")
	}
}

func TestFilterCachePutGet(t *testing.T) {
	fc, err := NewFilterCache(64)
	if err != nil {
		t.Fatalf("NewFilterCache: %v", err)
	}
	defer fc.Close()

	mask := NewBitsetFilterMask([]VertexId{1, 2}, 4)
	fc.Put("sig-1", mask)

	got, ok := fc.Get("sig-1")
	if !ok {
		t.Fatal("expected cache hit after Put")
	}
	if !got.Test(1) || got.Test(3) {
		t.Fatal("retrieved mask does not match what was cached")
	}

	if _, ok := fc.Get("missing"); ok {
		t.Fatal("expected cache miss for unknown signature")
	}
}
