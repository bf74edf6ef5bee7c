package cache

import "testing"

func TestLabelCachePutAndLookup(t *testing.T) {
	c := NewLabelCache(2)

	c.Put("Person", 1)
	c.Put("Company", 2)

	if id, ok := c.LookupID("Person"); !ok || id != 1 {
		t.Fatalf("LookupID(Person) = %d, %v, want 1, true", id, ok)
	}
	if name, ok := c.LookupName(2); !ok || name != "Company" {
		t.Fatalf("LookupName(2) = %q, %v, want Company, true", name, ok)
	}
	if _, ok := c.LookupID("Missing"); ok {
		t.Fatal("LookupID(Missing) = true, want false")
	}
}

func TestLabelCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLabelCache(2)
	c.Put("A", 1)
	c.Put("B", 2)

	// Touch A so B becomes the least recently used.
	if _, ok := c.LookupID("A"); !ok {
		t.Fatal("expected A to be cached")
	}
	c.Put("C", 3)

	if _, ok := c.LookupID("B"); ok {
		t.Fatal("B should have been evicted")
	}
	if _, ok := c.LookupID("A"); !ok {
		t.Fatal("A should still be cached")
	}
	if _, ok := c.LookupID("C"); !ok {
		t.Fatal("C should be cached")
	}
	if got := c.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
}

func TestLabelCacheDisabled(t *testing.T) {
	c := NewLabelCache(4)
	c.SetEnabled(false)
	c.Put("Person", 1)
	if _, ok := c.LookupID("Person"); ok {
		t.Fatal("disabled cache should never report a hit")
	}
}

func TestLabelCacheStats(t *testing.T) {
	c := NewLabelCache(4)
	c.Put("Person", 1)
	c.LookupID("Person")
	c.LookupID("Missing")

	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Fatalf("Stats() = hits=%d misses=%d, want 1, 1", hits, misses)
	}
}
