package embedding

import (
	"testing"
	"time"
)

func TestLRUCache_SetGet(t *testing.T) {
	c := newLRUCache(10, time.Hour)
	c.Set("a", []float32{1, 2, 3})

	got, ok := c.Get("a")
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if len(got) != 3 || got[0] != 1 {
		t.Errorf("Get() = %v, want [1 2 3]", got)
	}
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newLRUCache(2, time.Hour)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	c.Get("a") // touch a, making b the LRU entry
	c.Set("c", []float32{3})

	if _, ok := c.Get("b"); ok {
		t.Error("Get(b) ok = true, want evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("Get(a) ok = false, want still cached")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("Get(c) ok = false, want cached")
	}
}

func TestLRUCache_ExpiresByTTL(t *testing.T) {
	c := newLRUCache(10, time.Millisecond)
	c.Set("a", []float32{1})
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Error("Get(a) ok = true, want expired")
	}
}

func TestLRUCache_Len(t *testing.T) {
	c := newLRUCache(10, time.Hour)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}
