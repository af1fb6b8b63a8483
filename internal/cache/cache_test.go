package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCacheBasics(t *testing.T) {
	c := NewLRUCache(100)
	defer c.Close()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "tenant-001", "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := c.Get(ctx, "tenant-001", "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected value1, got %s", val)
		}
	})

	t.Run("MissReturnsNil", func(t *testing.T) {
		val, err := c.Get(ctx, "tenant-001", "missing")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for miss, got %s", val)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		val, err := c.Get(ctx, "tenant-002", "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Error("tenant-002 must not see tenant-001 keys")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		c.Set(ctx, "tenant-001", "gone", []byte("x"), time.Minute)
		if err := c.Delete(ctx, "tenant-001", "gone"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		val, _ := c.Get(ctx, "tenant-001", "gone")
		if val != nil {
			t.Error("deleted key still present")
		}
	})

	t.Run("TTLExpiry", func(t *testing.T) {
		c.Set(ctx, "tenant-001", "short", []byte("x"), 10*time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		val, _ := c.Get(ctx, "tenant-001", "short")
		if val != nil {
			t.Error("expired key still present")
		}
	})

	t.Run("RequiresTenant", func(t *testing.T) {
		if _, err := c.Get(ctx, "", "key1"); err == nil {
			t.Error("expected error for empty tenant")
		}
		if err := c.Set(ctx, "", "key1", []byte("x"), time.Minute); err == nil {
			t.Error("expected error for empty tenant")
		}
	})
}

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache(3)
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("key%d", i)
		c.Set(ctx, "tenant-001", key, []byte(key), time.Minute)
	}

	size, capacity := c.Stats()
	if size != 3 || capacity != 3 {
		t.Errorf("expected size 3/cap 3, got %d/%d", size, capacity)
	}

	// Oldest entries were evicted.
	if val, _ := c.Get(ctx, "tenant-001", "key0"); val != nil {
		t.Error("key0 should have been evicted")
	}
	if val, _ := c.Get(ctx, "tenant-001", "key4"); val == nil {
		t.Error("key4 should still be cached")
	}
}

func TestLRUCacheAssessmentRoundTrip(t *testing.T) {
	c := NewLRUCache(100)
	defer c.Close()
	ctx := context.Background()

	a := &domain.Assessment{
		ID:        "asm-001",
		TenantID:  "tenant-001",
		TxID:      "tx-001",
		Decision:  domain.DecisionRejected,
		RiskScore: 100,
		Reasons:   "hard_block:chargebacks>=2+ip_high",
		CreatedAt: time.Now().UTC(),
	}
	a.Metadata.TraceID = "trace-001"

	if err := c.SetAssessment(ctx, "tenant-001", a, time.Minute); err != nil {
		t.Fatalf("SetAssessment failed: %v", err)
	}

	got, err := c.GetAssessment(ctx, "tenant-001", "asm-001")
	if err != nil {
		t.Fatalf("GetAssessment failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected cached assessment")
	}
	if got.Decision != domain.DecisionRejected || got.RiskScore != 100 {
		t.Errorf("assessment fields lost: %+v", got)
	}
	if got.Metadata.TraceID != "trace-001" {
		t.Errorf("metadata lost: %+v", got.Metadata)
	}

	// Miss path.
	got, err = c.GetAssessment(ctx, "tenant-001", "missing")
	if err != nil {
		t.Fatalf("GetAssessment miss failed: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing assessment")
	}
}

func TestLRUCacheCounter(t *testing.T) {
	c := NewLRUCache(100)
	defer c.Close()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.IncrementCounter(ctx, "tenant-001", "evals", time.Minute)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}

	// A new window starts after expiry.
	got, _ := c.IncrementCounter(ctx, "tenant-001", "burst", 10*time.Millisecond)
	if got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
	time.Sleep(20 * time.Millisecond)
	got, _ = c.IncrementCounter(ctx, "tenant-001", "burst", 10*time.Millisecond)
	if got != 1 {
		t.Errorf("expected counter reset after window, got %d", got)
	}
}

func TestNewCacheFactory(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 10})
	if err != nil {
		t.Fatalf("memory cache: %v", err)
	}
	c.Close()

	if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
		t.Error("expected error for unsupported cache type")
	}
}
