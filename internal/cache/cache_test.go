package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type entry struct {
	City string `json:"city"`
	N    int    `json:"n"`
}

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves
// them correctly with the expected data.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache("weather_dev")

	val := []entry{{City: "berlin", N: 1}}
	if err := c.Set(ctx, "loc-1", val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var got []entry
	ok, err := c.Get(ctx, "loc-1", &got)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if len(got) != 1 || got[0] != val[0] {
		t.Errorf("Get() = %+v, want %+v", got, val)
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false when
// the requested key does not exist in cache.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	c := NewInMemoryCache("weather_dev")

	var got entry
	ok, err := c.Get(context.Background(), "nonexistent", &got)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryCache_Get_Expired verifies that Get returns ok=false for expired
// entries and removes them from cache on access.
func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache("weather_dev")
	now := time.Now()
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "loc-1", entry{City: "berlin"}, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	now = now.Add(2 * time.Minute)

	var got entry
	ok, err := c.Get(ctx, "loc-1", &got)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for expired entry")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want expired entry removed", c.Len())
	}
}

func TestInMemoryCache_DefaultTTL(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache("weather_dev")
	now := time.Now()
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "all_locations", entry{}, 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	tests := []struct {
		after time.Duration
		want  bool
	}{
		{59 * time.Minute, true},
		{61 * time.Minute, false},
	}
	for _, tt := range tests {
		c.now = func() time.Time { return now.Add(tt.after) }
		var got entry
		ok, _ := c.Get(ctx, "all_locations", &got)
		if ok != tt.want {
			t.Errorf("Get() after %s ok = %v, want %v", tt.after, ok, tt.want)
		}
	}
}

func TestInMemoryCache_NamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	a := NewInMemoryCache("weather_dev")
	if err := a.Set(ctx, "k", entry{N: 1}, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, ok := a.data["weather_dev~k"]; !ok {
		t.Errorf("stored keys = %v, want weather_dev~k", a.data)
	}
}

func TestInMemoryCache_Delete(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		want     []string // keys left
	}{
		{"single wildcard", []string{"loc-*"}, []string{"all_locations", "other"}},
		{"list of patterns", []string{"loc-1", "all_*"}, []string{"loc-2", "other"}},
		{"no match", []string{"zzz*"}, []string{"all_locations", "loc-1", "loc-2", "other"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			c := NewInMemoryCache("weather_dev")
			for _, k := range []string{"all_locations", "loc-1", "loc-2", "other"} {
				if err := c.Set(ctx, k, entry{}, time.Minute); err != nil {
					t.Fatalf("Set(%s) error = %v", k, err)
				}
			}
			if err := c.Delete(ctx, tt.patterns...); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if c.Len() != len(tt.want) {
				t.Errorf("Len() = %d, want %d", c.Len(), len(tt.want))
			}
			for _, k := range tt.want {
				var e entry
				if ok, _ := c.Get(ctx, k, &e); !ok {
					t.Errorf("key %q deleted, want kept", k)
				}
			}
		})
	}
}

func TestInMemoryCache_DeleteExact_NoPatternExpansion(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache("weather_dev")
	_ = c.Set(ctx, "loc-1", entry{}, time.Minute)
	_ = c.Set(ctx, "loc-*", entry{}, time.Minute)

	if err := c.DeleteExact(ctx, "loc-*"); err != nil {
		t.Fatalf("DeleteExact() error = %v", err)
	}
	var e entry
	if ok, _ := c.Get(ctx, "loc-1", &e); !ok {
		t.Error("DeleteExact(loc-*) removed loc-1, want literal delete only")
	}
	if ok, _ := c.Get(ctx, "loc-*", &e); ok {
		t.Error("DeleteExact(loc-*) kept the literal key")
	}
}

func TestInMemoryCache_ClosedAndReconnect(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache("weather_dev")
	_ = c.Close()

	var e entry
	if _, err := c.Get(ctx, "k", &e); !errors.Is(err, ErrClosed) {
		t.Errorf("Get() after Close error = %v, want ErrClosed", err)
	}
	if err := c.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	if _, err := c.Get(ctx, "k", &e); err != nil {
		t.Errorf("Get() after Reconnect error = %v", err)
	}
}

func TestRedactKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"weather_dev~all_locations", "weather_dev~<param>"},
		{"weather_dev~location~0b7e", "weather_dev~location~<param>"},
		{"weather_dev~a~b~c", "weather_dev~a~<param>"},
		{"bare", "<param>"},
	}
	for _, tt := range tests {
		if got := RedactKey(tt.key); got != tt.want {
			t.Errorf("RedactKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
