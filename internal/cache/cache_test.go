package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestSetGet(t *testing.T) {
	c := New(DefaultConfig())
	defer c.Close()

	c.Set("a", "value")
	got, ok := c.GetString("a")
	if !ok || got != "value" {
		t.Errorf("GetString = %q, %v", got, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("missing key should not be found")
	}
}

func TestExpiry(t *testing.T) {
	c := New(DefaultConfig())
	defer c.Close()

	c.SetWithTTL("token", "abc", 10*time.Millisecond)
	if _, ok := c.Get("token"); !ok {
		t.Fatal("entry should be live immediately after set")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("token"); ok {
		t.Error("entry should have expired")
	}
}

func TestTypedGetters(t *testing.T) {
	c := New(DefaultConfig())
	defer c.Close()

	c.Set("show", 2983)
	if n, ok := c.GetInt("show"); !ok || n != 2983 {
		t.Errorf("GetInt = %d, %v", n, ok)
	}
	if _, ok := c.GetString("show"); ok {
		t.Error("GetString should reject an int entry")
	}
}

func TestEviction(t *testing.T) {
	c := New(Config{TTL: time.Hour, MaxItems: 10})
	defer c.Close()

	for i := 0; i < 20; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	if n := c.Len(); n > 10 {
		t.Errorf("Len = %d, want at most 10", n)
	}
}

func TestKey(t *testing.T) {
	if got := Key("opensubtitles", "token", "user"); got != "opensubtitles:token:user" {
		t.Errorf("Key = %q", got)
	}
}

func TestCloseIdempotent(t *testing.T) {
	c := New(DefaultConfig())
	c.Close()
	c.Close()
}

func TestDeleteAndClear(t *testing.T) {
	c := New(DefaultConfig())
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("deleted key still present")
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d", c.Len())
	}
}
