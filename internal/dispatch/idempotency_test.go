package dispatch

import (
	"testing"
	"time"
)

func TestIdemCache_RememberAndLookup(t *testing.T) {
	c := NewIdemCache()
	c.Remember("key-1", "ride-1")

	rideID, ok := c.Lookup("key-1")
	if !ok || rideID != "ride-1" {
		t.Errorf("Lookup = (%q, %v), want (ride-1, true)", rideID, ok)
	}
}

func TestIdemCache_LookupMissingKey(t *testing.T) {
	c := NewIdemCache()
	if _, ok := c.Lookup("missing"); ok {
		t.Error("Lookup found a key that was never remembered")
	}
}

func TestIdemCache_EntriesExpire(t *testing.T) {
	c := NewIdemCache()
	c.SetTTL(time.Millisecond)
	c.Remember("key-1", "ride-1")
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Lookup("key-1"); ok {
		t.Error("Lookup returned an expired entry")
	}
}

func TestIdemCache_RememberIgnoresEmptyKeyOrRide(t *testing.T) {
	c := NewIdemCache()
	c.Remember("", "ride-1")
	c.Remember("key-1", "")

	if _, ok := c.Lookup(""); ok {
		t.Error("empty key was remembered")
	}
	if _, ok := c.Lookup("key-1"); ok {
		t.Error("key with empty ride id was remembered")
	}
}
