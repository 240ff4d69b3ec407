package auth

import (
	"testing"
	"time"

	"griddispatch/internal/dispatch"
)

func TestInMemoryStore_RegisterAndLookup(t *testing.T) {
	s := NewInMemoryStore()
	ident, err := s.Register(dispatch.RoleDriver, time.Hour)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if ident.ID == 0 {
		t.Error("registered identity has zero ID")
	}
	if ident.Token == "" {
		t.Error("registered identity has empty token")
	}

	got, ok := s.Lookup(ident.Token)
	if !ok {
		t.Fatal("Lookup failed to find just-registered identity")
	}
	if got.ID != ident.ID || got.Role != dispatch.RoleDriver {
		t.Errorf("got %+v, want matching driver identity", got)
	}
}

func TestInMemoryStore_RegisterRejectsInvalidRole(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.Register(dispatch.IdentityRole("bogus"), time.Hour); err == nil {
		t.Error("Register accepted an invalid role")
	}
}

func TestInMemoryStore_LookupExpiredTokenFails(t *testing.T) {
	s := NewInMemoryStore()
	ident, err := s.Register(dispatch.RolePassenger, time.Millisecond)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, ok := s.Lookup(ident.Token); ok {
		t.Error("Lookup returned an expired identity")
	}
}

func TestInMemoryStore_RegisterIDsAreDistinct(t *testing.T) {
	s := NewInMemoryStore()
	seen := make(map[int64]bool)
	for i := 0; i < 50; i++ {
		ident, err := s.Register(dispatch.RoleDriver, 0)
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if seen[ident.ID] {
			t.Fatalf("duplicate identity id %d after %d registrations", ident.ID, i)
		}
		seen[ident.ID] = true
	}
}

func TestInMemoryStore_SeedSkipsExpired(t *testing.T) {
	s := NewInMemoryStore()
	past := time.Now().Add(-time.Hour)
	s.Seed(dispatch.Identity{ID: 1, Role: dispatch.RoleDriver, Token: "stale-token", ExpiresAt: &past})

	if _, ok := s.Lookup("stale-token"); ok {
		t.Error("Seed admitted an already-expired identity")
	}
}

func TestInMemoryStore_SeedSkipsEmptyToken(t *testing.T) {
	s := NewInMemoryStore()
	s.Seed(dispatch.Identity{ID: 1, Role: dispatch.RoleDriver})
	if _, ok := s.Lookup(""); ok {
		t.Error("Seed admitted an identity with an empty token")
	}
}
