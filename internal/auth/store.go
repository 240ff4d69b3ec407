package auth

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"griddispatch/internal/dispatch"
)

// InMemoryStore keeps issued tokens mapped to identities.
type InMemoryStore struct {
	mu    sync.RWMutex
	users map[string]dispatch.Identity
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users: make(map[string]dispatch.Identity),
	}
}

// Register creates an identity with the given role and returns the token.
// The identity's numeric id doubles as the driver_id/passenger_id used
// throughout the core (presence, locks, notification recipients).
func (s *InMemoryStore) Register(role dispatch.IdentityRole, ttl time.Duration) (dispatch.Identity, error) {
	if role != dispatch.RoleDriver && role != dispatch.RolePassenger && role != dispatch.RoleAdmin {
		return dispatch.Identity{}, errors.New("invalid role")
	}

	identity := dispatch.Identity{
		ID:    randomID64(),
		Role:  role,
		Token: randomToken(),
	}
	if ttl > 0 {
		expiry := time.Now().Add(ttl)
		identity.ExpiresAt = &expiry
	}

	s.mu.Lock()
	s.users[identity.Token] = identity
	s.mu.Unlock()
	return identity, nil
}

func (s *InMemoryStore) Lookup(token string) (dispatch.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[token]
	if !ok {
		return dispatch.Identity{}, false
	}
	if u.ExpiresAt != nil && time.Now().After(*u.ExpiresAt) {
		return dispatch.Identity{}, false
	}
	return u, ok
}

// Seed allows hydrating identities from persistent storage.
func (s *InMemoryStore) Seed(identity dispatch.Identity) {
	if identity.Token == "" {
		return
	}
	if identity.ExpiresAt != nil && time.Now().After(*identity.ExpiresAt) {
		return
	}
	s.mu.Lock()
	s.users[identity.Token] = identity
	s.mu.Unlock()
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// randomID64 generates a positive int64 identity id, distinct enough
// across registrations that driver_id/passenger_id collisions are
// practically impossible without needing a persistent sequence.
func randomID64() int64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	id := int64(binary.BigEndian.Uint64(b[:]) &^ (1 << 63))
	if id == 0 {
		id = 1
	}
	return id
}
