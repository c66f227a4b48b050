package user

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// DefaultIdentityTTL: identities idle this long are forgotten
const DefaultIdentityTTL = time.Hour

// Identity persists across reconnects of the same client.
type Identity struct {
	UserID      string
	Token       string
	LastSeen    time.Time
	RateLimiter *rate.Limiter
}

// Limits for the per-identity draw-event limiter
type Limits struct {
	MessagesPerSecond float64
	BurstSize         int
}

type IdentityManager struct {
	identities    map[string]*Identity // userID -> identity
	tokenToUserID map[string]string    // token -> userID
	limits        Limits
	now           func() time.Time
	mu            sync.RWMutex
}

func NewIdentityManager(limits Limits) *IdentityManager {
	return &IdentityManager{
		identities:    make(map[string]*Identity),
		tokenToUserID: make(map[string]string),
		limits:        limits,
		now:           time.Now,
	}
}

// Authenticate resolves a resume token. An empty or unknown token mints a
// new identity; resumed reports whether an existing one was returned.
func (im *IdentityManager) Authenticate(token string) (id *Identity, resumed bool) {
	im.mu.Lock()
	defer im.mu.Unlock()

	now := im.now()
	if token != "" {
		if userID, ok := im.tokenToUserID[token]; ok {
			if id, ok := im.identities[userID]; ok {
				id.LastSeen = now
				return id, true
			}
		}
	}

	id = &Identity{
		UserID:      uuid.NewString(),
		Token:       uuid.NewString(),
		LastSeen:    now,
		RateLimiter: rate.NewLimiter(rate.Limit(im.limits.MessagesPerSecond), im.limits.BurstSize),
	}
	im.identities[id.UserID] = id
	im.tokenToUserID[id.Token] = id.UserID
	return id, false
}

// ValidateToken returns the userID a token belongs to.
func (im *IdentityManager) ValidateToken(token string) (string, bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()

	userID, ok := im.tokenToUserID[token]
	if !ok {
		return "", false
	}
	if _, ok := im.identities[userID]; !ok {
		return "", false
	}
	return userID, true
}

// Touch: update last seen (called on disconnect)
func (im *IdentityManager) Touch(userID string) {
	im.mu.Lock()
	defer im.mu.Unlock()

	if id, ok := im.identities[userID]; ok {
		id.LastSeen = im.now()
	}
}

func (im *IdentityManager) Count() int {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return len(im.identities)
}

// Cleanup removes identities idle longer than ttl and reports how many.
// Identities of connected users are refreshed by Touch on disconnect, so
// a long-lived connection can outlive its identity; its session keeps
// working, only the resume token expires.
func (im *IdentityManager) Cleanup(ttl time.Duration) int {
	im.mu.Lock()
	defer im.mu.Unlock()

	now := im.now()
	removed := 0
	for userID, id := range im.identities {
		if now.Sub(id.LastSeen) > ttl {
			delete(im.tokenToUserID, id.Token)
			delete(im.identities, userID)
			removed++
		}
	}
	return removed
}
