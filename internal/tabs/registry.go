package tabs

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/atelierhq/atelier/internal/metrics"
)

// Registry maps workspace sessions to their tab managers. Sessions are
// keyed by a digest of the bearer token, so tab state follows the token
// rather than the user: two browser sessions of the same user keep
// independent strips. Entries expire after ttl of inactivity.
type Registry struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	manager  *Manager
	lastSeen time.Time
}

// NewRegistry creates a session registry with the given idle TTL.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{ttl: ttl, sessions: make(map[string]*sessionEntry)}
}

// SessionKey derives the registry key for a bearer token.
func SessionKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Manager returns the tab manager for a session, creating it on first use
// and refreshing its idle timer.
func (r *Registry) Manager(sessionKey string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sessionKey]
	if !ok {
		entry = &sessionEntry{manager: NewManager()}
		r.sessions[sessionKey] = entry
		metrics.SetWorkspaceSessions(len(r.sessions))
	}
	entry.lastSeen = time.Now()
	return entry.manager
}

// Sweep drops sessions idle longer than the TTL and returns how many were
// removed. Main runs this on a ticker.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-r.ttl)
	removed := 0
	for key, entry := range r.sessions {
		if entry.lastSeen.Before(cutoff) {
			delete(r.sessions, key)
			removed++
		}
	}
	if removed > 0 {
		metrics.SetWorkspaceSessions(len(r.sessions))
	}
	return removed
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
