package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/carelink/signaling/internal/domain"
)

// ConnectionRegistry maps durable user identities to their current live
// connection. The coordinator is the sole writer; Users may be read
// concurrently for snapshots.
type ConnectionRegistry interface {
	// Register inserts or overwrites the mapping for a user. A second
	// registration silently supersedes the first; the stale connection
	// receives no further routed messages.
	Register(userID domain.UserID, connID domain.ConnectionID)
	// Lookup resolves a user to their live connection. Absence means
	// offline or never registered, not an error.
	Lookup(userID domain.UserID) (domain.ConnectionID, bool)
	// UserOf resolves the identity attached to a connection, used when
	// the connection closes.
	UserOf(connID domain.ConnectionID) (domain.UserID, bool)
	// RemoveConn drops the entry for a closing connection. If the user
	// has since re-registered on another connection, that newer mapping
	// is left intact.
	RemoveConn(connID domain.ConnectionID)
	// Users reports the number of registered users.
	Users() int
}

// MemoryConnectionRegistry is the single-instance in-memory implementation.
type MemoryConnectionRegistry struct {
	mu     sync.RWMutex
	byUser map[domain.UserID]domain.ConnectionID
	byConn map[domain.ConnectionID]domain.UserID
}

func NewConnectionRegistry() *MemoryConnectionRegistry {
	return &MemoryConnectionRegistry{
		byUser: make(map[domain.UserID]domain.ConnectionID),
		byConn: make(map[domain.ConnectionID]domain.UserID),
	}
}

func (r *MemoryConnectionRegistry) Register(userID domain.UserID, connID domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byUser[userID]; ok && old != connID {
		delete(r.byConn, old)
		log.Info().Str("module", "app.registry").Str("user", string(userID)).Msg("superseded stale connection")
	}
	r.byUser[userID] = connID
	r.byConn[connID] = userID
}

func (r *MemoryConnectionRegistry) Lookup(userID domain.UserID) (domain.ConnectionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.byUser[userID]
	return connID, ok
}

func (r *MemoryConnectionRegistry) UserOf(connID domain.ConnectionID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.byConn[connID]
	return userID, ok
}

func (r *MemoryConnectionRegistry) RemoveConn(connID domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)
	if cur, ok := r.byUser[userID]; ok && cur == connID {
		delete(r.byUser, userID)
	}
}

func (r *MemoryConnectionRegistry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
