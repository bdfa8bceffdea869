package relay

import (
	"sync"

	"github.com/voxbridge/stt-relay/internal/observability"
)

// Registry is the process-wide handle table of live relay sessions, keyed by
// session id. It holds non-owning references: sessions are owned by the
// connection handler that created them, and the registry is consulted only
// during shutdown.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Add registers a session under its id
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
}

// Remove deregisters a session by id. Removing an unknown id is a no-op, so
// the close path and CloseAll can race safely.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll shuts down every registered session and empties the registry.
// Each closure attempt is isolated: a panic closing one session must not
// prevent attempting the rest.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	logger := observability.GetLogger()
	for _, s := range snapshot {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().
						Interface("panic", rec).
						Str("session_id", s.ID()).
						Msg("Panic while closing session")
				}
			}()
			s.Shutdown()
		}()
	}
}
