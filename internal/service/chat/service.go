package chat

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/zhouzirui/voice-twin/backend/internal/model/chat"
)

// ErrSessionIDRequired rejects a turn without a session id.
var ErrSessionIDRequired = errors.New("session id is required")

// Options bound the session map. Zero values mean unbounded size and no idle expiry.
type Options struct {
	MaxEntries int
	IdleTTL    time.Duration
	// OnEvict is called when a session is dropped by the size bound or idle expiry,
	// never for an explicit Clear. It must not call back into the Service.
	OnEvict func(id string)
}

type entry struct {
	session chat.Session
	cleared atomic.Bool
}

// Service is the process-wide session store. Sessions are created lazily on
// first reference and live until cleared, evicted by the LRU bound, or idle for
// longer than IdleTTL. An evicted id behaves exactly like one never seen.
type Service struct {
	mu       sync.Mutex
	sessions *expirable.LRU[string, *entry]
	now      func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewService bootstraps the in-memory session store. A positive IdleTTL starts
// the LRU's expiry goroutine, which lives as long as the process; create one
// Service per process.
func NewService(opts Options) *Service {
	onEvict := func(id string, e *entry) {
		if e.cleared.Load() || opts.OnEvict == nil {
			return
		}
		opts.OnEvict(id)
	}

	return &Service{
		sessions: expirable.NewLRU[string, *entry](opts.MaxEntries, onEvict, opts.IdleTTL),
		now:      func() time.Time { return time.Now().UTC() },
		locks:    make(map[string]*sessionLock),
	}
}

// getOrCreate returns the live entry for id, creating it when absent, and
// refreshes its recency and idle timer. Callers hold s.mu.
func (s *Service) getOrCreate(id string) *entry {
	now := s.now()
	e, ok := s.sessions.Get(id)
	if !ok {
		e = &entry{session: chat.Session{
			ID:        id,
			History:   make([]chat.Turn, 0, 16),
			Token:     uuid.NewString(),
			CreatedAt: now,
		}}
	}
	e.session.LastSeen = now
	s.sessions.Add(id, e)
	return e
}

// Get returns a snapshot of the session, creating an empty one on first reference.
func (s *Service) Get(id string) chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreate(id).session.Clone()
}

// Peek returns a snapshot without creating the session or refreshing its idle timer.
func (s *Service) Peek(id string) (chat.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions.Peek(id)
	if !ok {
		return chat.Session{}, false
	}
	return e.session.Clone(), true
}

// Window returns the latest n turns of the session's history.
func (s *Service) Window(id string, n int) []chat.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return chat.Tail(s.getOrCreate(id).session.History, n)
}

// AppendTurn appends one user turn followed by one model turn.
func (s *Service) AppendTurn(id, userText, modelText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.getOrCreate(id)
	e.session.History = append(e.session.History,
		chat.Turn{Role: chat.RoleUser, Text: userText},
		chat.Turn{Role: chat.RoleModel, Text: modelText},
	)
}

// UpdateProfile sets the non-empty fields only; a known value is never cleared by omission.
func (s *Service) UpdateProfile(id, name, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.getOrCreate(id)
	if name != "" {
		e.session.Profile.Name = name
	}
	if email != "" {
		e.session.Profile.Email = email
	}
}

// Clear drops the session. Clearing an unknown id is a no-op.
func (s *Service) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.sessions.Peek(id); ok {
		e.cleared.Store(true)
		s.sessions.Remove(id)
	}
}

// Len reports how many sessions are live.
func (s *Service) Len() int {
	return s.sessions.Len()
}

// Lock serializes work on one session id. The returned func releases the lock.
// Holding it across read-window..append keeps a session's turn pairs in request order.
func (s *Service) Lock(id string) (unlock func()) {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()

			s.locksMu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(s.locks, id)
			}
			s.locksMu.Unlock()
		})
	}
}
