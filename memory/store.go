package memory

import (
	"errors"
	"sync"
	"time"

	"github.com/SaiNageswarS/go-api-boot/logger"
	"go.uber.org/zap"

	"chatrelay/llm"
)

// ErrInvalidSession is returned for an empty session key. Callers tolerating
// a missing key substitute a default identifier before calling the store.
var ErrInvalidSession = errors.New("session key is empty")

// Session pairs a history with its own lock. Handlers hold the lock across
// the whole append -> generate -> commit/rollback exchange so concurrent
// requests for the same key cannot interleave turns or corrupt eviction.
type Session struct {
	Key     string
	History *History

	mu       sync.Mutex
	lastUsed time.Time
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// SessionStore owns every History in the process. Nothing else mutates one.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	preamble []llm.Turn
	maxTurns int
	ttl      time.Duration
}

// NewSessionStore keeps per-key histories seeded from preamble and capped at
// maxTurns. A positive ttl enables idle expiry; zero keeps sessions for the
// process lifetime.
func NewSessionStore(preamble []llm.Turn, maxTurns int, ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		preamble: preamble,
		maxTurns: maxTurns,
		ttl:      ttl,
	}
}

// GetOrCreate resolves the session for key, initializing a fresh history
// from the preamble template on first use.
func (s *SessionStore) GetOrCreate(key string) (*Session, error) {
	if key == "" {
		return nil, ErrInvalidSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[key]
	if !ok {
		session = &Session{
			Key:     key,
			History: NewHistory(s.preamble, s.maxTurns),
		}
		s.sessions[key] = session
		logger.Info("Created session", zap.String("session", key))
	}
	session.lastUsed = time.Now()

	return session, nil
}

// SetPreamble swaps the preamble template used for sessions created from now
// on. Intended for startup: existing histories keep the preamble they were
// initialized with.
func (s *SessionStore) SetPreamble(preamble []llm.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preamble = preamble
}

func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// StartJanitor sweeps idle sessions every interval until stop is closed.
// No-op when expiry is disabled.
func (s *SessionStore) StartJanitor(interval time.Duration, stop <-chan struct{}) {
	if s.ttl <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.sweep(time.Now())
			}
		}
	}()
}

func (s *SessionStore) sweep(now time.Time) {
	if s.ttl <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, session := range s.sessions {
		if now.Sub(session.lastUsed) > s.ttl {
			delete(s.sessions, key)
			logger.Info("Expired idle session", zap.String("session", key))
		}
	}
}
