package editor

import (
	"errors"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("editor session not found")

type session struct {
	editor   *Editor
	lastUsed time.Time
}

// Sessions keeps one editor per open editing session.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*session
	opts     []Option
	now      func() time.Time
}

// NewSessions returns a registry whose editors are built with opts.
func NewSessions(opts ...Option) *Sessions {
	return &Sessions{
		sessions: make(map[string]*session),
		opts:     opts,
		now:      time.Now,
	}
}

// Create opens a session over base, which may be nil.
func (s *Sessions) Create(base image.Image) (string, *Editor) {
	e := New(s.opts...)
	if base != nil {
		e.LoadBase(base)
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = &session{editor: e, lastUsed: s.now()}
	s.mu.Unlock()
	return id, e
}

func (s *Sessions) Get(id string) (*Editor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.lastUsed = s.now()
	return sess.editor, nil
}

func (s *Sessions) Close(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Prune closes sessions idle for longer than maxIdle and returns how many
// were closed.
func (s *Sessions) Prune(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxIdle)
	n := 0
	for id, sess := range s.sessions {
		if sess.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}
