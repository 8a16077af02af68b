package telegram

import (
	"sync"
	"time"
)

// The conversational layer is a tiny per-user state machine: after pressing
// a menu button the bot waits for one specific input. States expire so an
// abandoned flow cannot trap a user.

type state int

const (
	stateIdle state = iota
	stateAwaitAdd  // waiting for a group link / short name
	stateAwaitDel  // waiting for an index into the presented list
	stateAwaitSpam // admin: waiting for the mass-mail message
)

const sessionTTL = 10 * time.Minute

type session struct {
	st      state
	expires time.Time
	// domains is the numbered list shown during the delete flow; the
	// user's reply indexes into it.
	domains []string
}

type sessions struct {
	mu sync.Mutex
	m  map[int64]session
}

func newSessions() *sessions {
	return &sessions{m: make(map[int64]session)}
}

func (s *sessions) get(userID int64) session {
	s.mu.Lock()
	defer s.mu.Unlock()
	ses, ok := s.m[userID]
	if !ok || time.Now().After(ses.expires) {
		delete(s.m, userID)
		return session{st: stateIdle}
	}
	return ses
}

func (s *sessions) set(userID int64, ses session) {
	ses.expires = time.Now().Add(sessionTTL)
	s.mu.Lock()
	s.m[userID] = ses
	s.mu.Unlock()
}

func (s *sessions) clear(userID int64) {
	s.mu.Lock()
	delete(s.m, userID)
	s.mu.Unlock()
}
