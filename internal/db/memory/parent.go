package memory

import (
	"context"
	"time"

	"serotonyl.ru/family-stars/internal/common"
	"serotonyl.ru/family-stars/internal/features/parent"
)

func (s *Store) CreateSession(_ context.Context, sess *parent.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("create_session"); err != nil {
		return err
	}
	s.st.sessions = append(s.st.sessions, clone(sess))
	return nil
}

func (s *Store) ActiveSession(_ context.Context, ownerID string, userID int64, now time.Time) (*parent.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.st.sessions) - 1; i >= 0; i-- {
		sess := s.st.sessions[i]
		if sess.OwnerID == ownerID && sess.UserID == userID && sess.IsActive && sess.ExpiresAt.After(now) {
			return clone(sess), nil
		}
	}
	return nil, common.ErrNotFound
}

func (s *Store) DeactivateSessions(_ context.Context, ownerID string, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("deactivate_sessions"); err != nil {
		return err
	}
	for _, sess := range s.st.sessions {
		if sess.OwnerID == ownerID && sess.UserID == userID {
			sess.IsActive = false
		}
	}
	return nil
}

func (s *Store) TouchSession(_ context.Context, ownerID string, userID int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.st.sessions {
		if sess.OwnerID == ownerID && sess.UserID == userID && sess.IsActive {
			sess.LastActivity = now
		}
	}
	return nil
}

func (s *Store) LogAttempt(_ context.Context, a *parent.LoginAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("log_attempt"); err != nil {
		return err
	}
	s.st.attempts = append(s.st.attempts, clone(a))
	return nil
}

func (s *Store) FailedAttemptsSince(_ context.Context, ownerID string, userID int64, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.st.attempts {
		if a.OwnerID == ownerID && a.UserID == userID && !a.Success && !a.AttemptTime.Before(since) {
			n++
		}
	}
	return n, nil
}
