package auth

import (
	"context"
	"slices"
	"sync"

	"finpulse/internal/log"
)

// Authenticator is the credential-checking side of a session.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (Identity, error)
	AuthenticateWithProvider(ctx context.Context, credential string) (Identity, error)
	SendPasswordReset(ctx context.Context, email string) error
}

// Session holds the signed-in user of one client and tells listeners when
// it changes. The owner of every record read or written on behalf of the
// session is the signed-in user's id.
type Session struct {
	auth   Authenticator
	logger *log.Logger

	mu        sync.Mutex
	user      *Identity
	listeners map[uint64]func(*Identity)
	nextID    uint64

	// notifyMu keeps listener calls in transition order.
	notifyMu sync.Mutex
}

func NewSession(a Authenticator, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.Discard()
	}
	return &Session{
		auth:      a,
		logger:    logger.WithComponent(log.ComponentAuth),
		listeners: make(map[uint64]func(*Identity)),
	}
}

// CurrentUser returns the signed-in identity, if any.
func (s *Session) CurrentUser() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return Identity{}, false
	}
	return *s.user, true
}

// Owner returns the signed-in user's id, or "" when signed out.
func (s *Session) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

// OnAuthChange registers fn for every sign-in and sign-out. fn receives nil
// on sign-out. It must not change the session itself.
func (s *Session) OnAuthChange(fn func(user *Identity)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// OnOwnerChange is OnAuthChange reduced to the owner id.
func (s *Session) OnOwnerChange(fn func(owner string)) (unsubscribe func()) {
	return s.OnAuthChange(func(u *Identity) {
		if u == nil {
			fn("")
			return
		}
		fn(u.ID)
	})
}

func (s *Session) SignIn(ctx context.Context, email, password string) error {
	id, err := s.auth.Authenticate(ctx, email, password)
	if err != nil {
		return err
	}
	s.set(&id)
	s.logger.InfoContext(ctx, "Signed in", log.FieldOwner, id.ID, log.FieldOperation, log.OpSignIn)
	return nil
}

func (s *Session) SignInWithProvider(ctx context.Context, credential string) error {
	id, err := s.auth.AuthenticateWithProvider(ctx, credential)
	if err != nil {
		return err
	}
	s.set(&id)
	s.logger.InfoContext(ctx, "Signed in with provider", log.FieldOwner, id.ID, log.FieldOperation, log.OpSignIn)
	return nil
}

// Restore signs in an identity that was verified elsewhere, such as a
// session token.
func (s *Session) Restore(id Identity) {
	s.set(&id)
}

func (s *Session) SignOut() {
	s.set(nil)
}

func (s *Session) SendPasswordReset(ctx context.Context, email string) error {
	return s.auth.SendPasswordReset(ctx, email)
}

func (s *Session) set(u *Identity) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if sameUser(s.user, u) {
		s.mu.Unlock()
		return
	}
	s.user = u
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(*Identity), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		var arg *Identity
		if u != nil {
			cp := *u
			arg = &cp
		}
		fn(arg)
	}
}

func sameUser(a, b *Identity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
