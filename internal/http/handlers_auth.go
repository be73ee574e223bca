package http

import (
	"context"
	"net/http"

	"finpulse/internal/auth"
	"finpulse/internal/core"
	"finpulse/internal/log"
)

type ctxKey int

const identityKey ctxKey = iota

// identityFrom returns the caller verified by authed.
func identityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}

// authed requires a valid bearer token and stores the identity in the
// request context. The identity's id is the owner of everything the
// request reads or writes.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.serveAuthed(w, r, bearerToken(r), next)
	}
}

// authedStream also accepts the token as a query parameter, since browser
// event sources cannot set headers.
func (s *Server) authedStream(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("access_token")
		}
		s.serveAuthed(w, r, token, next)
	}
}

func (s *Server) serveAuthed(w http.ResponseWriter, r *http.Request, token string, next http.HandlerFunc) {
	if token == "" {
		writeError(w, r, core.ErrUnauthenticated)
		return
	}
	id, err := s.tokens.Parse(token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx := context.WithValue(r.Context(), identityKey, id)
	ctx = log.WithLogger(ctx, log.FromContext(ctx).With(log.FieldOwner, id.ID))
	next(w, r.WithContext(ctx))
}

func ownerOf(r *http.Request) string {
	id, _ := identityFrom(r.Context())
	return id.ID
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := s.accounts.SignUp(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.issue(w, r, id, http.StatusCreated)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	sess := auth.NewSession(s.accounts, s.logger)
	if err := sess.SignIn(r.Context(), req.Email, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	s.signedIn(w, r, sess)
}

func (s *Server) handleProviderSignIn(w http.ResponseWriter, r *http.Request) {
	var req providerRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	sess := auth.NewSession(s.accounts, s.logger)
	if err := sess.SignInWithProvider(r.Context(), req.Credential); err != nil {
		writeError(w, r, err)
		return
	}
	s.signedIn(w, r, sess)
}

func (s *Server) signedIn(w http.ResponseWriter, r *http.Request, sess *auth.Session) {
	id, ok := sess.CurrentUser()
	if !ok {
		writeError(w, r, core.ErrUnauthenticated)
		return
	}
	// start following the owner's data before the client subscribes
	s.registry.Get(id.ID)
	s.issue(w, r, id, http.StatusOK)
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request, id auth.Identity, status int) {
	token, exp, err := s.tokens.Issue(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, tokenResponse{Token: token, ExpiresAt: exp.Unix(), User: id})
}

// handleSendReset always answers 202 for well-formed requests so the
// response does not reveal which addresses have accounts.
func (s *Server) handleSendReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.accounts.SendPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) handleConfirmReset(w http.ResponseWriter, r *http.Request) {
	var req confirmResetRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.accounts.ConfirmReset(r.Context(), req.Token, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSignOut revokes the presented token and stops following the
// owner's data. Other tokens of the same user stay valid until they expire.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if err := s.tokens.Revoke(token); err != nil {
		writeError(w, r, err)
		return
	}
	s.registry.Release(ownerOf(r))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, err := s.accounts.Lookup(r.Context(), ownerOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}
