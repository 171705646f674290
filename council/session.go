package council

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SessionStatus tracks whether the current session has been verified.
type SessionStatus int

const (
	// StatusUnknown: a stored token is being verified; no authenticated
	// calls should be made yet.
	StatusUnknown SessionStatus = iota
	StatusAnonymous
	StatusAuthenticated
)

func (s SessionStatus) String() string {
	switch s {
	case StatusAnonymous:
		return "anonymous"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Session is the authentication state of the process.
type Session struct {
	Token string
	User  *User
}

func (s Session) Authenticated() bool { return s.Token != "" && s.User != nil }

// TokenStore persists the access token between runs.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

type sessionState struct {
	session Session
	status  SessionStatus
}

// SessionManager owns the token lifecycle. Every write goes through
// Restore, Login, Register or Logout; everything else only reads.
type SessionManager struct {
	api     *apiClient
	store   TokenStore
	logger  *zap.Logger
	state   atomic.Pointer[sessionState]
	restore singleflight.Group
}

func NewSessionManager(opts Options, store TokenStore) *SessionManager {
	m := &SessionManager{
		api:    newAPI(opts, nil),
		store:  store,
		logger: opts.Logger,
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.state.Store(&sessionState{status: StatusUnknown})
	return m
}

// Token implements Credentials. It is empty unless the session is verified.
func (m *SessionManager) Token() string {
	st := m.state.Load()
	if st.status != StatusAuthenticated {
		return ""
	}
	return st.session.Token
}

func (m *SessionManager) Current() Session { return m.state.Load().session }

func (m *SessionManager) Status() SessionStatus { return m.state.Load().status }

// Restore loads the persisted token and verifies it with the backend.
// A token the backend rejects is discarded and the session becomes
// anonymous; that is not an error. When the backend cannot be reached or
// fails, the stored token is kept and the error is returned. Concurrent
// callers share one verification.
func (m *SessionManager) Restore(ctx context.Context) (Session, error) {
	v, err, _ := m.restore.Do("restore", func() (interface{}, error) {
		return m.doRestore(ctx)
	})
	if err != nil {
		return Session{}, err
	}
	return v.(Session), nil
}

func (m *SessionManager) doRestore(ctx context.Context) (Session, error) {
	prev := m.state.Load()

	token, err := m.store.Load()
	if err != nil {
		m.swap(prev, Session{}, StatusAnonymous)
		return Session{}, fmt.Errorf("load session token: %w", err)
	}
	if token == "" {
		return m.swap(prev, Session{}, StatusAnonymous), nil
	}

	unknown := &sessionState{status: StatusUnknown}
	if !m.state.CompareAndSwap(prev, unknown) {
		return m.Current(), nil
	}

	user, err := m.me(ctx, token)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// Aborted, not rejected: keep the stored token for next time.
			m.swap(unknown, Session{}, StatusAnonymous)
			return Session{}, ctxErr
		}
		if !rejected(err) {
			// The server could not answer; the token may still be good.
			m.logger.Warn("could not verify stored session", zap.Error(err))
			m.swap(unknown, Session{}, StatusAnonymous)
			return Session{}, err
		}
		m.logger.Info("discarding stored session", zap.Error(err))
		if clearErr := m.store.Clear(); clearErr != nil {
			m.logger.Warn("failed to clear stored token", zap.Error(clearErr))
		}
		return m.swap(unknown, Session{}, StatusAnonymous), nil
	}

	return m.swap(unknown, Session{Token: token, User: user}, StatusAuthenticated), nil
}

// rejected reports whether the backend refused the token itself.
func rejected(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden
}

// swap installs a new state unless another writer got there first, and
// returns whatever session ends up current.
func (m *SessionManager) swap(prev *sessionState, s Session, status SessionStatus) Session {
	if m.state.CompareAndSwap(prev, &sessionState{session: s, status: status}) {
		return s
	}
	return m.Current()
}

func (m *SessionManager) me(ctx context.Context, token string) (*User, error) {
	req, err := m.api.newRequest(ctx, http.MethodGet, "/api/auth/me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var user User
	if err := m.api.do(req, "verify session", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        User   `json:"user"`
}

func (m *SessionManager) Login(ctx context.Context, username, password string) (Session, error) {
	return m.exchange(ctx, "login", "/api/auth/login", loginRequest{Username: username, Password: password})
}

func (m *SessionManager) Register(ctx context.Context, username, email, password string) (Session, error) {
	return m.exchange(ctx, "register", "/api/auth/register", registerRequest{Username: username, Email: email, Password: password})
}

// exchange leaves the current session untouched on any failure.
func (m *SessionManager) exchange(ctx context.Context, op, rel string, body interface{}) (Session, error) {
	req, err := m.api.newRequest(ctx, http.MethodPost, rel, body)
	if err != nil {
		return Session{}, err
	}

	var resp tokenResponse
	if err := m.api.do(req, op, &resp); err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			detail := se.Detail
			if detail == "" {
				detail = http.StatusText(se.StatusCode)
			}
			return Session{}, &CredentialsError{StatusCode: se.StatusCode, Detail: detail}
		}
		return Session{}, err
	}
	if resp.AccessToken == "" {
		return Session{}, &ConnectivityError{Op: op, Err: errors.New("response carried no access token")}
	}
	if err := m.store.Save(resp.AccessToken); err != nil {
		return Session{}, fmt.Errorf("persist session token: %w", err)
	}

	user := resp.User
	s := Session{Token: resp.AccessToken, User: &user}
	m.state.Store(&sessionState{session: s, status: StatusAuthenticated})
	m.logger.Debug("session established", zap.String("op", op), zap.String("user", user.Username))
	return s, nil
}

// Logout forgets the session locally. The in-memory session is cleared even
// if the persisted token could not be removed.
func (m *SessionManager) Logout() error {
	m.state.Store(&sessionState{status: StatusAnonymous})
	if err := m.store.Clear(); err != nil {
		return fmt.Errorf("clear session token: %w", err)
	}
	return nil
}
