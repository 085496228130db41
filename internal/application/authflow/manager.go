// Package authflow owns the session: it is the only writer of the Session
// snapshot and the persisted token. Every action runs against the remote
// gateway and returns a Result; callers see either the pre-action or the
// post-action session, never a half-applied one.
package authflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"libres/internal/application/remote"
	"libres/internal/domain/session"
)

// Gateway is the remote surface the manager drives. SetToken installs the
// bearer token on the underlying client so later calls are authenticated.
type Gateway interface {
	remote.AuthGateway
	SetToken(token string)
}

// TokenStore persists the opaque session token across process restarts.
// The profile is never persisted; it is re-fetched on restore.
type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// Result is the outcome of an auth action. By the time a Result is
// returned the session snapshot already reflects the action.
type Result struct {
	Success           bool
	Error             string
	NeedsVerification bool
}

// Client-side validation errors; these never reach the gateway.
var (
	ErrMissingCredentials = errors.New("email and password are required")
	ErrMissingFields      = errors.New("all fields are required")
	ErrPasswordSame       = errors.New("new password must be different from current password")
)

// Manager is the auth state machine. One instance owns the process-wide
// session; all mutation goes through its methods.
type Manager struct {
	mu     sync.Mutex
	gw     Gateway
	tokens TokenStore
	sess   session.Session
}

// New creates a Manager in the anonymous state. Call Restore to pick up a
// persisted token.
func New(gw Gateway, tokens TokenStore) *Manager {
	return &Manager{gw: gw, tokens: tokens}
}

// Session returns a copy of the current session snapshot.
// INVARIANT: the returned value does not alias manager state
func (m *Manager) Session() session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.Clone()
}

// Restore rebuilds the session from a persisted token at process start.
// An explicit invalid-token response removes the token from storage; a
// transport failure keeps it, since the token may still be valid.
// PRE: none
// POST: session is verified/unverified on success, anonymous or
// token-only otherwise
func (m *Manager) Restore(ctx context.Context) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, err := m.tokens.Load(ctx)
	if err != nil {
		slog.Warn("auth_event", "event", "token_load_failed", "error", err)
		token = ""
	}
	if token == "" {
		m.sess = session.Session{}
		return Result{Success: false}
	}

	m.sess = session.Session{Token: token, Loading: true}
	m.gw.SetToken(token)

	user, err := m.gw.GetCurrentUser(ctx)
	if err != nil {
		if remote.TokenInvalid(err) {
			slog.Info("auth_event", "event", "restore_rejected", "reason", "token_invalid")
			m.clearToken(ctx)
			m.sess = session.Session{}
			return Result{Error: remote.Message(err)}
		}
		// The gateway was unreachable; keep the token for a later retry.
		slog.Warn("auth_event", "event", "restore_failed", "error", err)
		m.sess = session.Session{Token: token}
		return Result{Error: remote.Message(err)}
	}

	m.sess = session.Session{Token: token, User: &user}
	slog.Info("auth_event", "event", "restore_success", "email", user.Email, "role", user.Role)
	return Result{Success: true}
}

// Login authenticates with fresh credentials. A failure clears any stored
// token, since the caller explicitly asked for a new session.
// PRE: none
// POST: session is verified/unverified with the new token on success,
// anonymous with an error message on failure
func (m *Manager) Login(ctx context.Context, email, password string) Result {
	if strings.TrimSpace(email) == "" || password == "" {
		return Result{Error: ErrMissingCredentials.Error()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sess.Loading = true
	m.sess.Err = ""

	authn, err := m.gw.Login(ctx, email, password)
	if err != nil {
		msg := remote.Message(err)
		slog.Info("auth_event", "event", "login_failed", "email", email)
		m.clearToken(ctx)
		m.sess = session.Session{Err: msg}
		return Result{Error: msg, NeedsVerification: remote.NeedsVerification(err)}
	}

	m.adoptAuthn(ctx, authn)
	slog.Info("auth_event", "event", "login_success", "email", authn.User.Email, "role", authn.User.Role)
	return Result{Success: true}
}

// Register creates an account. Success yields no token: the session holds
// the unverified profile and the user must verify their email first.
// PRE: none
// POST: session is authenticated-unverified on success
func (m *Manager) Register(ctx context.Context, in remote.RegisterInput) Result {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return Result{Error: ErrMissingFields.Error()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sess.Loading = true
	m.sess.Err = ""

	user, err := m.gw.Register(ctx, in)
	if err != nil {
		msg := remote.Message(err)
		slog.Info("auth_event", "event", "register_failed", "email", in.Email)
		m.clearToken(ctx)
		m.sess = session.Session{Err: msg}
		return Result{Error: msg}
	}

	m.gw.SetToken("")
	m.sess = session.Session{User: &user}
	slog.Info("auth_event", "event", "register_success", "email", user.Email)
	return Result{Success: true}
}

// VerifyEmail exchanges an emailed verification token for a full session.
// On failure the prior session is restored untouched, with an error message.
// PRE: none
// POST: session is authenticated-verified with the new token on success
func (m *Manager) VerifyEmail(ctx context.Context, token, email string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	prior := m.sess.Clone()
	m.sess.Loading = true
	m.sess.Err = ""

	authn, err := m.gw.VerifyEmail(ctx, token, email)
	if err != nil {
		msg := remote.Message(err)
		slog.Info("auth_event", "event", "verify_failed", "email", email)
		m.sess = prior
		m.sess.Loading = false
		m.sess.Err = msg
		return Result{Error: msg}
	}

	m.adoptAuthn(ctx, authn)
	slog.Info("auth_event", "event", "verify_success", "email", authn.User.Email)
	return Result{Success: true}
}

// ResendVerification asks the gateway to resend the verification email.
// The session is not touched.
func (m *Manager) ResendVerification(ctx context.Context, email string) Result {
	if strings.TrimSpace(email) == "" {
		return Result{Error: ErrMissingFields.Error()}
	}
	if err := m.gw.ResendVerification(ctx, email); err != nil {
		return Result{Error: remote.Message(err)}
	}
	slog.Info("auth_event", "event", "verification_resent", "email", email)
	return Result{Success: true}
}

// ForgotPassword requests a password-reset email. The session is not touched.
func (m *Manager) ForgotPassword(ctx context.Context, email string) Result {
	if strings.TrimSpace(email) == "" {
		return Result{Error: ErrMissingFields.Error()}
	}
	if err := m.gw.ForgotPassword(ctx, email); err != nil {
		return Result{Error: remote.Message(err)}
	}
	slog.Info("auth_event", "event", "password_reset_requested", "email", email)
	return Result{Success: true}
}

// ResetPassword redeems a reset token. Success behaves like a fresh login;
// failure clears the token like any other fresh-credential failure.
// PRE: none
// POST: session is authenticated-verified with the new token on success
func (m *Manager) ResetPassword(ctx context.Context, token, email, newPassword string) Result {
	if token == "" || strings.TrimSpace(email) == "" || newPassword == "" {
		return Result{Error: ErrMissingFields.Error()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sess.Loading = true
	m.sess.Err = ""

	authn, err := m.gw.ResetPassword(ctx, token, email, newPassword)
	if err != nil {
		msg := remote.Message(err)
		slog.Info("auth_event", "event", "password_reset_failed", "email", email)
		m.clearToken(ctx)
		m.sess = session.Session{Err: msg}
		return Result{Error: msg}
	}

	m.adoptAuthn(ctx, authn)
	slog.Info("auth_event", "event", "password_reset_success", "email", authn.User.Email)
	return Result{Success: true}
}

// ChangePassword rotates the password of the authenticated user. The
// gateway issues a fresh token; authentication state does not change.
// PRE: session is authenticated
// POST: token is replaced on success; session untouched on failure
func (m *Manager) ChangePassword(ctx context.Context, currentPassword, newPassword string) Result {
	if currentPassword == "" || newPassword == "" {
		return Result{Error: ErrMissingFields.Error()}
	}
	if currentPassword == newPassword {
		return Result{Error: ErrPasswordSame.Error()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	authn, err := m.gw.ChangePassword(ctx, currentPassword, newPassword)
	if err != nil {
		return Result{Error: remote.Message(err)}
	}

	m.adoptAuthn(ctx, authn)
	slog.Info("auth_event", "event", "password_changed", "email", authn.User.Email)
	return Result{Success: true}
}

// UpdateProfile edits the profile in place. Authentication state and the
// token do not change.
// PRE: session is authenticated
// POST: session user reflects the gateway's response on success
func (m *Manager) UpdateProfile(ctx context.Context, in remote.ProfileUpdate) Result {
	if strings.TrimSpace(in.Name) == "" && strings.TrimSpace(in.Email) == "" {
		return Result{Error: ErrMissingFields.Error()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	user, err := m.gw.UpdateProfile(ctx, in)
	if err != nil {
		return Result{Error: remote.Message(err)}
	}

	m.sess.User = &user
	slog.Info("auth_event", "event", "profile_updated", "email", user.Email)
	return Result{Success: true}
}

// Logout ends the session. The gateway call is best effort: its failure is
// logged and the local session is cleared regardless. Idempotent.
// PRE: none
// POST: session is anonymous, token removed from storage
func (m *Manager) Logout(ctx context.Context) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.Token != "" {
		if err := m.gw.Logout(ctx); err != nil {
			slog.Warn("auth_event", "event", "logout_call_failed", "error", err)
		}
	}
	m.clearToken(ctx)
	m.sess = session.Session{}
	slog.Info("auth_event", "event", "logout")
	return Result{Success: true}
}

// adoptAuthn installs a fresh authentication: session, gateway bearer
// token, and durable storage. Persistence failure is logged, not fatal;
// the in-memory session is still valid for this process.
// PRE: m.mu is held
func (m *Manager) adoptAuthn(ctx context.Context, authn remote.Authn) {
	user := authn.User
	m.sess = session.Session{User: &user, Token: authn.Token}
	m.gw.SetToken(authn.Token)
	if err := m.tokens.Save(ctx, authn.Token); err != nil {
		slog.Warn("auth_event", "event", "token_persist_failed", "error", err)
	}
}

// clearToken removes the bearer token everywhere.
// PRE: m.mu is held
func (m *Manager) clearToken(ctx context.Context) {
	m.gw.SetToken("")
	if err := m.tokens.Clear(ctx); err != nil {
		slog.Warn("auth_event", "event", "token_clear_failed", "error", err)
	}
}
