package devgateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"libres/internal/domain/session"
)

// Token lifetimes for the email flows.
const (
	verifyTokenTTL = 24 * time.Hour
	resetTokenTTL  = time.Hour
)

type ctxKey int

const accountKey ctxKey = 0

// requireAuth validates the bearer token and loads the account into the
// request context. Missing or invalid tokens are 401; the portal treats
// that status as a dead session.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		accountID, err := parseSessionToken(s.secret, raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "session is no longer valid")
			return
		}
		acct, err := s.store.GetAccountByID(r.Context(), accountID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "session is no longer valid")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey, acct)))
	})
}

// currentAccount returns the account requireAuth stored in the context.
// PRE: handler runs behind requireAuth
func currentAccount(r *http.Request) Account {
	return r.Context().Value(accountKey).(Account)
}

func accountJSON(a Account) map[string]any {
	return map[string]any{
		"id":         a.ID,
		"name":       a.Name,
		"email":      a.Email,
		"role":       a.Role,
		"isVerified": a.Verified,
	}
}

func (s *Server) writeAuthn(w http.ResponseWriter, a Account) {
	token, err := mintSessionToken(s.secret, a.ID, a.Role, s.now())
	if err != nil {
		slog.Error("auth_event", "event", "token_mint_failed", "account_id", a.ID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  accountJSON(a),
		"token": token,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.logins.Allow(in.Email) {
		slog.Warn("auth_event", "event", "login_throttled", "email", in.Email)
		writeError(w, http.StatusTooManyRequests, "too many login attempts, try again shortly")
		return
	}

	acct, err := s.store.GetAccountByEmail(r.Context(), in.Email)
	if err != nil {
		// Same message as a wrong password so the endpoint does not
		// reveal which emails are registered.
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err := acct.CheckPassword(in.Password); err != nil {
		slog.Info("auth_event", "event", "login_rejected", "email", in.Email, "reason", "wrong_password")
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if !acct.Verified {
		slog.Info("auth_event", "event", "login_rejected", "email", in.Email, "reason", "unverified")
		writeUnverified(w, "please verify your email address before signing in")
		return
	}

	slog.Info("auth_event", "event", "login", "account_id", acct.ID)
	s.writeAuthn(w, acct)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	if in.Name == "" || in.Email == "" || !strings.Contains(in.Email, "@") {
		writeError(w, http.StatusUnprocessableEntity, "name and a valid email are required")
		return
	}

	acct := Account{
		ID:        s.generateID(),
		Name:      in.Name,
		Email:     in.Email,
		Role:      session.RoleUser,
		Verified:  false,
		CreatedAt: s.now(),
	}
	if err := acct.SetPassword(in.Password); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.store.CreateAccount(r.Context(), acct); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			writeError(w, http.StatusConflict, ErrEmailTaken.Error())
			return
		}
		internalError(w, err)
		return
	}

	if err := s.issueVerification(r.Context(), acct); err != nil {
		// The account exists; the user can ask for a resend.
		slog.Error("auth_event", "event", "verification_send_failed", "account_id", acct.ID, "error", err.Error())
	}

	slog.Info("auth_event", "event", "registered", "account_id", acct.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"user": accountJSON(acct)})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"user": accountJSON(currentAccount(r))})
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token string `json:"token"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accountID, err := s.store.ConsumeEmailToken(r.Context(), purposeVerify, in.Token, s.now())
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			writeError(w, http.StatusUnprocessableEntity, "verification link has expired, request a new one")
			return
		}
		if errors.Is(err, ErrTokenInvalid) {
			writeError(w, http.StatusUnprocessableEntity, "verification link is invalid or already used")
			return
		}
		internalError(w, err)
		return
	}
	acct, err := s.store.GetAccountByID(r.Context(), accountID)
	if err != nil {
		internalError(w, err)
		return
	}
	if !strings.EqualFold(acct.Email, in.Email) {
		writeError(w, http.StatusUnprocessableEntity, "verification link does not match this email")
		return
	}

	acct.Verified = true
	if err := s.store.SaveAccount(r.Context(), acct); err != nil {
		internalError(w, err)
		return
	}

	slog.Info("auth_event", "event", "email_verified", "account_id", acct.ID)
	s.writeAuthn(w, acct)
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Always 200 so the endpoint does not reveal which emails exist.
	acct, err := s.store.GetAccountByEmail(r.Context(), strings.ToLower(strings.TrimSpace(in.Email)))
	if err == nil && !acct.Verified {
		if err := s.issueVerification(r.Context(), acct); err != nil {
			internalError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	acct, err := s.store.GetAccountByEmail(r.Context(), strings.ToLower(strings.TrimSpace(in.Email)))
	if err == nil {
		token := s.generateID()
		if err := s.store.CreateEmailToken(r.Context(), s.generateID(), acct.ID, purposeReset, token, s.now().Add(resetTokenTTL)); err != nil {
			internalError(w, err)
			return
		}
		if err := s.mail.sendPasswordReset(r.Context(), acct.Email, acct.Name, token); err != nil {
			internalError(w, err)
			return
		}
		slog.Info("auth_event", "event", "reset_requested", "account_id", acct.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token    string `json:"token"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accountID, err := s.store.ConsumeEmailToken(r.Context(), purposeReset, in.Token, s.now())
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			writeError(w, http.StatusUnprocessableEntity, "reset link has expired, request a new one")
			return
		}
		if errors.Is(err, ErrTokenInvalid) {
			writeError(w, http.StatusUnprocessableEntity, "reset link is invalid or already used")
			return
		}
		internalError(w, err)
		return
	}
	acct, err := s.store.GetAccountByID(r.Context(), accountID)
	if err != nil {
		internalError(w, err)
		return
	}
	if !strings.EqualFold(acct.Email, in.Email) {
		writeError(w, http.StatusUnprocessableEntity, "reset link does not match this email")
		return
	}
	if err := acct.SetPassword(in.Password); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	// Redeeming an emailed link proves control of the address.
	acct.Verified = true
	if err := s.store.SaveAccount(r.Context(), acct); err != nil {
		internalError(w, err)
		return
	}

	slog.Info("auth_event", "event", "password_reset", "account_id", acct.ID)
	s.writeAuthn(w, acct)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	acct := currentAccount(r)
	if err := acct.CheckPassword(in.CurrentPassword); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "current password is incorrect")
		return
	}
	if err := acct.SetPassword(in.NewPassword); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.store.SaveAccount(r.Context(), acct); err != nil {
		internalError(w, err)
		return
	}

	slog.Info("auth_event", "event", "password_changed", "account_id", acct.ID)
	s.writeAuthn(w, acct)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	if in.Name == "" || in.Email == "" || !strings.Contains(in.Email, "@") {
		writeError(w, http.StatusUnprocessableEntity, "name and a valid email are required")
		return
	}

	acct := currentAccount(r)
	acct.Name = in.Name
	acct.Email = in.Email
	if err := s.store.SaveAccount(r.Context(), acct); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			writeError(w, http.StatusConflict, ErrEmailTaken.Error())
			return
		}
		internalError(w, err)
		return
	}

	slog.Info("auth_event", "event", "profile_updated", "account_id", acct.ID)
	writeJSON(w, http.StatusOK, map[string]any{"user": accountJSON(acct)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	// Bearer sessions are stateless; the client discards its token.
	slog.Info("auth_event", "event", "logout", "account_id", currentAccount(r).ID)
	writeJSON(w, http.StatusOK, map[string]any{})
}

// issueVerification stores a fresh verification token and emails the link.
func (s *Server) issueVerification(ctx context.Context, acct Account) error {
	token := s.generateID()
	if err := s.store.CreateEmailToken(ctx, s.generateID(), acct.ID, purposeVerify, token, s.now().Add(verifyTokenTTL)); err != nil {
		return err
	}
	return s.mail.sendVerification(ctx, acct.Email, acct.Name, token)
}

// internalError logs the real error and returns a generic message.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("gateway_error", "error", err.Error())
	writeError(w, http.StatusInternalServerError, "internal server error")
}
