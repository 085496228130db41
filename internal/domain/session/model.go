package session

import (
	"errors"
	"strings"
)

// Role constants
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// ValidRoles contains all valid role values.
var ValidRoles = []string{RoleUser, RoleAdmin}

// Role home paths, where each role lands after authentication.
const (
	AdminHome = "/admin"
	UserHome  = "/dashboard"
	LoginPath = "/login"
)

// Phase identifies where a session is in the authentication lifecycle.
type Phase string

const (
	PhaseAnonymous      Phase = "anonymous"
	PhaseAuthenticating Phase = "authenticating"
	PhaseUnverified     Phase = "authenticated-unverified"
	PhaseVerified       Phase = "authenticated-verified"
	PhaseError          Phase = "error"
)

// Domain errors
var (
	ErrEmptyEmail   = errors.New("email cannot be empty")
	ErrInvalidEmail = errors.New("email must contain '@'")
	ErrInvalidRole  = errors.New("role must be one of: user, admin")
)

// Profile is the authenticated user's identity as reported by the gateway.
// Owned exclusively by the session; mutated only through auth actions.
type Profile struct {
	ID         string
	Name       string
	Email      string
	Role       string
	IsVerified bool
}

// Validate checks if the Profile has valid data.
// PRE: Profile struct is populated
// POST: Returns nil if valid, error otherwise
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Email) == "" {
		return ErrEmptyEmail
	}
	if !strings.Contains(p.Email, "@") {
		return ErrInvalidEmail
	}
	if !isValidRole(p.Role) {
		return ErrInvalidRole
	}
	return nil
}

// IsAdmin returns true if the profile has admin role.
// INVARIANT: Profile fields are not mutated
func (p *Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Session is a snapshot of the current authentication state.
// Token present with User absent means a profile fetch is in flight or has
// failed; User absent with Loading false means unauthenticated.
type Session struct {
	User    *Profile
	Token   string
	Loading bool
	Err     string
}

// IsAuthenticated returns true when both a token and a profile are present.
// INVARIANT: Session fields are not mutated
func (s Session) IsAuthenticated() bool {
	return s.Token != "" && s.User != nil
}

// IsVerified returns true for an authenticated session whose email is verified.
// INVARIANT: Session fields are not mutated
func (s Session) IsVerified() bool {
	return s.IsAuthenticated() && s.User.IsVerified
}

// Phase derives the lifecycle phase from the snapshot.
// PRE: none
// POST: Returns exactly one Phase for any snapshot
func (s Session) Phase() Phase {
	switch {
	case s.Loading:
		return PhaseAuthenticating
	case s.User != nil && !s.User.IsVerified:
		return PhaseUnverified
	case s.IsAuthenticated():
		return PhaseVerified
	case s.Err != "":
		return PhaseError
	default:
		return PhaseAnonymous
	}
}

// Clone returns a deep copy so callers can never alias the live profile.
// INVARIANT: Session fields are not mutated
func (s Session) Clone() Session {
	out := s
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	return out
}

// RoleHome returns the landing path for a role.
// PRE: none
// POST: Returns AdminHome for admin, UserHome otherwise
func RoleHome(role string) string {
	if role == RoleAdmin {
		return AdminHome
	}
	return UserHome
}

func isValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}
