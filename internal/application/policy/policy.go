// Package policy decides what a navigation attempt should do, given the
// current session and the page's requirements. The decision is a value;
// enacting it (actually navigating) is the caller's concern, so the rules
// are testable without any rendering environment.
package policy

import (
	"libres/internal/domain/session"
)

// Action is what the caller should do with the requested page.
type Action string

const (
	Render             Action = "render"
	ShowLoading        Action = "show-loading"
	RedirectToLogin    Action = "redirect-to-login"
	RedirectToVerify   Action = "redirect-to-verify"
	RedirectToRoleHome Action = "redirect-to-role-home"
)

// Decision carries the action plus the data the enactment needs: the return
// path for a login redirect, the target path for a role-home redirect, and
// the email for a verification redirect.
type Decision struct {
	Action Action
	Target string
	Email  string
}

// Evaluate decides access for a protected page. requiredRole may be empty,
// meaning any authenticated and verified user is allowed.
// PRE: none
// POST: Returns exactly one Decision; sess is not mutated
func Evaluate(sess session.Session, requestedPath, requiredRole string) Decision {
	if sess.Loading {
		return Decision{Action: ShowLoading}
	}
	if !sess.IsAuthenticated() {
		return Decision{Action: RedirectToLogin, Target: requestedPath}
	}
	if !sess.User.IsVerified {
		return Decision{Action: RedirectToVerify, Email: sess.User.Email}
	}
	if requiredRole != "" && sess.User.Role != requiredRole {
		return Decision{Action: RedirectToRoleHome, Target: session.RoleHome(sess.User.Role)}
	}
	return Decision{Action: Render}
}

// EvaluatePublic decides access for public-only pages (login, register and
// the like): an authenticated, verified user is sent to their role home
// instead of seeing them again.
// PRE: none
// POST: Returns exactly one Decision; sess is not mutated
func EvaluatePublic(sess session.Session) Decision {
	if sess.Loading {
		return Decision{Action: ShowLoading}
	}
	if sess.IsVerified() {
		return Decision{Action: RedirectToRoleHome, Target: session.RoleHome(sess.User.Role)}
	}
	return Decision{Action: Render}
}
