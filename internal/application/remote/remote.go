// Package remote defines the client-side contract of the remote resource
// gateway: the operations the portal core consumes and the error shape
// gateway adapters must return. The HTTP implementation lives in
// internal/adapters/gateway; tests substitute in-memory fakes.
package remote

import (
	"context"
	"errors"
	"net/http"
	"time"

	"libres/internal/domain/request"
	"libres/internal/domain/session"
)

// GenericFailure is shown when the gateway supplied no message of its own.
const GenericFailure = "something went wrong, please try again"

// Error is a failed gateway call. StatusCode is 0 for transport failures
// (timeouts, refused connections), which callers must treat like any other
// failure. Message is the gateway's own human-readable message, if any.
type Error struct {
	StatusCode        int
	Message           string
	NeedsVerification bool
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return GenericFailure
}

// TokenInvalid reports whether the gateway explicitly rejected the session
// token. Only this forces the session to anonymous; a transport failure
// never does.
// INVARIANT: Error fields are not mutated
func (e *Error) TokenInvalid() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// Message extracts the user-facing message from a gateway call error,
// falling back to GenericFailure when the gateway supplied none.
func Message(err error) string {
	var ge *Error
	if errors.As(err, &ge) && ge.Message != "" {
		return ge.Message
	}
	return GenericFailure
}

// NeedsVerification reports whether the failure was an unverified-email
// rejection, so callers can route the user to the verification screen.
func NeedsVerification(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.NeedsVerification
}

// TokenInvalid reports whether err is an explicit invalid-token response.
func TokenInvalid(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.TokenInvalid()
}

// Authn is a successful authentication response: the profile plus a newly
// issued session token.
type Authn struct {
	User  session.Profile
	Token string
}

// RegisterInput carries the fields of a registration submission.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// ProfileUpdate carries the editable profile fields.
type ProfileUpdate struct {
	Name  string
	Email string
}

// AuthGateway is the authentication surface of the remote gateway.
// Implementations hold the bearer token for the calls that need one.
type AuthGateway interface {
	Login(ctx context.Context, email, password string) (Authn, error)
	Register(ctx context.Context, in RegisterInput) (session.Profile, error)
	GetCurrentUser(ctx context.Context) (session.Profile, error)
	VerifyEmail(ctx context.Context, token, email string) (Authn, error)
	ResendVerification(ctx context.Context, email string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, email, newPassword string) (Authn, error)
	ChangePassword(ctx context.Context, currentPassword, newPassword string) (Authn, error)
	UpdateProfile(ctx context.Context, in ProfileUpdate) (session.Profile, error)
	Logout(ctx context.Context) error
}

// Submission carries the fields of a new booking or tour request. The
// gateway assigns the id, owner and pending status.
type Submission struct {
	Kind         string
	Activity     string
	StartsAt     time.Time
	EndsAt       time.Time
	Participants int
}

// Query carries the listing parameters sent to the gateway. Zero-value
// strings mean "no filter". Dates are inclusive YYYY-MM-DD bounds applied
// to the activity start time.
type Query struct {
	Page      int
	Limit     int
	Search    string
	Status    string
	SortBy    string
	SortOrder string
	StartDate string
	EndDate   string
}

// Page is one page of records plus the pagination envelope the gateway
// computed for the query.
type Page struct {
	Records []request.Record
	Page    int
	Pages   int
	Total   int
}

// Stats is the request summary for a period.
type Stats struct {
	Total     int
	Pending   int
	Approved  int
	Rejected  int
	Completed int
	Cancelled int
}

// RequestGateway is the request-lifecycle surface of the remote gateway.
type RequestGateway interface {
	ListRequests(ctx context.Context, q Query) (Page, error)
	UpdateRequestStatus(ctx context.Context, id, status, adminNote string) error
	DeleteRequest(ctx context.Context, id string) error
	GetRequestStats(ctx context.Context, period string) (Stats, error)
}
