package request

import (
	"errors"
	"strings"
	"time"
)

// Kind constants. Bookings and tours share the same record shape and
// lifecycle; they differ only in payload fields and listing filters.
const (
	KindBooking = "booking"
	KindTour    = "tour"
)

// Status constants
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// ValidStatuses contains all valid status values.
var ValidStatuses = []string{StatusPending, StatusApproved, StatusRejected, StatusCompleted, StatusCancelled}

// Domain errors
var (
	ErrInvalidTransition = errors.New("status change is not allowed from the current status")
	ErrMissingAnnotation = errors.New("an admin note is required for this decision")
	ErrInvalidStatus     = errors.New("unknown request status")
	ErrNotPending        = errors.New("only pending requests can be cancelled")
	ErrEmptyActivity     = errors.New("activity name cannot be empty")
	ErrNoParticipants    = errors.New("participant count must be at least 1")
)

// adminTransitions is the transition table for admin decisions. rejected,
// completed and cancelled are terminal; cancelled is reachable only through
// the owner's cancellation path, never through an admin decision.
var adminTransitions = map[string][]string{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusCompleted},
}

// Record is a booking or tour submission with a lifecycle status.
// AdminNote is set if and only if the record has left pending through an
// admin decision.
type Record struct {
	ID           string
	OwnerUserID  string
	Kind         string
	Status       string
	AdminNote    string
	Activity     string
	StartsAt     time.Time
	EndsAt       time.Time
	Participants int
	CreatedAt    time.Time
}

// Validate checks if the Record has valid data.
// PRE: Record struct is populated
// POST: Returns nil if valid, error otherwise
func (r *Record) Validate() error {
	if strings.TrimSpace(r.Activity) == "" {
		return ErrEmptyActivity
	}
	if r.Participants < 1 {
		return ErrNoParticipants
	}
	if !IsValidStatus(r.Status) {
		return ErrInvalidStatus
	}
	if r.Kind != KindBooking && r.Kind != KindTour {
		return errors.New("kind must be booking or tour")
	}
	return nil
}

// IsValidStatus reports whether s is a known status value.
func IsValidStatus(s string) bool {
	for _, v := range ValidStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// CanTransition reports whether an admin may move a record from one status
// to another. Anything not in the transition table is illegal, including
// self-transitions.
// INVARIANT: no record is mutated
func CanTransition(from, to string) bool {
	for _, t := range adminTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// AdminTargets returns the statuses an admin may move a record to from its
// current status. An empty slice means the record is terminal for admins;
// callers use this to disable or hide decision affordances.
// INVARIANT: no record is mutated
func AdminTargets(status string) []string {
	targets := adminTransitions[status]
	out := make([]string, len(targets))
	copy(out, targets)
	return out
}

// ApplyDecision moves the record to target with the given admin note.
// The transition is re-validated here even when the caller already checked,
// so a stale caller cannot push a record through an illegal transition.
// PRE: none
// POST: Status and AdminNote are updated, or the record is unchanged
func (r *Record) ApplyDecision(target, adminNote string) error {
	if !IsValidStatus(target) {
		return ErrInvalidStatus
	}
	if !CanTransition(r.Status, target) {
		return ErrInvalidTransition
	}
	note := strings.TrimSpace(adminNote)
	if note == "" {
		return ErrMissingAnnotation
	}
	r.Status = target
	r.AdminNote = note
	return nil
}

// Cancel moves a pending record to cancelled. This is the owner's path and
// carries no admin note.
// PRE: none
// POST: Status is cancelled, or the record is unchanged
func (r *Record) Cancel() error {
	if r.Status != StatusPending {
		return ErrNotPending
	}
	r.Status = StatusCancelled
	return nil
}

// IsTerminal reports whether no admin transition leads out of status.
func IsTerminal(status string) bool {
	return len(adminTransitions[status]) == 0
}

// CanDelete reports whether an actor may delete the record. Deletion is not
// a lifecycle state; it is an irreversible side channel. Admins may delete
// terminal records, owners their own pending or cancelled ones.
// INVARIANT: no record is mutated
func CanDelete(r Record, actorUserID string, isAdmin bool) bool {
	if isAdmin {
		return IsTerminal(r.Status)
	}
	if r.OwnerUserID != actorUserID {
		return false
	}
	return r.Status == StatusPending || r.Status == StatusCancelled
}
