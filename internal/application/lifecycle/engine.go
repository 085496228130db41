// Package lifecycle drives a request record through its status changes.
// Every precondition is re-validated here even when the caller's affordance
// already checked it, so a stale caller cannot push an illegal transition
// to the gateway.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"libres/internal/application/remote"
	"libres/internal/domain/request"
	"libres/internal/domain/session"
)

// Cache is the in-memory record collection the engine validates against
// and patches after a confirmed transition. The list query engine owns the
// authoritative copy; the next fetch supersedes any patch.
type Cache interface {
	Get(id string) (request.Record, bool)
	Patch(rec request.Record)
	Remove(id string)
}

// Engine errors
var (
	ErrNotFound         = errors.New("request not found")
	ErrNotConfirmed     = errors.New("deletion requires explicit confirmation")
	ErrDeleteNotAllowed = errors.New("this request cannot be deleted")
)

// Engine applies lifecycle transitions against the gateway and keeps the
// local cache consistent with confirmed outcomes.
type Engine struct {
	gw    remote.RequestGateway
	cache Cache
}

// New creates an Engine over the given gateway and cache.
func New(gw remote.RequestGateway, cache Cache) *Engine {
	return &Engine{gw: gw, cache: cache}
}

// RequestTransition moves a record to targetStatus with a mandatory admin
// note. Illegal transitions and blank notes are rejected before any network
// call. On gateway failure the local record is unchanged and the gateway's
// message, when present, is returned verbatim.
// PRE: caller is role-gated as admin upstream
// POST: local record patched on success, untouched otherwise
func (e *Engine) RequestTransition(ctx context.Context, id, targetStatus, adminNote string) error {
	rec, ok := e.cache.Get(id)
	if !ok {
		return ErrNotFound
	}
	if !request.CanTransition(rec.Status, targetStatus) {
		return request.ErrInvalidTransition
	}
	note := strings.TrimSpace(adminNote)
	if note == "" {
		return request.ErrMissingAnnotation
	}

	if err := e.gw.UpdateRequestStatus(ctx, id, targetStatus, note); err != nil {
		slog.Info("request_event", "event", "transition_failed", "id", id, "target", targetStatus, "error", err)
		return &remoteFailure{err: err}
	}

	// Optimistic local patch; the next list fetch is the source of truth.
	from := rec.Status
	if err := rec.ApplyDecision(targetStatus, note); err != nil {
		return err
	}
	e.cache.Patch(rec)
	slog.Info("request_event", "event", "transition_applied", "id", id, "from", from, "target", targetStatus)
	return nil
}

// Cancel withdraws the owner's own pending request. No admin note is
// attached; cancellation is not an admin decision.
// PRE: actor owns the record
// POST: local record is cancelled on success
func (e *Engine) Cancel(ctx context.Context, id string) error {
	rec, ok := e.cache.Get(id)
	if !ok {
		return ErrNotFound
	}
	if err := rec.Cancel(); err != nil {
		return err
	}

	if err := e.gw.UpdateRequestStatus(ctx, id, request.StatusCancelled, ""); err != nil {
		slog.Info("request_event", "event", "cancel_failed", "id", id, "error", err)
		return &remoteFailure{err: err}
	}

	e.cache.Patch(rec)
	slog.Info("request_event", "event", "cancelled", "id", id)
	return nil
}

// Delete irreversibly removes a record. It is not a lifecycle state: the
// caller must pass confirmed=true after an explicit user confirmation, and
// the deletion policy is rechecked here.
// PRE: actor is the session profile of the caller
// POST: record removed locally and remotely on success
func (e *Engine) Delete(ctx context.Context, id string, actor session.Profile, confirmed bool) error {
	rec, ok := e.cache.Get(id)
	if !ok {
		return ErrNotFound
	}
	if !confirmed {
		return ErrNotConfirmed
	}
	if !request.CanDelete(rec, actor.ID, actor.IsAdmin()) {
		return ErrDeleteNotAllowed
	}

	if err := e.gw.DeleteRequest(ctx, id); err != nil {
		slog.Info("request_event", "event", "delete_failed", "id", id, "error", err)
		return &remoteFailure{err: err}
	}

	e.cache.Remove(id)
	slog.Info("request_event", "event", "deleted", "id", id, "status", rec.Status)
	return nil
}

// FetchStats returns the request summary for a period ("week", "month",
// "all").
func (e *Engine) FetchStats(ctx context.Context, period string) (remote.Stats, error) {
	stats, err := e.gw.GetRequestStats(ctx, period)
	if err != nil {
		return remote.Stats{}, &remoteFailure{err: err}
	}
	return stats, nil
}

// remoteFailure wraps a gateway error so remote.Message can still reach
// the original while errors.Is treats it as non-local.
type remoteFailure struct {
	err error
}

func (f *remoteFailure) Error() string { return remote.Message(f.err) }
func (f *remoteFailure) Unwrap() error { return f.err }
