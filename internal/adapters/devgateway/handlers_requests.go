package devgateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"libres/internal/domain/request"
	"libres/internal/domain/session"
)

// sortColumns maps the wire sort fields to SQL columns. Anything not in
// this map falls back to createdAt.
var sortColumns = map[string]string{
	"createdAt":    "created_at",
	"startTime":    "starts_at",
	"activityName": "activity",
	"status":       "status",
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func recordJSON(rec request.Record) map[string]any {
	return map[string]any{
		"id":           rec.ID,
		"userId":       rec.OwnerUserID,
		"type":         rec.Kind,
		"status":       rec.Status,
		"adminNote":    rec.AdminNote,
		"activityName": rec.Activity,
		"startTime":    rec.StartsAt.UTC().Format(time.RFC3339),
		"endTime":      rec.EndsAt.UTC().Format(time.RFC3339),
		"participants": rec.Participants,
		"createdAt":    rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	acct := currentAccount(r)
	q := r.URL.Query()

	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}

	status := q.Get("status")
	if status != "" && !request.IsValidStatus(status) {
		writeError(w, http.StatusUnprocessableEntity, request.ErrInvalidStatus.Error())
		return
	}

	column, ok := sortColumns[q.Get("sortBy")]
	if !ok {
		column = "created_at"
	}

	f := ListFilter{
		Search:     strings.TrimSpace(q.Get("search")),
		Status:     status,
		SortColumn: column,
		SortDesc:   q.Get("sortOrder") != "asc",
		StartDate:  q.Get("startDate"),
		EndDate:    q.Get("endDate"),
		Limit:      limit,
	}
	// Regular users only ever see their own submissions.
	if acct.Role != session.RoleAdmin {
		f.OwnerUserID = acct.ID
	}

	// Count first so an out-of-range page clamps to the last one.
	probe := f
	probe.Limit = 1
	probe.Offset = 0
	_, total, err := s.store.ListRequests(r.Context(), probe)
	if err != nil {
		internalError(w, err)
		return
	}
	pages := (total + limit - 1) / limit
	if pages < 1 {
		pages = 1
	}
	if page > pages {
		page = pages
	}
	f.Offset = (page - 1) * limit

	records, total, err := s.store.ListRequests(r.Context(), f)
	if err != nil {
		internalError(w, err)
		return
	}

	data := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		data = append(data, recordJSON(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": data,
		"pagination": map[string]any{
			"page":  page,
			"pages": pages,
			"total": total,
		},
	})
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Kind         string `json:"type"`
		ActivityName string `json:"activityName"`
		StartTime    string `json:"startTime"`
		EndTime      string `json:"endTime"`
		Participants int    `json:"participants"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	starts, err := time.Parse(time.RFC3339, in.StartTime)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "startTime must be RFC 3339")
		return
	}
	ends, err := time.Parse(time.RFC3339, in.EndTime)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "endTime must be RFC 3339")
		return
	}
	if !ends.After(starts) {
		writeError(w, http.StatusUnprocessableEntity, "endTime must be after startTime")
		return
	}

	acct := currentAccount(r)
	rec := request.Record{
		ID:           s.generateID(),
		OwnerUserID:  acct.ID,
		Kind:         in.Kind,
		Status:       request.StatusPending,
		Activity:     strings.TrimSpace(in.ActivityName),
		StartsAt:     starts,
		EndsAt:       ends,
		Participants: in.Participants,
		CreatedAt:    s.now(),
	}
	if err := rec.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.store.SaveRequest(r.Context(), rec); err != nil {
		internalError(w, err)
		return
	}

	slog.Info("request_event", "event", "submitted", "request_id", rec.ID, "owner", acct.ID, "kind", rec.Kind)
	writeJSON(w, http.StatusCreated, recordJSON(rec))
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status    string `json:"status"`
		AdminNote string `json:"adminNote"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	acct := currentAccount(r)
	rec, err := s.store.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			writeError(w, http.StatusNotFound, ErrRequestNotFound.Error())
			return
		}
		internalError(w, err)
		return
	}

	switch in.Status {
	case request.StatusCancelled:
		// Cancellation is the owner's move, never an admin decision.
		if rec.OwnerUserID != acct.ID {
			writeError(w, http.StatusForbidden, "only the owner can cancel a request")
			return
		}
		if err := rec.Cancel(); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
	default:
		if acct.Role != session.RoleAdmin {
			writeError(w, http.StatusForbidden, "only admins can decide on requests")
			return
		}
		if err := rec.ApplyDecision(in.Status, in.AdminNote); err != nil {
			switch {
			case errors.Is(err, request.ErrMissingAnnotation):
				writeError(w, http.StatusUnprocessableEntity, err.Error())
			case errors.Is(err, request.ErrInvalidStatus):
				writeError(w, http.StatusUnprocessableEntity, err.Error())
			default:
				writeError(w, http.StatusConflict, err.Error())
			}
			return
		}
	}

	if err := s.store.SaveRequest(r.Context(), rec); err != nil {
		internalError(w, err)
		return
	}

	slog.Info("request_event", "event", "status_changed", "request_id", rec.ID, "status", rec.Status, "actor", acct.ID)
	writeJSON(w, http.StatusOK, recordJSON(rec))
}

func (s *Server) handleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	acct := currentAccount(r)
	rec, err := s.store.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			writeError(w, http.StatusNotFound, ErrRequestNotFound.Error())
			return
		}
		internalError(w, err)
		return
	}

	if !request.CanDelete(rec, acct.ID, acct.Role == session.RoleAdmin) {
		writeError(w, http.StatusForbidden, "this request cannot be deleted")
		return
	}
	if err := s.store.DeleteRequest(r.Context(), rec.ID); err != nil {
		internalError(w, err)
		return
	}

	slog.Info("request_event", "event", "deleted", "request_id", rec.ID, "actor", acct.ID)
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	acct := currentAccount(r)
	if acct.Role != session.RoleAdmin {
		writeError(w, http.StatusForbidden, "stats are admin only")
		return
	}

	var cutoff time.Time
	switch r.URL.Query().Get("period") {
	case "week":
		cutoff = s.now().AddDate(0, 0, -7)
	case "month":
		cutoff = s.now().AddDate(0, -1, 0)
	case "", "all":
		// zero cutoff means all time
	default:
		writeError(w, http.StatusUnprocessableEntity, "period must be week, month or all")
		return
	}

	counts, err := s.store.CountByStatus(r.Context(), cutoff)
	if err != nil {
		internalError(w, err)
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary": map[string]any{
			"total":     total,
			"pending":   counts[request.StatusPending],
			"approved":  counts[request.StatusApproved],
			"rejected":  counts[request.StatusRejected],
			"completed": counts[request.StatusCompleted],
			"cancelled": counts[request.StatusCancelled],
		},
	})
}
