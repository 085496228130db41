package request_test

import (
	"errors"
	"testing"
	"time"

	"libres/internal/domain/request"
)

func validRecord() request.Record {
	return request.Record{
		ID:           "req-001",
		OwnerUserID:  "user-001",
		Kind:         request.KindBooking,
		Status:       request.StatusPending,
		Activity:     "Diskusi kelompok",
		StartsAt:     time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		EndsAt:       time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC),
		Participants: 6,
	}
}

// TestRecord_Validate tests validation of Record.
func TestRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*request.Record)
		wantErr bool
	}{
		{"valid booking", func(r *request.Record) {}, false},
		{"valid tour", func(r *request.Record) { r.Kind = request.KindTour }, false},
		{"empty activity", func(r *request.Record) { r.Activity = "   " }, true},
		{"zero participants", func(r *request.Record) { r.Participants = 0 }, true},
		{"unknown status", func(r *request.Record) { r.Status = "archived" }, true},
		{"unknown kind", func(r *request.Record) { r.Kind = "meeting" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecord()
			tt.mutate(&r)
			err := r.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestCanTransition tests the full admin transition table.
func TestCanTransition(t *testing.T) {
	legal := map[[2]string]bool{
		{request.StatusPending, request.StatusApproved}:   true,
		{request.StatusPending, request.StatusRejected}:   true,
		{request.StatusApproved, request.StatusCompleted}: true,
	}

	for _, from := range request.ValidStatuses {
		for _, to := range request.ValidStatuses {
			want := legal[[2]string{from, to}]
			if got := request.CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

// TestAdminTargets tests the affordance list per status.
func TestAdminTargets(t *testing.T) {
	tests := []struct {
		status string
		want   []string
	}{
		{request.StatusPending, []string{request.StatusApproved, request.StatusRejected}},
		{request.StatusApproved, []string{request.StatusCompleted}},
		{request.StatusRejected, []string{}},
		{request.StatusCompleted, []string{}},
		{request.StatusCancelled, []string{}},
	}

	for _, tt := range tests {
		got := request.AdminTargets(tt.status)
		if len(got) != len(tt.want) {
			t.Errorf("AdminTargets(%s) = %v, want %v", tt.status, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("AdminTargets(%s)[%d] = %s, want %s", tt.status, i, got[i], tt.want[i])
			}
		}
	}
}

// TestRecord_ApplyDecision_Valid tests a legal decision with a note.
func TestRecord_ApplyDecision_Valid(t *testing.T) {
	r := validRecord()
	if err := r.ApplyDecision(request.StatusApproved, "Ruangan tersedia"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Status != request.StatusApproved {
		t.Errorf("status = %s, want approved", r.Status)
	}
	if r.AdminNote != "Ruangan tersedia" {
		t.Errorf("adminNote = %q, want %q", r.AdminNote, "Ruangan tersedia")
	}
}

// TestRecord_ApplyDecision_SkipsApproval tests that pending cannot jump to completed.
func TestRecord_ApplyDecision_SkipsApproval(t *testing.T) {
	r := validRecord()
	err := r.ApplyDecision(request.StatusCompleted, "done")
	if !errors.Is(err, request.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if r.Status != request.StatusPending {
		t.Errorf("record mutated on rejected transition: status = %s", r.Status)
	}
	if r.AdminNote != "" {
		t.Errorf("record mutated on rejected transition: adminNote = %q", r.AdminNote)
	}
}

// TestRecord_ApplyDecision_BlankNote tests the mandatory annotation rule.
func TestRecord_ApplyDecision_BlankNote(t *testing.T) {
	for _, note := range []string{"", "   ", "\t\n"} {
		r := validRecord()
		err := r.ApplyDecision(request.StatusRejected, note)
		if !errors.Is(err, request.ErrMissingAnnotation) {
			t.Fatalf("note %q: expected ErrMissingAnnotation, got %v", note, err)
		}
		if r.Status != request.StatusPending {
			t.Errorf("note %q: record mutated, status = %s", note, r.Status)
		}
	}
}

// TestRecord_ApplyDecision_TrimsNote tests that surrounding whitespace is dropped.
func TestRecord_ApplyDecision_TrimsNote(t *testing.T) {
	r := validRecord()
	if err := r.ApplyDecision(request.StatusRejected, "  Jadwal bentrok  "); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.AdminNote != "Jadwal bentrok" {
		t.Errorf("adminNote = %q, want trimmed", r.AdminNote)
	}
}

// TestRecord_Cancel tests the owner cancellation path.
func TestRecord_Cancel(t *testing.T) {
	r := validRecord()
	if err := r.Cancel(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Status != request.StatusCancelled {
		t.Errorf("status = %s, want cancelled", r.Status)
	}
	if r.AdminNote != "" {
		t.Errorf("cancellation must not set an admin note, got %q", r.AdminNote)
	}

	// Cancelling anything but pending fails.
	for _, status := range []string{request.StatusApproved, request.StatusRejected, request.StatusCompleted, request.StatusCancelled} {
		r := validRecord()
		r.Status = status
		if err := r.Cancel(); !errors.Is(err, request.ErrNotPending) {
			t.Errorf("Cancel from %s: expected ErrNotPending, got %v", status, err)
		}
	}
}

// TestCanDelete tests the deletion policy per actor and status.
func TestCanDelete(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		actor   string
		isAdmin bool
		want    bool
	}{
		{"admin deletes rejected", request.StatusRejected, "admin-1", true, true},
		{"admin deletes completed", request.StatusCompleted, "admin-1", true, true},
		{"admin deletes cancelled", request.StatusCancelled, "admin-1", true, true},
		{"admin cannot delete pending", request.StatusPending, "admin-1", true, false},
		{"admin cannot delete approved", request.StatusApproved, "admin-1", true, false},
		{"owner deletes own pending", request.StatusPending, "user-001", false, true},
		{"owner deletes own cancelled", request.StatusCancelled, "user-001", false, true},
		{"owner cannot delete approved", request.StatusApproved, "user-001", false, false},
		{"stranger cannot delete pending", request.StatusPending, "user-999", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecord()
			r.Status = tt.status
			if got := request.CanDelete(r, tt.actor, tt.isAdmin); got != tt.want {
				t.Errorf("CanDelete() = %v, want %v", got, tt.want)
			}
		})
	}
}
