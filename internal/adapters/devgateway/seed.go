package devgateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"libres/internal/domain/request"
	"libres/internal/domain/session"
)

// Seed provisions the admin account and a handful of sample requests on an
// empty database. A database with any account at all is left alone, so
// repeated restarts do not duplicate data.
// PRE: adminEmail and adminPassword are non-empty
// POST: the admin can sign in; sample requests exist for local browsing
func Seed(ctx context.Context, store *Store, adminEmail, adminPassword string) error {
	n, err := store.CountAccounts(ctx)
	if err != nil {
		return fmt.Errorf("count accounts: %w", err)
	}
	if n > 0 {
		return nil
	}

	now := time.Now()
	admin := Account{
		ID:        uuid.New().String(),
		Name:      "Portal Admin",
		Email:     adminEmail,
		Role:      session.RoleAdmin,
		Verified:  true,
		CreatedAt: now,
	}
	if err := admin.SetPassword(adminPassword); err != nil {
		return fmt.Errorf("seed admin password: %w", err)
	}
	if err := store.CreateAccount(ctx, admin); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	member := Account{
		ID:        uuid.New().String(),
		Name:      "Sample Member",
		Email:     "member@libres.example",
		Role:      session.RoleUser,
		Verified:  true,
		CreatedAt: now,
	}
	if err := member.SetPassword("member-rahasia-123"); err != nil {
		return err
	}
	if err := store.CreateAccount(ctx, member); err != nil {
		return fmt.Errorf("seed member: %w", err)
	}

	samples := []request.Record{
		{
			Kind: request.KindBooking, Status: request.StatusPending,
			Activity: "Study room 2B", Participants: 4,
			StartsAt: now.AddDate(0, 0, 2), EndsAt: now.AddDate(0, 0, 2).Add(2 * time.Hour),
		},
		{
			Kind: request.KindBooking, Status: request.StatusApproved, AdminNote: "Confirmed, key at the front desk.",
			Activity: "Media lab", Participants: 8,
			StartsAt: now.AddDate(0, 0, 5), EndsAt: now.AddDate(0, 0, 5).Add(3 * time.Hour),
		},
		{
			Kind: request.KindTour, Status: request.StatusRejected, AdminNote: "Archive wing is closed for maintenance that week.",
			Activity: "Archive wing tour", Participants: 12,
			StartsAt: now.AddDate(0, 0, 9), EndsAt: now.AddDate(0, 0, 9).Add(time.Hour),
		},
		{
			Kind: request.KindTour, Status: request.StatusCompleted, AdminNote: "Went ahead as planned.",
			Activity: "Rare books tour", Participants: 6,
			StartsAt: now.AddDate(0, 0, -14), EndsAt: now.AddDate(0, 0, -14).Add(time.Hour),
		},
	}
	for _, rec := range samples {
		rec.ID = uuid.New().String()
		rec.OwnerUserID = member.ID
		rec.CreatedAt = now
		if err := store.SaveRequest(ctx, rec); err != nil {
			return fmt.Errorf("seed request: %w", err)
		}
	}

	slog.Info("seed_event", "event", "database_seeded", "admin_email", adminEmail, "sample_requests", len(samples))
	return nil
}
