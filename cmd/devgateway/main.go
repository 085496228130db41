// Command devgateway runs the local resource gateway the portal client
// talks to: SQLite-backed accounts and requests, JWT bearer sessions,
// email verification and password reset flows, and a Prometheus /metrics
// endpoint.
package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"

	_ "modernc.org/sqlite"

	"libres/internal/adapters/devgateway"
	emailPkg "libres/internal/adapters/email"
	"libres/internal/config"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.LoadDevGateway()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// WAL mode, foreign keys and a busy timeout keep concurrent handler
	// writes from tripping over each other.
	dsn := cfg.DB + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)

	if err := db.Ping(); err != nil {
		log.Fatalf("database unreachable: %v", err)
	}

	store, err := devgateway.NewStore(db)
	if err != nil {
		log.Fatalf("failed to initialize store: %v", err)
	}

	if err := devgateway.Seed(context.Background(), store, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		log.Fatalf("failed to seed database: %v", err)
	}

	var sender emailPkg.Sender
	if cfg.ResendAPIKey != "" {
		sender = emailPkg.NewResendSender(cfg.ResendAPIKey, cfg.EmailFrom)
		slog.Info("gateway_event", "event", "email_configured", "sender", "resend")
	} else {
		sender = emailPkg.NewNoopSender()
		slog.Info("gateway_event", "event", "email_configured", "sender", "noop",
			"hint", "set LIBRES_RESEND_API_KEY for real delivery; verification links are logged instead")
	}

	srv := devgateway.NewServer(devgateway.Options{
		Store:     store,
		Sender:    sender,
		JWTSecret: cfg.JWTSecret,
		BaseURL:   cfg.BaseURL,
		EmailFrom: cfg.EmailFrom,
	})

	slog.Info("gateway_event", "event", "starting", "version", version, "addr", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, srv); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
