// Package config loads configuration from environment variables into
// env-tagged structs.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Portal configures the client core and CLI.
type Portal struct {
	GatewayURL     string        `env:"LIBRES_GATEWAY_URL" envDefault:"http://localhost:8585"`
	TokenDB        string        `env:"LIBRES_TOKEN_DB" envDefault:"libres.db"`
	SearchDebounce time.Duration `env:"LIBRES_SEARCH_DEBOUNCE" envDefault:"400ms"`
	PageSize       int           `env:"LIBRES_PAGE_SIZE" envDefault:"20"`
}

// DevGateway configures the local stand-in for the remote resource
// gateway.
type DevGateway struct {
	Addr          string `env:"LIBRES_GATEWAY_ADDR" envDefault:":8585"`
	DB            string `env:"LIBRES_GATEWAY_DB" envDefault:"devgateway.db"`
	JWTSecret     string `env:"LIBRES_JWT_SECRET" envDefault:"dev-only-secret"`
	BaseURL       string `env:"LIBRES_GATEWAY_BASE_URL" envDefault:"http://localhost:8585"`
	ResendAPIKey  string `env:"LIBRES_RESEND_API_KEY"`
	EmailFrom     string `env:"LIBRES_EMAIL_FROM" envDefault:"Perpustakaan <noreply@libres.example>"`
	AdminEmail    string `env:"LIBRES_ADMIN_EMAIL" envDefault:"admin@libres.example"`
	AdminPassword string `env:"LIBRES_ADMIN_PASSWORD" envDefault:"admin-rahasia-123"`
}

// LoadPortal reads portal configuration from the environment.
func LoadPortal() (Portal, error) {
	var cfg Portal
	if err := env.Parse(&cfg); err != nil {
		return Portal{}, fmt.Errorf("parse portal env: %w", err)
	}
	return cfg, nil
}

// LoadDevGateway reads dev gateway configuration from the environment.
func LoadDevGateway() (DevGateway, error) {
	var cfg DevGateway
	if err := env.Parse(&cfg); err != nil {
		return DevGateway{}, fmt.Errorf("parse dev gateway env: %w", err)
	}
	return cfg, nil
}
