// seed creates a development account, project and user for local testing.
// Idempotent: skips everything if the dev account already exists.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	accountrepo "jauth/internal/account/repository"
	"jauth/internal/app"
	"jauth/internal/config"
	"jauth/internal/db"
	"jauth/internal/identity/service"
)

const (
	devAccountEmail = "dev@example.com"
	devUserEmail    = "member@example.com"
	devPassword     = "Dev-Password-123"
	devProjectName  = "Acme Dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env or set DATABASE_URL")
	}
	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	existing, err := accountrepo.NewPostgresRepository(conn).GetByEmail(ctx, devAccountEmail)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Printf("Seed already applied (%s exists). Skipping.", devAccountEmail)
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	a, err := app.New(cfg, conn, app.Telemetry{}, logger)
	if err != nil {
		log.Fatalf("app: %v", err)
	}
	if err := a.EnsureKeys(ctx, logger); err != nil {
		log.Fatalf("keystore: %v", err)
	}

	acct, err := a.Auth.RegisterAccount(ctx, "Dev Account", devAccountEmail, devPassword, service.ClientInfo{UserAgent: "seed"})
	if err != nil {
		log.Fatalf("create dev account: %v", err)
	}
	project, err := a.Auth.CreateProject(ctx, acct.PrincipalID, devProjectName)
	if err != nil {
		log.Fatalf("create project: %v", err)
	}
	// Drain the generator so the project keypair exists before the user logs in.
	a.Close()

	if _, err := a.Auth.RegisterUser(ctx, project, "Member User", devUserEmail, devPassword, service.ClientInfo{UserAgent: "seed"}); err != nil {
		log.Fatalf("create dev user: %v", err)
	}

	log.Printf("Seeded account %s and user %s (password %s)", devAccountEmail, devUserEmail, devPassword)
	log.Printf("Project %q API key: %s", project.Name, project.APIKey)
}
