// Package app wires the stores, token services, gates and handlers from Config.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	accountdomain "jauth/internal/account/domain"
	accountrepo "jauth/internal/account/repository"
	"jauth/internal/audit"
	auditrepo "jauth/internal/audit/repository"
	"jauth/internal/authgate"
	"jauth/internal/config"
	healthhandler "jauth/internal/health/handler"
	identityhandler "jauth/internal/identity/handler"
	identityservice "jauth/internal/identity/service"
	"jauth/internal/keystore"
	keyrepo "jauth/internal/keystore/repository"
	"jauth/internal/principal"
	projectrepo "jauth/internal/project/repository"
	"jauth/internal/security"
	"jauth/internal/session"
	sessionrepo "jauth/internal/session/repository"
	"jauth/internal/token"
	userdomain "jauth/internal/user/domain"
	userrepo "jauth/internal/user/repository"
)

// keygenQueue is the number of project keypairs that may wait for a generator worker.
const keygenQueue = 256

// App is the wired service graph. Close releases the background key generator.
type App struct {
	KeyStore     *keystore.KeyStore
	KeyGen       *keystore.Generator
	AccountStore *session.Store
	UserStore    *session.Store
	AccountAuth  *token.Service[*accountdomain.Account]
	UserAuth     *token.Service[*userdomain.User]
	AccountGate  *authgate.Gate[*accountdomain.Account]
	UserGate     *authgate.Gate[*userdomain.User]
	Auth         *identityservice.AuthService
	Handler      *identityhandler.Handler
	Health       *healthhandler.Server

	projects projectLister
}

type projectLister interface {
	ListIDs(ctx context.Context) ([]string, error)
}

// Telemetry carries the providers the token services record to; nil fields use the globals.
type Telemetry struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// New builds the App over conn.
func New(cfg *config.Config, conn *sql.DB, tel Telemetry, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	master, err := cfg.MasterSecretBytes()
	if err != nil {
		return nil, err
	}
	sealer, err := security.NewSealer(master)
	if err != nil {
		return nil, fmt.Errorf("sealer: %w", err)
	}

	accounts := accountrepo.NewPostgresRepository(conn)
	users := userrepo.NewPostgresRepository(conn)
	projects := projectrepo.NewPostgresRepository(conn)

	ks := keystore.New(keyrepo.NewPostgresRepository(conn), sealer,
		keystore.Options{KeyBits: cfg.RSAKeyBits, Workers: cfg.KeygenWorkers}, logger)
	gen := keystore.NewGenerator(ks, cfg.KeygenWorkers, keygenQueue, logger)

	accountStore := session.NewStore(sessionrepo.NewPostgresRepository(conn, sessionrepo.AccountTables), cfg.SessionTTL(), logger)
	userStore := session.NewStore(sessionrepo.NewPostgresRepository(conn, sessionrepo.UserTables), cfg.SessionTTL(), logger)

	opts := token.Options{Logger: logger, TracerProvider: tel.TracerProvider, MeterProvider: tel.MeterProvider}
	accountAuth, err := token.NewService(tierConfig(cfg, principal.TierAccount), ks, accountStore, accountrepo.Principals(accounts), opts)
	if err != nil {
		gen.Close()
		return nil, fmt.Errorf("account token service: %w", err)
	}
	userAuth, err := token.NewService(tierConfig(cfg, principal.TierUser), ks, userStore, userrepo.Principals(users), opts)
	if err != nil {
		gen.Close()
		return nil, fmt.Errorf("user token service: %w", err)
	}

	cookies := authgate.CookieOptions{Secure: cfg.CookieSecure}
	accountGate := authgate.New[*accountdomain.Account](accountAuth, authgate.AccountCookies, cookies, logger)
	userGate := authgate.New[*userdomain.User](userAuth, authgate.UserCookies, cookies, logger)

	auth := identityservice.NewAuthService(identityservice.Deps{
		Accounts: accounts,
		Users:    users,
		Projects: projects,
		KeyGen:   gen,
		Keys:     ks,
		Account:  identityservice.Tier{Tokens: accountAuth, Sessions: accountStore},
		User:     identityservice.Tier{Tokens: userAuth, Sessions: userStore},
		Hasher:   security.NewHasher(cfg.BcryptCost),
		Audit:    audit.NewLogger(auditrepo.NewPostgresRepository(conn), logger),
		Logger:   logger,
	})

	return &App{
		KeyStore:     ks,
		KeyGen:       gen,
		AccountStore: accountStore,
		UserStore:    userStore,
		AccountAuth:  accountAuth,
		UserAuth:     userAuth,
		AccountGate:  accountGate,
		UserGate:     userGate,
		Auth:         auth,
		Handler:      identityhandler.New(auth, accountGate, userGate, projects, ks, logger),
		Health:       healthhandler.NewServer(conn, ks, logger),
		projects:     projects,
	}, nil
}

// EnsureKeys makes the account-tier keypair usable before any request is served, then generates
// the keypair of any project whose queued generation was lost.
func (a *App) EnsureKeys(ctx context.Context, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	outcome, err := a.KeyStore.EnsureAccountKey(ctx)
	if err != nil {
		return fmt.Errorf("account keypair: %w", err)
	}
	logger.InfoContext(ctx, "account keypair ready", "outcome", string(outcome))

	ids, err := a.projects.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}
	n, err := a.KeyStore.Backfill(ctx, ids)
	if err != nil {
		return fmt.Errorf("project keypairs: %w", err)
	}
	if n > 0 {
		logger.WarnContext(ctx, "generated missing project keypairs", "count", n)
	}
	return nil
}

// Close waits for queued key generation to finish.
func (a *App) Close() {
	a.KeyGen.Close()
}

func tierConfig(cfg *config.Config, tier principal.Tier) token.Config {
	return token.Config{
		Tier:       tier,
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.AccessTTL(),
		SessionTTL: cfg.SessionTTL(),
	}
}
