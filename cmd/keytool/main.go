// keytool maintains the keystore offline.
//
//	keytool ensure-account   create or heal the account-tier keypair
//	keytool regenerate-all   replace every project keypair; outstanding user tokens stop verifying
//	keytool generate -project ID
//	keytool backfill         create the keypair of every project that lacks one
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"jauth/internal/config"
	"jauth/internal/db"
	"jauth/internal/keystore"
	keyrepo "jauth/internal/keystore/repository"
	projectrepo "jauth/internal/project/repository"
	"jauth/internal/security"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: keytool ensure-account | regenerate-all | generate -project ID | backfill")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd, args := os.Args[1], os.Args[2:]

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatalf("config: DATABASE_URL is not set")
	}
	master, err := cfg.MasterSecretBytes()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	sealer, err := security.NewSealer(master)
	if err != nil {
		log.Fatalf("sealer: %v", err)
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ks := keystore.New(keyrepo.NewPostgresRepository(conn), sealer,
		keystore.Options{KeyBits: cfg.RSAKeyBits, Workers: cfg.KeygenWorkers}, logger)

	switch cmd {
	case "ensure-account":
		outcome, err := ks.EnsureAccountKey(ctx)
		if err != nil {
			log.Fatalf("ensure-account: %v", err)
		}
		fmt.Println(outcome)
	case "regenerate-all":
		if err := ks.RegenerateAll(ctx); err != nil {
			log.Fatalf("regenerate-all: %v", err)
		}
	case "generate":
		fs := flag.NewFlagSet("generate", flag.ExitOnError)
		project := fs.String("project", "", "project id")
		_ = fs.Parse(args)
		if *project == "" {
			usage()
		}
		if err := ks.Generate(ctx, *project); err != nil {
			log.Fatalf("generate: %v", err)
		}
	case "backfill":
		ids, err := projectrepo.NewPostgresRepository(conn).ListIDs(ctx)
		if err != nil {
			log.Fatalf("backfill: listing projects: %v", err)
		}
		n, err := ks.Backfill(ctx, ids)
		if err != nil {
			log.Fatalf("backfill: %v", err)
		}
		fmt.Printf("generated %d keypairs\n", n)
	default:
		usage()
	}
}
