package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"edudesk.io/internal/auth"
	"edudesk.io/internal/config"
	"edudesk.io/internal/migrate"
	"edudesk.io/internal/obs"
	"edudesk.io/internal/store/pg"
)

const usage = `usage: migrate [flags] <command>

commands:
  up                 apply pending schema migrations
  down               roll back the latest migration
  seed               apply reference data (permissions, admin and platform roles)
  status             list applied migrations
  create-account     provision a principal (-kind, -email, -name, -password, -role, -school)
`

func main() {
	log := obs.Logger()
	var (
		dsn      = flag.String("dsn", os.Getenv(config.EnvPrefix+"_PG_DSN"), "PostgreSQL DSN")
		kind     = flag.String("kind", string(auth.KindSuper), "create-account: super or user")
		email    = flag.String("email", "", "create-account: email")
		name     = flag.String("name", "", "create-account: display name")
		password = flag.String("password", os.Getenv(config.EnvPrefix+"_BOOTSTRAP_PASSWORD"), "create-account: initial password")
		role     = flag.String("role", "", "create-account: role name")
		school   = flag.String("school", "", "create-account: school name (users only)")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *dsn == "" {
		log.Fatal().Msgf("missing DSN: provide via -dsn or %s_PG_DSN", config.EnvPrefix)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), pg.Migrations(), pg.Seeds())

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		if err == nil {
			log.Info().Strs("applied", applied).Msg("migrations up to date")
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			log.Info().Str("name", name).Msg("rolled back")
		}
	case "seed":
		var applied []string
		applied, err = mgr.Seed(ctx)
		if err == nil {
			log.Info().Strs("applied", applied).Msg("seeds up to date")
		}
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	case "create-account":
		var prov *auth.Provisioner
		prov, err = auth.NewProvisioner(store, auth.NewBcryptHasher())
		if err != nil {
			break
		}
		var p *auth.Principal
		p, err = prov.CreateAccount(ctx, auth.NewAccount{
			Kind:     auth.PrincipalKind(strings.TrimSpace(*kind)),
			Email:    *email,
			Name:     *name,
			Password: *password,
			Role:     *role,
			School:   *school,
		})
		if err == nil {
			log.Info().Str("id", p.ID).Str("kind", string(p.Kind)).Str("email", p.Email).Msg("account created")
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("migrate failed")
	}
}
