package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"edudesk.io/internal/auth"
	"edudesk.io/internal/config"
	"edudesk.io/internal/grpcapi"
	"edudesk.io/internal/httpapi"
	"edudesk.io/internal/notify"
	"edudesk.io/internal/obs"
	"edudesk.io/internal/school"
	"edudesk.io/internal/store/pg"
	"edudesk.io/internal/sweeper"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// store is what the service needs from persistence.
type store interface {
	auth.Repository
	auth.ProvisionStore
	sweeper.TicketStore
	school.Store
}

// memoryStore joins the in-process principal and school stores for local runs.
type memoryStore struct {
	*auth.MemoryStore
	schools *school.MemoryStore
}

func (m memoryStore) InsertSchool(ctx context.Context, s school.School) (*school.School, error) {
	return m.schools.InsertSchool(ctx, s)
}

func (m memoryStore) ListSchools(ctx context.Context) ([]school.School, error) {
	return m.schools.ListSchools(ctx)
}

func (m memoryStore) GetSchool(ctx context.Context, id string) (*school.School, error) {
	return m.schools.GetSchool(ctx, id)
}

func (m memoryStore) FindSchoolByRegistration(ctx context.Context, reg string) (*school.School, error) {
	return m.schools.FindSchoolByRegistration(ctx, reg)
}

func (m memoryStore) UpdateSchool(ctx context.Context, s school.School) (*school.School, error) {
	return m.schools.UpdateSchool(ctx, s)
}

func (m memoryStore) DeleteSchool(ctx context.Context, id string, at time.Time) error {
	return m.schools.DeleteSchool(ctx, id, at)
}

func main() {
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the environment")
	configFile := flag.String("config", "", "optional YAML/JSON/TOML config file")
	flag.Parse()

	log := obs.Logger()

	cfg, err := config.Load(config.WithEnvFile(*envFile), config.WithConfigFile(*configFile))
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if err := obs.SetLevel(cfg.LogLevel); err != nil {
		log.Fatal().Err(err).Str("log_level", cfg.LogLevel).Msg("config")
	}
	// Инициализация observability (регистрация метрик, build info)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx := context.Background()
	checks := map[string]httpapi.Pinger{}

	// Хранилище: PostgreSQL, либо in-memory для локальной разработки
	var repo store
	if cfg.PGDSN != "" {
		db, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open postgres")
		}
		defer db.Close()
		repo = db
		checks["postgres"] = db
	} else {
		log.Warn().Msg("EDUDESK_PG_DSN not set; using in-memory store")
		repo = memoryStore{MemoryStore: auth.NewMemoryStore(), schools: school.NewMemoryStore()}
	}

	if cfg.BootstrapEmail != "" {
		prov, err := auth.NewProvisioner(repo, auth.NewBcryptHasher())
		if err != nil {
			log.Fatal().Err(err).Msg("provisioner")
		}
		created, err := prov.Bootstrap(ctx, cfg.BootstrapEmail, cfg.BootstrapName, cfg.BootstrapPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("bootstrap account")
		}
		log.Info().Str("email", auth.NormalizeEmail(cfg.BootstrapEmail)).Bool("created", created).Msg("bootstrap account ready")
	}

	// Очередь писем: Redis, либо лог
	var transport notify.Transport = notify.LogTransport{}
	if cfg.RedisAddr != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := notify.DialRedis(dialCtx, cfg.RedisAddr)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("redis")
		}
		defer client.Close()
		queue, err := notify.NewRedisQueue(client, cfg.MailQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("redis queue")
		}
		transport = queue
		checks["redis"] = queue
	} else {
		log.Warn().Msg("EDUDESK_REDIS_ADDR not set; notifications are logged only")
	}
	sink, err := notify.NewSink(transport)
	if err != nil {
		log.Fatal().Err(err).Msg("notify sink")
	}

	tokens, err := auth.NewTokenIssuer(cfg.TokenConfig(), nil)
	if err != nil {
		log.Fatal().Err(err).Msg("token issuer")
	}
	svc, err := auth.NewService(repo, tokens)
	if err != nil {
		log.Fatal().Err(err).Msg("auth service")
	}
	resets, err := auth.NewResetCoordinator(repo, sink, cfg.ResetConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("reset coordinator")
	}

	schoolSvc, err := school.NewService(repo)
	if err != nil {
		log.Fatal().Err(err).Msg("school service")
	}
	trusted, err := httpapi.ParseTrustedProxies(cfg.TrustedProxyList())
	if err != nil {
		log.Fatal().Err(err).Msg("trusted proxies")
	}

	probe := httpapi.ReadyProbe{Checks: checks}
	api, err := httpapi.New(svc, resets, schoolSvc, probe, httpapi.Options{
		Version:        version,
		RateBurst:      cfg.RateBurst,
		RatePerSec:     cfg.RatePerSec,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		AllowedOrigins: cfg.AllowedOrigins(),
		TrustedProxies: trusted,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("http api")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpcapi.NewServer(probe)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("grpc listen")
	}

	sweep, err := sweeper.New(repo, cfg.SweepSchedule)
	if err != nil {
		log.Fatal().Err(err).Msg("sweeper")
	}
	sweep.Start()

	log.Info().
		Str("version", version).
		Str("http_addr", srv.Addr).
		Str("grpc_addr", cfg.GRPCAddr).
		Str("sweep_schedule", cfg.SweepSchedule).
		Dur("token_ttl", tokens.TTL()).
		Msg("starting edudesk-identity")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http listen")
		}
	}()
	go func() {
		if err := grpcSrv.Serve(grpcLis); err != nil {
			log.Error().Err(err).Msg("grpc serve")
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	<-sweep.Stop().Done()
	grpcSrv.GracefulStop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	log.Info().Msg("stopped")
}
