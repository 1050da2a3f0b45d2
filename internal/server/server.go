// Package server wires the engine together and serves the JSON API.
//
// This is the composition root: every channel adapter, the replicator, the
// stores, the bus, and the background loops are created here, in one place,
// and handed down as explicit dependencies. Nothing below this package
// reaches for globals.
//
// CHANNEL PRIORITY ORDER (fixed, part of the compatibility contract):
//  1. sqlite   — primary durable store (also backs the cookie jar, the
//     mirror outbox, and the leaderboard snapshot)
//  2. file     — secondary durable snapshot store
//  3. memory   — in-memory shared object
//  4. redis    — mirror durable store (optional, skipped when unconfigured)
//  5. cookies  — per-user reduced records, with the recency override
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"

	"github.com/sakif/rewards-engine/internal/auth"
	"github.com/sakif/rewards-engine/internal/channel"
	"github.com/sakif/rewards-engine/internal/channel/redisstore"
	sqlitestore "github.com/sakif/rewards-engine/internal/channel/sqlite"
	"github.com/sakif/rewards-engine/internal/crosstab"
	"github.com/sakif/rewards-engine/internal/handler"
	"github.com/sakif/rewards-engine/internal/leaderboard"
	"github.com/sakif/rewards-engine/internal/lifecycle"
	"github.com/sakif/rewards-engine/internal/middleware"
	"github.com/sakif/rewards-engine/internal/mirror"
	"github.com/sakif/rewards-engine/internal/model"
	"github.com/sakif/rewards-engine/internal/notify"
	"github.com/sakif/rewards-engine/internal/replicate"
	"github.com/sakif/rewards-engine/internal/service"
	"github.com/sakif/rewards-engine/internal/session"
)

// Config holds everything the engine needs to start.
type Config struct {
	Port         int
	DBPath       string // primary channel (sqlite)
	SnapshotPath string // secondary channel (JSON file)

	// Redis is optional. When Addr is empty the mirror channel is skipped
	// and cross-instance notifications stay in-process.
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisNamespace string

	// MirrorBaseURL enables the remote ledger mirror; empty disables it.
	MirrorBaseURL       string
	MirrorFlushInterval time.Duration

	JWTSecret string

	// OperatorEmail gets a forced admin rank via the role table.
	OperatorEmail string
	// SeedEmails default to unverified during leaderboard normalization.
	SeedEmails []string

	// BusChannel names the Redis pub/sub channel for storage events.
	BusChannel string

	// HardReloadPath is the one route that forces a full page reload
	// instead of a soft transition.
	HardReloadPath string
}

// Server owns the HTTP surface and every long-lived engine resource.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger

	db          *sqlitestore.Store
	redisClient *redis.Client // nil when Redis is unconfigured
	svc         *service.RewardsService
	sync        *crosstab.Sync
	flusher     *mirror.Flusher // nil when mirroring is disabled
	machine     *lifecycle.Machine
}

// New assembles the full dependency graph.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	if cfg.BusChannel == "" {
		cfg.BusChannel = "rewards:storage-events"
	}

	db, err := sqlitestore.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening primary store: %w", err)
	}

	fileStore := channel.NewFileStore(cfg.SnapshotPath)
	memStore := channel.NewMemoryStore()
	jar := channel.NewJar(db)

	// origin distinguishes this engine instance on the bus so it never
	// reacts to its own writes.
	origin := xid.New().String()

	var redisClient *redis.Client
	var bus notify.Bus
	var channels []replicate.Channel

	channels = append(channels,
		replicate.Channel{RegistryChannel: channel.KVRegistry(db, model.KeyRegistry), Policy: replicate.FirstWins},
		replicate.Channel{RegistryChannel: channel.KVRegistry(fileStore, model.KeyRegistry), Policy: replicate.FirstWins},
		replicate.Channel{RegistryChannel: channel.KVRegistry(memStore, model.KeyRegistry), Policy: replicate.FirstWins},
	)

	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			// A missing mirror store is a degraded start, not a failed one —
			// the channel contract treats unavailable channels as empty.
			logger.Warn("redis unreachable, mirror channel disabled",
				slog.String("addr", cfg.RedisAddr),
				slog.String("error", err.Error()),
			)
			redisClient.Close()
			redisClient = nil
		}
	}

	if redisClient != nil {
		mirrorStore := redisstore.NewWithClient(redisClient, cfg.RedisNamespace)
		channels = append(channels,
			replicate.Channel{RegistryChannel: channel.KVRegistry(mirrorStore, model.KeyRegistry), Policy: replicate.FirstWins},
		)
		bus = notify.NewRedisBus(redisClient, cfg.BusChannel, logger)
	} else {
		bus = notify.NewMemoryBus()
	}

	// Cookies come last in priority but carry the recency override: a
	// cookie with a strictly newer lastLogin beats every earlier channel.
	channels = append(channels,
		replicate.Channel{RegistryChannel: jar, Policy: replicate.PreferNewerLogin},
	)

	replicator := replicate.New(channels, bus, origin, logger)

	roles := session.RoleTable{}
	if cfg.OperatorEmail != "" {
		roles[model.NormalizeEmail(cfg.OperatorEmail)] = model.RankAdmin
	}
	sessions := session.NewStore(db, jar, roles, bus, origin, logger)

	board := leaderboard.NewAggregator(db, cfg.SeedEmails, bus, origin, logger)

	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		db.Close()
		return nil, err
	}
	passwords := auth.NewPasswordService()

	var outbox *mirror.Outbox
	var flusher *mirror.Flusher
	if cfg.MirrorBaseURL != "" {
		outbox, err = mirror.NewOutbox(db, logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating mirror outbox: %w", err)
		}
		flusher = mirror.NewFlusher(outbox, mirror.NewHTTPClient(cfg.MirrorBaseURL), cfg.MirrorFlushInterval, logger)
	} else {
		logger.Warn("MIRROR_BASE_URL not set — remote ledger mirroring is disabled")
	}

	svc := service.NewRewardsService(db, sessions, replicator, board, outbox, jar, tokens, passwords, logger)

	if cfg.HardReloadPath == "" {
		cfg.HardReloadPath = "/events"
	}
	// Once the settle delay elapses the leaderboard cache is warmed, so the
	// first render after Ready never races a cold rebuild.
	machine := lifecycle.New(lifecycle.Config{HardReloadPath: cfg.HardReloadPath}, func() {
		svc.RefreshLeaderboard(context.Background())
	})

	s := &Server{
		router:      chi.NewRouter(),
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		svc:         svc,
		sync:        crosstab.New(bus, origin, svc, logger),
		flusher:     flusher,
		machine:     machine,
	}
	s.setupRoutes(tokens)
	return s, nil
}

func (s *Server) setupRoutes(tokens *auth.TokenService) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	h := handler.NewRewardsHandler(s.svc, s.logger)
	sys := handler.NewSystemHandler(s.svc, s.machine, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", sys.HandleHealth)
		r.Post("/navigate", sys.HandleNavigate)
		r.Get("/livestream", sys.HandleLivestreamGet)
		r.Put("/livestream", sys.HandleLivestreamPut)

		r.Post("/register", h.HandleRegister)
		r.Post("/login", h.HandleLogin)
		r.Post("/logout", h.HandleLogout)

		r.With(auth.OptionalAuth(tokens)).Get("/leaderboard", h.HandleLeaderboard)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/me", h.HandleMe)
			r.Post("/points", h.HandlePoints)
			r.Put("/profile", h.HandleProfile)
		})
	})
}

// Start runs the HTTP server, the cross-instance sync loop, and the mirror
// flusher until a shutdown signal arrives, then stops everything in order:
// HTTP first (in-flight requests finish), background loops next, storage
// handles last.
func (s *Server) Start() error {
	defer s.db.Close()
	if s.redisClient != nil {
		defer s.redisClient.Close()
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	go s.sync.Run(bgCtx)
	if s.flusher != nil {
		go s.flusher.Run(bgCtx)
	}
	go func() {
		if err := s.machine.Mount(bgCtx); err != nil {
			s.logger.Warn("settle interrupted", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("engine starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
			slog.Bool("redis", s.redisClient != nil),
			slog.Bool("mirror", s.flusher != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
