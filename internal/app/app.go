package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-backend/internal/auth"
	"marketplace-backend/internal/clock"
	"marketplace-backend/internal/config"
	"marketplace-backend/internal/db"
	"marketplace-backend/internal/handlers"
	"marketplace-backend/internal/models"
	"marketplace-backend/internal/notify"
	"marketplace-backend/internal/ratelimit"
	"marketplace-backend/internal/services"
	"marketplace-backend/internal/store"
	"marketplace-backend/internal/store/memory"
	"marketplace-backend/internal/store/postgres"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// NewLogger builds the zap logger described by cfg.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

// Server is the assembled HTTP application and everything it owns.
type Server struct {
	App    *fiber.App
	Hub    *handlers.Hub
	log    *zap.Logger
	closer []func()
}

// New wires storage, rate limiting, notification and the HTTP routes.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	s := &Server{log: log}
	clk := clock.Real()

	var (
		st   store.Store
		pool *pgxpool.Pool
	)
	switch cfg.Store {
	case "postgres":
		p, err := db.Connect(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		s.closer = append(s.closer, p.Close)
		if err := db.Migrate(ctx, p); err != nil {
			s.Close()
			return nil, err
		}
		pool, st = p, postgres.New(p)
	default:
		log.Warn("using in-memory store, data is lost on restart")
		mem := memory.New(clk)
		for _, l := range cfg.Listings {
			mem.AddListing(models.Listing{ID: l.ID, OwnerUsername: l.Owner})
		}
		if len(cfg.Listings) == 0 {
			log.Warn("in-memory store has no listings, every ping will be rejected")
		}
		st = mem
	}

	limiter, err := s.newLimiter(cfg.RateLimit, pool, clk)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Hub = handlers.NewHub(log)
	notifier := notify.Fanout{notify.NewLogger(log), s.Hub}
	if cfg.Notify.AMQPURL != "" {
		pub, err := notify.DialAMQP(cfg.Notify.AMQPURL, cfg.Notify.Exchange, log)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closer = append(s.closer, func() { _ = pub.Close() })
		notifier = append(notifier, pub)
	}

	validator := services.NewValidator(services.TextPolicy{
		MaxLength:      cfg.Messages.MaxLength,
		ForbiddenTerms: cfg.Messages.ForbiddenTerms,
	})
	authenticator := auth.NewAuthenticator(cfg.Server.JWTSecret, cfg.Server.JWTIssuer, cfg.Server.TokenTTL, cfg.Server.RefreshTTL)

	phones := services.NewPhoneService(st.Users(), st.Grants(), log)
	convs := services.NewConversationService(st.Conversations(), st.Messages(), log)
	pings := services.NewPingService(services.PingDeps{
		Pings:         st.Pings(),
		Listings:      st.Listings(),
		Users:         st.Users(),
		Conversations: convs,
		Phones:        phones,
		Limiter:       limiter,
		Validator:     validator,
		Notifier:      notifier,
		Clock:         clk,
		Logger:        log,
	})
	messages := services.NewMessageService(services.MessageDeps{
		Conversations: st.Conversations(),
		Messages:      st.Messages(),
		Limiter:       limiter,
		Validator:     validator,
		Notifier:      notifier,
		Clock:         clk,
		Logger:        log,
	})

	// Fiber App
	s.App = fiber.New(fiber.Config{DisableStartupMessage: !cfg.Log.Development})

	// Middleware
	s.App.Use(recover.New())
	s.App.Use(cors.New())
	s.App.Use(handlers.RequestLogger(log))

	handlers.Mount(s.App, handlers.Deps{
		Auth:          authenticator,
		Users:         services.NewUserService(st.Users(), authenticator, log),
		Pings:         pings,
		Conversations: convs,
		Messages:      messages,
		Phones:        phones,
		Hub:           s.Hub,
		Logger:        log,
	})
	return s, nil
}

func (s *Server) newLimiter(cfg config.RateLimitConfig, pool *pgxpool.Pool, clk clock.Clock) (*ratelimit.Limiter, error) {
	mode, err := ratelimit.ParseFailureMode(cfg.FailMode)
	if err != nil {
		return nil, err
	}

	var backend ratelimit.Store
	switch cfg.Backend {
	case "postgres":
		backend = ratelimit.NewPostgresStore(pool)
	case "redis":
		client, err := ratelimit.DialRedis(cfg.RedisAddr, cfg.RedisPoolSize)
		if err != nil {
			return nil, err
		}
		s.closer = append(s.closer, func() { _ = client.Close() })
		backend = ratelimit.NewRedisStore(client)
	default:
		backend = ratelimit.NewMemoryStore(clk)
	}

	s.log.Info("rate limiter ready",
		zap.String("backend", cfg.Backend),
		zap.String("fail_mode", string(mode)),
		zap.Int("ping_capacity", cfg.Ping.Capacity),
		zap.Duration("ping_window", cfg.Ping.Window),
		zap.Int("message_capacity", cfg.Message.Capacity),
		zap.Duration("message_window", cfg.Message.Window))
	return ratelimit.New(backend, ratelimit.Options{
		Policies: map[ratelimit.Action]ratelimit.Policy{
			ratelimit.ActionPing:    {Capacity: cfg.Ping.Capacity, Window: cfg.Ping.Window},
			ratelimit.ActionMessage: {Capacity: cfg.Message.Capacity, Window: cfg.Message.Window},
		},
		FailureMode: mode,
		Logger:      s.log,
	})
}

// Close releases backend connections in reverse order of acquisition.
func (s *Server) Close() {
	for i := len(s.closer) - 1; i >= 0; i-- {
		s.closer[i]()
	}
	s.closer = nil
}

// Run starts the server and blocks until SIGINT or SIGTERM.
func Run(cfg *config.Config) error {
	log, err := NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	srv, err := New(ctx, cfg, log)
	cancel()
	if err != nil {
		return err
	}
	defer srv.Close()

	// Start Server
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store))
		errc <- srv.App.Listen(":" + cfg.Server.Port)
	}()

	// Graceful Shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errc:
		return fmt.Errorf("listen: %w", err)
	case <-c:
	}
	log.Info("gracefully shutting down")
	if err := srv.App.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	log.Info("server shutdown complete")
	return nil
}
