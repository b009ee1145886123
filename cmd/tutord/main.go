package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edgelearn/lti-tutor/internal/ags"
	"github.com/edgelearn/lti-tutor/internal/analytics"
	api "github.com/edgelearn/lti-tutor/internal/api/http"
	"github.com/edgelearn/lti-tutor/internal/auth"
	"github.com/edgelearn/lti-tutor/internal/config"
	"github.com/edgelearn/lti-tutor/internal/db"
	"github.com/edgelearn/lti-tutor/internal/docs"
	"github.com/edgelearn/lti-tutor/internal/keys"
	"github.com/edgelearn/lti-tutor/internal/logging"
	"github.com/edgelearn/lti-tutor/internal/lti"
	"github.com/edgelearn/lti-tutor/internal/metrics"
	"github.com/edgelearn/lti-tutor/internal/resource"
	"github.com/edgelearn/lti-tutor/internal/session"
	"github.com/edgelearn/lti-tutor/internal/storage"
	"github.com/edgelearn/lti-tutor/internal/tutor"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	log, err := logging.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("exit", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		return err
	}
	defer database.Close()

	key, err := keys.LoadOrGenerate(cfg.PrivateKeyPath, cfg.PublicKeyPath)
	if err != nil {
		return err
	}

	var (
		sessions session.Store
		replay   lti.Replay
		states   lti.StateStore
	)
	if cfg.SessionDriver == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		sessions = session.NewRedisStore(rdb, cfg.SessionTTL)
		replay = lti.NewRedisReplay(rdb)
		states = lti.NewRedisStateStore(rdb)
		log.Info("sessions on redis", zap.String("addr", cfg.RedisAddr))
	} else {
		sessions = session.NewMemoryStore(cfg.SessionTTL)
		replay = lti.NewInMemoryReplay()
		states = lti.NewInMemoryStateStore()
	}

	provider, err := tutor.NewProvider(cfg)
	if err != nil {
		return err
	}
	log.Info("model backend", zap.String("provider", provider.Name()))

	blobs, err := storage.NewFSStore(cfg.UploadDir)
	if err != nil {
		return err
	}
	docStore := docs.NewStore(database, blobs)
	tutorStore := tutor.NewStore(database)
	memory := tutor.NewMemoryStore(database)
	analyticsSvc := analytics.NewService(analytics.NewStore(database), cfg.MasteryThreshold)

	server := &api.Server{
		Cfg:      cfg,
		Log:      log,
		Sessions: sessions,
		Login: &lti.Login{
			AuthURL:  cfg.AuthURL,
			ClientID: cfg.ClientID,
			ToolURL:  cfg.ToolURL,
			States:   states,
		},
		Validator: &lti.Validator{
			Issuer:       cfg.Issuer,
			ClientID:     cfg.ClientID,
			DeploymentID: cfg.DeploymentID,
			Keys:         lti.NewKeysetCache(cfg.JWKSURL),
			Replay:       replay,
		},
		States: states,
		Key:    key,
		Gate: auth.DevGate{
			Enabled:    cfg.EnableDevLaunch,
			SecretHash: cfg.DevLaunchSecretHash,
		},
		AGS:        ags.NewClient(cfg.TokenURL, cfg.ClientID, key),
		Resources:  resource.NewStore(database),
		TutorStore: tutorStore,
		Memory:     memory,
		Analytics:  analyticsSvc,
		Docs:       docStore,
		Tutor: &tutor.Service{
			Provider:  provider,
			Store:     tutorStore,
			Memory:    memory,
			Retriever: docs.NewRetriever(docStore),
			Analytics: analyticsSvc,
			Log:       log,
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", metrics.Handler())
	server.Routes(r)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.Env))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
